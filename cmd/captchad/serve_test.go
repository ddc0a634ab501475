package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluescreen10/captchax/internal/config"
	"github.com/bluescreen10/captchax/recaptcha"
	"github.com/bluescreen10/captchax/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifier func(ctx context.Context, token, remoteIP string) (*recaptcha.Result, error)

func (v verifier) Verify(ctx context.Context, token, remoteIP string) (*recaptcha.Result, error) {
	return v(ctx, token, remoteIP)
}

func newTestServer(t *testing.T, cfgs ...func(*config.Config)) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	c := config.Default()
	c.Secret = "secret"
	for _, cfg := range cfgs {
		cfg(c)
	}

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := openStore(context.Background(), "memory", "", time.Minute, log, stop)
	require.NoError(t, err)

	calls := &atomic.Int32{}
	v := verifier(func(_ context.Context, token, _ string) (*recaptcha.Result, error) {
		calls.Add(1)
		return &recaptcha.Result{Success: token == "good", ErrorCodes: []string{}}, nil
	})

	sessions := session.NewManager(store, session.WithLogger(log))
	srv := httptest.NewServer(newMux(c, v, sessions, log))
	t.Cleanup(srv.Close)
	return srv, calls
}

func get(t *testing.T, client *http.Client, url string) int {
	t.Helper()
	res, err := client.Get(url)
	require.NoError(t, err)
	res.Body.Close()
	return res.StatusCode
}

func TestServeRoutes(t *testing.T) {
	srv, calls := newTestServer(t)
	client := srv.Client()
	client.Jar = newJar(t)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/"))
	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/protected/"))
	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/protected/?response=bad"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/protected/?response=good"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/protected/page"))
	assert.EqualValues(t, 2, calls.Load())

	// /api/ keeps a lock of its own
	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/api/"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/api/?response=good"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/api/"))

	res, err := client.Post(srv.URL+"/logout", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)

	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/protected/"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/api/"))
}

func TestServeIndependentLock(t *testing.T) {
	tests := []struct {
		name        string
		independent bool
		account     int
	}{
		{name: "shared", independent: false, account: http.StatusOK},
		{name: "independent", independent: true, account: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newTestServer(t, func(c *config.Config) {
				c.IndependentLock = tt.independent
			})
			client := srv.Client()
			client.Jar = newJar(t)

			assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/protected/?response=good"))
			assert.Equal(t, tt.account, get(t, client, srv.URL+"/account/"))
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestServeLogoutRevokesEveryRoute(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.IndependentLock = true
	})
	client := srv.Client()
	client.Jar = newJar(t)
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/protected/?response=good"))
	assert.Equal(t, http.StatusOK, get(t, client, srv.URL+"/account/?response=good"))

	res, err := client.Post(srv.URL+"/logout", "", nil)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/protected/"))
	assert.Equal(t, http.StatusForbidden, get(t, client, srv.URL+"/account/"))
}

func TestRunReturnsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = run(ctx, srv, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ln.Addr().String())
	assert.NoError(t, ctx.Err())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, run(ctx, srv, log))
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := openStore(context.Background(), "etcd", "", time.Minute, log, make(chan struct{}))
	assert.Error(t, err)
}

func TestOpenStoreSQLite(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := openStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "sessions.db"), time.Minute, log, stop)
	require.NoError(t, err)
	defer store.close()

	exp := time.Now().Add(time.Hour)
	require.NoError(t, store.Set(context.Background(), "tok", []byte("data"), exp))
	data, ok, err := store.Get(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "data", string(data))
}

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func TestServeChallengePage(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := srv.Client().Get(srv.URL + "/protected/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Contains(t, string(body), `action="/protected/"`)
	assert.Contains(t, string(body), `name="response"`)
	assert.NotContains(t, string(body), "g-recaptcha")
}
