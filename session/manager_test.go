package session_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluescreen10/captchax/session"
	"github.com/google/uuid"
)

type mockstore struct {
	get    func(string) ([]byte, bool, error)
	set    func(string, []byte, time.Time) error
	delete func(string) error
}

func (s *mockstore) Get(_ context.Context, token string) ([]byte, bool, error) {
	return s.get(token)
}

func (s *mockstore) Set(_ context.Context, token string, data []byte, expiresAt time.Time) error {
	return s.set(token, data, expiresAt)
}

func (s *mockstore) Delete(_ context.Context, token string) error {
	return s.delete(token)
}

var _ session.Store = &mockstore{}

func TestCreateSession(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	passedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, nil
	}

	var storedData []byte
	store.set = func(token string, data []byte, _ time.Time) error {
		storedData = data
		return nil
	}

	h1 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		sess.SetTime("captcha:lock:session", passedAt)
	})

	r1 := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	w1 := httptest.NewRecorder()

	sm.Handler(h1).ServeHTTP(w1, r1)

	store.get = func(string) ([]byte, bool, error) {
		return storedData, true, nil
	}

	h2 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		got, ok := sess.GetTime("captcha:lock:session")
		if !ok || !got.Equal(passedAt) {
			t.Fatalf("expected value '%s' got '%s'", passedAt, got)
		}
	})

	r2 := httptest.NewRequest("GET", "/", &bytes.Buffer{})
	w2 := httptest.NewRecorder()
	cookie := w1.Result().Header.Get("Set-Cookie")

	r2.Header.Set("Cookie", cookie)
	sm.Handler(h2).ServeHTTP(w2, r2)
}

func TestSessionIDsAreRandom(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	ids := map[string]bool{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sm.Get(r).GetID()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("invalid session id '%s': %v", id, err)
		}
		if parsed.Version() != 4 {
			t.Fatalf("expected version 4 got %d", parsed.Version())
		}
		ids[id] = true
	})

	for range 2 {
		sm.Handler(h).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	}

	if len(ids) != 2 {
		t.Fatalf("expected 2 distinct ids got %d", len(ids))
	}
}

func TestCreateSessionWithCookie(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, nil
	}

	var storedData []byte
	store.set = func(token string, data []byte, _ time.Time) error {
		storedData = data
		return nil
	}

	h1 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		if _, ok := sess.GetTime("passed"); ok {
			t.Fatal("expected empty session")
		}
		sess.Set("user", "alice")
	})

	cookie := "session_id=abc123;"
	r1 := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	r1.Header.Set("Cookie", cookie)
	w1 := httptest.NewRecorder()

	sm.Handler(h1).ServeHTTP(w1, r1)

	store.get = func(string) ([]byte, bool, error) {
		return storedData, true, nil
	}

	h2 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		if v := sess.GetString("user"); v != "alice" {
			t.Fatalf("expected value 'alice' got '%s'", v)
		}
	})

	r2 := httptest.NewRequest("GET", "/", &bytes.Buffer{})
	w2 := httptest.NewRecorder()
	r2.Header.Set("Cookie", cookie)

	sm.Handler(h2).ServeHTTP(w2, r2)
}

func TestErrorLoadingSession(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, errors.New("test")
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	})

	r := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	r.Header.Set("Cookie", "session_id=abc123;")
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)

	if status := w.Result().StatusCode; status != http.StatusInternalServerError {
		t.Fatalf("expected status '500' got '%d'", status)
	}
}

func TestErrorSaveSession(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, nil
	}

	store.set = func(string, []byte, time.Time) error {
		return errors.New("test")
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		sess.Set("hello", "world")
		w.Write([]byte("hello world"))
	})

	r := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	r.Header.Set("Cookie", "session_id=abc123;")
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)

	if cookie := w.Result().Header.Get("Set-Cookie"); cookie != "" {
		t.Fatal("expected no cookie but got one")
	}
}

func TestDestroySession(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, nil
	}

	store.set = func(string, []byte, time.Time) error {
		t.Fatal("set called")
		return nil
	}

	var called bool
	store.delete = func(string) error {
		called = true
		return nil
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.Get(r).Destroy()
		w.Write([]byte("hello world"))
	})

	r := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)

	if !called {
		t.Fatal("expected delete to be called")
	}
}

func TestSessionIdleTimeout(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store, session.WithIdleTimeout(10*time.Minute))

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello world"))
	})

	r := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)

	cookie := w.Result().Cookies()[0]

	expected := time.Now().Add(11 * time.Minute)
	if !cookie.Expires.IsZero() && cookie.Expires.After(expected) {
		t.Fatalf("expected cookie expiration '%s' to be before '%s'", cookie.Expires.UTC(), expected.UTC())
	}
}

func TestJSONCodecKeepsTime(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store, session.WithCodec(session.JSONCodec{}))

	passedAt := time.Unix(0, 1714564800123456789)
	store.get = func(string) ([]byte, bool, error) {
		return []byte{}, false, nil
	}

	var storedData []byte
	store.set = func(_ string, data []byte, _ time.Time) error {
		storedData = data
		return nil
	}

	h1 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sm.Get(r).SetTime("passed", passedAt)
	})
	w1 := httptest.NewRecorder()
	sm.Handler(h1).ServeHTTP(w1, httptest.NewRequest("GET", "/", nil))

	store.get = func(string) ([]byte, bool, error) {
		return storedData, true, nil
	}

	h2 := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := sm.Get(r).GetTime("passed")
		if !ok || !got.Equal(passedAt) {
			t.Fatalf("expected value '%s' got '%s'", passedAt, got)
		}
	})
	r2 := httptest.NewRequest("GET", "/", nil)
	r2.Header.Set("Cookie", w1.Result().Header.Get("Set-Cookie"))
	sm.Handler(h2).ServeHTTP(httptest.NewRecorder(), r2)
}

func TestSessionValues(t *testing.T) {
	store := &mockstore{}
	sm := session.NewManager(store)

	store.set = func(string, []byte, time.Time) error {
		return nil
	}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sm.Get(r)
		if v := sess.Get("key"); v != nil {
			t.Fatalf("expected 'nil' got '%v'", v)
		}

		if _, ok := sess.GetTime("time"); ok {
			t.Fatal("expected no time")
		}

		if v := sess.GetString("string"); v != "" {
			t.Fatalf("expected '' got '%s'", v)
		}

		sess.Set("int", 1)
		sess.Set("string", "hello")
		sess.Set("bool", true)
		sess.SetTime("time", time.Unix(42, 0))

		if v := sess.GetInt("int"); v != 1 {
			t.Fatalf("expected '1' got '%d'", v)
		}

		if v := sess.GetString("string"); v != "hello" {
			t.Fatalf("expected 'hello' got '%s'", v)
		}

		if v, ok := sess.GetTime("time"); !ok || v.Unix() != 42 {
			t.Fatalf("expected '42' got '%d'", v.Unix())
		}

		sess.Delete("bool")
		if v := sess.GetBool("bool"); v != false {
			t.Fatalf("expected 'false' got '%v'", v)
		}

		if !sess.IsModified() {
			t.Fatal("expected session to be modified")
		}
	})

	r := httptest.NewRequest("POST", "/", &bytes.Buffer{})
	w := httptest.NewRecorder()

	sm.Handler(h).ServeHTTP(w, r)
}
