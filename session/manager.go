// Package session provides a middleware-based session management system
// for HTTP servers in Go. It supports cookie-based sessions, idle timeouts,
// configurable persistence, and pluggable serialization codecs. The captcha
// gate records its passes in these sessions.
//
// Usage:
//
//	package main
//
//	import (
//	    "net/http"
//	    "time"
//
//	    "github.com/bluescreen10/captchax/memstore"
//	    "github.com/bluescreen10/captchax/session"
//	)
//
//	func main() {
//	    store := memstore.New()
//	    mgr := session.NewManager(store,
//	        session.WithName("my_session"),
//	        session.WithLifetime(2*time.Hour),
//	    )
//
//	    mux := http.NewServeMux()
//	    mux.Handle("/", mgr.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        sess := mgr.Get(r)
//	        sess.SetTime("last_seen", time.Now())
//	    })))
//
//	    http.ListenAndServe(":8080", mux)
//	}
//
// designed heavily inspired by: https://github.com/alexedwards/scs
package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to intercept writes
// and ensure the session is saved before any headers or body are written.
type responseWriter struct {
	http.ResponseWriter
	ctx       context.Context
	mngr      *Manager
	sess      *Session
	isWritten bool
}

// Write saves the session before writing the response body if it hasn't
// already been saved.
func (w *responseWriter) Write(b []byte) (int, error) {
	w.saveOnce()
	return w.ResponseWriter.Write(b)
}

// WriteHeader saves the session before writing the response headers
// if it hasn't already been saved.
func (w *responseWriter) WriteHeader(statusCode int) {
	w.saveOnce()
	w.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap exposes the wrapped writer to http.ResponseController and to
// middlewares looking for optional interfaces further down the chain.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriter) saveOnce() {
	if w.isWritten {
		return
	}
	w.isWritten = true
	if err := w.mngr.save(w.ctx, w.ResponseWriter, w.sess); err != nil {
		w.mngr.logger.ErrorContext(w.ctx, "failed to save session", "err", err)
	}
}

type contextKey struct {
	name string
}

// Manager manages HTTP sessions using a Store backend and session options.
type Manager struct {
	store             Store
	lifetime          time.Duration
	idleTimeout       time.Duration
	codec             Codec
	logger            *slog.Logger
	cookieName        string
	cookiePath        string
	cookieDomain      string
	cookieSecure      bool
	cookieHttpOnly    bool
	cookiePartitioned bool
	cookieSameSite    http.SameSite
	cookiePersisted   bool
	key               *contextKey
}

type config func(*Manager)

// WithLifetime sets the lifetime of the session. (default 24hr.)
func WithLifetime(lifetime time.Duration) config {
	return config(func(m *Manager) {
		m.lifetime = lifetime
	})
}

// WithIdleTimeout sets the idle timeout for the session. (default no timeout.)
func WithIdleTimeout(timeout time.Duration) config {
	return config(func(m *Manager) {
		m.idleTimeout = timeout
	})
}

// WithName sets the cookie name for the session. (default "session_id".)
func WithName(name string) config {
	return config(func(m *Manager) {
		m.cookieName = name
	})
}

// WithPath sets the cookie path. (default "/".)
func WithPath(path string) config {
	return config(func(m *Manager) {
		m.cookiePath = path
	})
}

// WithDomain sets the cookie domain. (default "".)
func WithDomain(domain string) config {
	return config(func(m *Manager) {
		m.cookieDomain = domain
	})
}

// WithSecure sets the Secure flag on the cookie. (default false)
func WithSecure(secure bool) config {
	return config(func(m *Manager) {
		m.cookieSecure = secure
	})
}

// WithHttpOnly sets the HttpOnly flag on the cookie. (default true)
func WithHttpOnly(httpOnly bool) config {
	return config(func(m *Manager) {
		m.cookieHttpOnly = httpOnly
	})
}

// WithPartitioned sets the Partitioned flag on the cookie. (default false)
func WithPartitioned(partitioned bool) config {
	return config(func(m *Manager) {
		m.cookiePartitioned = partitioned
	})
}

// WithSameSite sets the SameSite policy for the cookie. (default Lax)
func WithSameSite(sameSite http.SameSite) config {
	return config(func(m *Manager) {
		m.cookieSameSite = sameSite
	})
}

// WithPersisted sets whether the cookie is persisted. (default true)
func WithPersisted(persisted bool) config {
	return config(func(m *Manager) {
		m.cookiePersisted = persisted
	})
}

// WithCodec sets the serialization used for stored sessions. (default GobCodec)
func WithCodec(codec Codec) config {
	return config(func(m *Manager) {
		m.codec = codec
	})
}

// WithLogger sets the logger used to report save failures, which happen
// after the handler has started writing and can't change the response.
func WithLogger(logger *slog.Logger) config {
	return config(func(m *Manager) {
		m.logger = logger
	})
}

// Handler wraps an http.Handler and provides load-and-save session functionality.
// It ensures that the session is loaded from the store and saved after the request.
func (m *Manager) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Cookie")

		var token string
		cookie, err := r.Cookie(m.cookieName)
		if err == nil {
			token = cookie.Value
		}

		ctx := r.Context()
		sess, err := m.load(ctx, token)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to load session", "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		sr := r.WithContext(context.WithValue(ctx, m.key, sess))
		sw := &responseWriter{ResponseWriter: w, ctx: ctx, mngr: m, sess: sess}
		next.ServeHTTP(sw, sr)
		sw.saveOnce()
	})
}

// Get retrieves the current session from the request context. It always
// returns a valid session object, never nil. Outside of Handler the
// returned session is never persisted.
func (m *Manager) Get(r *http.Request) *Session {
	sess, ok := r.Context().Value(m.key).(*Session)
	if !ok {
		return newSession()
	}
	return sess
}

// load retrieves a session from the store by token. If the token is empty
// or the session is not found, a new session is created.
func (m *Manager) load(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return newSession(), nil
	}

	data, found, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	if !found {
		return newSession(), nil
	}

	createdAt, values, err := m.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]any)
	}

	return &Session{id: token, createdAt: createdAt, values: values}, nil
}

// save persists the session to the store and updates the HTTP cookie.
// Destroyed sessions are deleted from the store and expired cookies are set.
func (m *Manager) save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess.isDestroyed {
		if err := m.store.Delete(ctx, sess.id); err != nil {
			return err
		}
		m.writeCookie(w, sess.id, time.Time{})
		return nil
	}

	expiresAt := sess.createdAt.Add(m.lifetime)

	if sess.isModified {
		data, err := m.codec.Encode(sess.createdAt, sess.values)
		if err != nil {
			return err
		}
		if err := m.store.Set(ctx, sess.id, data, expiresAt); err != nil {
			return err
		}
		sess.isModified = false
	}

	if m.idleTimeout > 0 {
		idleExpires := time.Now().Add(m.idleTimeout)
		if idleExpires.Before(expiresAt) {
			expiresAt = idleExpires
		}
	}
	m.writeCookie(w, sess.id, expiresAt)
	return nil
}

// writeCookie sets or expires the session cookie on the HTTP response.
func (m *Manager) writeCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	cookie := &http.Cookie{
		Value:       token,
		Name:        m.cookieName,
		Domain:      m.cookieDomain,
		HttpOnly:    m.cookieHttpOnly,
		Path:        m.cookiePath,
		SameSite:    m.cookieSameSite,
		Secure:      m.cookieSecure,
		Partitioned: m.cookiePartitioned,
	}

	if expiresAt.IsZero() {
		cookie.Expires = time.Unix(1, 0)
		cookie.MaxAge = -1
	} else if m.cookiePersisted {
		cookie.Expires = time.Unix(expiresAt.Unix()+1, 0)
		cookie.MaxAge = int(time.Until(expiresAt).Seconds() + 1)
	}

	http.SetCookie(w, cookie)
}

// NewManager creates a new session Manager with a Store and optional configuration.
func NewManager(store Store, cfgs ...config) *Manager {
	mngr := &Manager{
		lifetime:        24 * time.Hour,
		codec:           GobCodec{},
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		cookieName:      "session_id",
		cookiePath:      "/",
		cookieHttpOnly:  true,
		cookieSameSite:  http.SameSiteLaxMode,
		cookiePersisted: true,
		store:           store,
		key:             &contextKey{"session"},
	}

	for _, cfg := range cfgs {
		cfg(mngr)
	}

	return mngr
}
