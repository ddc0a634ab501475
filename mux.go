package captchax

import (
	"net/http"
	"strings"
)

// ServeMux is a wrapper around http.ServeMux that adds support for
// route grouping, middlewares and captcha protected routes.
//
// Usage:
//
//	mux := captchax.NewServeMux()
//
//	// Global middleware for all routes
//	mux.Use(sessions)
//
//	// Route group with prefix "/api" and additional middleware
//	api := mux.Group("/api", apiGate)
//	api.HandleFunc("/posts", postsHandler)
//
//	// Single route with an independent lock bound to its pattern
//	mux.ProtectFunc("POST /comments", commentHandler, commentGate)
//
//	http.ListenAndServe(":8080", mux)
type ServeMux struct {
	*http.ServeMux
	middlewares []Middleware
}

// NewServeMux creates a new ServeMux instance.
func NewServeMux() *ServeMux {
	return &ServeMux{
		ServeMux: http.NewServeMux(),
	}
}

// Group creates a sub-router with the given prefix and optional middlewares.
// The returned sub-router can register its own handlers, which will inherit
// the parent middlewares automatically.
func (mux *ServeMux) Group(prefix string, middlewares ...Middleware) *ServeMux {
	prefix = strings.TrimSuffix(prefix, "/")
	subMux := NewServeMux()

	mux.Handle(prefix+"/", http.StripPrefix(prefix, chain(subMux, middlewares)))
	return subMux
}

// Use adds global middlewares to the ServeMux. These middlewares are applied
// to all routes registered on this mux, in the order they were added.
func (mux *ServeMux) Use(mws ...Middleware) {
	mux.middlewares = append(mux.middlewares, mws...)
}

// Protect registers h for pattern behind gate. When the gate uses an
// independent lock it is bound to pattern, so every protected route
// keeps its own pass.
func (mux *ServeMux) Protect(pattern string, h http.Handler, gate *Gate) {
	if gate.cfg.IndependentLock {
		gate = gate.ForSite(pattern)
	}
	mux.Handle(pattern, gate.Handler(h))
}

// ProtectFunc is Protect for handler functions.
func (mux *ServeMux) ProtectFunc(pattern string, h func(http.ResponseWriter, *http.Request), gate *Gate) {
	mux.Protect(pattern, http.HandlerFunc(h), gate)
}

// ServeHTTP implements http.Handler and applies global middlewares
// before dispatching to the underlying http.ServeMux.
func (mux *ServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chain(mux.ServeMux, mux.middlewares).ServeHTTP(w, r)
}

func chain(h http.Handler, middlewares []Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i].Handler(h)
	}
	return h
}
