package captchax

import "net/http"

// Middleware defines the interface for HTTP middleware compatible with ServeMux.
// *Gate and *session.Manager both implement it.
type Middleware interface {
	Handler(http.Handler) http.Handler
}

// MiddlewareFunc adapts a plain func(http.Handler) http.Handler to Middleware.
type MiddlewareFunc func(http.Handler) http.Handler

// Handler implements Middleware.
func (f MiddlewareFunc) Handler(next http.Handler) http.Handler {
	return f(next)
}

var _ Middleware = (*Gate)(nil)

// annotator is implemented by response writers that collect per-request
// attributes, such as the logger middleware.
type annotator interface {
	Annotate(key, value string)
}

// annotate walks the Unwrap chain of w and records key=value on the first
// writer accepting annotations.
func annotate(w http.ResponseWriter, key, value string) {
	for w != nil {
		if a, ok := w.(annotator); ok {
			a.Annotate(key, value)
			return
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}
