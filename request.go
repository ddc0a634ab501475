package captchax

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// DefaultResponseField is the form and query field holding the token.
const DefaultResponseField = "response"

// maxMemory is the multipart memory limit used when looking for the token.
const maxMemory = 32 << 20

// TokenSource gives access to the fields a response token may be
// submitted in.
type TokenSource interface {
	FormValue(name string) (string, bool)
	QueryValue(name string) (string, bool)
}

// Values is a TokenSource over already parsed fields, handy outside of
// net/http.
type Values struct {
	Form  url.Values
	Query url.Values
}

func (v Values) FormValue(name string) (string, bool) {
	return first(v.Form, name)
}

func (v Values) QueryValue(name string) (string, bool) {
	return first(v.Query, name)
}

type requestSource struct {
	r *http.Request
}

// RequestSource adapts a request to a TokenSource. Form fields come from
// the request body only. A body that can't be parsed is treated as having
// no form fields.
func RequestSource(r *http.Request) TokenSource {
	return requestSource{r}
}

func (s requestSource) FormValue(name string) (string, bool) {
	if s.r.PostForm == nil {
		ct, _, _ := mime.ParseMediaType(s.r.Header.Get("Content-Type"))
		if ct == "multipart/form-data" {
			s.r.ParseMultipartForm(maxMemory)
		} else {
			s.r.ParseForm()
		}
	}
	return first(s.r.PostForm, name)
}

func (s requestSource) QueryValue(name string) (string, bool) {
	return first(s.r.URL.Query(), name)
}

func first(values url.Values, name string) (string, bool) {
	vs, ok := values[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// responseToken prefers a non-empty form field and falls back to the
// query string.
func responseToken(src TokenSource, name string) string {
	if src == nil {
		return ""
	}
	if v, ok := src.FormValue(name); ok && v != "" {
		return v
	}
	if v, ok := src.QueryValue(name); ok && v != "" {
		return v
	}
	return ""
}

// IPResolver guesses the originating client address of a request.
type IPResolver func(r *http.Request) string

// ClientIP returns the first X-Forwarded-For hop when it is a valid
// address, otherwise the host part of RemoteAddr.
//
// The result is easy to spoof and wrong behind many proxy setups. It is
// only forwarded to the verification service as a risk signal.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hop := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(hop) != nil {
			return hop
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
