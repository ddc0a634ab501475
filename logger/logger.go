// Package logger provides an HTTP middleware for logging server activity.
// It allows customizable log formats and output destinations.
//
// Log entries can include variables such as time, HTTP status, latency,
// client IP, request method, request path, the captcha outcome and the
// reason a request was refused.
//
// Usage:
//
//	mux := captchax.NewServeMux()
//	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//		w.Write([]byte("Hello, world!"))
//	})
//
//	// Create a new Logger middleware with default settings
//	l := logger.New(
//	    logger.WithFormat("${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${captcha}\n"),
//	    logger.WithOutput(os.Stdout),
//	    logger.WithColor(true),
//	)
//
//	// Run it before anything else so it sees every response
//	mux.Use(l)
//
//	http.ListenAndServe(":8080", mux)
//
// The middleware wraps the http.Handler, recording request start time,
// status code, latency, client IP, HTTP method, and path. Log entries
// are written to the configured output, defaulting to os.Stdout.
package logger

import (
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Format specifies the log entry format using template variables.
// Available variables:
//   ${time}    - Request start time
//   ${status}  - HTTP response status code
//   ${latency} - Request processing duration
//   ${ip}      - Client IP address
//   ${method}  - HTTP request method
//   ${path}    - Request URL path
//   ${captcha} - Outcome of the captcha gate, "-" when the route isn't gated
//   ${error}   - Why the request was refused, if it was

const defaultFormat = "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${captcha} | ${error}\n"

// responseWriter wraps http.ResponseWriter to capture the response status
// code and the annotations middlewares further down leave for the log.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	annotations map[string]string
}

// WriteHeader captures the status code before delegating to the underlying ResponseWriter.
// It implements the http.ResponseWriter interface.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Annotate records a value rendered by the ${key} variable.
func (rw *responseWriter) Annotate(key, value string) {
	if rw.annotations == nil {
		rw.annotations = make(map[string]string)
	}
	rw.annotations[key] = value
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) annotation(key string) string {
	if v, ok := rw.annotations[key]; ok {
		return v
	}
	return "-"
}

// Logger is a middleware that captures request details and writes
// formatted log entries to the configured output. It is safe for
// concurrent use.
type Logger struct {
	mu     sync.Mutex
	format string
	output io.Writer
	color  bool
}

type config func(*Logger)

// WithFormat sets a custom log format using template variables.
func WithFormat(format string) config {
	return config(func(l *Logger) {
		l.format = format
	})
}

// WithOutput sets the output destination for log entries.
func WithOutput(output io.Writer) config {
	return config(func(l *Logger) {
		l.output = output
	})
}

// WithColor colorizes ${status} and ${captcha} by outcome. (default false)
func WithColor(enabled bool) config {
	return config(func(l *Logger) {
		l.color = enabled
	})
}

// Handler wraps an http.Handler and logs requests using the configured format
// and output. It records start time, response status code, latency, client IP,
// HTTP method, and path.
func (l *Logger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		latency := time.Since(start)
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		repl := strings.NewReplacer(
			"${time}", start.Format(time.DateTime),
			"${status}", l.status(rw.statusCode),
			"${latency}", latency.String(),
			"${ip}", ip,
			"${method}", r.Method,
			"${path}", r.URL.Path,
			"${captcha}", l.outcome(rw.annotation("captcha")),
			"${error}", rw.annotation("error"),
		)

		l.mu.Lock()
		defer l.mu.Unlock()
		repl.WriteString(l.output, l.format)
	})
}

func (l *Logger) status(code int) string {
	s := strconv.Itoa(code)
	if !l.color {
		return s
	}

	var attr color.Attribute
	switch {
	case code >= 500:
		attr = color.FgRed
	case code >= 400:
		attr = color.FgYellow
	case code >= 300:
		attr = color.FgCyan
	default:
		attr = color.FgGreen
	}
	return paint(attr, s)
}

func (l *Logger) outcome(o string) string {
	if !l.color {
		return o
	}

	switch o {
	case "cached", "verified":
		return paint(color.FgGreen, o)
	case "denied":
		return paint(color.FgYellow, o)
	case "error":
		return paint(color.FgRed, o)
	default:
		return o
	}
}

// paint colors s even when the output isn't a terminal, since WithColor
// is an explicit request.
func paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// New creates a new Logger middleware with optional configuration.
func New(cfgs ...config) *Logger {
	lgr := &Logger{
		format: defaultFormat,
		output: os.Stdout,
	}

	for _, cfg := range cfgs {
		cfg(lgr)
	}

	return lgr
}
