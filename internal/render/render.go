// Package render renders HTML templates loaded lazily from an fs.FS.
//
// Usage:
//
//	//go:embed templates
//	var templatesFS embed.FS
//
//	sub, _ := fs.Sub(templatesFS, "templates")
//	renderer := render.New(sub, ".html")
//
//	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//		renderer.HTML(w, http.StatusOK, "page", render.Vals{"Title": "Home"})
//	})
package render

import (
	"bytes"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Renderer caches the templates found under its filesystem. It is safe for
// concurrent use.
type Renderer struct {
	dir       fs.FS
	ext       string
	templates *template.Template
	loaded    atomic.Bool
	mu        sync.Mutex
	funcs     template.FuncMap
}

// New creates a Renderer for the files in dir ending in ext (e.g.
// ".html"). Templates are named by their path relative to dir without
// the extension, so "pages/index.html" becomes "pages/index".
func New(dir fs.FS, ext string) *Renderer {
	return &Renderer{
		dir:       dir,
		ext:       ext,
		templates: template.New(""),
		funcs:     template.FuncMap{},
	}
}

// Vals is a convenience type for passing data to templates.
type Vals map[string]any

var buffers = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// Funcs registers template functions. It must be called before the first
// render.
func (v *Renderer) Funcs(funcs template.FuncMap) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for n, f := range funcs {
		v.funcs[n] = f
	}
}

// HTML renders the named template and writes it with the given status.
// Nothing is written when rendering fails.
func (v *Renderer) HTML(w http.ResponseWriter, status int, name string, vals Vals) error {
	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer buffers.Put(buf)

	if err := v.Render(buf, name, vals); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

// Render executes the named template into w, loading templates on first use.
func (v *Renderer) Render(w io.Writer, name string, vals Vals) error {
	if !v.loaded.Load() {
		if err := v.load(); err != nil {
			return err
		}
	}

	return v.templates.ExecuteTemplate(w, name, vals)
}

func (v *Renderer) load() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loaded.Load() {
		return nil
	}

	v.templates.Funcs(v.funcs)

	err := fs.WalkDir(v.dir, ".", func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if e.IsDir() || filepath.Ext(path) != v.ext {
			return nil
		}

		buf, err := fs.ReadFile(v.dir, path)
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(path, v.ext)
		_, err = v.templates.New(name).Parse(string(buf))
		return err
	})

	if err != nil {
		return err
	}

	v.loaded.Store(true)
	return nil
}
