package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluescreen10/captchax"
	"github.com/bluescreen10/captchax/internal/config"
	"github.com/bluescreen10/captchax/internal/render"
	"github.com/bluescreen10/captchax/logger"
	"github.com/bluescreen10/captchax/recaptcha"
	"github.com/bluescreen10/captchax/session"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo server",
	Long: `Start the demo server.

Routes:
  /             public
  /protected/   gated with the configured lock
  /account/     gated with the configured lock; shares the pass of
                /protected/ unless independent_lock is set
  /api/         gated with its own lock
  POST /logout  forgets the passes of /protected/ and /account/`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Addr, _ = flags.GetString("addr")
		}
		if flags.Changed("backend") {
			cfg.Session.Backend, _ = flags.GetString("backend")
		}
		if flags.Changed("dsn") {
			cfg.Session.DSN, _ = flags.GetString("dsn")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}

		stop := make(chan struct{})
		defer close(stop)

		store, err := openStore(cmd.Context(), cfg.Session.Backend, cfg.Session.DSN,
			cfg.Session.CleanupInterval.Duration, log, stop)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.close(); err != nil {
				log.Error("error closing session store", "err", err)
			}
		}()

		client, err := recaptcha.New(cfg.Secret,
			recaptcha.WithEndpoint(cfg.Endpoint),
			recaptcha.WithTimeout(cfg.Timeout.Duration),
		)
		if err != nil {
			return err
		}

		sessions := session.NewManager(store,
			session.WithName(cfg.Session.CookieName),
			session.WithLifetime(cfg.Session.Lifetime.Duration),
			session.WithIdleTimeout(cfg.Session.IdleTimeout.Duration),
			session.WithSecure(cfg.Session.Secure),
			session.WithLogger(log),
		)

		httpServer := &http.Server{
			Addr:              cfg.Addr,
			Handler:           newMux(cfg, client, sessions, log),
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Info("HTTP server listening", "addr", cfg.Addr, "backend", cfg.Session.Backend,
			"validity", cfg.Validity.Duration, "endpoint", client.Endpoint())

		ctx, cancelSignals := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancelSignals()
		return run(ctx, httpServer, log)
	},
}

// run serves srv until ctx is done, then shuts it down. A listen failure
// ends it early with that error.
func run(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "err", err)
	}
	log.Info("shutdown complete")
	return nil
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides CAPTCHAX_ADDR)")
	serveCmd.Flags().String("backend", "", "session backend: memory, redis, sqlite or mysql")
	serveCmd.Flags().String("dsn", "", "session backend DSN")
}

//go:embed templates
var templatesFS embed.FS

func newRenderer() *render.Renderer {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}
	return render.New(sub, ".html")
}

func page(renderer *render.Renderer, title string, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec, _ := captchax.DecisionFromContext(r.Context())
		if err := renderer.HTML(w, http.StatusOK, "page", render.Vals{"Title": title, "Decision": dec}); err != nil {
			log.ErrorContext(r.Context(), "failed to render page", "err", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// challenge answers refused requests with a form submitting a new token
// to the same URL. Failures of the verification service keep the plain
// status response.
func challenge(renderer *render.Renderer, c *config.Config, log *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if !errors.Is(err, captchax.ErrNotAuthorized) {
			captchax.DefaultErrorHandler(w, r, err)
			return
		}

		vals := render.Vals{
			"Action":  r.URL.Path,
			"Field":   c.ResponseField,
			"SiteKey": c.SiteKey,
		}
		if err := renderer.HTML(w, http.StatusForbidden, "challenge", vals); err != nil {
			log.ErrorContext(r.Context(), "failed to render challenge", "err", err)
			captchax.DefaultErrorHandler(w, r, captchax.ErrNotAuthorized)
		}
	}
}

// newMux wires the demo routes. Sessions must wrap every route so gates
// can read and record passes.
func newMux(c *config.Config, v captchax.Verifier, sessions *session.Manager, log *slog.Logger) http.Handler {
	renderer := newRenderer()
	opts := []captchax.Option{
		captchax.WithSessionManager(sessions),
		captchax.WithErrorHandler(challenge(renderer, c, log)),
		captchax.WithLogger(log),
	}

	gate := captchax.NewGate(v, captchax.Config{
		Validity:        c.Validity.Duration,
		LockName:        c.LockName,
		IndependentLock: c.IndependentLock,
		ResponseField:   c.ResponseField,
	}, opts...)

	independent := captchax.NewGate(v, captchax.Config{
		Validity:        c.Validity.Duration,
		IndependentLock: true,
		ResponseField:   c.ResponseField,
	}, opts...)

	mux := captchax.NewServeMux()
	mux.Use(logger.New(logger.WithOutput(os.Stdout), logger.WithColor(c.LogColor)), sessions)

	mux.HandleFunc("GET /{$}", page(renderer, "public", log))
	mux.Protect("/protected/", page(renderer, "protected", log), gate)
	mux.Protect("/account/", page(renderer, "account", log), gate)
	mux.Protect("/api/", page(renderer, "api", log), independent)
	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		sess := sessions.Get(r)
		gate.ForSite("/protected/").Revoke(sess)
		gate.ForSite("/account/").Revoke(sess)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})

	return mux
}
