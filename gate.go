package captchax

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bluescreen10/captchax/recaptcha"
	"github.com/bluescreen10/captchax/session"
)

// Verifier checks a response token with the verification service.
// *recaptcha.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) (*recaptcha.Result, error)
}

var _ Verifier = (*recaptcha.Client)(nil)

// SessionStore is where passes are remembered. Its lifecycle, expiry and
// persistence belong to the caller. *session.Session implements it.
type SessionStore interface {
	GetTime(key string) (time.Time, bool)
	SetTime(key string, t time.Time)
	Delete(key string)
}

var _ SessionStore = (*session.Session)(nil)

// Config controls how a Gate caches passes.
type Config struct {
	// Validity is how long a pass is remembered. Zero or negative means
	// every request is verified.
	Validity time.Duration

	// LockName names the shared lock. (default "session")
	LockName string

	// IndependentLock gives the gate a lock of its own, keyed by Site
	// instead of LockName.
	IndependentLock bool

	// Site identifies the protected operation for independent locks.
	// NewGate fills it with the calling function and line when empty.
	Site string

	// ResponseField is the form/query field holding the token.
	// (default "response")
	ResponseField string

	// Methods restricts gating to these HTTP methods; other methods pass
	// through. Empty gates every method. Only used by Handler.
	Methods []string
}

// Outcome describes how a request went through the gate.
type Outcome string

const (
	// OutcomeCached means a remembered pass was still valid.
	OutcomeCached Outcome = "cached"
	// OutcomeVerified means the token was verified and the pass recorded.
	OutcomeVerified Outcome = "verified"
	// OutcomeDenied means no token or a rejected token.
	OutcomeDenied Outcome = "denied"
	// OutcomeError means the verification service could not answer.
	OutcomeError Outcome = "error"
	// OutcomeSkipped means the request method isn't gated.
	OutcomeSkipped Outcome = "skipped"
)

// Decision is what Authorize concluded for one request.
type Decision struct {
	Outcome Outcome

	// Lock is the session key the pass is recorded under.
	Lock string

	// PassedAt is when the pass in use was recorded. Zero unless granted.
	PassedAt time.Time

	// Result of the verification call. Nil when none was made.
	Result *recaptcha.Result
}

// Granted reports whether the request may proceed.
func (d *Decision) Granted() bool {
	return d != nil && (d.Outcome == OutcomeCached || d.Outcome == OutcomeVerified || d.Outcome == OutcomeSkipped)
}

// Gate protects handlers behind a captcha challenge, remembering passes in
// the caller's session for Config.Validity. A Gate is immutable and safe
// for concurrent use.
type Gate struct {
	verifier  Verifier
	cfg       Config
	key       string
	methods   map[string]struct{}
	session   func(*http.Request) SessionStore
	resolveIP IPResolver
	onError   func(http.ResponseWriter, *http.Request, error)
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithSession sets how Handler finds the session of a request. Without it
// no pass is remembered.
func WithSession(fn func(*http.Request) SessionStore) Option {
	return Option(func(g *Gate) {
		g.session = fn
	})
}

// WithSessionManager records passes in sessions managed by m. m.Handler
// must run before the gate.
func WithSessionManager(m *session.Manager) Option {
	return WithSession(func(r *http.Request) SessionStore {
		return m.Get(r)
	})
}

// WithIPResolver overrides how Handler finds the client address. (default ClientIP)
func WithIPResolver(resolve IPResolver) Option {
	return Option(func(g *Gate) {
		g.resolveIP = resolve
	})
}

// WithErrorHandler overrides the response written when Handler refuses a
// request. (default DefaultErrorHandler)
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) Option {
	return Option(func(g *Gate) {
		g.onError = fn
	})
}

// WithLogger sets the logger. Denials are logged at debug level, failures
// of the verification service at error level.
func WithLogger(logger *slog.Logger) Option {
	return Option(func(g *Gate) {
		g.logger = logger
	})
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return Option(func(g *Gate) {
		g.now = now
	})
}

// NewGate creates a Gate verifying tokens with v.
func NewGate(v Verifier, cfg Config, opts ...Option) *Gate {
	if cfg.LockName == "" {
		cfg.LockName = DefaultLockName
	}
	if cfg.ResponseField == "" {
		cfg.ResponseField = DefaultResponseField
	}
	if cfg.IndependentLock && cfg.Site == "" {
		cfg.Site = callerSite(1)
	}

	g := &Gate{
		verifier:  v,
		cfg:       cfg,
		key:       LockKey(cfg.LockName, cfg.IndependentLock, cfg.Site),
		session:   func(*http.Request) SessionStore { return nil },
		resolveIP: ClientIP,
		onError:   DefaultErrorHandler,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
	}

	if len(cfg.Methods) > 0 {
		g.methods = make(map[string]struct{}, len(cfg.Methods))
		for _, m := range cfg.Methods {
			g.methods[strings.ToUpper(m)] = struct{}{}
		}
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// ForSite returns a copy of g bound to site. Only independent locks are
// affected.
func (g *Gate) ForSite(site string) *Gate {
	c := *g
	c.cfg.Site = site
	c.key = LockKey(c.cfg.LockName, c.cfg.IndependentLock, site)
	return &c
}

// Key returns the session key passes are recorded under.
func (g *Gate) Key() string {
	return g.key
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Authorize decides whether a request may proceed.
//
// A remembered pass still within Validity grants access without calling
// the verifier; the boundary instant itself is still valid. Otherwise the
// token from src is verified with remoteIP and, on success, the pass is
// recorded in sess at the time verification completed.
//
// The returned error is nil when access is granted. It matches
// ErrNotAuthorized when the request failed the challenge, and wraps the
// verifier's error otherwise. sess may be nil, in which case nothing is
// remembered.
func (g *Gate) Authorize(ctx context.Context, sess SessionStore, src TokenSource, remoteIP string) (*Decision, error) {
	now := g.now()
	dec := &Decision{Lock: g.key}

	if g.cfg.Validity > 0 && sess != nil {
		if passedAt, ok := sess.GetTime(g.key); ok && !now.After(passedAt.Add(g.cfg.Validity)) {
			dec.Outcome = OutcomeCached
			dec.PassedAt = passedAt
			return dec, nil
		}
	}

	token := responseToken(src, g.cfg.ResponseField)
	if token == "" {
		g.logger.DebugContext(ctx, "captcha denied", "lock", g.key, "reason", "missing token", "remote_ip", remoteIP)
		dec.Outcome = OutcomeDenied
		return dec, ErrMissingToken
	}

	res, err := g.verifier.Verify(ctx, token, remoteIP)
	if err == nil && res == nil {
		err = errors.New("verifier returned no result")
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "captcha verification failed", "lock", g.key, "remote_ip", remoteIP, "err", err)
		dec.Outcome = OutcomeError
		return dec, fmt.Errorf("captchax: verify token: %w", err)
	}

	dec.Result = res
	if !res.Success {
		g.logger.DebugContext(ctx, "captcha denied", "lock", g.key, "reason", "challenge failed",
			"remote_ip", remoteIP, "error_codes", res.ErrorCodes)
		dec.Outcome = OutcomeDenied
		return dec, &ChallengeFailedError{ErrorCodes: res.ErrorCodes}
	}

	recordedAt := g.now()
	if sess != nil {
		sess.SetTime(g.key, recordedAt)
	}
	dec.Outcome = OutcomeVerified
	dec.PassedAt = recordedAt
	return dec, nil
}

// Revoke forgets the pass remembered in sess, so the next request is
// challenged again.
func (g *Gate) Revoke(sess SessionStore) {
	if sess != nil {
		sess.Delete(g.key)
	}
}

// Handler wraps next so it only runs for authorized requests. The Decision
// is available to next through DecisionFromContext. Refused requests are
// answered by the error handler, 403/503/502 by default.
//
// Gated responses carry "Cache-Control: no-store" unless next overrides it.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.gated(r.Method) {
			annotate(w, "captcha", string(OutcomeSkipped))
			next.ServeHTTP(w, r)
			return
		}

		dec, err := g.Authorize(r.Context(), g.session(r), RequestSource(r), g.resolveIP(r))
		annotate(w, "captcha", string(dec.Outcome))
		if err != nil {
			annotate(w, "error", err.Error())
			g.onError(w, r, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r.WithContext(withDecision(r.Context(), dec)))
	})
}

func (g *Gate) gated(method string) bool {
	if g.methods == nil {
		return true
	}
	_, ok := g.methods[method]
	return ok
}

type decisionKey struct{}

func withDecision(ctx context.Context, dec *Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, dec)
}

// DecisionFromContext returns the Decision the gate made for the current
// request.
func DecisionFromContext(ctx context.Context) (*Decision, bool) {
	dec, ok := ctx.Value(decisionKey{}).(*Decision)
	return dec, ok
}
