// Package recaptcha performs server-side verification of reCAPTCHA response
// tokens against a siteverify endpoint.
//
// Usage:
//
//	client, err := recaptcha.New(os.Getenv("RECAPTCHA_SECRET"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := client.Verify(ctx, r.FormValue("response"), "203.0.113.7")
//	switch {
//	case err != nil:
//	    // the service could not be asked, this is not a failed challenge
//	case !res.Success:
//	    // a failed challenge, see res.ErrorCodes
//	}
//
// Response tokens are single use. Verifying the same token twice is
// expected to fail the second time; the client does not retry or dedupe,
// the remote service is authoritative.
package recaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the public reCAPTCHA verification endpoint.
const DefaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// DefaultTimeout bounds a single verification call.
const DefaultTimeout = 10 * time.Second

// maxReplySize caps how much of a reply body is read.
const maxReplySize = 1 << 20

// Result is the outcome of a verification call.
type Result struct {
	// Success is true when the token came from a solved challenge.
	Success bool `json:"success"`

	// Timestamp of the challenge load. Nil when the reply didn't carry a
	// parseable challenge_ts.
	Timestamp *time.Time `json:"challenge_ts,omitempty"`

	// Hostname of the site where the challenge was solved, if reported.
	Hostname string `json:"hostname,omitempty"`

	// ErrorCodes reported by the service, in reply order. Never nil.
	ErrorCodes []string `json:"error-codes"`
}

// reply mirrors the JSON document returned by the endpoint. Success is a
// pointer so a missing field can be told apart from false.
type reply struct {
	Success     *bool    `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Client verifies response tokens with a fixed secret and endpoint. It is
// safe for concurrent use.
type Client struct {
	secret     string
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the verification endpoint. (default DefaultEndpoint)
func WithEndpoint(endpoint string) Option {
	return Option(func(c *Client) {
		c.endpoint = endpoint
	})
}

// WithHTTPClient sets the http.Client used for outbound calls.
func WithHTTPClient(hc *http.Client) Option {
	return Option(func(c *Client) {
		c.httpClient = hc
	})
}

// WithTimeout bounds each verification call. A zero or negative value only
// relies on the caller's context. (default 10s)
func WithTimeout(timeout time.Duration) Option {
	return Option(func(c *Client) {
		c.timeout = timeout
	})
}

// New creates a Client for the given shared secret.
func New(secret string, opts ...Option) (*Client, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	c := &Client{
		secret:     secret,
		endpoint:   DefaultEndpoint,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	return c, nil
}

// Endpoint returns the URL the client posts to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Verify submits token, and remoteIP when not empty, to the endpoint.
//
// A failed challenge is reported through Result.Success with a nil error.
// A non-nil error is either ErrMissingToken, a *TransportError or a
// *ProtocolError and never means the challenge failed.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (*Result, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	form := url.Values{
		"secret":   {c.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("recaptcha: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplySize))
		return nil, &TransportError{
			Endpoint:   c.endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	var rep reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplySize)).Decode(&rep); err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Endpoint: c.endpoint, Err: err}
		}
		return nil, &ProtocolError{Endpoint: c.endpoint, Err: err}
	}

	return rep.result(c.endpoint)
}

func (rep reply) result(endpoint string) (*Result, error) {
	if rep.Success == nil {
		return nil, &ProtocolError{Endpoint: endpoint, Err: errors.New(`missing "success" field`)}
	}

	res := &Result{
		Success:    *rep.Success,
		Hostname:   rep.Hostname,
		ErrorCodes: rep.ErrorCodes,
	}
	if res.ErrorCodes == nil {
		res.ErrorCodes = []string{}
	}

	// an unparseable challenge_ts leaves Timestamp nil
	if rep.ChallengeTS != "" {
		if ts, err := time.Parse(time.RFC3339, rep.ChallengeTS); err == nil {
			res.Timestamp = &ts
		}
	}

	return res, nil
}

// Check verifies a single token without keeping a Client around.
func Check(ctx context.Context, secret, token, remoteIP string, opts ...Option) (*Result, error) {
	c, err := New(secret, opts...)
	if err != nil {
		return nil, err
	}
	return c.Verify(ctx, token, remoteIP)
}
