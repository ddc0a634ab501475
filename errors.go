package captchax

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bluescreen10/captchax/recaptcha"
)

// ErrNotAuthorized is matched, through errors.Is, by every error meaning
// the request failed the gate: no token was submitted or the challenge
// was rejected. Verification service failures never match it.
var ErrNotAuthorized = errors.New("captchax: not authorized")

// ErrMissingToken is returned when the request carries no response token.
var ErrMissingToken = fmt.Errorf("%w: no response token", ErrNotAuthorized)

// ChallengeFailedError is returned when the verification service rejected
// the token.
type ChallengeFailedError struct {
	ErrorCodes []string
}

func (e *ChallengeFailedError) Error() string {
	if len(e.ErrorCodes) == 0 {
		return "captchax: challenge failed"
	}
	return "captchax: challenge failed: " + strings.Join(e.ErrorCodes, ", ")
}

func (e *ChallengeFailedError) Unwrap() error {
	return ErrNotAuthorized
}

// StatusCode maps an Authorize error to an HTTP status: 403 for failed
// gates, 503 when the verification service could not be reached and 502
// for anything else it got wrong.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case recaptcha.IsTransport(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// DefaultErrorHandler writes the status from StatusCode with its standard
// text as body.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	http.Error(w, http.StatusText(status), status)
}
