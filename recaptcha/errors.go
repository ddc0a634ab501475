package recaptcha

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSecret is returned by New when the shared secret is empty.
	ErrMissingSecret = errors.New("recaptcha: secret cannot be empty")

	// ErrMissingToken is returned by Verify when the response token is empty.
	// No request is sent in that case.
	ErrMissingToken = errors.New("recaptcha: response token cannot be empty")
)

// TransportError reports that the verification endpoint could not be
// reached or answered with a non-2xx status. It never means the challenge
// itself failed.
type TransportError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("recaptcha: %s answered with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("recaptcha: failed to call %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a reply that could not be understood, such as a
// body that is not JSON or one missing the required success field.
type ProtocolError struct {
	Endpoint string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("recaptcha: unexpected reply from %s: %v", e.Endpoint, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is, or wraps, a *ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
