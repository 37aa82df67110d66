package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an exchange failed.
type ErrorKind string

const (
	// KindTransport covers connection failures, timeouts and cancellation.
	KindTransport ErrorKind = "transport"
	// KindStatus is a non-2xx answer from the endpoint.
	KindStatus ErrorKind = "status"
	// KindDecode is a body that could not be read as a reply.
	KindDecode ErrorKind = "decode"
)

// ErrNoChoices is wrapped by a KindDecode error when the endpoint answered
// with an empty choices list.
var ErrNoChoices = errors.New("response contained no choices")

// ExchangeError is the single failure class of a turn. Every failure is
// terminal for its turn; nothing is retried.
type ExchangeError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.Kind == KindStatus && e.StatusCode != 0 {
		return fmt.Sprintf("exchange failed (%s %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("exchange failed (%s): %v", e.Kind, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// AsExchangeError extracts an *ExchangeError from err's chain.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

func transportErr(err error) error {
	return &ExchangeError{Kind: KindTransport, Err: err}
}

func statusErr(code int, err error) error {
	return &ExchangeError{Kind: KindStatus, StatusCode: code, Err: err}
}

func decodeErr(err error) error {
	return &ExchangeError{Kind: KindDecode, Err: err}
}
