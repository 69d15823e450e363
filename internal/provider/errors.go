package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure.
type Kind int

const (
	Transient Kind = iota
	RateLimited
	InvalidCredential
	Malformed
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case InvalidCredential:
		return "invalid_credential"
	case Malformed:
		return "malformed"
	default:
		return "transient"
	}
}

// Error is returned by every adapter call that fails.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or Transient when err is not a *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Transient
}

func newError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// kindForStatus maps an HTTP status code returned by a provider API.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return InvalidCredential
	case status >= 500, status == http.StatusRequestTimeout:
		return Transient
	case status >= 400:
		return Malformed
	default:
		return Transient
	}
}
