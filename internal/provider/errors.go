package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/flight-watch/internal/domain"
)

// ProviderError is a failed flight status query. Transient failures are retried with
// backoff by the monitor; permanent ones wait a full polling interval.
type ProviderError struct {
	Ident      string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	b.WriteString("flight status provider")
	if e.Ident != "" {
		fmt.Fprintf(&b, " (%s)", e.Ident)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is makes every ProviderError match domain.ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == domain.ErrProviderUnavailable
}

// IsTransient reports whether a failed query is worth retrying before the next interval.
// Caller cancellation never is; deadlines and network timeouts always are.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
