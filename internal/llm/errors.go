package llm

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/openai/openai-go/v3"
)

// Kind classifies a call failure for retry decisions.
type Kind int

const (
	// KindTransient failures (timeouts, 429, 5xx) are retry-eligible.
	KindTransient Kind = iota
	// KindPermanent failures (malformed input, authorization) are not retried.
	KindPermanent
)

func (k Kind) String() string {
	if k == KindTransient {
		return "transient"
	}
	return "permanent"
}

// Error wraps a provider failure with its retry classification.
type Error struct {
	Kind   Kind
	Status int // HTTP status when known, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: %s failure (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm: %s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retry-eligible failure.
func Transient(err error) *Error { return &Error{Kind: KindTransient, Err: err} }

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *Error { return &Error{Kind: KindPermanent, Err: err} }

// IsTransient reports whether err should be retried.
// Unclassified errors default to transient so infrastructure hiccups
// (connection resets, DNS) get retried.
func IsTransient(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind == KindTransient
	}
	return true
}

// classify converts a raw provider error into a classified *Error.
func classify(err error) *Error {
	if err == nil {
		return nil
	}

	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		e := &Error{Status: apierr.StatusCode, Err: err}
		switch {
		case apierr.StatusCode == 429, apierr.StatusCode >= 500:
			e.Kind = KindTransient
		default:
			// 400/401/403/404: bad input or auth, retrying cannot help.
			e.Kind = KindPermanent
		}
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return Transient(err)
	}

	// Unknown errors are treated as transient.
	return Transient(err)
}
