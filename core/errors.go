// Package core provides the error taxonomy, logging, and clock capabilities
// shared by every layer of the autoresearch engine: the orchestration
// kernel, the search/ranking engine, the hybrid storage layer, and the
// gate/audit loop.
//
// Purpose:
// - Defines Kind, the tagged variant used to classify every error that
//   crosses a component boundary (Transient, Recoverable, Critical,
//   Cancelled, Timeout).
// - Provides TaxonomyError, a structured wrapper carrying component/op
//   context plus the classified Kind, so the Orchestrator's merge boundary
//   can decide retry vs. fallback vs. surface without re-deriving intent
//   from error strings.
//
// Scope:
// - Sentinel errors for comparison via errors.Is()
// - Kind classification helpers
// - TaxonomyError construction and wrapping
package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind tags an error with the recovery strategy the Orchestrator should
// apply at its merge boundary (spec §7).
type Kind string

const (
	// KindTransient covers network blips and rate limits. Recovered
	// locally by retry-with-backoff up to config.max_retries.
	KindTransient Kind = "transient"
	// KindRecoverable covers agent failures with a viable fallback
	// (alternate agent, cached result). Recovered by fallback_agent.
	KindRecoverable Kind = "recoverable"
	// KindCritical covers storage corruption, config violations,
	// unsupported reasoning modes, and persistent backend outages. The
	// run terminates with whatever partial state is valid.
	KindCritical Kind = "critical"
	// KindCancelled marks cooperative cancellation.
	KindCancelled Kind = "cancelled"
	// KindTimeout marks a query- or call-scoped deadline exceeded.
	// Classified as Recoverable unless it occurs past max_retries.
	KindTimeout Kind = "timeout"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	ErrUnsupportedReasoningMode = errors.New("unsupported reasoning mode")
	ErrPlannerCycle             = errors.New("task graph contains a cycle")
	ErrCircuitBreakerOpen       = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded       = errors.New("maximum retries exceeded")
	ErrInvalidConfiguration     = errors.New("invalid configuration")
	ErrMissingConfiguration     = errors.New("missing required configuration")
	ErrStorageCorruption        = errors.New("storage backend corruption")
	ErrOperatorAckTimeout       = errors.New("operator acknowledgement timed out")
	ErrWeightsExceedOne         = errors.New("search weights sum to more than 1.0")
)

// TaxonomyError carries classified context through a layer boundary. It
// implements error and Unwrap so callers can still use errors.Is/As against
// the wrapped sentinel.
type TaxonomyError struct {
	Kind      Kind
	Component string // e.g. "orchestrator", "claimstore", "searchengine"
	Op        string // e.g. "persist_claim", "run_query"
	Message   string
	Err       error
}

func (e *TaxonomyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s [%s]: %v", e.Component, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s.%s [%s]: %s", e.Component, e.Op, e.Kind, e.Message)
}

func (e *TaxonomyError) Unwrap() error { return e.Err }

// New builds a TaxonomyError for a given component/operation/kind.
func New(kind Kind, component, op string, err error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Component: component, Op: op, Err: err}
}

// Newf builds a TaxonomyError with a formatted message and no underlying error.
func Newf(kind Kind, component, op, format string, args ...interface{}) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Component: component, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Classify maps a raw error to a Kind, applying the defaults spec §7
// describes: context cancellation is Cancelled, deadline-exceeded is
// Timeout, an already-tagged TaxonomyError keeps its Kind, and anything
// else defaults to Transient (the safest assumption for a retry loop).
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// IsRetryable reports whether err's Kind warrants a retry-with-backoff.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// IsCritical reports whether err should short-circuit the current loop and
// move straight to response formatting (spec §7 propagation policy).
func IsCritical(err error) bool {
	return Classify(err) == KindCritical
}
