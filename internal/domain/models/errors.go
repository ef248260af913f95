package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Domain-level errors for validation and business logic.

var (
	// Request validation errors
	ErrEmptyQuestion = errors.New("question cannot be empty")
	ErrInvalidEffort = errors.New("unrecognized effort level")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionTerminal = errors.New("session is already terminal")

	// Credential pool errors
	ErrNoCredentials = errors.New("credential pool requires at least one API key")

	// Research errors
	ErrResearchExhausted = errors.New("every research task in the round failed")
)

// ProviderErrorKind classifies a failed outbound provider call. The kind
// decides whether the model invoker retries with a fresh credential.
type ProviderErrorKind string

const (
	// ProviderTransient covers network errors, timeouts and rate limits.
	// Retried with a different credential.
	ProviderTransient ProviderErrorKind = "transient"

	// ProviderAuth means the provider rejected the credential. The record is
	// disabled, but the call itself is retried with a different credential.
	ProviderAuth ProviderErrorKind = "auth"

	// ProviderFatal covers non-retryable failures such as a malformed
	// request. Propagated immediately without trying other credentials.
	ProviderFatal ProviderErrorKind = "fatal"
)

// ProviderError wraps an error from an outbound provider call with its
// retry classification.
type ProviderError struct {
	Kind ProviderErrorKind
	Op   string // "generate" or "search"
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s error: %v", e.Kind, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a transient provider failure.
func NewTransientError(op string, err error) *ProviderError {
	return &ProviderError{Kind: ProviderTransient, Op: op, Err: err}
}

// NewAuthError wraps err as a credential rejection.
func NewAuthError(op string, err error) *ProviderError {
	return &ProviderError{Kind: ProviderAuth, Op: op, Err: err}
}

// NewFatalError wraps err as a non-retryable provider failure.
func NewFatalError(op string, err error) *ProviderError {
	return &ProviderError{Kind: ProviderFatal, Op: op, Err: err}
}

// IsTransient reports whether err should be retried with a fresh credential.
// Timeouts count as transient, and unclassified errors default to transient
// so an unknown failure mode never short-circuits failover.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ProviderTransient
	}
	return !IsFatal(err)
}

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderAuth
}

// IsFatal reports whether err must be propagated without credential failover.
func IsFatal(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderFatal
}

// ValidationError marks malformed model output (wrong shape from the
// planner, reflector or finalizer). The credential is not at fault, so the
// call is not retried with another key; the component may make one local
// repair attempt before surfacing it.
type ValidationError struct {
	Component string
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s returned malformed output: %s", e.Component, e.Detail)
}

// IsValidation reports whether err is a model output validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExhaustionError is raised when the credential pool has no available
// records left for a call. It carries the pool snapshot for diagnosis and
// the per-credential errors accumulated while failing over.
type ExhaustionError struct {
	Snapshot PoolSnapshot
	Attempts []error
}

func (e *ExhaustionError) Error() string {
	msg := fmt.Sprintf("all %d API keys exhausted (%d available)", e.Snapshot.Total, e.Snapshot.Available)
	if len(e.Attempts) == 0 {
		return msg
	}
	causes := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		causes = append(causes, err.Error())
	}
	return msg + ": " + strings.Join(causes, "; ")
}

// IsExhaustion reports whether err signals an exhausted credential pool.
func IsExhaustion(err error) bool {
	var ee *ExhaustionError
	return errors.As(err, &ee)
}
