// Package classify maps provider/storage/DB failures to a discriminated
// result used by every consumer to decide whether to ack, retry, or fail a
// message. Kept as a pure function of a variant tag, not of error strings,
// so the retry path never depends on matching text across providers (see
// the generalized isRetryableError idiom in the pack's face-indexing
// worker).
package classify

import "fmt"

// Kind is the domain-level discriminator. It is independent of any specific
// provider's or driver's error types.
type Kind string

const (
	KindRetryable         Kind = "retryable"
	KindThrottle          Kind = "throttle"
	KindTerminal          Kind = "terminal"
	KindIdempotentSuccess Kind = "idempotent_success"
)

// Error is the tagged result every classifier function returns. ProviderName
// is surfaced to operators via photos.error_name.
type Error struct {
	Kind         Kind
	Code         string
	ProviderName string
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the message should be retried at all.
func (e *Error) Retryable() bool {
	return e.Kind == KindRetryable || e.Kind == KindThrottle
}

// Throttle reports whether the failure is a rate-limit signal, which both
// uses a larger backoff curve and feeds back into the Rate Limiter.
func (e *Error) Throttle() bool {
	return e.Kind == KindThrottle
}

// New builds a classified error of the given kind.
func New(kind Kind, code string, providerName string, cause error) *Error {
	return &Error{Kind: kind, Code: code, ProviderName: providerName, Cause: cause}
}

// Retryable constructs a transient, backoff-eligible error (connection
// reset, 5xx, server unavailable).
func Retryable(code, providerName string, cause error) *Error {
	return New(KindRetryable, code, providerName, cause)
}

// Throttle constructs a rate-limit-signal error ("Throttling",
// "ProvisionedThroughputExceeded", "LimitExceeded", HTTP 429).
func Throttle(code, providerName string, cause error) *Error {
	return New(KindThrottle, code, providerName, cause)
}

// Terminal constructs a non-retryable error (bad input, invalid format,
// not-found for resources that will never appear, auth failure).
func Terminal(code, providerName string, cause error) *Error {
	return New(KindTerminal, code, providerName, cause)
}

// IdempotentSuccess constructs the "already done" result for
// ResourceAlreadyExistsException on create and ResourceNotFoundException on
// delete — both map to success without retry.
func IdempotentSuccess(code, providerName string) *Error {
	return New(KindIdempotentSuccess, code, providerName, nil)
}

// Ack reports whether a message carrying this error should be acknowledged
// (removed from the queue) rather than retried.
func Ack(err *Error) bool {
	if err == nil {
		return true
	}
	return err.Kind == KindTerminal || err.Kind == KindIdempotentSuccess
}
