package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/Amaz3n/strata-sub010/internal/domain/shared"
)

// ErrorKind categorizes a sync failure. The sync worker resolves every kind
// into a job state transition; nothing escapes as an unhandled error.
type ErrorKind string

const (
	// ErrorKindTransient covers network failures and provider 5xx responses.
	// Retried with the normal backoff.
	ErrorKindTransient ErrorKind = "transient_network"
	// ErrorKindRateLimited is a provider 429. Retried honoring the
	// provider-supplied retry-after hint when present.
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindReauthorizationRequired means the refresh token was revoked or
	// expired. Never retried automatically; the user must reconnect.
	ErrorKindReauthorizationRequired ErrorKind = "reauthorization_required"
	// ErrorKindValidationRejected means the provider rejected the payload as
	// semantically invalid. Retrying will never succeed.
	ErrorKindValidationRejected ErrorKind = "validation_rejected"
	// ErrorKindNotFoundRemote means the external record was deleted
	// out-of-band. The worker re-creates it.
	ErrorKindNotFoundRemote ErrorKind = "not_found_remote"
	// ErrorKindPermanentLocal means the local entity no longer exists.
	// Treated as success-no-op.
	ErrorKindPermanentLocal ErrorKind = "permanent_local"
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	return string(k)
}

// Retryable reports whether a failure of this kind is eligible for automatic
// retry with backoff.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindTransient, ErrorKindRateLimited, ErrorKindValidationRejected:
		// Validation rejections are retried up to max attempts so the failure
		// is surfaced on the job rather than silently dropped; they can never
		// succeed, so they land in dead state for diagnostics.
		return true
	default:
		return false
	}
}

// SyncError is a categorized synchronization failure
type SyncError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration // rate-limit hint, zero when absent
	Err        error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps a network or provider 5xx failure
func NewTransientError(message string, err error) *SyncError {
	return &SyncError{Kind: ErrorKindTransient, Message: message, Err: err}
}

// NewRateLimitedError wraps a provider 429 with an optional retry-after hint
func NewRateLimitedError(retryAfter time.Duration, err error) *SyncError {
	return &SyncError{Kind: ErrorKindRateLimited, Message: "provider rate limit", RetryAfter: retryAfter, Err: err}
}

// NewReauthorizationRequiredError marks a revoked or expired refresh token
func NewReauthorizationRequiredError(message string) *SyncError {
	return &SyncError{Kind: ErrorKindReauthorizationRequired, Message: message}
}

// NewValidationRejectedError records a provider-side validation rejection
func NewValidationRejectedError(message string) *SyncError {
	return &SyncError{Kind: ErrorKindValidationRejected, Message: message}
}

// NewNotFoundRemoteError marks an external record deleted out-of-band
func NewNotFoundRemoteError(message string) *SyncError {
	return &SyncError{Kind: ErrorKindNotFoundRemote, Message: message}
}

// NewPermanentLocalError marks a local entity that no longer exists
func NewPermanentLocalError(message string) *SyncError {
	return &SyncError{Kind: ErrorKindPermanentLocal, Message: message}
}

// KindOf extracts the ErrorKind from an error chain. Unclassified errors
// default to transient so they get the normal backoff.
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindTransient
}

// RetryAfterOf extracts the rate-limit hint from an error chain, zero if none
func RetryAfterOf(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Boundary errors for the connection store
var (
	ErrNotConnected     = shared.NewDomainError("NOT_CONNECTED", "Organization has no active accounting connection")
	ErrAlreadyConnected = shared.NewDomainError("ALREADY_CONNECTED", "Organization already has an active accounting connection")
	ErrJobNotDead       = shared.NewDomainError("JOB_NOT_DEAD", "Only dead jobs can be manually retried")
	ErrNumberTaken      = shared.NewDomainError("INVOICE_NUMBER_TAKEN", "Invoice number is already reserved for this organization")
)

// ErrLeaseLost reports that a job outcome write was rejected because another
// worker reclaimed the job after this worker's lease expired. The stale
// worker's result must be discarded, never written over the reclaimer's.
var ErrLeaseLost = errors.New("sync job lease lost")
