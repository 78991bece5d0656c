package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a failure so callers can decide between skipping an item,
// retrying it on a later pass, or aborting the run.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors outside the taxonomy.
	KindUnknown Kind = iota
	// KindTransport covers network and HTTP failures, timeouts included.
	KindTransport
	// KindNoData means the remote service explicitly reported nothing for the item.
	KindNoData
	// KindMalformedAddress means the address did not split into three components.
	KindMalformedAddress
	// KindMalformedStreet means the street component had no leading number.
	KindMalformedStreet
	// KindStorageConflict means a conditional write lost to an existing phone holder.
	KindStorageConflict
	// KindStorageFatal is any other storage failure.
	KindStorageFatal
)

// String returns the snake_case name used in logs and reports.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNoData:
		return "no_data"
	case KindMalformedAddress:
		return "malformed_address"
	case KindMalformedStreet:
		return "malformed_street"
	case KindStorageConflict:
		return "storage_conflict"
	case KindStorageFatal:
		return "storage_fatal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error. A nil err still produces a non-nil *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsConflict reports whether err is a storage conflict. Used as a ShouldRetry
// predicate by the reconciling store.
func IsConflict(err error) bool {
	return Is(err, KindStorageConflict)
}

// IsTransport reports whether err is a transport failure. Used as the
// circuit breaker trip predicate.
func IsTransport(err error) bool {
	return Is(err, KindTransport)
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
	// RetryAfter is the server's requested wait, zero when it gave none.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
