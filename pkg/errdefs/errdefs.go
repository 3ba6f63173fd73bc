// Package errdefs defines the error kinds surfaced by the coordinator, the
// workers, and the client, plus the single table that maps kinds to HTTP
// status codes at the API edge. Callers classify errors with errors.Is
// against the sentinels below; handlers never invent status codes inline.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Wrap them with fmt.Errorf("...: %w", Err...) to add
// operation context while keeping the kind classifiable.
var (
	// ErrPathConflict: a live file with the requested path exists and
	// overwrite was not set. Not retriable without changing inputs.
	ErrPathConflict = errors.New("path conflict")

	// ErrNoCapacity: fewer than R active workers, or none with sufficient
	// free bytes. Retriable after the cluster grows or clears.
	ErrNoCapacity = errors.New("no capacity")

	// ErrNoSpace: a worker's local disk is full. Transient per target.
	ErrNoSpace = errors.New("no space")

	// ErrCorrupted: digest mismatch on read. The caller retries another
	// replica; if all replicas mismatch it surfaces to the user.
	ErrCorrupted = errors.New("corrupted")

	// ErrUnreachable: network timeout or connection refused. Retried with
	// exponential backoff up to the configured limit.
	ErrUnreachable = errors.New("unreachable")

	// ErrSessionExpired: commit arrived after the session's lifetime.
	// Not retriable; the caller must restart the upload.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotFound: the path, chunk, or node does not exist (or the file is
	// soft-deleted).
	ErrNotFound = errors.New("not found")

	// ErrLeaseHeld: another client holds the write lease on the path.
	ErrLeaseHeld = errors.New("lease held")

	// ErrInvalid: malformed request or failed validation.
	ErrInvalid = errors.New("invalid request")
)

// Kind is the stable wire identifier of an error class. It travels in the
// error payload so clients can classify failures without parsing messages.
type Kind string

const (
	KindPathConflict   Kind = "path-conflict"
	KindNoCapacity     Kind = "no-capacity"
	KindNoSpace        Kind = "no-space"
	KindCorrupted      Kind = "corrupted"
	KindUnreachable    Kind = "unreachable"
	KindSessionExpired Kind = "session-expired"
	KindNotFound       Kind = "not-found"
	KindLeaseHeld      Kind = "lease-held"
	KindInvalid        Kind = "invalid"
	KindInternal       Kind = "internal"
)

// KindOf classifies err into its wire kind. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrPathConflict):
		return KindPathConflict
	case errors.Is(err, ErrNoCapacity):
		return KindNoCapacity
	case errors.Is(err, ErrNoSpace):
		return KindNoSpace
	case errors.Is(err, ErrCorrupted):
		return KindCorrupted
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrLeaseHeld):
		return KindLeaseHeld
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error to its HTTP status code. This is the one table at
// the edge; handlers must not map statuses themselves.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindPathConflict:
		return http.StatusConflict
	case KindNoCapacity:
		return http.StatusServiceUnavailable
	case KindNoSpace:
		return http.StatusInsufficientStorage
	case KindCorrupted:
		return http.StatusInternalServerError
	case KindUnreachable:
		return http.StatusBadGateway
	case KindSessionExpired:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindLeaseHeld:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FromKind reconstructs the sentinel for a wire kind on the client side, so
// that errors.Is works across the HTTP boundary.
func FromKind(kind Kind, message string) error {
	var sentinel error
	switch kind {
	case KindPathConflict:
		sentinel = ErrPathConflict
	case KindNoCapacity:
		sentinel = ErrNoCapacity
	case KindNoSpace:
		sentinel = ErrNoSpace
	case KindCorrupted:
		sentinel = ErrCorrupted
	case KindUnreachable:
		sentinel = ErrUnreachable
	case KindSessionExpired:
		sentinel = ErrSessionExpired
	case KindNotFound:
		sentinel = ErrNotFound
	case KindLeaseHeld:
		sentinel = ErrLeaseHeld
	case KindInvalid:
		sentinel = ErrInvalid
	default:
		return errors.New(message)
	}
	if message == "" {
		return sentinel
	}
	return fmt.Errorf("%s: %w", message, sentinel)
}

// IsRetriable reports whether an operation that failed with err is worth
// retrying unchanged: transient network and per-target storage failures are,
// everything tied to the request's inputs is not.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindUnreachable, KindNoSpace:
		return true
	default:
		return false
	}
}
