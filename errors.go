package qamus

import (
	"errors"
	"fmt"
)

// Common errors returned by the qamus client.
var (
	// ErrNotFound is returned when an entry is not found.
	ErrNotFound = errors.New("entry not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrAccessDenied is returned when the entitlement check fails.
	// Terminal for the requested operation; the user must purchase.
	ErrAccessDenied = errors.New("offline access not entitled")

	// ErrOfflineUnavailable is returned when no route can serve an
	// operation: no usable local copy and remote is unreachable.
	// Distinct from ErrAccessDenied ("no route", not "not entitled").
	ErrOfflineUnavailable = errors.New("no local copy and remote unreachable")

	// ErrNoUser is returned when an operation requires an authenticated
	// user and none is signed in.
	ErrNoUser = errors.New("no authenticated user")

	// ErrEmptyDictionary is returned when a full fetch yields zero
	// entries. Treated as a remote anomaly, never a legitimate state.
	ErrEmptyDictionary = errors.New("remote returned an empty dictionary")

	// ErrProductNotFound is returned when the billing store does not
	// know the configured product.
	ErrProductNotFound = errors.New("product not found in billing store")

	// ErrBillingUnavailable is returned when the platform billing store
	// cannot be reached at all.
	ErrBillingUnavailable = errors.New("billing store unavailable")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// StorageFault is a local database I/O or integrity failure. Fatal to
// the current operation and never silently retried more than once.
// Extractable via errors.As(). Supports Unwrap().
type StorageFault struct {
	Op      string
	EntryID string
	Err     error
}

func (e *StorageFault) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("storage: %s failed for entry %s: %v", e.Op, e.EntryID, e.Err)
	}
	return fmt.Sprintf("storage: %s failed: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// NetworkFault is a remote-store failure: unreachable, a non-success
// status, or malformed/empty data. Triggers fallback routing rather
// than a crash. Extractable via errors.As(). Supports Unwrap().
type NetworkFault struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkFault) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network: %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network: %s failed: %v", e.Op, e.Err)
}

func (e *NetworkFault) Unwrap() error { return e.Err }

// VerificationFault is returned when a purchase cannot be verified.
// The purchase is not granted; the event is still marked complete so
// the platform does not replay it. Supports Unwrap().
type VerificationFault struct {
	ProductID string
	Err       error
}

func (e *VerificationFault) Error() string {
	return fmt.Sprintf("verification: purchase of %s rejected: %v", e.ProductID, e.Err)
}

func (e *VerificationFault) Unwrap() error { return e.Err }

// TimeoutFault is returned when a bounded wait on a billing-platform
// query is exceeded. The operation is not retried automatically.
type TimeoutFault struct {
	Op      string
	Timeout string
}

func (e *TimeoutFault) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Op, e.Timeout)
}
