// Package errdefs defines the typed errors surfaced by the control plane.
// Callers match them with errors.As / errors.Is; every error carries enough
// structure to name the server, limit or record that caused it.
package errdefs

import (
	"errors"
	"fmt"
)

// ServerConflict is returned when a requested server is already committed to
// another execution or an active backend job.
type ServerConflict struct {
	ServerID string
	HeldBy   string // execution id or backend job id holding the server
}

func (e *ServerConflict) Error() string {
	return fmt.Sprintf("server %s is already in use by %s", e.ServerID, e.HeldBy)
}

// QuotaExceeded is returned when admitting a job would breach a backend
// quota, or when the backend itself rejects a submission for quota reasons.
type QuotaExceeded struct {
	Limit    string // name of the limit that would be breached
	Max      int
	Observed int
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("quota %s exceeded: limit %d, observed %d", e.Limit, e.Max, e.Observed)
}

// ConcurrentModification is returned when an optimistic update loses the race:
// the stored version no longer matches the version the caller observed.
type ConcurrentModification struct {
	Kind     string
	ID       string
	Expected int64
	Stored   int64
}

func (e *ConcurrentModification) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently: submitted version %d, stored version %d",
		e.Kind, e.ID, e.Expected, e.Stored)
}

// NotFound is returned when a record does not exist in the store.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// EmptyWave is returned when a wave resolves to zero servers.
type EmptyWave struct {
	PlanID     string
	WaveNumber int
}

func (e *EmptyWave) Error() string {
	return fmt.Sprintf("wave %d of plan %s resolves to zero servers", e.WaveNumber, e.PlanID)
}

// PlanValidation is returned for structural plan problems caught before any
// backend call is made.
type PlanValidation struct {
	PlanID string
	Reason string
}

func (e *PlanValidation) Error() string {
	return fmt.Sprintf("plan %s is invalid: %s", e.PlanID, e.Reason)
}

// AccountInaccessible marks an account whose role could not be assumed.
// It is a partial-result marker, not a fatal aggregation error.
type AccountInaccessible struct {
	AccountID string
	Cause     error
}

func (e *AccountInaccessible) Error() string {
	return fmt.Sprintf("account %s is inaccessible: %v", e.AccountID, e.Cause)
}

func (e *AccountInaccessible) Unwrap() error { return e.Cause }

// InvalidState is returned when a control operation is not legal in the
// execution's current state (pausing a terminal execution, etc).
type InvalidState struct {
	Operation string
	State     string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Operation, e.State)
}

// BackendTransient wraps a backend failure that is worth retrying.
type BackendTransient struct {
	Op    string
	Cause error
}

func (e *BackendTransient) Error() string {
	return fmt.Sprintf("transient backend failure in %s: %v", e.Op, e.Cause)
}

func (e *BackendTransient) Unwrap() error { return e.Cause }

// BackendPermanent wraps a backend failure that must not be retried.
type BackendPermanent struct {
	Op    string
	Cause error
}

func (e *BackendPermanent) Error() string {
	return fmt.Sprintf("permanent backend failure in %s: %v", e.Op, e.Cause)
}

func (e *BackendPermanent) Unwrap() error { return e.Cause }

// ErrSyncTimeout indicates the sync engine's convergence wait expired before
// every server settled. The group is left pending, never marked failed.
var ErrSyncTimeout = errors.New("launch config sync timed out before all servers converged")

// IsConflict reports whether err is a server conflict.
func IsConflict(err error) bool {
	var c *ServerConflict
	return errors.As(err, &c)
}

// IsQuota reports whether err is a quota rejection, ours or the backend's.
func IsQuota(err error) bool {
	var q *QuotaExceeded
	return errors.As(err, &q)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	var n *NotFound
	return errors.As(err, &n)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *BackendTransient
	return errors.As(err, &t)
}
