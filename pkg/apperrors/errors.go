// Package apperrors defines the typed error kinds the DCA engine's
// components raise, generalized from the teacher's sentinel-error
// convention (market_maker/pkg/errors) to carry structured context
// (asset/cycle/order id) instead of bare strings, per spec.md §7.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of the policy in spec.md §7.
type Kind string

const (
	// KindTransientBroker is a network timeout or 5xx from the broker:
	// log and retry at the next scheduled invocation, no state mutation.
	KindTransientBroker Kind = "transient_broker"
	// KindOrderRejected is a broker 4xx / insufficient funds / bad qty:
	// log, clear the per-symbol throttle, leave cycle status unchanged.
	KindOrderRejected Kind = "order_rejected"
	// KindStoreConflict is a row-not-found or constraint violation: log,
	// let the next reconciliation sweep repair it.
	KindStoreConflict Kind = "store_conflict"
	// KindProtocolInvariantViolation is a discovered data-model invariant
	// breach: log and alert, never auto-repair.
	KindProtocolInvariantViolation Kind = "protocol_invariant_violation"
	// KindOrphanEvent is a trade update referencing an order no active
	// cycle owns: log at info, drop.
	KindOrphanEvent Kind = "orphan_event"
)

// Error is the concrete error type every core component returns so callers
// can branch on Kind without string matching.
type Error struct {
	Kind    Kind
	Message string
	AssetID int64
	CycleID int64
	OrderID string
	Err     error
}

func (e *Error) Error() string {
	base := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.AssetID != 0 {
		base += fmt.Sprintf(" asset_id=%d", e.AssetID)
	}
	if e.CycleID != 0 {
		base += fmt.Sprintf(" cycle_id=%d", e.CycleID)
	}
	if e.OrderID != "" {
		base += fmt.Sprintf(" order_id=%s", e.OrderID)
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, apperrors.New(apperrors.KindOrphanEvent, "", nil)).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an *Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithAsset attaches the asset id and returns the same error for chaining.
func (e *Error) WithAsset(id int64) *Error { e.AssetID = id; return e }

// WithCycle attaches the cycle id and returns the same error for chaining.
func (e *Error) WithCycle(id int64) *Error { e.CycleID = id; return e }

// WithOrder attaches the order id and returns the same error for chaining.
func (e *Error) WithOrder(id string) *Error { e.OrderID = id; return e }

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
