package order

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrStaleStatus means the guarded UPDATE matched no row because the
	// status changed between read and write. Under the per-order lock this
	// should not happen; it exists as a backstop for the store contract.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// BadRequestError marks structurally invalid input: empty items,
// non-positive quantities, amount mismatches.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

func badRequestf(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// ForbiddenError marks an actor that lacks authorization for the
// requested operation.
type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string { return e.Msg }

// InvalidTransitionError reports both the attempted and the current status
// so the caller can tell a true error from a race it may retry.
type InvalidTransitionError struct {
	OrderID   string
	Current   Status
	Attempted Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot transition from %s to %s", e.OrderID, e.Current, e.Attempted)
}
