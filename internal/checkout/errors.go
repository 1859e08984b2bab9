package checkout

import "errors"

var (
	ErrEmptyCart        = errors.New("checkout: cart is empty")
	ErrLoginRequired    = errors.New("checkout: login required")
	ErrWrongStep        = errors.New("checkout: action not allowed on this step")
	ErrSubmitInProgress = errors.New("checkout: order submission already in progress")
	ErrClosed           = errors.New("checkout: session already completed")
)

// SubmitError wraps a failed order creation. The session stays on the
// confirmation step and the cart is untouched, so the user may retry.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string { return "order submission failed: " + e.Err.Error() }
func (e *SubmitError) Unwrap() error { return e.Err }
