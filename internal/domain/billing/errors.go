package billing

import (
	"errors"
	"fmt"
)

var (
	ErrNonPositiveAmount      = errors.New("amount must be greater than zero")
	ErrPaymentExceedsBalance  = errors.New("payment amount cannot exceed pending balance")
	ErrRefundExceedsNetPaid   = errors.New("refund amount cannot exceed net paid amount")
	ErrBillCompleted          = errors.New("treatment is completed for this bill")
	ErrInitialPayExceedsTotal = errors.New("amount paid cannot exceed bill total")
	ErrInvalidMode            = errors.New("invalid payment mode")
	ErrMissingPatient         = errors.New("patient name is required")
	ErrNoServices             = errors.New("at least one service line is required")

	// ErrActionInFlight is returned when the same action is already being
	// submitted for a bill.
	ErrActionInFlight = errors.New("action already in progress for this bill")

	// ErrInvoiceLocked is returned when the completion invoice is requested
	// before the treatment is marked completed.
	ErrInvoiceLocked = errors.New("invoice is available once treatment is completed")

	// ErrNotFound is matched by repository errors for unknown bills or
	// payments.
	ErrNotFound = errors.New("not found")
)

// ValidationError is a local pre-check failure. Nothing was sent to the
// billing API.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Err: err, Details: fmt.Sprintf(format, args...)}
}
