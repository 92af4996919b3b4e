package ap

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/supplier-ledger/internal/shared"
)

var (
	ErrInvoiceNotFound      = fmt.Errorf("invoice %w", shared.ErrNotFound)
	ErrPaymentOrderNotFound = fmt.Errorf("payment order %w", shared.ErrNotFound)
	ErrSupplierNotFound     = fmt.Errorf("supplier %w", shared.ErrNotFound)

	ErrNoInvoicesSelected     = fmt.Errorf("%w: no invoices selected", shared.ErrValidation)
	ErrNothingTendered        = fmt.Errorf("%w: tendered amount must be greater than zero", shared.ErrValidation)
	ErrInsufficientTender     = fmt.Errorf("%w: tendered amount does not cover the amount due", shared.ErrValidation)
	ErrInvoiceNotPayable      = fmt.Errorf("%w: invoice has no open balance", shared.ErrValidation)
	ErrNegativeAmount         = fmt.Errorf("%w: amount cannot be negative", shared.ErrValidation)
	ErrDerivedInstrument      = fmt.Errorf("%w: instrument is derived from its detail", shared.ErrValidation)
	ErrInvoiceHasBalance      = fmt.Errorf("%w: invoice has an open balance; use a cascading delete", shared.ErrValidation)
	ErrInstrumentMismatch     = fmt.Errorf("%w: instrument total does not match applied amounts", shared.ErrValidation)
	ErrUnknownInstrument      = fmt.Errorf("%w: unknown instrument", shared.ErrValidation)
	ErrComposerLocked         = fmt.Errorf("%w: payment order is being submitted or already confirmed", shared.ErrValidation)
	ErrNotConfirmed           = fmt.Errorf("%w: no confirmed payment order to close", shared.ErrValidation)
	ErrAdvanceNotFound        = fmt.Errorf("%w: advance not found", shared.ErrConflict)
	ErrAdvanceAlreadyConsumed = fmt.Errorf("%w: advance already consumed", shared.ErrConflict)
	ErrCheckAlreadyConsumed   = fmt.Errorf("%w: check no longer in custody", shared.ErrConflict)
	ErrStaleBalance           = fmt.Errorf("%w: invoice balance changed", shared.ErrConflict)
	ErrRefreshRequired        = fmt.Errorf("%w: refresh before resubmitting", shared.ErrConflict)
)

// SubmitError indicates the collaborator rejected or never received a payment order.
type SubmitError struct {
	Err       error
	Retryable bool
	Message   string
}

func (e *SubmitError) Error() string {
	return e.Message
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

func wrapSubmitError(err error) *SubmitError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, shared.ErrConflict):
		return &SubmitError{
			Err:       err,
			Retryable: false,
			Message:   fmt.Sprintf("Payment order rejected: stale data, please refresh (%s)", err.Error()),
		}
	case errors.Is(err, shared.ErrValidation):
		return &SubmitError{
			Err:       err,
			Retryable: false,
			Message:   fmt.Sprintf("Payment order rejected: %s", err.Error()),
		}
	case errors.Is(err, shared.ErrNotFound):
		return &SubmitError{
			Err:       err,
			Retryable: false,
			Message:   fmt.Sprintf("Payment order references a deleted record (%s)", err.Error()),
		}
	case errors.Is(err, context.Canceled):
		return &SubmitError{
			Err:       err,
			Retryable: true,
			Message:   "Payment order submission cancelled; draft kept",
		}
	default:
		return &SubmitError{
			Err:       fmt.Errorf("%w: %w", shared.ErrUnavailable, err),
			Retryable: true,
			Message:   fmt.Sprintf("Payment order not sent; draft kept for retry (%s)", err.Error()),
		}
	}
}

// MalformedRecordError describes a collaborator record that failed normalization.
type MalformedRecordError struct {
	Kind   string
	ID     int64
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %d: %s: %s", e.Kind, e.ID, e.Field, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error {
	return shared.ErrMalformedRecord
}

// classify maps transport failures onto the unavailable category.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{shared.ErrNotFound, shared.ErrConflict, shared.ErrValidation, shared.ErrUnavailable, shared.ErrMalformedRecord, context.Canceled} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", shared.ErrUnavailable, err)
}
