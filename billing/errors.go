package billing

import (
	"errors"

	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/metrics"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrReturnNotFound  = errors.New("return not found")
	ErrItemNotFound    = errors.New("inventory item not found")

	// ErrCustomerNotFound is the ledger's; customers and balance cells share a row.
	ErrCustomerNotFound = ledger.ErrCustomerNotFound

	// ErrCustomerInUse is returned when deleting a customer that invoices,
	// returns or ledger events still reference.
	ErrCustomerInUse = errors.New("customer is referenced by billing records")

	// ErrNotAPayment is returned by DeletePayment for non-payment events.
	ErrNotAPayment = errors.New("event is not a payment")

	ErrNoLineItems     = errors.New("at least one line item is required")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrLineNotFound    = errors.New("invoice line not found")

	ErrAlreadyCleared  = ledger.ErrAlreadyCleared
	ErrAlreadyReversed = ledger.ErrAlreadyReversed
)

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return ledger.IsNotFound(err) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrReturnNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return ledger.IsClientError(err) ||
		errors.Is(err, ErrNotAPayment) ||
		errors.Is(err, ErrNoLineItems) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrLineNotFound)
}

// IsConflict returns true if the request clashes with the current state.
func IsConflict(err error) bool {
	return ledger.IsConflict(err) || errors.Is(err, ErrCustomerInUse)
}

// outcome classifies an error for the operations metric.
func outcome(err error) string {
	if IsNotFound(err) || IsClientError(err) || IsConflict(err) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeFailed
}
