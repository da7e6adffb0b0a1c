/*
repository.go - Persistence contract for the billing services

PURPOSE:
  One interface covering every table a billing operation writes, so a whole
  operation (records + ledger events + cached balance) can run inside a
  single transaction. Repository embeds ledger.Store: the Ledger is bound to
  the same transaction-scoped Repository as the invoice/return writes.

NOT-FOUND CONTRACT:
  Get* methods return the package's not-found sentinels
  (ErrInvoiceNotFound, ErrReturnNotFound, ErrCustomerNotFound, ErrItemNotFound)
  wrapped with the ID. Driver failures wrap ledger.ErrStoreUnavailable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/ledger"
)

// Inventory is the read-only collaborator used to populate invoice lines.
type Inventory interface {
	GetInventoryItem(ctx context.Context, id string) (InventoryItem, error)
}

// Repository is every read/write a billing operation needs.
type Repository interface {
	ledger.Store

	// Customers
	InsertCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	ListCustomers(ctx context.Context) ([]Customer, error)
	CustomerReferenced(ctx context.Context, id string) (bool, error)

	// Invoices (with their lines)
	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	UpdateInvoicePayment(ctx context.Context, id string, amountPaid, remainingDue decimal.Decimal) error
	DeleteInvoice(ctx context.Context, id string) error
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	// Returns (with their lines)
	InsertReturn(ctx context.Context, r Return) error
	GetReturn(ctx context.Context, id string) (Return, error)
	SetReturnRefundEvent(ctx context.Context, id string, eventID ledger.EventID) error
	MarkReturnCleared(ctx context.Context, id string, clearingEventID ledger.EventID, at time.Time) error
	DeleteReturn(ctx context.Context, id string) error
	ListReturns(ctx context.Context, f ReturnFilter) ([]Return, error)

	// ReturnedQuantities sums returned quantity per invoice line over the
	// invoice's live returns.
	ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error)

	// DetachReturns clears the invoice back-reference on returns of a
	// deleted invoice. The invoice number is kept for display.
	DetachReturns(ctx context.Context, invoiceID string) error

	// NextNumber allocates the next document number for prefix ("INV-", "RET-").
	NextNumber(ctx context.Context, prefix string) (string, error)
}

// TxRepository wraps Repository with transaction support.
type TxRepository interface {
	Repository

	// InTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	InTx(ctx context.Context, fn func(Repository) error) error
}
