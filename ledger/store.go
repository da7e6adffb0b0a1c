/*
store.go - Persistence interface for ledger events and cached balances

PURPOSE:
  Defines the boundary between the ledger logic and the database.
  Implementations: store/sqlite (production), ledger/memstore (tests).

WRITE SURFACE:
  Events are append-only. The only in-place updates are the one-shot
  reversal and clearing markers. Balances are only touched through
  AdjustBalance (Post / Reverse) and SetBalance (Repair).

ATOMICITY:
  TxStore.WithTx runs fn against a transaction-scoped Store. If fn returns
  an error nothing is kept. The Store handed to fn does NOT implement
  TxStore: nesting is not supported, and the Ledger uses that to decide
  whether it must open its own transaction.

SEE ALSO:
  - ledger.go: uses Store
  - store/sqlite/sqlite.go, ledger/memstore/memory.go: implementations
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists events and the cached balance projection.
type Store interface {
	// AppendEvent writes a new event. The event ID must be unique.
	AppendEvent(ctx context.Context, ev Event) error

	// GetEvent returns ErrEventNotFound if absent.
	GetEvent(ctx context.Context, id EventID) (Event, error)

	// MarkReversed records that id was compensated by reversal `by`.
	MarkReversed(ctx context.Context, id, by EventID, at time.Time) error

	// MarkCleared sets the cleared flag on a refund event.
	MarkCleared(ctx context.Context, id EventID, at time.Time) error

	// EventsByCustomer returns the customer's events, oldest first.
	EventsByCustomer(ctx context.Context, customerID CustomerID) ([]Event, error)

	// EventsByReference returns events whose reference matches every
	// non-empty field of ref, oldest first.
	EventsByReference(ctx context.Context, ref Reference) ([]Event, error)

	// CachedBalance returns ErrCustomerNotFound for unknown customers.
	CachedBalance(ctx context.Context, customerID CustomerID) (decimal.Decimal, error)

	// AdjustBalance adds delta to the cached balance.
	AdjustBalance(ctx context.Context, customerID CustomerID, delta decimal.Decimal) error

	// SetBalance overwrites the cached balance. Repair only.
	SetBalance(ctx context.Context, customerID CustomerID, value decimal.Decimal) error

	// CustomerIDs lists every customer with a balance cell.
	CustomerIDs(ctx context.Context) ([]CustomerID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
