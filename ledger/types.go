/*
Package ledger provides the LedgerStore: the durable record of every
balance-affecting event and the cached balance per customer.

PURPOSE:
  Every change to what a customer owes is an Event: an invoice being issued,
  a payment, a refund, a refund being cleared, and the reversals of those.
  The customer's current due is a cached projection of those events. It is
  only ever written by this package, in the same transaction as the event
  that moves it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Event: an immutable signed amount for one customer
  - EventKind: what the event represents (issuance, payment, refund...)
  - Reference: which invoice / return an event belongs to
  - Entry: the input to Post

SIGN CONVENTION:
  Positive amounts increase the due (customer owes more).
  Negative amounts decrease it (payments, pending refunds).
  A negative balance means the shop owes the customer.

INVARIANT:
  For every customer:
    current_due == Σ amount of events that are neither reversed nor reversals
               == Σ amount of all events
  The two sums are equal because a reversal carries exactly -original.

SEE ALSO:
  - ledger.go: Post / Reverse / Balance / Replay
  - store.go: persistence interface
  - locks.go: per-customer serialization
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type EventID string

// =============================================================================
// EVENT KINDS
// =============================================================================

type EventKind string

const (
	KindOpeningBalance EventKind = "opening_balance" // Due carried in when the customer is registered
	KindInvoiceIssued  EventKind = "invoice_issued"  // New obligation from an invoice's line items
	KindInvoicePayment EventKind = "invoice_payment" // Payment applied to a specific invoice
	KindPartialPayment EventKind = "partial_payment" // Legacy payment type, readable but never written
	KindDuePayment     EventKind = "due_payment"     // General payment against the customer's due
	KindRefund         EventKind = "refund"          // Pending refund from a product return
	KindRefundCleared  EventKind = "refund_cleared"  // Refund forgiven, added back onto the due
	KindReversal       EventKind = "reversal"        // Compensates a previous event
)

var allKinds = []EventKind{
	KindOpeningBalance,
	KindInvoiceIssued,
	KindInvoicePayment,
	KindPartialPayment,
	KindDuePayment,
	KindRefund,
	KindRefundCleared,
	KindReversal,
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsPayment reports whether k is one of the payment history types.
func (k EventKind) IsPayment() bool {
	return k == KindInvoicePayment || k == KindPartialPayment || k == KindDuePayment
}

// ParseKind converts a string to an EventKind.
func ParseKind(s string) (EventKind, bool) {
	k := EventKind(s)
	return k, k.Valid()
}

// =============================================================================
// REFERENCE - What an event belongs to
// =============================================================================

// Reference links an event to the record that produced it.
// Both fields may be empty (general due payment, opening balance).
type Reference struct {
	InvoiceID string
	ReturnID  string
}

func (r Reference) IsZero() bool { return r.InvoiceID == "" && r.ReturnID == "" }

// =============================================================================
// EVENT - Immutable balance change
// =============================================================================

// Event is one row of the ledger.
//
// Only three things may change after an event is written:
//   - ReversedBy/ReversedAt, once, when a reversal is posted
//   - Cleared/ClearedAt, once, on refund events
type Event struct {
	ID           EventID
	CustomerID   CustomerID
	CustomerName string
	Amount       decimal.Decimal
	Kind         EventKind
	Ref          Reference
	Notes        string

	// Reverses is set on reversal events and names the compensated event.
	Reverses   EventID
	ReversedBy EventID
	ReversedAt *time.Time

	Cleared   bool
	ClearedAt *time.Time

	CreatedAt time.Time
}

// IsReversed reports whether a reversal has been posted for this event.
func (e Event) IsReversed() bool { return e.ReversedBy != "" }

// Live reports whether the event still contributes to the balance on its own.
// Reversed originals and reversal entries cancel each other out and are not live.
func (e Event) Live() bool { return !e.IsReversed() && e.Kind != KindReversal }

// =============================================================================
// ENTRY - Input to Post
// =============================================================================

// Entry describes an event to post. ID and CreatedAt are assigned by the Ledger.
type Entry struct {
	CustomerID   CustomerID
	CustomerName string
	Amount       decimal.Decimal
	Kind         EventKind
	Ref          Reference
	Notes        string
}

// =============================================================================
// STATEMENT / AUDIT
// =============================================================================

// StatementLine is an event with the balance right after it was applied.
type StatementLine struct {
	Event
	Balance decimal.Decimal
}

// Drift reports a customer whose cached balance disagrees with the replay.
type Drift struct {
	CustomerID CustomerID
	Cached     decimal.Decimal
	Replayed   decimal.Decimal
}

func (d Drift) Difference() decimal.Decimal { return d.Cached.Sub(d.Replayed) }
