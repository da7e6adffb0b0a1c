/*
Package reporting provides the ReportingView: read-only aggregations over
committed billing and ledger state.

PURPOSE:
  Advisory dashboards. Reads may be stale by the time they are rendered;
  nothing here feeds back into a balance.

REPORTS:
  - ProfitLines / ProfitByProduct: line-level and per-item profit
  - Payments: payment history with kind / customer / date filters
  - Dashboard: revenue, profit, invoice counts, outstanding due,
    pending refunds, low stock
  - LowStock: items below their reorder level

DATE RANGES:
  From is inclusive from the start of its day, To is inclusive of its whole
  day. Either may be nil.

SEE ALSO:
  - view.go: the aggregations
  - store/sqlite: Source implementation
*/
package reporting

import (
	"context"
	"time"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// Source is the read surface the view aggregates over.
type Source interface {
	ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error)
	ListReturns(ctx context.Context, f billing.ReturnFilter) ([]billing.Return, error)
	ListCustomers(ctx context.Context) ([]billing.Customer, error)
	ListInventoryItems(ctx context.Context) ([]billing.InventoryItem, error)
	PaymentEvents(ctx context.Context, f PaymentFilter) ([]ledger.Event, error)
}

// Range is an optional date range, inclusive on both ends.
type Range struct {
	From *time.Time
	To   *time.Time
}

// PaymentFilter narrows payment history.
type PaymentFilter struct {
	CustomerID string
	Kind       ledger.EventKind // empty means every payment kind
	Range

	// IncludeReversed keeps deleted payments in the listing.
	IncludeReversed bool
}
