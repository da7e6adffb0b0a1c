/*
Package billing implements the point-of-sale billing services on top of the
ledger: customers, invoices, payments and product returns.

PURPOSE:
  Every operation here that moves money touches several records: an invoice
  and its lines, a payment and the invoice it settles, a return and its
  lines. Each such operation runs as one repository transaction, under the
  customer's lock, and posts its balance effect through the ledger in the
  same transaction. Nothing in this package writes current_due directly.

KEY TYPES (types.go):
  - Customer:      contact fields + cached current due (read-only here)
  - InventoryItem: collaborator record used to fill invoice lines
  - Invoice / InvoiceLine
  - Return / ReturnLine
  - ReturnStatus:  pending -> cleared

SEE ALSO:
  - invoices.go, payments.go, returns.go, customers.go: services
  - repository.go: persistence contract
  - ledger/: balance events
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// CUSTOMER
// =============================================================================

type Customer struct {
	ID         string
	Name       string
	Phone      string
	Address    string
	CurrentDue decimal.Decimal // cached projection, maintained by the ledger
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// INVENTORY (collaborator)
// =============================================================================

type InventoryItem struct {
	ID            string
	Name          string
	SKU           string
	CostPrice     decimal.Decimal
	RetailPrice   decimal.Decimal
	StockQuantity int
	ReorderLevel  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LowStock reports whether the item is below its reorder level.
func (i InventoryItem) LowStock() bool { return i.StockQuantity < i.ReorderLevel }

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID              string
	Number          string
	CustomerID      string
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	Date            time.Time

	// PreviousDue is the customer's due folded into TotalAmount at issuance.
	PreviousDue  decimal.Decimal
	TotalAmount  decimal.Decimal
	AmountPaid   decimal.Decimal
	RemainingDue decimal.Decimal

	Lines     []InvoiceLine
	CreatedAt time.Time
}

// Subtotal is the line-item total, without the previous due.
func (inv Invoice) Subtotal() decimal.Decimal {
	return linesTotal(inv.Lines)
}

// Line returns the line with the given ID.
func (inv Invoice) Line(id string) (InvoiceLine, bool) {
	for _, l := range inv.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return InvoiceLine{}, false
}

type InvoiceLine struct {
	ID        string
	InvoiceID string
	ItemID    string
	ItemName  string
	Quantity  int
	SalePrice decimal.Decimal
	CostPrice decimal.Decimal // captured at sale time
}

func (l InvoiceLine) Total() decimal.Decimal {
	return l.SalePrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l InvoiceLine) Profit() decimal.Decimal {
	return l.SalePrice.Sub(l.CostPrice).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func linesTotal(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// InvoiceFilter narrows ListInvoices. Zero values mean "any".
type InvoiceFilter struct {
	CustomerID string
	From       *time.Time
	To         *time.Time // inclusive of the whole day
}

// =============================================================================
// RETURN
// =============================================================================

type ReturnStatus string

const (
	ReturnPending ReturnStatus = "pending"
	ReturnCleared ReturnStatus = "cleared"
)

type Return struct {
	ID            string
	Number        string
	InvoiceID     string // empty once the originating invoice is deleted
	InvoiceNumber string
	CustomerID    string
	CustomerName  string
	Date          time.Time
	TotalItems    int
	RefundAmount  decimal.Decimal
	Notes         string

	Status          ReturnStatus
	ClearedAt       *time.Time
	RefundEventID   ledger.EventID // empty for zero-value refunds
	ClearingEventID ledger.EventID

	Lines     []ReturnLine
	CreatedAt time.Time
}

func (r Return) IsCleared() bool { return r.Status == ReturnCleared }

type ReturnLine struct {
	ID            string
	ReturnID      string
	InvoiceLineID string
	ItemID        string
	ItemName      string
	Quantity      int
	SalePrice     decimal.Decimal
	CostPrice     decimal.Decimal
}

func (l ReturnLine) Total() decimal.Decimal {
	return l.SalePrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ReturnFilter narrows ListReturns.
type ReturnFilter struct {
	CustomerID string
	InvoiceID  string
	Status     ReturnStatus
}
