/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  billing and ledger types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal. They are written as JSON strings ("150.00"
  stays exact) and accepted as strings or numbers.

DATES:
  Request dates are YYYY-MM-DD. Response timestamps are RFC 3339.

VALIDATION:
  Request types carry go-playground/validator tags checked in decode().
  The services validate again; the API is not their only caller.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/reporting"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldErrorDTO `json:"fields,omitempty"`
}

type FieldErrorDTO struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone,omitempty"`
	Address    string          `json:"address,omitempty"`
	CurrentDue decimal.Decimal `json:"current_due"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type CreateCustomerRequest struct {
	Name       string          `json:"name" validate:"required,max=200"`
	Phone      string          `json:"phone" validate:"max=50"`
	Address    string          `json:"address" validate:"max=500"`
	OpeningDue decimal.Decimal `json:"opening_due"`
}

type UpdateCustomerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=50"`
	Address string `json:"address" validate:"max=500"`
}

// BalanceDTO shows the cached due next to the value replayed from events.
type BalanceDTO struct {
	CustomerID  string          `json:"customer_id"`
	CurrentDue  decimal.Decimal `json:"current_due"`
	ReplayedDue decimal.Decimal `json:"replayed_due"`
	Consistent  bool            `json:"consistent"`
}

func toCustomerDTO(c billing.Customer) CustomerDTO {
	return CustomerDTO{
		ID:         c.ID,
		Name:       c.Name,
		Phone:      c.Phone,
		Address:    c.Address,
		CurrentDue: c.CurrentDue,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// LEDGER EVENTS
// =============================================================================

type EventDTO struct {
	ID           string          `json:"id"`
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         string          `json:"kind"`
	InvoiceID    string          `json:"invoice_id,omitempty"`
	ReturnID     string          `json:"return_id,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Reverses     string          `json:"reverses,omitempty"`
	ReversedBy   string          `json:"reversed_by,omitempty"`
	ReversedAt   *string         `json:"reversed_at,omitempty"`
	Cleared      bool            `json:"cleared,omitempty"`
	ClearedAt    *string         `json:"cleared_at,omitempty"`
	Live         bool            `json:"live"`
	CreatedAt    string          `json:"created_at"`
}

type StatementLineDTO struct {
	EventDTO
	Balance decimal.Decimal `json:"balance"`
}

type DriftDTO struct {
	CustomerID string          `json:"customer_id"`
	Cached     decimal.Decimal `json:"cached"`
	Replayed   decimal.Decimal `json:"replayed"`
	Difference decimal.Decimal `json:"difference"`
}

type AuditDTO struct {
	Drifts   []DriftDTO `json:"drifts"`
	Repaired bool       `json:"repaired"`
}

func toEventDTO(ev ledger.Event) EventDTO {
	return EventDTO{
		ID:           string(ev.ID),
		CustomerID:   string(ev.CustomerID),
		CustomerName: ev.CustomerName,
		Amount:       ev.Amount,
		Kind:         string(ev.Kind),
		InvoiceID:    ev.Ref.InvoiceID,
		ReturnID:     ev.Ref.ReturnID,
		Notes:        ev.Notes,
		Reverses:     string(ev.Reverses),
		ReversedBy:   string(ev.ReversedBy),
		ReversedAt:   formatOptional(ev.ReversedAt),
		Cleared:      ev.Cleared,
		ClearedAt:    formatOptional(ev.ClearedAt),
		Live:         ev.Live(),
		CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
	}
}

func toEventDTOs(evs []ledger.Event) []EventDTO {
	out := make([]EventDTO, len(evs))
	for i, ev := range evs {
		out[i] = toEventDTO(ev)
	}
	return out
}

// =============================================================================
// INVENTORY
// =============================================================================

type InventoryItemDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku,omitempty"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	RetailPrice   decimal.Decimal `json:"retail_price"`
	StockQuantity int             `json:"stock_quantity"`
	ReorderLevel  int             `json:"reorder_level"`
	LowStock      bool            `json:"low_stock"`
	UpdatedAt     string          `json:"updated_at"`
}

type SaveInventoryItemRequest struct {
	Name          string          `json:"name" validate:"required,max=200"`
	SKU           string          `json:"sku" validate:"max=100"`
	CostPrice     decimal.Decimal `json:"cost_price" validate:"gte=0"`
	RetailPrice   decimal.Decimal `json:"retail_price" validate:"gte=0"`
	StockQuantity int             `json:"stock_quantity" validate:"gte=0"`
	ReorderLevel  int             `json:"reorder_level" validate:"gte=0"`
}

func toInventoryItemDTO(item billing.InventoryItem) InventoryItemDTO {
	return InventoryItemDTO{
		ID:            item.ID,
		Name:          item.Name,
		SKU:           item.SKU,
		CostPrice:     item.CostPrice,
		RetailPrice:   item.RetailPrice,
		StockQuantity: item.StockQuantity,
		ReorderLevel:  item.ReorderLevel,
		LowStock:      item.LowStock(),
		UpdatedAt:     item.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceDTO struct {
	ID              string           `json:"id"`
	Number          string           `json:"invoice_number"`
	CustomerID      string           `json:"customer_id"`
	CustomerName    string           `json:"customer_name"`
	CustomerPhone   string           `json:"customer_phone,omitempty"`
	CustomerAddress string           `json:"customer_address,omitempty"`
	Date            string           `json:"date"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	PreviousDue     decimal.Decimal  `json:"previous_due"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	AmountPaid      decimal.Decimal  `json:"amount_paid"`
	RemainingDue    decimal.Decimal  `json:"remaining_due"`
	Lines           []InvoiceLineDTO `json:"lines"`
	CreatedAt       string           `json:"created_at"`
}

type InvoiceLineDTO struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id,omitempty"`
	ItemName  string          `json:"item_name"`
	Quantity  int             `json:"quantity"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Total     decimal.Decimal `json:"total"`
	Profit    decimal.Decimal `json:"profit"`
}

type CreateInvoiceRequest struct {
	CustomerID string               `json:"customer_id" validate:"required"`
	Date       string               `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Lines      []InvoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
	AmountPaid decimal.Decimal      `json:"amount_paid" validate:"gte=0"`
}

type InvoiceLineRequest struct {
	ItemID    string           `json:"item_id"`
	ItemName  string           `json:"item_name" validate:"required_without=ItemID,max=200"`
	Quantity  int              `json:"quantity" validate:"required,gte=1"`
	SalePrice *decimal.Decimal `json:"sale_price" validate:"omitempty,gte=0"`
	CostPrice *decimal.Decimal `json:"cost_price" validate:"omitempty,gte=0"`
}

func toInvoiceDTO(inv billing.Invoice) InvoiceDTO {
	lines := make([]InvoiceLineDTO, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = InvoiceLineDTO{
			ID:        l.ID,
			ItemID:    l.ItemID,
			ItemName:  l.ItemName,
			Quantity:  l.Quantity,
			SalePrice: l.SalePrice,
			CostPrice: l.CostPrice,
			Total:     l.Total(),
			Profit:    l.Profit(),
		}
	}
	return InvoiceDTO{
		ID:              inv.ID,
		Number:          inv.Number,
		CustomerID:      inv.CustomerID,
		CustomerName:    inv.CustomerName,
		CustomerPhone:   inv.CustomerPhone,
		CustomerAddress: inv.CustomerAddress,
		Date:            inv.Date.Format(time.RFC3339),
		Subtotal:        inv.Subtotal(),
		PreviousDue:     inv.PreviousDue,
		TotalAmount:     inv.TotalAmount,
		AmountPaid:      inv.AmountPaid,
		RemainingDue:    inv.RemainingDue,
		Lines:           lines,
		CreatedAt:       inv.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

type RecordPaymentRequest struct {
	CustomerID string           `json:"customer_id" validate:"required_without=InvoiceID"`
	InvoiceID  string           `json:"invoice_id"`
	Amount     *decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Notes      string           `json:"notes" validate:"max=500"`
}

type PaymentsReportDTO struct {
	Payments []EventDTO      `json:"payments"`
	Total    decimal.Decimal `json:"total"`
}

// =============================================================================
// RETURNS
// =============================================================================

type ReturnDTO struct {
	ID              string          `json:"id"`
	Number          string          `json:"return_number"`
	InvoiceID       string          `json:"invoice_id,omitempty"`
	InvoiceNumber   string          `json:"invoice_number"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	Date            string          `json:"return_date"`
	TotalItems      int             `json:"total_items"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	Notes           string          `json:"notes,omitempty"`
	Status          string          `json:"status"`
	ClearedAt       *string         `json:"cleared_at,omitempty"`
	RefundEventID   string          `json:"refund_event_id,omitempty"`
	ClearingEventID string          `json:"clearing_event_id,omitempty"`
	Lines           []ReturnLineDTO `json:"lines"`
}

type ReturnLineDTO struct {
	ID            string          `json:"id"`
	InvoiceLineID string          `json:"invoice_line_id,omitempty"`
	ItemName      string          `json:"item_name"`
	Quantity      int             `json:"quantity"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Total         decimal.Decimal `json:"total"`
}

type ProcessReturnRequest struct {
	InvoiceID string              `json:"invoice_id" validate:"required"`
	Lines     []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
	Notes     string              `json:"notes" validate:"max=500"`
}

type ReturnLineRequest struct {
	LineItemID string `json:"line_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"required,gte=1"`
}

func toReturnDTO(ret billing.Return) ReturnDTO {
	lines := make([]ReturnLineDTO, len(ret.Lines))
	for i, l := range ret.Lines {
		lines[i] = ReturnLineDTO{
			ID:            l.ID,
			InvoiceLineID: l.InvoiceLineID,
			ItemName:      l.ItemName,
			Quantity:      l.Quantity,
			SalePrice:     l.SalePrice,
			Total:         l.Total(),
		}
	}
	return ReturnDTO{
		ID:              ret.ID,
		Number:          ret.Number,
		InvoiceID:       ret.InvoiceID,
		InvoiceNumber:   ret.InvoiceNumber,
		CustomerID:      ret.CustomerID,
		CustomerName:    ret.CustomerName,
		Date:            ret.Date.Format(time.RFC3339),
		TotalItems:      ret.TotalItems,
		RefundAmount:    ret.RefundAmount,
		Notes:           ret.Notes,
		Status:          string(ret.Status),
		ClearedAt:       formatOptional(ret.ClearedAt),
		RefundEventID:   string(ret.RefundEventID),
		ClearingEventID: string(ret.ClearingEventID),
		Lines:           lines,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

type DashboardDTO struct {
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	ProfitMargin   decimal.Decimal `json:"profit_margin"`
	InvoiceCount   int             `json:"invoice_count"`
	InvoicesToday  int             `json:"invoices_today"`
	OutstandingDue decimal.Decimal `json:"outstanding_due"`
	CustomerCredit decimal.Decimal `json:"customer_credit"`
	PendingRefunds decimal.Decimal `json:"pending_refunds"`
	PendingReturns int             `json:"pending_returns"`
	LowStockCount  int             `json:"low_stock_count"`
	CustomerCount  int             `json:"customer_count"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
}

type ProfitReportDTO struct {
	Lines    []ProfitLineDTO    `json:"lines"`
	Products []ProductProfitDTO `json:"products"`
}

type ProfitLineDTO struct {
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Date          string          `json:"date"`
	ItemName      string          `json:"item_name"`
	Quantity      int             `json:"quantity"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	Profit        decimal.Decimal `json:"profit"`
}

type ProductProfitDTO struct {
	ItemName         string          `json:"item_name"`
	TotalQuantity    int             `json:"total_quantity"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	Margin           decimal.Decimal `json:"margin"`
	TransactionCount int             `json:"transaction_count"`
}

func toDashboardDTO(d reporting.Dashboard) DashboardDTO {
	return DashboardDTO{
		TotalRevenue:   d.TotalRevenue,
		TotalProfit:    d.TotalProfit,
		ProfitMargin:   d.ProfitMargin(),
		InvoiceCount:   d.InvoiceCount,
		InvoicesToday:  d.InvoicesToday,
		OutstandingDue: d.OutstandingDue,
		CustomerCredit: d.CustomerCredit,
		PendingRefunds: d.PendingRefunds,
		PendingReturns: d.PendingReturns,
		LowStockCount:  d.LowStockCount,
		CustomerCount:  d.CustomerCount,
		InventoryValue: d.InventoryValue,
	}
}

func toProfitReportDTO(lines []reporting.ProfitLine, products []reporting.ProductProfit) ProfitReportDTO {
	out := ProfitReportDTO{
		Lines:    make([]ProfitLineDTO, len(lines)),
		Products: make([]ProductProfitDTO, len(products)),
	}
	for i, l := range lines {
		out.Lines[i] = ProfitLineDTO{
			InvoiceID:     l.InvoiceID,
			InvoiceNumber: l.InvoiceNumber,
			Date:          l.Date.Format(dateLayout),
			ItemName:      l.ItemName,
			Quantity:      l.Quantity,
			Revenue:       l.Revenue,
			Cost:          l.Cost,
			Profit:        l.Profit,
		}
	}
	for i, p := range products {
		out.Products[i] = ProductProfitDTO{
			ItemName:         p.ItemName,
			TotalQuantity:    p.TotalQuantity,
			TotalRevenue:     p.TotalRevenue,
			TotalCost:        p.TotalCost,
			TotalProfit:      p.TotalProfit,
			Margin:           p.Margin(),
			TransactionCount: p.TransactionCount,
		}
	}
	return out
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
