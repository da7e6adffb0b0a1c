package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// View computes reports from a Source.
type View struct {
	src Source
	now func() time.Time
}

func NewView(src Source) *View {
	return &View{src: src, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of the view using now for "today".
func (v *View) WithClock(now func() time.Time) *View {
	c := *v
	c.now = now
	return &c
}

// =============================================================================
// PROFIT
// =============================================================================

// ProfitLine is one invoice line with its profit figures.
type ProfitLine struct {
	InvoiceID     string
	InvoiceNumber string
	Date          time.Time
	ItemID        string
	ItemName      string
	Quantity      int
	SalePrice     decimal.Decimal
	CostPrice     decimal.Decimal
	Revenue       decimal.Decimal
	Cost          decimal.Decimal
	Profit        decimal.Decimal
}

// ProductProfit aggregates ProfitLines by item name.
type ProductProfit struct {
	ItemName         string
	TotalQuantity    int
	TotalRevenue     decimal.Decimal
	TotalCost        decimal.Decimal
	TotalProfit      decimal.Decimal
	TransactionCount int
}

// Margin is profit as a percentage of revenue, zero without revenue.
func (p ProductProfit) Margin() decimal.Decimal {
	return margin(p.TotalProfit, p.TotalRevenue)
}

// ProfitLines returns every invoice line in the range, newest invoice first.
func (v *View) ProfitLines(ctx context.Context, r Range) ([]ProfitLine, error) {
	invoices, err := v.src.ListInvoices(ctx, billing.InvoiceFilter{From: r.From, To: r.To})
	if err != nil {
		return nil, err
	}
	var out []ProfitLine
	for _, inv := range invoices {
		for _, l := range inv.Lines {
			qty := decimal.NewFromInt(int64(l.Quantity))
			out = append(out, ProfitLine{
				InvoiceID:     inv.ID,
				InvoiceNumber: inv.Number,
				Date:          inv.Date,
				ItemID:        l.ItemID,
				ItemName:      l.ItemName,
				Quantity:      l.Quantity,
				SalePrice:     l.SalePrice,
				CostPrice:     l.CostPrice,
				Revenue:       l.Total(),
				Cost:          l.CostPrice.Mul(qty),
				Profit:        l.Profit(),
			})
		}
	}
	return out, nil
}

// ProfitByProduct groups lines by item name, highest profit first.
func (v *View) ProfitByProduct(ctx context.Context, r Range) ([]ProductProfit, error) {
	lines, err := v.ProfitLines(ctx, r)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*ProductProfit)
	var order []string
	for _, l := range lines {
		p, ok := byName[l.ItemName]
		if !ok {
			p = &ProductProfit{ItemName: l.ItemName}
			byName[l.ItemName] = p
			order = append(order, l.ItemName)
		}
		p.TotalQuantity += l.Quantity
		p.TotalRevenue = p.TotalRevenue.Add(l.Revenue)
		p.TotalCost = p.TotalCost.Add(l.Cost)
		p.TotalProfit = p.TotalProfit.Add(l.Profit)
		p.TransactionCount++
	}

	out := make([]ProductProfit, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalProfit.GreaterThan(out[j].TotalProfit)
	})
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// Payments returns payment history, newest first.
func (v *View) Payments(ctx context.Context, f PaymentFilter) ([]ledger.Event, error) {
	if f.Kind != "" && !f.Kind.IsPayment() {
		return nil, ledger.Invalid("kind", "must be a payment kind", ledger.ErrInvalidKind)
	}
	return v.src.PaymentEvents(ctx, f)
}

// PaymentTotal sums the amounts received in evs (as a positive number).
func PaymentTotal(evs []ledger.Event) decimal.Decimal {
	return ledger.SumLive(evs).Neg()
}

// =============================================================================
// DASHBOARD
// =============================================================================

type Dashboard struct {
	TotalRevenue   decimal.Decimal
	TotalProfit    decimal.Decimal
	InvoiceCount   int
	InvoicesToday  int
	OutstandingDue decimal.Decimal // sum of positive customer balances
	CustomerCredit decimal.Decimal // sum of negative balances, as a positive number
	PendingRefunds decimal.Decimal
	PendingReturns int
	LowStockCount  int
	CustomerCount  int
	InventoryValue decimal.Decimal // Σ stock × cost
}

func (d Dashboard) ProfitMargin() decimal.Decimal {
	return margin(d.TotalProfit, d.TotalRevenue)
}

// Dashboard summarizes the range plus current balances and stock.
func (v *View) Dashboard(ctx context.Context, r Range) (Dashboard, error) {
	var d Dashboard

	invoices, err := v.src.ListInvoices(ctx, billing.InvoiceFilter{From: r.From, To: r.To})
	if err != nil {
		return Dashboard{}, err
	}
	today := v.now()
	for _, inv := range invoices {
		d.InvoiceCount++
		if sameDay(inv.Date, today) {
			d.InvoicesToday++
		}
		for _, l := range inv.Lines {
			d.TotalRevenue = d.TotalRevenue.Add(l.Total())
			d.TotalProfit = d.TotalProfit.Add(l.Profit())
		}
	}

	customers, err := v.src.ListCustomers(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d.CustomerCount = len(customers)
	for _, c := range customers {
		switch {
		case c.CurrentDue.IsPositive():
			d.OutstandingDue = d.OutstandingDue.Add(c.CurrentDue)
		case c.CurrentDue.IsNegative():
			d.CustomerCredit = d.CustomerCredit.Add(c.CurrentDue.Neg())
		}
	}

	pending, err := v.src.ListReturns(ctx, billing.ReturnFilter{Status: billing.ReturnPending})
	if err != nil {
		return Dashboard{}, err
	}
	d.PendingReturns = len(pending)
	for _, ret := range pending {
		d.PendingRefunds = d.PendingRefunds.Add(ret.RefundAmount)
	}

	items, err := v.src.ListInventoryItems(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	for _, item := range items {
		if item.LowStock() {
			d.LowStockCount++
		}
		d.InventoryValue = d.InventoryValue.Add(item.CostPrice.Mul(decimal.NewFromInt(int64(item.StockQuantity))))
	}
	return d, nil
}

// =============================================================================
// STOCK
// =============================================================================

// LowStock lists items below their reorder level, lowest stock first.
func (v *View) LowStock(ctx context.Context) ([]billing.InventoryItem, error) {
	items, err := v.src.ListInventoryItems(ctx)
	if err != nil {
		return nil, err
	}
	var out []billing.InventoryItem
	for _, item := range items {
		if item.LowStock() {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StockQuantity < out[j].StockQuantity })
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

func margin(profit, revenue decimal.Decimal) decimal.Decimal {
	if !revenue.IsPositive() {
		return decimal.Zero
	}
	return profit.Div(revenue).Mul(hundred).Round(1)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
