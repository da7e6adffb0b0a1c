package reporting_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/reporting"
	"github.com/warp/billing-ledger/store/sqlite"
)

func rs(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func price(v string) *decimal.Decimal {
	d := rs(v)
	return &d
}

var today = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *sqlite.Store
	svc   *billing.Services
	view  *reporting.View
	ravi  billing.Customer
	meena billing.Customer
}

// newFixture sells two products over two days, takes one general payment
// and leaves one pending return.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return today }
	f := &fixture{
		store: store,
		svc:   billing.NewServices(store, store, billing.WithLedgerOptions(ledger.WithClock(clock))),
		view:  reporting.NewView(store).WithClock(clock),
	}

	f.ravi, err = f.svc.Customers.Create(ctx, billing.CreateCustomerInput{Name: "Ravi"})
	require.NoError(t, err)
	f.meena, err = f.svc.Customers.Create(ctx, billing.CreateCustomerInput{Name: "Meena", OpeningDue: rs("-20")})
	require.NoError(t, err)

	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "soap", Name: "Soap", CostPrice: rs("20"), RetailPrice: rs("25"),
		StockQuantity: 2, ReorderLevel: 5, CreatedAt: today, UpdatedAt: today,
	}))
	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "rice", Name: "Rice", CostPrice: rs("300"), RetailPrice: rs("350"),
		StockQuantity: 40, ReorderLevel: 10, CreatedAt: today, UpdatedAt: today,
	}))

	// yesterday: 4 soap to Ravi, unpaid
	_, err = f.svc.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: f.ravi.ID,
		Date:       today.AddDate(0, 0, -1),
		Lines:      []billing.LineInput{{ItemID: "soap", Quantity: 4}},
	})
	require.NoError(t, err)

	// today: 1 rice + 2 soap to Ravi, paid 100
	inv, err := f.svc.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: f.ravi.ID,
		Lines: []billing.LineInput{
			{ItemID: "rice", Quantity: 1},
			{ItemID: "soap", Quantity: 2},
		},
		AmountPaid: rs("100"),
	})
	require.NoError(t, err)

	_, err = f.svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: f.ravi.ID, Amount: rs("50")})
	require.NoError(t, err)

	_, err = f.svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[1].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	return f
}

// =============================================================================
// PROFIT
// =============================================================================

func TestProfitByProduct(t *testing.T) {
	f := newFixture(t)

	products, err := f.view.ProfitByProduct(context.Background(), reporting.Range{})
	require.NoError(t, err)
	require.Len(t, products, 2)

	// Rice: 350-300 = 50; Soap: 6 × 5 = 30
	assert.Equal(t, "Rice", products[0].ItemName)
	assert.True(t, rs("50").Equal(products[0].TotalProfit))
	assert.Equal(t, "Soap", products[1].ItemName)
	assert.Equal(t, 6, products[1].TotalQuantity)
	assert.Equal(t, 2, products[1].TransactionCount)
	assert.True(t, rs("150").Equal(products[1].TotalRevenue))
	assert.True(t, rs("30").Equal(products[1].TotalProfit))
	assert.True(t, rs("20").Equal(products[1].Margin()))
}

func TestProfitLines_DateRange(t *testing.T) {
	f := newFixture(t)
	from := today

	lines, err := f.view.ProfitLines(context.Background(), reporting.Range{From: &from, To: &from})
	require.NoError(t, err)
	assert.Len(t, lines, 2, "only today's invoice")
	for _, l := range lines {
		assert.True(t, l.Revenue.Sub(l.Cost).Equal(l.Profit))
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.view.Payments(ctx, reporting.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, rs("150").Equal(reporting.PaymentTotal(all)))

	general, err := f.view.Payments(ctx, reporting.PaymentFilter{Kind: ledger.KindDuePayment})
	require.NoError(t, err)
	require.Len(t, general, 1)
	assert.True(t, rs("-50").Equal(general[0].Amount))

	none, err := f.view.Payments(ctx, reporting.PaymentFilter{CustomerID: f.meena.ID})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.view.Payments(ctx, reporting.PaymentFilter{Kind: ledger.KindRefund})
	assert.ErrorIs(t, err, ledger.ErrInvalidKind)
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard(t *testing.T) {
	f := newFixture(t)

	d, err := f.view.Dashboard(context.Background(), reporting.Range{})
	require.NoError(t, err)

	// Revenue 100 + 350 + 50; profit 20 + 50 + 10
	assert.True(t, rs("500").Equal(d.TotalRevenue), "revenue %s", d.TotalRevenue)
	assert.True(t, rs("80").Equal(d.TotalProfit), "profit %s", d.TotalProfit)
	assert.True(t, rs("16").Equal(d.ProfitMargin()))
	assert.Equal(t, 2, d.InvoiceCount)
	assert.Equal(t, 1, d.InvoicesToday)

	// Ravi: 100 + 400 - 100 - 50 - 25 = 325; Meena: -20
	assert.True(t, rs("325").Equal(d.OutstandingDue), "outstanding %s", d.OutstandingDue)
	assert.True(t, rs("20").Equal(d.CustomerCredit))
	assert.Equal(t, 2, d.CustomerCount)

	assert.Equal(t, 1, d.PendingReturns)
	assert.True(t, rs("25").Equal(d.PendingRefunds))

	assert.Equal(t, 1, d.LowStockCount)
	assert.True(t, rs("12040").Equal(d.InventoryValue), "inventory %s", d.InventoryValue)
}

func TestLowStock(t *testing.T) {
	f := newFixture(t)

	items, err := f.view.LowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Soap", items[0].Name)
}
