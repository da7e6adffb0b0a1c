package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/metrics"
	"github.com/warp/billing-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServices(t *testing.T) (*billing.Services, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	return billing.NewServices(store, store), store
}

func rs(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func price(v string) *decimal.Decimal {
	d := rs(v)
	return &d
}

func createCustomer(t *testing.T, svc *billing.Services, name, openingDue string) billing.Customer {
	t.Helper()
	c, err := svc.Customers.Create(context.Background(), billing.CreateCustomerInput{
		Name:       name,
		OpeningDue: rs(openingDue),
	})
	require.NoError(t, err)
	return c
}

// createInvoice sells qty units at unitPrice (cost 60) and records paid.
func createInvoice(t *testing.T, svc *billing.Services, customerID string, qty int, unitPrice, paid string) billing.Invoice {
	t.Helper()
	inv, err := svc.Invoices.Create(context.Background(), billing.CreateInvoiceInput{
		CustomerID: customerID,
		Lines: []billing.LineInput{
			{ItemName: "Widget", Quantity: qty, SalePrice: price(unitPrice), CostPrice: price("60")},
		},
		AmountPaid: rs(paid),
	})
	require.NoError(t, err)
	return inv
}

func assertDue(t *testing.T, svc *billing.Services, customerID, want string) {
	t.Helper()
	ctx := context.Background()
	cached, err := svc.Customers.Balance(ctx, customerID)
	require.NoError(t, err)
	replayed, err := svc.Ledger.Replay(ctx, ledger.CustomerID(customerID))
	require.NoError(t, err)
	assert.True(t, rs(want).Equal(cached), "current_due: want %s, got %s", want, cached)
	assert.True(t, cached.Equal(replayed), "current_due %s drifted from replay %s", cached, replayed)
}

func assertInvoice(t *testing.T, svc *billing.Services, id, total, paid, remaining string) {
	t.Helper()
	inv, err := svc.Invoices.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rs(total).Equal(inv.TotalAmount), "total: want %s, got %s", total, inv.TotalAmount)
	assert.True(t, rs(paid).Equal(inv.AmountPaid), "paid: want %s, got %s", paid, inv.AmountPaid)
	assert.True(t, rs(remaining).Equal(inv.RemainingDue), "remaining: want %s, got %s", remaining, inv.RemainingDue)
}

// =============================================================================
// SCENARIOS
// =============================================================================

// Walks the whole lifecycle: issue, pay, return, clear, delete payment.
func TestBilling_Lifecycle(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Asha", "0")

	// Scenario A: 2 x Rs.100, paid 150
	inv := createInvoice(t, svc, cust.ID, 2, "100", "150")
	assert.Equal(t, "INV-00001", inv.Number)
	assertInvoice(t, svc, inv.ID, "200", "150", "50")
	assertDue(t, svc, cust.ID, "50")

	// Scenario B: pay the remaining 50 on the invoice
	payment, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{
		CustomerID: cust.ID,
		InvoiceID:  inv.ID,
		Amount:     rs("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.KindInvoicePayment, payment.Kind)
	assertInvoice(t, svc, inv.ID, "200", "200", "0")
	assertDue(t, svc, cust.ID, "0")

	// Scenario C: return one unit
	ret, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "RET-00001", ret.Number)
	assert.True(t, rs("100").Equal(ret.RefundAmount))
	assert.Equal(t, billing.ReturnPending, ret.Status)
	assertDue(t, svc, cust.ID, "-100")

	// Scenario D: clear the refund
	cleared, err := svc.Returns.ClearRefund(ctx, ret.ID)
	require.NoError(t, err)
	assert.True(t, cleared.IsCleared())
	assert.NotNil(t, cleared.ClearedAt)
	assertDue(t, svc, cust.ID, "0")

	refund, err := svc.Ledger.Event(ctx, ret.RefundEventID)
	require.NoError(t, err)
	assert.True(t, refund.Cleared)

	// Scenario E: delete the payment from B
	_, err = svc.Payments.DeletePayment(ctx, payment.ID)
	require.NoError(t, err)
	assertInvoice(t, svc, inv.ID, "200", "150", "50")
	assertDue(t, svc, cust.ID, "50")

	drifts, err := svc.Ledger.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoice_PreviousDueFoldedIntoTotal(t *testing.T) {
	svc, _ := newTestServices(t)
	cust := createCustomer(t, svc, "Ravi", "30")

	// GIVEN: customer already owes 30
	assertDue(t, svc, cust.ID, "30")

	// WHEN: a Rs.100 invoice is issued unpaid
	inv := createInvoice(t, svc, cust.ID, 1, "100", "0")

	// THEN: invoice carries the old due, but the ledger only grows by the lines
	assert.True(t, rs("30").Equal(inv.PreviousDue))
	assertInvoice(t, svc, inv.ID, "130", "0", "130")
	assertDue(t, svc, cust.ID, "130")
}

func TestInvoice_IssuanceEvents(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")

	inv := createInvoice(t, svc, cust.ID, 2, "100", "150")

	evs, err := svc.Ledger.Events(ctx, ledger.Reference{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, ledger.KindInvoiceIssued, evs[0].Kind)
	assert.True(t, rs("200").Equal(evs[0].Amount))
	assert.Equal(t, ledger.KindInvoicePayment, evs[1].Kind)
	assert.True(t, rs("-150").Equal(evs[1].Amount))
	assert.Equal(t, "Ravi", evs[1].CustomerName)
}

func TestInvoice_Validation(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")

	tests := []struct {
		name    string
		input   billing.CreateInvoiceInput
		wantErr error
	}{
		{
			name:    "no lines",
			input:   billing.CreateInvoiceInput{CustomerID: cust.ID},
			wantErr: billing.ErrNoLineItems,
		},
		{
			name: "zero quantity",
			input: billing.CreateInvoiceInput{CustomerID: cust.ID, Lines: []billing.LineInput{
				{ItemName: "Widget", Quantity: 0, SalePrice: price("10")},
			}},
			wantErr: billing.ErrInvalidQuantity,
		},
		{
			name: "negative paid",
			input: billing.CreateInvoiceInput{CustomerID: cust.ID, AmountPaid: rs("-1"), Lines: []billing.LineInput{
				{ItemName: "Widget", Quantity: 1, SalePrice: price("10")},
			}},
			wantErr: ledger.ErrInvalidAmount,
		},
		{
			name: "negative price",
			input: billing.CreateInvoiceInput{CustomerID: cust.ID, Lines: []billing.LineInput{
				{ItemName: "Widget", Quantity: 1, SalePrice: price("-10")},
			}},
			wantErr: ledger.ErrInvalidAmount,
		},
		{
			name: "free-text line without price",
			input: billing.CreateInvoiceInput{CustomerID: cust.ID, Lines: []billing.LineInput{
				{ItemName: "Widget", Quantity: 1},
			}},
			wantErr: ledger.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Invoices.Create(ctx, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ledger.ErrValidation)
			assert.True(t, billing.IsClientError(err))
		})
	}

	invoices, err := svc.Invoices.List(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assertDue(t, svc, cust.ID, "0")
}

func TestInvoice_UnknownCustomer(t *testing.T) {
	svc, _ := newTestServices(t)

	_, err := svc.Invoices.Create(context.Background(), billing.CreateInvoiceInput{
		CustomerID: "nobody",
		Lines:      []billing.LineInput{{ItemName: "Widget", Quantity: 1, SalePrice: price("10")}},
	})
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
	assert.True(t, billing.IsNotFound(err))
}

func TestInvoice_LinesFilledFromInventory(t *testing.T) {
	svc, store := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")

	now := time.Now().UTC()
	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "item-1", Name: "Rice 5kg", CostPrice: rs("300"), RetailPrice: rs("350"),
		StockQuantity: 10, ReorderLevel: 2, CreatedAt: now, UpdatedAt: now,
	}))

	inv, err := svc.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: cust.ID,
		Lines:      []billing.LineInput{{ItemID: "item-1", Quantity: 2}},
	})
	require.NoError(t, err)

	require.Len(t, inv.Lines, 1)
	line := inv.Lines[0]
	assert.Equal(t, "Rice 5kg", line.ItemName)
	assert.True(t, rs("350").Equal(line.SalePrice))
	assert.True(t, rs("300").Equal(line.CostPrice))
	assertInvoice(t, svc, inv.ID, "700", "0", "700")

	// Cost is captured at sale time
	require.NoError(t, store.SaveInventoryItem(ctx, billing.InventoryItem{
		ID: "item-1", Name: "Rice 5kg", CostPrice: rs("320"), RetailPrice: rs("380"),
		StockQuantity: 10, ReorderLevel: 2, CreatedAt: now, UpdatedAt: now,
	}))
	stored, err := svc.Invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, rs("300").Equal(stored.Lines[0].CostPrice))

	_, err = svc.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: cust.ID,
		Lines:      []billing.LineInput{{ItemID: "missing", Quantity: 1}},
	})
	assert.ErrorIs(t, err, billing.ErrItemNotFound)
}

func TestInvoice_Delete_ReversesEverything(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "20")

	inv := createInvoice(t, svc, cust.ID, 2, "100", "150")
	_, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: cust.ID, InvoiceID: inv.ID, Amount: rs("30")})
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "40")

	// WHEN: the invoice is deleted
	require.NoError(t, svc.Invoices.Delete(ctx, inv.ID))

	// THEN: back to the opening due, every invoice event reversed
	assertDue(t, svc, cust.ID, "20")
	_, err = svc.Invoices.Get(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	evs, err := svc.Ledger.Events(ctx, ledger.Reference{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, evs, 6) // issue, 2 payments, 3 reversals
	for _, ev := range evs {
		assert.False(t, ev.Live(), "event %s (%s) still live", ev.ID, ev.Kind)
	}

	// AND: deleting again is a not-found
	err = svc.Invoices.Delete(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestInvoice_Delete_ReversesReturnsAndDetachesThem(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	// GIVEN: a fully paid 2 x 100 sale with one unit returned
	cust := createCustomer(t, svc, "Ravi", "0")
	inv := createInvoice(t, svc, cust.ID, 2, "100", "200")

	ret, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "-100")

	refunds, err := svc.Ledger.Events(ctx, ledger.Reference{ReturnID: ret.ID})
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, inv.ID, refunds[0].Ref.InvoiceID, "refund is linked to its invoice")

	// WHEN: the invoice is deleted
	require.NoError(t, svc.Invoices.Delete(ctx, inv.ID))

	// THEN: the sale is gone entirely, refund included
	assertDue(t, svc, cust.ID, "0")
	evs, err := svc.Ledger.Events(ctx, ledger.Reference{ReturnID: ret.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2) // refund + its reversal
	for _, ev := range evs {
		assert.False(t, ev.Live(), "event %s (%s) still live", ev.ID, ev.Kind)
	}

	// AND: the return is kept for display, detached from the invoice
	got, err := svc.Returns.Get(ctx, ret.ID)
	require.NoError(t, err)
	assert.Empty(t, got.InvoiceID)
	assert.Equal(t, inv.Number, got.InvoiceNumber)
	assert.Empty(t, got.Lines[0].InvoiceLineID)

	// AND: its reversed refund can no longer be cleared
	_, err = svc.Returns.ClearRefund(ctx, ret.ID)
	assert.ErrorIs(t, err, ledger.ErrNotClearable)
	assertDue(t, svc, cust.ID, "0")

	// AND: deleting the detached return changes nothing
	require.NoError(t, svc.Returns.DeleteReturn(ctx, ret.ID))
	assertDue(t, svc, cust.ID, "0")
}

func TestInvoice_Delete_ReversesClearedRefund(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	// GIVEN: an unpaid 3 x 40 sale, two units returned and the refund cleared
	cust := createCustomer(t, svc, "Ravi", "10")
	inv := createInvoice(t, svc, cust.ID, 3, "40", "0")
	ret, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = svc.Returns.ClearRefund(ctx, ret.ID)
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "130")

	// WHEN: the invoice is deleted
	require.NoError(t, svc.Invoices.Delete(ctx, inv.ID))

	// THEN: only the opening due remains
	assertDue(t, svc, cust.ID, "10")

	evs, err := svc.Ledger.Events(ctx, ledger.Reference{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, evs, 6) // issue, refund, clearing, 3 reversals
	assert.True(t, ledger.SumAll(evs).IsZero())
}

func TestInvoice_ListByDateAndCustomer(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	a := createCustomer(t, svc, "A", "0")
	b := createCustomer(t, svc, "B", "0")

	day := func(d int) time.Time { return time.Date(2025, 3, d, 15, 30, 0, 0, time.UTC) }
	for i, c := range []billing.Customer{a, b, a} {
		_, err := svc.Invoices.Create(ctx, billing.CreateInvoiceInput{
			CustomerID: c.ID,
			Date:       day(10 + i),
			Lines:      []billing.LineInput{{ItemName: "Widget", Quantity: 1, SalePrice: price("10")}},
		})
		require.NoError(t, err)
	}

	from, to := day(10), time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	got, err := svc.Invoices.List(ctx, billing.InvoiceFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, got, 2, "end date includes its whole day")

	got, err = svc.Invoices.List(ctx, billing.InvoiceFilter{CustomerID: a.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "INV-00003", got[0].Number, "newest first")
	assert.Len(t, got[0].Lines, 1)
}

func TestInvoice_NumberingIsMonotonicUnderConcurrency(t *testing.T) {
	svc, _ := newTestServices(t)
	const n = 12

	customers := make([]billing.Customer, n)
	for i := range customers {
		customers[i] = createCustomer(t, svc, fmt.Sprintf("C%02d", i), "0")
	}

	var wg sync.WaitGroup
	numbers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := svc.Invoices.Create(context.Background(), billing.CreateInvoiceInput{
				CustomerID: customers[i].ID,
				Lines:      []billing.LineInput{{ItemName: "Widget", Quantity: 1, SalePrice: price("10")}},
			})
			numbers[i], errs[i] = inv.Number, err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[numbers[i]], "duplicate number %s", numbers[i])
		seen[numbers[i]] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[fmt.Sprintf("INV-%05d", i)], "missing INV-%05d", i)
	}
}

func TestInvoice_NumbersNotReusedAfterDelete(t *testing.T) {
	svc, _ := newTestServices(t)
	cust := createCustomer(t, svc, "Ravi", "0")

	first := createInvoice(t, svc, cust.ID, 1, "10", "0")
	second := createInvoice(t, svc, cust.ID, 1, "10", "0")
	require.NoError(t, svc.Invoices.Delete(context.Background(), second.ID))
	third := createInvoice(t, svc, cust.ID, 1, "10", "0")

	assert.Equal(t, "INV-00001", first.Number)
	assert.Equal(t, "INV-00003", third.Number)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// faultyRepo fails AppendEvent for one event kind inside every transaction.
type faultyRepo struct {
	billing.TxRepository
	failKind ledger.EventKind
}

func (f *faultyRepo) InTx(ctx context.Context, fn func(billing.Repository) error) error {
	return f.TxRepository.InTx(ctx, func(r billing.Repository) error {
		return fn(&faultyTx{Repository: r, failKind: f.failKind})
	})
}

type faultyTx struct {
	billing.Repository
	failKind ledger.EventKind
}

func (f *faultyTx) AppendEvent(ctx context.Context, ev ledger.Event) error {
	if ev.Kind == f.failKind {
		return ledger.Unavailable("append_event", errors.New("disk I/O error"))
	}
	return f.Repository.AppendEvent(ctx, ev)
}

func TestInvoice_Create_RollsBackOnStoreFailure(t *testing.T) {
	store := newTestStore(t)
	healthy := billing.NewServices(store, store)
	faulty := billing.NewServices(&faultyRepo{TxRepository: store, failKind: ledger.KindInvoicePayment}, store)
	ctx := context.Background()
	cust := createCustomer(t, healthy, "Ravi", "0")

	// WHEN: the payment event fails after invoice, lines and issuance were written
	_, err := faulty.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: cust.ID,
		Lines:      []billing.LineInput{{ItemName: "Widget", Quantity: 2, SalePrice: price("100")}},
		AmountPaid: rs("150"),
	})

	// THEN: nothing is visible
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.True(t, ledger.IsRetryable(err))

	invoices, err := healthy.Invoices.List(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices)

	evs, err := store.EventsByCustomer(ctx, ledger.CustomerID(cust.ID))
	require.NoError(t, err)
	assert.Empty(t, evs)
	assertDue(t, healthy, cust.ID, "0")

	// AND: the number was not consumed
	inv := createInvoice(t, healthy, cust.ID, 1, "10", "0")
	assert.Equal(t, "INV-00001", inv.Number)
}

func TestInvoice_Create_CountsEventsOnlyWhenCommitted(t *testing.T) {
	store := newTestStore(t)
	healthy := billing.NewServices(store, store)
	faulty := billing.NewServices(&faultyRepo{TxRepository: store, failKind: ledger.KindInvoicePayment}, store)
	ctx := context.Background()
	cust := createCustomer(t, healthy, "Ravi", "0")
	issued := metrics.LedgerEvents.WithLabelValues(string(ledger.KindInvoiceIssued))
	before := counterValue(t, issued)

	// WHEN: issuance is posted but the transaction rolls back
	_, err := faulty.Invoices.Create(ctx, billing.CreateInvoiceInput{
		CustomerID: cust.ID,
		Lines:      []billing.LineInput{{ItemName: "Widget", Quantity: 2, SalePrice: price("100")}},
		AmountPaid: rs("150"),
	})
	require.Error(t, err)

	// THEN: the rolled back issuance is not counted
	assert.Equal(t, before, counterValue(t, issued))

	// WHEN: the same invoice commits
	createInvoice(t, healthy, cust.ID, 2, "100", "150")

	// THEN
	assert.Equal(t, before+1, counterValue(t, issued))
}

func TestReturn_Process_RollsBackOnStoreFailure(t *testing.T) {
	store := newTestStore(t)
	healthy := billing.NewServices(store, store)
	faulty := billing.NewServices(&faultyRepo{TxRepository: store, failKind: ledger.KindRefund}, store)
	ctx := context.Background()
	cust := createCustomer(t, healthy, "Ravi", "0")
	inv := createInvoice(t, healthy, cust.ID, 2, "100", "200")

	_, err := faulty.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	returns, err := healthy.Returns.List(ctx, billing.ReturnFilter{})
	require.NoError(t, err)
	assert.Empty(t, returns)
	assertDue(t, healthy, cust.ID, "0")
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayment_General(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "500")

	ev, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: cust.ID, Amount: rs("120")})
	require.NoError(t, err)

	assert.Equal(t, ledger.KindDuePayment, ev.Kind)
	assert.True(t, rs("-120").Equal(ev.Amount))
	assert.Equal(t, "General payment", ev.Notes)
	assert.True(t, ev.Ref.IsZero())
	assertDue(t, svc, cust.ID, "380")

	history, err := svc.Payments.History(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ev.ID, history[0].ID)
}

func TestPayment_OverpaymentClampsInvoiceButNotLedger(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")
	inv := createInvoice(t, svc, cust.ID, 2, "100", "150")

	ev, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: cust.ID, InvoiceID: inv.ID, Amount: rs("80")})
	require.NoError(t, err)

	assertInvoice(t, svc, inv.ID, "200", "230", "0")
	assertDue(t, svc, cust.ID, "-30")

	// Deleting it restores the invoice exactly
	_, err = svc.Payments.DeletePayment(ctx, ev.ID)
	require.NoError(t, err)
	assertInvoice(t, svc, inv.ID, "200", "150", "50")
	assertDue(t, svc, cust.ID, "50")
}

func TestPayment_Validation(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")
	other := createCustomer(t, svc, "Meena", "0")
	inv := createInvoice(t, svc, cust.ID, 1, "100", "0")

	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: cust.ID, Amount: rs(amount)})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "amount %s", amount)
	}

	_, err := svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{CustomerID: other.ID, InvoiceID: inv.ID, Amount: rs("5")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = svc.Payments.RecordPayment(ctx, billing.RecordPaymentInput{InvoiceID: "missing", Amount: rs("5")})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	assertDue(t, svc, cust.ID, "100")
	assertDue(t, svc, other.ID, "0")
}

func TestPayment_Delete_Guards(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")
	inv := createInvoice(t, svc, cust.ID, 1, "100", "40")

	evs, err := svc.Ledger.Events(ctx, ledger.Reference{InvoiceID: inv.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	issued, paid := evs[0], evs[1]

	_, err = svc.Payments.DeletePayment(ctx, issued.ID)
	assert.ErrorIs(t, err, billing.ErrNotAPayment)

	_, err = svc.Payments.DeletePayment(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)

	_, err = svc.Payments.DeletePayment(ctx, paid.ID)
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "100")
	assertInvoice(t, svc, inv.ID, "100", "0", "100")

	// Second delete is rejected and changes nothing
	_, err = svc.Payments.DeletePayment(ctx, paid.ID)
	assert.ErrorIs(t, err, billing.ErrAlreadyReversed)
	assert.True(t, billing.IsConflict(err))
	assertDue(t, svc, cust.ID, "100")
	assertInvoice(t, svc, inv.ID, "100", "0", "100")
}

func TestPayment_ConcurrentPaymentsSerializePerCustomer(t *testing.T) {
	svc, _ := newTestServices(t)
	a := createCustomer(t, svc, "A", "100")
	b := createCustomer(t, svc, "B", "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		for _, c := range []billing.Customer{a, b} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := svc.Payments.RecordPayment(context.Background(), billing.RecordPaymentInput{CustomerID: id, Amount: rs("1.5")})
				assert.NoError(t, err)
			}(c.ID)
		}
	}
	wg.Wait()

	assertDue(t, svc, a.ID, "70")
	assertDue(t, svc, b.ID, "70")
}

// =============================================================================
// RETURNS
// =============================================================================

func TestReturn_ClearingRoundTripNetsToZero(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")
	inv := createInvoice(t, svc, cust.ID, 3, "40", "0")
	assertDue(t, svc, cust.ID, "120")

	ret, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "40")

	_, err = svc.Returns.ClearRefund(ctx, ret.ID)
	require.NoError(t, err)
	assertDue(t, svc, cust.ID, "120")

	evs, err := svc.Ledger.Events(ctx, ledger.Reference{ReturnID: ret.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.True(t, ledger.SumAll(evs).IsZero())

	// Clearing twice is rejected
	_, err = svc.Returns.ClearRefund(ctx, ret.ID)
	assert.ErrorIs(t, err, billing.ErrAlreadyCleared)
	assertDue(t, svc, cust.ID, "120")
}

func TestReturn_QuantityLimits(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	cust := createCustomer(t, svc, "Ravi", "0")
	inv := createInvoice(t, svc, cust.ID, 3, "40", "120")
	lineID := inv.Lines[0].ID

	process := func(qty int) error {
		_, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
			InvoiceID: inv.ID,
			Lines:     []billing.ReturnLineInput{{LineItemID: lineID, Quantity: qty}},
		})
		return err
	}

	assert.ErrorIs(t, process(0), billing.ErrInvalidQuantity)
	assert.ErrorIs(t, process(4), billing.ErrInvalidQuantity)

	require.NoError(t, process(2))
	assert.ErrorIs(t, process(2), billing.ErrInvalidQuantity, "only one unit left to return")
	require.NoError(t, process(1))
	assertDue(t, svc, cust.ID, "-120")

	_, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
		InvoiceID: inv.ID,
		Lines:     []billing.ReturnLineInput{{LineItemID: "not-a-line", Quantity: 1}},
	})
	assert.ErrorIs(t, err, billing.ErrLineNotFound)

	_, err = svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{InvoiceID: "missing",
		Lines: []billing.ReturnLineInput{{LineItemID: lineID, Quantity: 1}}})
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestReturn_Delete(t *testing.T) {
	tests := []struct {
		name  string
		clear bool
	}{
		{name: "pending"},
		{name: "cleared", clear: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestServices(t)
			ctx := context.Background()
			cust := createCustomer(t, svc, "Ravi", "0")
			inv := createInvoice(t, svc, cust.ID, 2, "100", "50")
			assertDue(t, svc, cust.ID, "150")

			ret, err := svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
				InvoiceID: inv.ID,
				Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 1}},
			})
			require.NoError(t, err)
			if tt.clear {
				_, err = svc.Returns.ClearRefund(ctx, ret.ID)
				require.NoError(t, err)
			}

			require.NoError(t, svc.Returns.DeleteReturn(ctx, ret.ID))

			assertDue(t, svc, cust.ID, "150")
			_, err = svc.Returns.Get(ctx, ret.ID)
			assert.ErrorIs(t, err, billing.ErrReturnNotFound)

			// The quantity becomes returnable again
			_, err = svc.Returns.ProcessReturn(ctx, billing.ProcessReturnInput{
				InvoiceID: inv.ID,
				Lines:     []billing.ReturnLineInput{{LineItemID: inv.Lines[0].ID, Quantity: 2}},
			})
			assert.NoError(t, err)
		})
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestCustomer_Lifecycle(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	_, err := svc.Customers.Create(ctx, billing.CreateCustomerInput{Name: "  "})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	c := createCustomer(t, svc, "Ravi", "0")
	updated, err := svc.Customers.Update(ctx, c.ID, billing.UpdateCustomerInput{Name: "Ravi K", Phone: "98765"})
	require.NoError(t, err)
	assert.Equal(t, "Ravi K", updated.Name)
	assert.Equal(t, "98765", updated.Phone)

	require.NoError(t, svc.Customers.Delete(ctx, c.ID))
	_, err = svc.Customers.Get(ctx, c.ID)
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestCustomer_DeleteInUse(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()

	withDue := createCustomer(t, svc, "Ravi", "10")
	err := svc.Customers.Delete(ctx, withDue.ID)
	assert.ErrorIs(t, err, billing.ErrCustomerInUse)
	assert.True(t, billing.IsConflict(err))

	_, err = svc.Customers.Get(ctx, withDue.ID)
	assert.NoError(t, err)
}

func TestCustomer_Statement(t *testing.T) {
	svc, _ := newTestServices(t)
	ctx := context.Background()
	c := createCustomer(t, svc, "Ravi", "25")
	createInvoice(t, svc, c.ID, 1, "100", "60")

	lines, err := svc.Customers.Statement(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, ledger.KindOpeningBalance, lines[0].Kind)
	assert.True(t, rs("25").Equal(lines[0].Balance))
	assert.True(t, rs("125").Equal(lines[1].Balance))
	assert.True(t, rs("65").Equal(lines[2].Balance))
	assertDue(t, svc, c.ID, "65")
}
