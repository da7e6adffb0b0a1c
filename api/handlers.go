/*
handlers.go - HTTP API handlers for the billing ledger

PURPOSE:
  Exposes the billing services and the reporting view via REST API.
  Handles HTTP request/response and JSON serialization, and delegates
  every balance change to the billing services.

ENDPOINTS:
  Customers:
    GET    /api/customers                 List customers
    POST   /api/customers                 Create customer (optional opening due)
    GET    /api/customers/{id}            Get customer
    PUT    /api/customers/{id}            Update contact fields
    DELETE /api/customers/{id}            Delete unreferenced customer
    GET    /api/customers/{id}/balance    Cached due next to the replayed due
    GET    /api/customers/{id}/statement  Events with running balance
    GET    /api/customers/{id}/payments   Payment history

  Inventory:
    GET    /api/inventory                 List items
    POST   /api/inventory                 Create item
    GET    /api/inventory/{id}            Get item
    PUT    /api/inventory/{id}            Replace item
    DELETE /api/inventory/{id}            Delete item

  Invoices:
    GET    /api/invoices                  List (customer_id, from, to)
    POST   /api/invoices                  Issue invoice
    GET    /api/invoices/{id}             Get invoice with lines
    DELETE /api/invoices/{id}             Delete, reversing its events

  Payments:
    GET    /api/payments                  History (customer_id, kind, from, to, include_reversed)
    POST   /api/payments                  Record invoice or general payment
    DELETE /api/payments/{id}             Delete (reverse) a payment

  Returns:
    GET    /api/returns                   List (customer_id, invoice_id, status)
    POST   /api/returns                   Process return
    GET    /api/returns/{id}              Get return with lines
    POST   /api/returns/{id}/clear        Clear the pending refund
    DELETE /api/returns/{id}              Delete, reversing its events

  Reports:
    GET    /api/reports/dashboard         Totals (from, to)
    GET    /api/reports/profit            Line and product profit (from, to)
    GET    /api/reports/low-stock         Items below reorder level

  Ledger:
    GET    /api/ledger/events/{id}        Single event
    GET    /api/ledger/audit              Customers whose cached due drifted
    POST   /api/ledger/repair             Rewrite drifted caches from replay

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already reversed, already cleared, customer in use)
  - 503: Database unavailable, safe to retry
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - validation.go: Body decoding and field errors
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/logging"
	"github.com/warp/billing-ledger/reporting"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// InventoryStore is the inventory CRUD surface.
type InventoryStore interface {
	billing.Inventory
	SaveInventoryItem(ctx context.Context, item billing.InventoryItem) error
	ListInventoryItems(ctx context.Context) ([]billing.InventoryItem, error)
	DeleteInventoryItem(ctx context.Context, id string) error
}

// Pinger reports database reachability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Billing   *billing.Services
	Inventory InventoryStore
	Reports   *reporting.View
	DB        Pinger

	validate *validator.Validate
	log      *zap.Logger
	newID    func() string
	now      func() time.Time
}

// NewHandler creates a handler. log may be nil.
func NewHandler(services *billing.Services, inventory InventoryStore, reports *reporting.View, db Pinger, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Billing:   services,
		Inventory: inventory,
		Reports:   reports,
		DB:        db,
		validate:  newValidator(),
		log:       log,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Billing.Customers.List(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list customers", err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid customer", err)
		return
	}

	c, err := h.Billing.Customers.Create(r.Context(), billing.CreateCustomerInput{
		Name:       req.Name,
		Phone:      req.Phone,
		Address:    req.Address,
		OpeningDue: req.OpeningDue,
	})
	if err != nil {
		h.fail(w, r, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Billing.Customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Customer not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req UpdateCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid customer", err)
		return
	}

	c, err := h.Billing.Customers.Update(r.Context(), chi.URLParam(r, "id"), billing.UpdateCustomerInput{
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		h.fail(w, r, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.Customers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance returns the cached due and the due replayed from events.
// The two differ only if the cache has drifted; see /api/ledger/audit.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	cached, err := h.Billing.Customers.Balance(ctx, id)
	if err != nil {
		h.fail(w, r, "Failed to get balance", err)
		return
	}
	replayed, err := h.Billing.Ledger.Replay(ctx, ledger.CustomerID(id))
	if err != nil {
		h.fail(w, r, "Failed to replay balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		CustomerID:  id,
		CurrentDue:  cached,
		ReplayedDue: replayed,
		Consistent:  cached.Equal(replayed),
	})
}

func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Billing.Customers.Statement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to build statement", err)
		return
	}
	dtos := make([]StatementLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = StatementLineDTO{EventDTO: toEventDTO(l.Event), Balance: l.Balance}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPaymentHistory(w http.ResponseWriter, r *http.Request) {
	evs, err := h.Billing.Payments.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get payment history", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentsReportDTO{
		Payments: toEventDTOs(evs),
		Total:    reporting.PaymentTotal(evs),
	})
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.Inventory.ListInventoryItems(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list inventory", err)
		return
	}
	dtos := make([]InventoryItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toInventoryItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetInventoryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Inventory.GetInventoryItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Inventory item not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryItemDTO(item))
}

func (h *Handler) CreateInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req SaveInventoryItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid inventory item", err)
		return
	}

	now := h.now().UTC()
	item := inventoryItemFrom(req)
	item.ID = h.newID()
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := h.Inventory.SaveInventoryItem(r.Context(), item); err != nil {
		h.fail(w, r, "Failed to save inventory item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryItemDTO(item))
}

func (h *Handler) UpdateInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req SaveInventoryItemRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid inventory item", err)
		return
	}

	ctx := r.Context()
	existing, err := h.Inventory.GetInventoryItem(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Inventory item not found", err)
		return
	}

	item := inventoryItemFrom(req)
	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = h.now().UTC()
	if err := h.Inventory.SaveInventoryItem(ctx, item); err != nil {
		h.fail(w, r, "Failed to save inventory item", err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryItemDTO(item))
}

func (h *Handler) DeleteInventoryItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.DeleteInventoryItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete inventory item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func inventoryItemFrom(req SaveInventoryItemRequest) billing.InventoryItem {
	return billing.InventoryItem{
		Name:          strings.TrimSpace(req.Name),
		SKU:           strings.TrimSpace(req.SKU),
		CostPrice:     req.CostPrice,
		RetailPrice:   req.RetailPrice,
		StockQuantity: req.StockQuantity,
		ReorderLevel:  req.ReorderLevel,
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.fail(w, r, "Invalid date range", err)
		return
	}

	invoices, err := h.Billing.Invoices.List(r.Context(), billing.InvoiceFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
		From:       rng.From,
		To:         rng.To,
	})
	if err != nil {
		h.fail(w, r, "Failed to list invoices", err)
		return
	}
	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid invoice", err)
		return
	}

	in := billing.CreateInvoiceInput{
		CustomerID: req.CustomerID,
		AmountPaid: req.AmountPaid,
		Lines:      make([]billing.LineInput, len(req.Lines)),
	}
	if req.Date != "" {
		// Already checked by the datetime tag.
		in.Date, _ = time.ParseInLocation(dateLayout, req.Date, time.UTC)
	}
	for i, l := range req.Lines {
		in.Lines[i] = billing.LineInput{
			ItemID:    l.ItemID,
			ItemName:  l.ItemName,
			Quantity:  l.Quantity,
			SalePrice: l.SalePrice,
			CostPrice: l.CostPrice,
		}
	}

	inv, err := h.Billing.Invoices.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Billing.Invoices.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Invoice not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.Invoices.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments serves the payment history report.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(r)
	if err != nil {
		h.fail(w, r, "Invalid date range", err)
		return
	}

	f := reporting.PaymentFilter{CustomerID: q.Get("customer_id"), Range: rng}
	if s := q.Get("kind"); s != "" {
		kind, ok := ledger.ParseKind(s)
		if !ok {
			h.fail(w, r, "Invalid payment kind", ledger.Invalid("kind", "unknown kind "+strconv.Quote(s), ledger.ErrInvalidKind))
			return
		}
		f.Kind = kind
	}
	if s := q.Get("include_reversed"); s != "" {
		f.IncludeReversed, err = strconv.ParseBool(s)
		if err != nil {
			h.fail(w, r, "Invalid include_reversed", ledger.Invalid("include_reversed", "must be a boolean", err))
			return
		}
	}

	evs, err := h.Reports.Payments(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentsReportDTO{
		Payments: toEventDTOs(evs),
		Total:    reporting.PaymentTotal(evs),
	})
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid payment", err)
		return
	}

	ev, err := h.Billing.Payments.RecordPayment(r.Context(), billing.RecordPaymentInput{
		CustomerID: req.CustomerID,
		InvoiceID:  req.InvoiceID,
		Amount:     *req.Amount,
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventDTO(ev))
}

// DeletePayment reverses a payment and returns the reversal event.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	rev, err := h.Billing.Payments.DeletePayment(r.Context(), ledger.EventID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(rev))
}

// =============================================================================
// RETURN HANDLERS
// =============================================================================

func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := billing.ReturnFilter{
		CustomerID: q.Get("customer_id"),
		InvoiceID:  q.Get("invoice_id"),
	}
	switch status := billing.ReturnStatus(q.Get("status")); status {
	case "", billing.ReturnPending, billing.ReturnCleared:
		f.Status = status
	default:
		h.fail(w, r, "Invalid status", ledger.Invalid("status", "must be pending or cleared"))
		return
	}

	returns, err := h.Billing.Returns.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list returns", err)
		return
	}
	dtos := make([]ReturnDTO, len(returns))
	for i, ret := range returns {
		dtos[i] = toReturnDTO(ret)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req ProcessReturnRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, "Invalid return", err)
		return
	}

	in := billing.ProcessReturnInput{
		InvoiceID: req.InvoiceID,
		Notes:     req.Notes,
		Lines:     make([]billing.ReturnLineInput, len(req.Lines)),
	}
	for i, l := range req.Lines {
		in.Lines[i] = billing.ReturnLineInput{LineItemID: l.LineItemID, Quantity: l.Quantity}
	}

	ret, err := h.Billing.Returns.ProcessReturn(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to process return", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReturnDTO(ret))
}

func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Billing.Returns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Return not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnDTO(ret))
}

// ClearRefund marks a pending refund as cleared (forgiven onto the due).
func (h *Handler) ClearRefund(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Billing.Returns.ClearRefund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to clear refund", err)
		return
	}
	writeJSON(w, http.StatusOK, toReturnDTO(ret))
}

func (h *Handler) DeleteReturn(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.Returns.DeleteReturn(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete return", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.fail(w, r, "Invalid date range", err)
		return
	}
	d, err := h.Reports.Dashboard(r.Context(), rng)
	if err != nil {
		h.fail(w, r, "Failed to build dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d))
}

func (h *Handler) ProfitReport(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		h.fail(w, r, "Invalid date range", err)
		return
	}
	ctx := r.Context()
	lines, err := h.Reports.ProfitLines(ctx, rng)
	if err != nil {
		h.fail(w, r, "Failed to build profit report", err)
		return
	}
	products, err := h.Reports.ProfitByProduct(ctx, rng)
	if err != nil {
		h.fail(w, r, "Failed to build profit report", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfitReportDTO(lines, products))
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Reports.LowStock(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list low stock", err)
		return
	}
	dtos := make([]InventoryItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toInventoryItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Billing.Ledger.Event(r.Context(), ledger.EventID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, "Event not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(ev))
}

// Audit lists customers whose cached due disagrees with the replay.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.Billing.Ledger.Audit(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to audit ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditDTO{Drifts: toDriftDTOs(drifts)})
}

// Repair audits, then rewrites each drifted cache from its replay.
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	drifts, err := h.Billing.Ledger.Audit(ctx)
	if err != nil {
		h.fail(w, r, "Failed to audit ledger", err)
		return
	}
	for _, d := range drifts {
		if _, err := h.Billing.Ledger.Repair(ctx, d.CustomerID); err != nil {
			h.fail(w, r, "Failed to repair balance", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, AuditDTO{Drifts: toDriftDTOs(drifts), Repaired: len(drifts) > 0})
}

func toDriftDTOs(drifts []ledger.Drift) []DriftDTO {
	out := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		out[i] = DriftDTO{
			CustomerID: string(d.CustomerID),
			Cached:     d.Cached,
			Replayed:   d.Replayed,
			Difference: d.Difference(),
		}
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// parseRange reads optional from/to query parameters (YYYY-MM-DD).
func parseRange(r *http.Request) (reporting.Range, error) {
	var rng reporting.Range
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return reporting.Range{}, ledger.Invalid(p.name, "must be a date formatted YYYY-MM-DD", err)
		}
		*p.dst = &t
	}
	if rng.From != nil && rng.To != nil && rng.To.Before(*rng.From) {
		return reporting.Range{}, ledger.Invalid("to", "must not be before from")
	}
	return rng, nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged
// with the request's logger; client errors are logged by requestLogger.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var br *badRequest
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &br):
		resp.Fields = br.fields
	case errors.As(err, &ve):
		resp.Fields = []FieldErrorDTO{{Field: ve.Field, Message: ve.Message}}
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error(message, zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
