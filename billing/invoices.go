/*
invoices.go - Invoice issuance and deletion

ISSUANCE:
  The customer's current due is folded into the new invoice:

    total     = Σ(qty × salePrice) + previousDue
    remaining = total - amountPaid

  previousDue is already on the ledger, so the issuance event only carries
  the line subtotal. A payment taken at the counter is a separate
  invoice_payment event so it shows up in payment history:

    invoice_issued   +subtotal
    invoice_payment  -amountPaid   (only if > 0)

  Net effect on current_due: total - amountPaid - previousDue.

DELETION:
  Every live event referencing the invoice is reversed (issuance and all
  payments applied to it), returns keep their invoice number but lose the
  link, then the invoice and its lines are removed.
*/
package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/ledger"
)

type InvoiceService struct {
	*core
}

// LineInput describes one invoice line. With ItemID set, missing name,
// sale price and cost are filled from inventory.
type LineInput struct {
	ItemID    string
	ItemName  string
	Quantity  int
	SalePrice *decimal.Decimal
	CostPrice *decimal.Decimal
}

type CreateInvoiceInput struct {
	CustomerID string
	Lines      []LineInput
	AmountPaid decimal.Decimal
	Date       time.Time // zero means now
}

// =============================================================================
// CREATE
// =============================================================================

func (s *InvoiceService) Create(ctx context.Context, in CreateInvoiceInput) (Invoice, error) {
	const op = "create_invoice"
	if err := validateInvoiceInput(in); err != nil {
		return Invoice{}, s.reject(op, err)
	}

	// Inventory is read before the transaction; cost is captured here.
	lines, err := s.resolveLines(ctx, in.Lines)
	if err != nil {
		return Invoice{}, s.reject(op, err)
	}

	now := s.ledger.Now()
	date := in.Date
	if date.IsZero() {
		date = now
	}

	var inv Invoice
	err = s.mutate(ctx, op, in.CustomerID, func(r Repository, l *ledger.Ledger) error {
		cust, err := r.GetCustomer(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		previousDue, err := r.CachedBalance(ctx, ledger.CustomerID(cust.ID))
		if err != nil {
			return err
		}
		number, err := s.allocate(ctx, r, InvoicePrefix)
		if err != nil {
			return err
		}

		inv = Invoice{
			ID:              s.newID(),
			Number:          number,
			CustomerID:      cust.ID,
			CustomerName:    cust.Name,
			CustomerPhone:   cust.Phone,
			CustomerAddress: cust.Address,
			Date:            date,
			PreviousDue:     previousDue,
			AmountPaid:      in.AmountPaid,
			CreatedAt:       now,
		}
		for i := range lines {
			lines[i].ID = s.newID()
			lines[i].InvoiceID = inv.ID
		}
		inv.Lines = lines
		subtotal := inv.Subtotal()
		inv.TotalAmount = subtotal.Add(previousDue)
		inv.RemainingDue = inv.TotalAmount.Sub(in.AmountPaid)

		if err := r.InsertInvoice(ctx, inv); err != nil {
			return err
		}

		ref := ledger.Reference{InvoiceID: inv.ID}
		if !subtotal.IsZero() {
			if _, err := l.Post(ctx, ledger.Entry{
				CustomerID:   ledger.CustomerID(cust.ID),
				CustomerName: cust.Name,
				Amount:       subtotal,
				Kind:         ledger.KindInvoiceIssued,
				Ref:          ref,
				Notes:        "Invoice " + inv.Number,
			}); err != nil {
				return err
			}
		}
		if in.AmountPaid.IsPositive() {
			if _, err := l.Post(ctx, ledger.Entry{
				CustomerID:   ledger.CustomerID(cust.ID),
				CustomerName: cust.Name,
				Amount:       in.AmountPaid.Neg(),
				Kind:         ledger.KindInvoicePayment,
				Ref:          ref,
				Notes:        "Payment for invoice " + inv.Number,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("invoice_number", inv.Number),
		zap.String("customer_id", inv.CustomerID),
		zap.String("total", inv.TotalAmount.String()),
		zap.String("paid", inv.AmountPaid.String()),
	)
	return inv, nil
}

func validateInvoiceInput(in CreateInvoiceInput) error {
	if in.CustomerID == "" {
		return ledger.Invalid("customer_id", "is required")
	}
	if len(in.Lines) == 0 {
		return ledger.Invalid("lines", "at least one line item is required", ErrNoLineItems)
	}
	for i, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if line.Quantity <= 0 {
			return ledger.Invalid(field+".quantity", "must be greater than zero", ErrInvalidQuantity)
		}
		if line.SalePrice != nil && line.SalePrice.IsNegative() {
			return ledger.Invalid(field+".sale_price", "must not be negative", ledger.ErrInvalidAmount)
		}
		if line.CostPrice != nil && line.CostPrice.IsNegative() {
			return ledger.Invalid(field+".cost_price", "must not be negative", ledger.ErrInvalidAmount)
		}
		if line.ItemID == "" {
			if strings.TrimSpace(line.ItemName) == "" {
				return ledger.Invalid(field+".item_name", "is required without item_id")
			}
			if line.SalePrice == nil {
				return ledger.Invalid(field+".sale_price", "is required without item_id")
			}
		}
	}
	if in.AmountPaid.IsNegative() {
		return ledger.Invalid("amount_paid", "must not be negative", ledger.ErrInvalidAmount)
	}
	return nil
}

// resolveLines fills line details from inventory.
func (s *InvoiceService) resolveLines(ctx context.Context, in []LineInput) ([]InvoiceLine, error) {
	out := make([]InvoiceLine, len(in))
	for i, li := range in {
		line := InvoiceLine{
			ItemID:   li.ItemID,
			ItemName: strings.TrimSpace(li.ItemName),
			Quantity: li.Quantity,
		}
		if li.SalePrice != nil {
			line.SalePrice = *li.SalePrice
		}
		if li.CostPrice != nil {
			line.CostPrice = *li.CostPrice
		}

		if li.ItemID != "" && (line.ItemName == "" || li.SalePrice == nil || li.CostPrice == nil) {
			if s.inventory == nil {
				return nil, fmt.Errorf("%w: %s (no inventory configured)", ErrItemNotFound, li.ItemID)
			}
			item, err := s.inventory.GetInventoryItem(ctx, li.ItemID)
			if err != nil {
				return nil, err
			}
			if line.ItemName == "" {
				line.ItemName = item.Name
			}
			if li.SalePrice == nil {
				line.SalePrice = item.RetailPrice
			}
			if li.CostPrice == nil {
				line.CostPrice = item.CostPrice
			}
		}
		out[i] = line
	}
	return out, nil
}

// =============================================================================
// DELETE
// =============================================================================

func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	const op = "delete_invoice"
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return s.reject(op, err)
	}

	var reversed []ledger.Event
	err = s.mutate(ctx, op, inv.CustomerID, func(r Repository, l *ledger.Ledger) error {
		// Re-read under the lock; a concurrent delete wins.
		if _, err := r.GetInvoice(ctx, id); err != nil {
			return err
		}
		// Refunds and clearings of linked returns carry the invoice ID too.
		evs, err := r.EventsByReference(ctx, ledger.Reference{InvoiceID: id})
		if err != nil {
			return err
		}
		reversed, err = l.ReverseLive(ctx, evs, "Invoice "+inv.Number+" deleted")
		if err != nil {
			return err
		}
		if err := r.DetachReturns(ctx, id); err != nil {
			return err
		}
		return r.DeleteInvoice(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("invoice deleted",
		zap.String("invoice_id", id),
		zap.String("invoice_number", inv.Number),
		zap.String("customer_id", inv.CustomerID),
		zap.Int("reversed_events", len(reversed)),
	)
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *InvoiceService) Get(ctx context.Context, id string) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *InvoiceService) List(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, f)
}
