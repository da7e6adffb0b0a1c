/*
returns.go - Product returns and refund clearing

STATE MACHINE:
  pending --ClearRefund--> cleared
  pending|cleared --DeleteReturn--> (deleted)

LEDGER EFFECT:
  ProcessReturn   refund          -refundAmount   (shop owes the customer)
  ClearRefund     refund_cleared  +refundAmount   (refund forgiven; net zero)
  DeleteReturn    reversal of each live event above

RETURNABLE QUANTITY:
  A line can be returned across several returns; the total never exceeds
  the quantity sold on the invoice line.
*/
package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/ledger"
)

type ReturnService struct {
	*core
}

type ReturnLineInput struct {
	LineItemID string
	Quantity   int
}

type ProcessReturnInput struct {
	InvoiceID string
	Lines     []ReturnLineInput
	Notes     string
}

// =============================================================================
// PROCESS
// =============================================================================

func (s *ReturnService) ProcessReturn(ctx context.Context, in ProcessReturnInput) (Return, error) {
	const op = "process_return"
	if err := validateReturnInput(in); err != nil {
		return Return{}, s.reject(op, err)
	}
	inv, err := s.repo.GetInvoice(ctx, in.InvoiceID)
	if err != nil {
		return Return{}, s.reject(op, err)
	}

	var ret Return
	err = s.mutate(ctx, op, inv.CustomerID, func(r Repository, l *ledger.Ledger) error {
		inv, err := r.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		returned, err := r.ReturnedQuantities(ctx, inv.ID)
		if err != nil {
			return err
		}

		now := l.Now()
		ret = Return{
			ID:            s.newID(),
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			CustomerID:    inv.CustomerID,
			CustomerName:  inv.CustomerName,
			Date:          now,
			Notes:         strings.TrimSpace(in.Notes),
			Status:        ReturnPending,
			CreatedAt:     now,
		}
		refund := decimal.Zero
		for i, sel := range in.Lines {
			line, ok := inv.Line(sel.LineItemID)
			if !ok {
				return ledger.Invalid(fmt.Sprintf("lines[%d].line_item_id", i),
					fmt.Sprintf("%s is not on invoice %s", sel.LineItemID, inv.Number), ErrLineNotFound)
			}
			if left := line.Quantity - returned[line.ID]; sel.Quantity > left {
				return ledger.Invalid(fmt.Sprintf("lines[%d].quantity", i),
					fmt.Sprintf("%d exceeds returnable quantity %d of %s", sel.Quantity, left, line.ItemName), ErrInvalidQuantity)
			}
			rl := ReturnLine{
				ID:            s.newID(),
				ReturnID:      ret.ID,
				InvoiceLineID: line.ID,
				ItemID:        line.ItemID,
				ItemName:      line.ItemName,
				Quantity:      sel.Quantity,
				SalePrice:     line.SalePrice,
				CostPrice:     line.CostPrice,
			}
			ret.Lines = append(ret.Lines, rl)
			ret.TotalItems += rl.Quantity
			refund = refund.Add(rl.Total())
		}
		ret.RefundAmount = refund

		number, err := s.allocate(ctx, r, ReturnPrefix)
		if err != nil {
			return err
		}
		ret.Number = number

		// Insert first: the refund event references the return row.
		if err := r.InsertReturn(ctx, ret); err != nil {
			return err
		}
		if refund.IsZero() {
			return nil
		}
		ev, err := l.Post(ctx, ledger.Entry{
			CustomerID:   ledger.CustomerID(ret.CustomerID),
			CustomerName: ret.CustomerName,
			Amount:       refund.Neg(),
			Kind:         ledger.KindRefund,
			Ref:          ledger.Reference{InvoiceID: ret.InvoiceID, ReturnID: ret.ID},
			Notes:        fmt.Sprintf("Refund for return %s (invoice %s)", ret.Number, ret.InvoiceNumber),
		})
		if err != nil {
			return err
		}
		ret.RefundEventID = ev.ID
		return r.SetReturnRefundEvent(ctx, ret.ID, ev.ID)
	})
	if err != nil {
		return Return{}, err
	}

	s.log.Info("return processed",
		zap.String("return_id", ret.ID),
		zap.String("return_number", ret.Number),
		zap.String("invoice_id", ret.InvoiceID),
		zap.String("refund", ret.RefundAmount.String()),
	)
	return ret, nil
}

func validateReturnInput(in ProcessReturnInput) error {
	if in.InvoiceID == "" {
		return ledger.Invalid("invoice_id", "is required")
	}
	if len(in.Lines) == 0 {
		return ledger.Invalid("lines", "select at least one line to return", ErrNoLineItems)
	}
	seen := make(map[string]bool, len(in.Lines))
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.LineItemID == "" {
			return ledger.Invalid(field+".line_item_id", "is required")
		}
		if seen[l.LineItemID] {
			return ledger.Invalid(field+".line_item_id", "selected more than once")
		}
		seen[l.LineItemID] = true
		if l.Quantity < 1 {
			return ledger.Invalid(field+".quantity", "must be at least 1", ErrInvalidQuantity)
		}
	}
	return nil
}

// =============================================================================
// CLEAR
// =============================================================================

// ClearRefund forgives a pending refund: the refund event is flagged cleared
// and a refund_cleared event of +refundAmount is posted.
func (s *ReturnService) ClearRefund(ctx context.Context, id string) (Return, error) {
	const op = "clear_refund"
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return Return{}, s.reject(op, err)
	}

	err = s.mutate(ctx, op, ret.CustomerID, func(r Repository, l *ledger.Ledger) error {
		cur, err := r.GetReturn(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsCleared() {
			return fmt.Errorf("%w: return %s", ErrAlreadyCleared, cur.Number)
		}

		at := l.Now()
		var clearing ledger.EventID
		if cur.RefundEventID != "" {
			if at, err = l.MarkCleared(ctx, cur.RefundEventID); err != nil {
				return err
			}
			ev, err := l.Post(ctx, ledger.Entry{
				CustomerID:   ledger.CustomerID(cur.CustomerID),
				CustomerName: cur.CustomerName,
				Amount:       cur.RefundAmount,
				Kind:         ledger.KindRefundCleared,
				Ref:          ledger.Reference{InvoiceID: cur.InvoiceID, ReturnID: cur.ID},
				Notes:        "Refund cleared for return " + cur.Number,
			})
			if err != nil {
				return err
			}
			clearing = ev.ID
		}
		if err := r.MarkReturnCleared(ctx, cur.ID, clearing, at); err != nil {
			return err
		}
		cur.Status = ReturnCleared
		cur.ClearedAt = &at
		cur.ClearingEventID = clearing
		ret = cur
		return nil
	})
	if err != nil {
		return Return{}, err
	}

	s.log.Info("refund cleared",
		zap.String("return_id", ret.ID),
		zap.String("customer_id", ret.CustomerID),
		zap.String("amount", ret.RefundAmount.String()),
	)
	return ret, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteReturn reverses the return's live ledger events and removes it.
func (s *ReturnService) DeleteReturn(ctx context.Context, id string) error {
	const op = "delete_return"
	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return s.reject(op, err)
	}

	return s.mutate(ctx, op, ret.CustomerID, func(r Repository, l *ledger.Ledger) error {
		if _, err := r.GetReturn(ctx, id); err != nil {
			return err
		}
		evs, err := r.EventsByReference(ctx, ledger.Reference{ReturnID: id})
		if err != nil {
			return err
		}
		if _, err := l.ReverseLive(ctx, evs, "Return "+ret.Number+" deleted"); err != nil {
			return err
		}
		return r.DeleteReturn(ctx, id)
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *ReturnService) Get(ctx context.Context, id string) (Return, error) {
	return s.repo.GetReturn(ctx, id)
}

func (s *ReturnService) List(ctx context.Context, f ReturnFilter) ([]Return, error) {
	return s.repo.ListReturns(ctx, f)
}
