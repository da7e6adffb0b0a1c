package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/ledger"
)

// PaymentService records payments against an invoice or against the
// customer's general due, and deletes them by reversal.
type PaymentService struct {
	*core
}

type RecordPaymentInput struct {
	CustomerID string
	Amount     decimal.Decimal
	InvoiceID  string // empty for a general due payment
	Notes      string
}

// RecordPayment posts a payment event of -amount.
//
// Against an invoice the invoice's paid amount grows by amount and its
// remaining due is clamped at zero; the ledger still takes the full amount.
func (s *PaymentService) RecordPayment(ctx context.Context, in RecordPaymentInput) (ledger.Event, error) {
	const op = "record_payment"
	if !in.Amount.IsPositive() {
		return ledger.Event{}, s.reject(op, ledger.Invalid("amount", "must be greater than zero", ledger.ErrInvalidAmount))
	}

	customerID := in.CustomerID
	if in.InvoiceID != "" {
		inv, err := s.repo.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return ledger.Event{}, s.reject(op, err)
		}
		if customerID == "" {
			customerID = inv.CustomerID
		}
		if customerID != inv.CustomerID {
			return ledger.Event{}, s.reject(op, ledger.Invalid("invoice_id",
				fmt.Sprintf("invoice %s belongs to another customer", inv.Number)))
		}
	}
	if customerID == "" {
		return ledger.Event{}, s.reject(op, ledger.Invalid("customer_id", "is required"))
	}

	var ev ledger.Event
	err := s.mutate(ctx, op, customerID, func(r Repository, l *ledger.Ledger) error {
		cust, err := r.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}

		entry := ledger.Entry{
			CustomerID:   ledger.CustomerID(cust.ID),
			CustomerName: cust.Name,
			Amount:       in.Amount.Neg(),
			Kind:         ledger.KindDuePayment,
			Notes:        strings.TrimSpace(in.Notes),
		}

		if in.InvoiceID != "" {
			inv, err := r.GetInvoice(ctx, in.InvoiceID)
			if err != nil {
				return err
			}
			paid := inv.AmountPaid.Add(in.Amount)
			if err := r.UpdateInvoicePayment(ctx, inv.ID, paid, clampedRemaining(inv.TotalAmount, paid)); err != nil {
				return err
			}
			entry.Kind = ledger.KindInvoicePayment
			entry.Ref = ledger.Reference{InvoiceID: inv.ID}
			if entry.Notes == "" {
				entry.Notes = "Payment for invoice " + inv.Number
			}
		} else if entry.Notes == "" {
			entry.Notes = "General payment"
		}

		ev, err = l.Post(ctx, entry)
		return err
	})
	if err != nil {
		return ledger.Event{}, err
	}

	s.log.Info("payment recorded",
		zap.String("event_id", string(ev.ID)),
		zap.String("customer_id", customerID),
		zap.String("invoice_id", in.InvoiceID),
		zap.String("amount", in.Amount.String()),
	)
	return ev, nil
}

// DeletePayment reverses a payment event and, if it was applied to an
// invoice that still exists, takes the amount back off the invoice.
func (s *PaymentService) DeletePayment(ctx context.Context, id ledger.EventID) (ledger.Event, error) {
	const op = "delete_payment"
	orig, err := s.ledger.Event(ctx, id)
	if err != nil {
		return ledger.Event{}, s.reject(op, paymentNotFound(id, err))
	}
	if !orig.Kind.IsPayment() {
		return ledger.Event{}, s.reject(op, fmt.Errorf("%w: %s is a %s event", ErrNotAPayment, id, orig.Kind))
	}

	var reversal ledger.Event
	err = s.mutate(ctx, op, string(orig.CustomerID), func(r Repository, l *ledger.Ledger) error {
		var err error
		reversal, err = l.Reverse(ctx, id, "Payment deleted")
		if err != nil {
			return paymentNotFound(id, err)
		}
		if orig.Ref.InvoiceID == "" {
			return nil
		}

		inv, err := r.GetInvoice(ctx, orig.Ref.InvoiceID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// orig.Amount is negative; adding it takes the payment back off.
		paid := inv.AmountPaid.Add(orig.Amount)
		return r.UpdateInvoicePayment(ctx, inv.ID, paid, clampedRemaining(inv.TotalAmount, paid))
	})
	if err != nil {
		return ledger.Event{}, err
	}

	s.log.Info("payment deleted",
		zap.String("event_id", string(id)),
		zap.String("reversal_id", string(reversal.ID)),
		zap.String("customer_id", string(orig.CustomerID)),
	)
	return reversal, nil
}

// History returns the customer's payment events, newest last.
func (s *PaymentService) History(ctx context.Context, customerID string) ([]ledger.Event, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	evs, err := s.repo.EventsByCustomer(ctx, ledger.CustomerID(customerID))
	if err != nil {
		return nil, err
	}
	out := evs[:0]
	for _, ev := range evs {
		if ev.Kind.IsPayment() {
			out = append(out, ev)
		}
	}
	return out, nil
}

func clampedRemaining(total, paid decimal.Decimal) decimal.Decimal {
	remaining := total.Sub(paid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func paymentNotFound(id ledger.EventID, err error) error {
	if errors.Is(err, ledger.ErrEventNotFound) {
		return fmt.Errorf("%w: %s", ErrPaymentNotFound, id)
	}
	return err
}
