package sqlite

import (
	"context"
	"database/sql"

	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/reporting"
)

// =============================================================================
// REPORTING SOURCE
// =============================================================================

// PaymentEvents reads the payment_history view, newest first.
func (r *repo) PaymentEvents(ctx context.Context, f reporting.PaymentFilter) ([]ledger.Event, error) {
	var w whereClause
	if f.CustomerID != "" {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.Kind != "" {
		w.add("payment_type = ?", string(f.Kind))
	}
	if f.From != nil {
		w.add("created_at >= ?", formatTime(startOfDay(*f.From)))
	}
	if f.To != nil {
		w.add("created_at < ?", formatTime(dayAfter(*f.To)))
	}
	if !f.IncludeReversed {
		w.add("reversed_by IS NULL")
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, invoice_id, customer_id, customer_name, amount, payment_type, notes,
		       cleared, cleared_at, reversed_by, reversed_at, created_at
		FROM payment_history`+w.String()+`
		ORDER BY seq DESC
	`, w.args...)
	if err != nil {
		return nil, ledger.Unavailable("payment_events", err)
	}
	defer rows.Close()

	var out []ledger.Event
	for rows.Next() {
		var (
			ev                              ledger.Event
			id, customerID, kind, createdAt string
			invoiceID, notes, reversedBy    sql.NullString
			clearedAt, reversedAt           sql.NullString
		)
		err := rows.Scan(&id, &invoiceID, &customerID, &ev.CustomerName, &ev.Amount, &kind, &notes,
			&ev.Cleared, &clearedAt, &reversedBy, &reversedAt, &createdAt)
		if err != nil {
			return nil, ledger.Unavailable("payment_events", err)
		}
		ev.ID = ledger.EventID(id)
		ev.CustomerID = ledger.CustomerID(customerID)
		ev.Kind = ledger.EventKind(kind)
		ev.Ref.InvoiceID = invoiceID.String
		ev.Notes = notes.String
		ev.ReversedBy = ledger.EventID(reversedBy.String)
		if ev.ClearedAt, err = parseNullTime(clearedAt); err != nil {
			return nil, ledger.Unavailable("payment_events", err)
		}
		if ev.ReversedAt, err = parseNullTime(reversedAt); err != nil {
			return nil, ledger.Unavailable("payment_events", err)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, ledger.Unavailable("payment_events", err)
		}
		out = append(out, ev)
	}
	return out, ledger.Unavailable("payment_events", rows.Err())
}
