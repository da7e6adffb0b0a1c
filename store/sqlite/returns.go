package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// PRODUCT RETURNS
// =============================================================================

const returnColumns = `id, return_number, invoice_id, invoice_number, customer_id, customer_name,
	return_date, total_items, refund_amount, notes, status, cleared_at,
	refund_event_id, clearing_event_id, created_at`

func (r *repo) InsertReturn(ctx context.Context, ret billing.Return) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO product_returns (`+returnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ret.ID, ret.Number, nullString(ret.InvoiceID), ret.InvoiceNumber,
		nullString(ret.CustomerID), ret.CustomerName,
		formatTime(ret.Date), ret.TotalItems, ret.RefundAmount.String(), nullString(ret.Notes),
		string(ret.Status), nullTime(ret.ClearedAt),
		nullString(string(ret.RefundEventID)), nullString(string(ret.ClearingEventID)),
		formatTime(ret.CreatedAt),
	)
	if err != nil {
		return ledger.Unavailable("insert_return", err)
	}

	for i, l := range ret.Lines {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO return_line_items
			(id, return_id, position, invoice_line_id, item_id, item_name, quantity, sale_price, cost_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, ret.ID, i, nullString(l.InvoiceLineID), nullString(l.ItemID), l.ItemName, l.Quantity,
			l.SalePrice.String(), l.CostPrice.String())
		if err != nil {
			return ledger.Unavailable("insert_return_line", err)
		}
	}
	return nil
}

func (r *repo) GetReturn(ctx context.Context, id string) (billing.Return, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM product_returns WHERE id = ?`, id)
	ret, err := scanReturn(row)
	if err != nil {
		return billing.Return{}, notFound("get_return", err, billing.ErrReturnNotFound, id)
	}
	lines, err := r.returnLines(ctx, id)
	if err != nil {
		return billing.Return{}, err
	}
	ret.Lines = lines
	return ret, nil
}

func (r *repo) SetReturnRefundEvent(ctx context.Context, id string, eventID ledger.EventID) error {
	res, err := r.q.ExecContext(ctx, `UPDATE product_returns SET refund_event_id = ? WHERE id = ?`,
		string(eventID), id)
	return affected("set_return_refund_event", res, err, billing.ErrReturnNotFound, id)
}

// MarkReturnCleared moves a pending return to cleared. A second call
// fails with ErrAlreadyCleared.
func (r *repo) MarkReturnCleared(ctx context.Context, id string, clearingEventID ledger.EventID, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE product_returns SET status = ?, cleared_at = ?, clearing_event_id = ?
		WHERE id = ? AND status = ?
	`, string(billing.ReturnCleared), formatTime(at), nullString(string(clearingEventID)), id, string(billing.ReturnPending))
	if err := affected("mark_return_cleared", res, err, billing.ErrAlreadyCleared, id); err != nil {
		if ledger.IsRetryable(err) {
			return err
		}
		if _, getErr := r.GetReturn(ctx, id); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

func (r *repo) DeleteReturn(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM return_line_items WHERE return_id = ?`, id); err != nil {
		return ledger.Unavailable("delete_return_lines", err)
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM product_returns WHERE id = ?`, id)
	return affected("delete_return", res, err, billing.ErrReturnNotFound, id)
}

// ListReturns returns matching returns, newest first, with their lines.
func (r *repo) ListReturns(ctx context.Context, f billing.ReturnFilter) ([]billing.Return, error) {
	var w whereClause
	if f.CustomerID != "" {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.InvoiceID != "" {
		w.add("invoice_id = ?", f.InvoiceID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}

	rows, err := r.q.QueryContext(ctx, `SELECT `+returnColumns+` FROM product_returns`+w.String()+
		` ORDER BY return_date DESC, return_number DESC`, w.args...)
	if err != nil {
		return nil, ledger.Unavailable("list_returns", err)
	}
	var out []billing.Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			rows.Close()
			return nil, ledger.Unavailable("list_returns", err)
		}
		out = append(out, ret)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("list_returns", err)
	}

	for i := range out {
		if out[i].Lines, err = r.returnLines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ReturnedQuantities sums returned quantity per invoice line.
func (r *repo) ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT rl.invoice_line_id, SUM(rl.quantity)
		FROM return_line_items rl
		JOIN product_returns pr ON pr.id = rl.return_id
		WHERE pr.invoice_id = ? AND rl.invoice_line_id IS NOT NULL
		GROUP BY rl.invoice_line_id
	`, invoiceID)
	if err != nil {
		return nil, ledger.Unavailable("returned_quantities", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			lineID string
			qty    int
		)
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, ledger.Unavailable("returned_quantities", err)
		}
		out[lineID] = qty
	}
	return out, ledger.Unavailable("returned_quantities", rows.Err())
}

// DetachReturns unlinks returns from an invoice being deleted.
func (r *repo) DetachReturns(ctx context.Context, invoiceID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE return_line_items SET invoice_line_id = NULL
		WHERE return_id IN (SELECT id FROM product_returns WHERE invoice_id = ?)
	`, invoiceID)
	if err != nil {
		return ledger.Unavailable("detach_returns", err)
	}
	_, err = r.q.ExecContext(ctx, `UPDATE product_returns SET invoice_id = NULL WHERE invoice_id = ?`, invoiceID)
	return ledger.Unavailable("detach_returns", err)
}

func (r *repo) returnLines(ctx context.Context, returnID string) ([]billing.ReturnLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, return_id, invoice_line_id, item_id, item_name, quantity, sale_price, cost_price
		FROM return_line_items WHERE return_id = ? ORDER BY position
	`, returnID)
	if err != nil {
		return nil, ledger.Unavailable("return_lines", err)
	}
	defer rows.Close()

	var out []billing.ReturnLine
	for rows.Next() {
		var (
			l                   billing.ReturnLine
			invoiceLineID, item sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.ReturnID, &invoiceLineID, &item, &l.ItemName, &l.Quantity, &l.SalePrice, &l.CostPrice); err != nil {
			return nil, ledger.Unavailable("return_lines", err)
		}
		l.InvoiceLineID = invoiceLineID.String
		l.ItemID = item.String
		out = append(out, l)
	}
	return out, ledger.Unavailable("return_lines", rows.Err())
}

func scanReturn(row scanner) (billing.Return, error) {
	var (
		ret                                   billing.Return
		invoiceID, customerID, notes          sql.NullString
		clearedAt, refundEvent, clearingEvent sql.NullString
		status, date, createdAt               string
		err                                   error
	)
	err = row.Scan(&ret.ID, &ret.Number, &invoiceID, &ret.InvoiceNumber, &customerID, &ret.CustomerName,
		&date, &ret.TotalItems, &ret.RefundAmount, &notes, &status, &clearedAt,
		&refundEvent, &clearingEvent, &createdAt)
	if err != nil {
		return billing.Return{}, err
	}
	ret.InvoiceID = invoiceID.String
	ret.CustomerID = customerID.String
	ret.Notes = notes.String
	ret.Status = billing.ReturnStatus(status)
	ret.RefundEventID = ledger.EventID(refundEvent.String)
	ret.ClearingEventID = ledger.EventID(clearingEvent.String)

	if ret.ClearedAt, err = parseNullTime(clearedAt); err != nil {
		return billing.Return{}, err
	}
	if ret.Date, err = parseTime(date); err != nil {
		return billing.Return{}, err
	}
	if ret.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Return{}, err
	}
	return ret, nil
}
