package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, invoice_number, customer_id, customer_name, customer_phone, customer_address,
	date, previous_due, total_amount, amount_paid, remaining_due, created_at`

const lineColumns = `id, invoice_id, item_id, item_name, quantity, sale_price, cost_price`

// InsertInvoice writes the invoice and its lines.
func (r *repo) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		inv.ID, inv.Number, inv.CustomerID, inv.CustomerName, inv.CustomerPhone, inv.CustomerAddress,
		formatTime(inv.Date),
		inv.PreviousDue.String(), inv.TotalAmount.String(), inv.AmountPaid.String(), inv.RemainingDue.String(),
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return ledger.Unavailable("insert_invoice", err)
	}

	for i, l := range inv.Lines {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO invoice_line_items (id, invoice_id, position, item_id, item_name, quantity, sale_price, cost_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, l.ID, inv.ID, i, nullString(l.ItemID), l.ItemName, l.Quantity, l.SalePrice.String(), l.CostPrice.String())
		if err != nil {
			return ledger.Unavailable("insert_invoice_line", err)
		}
	}
	return nil
}

func (r *repo) GetInvoice(ctx context.Context, id string) (billing.Invoice, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return billing.Invoice{}, notFound("get_invoice", err, billing.ErrInvoiceNotFound, id)
	}
	lines, err := r.invoiceLines(ctx, []string{id})
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.Lines = lines[id]
	return inv, nil
}

func (r *repo) UpdateInvoicePayment(ctx context.Context, id string, amountPaid, remainingDue decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE invoices SET amount_paid = ?, remaining_due = ? WHERE id = ?
	`, amountPaid.String(), remainingDue.String(), id)
	return affected("update_invoice_payment", res, err, billing.ErrInvoiceNotFound, id)
}

// DeleteInvoice removes the invoice and its lines. Ledger events stay.
func (r *repo) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM invoice_line_items WHERE invoice_id = ?`, id); err != nil {
		return ledger.Unavailable("delete_invoice_lines", err)
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	return affected("delete_invoice", res, err, billing.ErrInvoiceNotFound, id)
}

// ListInvoices returns matching invoices, newest first, with their lines.
func (r *repo) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	var w whereClause
	if f.CustomerID != "" {
		w.add("customer_id = ?", f.CustomerID)
	}
	if f.From != nil {
		w.add("date >= ?", formatTime(startOfDay(*f.From)))
	}
	if f.To != nil {
		w.add("date < ?", formatTime(dayAfter(*f.To)))
	}

	rows, err := r.q.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices`+w.String()+
		` ORDER BY date DESC, invoice_number DESC`, w.args...)
	if err != nil {
		return nil, ledger.Unavailable("list_invoices", err)
	}
	var (
		out []billing.Invoice
		ids []string
	)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, ledger.Unavailable("list_invoices", err)
		}
		out = append(out, inv)
		ids = append(ids, inv.ID)
	}
	// Release the connection before loading lines.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("list_invoices", err)
	}

	lines, err := r.invoiceLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

// invoiceLines loads lines of the given invoices keyed by invoice ID.
func (r *repo) invoiceLines(ctx context.Context, invoiceIDs []string) (map[string][]billing.InvoiceLine, error) {
	out := make(map[string][]billing.InvoiceLine, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(invoiceIDs))
	for i, id := range invoiceIDs {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+lineColumns+` FROM invoice_line_items
		WHERE invoice_id IN (`+placeholders(len(args))+`) ORDER BY invoice_id, position`, args...)
	if err != nil {
		return nil, ledger.Unavailable("invoice_lines", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l      billing.InvoiceLine
			itemID sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.InvoiceID, &itemID, &l.ItemName, &l.Quantity, &l.SalePrice, &l.CostPrice); err != nil {
			return nil, ledger.Unavailable("invoice_lines", err)
		}
		l.ItemID = itemID.String
		out[l.InvoiceID] = append(out[l.InvoiceID], l)
	}
	return out, ledger.Unavailable("invoice_lines", rows.Err())
}

func scanInvoice(row scanner) (billing.Invoice, error) {
	var (
		inv             billing.Invoice
		date, createdAt string
		err             error
	)
	err = row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.CustomerName, &inv.CustomerPhone, &inv.CustomerAddress,
		&date, &inv.PreviousDue, &inv.TotalAmount, &inv.AmountPaid, &inv.RemainingDue, &createdAt)
	if err != nil {
		return billing.Invoice{}, err
	}
	if inv.Date, err = parseTime(date); err != nil {
		return billing.Invoice{}, err
	}
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Invoice{}, err
	}
	return inv, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// =============================================================================
// NUMBERING
// =============================================================================

// NextNumber allocates the next document number for prefix. The last
// number handed out is kept in sequences; a missing row is seeded from the
// newest existing document so numbering continues over imported data.
func (r *repo) NextNumber(ctx context.Context, prefix string) (string, error) {
	var last string
	err := r.q.QueryRowContext(ctx, `SELECT last_number FROM sequences WHERE prefix = ?`, prefix).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		last, err = r.newestNumber(ctx, prefix)
	}
	if err != nil {
		return "", ledger.Unavailable("next_number", err)
	}

	next := billing.NextNumber(prefix, last)
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO sequences (prefix, last_number) VALUES (?, ?)
		ON CONFLICT(prefix) DO UPDATE SET last_number = excluded.last_number
	`, prefix, next)
	if err != nil {
		return "", ledger.Unavailable("next_number", err)
	}
	return next, nil
}

func (r *repo) newestNumber(ctx context.Context, prefix string) (string, error) {
	var query string
	switch prefix {
	case billing.InvoicePrefix:
		query = `SELECT invoice_number FROM invoices WHERE invoice_number LIKE ?
			ORDER BY CAST(substr(invoice_number, ?) AS INTEGER) DESC LIMIT 1`
	case billing.ReturnPrefix:
		query = `SELECT return_number FROM product_returns WHERE return_number LIKE ?
			ORDER BY CAST(substr(return_number, ?) AS INTEGER) DESC LIMIT 1`
	default:
		return "", nil
	}
	// Numeric order: INV-100000 sorts after INV-99999.
	var last string
	err := r.q.QueryRowContext(ctx, query, prefix+"%", len(prefix)+1).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return last, err
}
