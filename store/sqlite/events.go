package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// LEDGER EVENTS (ledger.Store interface)
// =============================================================================

const eventColumns = `id, customer_id, customer_name, invoice_id, return_id, amount, kind, notes,
	reverses, reversed_by, reversed_at, cleared, cleared_at, created_at`

// AppendEvent adds an event to the ledger. An empty customer name is
// filled from the customers table.
func (r *repo) AppendEvent(ctx context.Context, ev ledger.Event) error {
	query := `
		INSERT INTO ledger_events
		(id, customer_id, customer_name, invoice_id, return_id, amount, kind, notes,
		 reverses, reversed_by, reversed_at, cleared, cleared_at, created_at)
		VALUES (?, ?, COALESCE(NULLIF(?, ''), (SELECT name FROM customers WHERE id = ?), ''),
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, query,
		string(ev.ID),
		string(ev.CustomerID),
		ev.CustomerName, string(ev.CustomerID),
		nullString(ev.Ref.InvoiceID),
		nullString(ev.Ref.ReturnID),
		ev.Amount.String(),
		string(ev.Kind),
		nullString(ev.Notes),
		nullString(string(ev.Reverses)),
		nullString(string(ev.ReversedBy)),
		nullTime(ev.ReversedAt),
		ev.Cleared,
		nullTime(ev.ClearedAt),
		formatTime(ev.CreatedAt),
	)
	if isUniqueConstraintError(err) && ev.Reverses != "" {
		return fmt.Errorf("%w: %s", ledger.ErrAlreadyReversed, ev.Reverses)
	}
	return ledger.Unavailable("append_event", err)
}

func (r *repo) GetEvent(ctx context.Context, id ledger.EventID) (ledger.Event, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM ledger_events WHERE id = ?`, string(id))
	ev, err := scanEvent(row)
	if err != nil {
		return ledger.Event{}, notFound("get_event", err, ledger.ErrEventNotFound, string(id))
	}
	return ev, nil
}

// MarkReversed sets the reversal marker once.
func (r *repo) MarkReversed(ctx context.Context, id, by ledger.EventID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE ledger_events SET reversed_by = ?, reversed_at = ? WHERE id = ? AND reversed_by IS NULL`,
		string(by), formatTime(at), string(id))
	if err := affected("mark_reversed", res, err, ledger.ErrAlreadyReversed, string(id)); err != nil {
		return r.explainMissing(ctx, id, err)
	}
	return nil
}

// MarkCleared sets the cleared flag once.
func (r *repo) MarkCleared(ctx context.Context, id ledger.EventID, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE ledger_events SET cleared = 1, cleared_at = ? WHERE id = ? AND cleared = 0`,
		formatTime(at), string(id))
	if err := affected("mark_cleared", res, err, ledger.ErrAlreadyCleared, string(id)); err != nil {
		return r.explainMissing(ctx, id, err)
	}
	return nil
}

// explainMissing turns a guard failure on an absent row into ErrEventNotFound.
func (r *repo) explainMissing(ctx context.Context, id ledger.EventID, err error) error {
	if ledger.IsRetryable(err) {
		return err
	}
	if _, getErr := r.GetEvent(ctx, id); getErr != nil {
		return getErr
	}
	return err
}

func (r *repo) EventsByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Event, error) {
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM ledger_events WHERE customer_id = ? ORDER BY seq`,
		string(customerID))
}

func (r *repo) EventsByReference(ctx context.Context, ref ledger.Reference) ([]ledger.Event, error) {
	if ref.IsZero() {
		return nil, nil
	}
	var w whereClause
	if ref.InvoiceID != "" {
		w.add("invoice_id = ?", ref.InvoiceID)
	}
	if ref.ReturnID != "" {
		w.add("return_id = ?", ref.ReturnID)
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM ledger_events`+w.String()+` ORDER BY seq`, w.args...)
}

// =============================================================================
// CACHED BALANCE
// =============================================================================

func (r *repo) CachedBalance(ctx context.Context, customerID ledger.CustomerID) (decimal.Decimal, error) {
	var due decimal.Decimal
	err := r.q.QueryRowContext(ctx, `SELECT current_due FROM customers WHERE id = ?`, string(customerID)).Scan(&due)
	if err != nil {
		return decimal.Zero, notFound("cached_balance", err, ledger.ErrCustomerNotFound, string(customerID))
	}
	return due, nil
}

// AdjustBalance adds delta to current_due. The sum is computed in Go:
// SQLite arithmetic on TEXT would go through REAL.
func (r *repo) AdjustBalance(ctx context.Context, customerID ledger.CustomerID, delta decimal.Decimal) error {
	due, err := r.CachedBalance(ctx, customerID)
	if err != nil {
		return err
	}
	return r.SetBalance(ctx, customerID, due.Add(delta))
}

func (r *repo) SetBalance(ctx context.Context, customerID ledger.CustomerID, value decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `UPDATE customers SET current_due = ? WHERE id = ?`,
		value.String(), string(customerID))
	return affected("set_balance", res, err, ledger.ErrCustomerNotFound, string(customerID))
}

func (r *repo) CustomerIDs(ctx context.Context) ([]ledger.CustomerID, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM customers ORDER BY id`)
	if err != nil {
		return nil, ledger.Unavailable("customer_ids", err)
	}
	defer rows.Close()

	var ids []ledger.CustomerID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.Unavailable("customer_ids", err)
		}
		ids = append(ids, ledger.CustomerID(id))
	}
	return ids, ledger.Unavailable("customer_ids", rows.Err())
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func (r *repo) queryEvents(ctx context.Context, query string, args ...any) ([]ledger.Event, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Unavailable("query_events", err)
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, ledger.Unavailable("query_events", err)
		}
		events = append(events, ev)
	}
	return events, ledger.Unavailable("query_events", rows.Err())
}

func scanEvent(row scanner) (ledger.Event, error) {
	var (
		ev                                   ledger.Event
		id, customerID, kind, createdAt      string
		invoiceID, returnID, notes, reverses sql.NullString
		reversedBy, reversedAt, clearedAt    sql.NullString
	)
	err := row.Scan(&id, &customerID, &ev.CustomerName, &invoiceID, &returnID, &ev.Amount, &kind, &notes,
		&reverses, &reversedBy, &reversedAt, &ev.Cleared, &clearedAt, &createdAt)
	if err != nil {
		return ledger.Event{}, err
	}

	ev.ID = ledger.EventID(id)
	ev.CustomerID = ledger.CustomerID(customerID)
	ev.Kind = ledger.EventKind(kind)
	ev.Ref = ledger.Reference{InvoiceID: invoiceID.String, ReturnID: returnID.String}
	ev.Notes = notes.String
	ev.Reverses = ledger.EventID(reverses.String)
	ev.ReversedBy = ledger.EventID(reversedBy.String)

	if ev.ReversedAt, err = parseNullTime(reversedAt); err != nil {
		return ledger.Event{}, err
	}
	if ev.ClearedAt, err = parseNullTime(clearedAt); err != nil {
		return ledger.Event{}, err
	}
	if ev.CreatedAt, err = parseTime(createdAt); err != nil {
		return ledger.Event{}, err
	}
	return ev, nil
}
