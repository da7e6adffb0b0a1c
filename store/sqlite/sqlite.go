/*
Package sqlite provides the SQLite-backed implementation of the ledger,
billing and reporting storage interfaces.

PURPOSE:
  One database holds the customers (with the cached current_due), the
  ledger events, invoices, returns, inventory and document sequences, so a
  billing operation (invoice + lines + events + balance) commits or rolls
  back as one SQL transaction.

INTERFACES IMPLEMENTED:
  ledger.TxStore:          Events and cached balances
  billing.TxRepository:    Customers, invoices, returns, numbering
  billing.Inventory:       Item lookup for invoice lines
  reporting.Source:        Read-only aggregation inputs

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements on ledger_events
  - The only UPDATEs set the one-shot reversed / cleared markers
  - Corrections via reversal events only

KEY TABLES:
  customers, inventory_items, invoices, invoice_line_items,
  ledger_events (+ payment_history view), product_returns,
  return_line_items, sequences

CONCURRENCY:
  The pool is capped at one connection. SQLite allows a single writer, and
  ":memory:" databases exist per connection, so every statement and every
  transaction is serialized by database/sql itself. Inside InTx/WithTx all
  access goes through the transaction: calling the root Store from fn
  would wait for the connection fn already holds.

DECIMALS AND TIMES:
  Money is stored as TEXT (decimal.Decimal implements Scanner/Valuer).
  Times are fixed-width UTC strings so they order lexically.

MIGRATION:
  Schema is managed by golang-migrate from the embedded migrations/ dir,
  applied on Open.

USAGE:
  store, err := sqlite.Open("./data/ledger.db", sqlite.WithLogger(log))
  if err != nil {
      return err
  }
  defer store.Close()

  svc := billing.NewServices(store, store)

SEE ALSO:
  - ledger/store.go, billing/repository.go, reporting/source.go: interfaces
  - migrate.go: schema migrations
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements every query against either the database or a transaction.
// A tx-scoped repo is what InTx / WithTx hand to their callbacks.
type repo struct {
	q dbtx
}

// Store is the root handle. It adds transactions on top of repo.
type Store struct {
	*repo
	db   *sql.DB
	log  *zap.Logger
	busy time.Duration
}

type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithBusyTimeout sets how long a statement waits on a locked database file.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busy = d }
}

func newStore(opts []Option) *Store {
	s := &Store{log: zap.NewNop(), busy: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (creating if needed) the database at path and applies
// migrations. Use ":memory:" for an in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	s := newStore(opts)
	db, err := sql.Open("sqlite3", dsn(path, s.busy))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.attach(db)
	if err := Migrate(db, s.log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already opened database without migrating it.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := newStore(opts)
	s.attach(db)
	return s
}

func (s *Store) attach(db *sql.DB) {
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	s.db = db
	s.repo = &repo{q: db}
}

func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busy.Milliseconds())
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return ledger.Unavailable("ping", s.db.PingContext(ctx))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// InTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) InTx(ctx context.Context, fn func(billing.Repository) error) error {
	return s.inTx(ctx, func(r *repo) error { return fn(r) })
}

// WithTx is InTx for ledger-only callers (audit, repair, unbound Ledger).
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.inTx(ctx, func(r *repo) error { return fn(r) })
}

func (s *Store) inTx(ctx context.Context, fn func(*repo) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Unavailable("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return ledger.Unavailable("commit", sqlTx.Commit())
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// startOfDay / dayAfter turn a date filter into a half-open range.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayAfter(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to sentinel and everything else to a store error.
func notFound(op string, err error, sentinel error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return ledger.Unavailable(op, err)
}

// affected returns sentinel when the statement touched no row.
func affected(op string, res sql.Result, err error, sentinel error, id string) error {
	if err != nil {
		return ledger.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.Unavailable(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return nil
}

// whereClause accumulates AND conditions.
type whereClause struct {
	conds []string
	args  []any
}

func (w *whereClause) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *whereClause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
