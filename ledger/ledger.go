/*
ledger.go - Post, reverse and read customer balances

PURPOSE:
  The Ledger is the only writer of a customer's current due. Every write
  appends an event and adjusts the cached balance by the same amount in
  one transaction.

CORRECTIONS:
  Events are never edited or deleted. A mistake is undone by a reversal:
  1. Post a reversal event carrying -original (Reverses = original ID)
  2. Mark the original as reversed
  3. Both rows stay in history; their net effect is zero

EXAMPLE FLOW:
  1. Invoice issued:      +200   due = 200
  2. Paid on the invoice: -150   due =  50
  3. Payment deleted:     +150   due = 200  (reversal of 2)

TRANSACTIONS:
  A Ledger built on a TxStore opens its own transaction per call.
  A Ledger bound to a transaction-scoped Store (Bind) runs inside the
  caller's transaction; this is how the billing services make
  "invoice + lines + events" a single unit. The caller calls Committed
  after the commit so rolled back events never reach the metrics.

SERIALIZATION:
  The Ledger does not lock. Callers that read-then-write a customer's
  records hold Locks.Lock(customerID) around the whole transaction.

SEE ALSO:
  - store.go: persistence interface
  - locks.go: per-customer mutex
  - billing/: services posting events
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/metrics"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
	log   *zap.Logger

	// pending collects events posted through a bound ledger until the
	// caller's transaction commits. Nil on an unbound ledger.
	pending *[]Event
}

type Option func(*Ledger)

// WithClock overrides time.Now. Tests use it for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Bind returns a Ledger with the same settings operating on s.
// Used with the Store handed out by TxStore.WithTx. Events posted through
// the bound ledger are counted in metrics only once Committed is called.
func (l *Ledger) Bind(s Store) *Ledger {
	bound := *l
	bound.store = s
	bound.pending = new([]Event)
	return &bound
}

// Committed counts the events posted through a bound ledger. Call it after
// the caller's transaction commits; a rolled back ledger is dropped instead.
func (l *Ledger) Committed() {
	if l.pending == nil {
		return
	}
	countEvents(*l.pending)
	*l.pending = nil
}

// record counts evs now, or defers them on a bound ledger.
func (l *Ledger) record(evs ...Event) {
	if l.pending != nil {
		*l.pending = append(*l.pending, evs...)
		return
	}
	countEvents(evs)
}

func countEvents(evs []Event) {
	for _, ev := range evs {
		metrics.LedgerEvents.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Kind == KindReversal {
			metrics.LedgerReversals.Inc()
		}
	}
}

// Now returns the ledger clock. Services use it so records and events share timestamps.
func (l *Ledger) Now() time.Time { return l.now() }

// atomically runs fn in a transaction when the store supports one.
// A bound (transaction-scoped) store is used as is.
func (l *Ledger) atomically(ctx context.Context, fn func(Store) error) error {
	if tx, ok := l.store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(l.store)
}

// =============================================================================
// WRITES
// =============================================================================

// Post appends an event and adjusts the customer's cached balance by its amount.
func (l *Ledger) Post(ctx context.Context, entry Entry) (Event, error) {
	if entry.CustomerID == "" {
		return Event{}, Invalid("customer_id", "is required")
	}
	if !entry.Kind.Valid() || entry.Kind == KindReversal {
		return Event{}, Invalid("kind", fmt.Sprintf("cannot post %q", entry.Kind), ErrInvalidKind)
	}
	if entry.Amount.IsZero() {
		return Event{}, Invalid("amount", "must be non-zero", ErrInvalidAmount)
	}

	ev := Event{
		ID:           EventID(l.newID()),
		CustomerID:   entry.CustomerID,
		CustomerName: entry.CustomerName,
		Amount:       entry.Amount,
		Kind:         entry.Kind,
		Ref:          entry.Ref,
		Notes:        entry.Notes,
		CreatedAt:    l.now(),
	}

	err := l.atomically(ctx, func(s Store) error {
		if _, err := s.CachedBalance(ctx, ev.CustomerID); err != nil {
			return err
		}
		if err := s.AppendEvent(ctx, ev); err != nil {
			return err
		}
		return s.AdjustBalance(ctx, ev.CustomerID, ev.Amount)
	})
	if err != nil {
		return Event{}, err
	}

	l.record(ev)
	l.log.Debug("ledger event posted",
		zap.String("event_id", string(ev.ID)),
		zap.String("customer_id", string(ev.CustomerID)),
		zap.String("kind", string(ev.Kind)),
		zap.String("amount", ev.Amount.String()),
	)
	return ev, nil
}

// Reverse posts a compensating event of -original and marks the original reversed.
// Returns the reversal event.
func (l *Ledger) Reverse(ctx context.Context, id EventID, notes string) (Event, error) {
	var reversal Event
	err := l.atomically(ctx, func(s Store) error {
		orig, err := s.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if orig.Kind == KindReversal {
			return fmt.Errorf("%w: %s is itself a reversal", ErrNotReversible, id)
		}
		if orig.IsReversed() {
			return fmt.Errorf("%w: %s (by %s)", ErrAlreadyReversed, id, orig.ReversedBy)
		}

		if notes == "" {
			notes = fmt.Sprintf("Reversal of %s", orig.Kind)
		}
		reversal = Event{
			ID:           EventID(l.newID()),
			CustomerID:   orig.CustomerID,
			CustomerName: orig.CustomerName,
			Amount:       orig.Amount.Neg(),
			Kind:         KindReversal,
			Ref:          orig.Ref,
			Notes:        notes,
			Reverses:     orig.ID,
			CreatedAt:    l.now(),
		}
		if err := s.AppendEvent(ctx, reversal); err != nil {
			return err
		}
		if err := s.MarkReversed(ctx, orig.ID, reversal.ID, reversal.CreatedAt); err != nil {
			return err
		}
		return s.AdjustBalance(ctx, orig.CustomerID, reversal.Amount)
	})
	if err != nil {
		return Event{}, err
	}

	l.record(reversal)
	l.log.Debug("ledger event reversed",
		zap.String("event_id", string(id)),
		zap.String("reversal_id", string(reversal.ID)),
		zap.String("customer_id", string(reversal.CustomerID)),
	)
	return reversal, nil
}

// ReverseLive reverses every live event in evs, oldest first, and returns
// the reversals. Events that are already reversed or are reversals are skipped.
func (l *Ledger) ReverseLive(ctx context.Context, evs []Event, notes string) ([]Event, error) {
	var out []Event
	for _, ev := range evs {
		if !ev.Live() {
			continue
		}
		r, err := l.Reverse(ctx, ev.ID, notes)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// MarkCleared flags a live refund event as cleared. It does not move the
// balance: the caller posts the matching refund_cleared event in the same
// transaction.
func (l *Ledger) MarkCleared(ctx context.Context, id EventID) (time.Time, error) {
	at := l.now()
	err := l.atomically(ctx, func(s Store) error {
		ev, err := s.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if ev.Kind != KindRefund || ev.IsReversed() {
			return fmt.Errorf("%w: %s is a %s event", ErrNotClearable, id, ev.Kind)
		}
		if ev.Cleared {
			return ErrAlreadyCleared
		}
		return s.MarkCleared(ctx, id, at)
	})
	return at, err
}

// =============================================================================
// READS
// =============================================================================

// Event returns a single event.
func (l *Ledger) Event(ctx context.Context, id EventID) (Event, error) {
	return l.store.GetEvent(ctx, id)
}

// Events returns events linked to ref.
func (l *Ledger) Events(ctx context.Context, ref Reference) ([]Event, error) {
	return l.store.EventsByReference(ctx, ref)
}

// Balance returns the cached current due.
func (l *Ledger) Balance(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	return l.store.CachedBalance(ctx, customerID)
}

// Replay re-derives the balance from the customer's live events.
func (l *Ledger) Replay(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	evs, err := l.store.EventsByCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return SumLive(evs), nil
}

// Statement returns the customer's events with the running balance after each.
func (l *Ledger) Statement(ctx context.Context, customerID CustomerID) ([]StatementLine, error) {
	if _, err := l.store.CachedBalance(ctx, customerID); err != nil {
		return nil, err
	}
	evs, err := l.store.EventsByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	lines := make([]StatementLine, len(evs))
	running := decimal.Zero
	for i, ev := range evs {
		running = running.Add(ev.Amount)
		lines[i] = StatementLine{Event: ev, Balance: running}
	}
	return lines, nil
}

// =============================================================================
// AUDIT / REPAIR
// =============================================================================

// Audit replays every customer and returns those whose cache has drifted.
func (l *Ledger) Audit(ctx context.Context) ([]Drift, error) {
	ids, err := l.store.CustomerIDs(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, id := range ids {
		cached, err := l.store.CachedBalance(ctx, id)
		if err != nil {
			return nil, err
		}
		replayed, err := l.Replay(ctx, id)
		if err != nil {
			return nil, err
		}
		if !cached.Equal(replayed) {
			drifts = append(drifts, Drift{CustomerID: id, Cached: cached, Replayed: replayed})
		}
	}
	return drifts, nil
}

// Repair rewrites the customer's cached balance from the replay.
func (l *Ledger) Repair(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	var replayed decimal.Decimal
	err := l.atomically(ctx, func(s Store) error {
		evs, err := s.EventsByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		replayed = SumLive(evs)
		return s.SetBalance(ctx, customerID, replayed)
	})
	if err != nil {
		return decimal.Zero, err
	}
	l.log.Warn("ledger balance repaired",
		zap.String("customer_id", string(customerID)),
		zap.String("balance", replayed.String()),
	)
	return replayed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// SumLive sums the events that are neither reversed nor reversals.
func SumLive(evs []Event) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range evs {
		if ev.Live() {
			total = total.Add(ev.Amount)
		}
	}
	return total
}

// SumAll sums every event. Equal to SumLive on a consistent ledger.
func SumAll(evs []Event) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range evs {
		total = total.Add(ev.Amount)
	}
	return total
}
