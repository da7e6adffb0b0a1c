// Package memstore provides an in-memory ledger.TxStore (for testing/dev).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	events   map[ledger.EventID]ledger.Event
	order    []ledger.EventID
	balances map[ledger.CustomerID]decimal.Decimal
	names    map[ledger.CustomerID]string

	// FailOn, when set, is consulted before every write. Returning an
	// error simulates a storage failure at that point.
	FailOn func(op string) error
}

func NewMemory() *Memory {
	return &Memory{
		events:   make(map[ledger.EventID]ledger.Event),
		balances: make(map[ledger.CustomerID]decimal.Decimal),
		names:    make(map[ledger.CustomerID]string),
	}
}

// AddCustomer creates a balance cell at zero.
func (m *Memory) AddCustomer(id ledger.CustomerID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] = decimal.Zero
	m.names[id] = name
}

func (m *Memory) AppendEvent(_ context.Context, ev ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(ev)
}

func (m *Memory) GetEvent(_ context.Context, id ledger.EventID) (ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) MarkReversed(_ context.Context, id, by ledger.EventID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReversedLocked(id, by, at)
}

func (m *Memory) MarkCleared(_ context.Context, id ledger.EventID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markClearedLocked(id, at)
}

func (m *Memory) EventsByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(ev ledger.Event) bool { return ev.CustomerID == customerID }), nil
}

func (m *Memory) EventsByReference(_ context.Context, ref ledger.Reference) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLocked(func(ev ledger.Event) bool { return matches(ev.Ref, ref) }), nil
}

func (m *Memory) CachedBalance(_ context.Context, customerID ledger.CustomerID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(customerID)
}

func (m *Memory) AdjustBalance(_ context.Context, customerID ledger.CustomerID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(customerID, delta)
}

func (m *Memory) SetBalance(_ context.Context, customerID ledger.CustomerID, value decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(customerID, value)
}

func (m *Memory) CustomerIDs(_ context.Context) ([]ledger.CustomerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customerIDsLocked(), nil
}

// =============================================================================
// LOCKED HELPERS (shared with the transactional view)
// =============================================================================

func (m *Memory) fail(op string) error {
	if m.FailOn == nil {
		return nil
	}
	return ledger.Unavailable(op, m.FailOn(op))
}

func (m *Memory) appendLocked(ev ledger.Event) error {
	if err := m.fail("append_event"); err != nil {
		return err
	}
	if _, exists := m.events[ev.ID]; exists {
		return fmt.Errorf("duplicate event id %s", ev.ID)
	}
	if ev.CustomerName == "" {
		ev.CustomerName = m.names[ev.CustomerID]
	}
	m.events[ev.ID] = ev
	m.order = append(m.order, ev.ID)
	return nil
}

func (m *Memory) getLocked(id ledger.EventID) (ledger.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return ledger.Event{}, fmt.Errorf("%w: %s", ledger.ErrEventNotFound, id)
	}
	return ev, nil
}

func (m *Memory) markReversedLocked(id, by ledger.EventID, at time.Time) error {
	if err := m.fail("mark_reversed"); err != nil {
		return err
	}
	ev, err := m.getLocked(id)
	if err != nil {
		return err
	}
	ev.ReversedBy = by
	ev.ReversedAt = &at
	m.events[id] = ev
	return nil
}

func (m *Memory) markClearedLocked(id ledger.EventID, at time.Time) error {
	if err := m.fail("mark_cleared"); err != nil {
		return err
	}
	ev, err := m.getLocked(id)
	if err != nil {
		return err
	}
	ev.Cleared = true
	ev.ClearedAt = &at
	m.events[id] = ev
	return nil
}

func (m *Memory) filterLocked(keep func(ledger.Event) bool) []ledger.Event {
	var out []ledger.Event
	for _, id := range m.order {
		if ev := m.events[id]; keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (m *Memory) balanceLocked(customerID ledger.CustomerID) (decimal.Decimal, error) {
	b, ok := m.balances[customerID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ledger.ErrCustomerNotFound, customerID)
	}
	return b, nil
}

func (m *Memory) adjustLocked(customerID ledger.CustomerID, delta decimal.Decimal) error {
	if err := m.fail("adjust_balance"); err != nil {
		return err
	}
	b, err := m.balanceLocked(customerID)
	if err != nil {
		return err
	}
	m.balances[customerID] = b.Add(delta)
	return nil
}

func (m *Memory) setLocked(customerID ledger.CustomerID, value decimal.Decimal) error {
	if _, err := m.balanceLocked(customerID); err != nil {
		return err
	}
	m.balances[customerID] = value
	return nil
}

func (m *Memory) customerIDsLocked() []ledger.CustomerID {
	ids := make([]ledger.CustomerID, 0, len(m.balances))
	for id := range m.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func matches(have, want ledger.Reference) bool {
	if want.IsZero() {
		return false
	}
	if want.InvoiceID != "" && have.InvoiceID != want.InvoiceID {
		return false
	}
	if want.ReturnID != "" && have.ReturnID != want.ReturnID {
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	events   map[ledger.EventID]ledger.Event
	order    []ledger.EventID
	balances map[ledger.CustomerID]decimal.Decimal
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		events:   make(map[ledger.EventID]ledger.Event, len(tm.events)),
		order:    append([]ledger.EventID{}, tm.order...),
		balances: make(map[ledger.CustomerID]decimal.Decimal, len(tm.balances)),
	}
	for k, v := range tm.events {
		s.events[k] = v
	}
	for k, v := range tm.balances {
		s.balances[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.events = s.events
	tm.order = s.order
	tm.balances = s.balances
}

// txMemoryView runs against the parent with its lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) AppendEvent(_ context.Context, ev ledger.Event) error {
	return tv.parent.appendLocked(ev)
}

func (tv *txMemoryView) GetEvent(_ context.Context, id ledger.EventID) (ledger.Event, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) MarkReversed(_ context.Context, id, by ledger.EventID, at time.Time) error {
	return tv.parent.markReversedLocked(id, by, at)
}

func (tv *txMemoryView) MarkCleared(_ context.Context, id ledger.EventID, at time.Time) error {
	return tv.parent.markClearedLocked(id, at)
}

func (tv *txMemoryView) EventsByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Event, error) {
	return tv.parent.filterLocked(func(ev ledger.Event) bool { return ev.CustomerID == customerID }), nil
}

func (tv *txMemoryView) EventsByReference(_ context.Context, ref ledger.Reference) ([]ledger.Event, error) {
	return tv.parent.filterLocked(func(ev ledger.Event) bool { return matches(ev.Ref, ref) }), nil
}

func (tv *txMemoryView) CachedBalance(_ context.Context, customerID ledger.CustomerID) (decimal.Decimal, error) {
	return tv.parent.balanceLocked(customerID)
}

func (tv *txMemoryView) AdjustBalance(_ context.Context, customerID ledger.CustomerID, delta decimal.Decimal) error {
	return tv.parent.adjustLocked(customerID, delta)
}

func (tv *txMemoryView) SetBalance(_ context.Context, customerID ledger.CustomerID, value decimal.Decimal) error {
	return tv.parent.setLocked(customerID, value)
}

func (tv *txMemoryView) CustomerIDs(_ context.Context) ([]ledger.CustomerID, error) {
	return tv.parent.customerIDsLocked(), nil
}
