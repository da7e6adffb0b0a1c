package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/ledger"
	"github.com/warp/billing-ledger/metrics"
)

// =============================================================================
// SERVICES - Wiring
// =============================================================================

// Services groups the billing services over one repository.
type Services struct {
	Customers *CustomerService
	Invoices  *InvoiceService
	Payments  *PaymentService
	Returns   *ReturnService

	Ledger *ledger.Ledger
}

type Option func(*core)

func WithLogger(log *zap.Logger) Option {
	return func(c *core) { c.log = log }
}

// WithLedgerOptions passes options (clock, IDs) to the underlying Ledger.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(c *core) { c.ledgerOpts = append(c.ledgerOpts, opts...) }
}

// WithIDGenerator overrides uuid generation for billing records.
func WithIDGenerator(fn func() string) Option {
	return func(c *core) { c.newID = fn }
}

// NewServices builds the services. inventory may be nil when every invoice
// line carries its own name and price.
func NewServices(repo TxRepository, inventory Inventory, opts ...Option) *Services {
	c := &core{
		repo:      repo,
		inventory: inventory,
		locks:     ledger.NewLocks(),
		log:       zap.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ledger = ledger.New(repo, append(c.ledgerOpts, ledger.WithLogger(c.log.Named("ledger")))...)

	return &Services{
		Customers: &CustomerService{core: c},
		Invoices:  &InvoiceService{core: c},
		Payments:  &PaymentService{core: c},
		Returns:   &ReturnService{core: c},
		Ledger:    c.ledger,
	}
}

// =============================================================================
// CORE - Shared plumbing
// =============================================================================

type core struct {
	repo       TxRepository
	inventory  Inventory
	locks      *ledger.Locks
	ledger     *ledger.Ledger
	ledgerOpts []ledger.Option
	log        *zap.Logger
	newID      func() string

	// numbering serializes document number allocation across customers.
	numbering sync.Mutex
}

// mutate runs fn as one transaction under the customer's lock. The ledger
// passed to fn is bound to the same transaction.
func (c *core) mutate(ctx context.Context, op string, customerID string, fn func(r Repository, l *ledger.Ledger) error) error {
	start := time.Now()

	unlock := c.locks.Lock(ledger.CustomerID(customerID))
	defer unlock()

	var bound *ledger.Ledger
	err := c.repo.InTx(ctx, func(r Repository) error {
		bound = c.ledger.Bind(r)
		return fn(r, bound)
	})
	if err == nil && bound != nil {
		bound.Committed()
	}

	metrics.ObserveOperation(op, start, err, outcome)
	if err != nil {
		level := c.log.Warn
		if outcome(err) == metrics.OutcomeFailed {
			level = c.log.Error
		}
		level("billing operation failed",
			zap.String("operation", op),
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
	}
	return err
}

// allocate returns the next document number. Called inside mutate's transaction.
func (c *core) allocate(ctx context.Context, r Repository, prefix string) (string, error) {
	c.numbering.Lock()
	defer c.numbering.Unlock()
	return r.NextNumber(ctx, prefix)
}

// reject records a request refused before any transaction was opened.
func (c *core) reject(op string, err error) error {
	metrics.Operations.WithLabelValues(op, outcome(err)).Inc()
	c.log.Warn("billing operation rejected", zap.String("operation", op), zap.Error(err))
	return err
}
