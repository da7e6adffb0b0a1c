package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/billing-ledger/ledger"
)

// CustomerService registers customers and exposes their balance and statement.
// The balance itself is only ever moved through ledger events.
type CustomerService struct {
	*core
}

type CreateCustomerInput struct {
	Name    string
	Phone   string
	Address string

	// OpeningDue is posted as an opening_balance event when non-zero.
	OpeningDue decimal.Decimal
}

type UpdateCustomerInput struct {
	Name    string
	Phone   string
	Address string
}

func (s *CustomerService) Create(ctx context.Context, in CreateCustomerInput) (Customer, error) {
	const op = "create_customer"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Customer{}, s.reject(op, ledger.Invalid("name", "is required"))
	}

	now := s.ledger.Now()
	c := Customer{
		ID:        s.newID(),
		Name:      name,
		Phone:     strings.TrimSpace(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.mutate(ctx, op, c.ID, func(r Repository, l *ledger.Ledger) error {
		if err := r.InsertCustomer(ctx, c); err != nil {
			return err
		}
		if in.OpeningDue.IsZero() {
			return nil
		}
		_, err := l.Post(ctx, ledger.Entry{
			CustomerID:   ledger.CustomerID(c.ID),
			CustomerName: c.Name,
			Amount:       in.OpeningDue,
			Kind:         ledger.KindOpeningBalance,
			Notes:        "Opening balance",
		})
		return err
	})
	if err != nil {
		return Customer{}, err
	}
	c.CurrentDue = in.OpeningDue

	s.log.Info("customer created", zap.String("customer_id", c.ID), zap.String("opening_due", in.OpeningDue.String()))
	return c, nil
}

// Update edits contact fields. current_due is not editable.
func (s *CustomerService) Update(ctx context.Context, id string, in UpdateCustomerInput) (Customer, error) {
	const op = "update_customer"
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Customer{}, s.reject(op, ledger.Invalid("name", "is required"))
	}

	var updated Customer
	err := s.mutate(ctx, op, id, func(r Repository, _ *ledger.Ledger) error {
		c, err := r.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		c.Name = name
		c.Phone = strings.TrimSpace(in.Phone)
		c.Address = strings.TrimSpace(in.Address)
		c.UpdatedAt = s.ledger.Now()
		if err := r.UpdateCustomer(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	return updated, err
}

// Delete removes a customer nothing references.
func (s *CustomerService) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_customer", id, func(r Repository, _ *ledger.Ledger) error {
		if _, err := r.GetCustomer(ctx, id); err != nil {
			return err
		}
		used, err := r.CustomerReferenced(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("%w: %s", ErrCustomerInUse, id)
		}
		return r.DeleteCustomer(ctx, id)
	})
}

func (s *CustomerService) Get(ctx context.Context, id string) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *CustomerService) List(ctx context.Context) ([]Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// Balance returns the cached current due.
func (s *CustomerService) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, ledger.CustomerID(id))
}

// Statement returns the customer's ledger with running balance.
func (s *CustomerService) Statement(ctx context.Context, id string) ([]ledger.StatementLine, error) {
	return s.ledger.Statement(ctx, ledger.CustomerID(id))
}
