package sqlite

import (
	"context"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// InsertCustomer creates the customer with a zero balance cell.
// The opening due, if any, arrives through the ledger.
func (r *repo) InsertCustomer(ctx context.Context, c billing.Customer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, address, current_due, created_at, updated_at)
		VALUES (?, ?, ?, ?, '0', ?, ?)
	`, c.ID, c.Name, c.Phone, c.Address, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return ledger.Unavailable("insert_customer", err)
}

func (r *repo) GetCustomer(ctx context.Context, id string) (billing.Customer, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, name, phone, address, current_due, created_at, updated_at
		FROM customers WHERE id = ?
	`, id)
	c, err := scanCustomer(row)
	if err != nil {
		return billing.Customer{}, notFound("get_customer", err, billing.ErrCustomerNotFound, id)
	}
	return c, nil
}

// UpdateCustomer writes contact fields. current_due is left alone.
func (r *repo) UpdateCustomer(ctx context.Context, c billing.Customer) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE customers SET name = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?
	`, c.Name, c.Phone, c.Address, formatTime(c.UpdatedAt), c.ID)
	return affected("update_customer", res, err, billing.ErrCustomerNotFound, c.ID)
}

func (r *repo) DeleteCustomer(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	return affected("delete_customer", res, err, billing.ErrCustomerNotFound, id)
}

func (r *repo) ListCustomers(ctx context.Context) ([]billing.Customer, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, phone, address, current_due, created_at, updated_at
		FROM customers ORDER BY name, id
	`)
	if err != nil {
		return nil, ledger.Unavailable("list_customers", err)
	}
	defer rows.Close()

	var out []billing.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, ledger.Unavailable("list_customers", err)
		}
		out = append(out, c)
	}
	return out, ledger.Unavailable("list_customers", rows.Err())
}

// CustomerReferenced reports whether any invoice, return or ledger event
// belongs to the customer.
func (r *repo) CustomerReferenced(ctx context.Context, id string) (bool, error) {
	var used bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoices WHERE customer_id = ?)
		    OR EXISTS (SELECT 1 FROM product_returns WHERE customer_id = ?)
		    OR EXISTS (SELECT 1 FROM ledger_events WHERE customer_id = ?)
	`, id, id, id).Scan(&used)
	return used, ledger.Unavailable("customer_referenced", err)
}

func scanCustomer(row scanner) (billing.Customer, error) {
	var (
		c                    billing.Customer
		createdAt, updatedAt string
		err                  error
	)
	if err = row.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.CurrentDue, &createdAt, &updatedAt); err != nil {
		return billing.Customer{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.Customer{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.Customer{}, err
	}
	return c, nil
}
