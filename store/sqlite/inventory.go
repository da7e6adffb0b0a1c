package sqlite

import (
	"context"

	"github.com/warp/billing-ledger/billing"
	"github.com/warp/billing-ledger/ledger"
)

// =============================================================================
// INVENTORY (billing.Inventory + CRUD)
// =============================================================================

// SaveInventoryItem inserts or replaces an item.
func (r *repo) SaveInventoryItem(ctx context.Context, item billing.InventoryItem) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_items
		(id, name, sku, cost_price, retail_price, stock_quantity, reorder_level, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sku = excluded.sku,
			cost_price = excluded.cost_price,
			retail_price = excluded.retail_price,
			stock_quantity = excluded.stock_quantity,
			reorder_level = excluded.reorder_level,
			updated_at = excluded.updated_at
	`,
		item.ID, item.Name, item.SKU,
		item.CostPrice.String(), item.RetailPrice.String(),
		item.StockQuantity, item.ReorderLevel,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	return ledger.Unavailable("save_inventory_item", err)
}

func (r *repo) GetInventoryItem(ctx context.Context, id string) (billing.InventoryItem, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		return billing.InventoryItem{}, notFound("get_inventory_item", err, billing.ErrItemNotFound, id)
	}
	return item, nil
}

func (r *repo) ListInventoryItems(ctx context.Context) ([]billing.InventoryItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY name, id`)
	if err != nil {
		return nil, ledger.Unavailable("list_inventory_items", err)
	}
	defer rows.Close()

	var out []billing.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, ledger.Unavailable("list_inventory_items", err)
		}
		out = append(out, item)
	}
	return out, ledger.Unavailable("list_inventory_items", rows.Err())
}

func (r *repo) DeleteInventoryItem(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = ?`, id)
	return affected("delete_inventory_item", res, err, billing.ErrItemNotFound, id)
}

const itemColumns = `id, name, sku, cost_price, retail_price, stock_quantity, reorder_level, created_at, updated_at`

func scanItem(row scanner) (billing.InventoryItem, error) {
	var (
		item                 billing.InventoryItem
		createdAt, updatedAt string
		err                  error
	)
	err = row.Scan(&item.ID, &item.Name, &item.SKU, &item.CostPrice, &item.RetailPrice,
		&item.StockQuantity, &item.ReorderLevel, &createdAt, &updatedAt)
	if err != nil {
		return billing.InventoryItem{}, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return billing.InventoryItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return billing.InventoryItem{}, err
	}
	return item, nil
}
