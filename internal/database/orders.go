package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, table_id, status, total_amount, notes, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.TableID,
		&o.Status,
		&o.TotalAmount,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func (q *Queries) collectOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

const createOrder = `
INSERT INTO orders (table_id, status, total_amount, notes)
VALUES ($1, 'pending', $2, $3)
RETURNING ` + orderColumns + `
`

type CreateOrderParams struct {
	TableID     uuid.UUID
	TotalAmount pgtype.Numeric
	Notes       pgtype.Text
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder, arg.TableID, arg.TotalAmount, arg.Notes))
}

const createOrderItem = `
INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price, notes)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, order_id, menu_item_id, quantity, unit_price, notes, created_at
`

type CreateOrderItemParams struct {
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	Quantity   int32
	UnitPrice  pgtype.Numeric
	Notes      pgtype.Text
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	var it OrderItem
	err := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID, arg.MenuItemID, arg.Quantity, arg.UnitPrice, arg.Notes,
	).Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.UnitPrice, &it.Notes, &it.CreatedAt)
	return it, err
}

const getOrder = `
SELECT ` + orderColumns + ` FROM orders WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const listOrders = `
SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC
`

func (q *Queries) ListOrders(ctx context.Context) ([]Order, error) {
	return q.collectOrders(ctx, listOrders)
}

const listOrdersByStatus = `
SELECT ` + orderColumns + ` FROM orders WHERE status = ANY($1) ORDER BY created_at ASC
`

// ListOrdersByStatus feeds the kitchen screen; oldest first so the queue
// reads top-down.
func (q *Queries) ListOrdersByStatus(ctx context.Context, statuses []string) ([]Order, error) {
	return q.collectOrders(ctx, listOrdersByStatus, statuses)
}

const listOrdersByTable = `
SELECT ` + orderColumns + ` FROM orders WHERE table_id = $1 ORDER BY created_at DESC
`

func (q *Queries) ListOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]Order, error) {
	return q.collectOrders(ctx, listOrdersByTable, tableID)
}

const listOrderItemsByOrder = `
SELECT id, order_id, menu_item_id, quantity, unit_price, notes, created_at
FROM order_items
WHERE order_id = $1
ORDER BY created_at
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity, &it.UnitPrice, &it.Notes, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const updateOrderStatusGuarded = `
UPDATE orders SET status = $2, updated_at = now()
WHERE id = $1 AND status = ANY($3)
RETURNING ` + orderColumns + `
`

type UpdateOrderStatusGuardedParams struct {
	ID           uuid.UUID
	Status       string
	FromStatuses []string
}

// UpdateOrderStatusGuarded progresses an order only from an expected source
// status. pgx.ErrNoRows means the row moved concurrently.
func (q *Queries) UpdateOrderStatusGuarded(ctx context.Context, arg UpdateOrderStatusGuardedParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderStatusGuarded, arg.ID, arg.Status, arg.FromStatuses))
}

const settleOpenOrdersByTable = `
UPDATE orders SET status = 'delivered', updated_at = now()
WHERE table_id = $1 AND status IN ('pending', 'preparing', 'ready')
`

// SettleOpenOrdersByTable bulk-finalizes every non-terminal order on a table.
// Runs as a side effect of payment confirmation and table release.
func (q *Queries) SettleOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, settleOpenOrdersByTable, tableID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// OrderActivityRow summarizes an activity-window count for one table.
type OrderActivityRow struct {
	Count     int64
	LastOrder pgtype.Timestamptz
}

const getActiveOrderStats = `
SELECT COUNT(*), MAX(created_at)
FROM orders
WHERE table_id = $1
  AND status IN ('pending', 'preparing', 'ready')
  AND created_at > $2
`

type OrderActivityParams struct {
	TableID uuid.UUID
	Since   time.Time
}

// GetActiveOrderStats counts undelivered orders created after the cutoff.
func (q *Queries) GetActiveOrderStats(ctx context.Context, arg OrderActivityParams) (OrderActivityRow, error) {
	var row OrderActivityRow
	err := q.db.QueryRow(ctx, getActiveOrderStats, arg.TableID, arg.Since).Scan(&row.Count, &row.LastOrder)
	return row, err
}

const getRecentOrderStats = `
SELECT COUNT(*), MAX(created_at)
FROM orders
WHERE table_id = $1 AND created_at > $2
`

// GetRecentOrderStats counts orders of any status created after the cutoff.
func (q *Queries) GetRecentOrderStats(ctx context.Context, arg OrderActivityParams) (OrderActivityRow, error) {
	var row OrderActivityRow
	err := q.db.QueryRow(ctx, getRecentOrderStats, arg.TableID, arg.Since).Scan(&row.Count, &row.LastOrder)
	return row, err
}
