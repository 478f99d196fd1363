// Package order owns order creation and kitchen status progression, plus the
// activity windows the session validator reads.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/table"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Activity windows for session-validity inference: an order keeps a session
// alive while undelivered and younger than ActiveWindow, or of any status and
// younger than RecentWindow.
const (
	ActiveWindow = 3 * time.Hour
	RecentWindow = 2 * time.Hour
)

var (
	ErrEmptyItems          = errors.New("items are required")
	ErrInvalidQuantity     = errors.New("quantity must be >= 1")
	ErrInvalidMenuItemID   = errors.New("invalid menu_item_id")
	ErrMenuItemNotFound    = errors.New("menu item not found")
	ErrMenuItemUnavailable = errors.New("menu item is not available")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrIllegalTransition   = errors.New("illegal order status transition")
)

// legalFrom lists, per target status, the statuses it may be reached from.
// delivered is additionally reached in bulk by the table release cascade,
// which bypasses this map on purpose.
var legalFrom = map[string][]string{
	enum.OrderStatusPreparing: {enum.OrderStatusPending},
	enum.OrderStatusReady:     {enum.OrderStatusPreparing},
	enum.OrderStatusDelivered: {enum.OrderStatusReady},
	enum.OrderStatusCancelled: {enum.OrderStatusPending, enum.OrderStatusPreparing},
}

// Store defines the DB methods needed by the order service.
// Satisfied by *database.Queries; the table-machine methods are included so
// order creation can run the occupied transition inside its own transaction.
type Store interface {
	GetMenuItemForOrder(ctx context.Context, id uuid.UUID) (database.MenuItem, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateOrderStatusGuarded(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error)
	GetActiveOrderStats(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error)
	GetRecentOrderStats(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error)

	GetTableForUpdate(ctx context.Context, id uuid.UUID) (database.Table, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error)
	SettleOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) (int64, error)
	ReleaseTable(ctx context.Context, id uuid.UUID) (database.Table, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// CreateOrderRequest is the validated input for submitting a cart.
type CreateOrderRequest struct {
	TableID uuid.UUID
	Notes   string
	Items   []CreateOrderItemRequest
}

type CreateOrderItemRequest struct {
	MenuItemID string
	Quantity   int32
	Notes      string
}

// CreateOrderResult is the created order with its items and the table after
// the order_submitted transition.
type CreateOrderResult struct {
	Order database.Order
	Items []database.OrderItem
	Table database.Table
}

// Activity is the session validator's view of a table's order history.
type Activity struct {
	HasActiveOrders bool
	HasRecentOrders bool
	LastOrderAt     *time.Time
}

// Service handles order business logic. store runs single-statement reads
// and guarded writes against the pool; newStore builds a store over an open
// transaction for multi-statement flows.
type Service struct {
	store    Store
	pool     table.TxBeginner
	newStore NewStore
	clk      clock.Clock
}

func NewService(store Store, pool table.TxBeginner, newStore NewStore, clk clock.Clock) *Service {
	return &Service{store: store, pool: pool, newStore: newStore, clk: clk}
}

// Create validates the cart, snapshots menu prices, and creates the order
// atomically. The table row is locked first: the order_submitted transition
// re-checks the table status so an order can never land on a table that
// concurrently moved to needs_attention.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		if _, err := uuid.Parse(item.MenuItemID); err != nil {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrInvalidMenuItemID)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// Locks the table row and rejects needs_attention before anything is
	// written. From here on the table cannot change under us.
	tres, err := table.ApplyInTx(ctx, store, req.TableID, table.ActionOrderSubmitted)
	if err != nil {
		return nil, err
	}

	// Price snapshot per item: the stored unit price is the menu price at
	// creation time and never recomputes.
	total := decimal.Zero
	type line struct {
		menuItemID uuid.UUID
		quantity   int32
		unitPrice  decimal.Decimal
		notes      string
	}
	lines := make([]line, 0, len(req.Items))
	for i, item := range req.Items {
		menuItemID, _ := uuid.Parse(item.MenuItemID)
		mi, err := store.GetMenuItemForOrder(ctx, menuItemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("item[%d]: %w", i, ErrMenuItemNotFound)
			}
			return nil, fmt.Errorf("item[%d]: get menu item: %w", i, err)
		}
		if !mi.Available {
			return nil, fmt.Errorf("item[%d]: %w", i, ErrMenuItemUnavailable)
		}
		price, err := database.NumericToDecimal(mi.Price)
		if err != nil {
			return nil, fmt.Errorf("item[%d]: parse price: %w", i, err)
		}
		total = total.Add(price.Mul(decimal.NewFromInt32(item.Quantity)))
		lines = append(lines, line{
			menuItemID: menuItemID,
			quantity:   item.Quantity,
			unitPrice:  price,
			notes:      item.Notes,
		})
	}

	o, err := store.CreateOrder(ctx, database.CreateOrderParams{
		TableID:     req.TableID,
		TotalAmount: database.DecimalToNumeric(total),
		Notes:       textOrNull(req.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	items := make([]database.OrderItem, 0, len(lines))
	for i, l := range lines {
		it, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
			OrderID:    o.ID,
			MenuItemID: l.menuItemID,
			Quantity:   l.quantity,
			UnitPrice:  database.DecimalToNumeric(l.unitPrice),
			Notes:      textOrNull(l.notes),
		})
		if err != nil {
			return nil, fmt.Errorf("item[%d]: create order item: %w", i, err)
		}
		items = append(items, it)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &CreateOrderResult{Order: o, Items: items, Table: tres.Table}, nil
}

// UpdateStatus progresses one order through the kitchen lifecycle. The write
// is conditional on the expected source statuses so a concurrent change makes
// it a clean failure instead of a lost update. Repeating a transition the
// order already completed is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (database.Order, error) {
	status = enum.Canonical(status)
	if !enum.IsValidOrderStatus(status) {
		return database.Order{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	froms, ok := legalFrom[status]
	if !ok {
		// pending is a creation-only status.
		return database.Order{}, fmt.Errorf("%w: cannot move an order back to %s", ErrIllegalTransition, status)
	}

	o, err := s.store.UpdateOrderStatusGuarded(ctx, database.UpdateOrderStatusGuardedParams{
		ID:           orderID,
		Status:       status,
		FromStatuses: froms,
	})
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.Order{}, err
	}

	// Guard failed: distinguish not-found, already-there, and illegal.
	current, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, err
	}
	if current.Status == status {
		return current, nil
	}
	return database.Order{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, status)
}

// ActivityFor computes the table's activity windows relative to the injected
// clock. It is read-only and safe to call on every poll.
func (s *Service) ActivityFor(ctx context.Context, tableID uuid.UUID) (Activity, error) {
	now := s.clk.Now()

	active, err := s.store.GetActiveOrderStats(ctx, database.OrderActivityParams{
		TableID: tableID,
		Since:   now.Add(-ActiveWindow),
	})
	if err != nil {
		return Activity{}, err
	}
	recent, err := s.store.GetRecentOrderStats(ctx, database.OrderActivityParams{
		TableID: tableID,
		Since:   now.Add(-RecentWindow),
	})
	if err != nil {
		return Activity{}, err
	}

	act := Activity{
		HasActiveOrders: active.Count > 0,
		HasRecentOrders: recent.Count > 0,
	}
	if active.LastOrder.Valid {
		act.LastOrderAt = database.TimestamptzOrNil(active.LastOrder)
	} else if recent.LastOrder.Valid {
		act.LastOrderAt = database.TimestamptzOrNil(recent.LastOrder)
	}
	return act, nil
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
