package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/table"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
type mockTx struct {
	committed  bool
	rolledBack bool
	commitErr  error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error {
	m.rolledBack = true
	return nil
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockStore implements Store with configurable behavior.
type mockStore struct {
	getMenuItemForOrderFn      func(ctx context.Context, id uuid.UUID) (database.MenuItem, error)
	createOrderFn              func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn          func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	getOrderFn                 func(ctx context.Context, id uuid.UUID) (database.Order, error)
	updateOrderStatusGuardedFn func(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error)
	getActiveOrderStatsFn      func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error)
	getRecentOrderStatsFn      func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error)
	getTableForUpdateFn        func(ctx context.Context, id uuid.UUID) (database.Table, error)
	updateTableStatusFn        func(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error)
	settleOpenOrdersByTableFn  func(ctx context.Context, tableID uuid.UUID) (int64, error)
	releaseTableFn             func(ctx context.Context, id uuid.UUID) (database.Table, error)
}

func (m *mockStore) GetMenuItemForOrder(ctx context.Context, id uuid.UUID) (database.MenuItem, error) {
	return m.getMenuItemForOrderFn(ctx, id)
}
func (m *mockStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}
func (m *mockStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	return m.getOrderFn(ctx, id)
}
func (m *mockStore) UpdateOrderStatusGuarded(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error) {
	return m.updateOrderStatusGuardedFn(ctx, arg)
}
func (m *mockStore) GetActiveOrderStats(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
	return m.getActiveOrderStatsFn(ctx, arg)
}
func (m *mockStore) GetRecentOrderStats(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
	return m.getRecentOrderStatsFn(ctx, arg)
}
func (m *mockStore) GetTableForUpdate(ctx context.Context, id uuid.UUID) (database.Table, error) {
	return m.getTableForUpdateFn(ctx, id)
}
func (m *mockStore) UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error) {
	return m.updateTableStatusFn(ctx, arg)
}
func (m *mockStore) SettleOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) (int64, error) {
	return m.settleOpenOrdersByTableFn(ctx, tableID)
}
func (m *mockStore) ReleaseTable(ctx context.Context, id uuid.UUID) (database.Table, error) {
	return m.releaseTableFn(ctx, id)
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(t *testing.T, n pgtype.Numeric, expected string) bool {
	t.Helper()
	d, err := database.NumericToDecimal(n)
	if err != nil {
		t.Fatalf("parse numeric: %v", err)
	}
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

// defaultStore serves one available table and one menu item priced 25.00.
// Individual tests override the functions they care about.
func defaultStore(tableID, menuItemID uuid.UUID) *mockStore {
	return &mockStore{
		getTableForUpdateFn: func(ctx context.Context, id uuid.UUID) (database.Table, error) {
			if id != tableID {
				return database.Table{}, pgx.ErrNoRows
			}
			return database.Table{ID: tableID, TableNumber: 5, Status: enum.TableStatusAvailable}, nil
		},
		updateTableStatusFn: func(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error) {
			return database.Table{ID: arg.ID, TableNumber: 5, Status: arg.Status}, nil
		},
		getMenuItemForOrderFn: func(ctx context.Context, id uuid.UUID) (database.MenuItem, error) {
			if id != menuItemID {
				return database.MenuItem{}, pgx.ErrNoRows
			}
			return database.MenuItem{
				ID:        menuItemID,
				Name:      "Picanha grelhada",
				Price:     makeNumeric("25.00"),
				Available: true,
			}, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:          uuid.New(),
				TableID:     arg.TableID,
				Status:      enum.OrderStatusPending,
				TotalAmount: arg.TotalAmount,
				Notes:       arg.Notes,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			return database.OrderItem{
				ID:         uuid.New(),
				OrderID:    arg.OrderID,
				MenuItemID: arg.MenuItemID,
				Quantity:   arg.Quantity,
				UnitPrice:  arg.UnitPrice,
				Notes:      arg.Notes,
			}, nil
		},
	}
}

func newTestService(store *mockStore, clk clock.Clock) (*Service, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) Store { return store }
	return NewService(store, pool, newStore, clk), tx
}

// --- Create tests ---

func TestCreateOrder(t *testing.T) {
	tableID := uuid.New()
	menuItemID := uuid.New()
	store := defaultStore(tableID, menuItemID)
	svc, tx := newTestService(store, clock.NewFake(time.Now()))

	res, err := svc.Create(context.Background(), CreateOrderRequest{
		TableID: tableID,
		Items: []CreateOrderItemRequest{
			{MenuItemID: menuItemID.String(), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
	if res.Order.Status != enum.OrderStatusPending {
		t.Errorf("order status = %s, want pending", res.Order.Status)
	}
	if !numericEquals(t, res.Order.TotalAmount, "50.00") {
		t.Errorf("total = %v, want 50.00", res.Order.TotalAmount)
	}
	if len(res.Items) != 1 || res.Items[0].Quantity != 2 {
		t.Errorf("unexpected items %+v", res.Items)
	}
	if res.Table.Status != enum.TableStatusOccupied {
		t.Errorf("table status = %s, want occupied", res.Table.Status)
	}
}

func TestCreateOrderSnapshotsPrices(t *testing.T) {
	tableID := uuid.New()
	menuItemID := uuid.New()
	store := defaultStore(tableID, menuItemID)

	var itemPrice pgtype.Numeric
	base := store.createOrderItemFn
	store.createOrderItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		itemPrice = arg.UnitPrice
		return base(ctx, arg)
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	_, err := svc.Create(context.Background(), CreateOrderRequest{
		TableID: tableID,
		Items:   []CreateOrderItemRequest{{MenuItemID: menuItemID.String(), Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !numericEquals(t, itemPrice, "25.00") {
		t.Errorf("snapshot unit price = %v, want menu price 25.00", itemPrice)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	tableID := uuid.New()
	menuItemID := uuid.New()
	svc, _ := newTestService(defaultStore(tableID, menuItemID), clock.NewFake(time.Now()))

	tests := []struct {
		name  string
		items []CreateOrderItemRequest
		want  error
	}{
		{"empty cart", nil, ErrEmptyItems},
		{"zero quantity", []CreateOrderItemRequest{{MenuItemID: menuItemID.String(), Quantity: 0}}, ErrInvalidQuantity},
		{"negative quantity", []CreateOrderItemRequest{{MenuItemID: menuItemID.String(), Quantity: -1}}, ErrInvalidQuantity},
		{"malformed id", []CreateOrderItemRequest{{MenuItemID: "not-a-uuid", Quantity: 1}}, ErrInvalidMenuItemID},
		{"unknown item", []CreateOrderItemRequest{{MenuItemID: uuid.NewString(), Quantity: 1}}, ErrMenuItemNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), CreateOrderRequest{TableID: tableID, Items: tt.items})
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateOrderRejectsUnavailableItem(t *testing.T) {
	tableID := uuid.New()
	menuItemID := uuid.New()
	store := defaultStore(tableID, menuItemID)
	store.getMenuItemForOrderFn = func(ctx context.Context, id uuid.UUID) (database.MenuItem, error) {
		return database.MenuItem{ID: menuItemID, Price: makeNumeric("25.00"), Available: false}, nil
	}

	svc, tx := newTestService(store, clock.NewFake(time.Now()))
	_, err := svc.Create(context.Background(), CreateOrderRequest{
		TableID: tableID,
		Items:   []CreateOrderItemRequest{{MenuItemID: menuItemID.String(), Quantity: 1}},
	})
	if !errors.Is(err, ErrMenuItemUnavailable) {
		t.Errorf("got %v, want ErrMenuItemUnavailable", err)
	}
	if tx.committed {
		t.Error("failed create committed its transaction")
	}
}

func TestCreateOrderBlockedWhileAwaitingPayment(t *testing.T) {
	tableID := uuid.New()
	menuItemID := uuid.New()
	store := defaultStore(tableID, menuItemID)
	store.getTableForUpdateFn = func(ctx context.Context, id uuid.UUID) (database.Table, error) {
		return database.Table{ID: tableID, TableNumber: 5, Status: enum.TableStatusNeedsAttention}, nil
	}

	created := false
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		created = true
		return database.Order{}, nil
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	_, err := svc.Create(context.Background(), CreateOrderRequest{
		TableID: tableID,
		Items:   []CreateOrderItemRequest{{MenuItemID: menuItemID.String(), Quantity: 1}},
	})
	if !errors.Is(err, table.ErrAwaitingPayment) {
		t.Errorf("got %v, want table.ErrAwaitingPayment", err)
	}
	if created {
		t.Error("order was created on a table awaiting payment")
	}
}

// --- UpdateStatus tests ---

func TestUpdateStatusLegalTransition(t *testing.T) {
	orderID := uuid.New()
	store := &mockStore{
		updateOrderStatusGuardedFn: func(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error) {
			return database.Order{ID: arg.ID, Status: arg.Status}, nil
		},
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	o, err := svc.UpdateStatus(context.Background(), orderID, enum.OrderStatusPreparing)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if o.Status != enum.OrderStatusPreparing {
		t.Errorf("status = %s, want preparing", o.Status)
	}
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	orderID := uuid.New()
	store := &mockStore{
		updateOrderStatusGuardedFn: func(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error) {
			return database.Order{}, pgx.ErrNoRows
		},
		getOrderFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return database.Order{ID: orderID, Status: enum.OrderStatusDelivered}, nil
		},
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	// delivered -> preparing is never legal.
	_, err := svc.UpdateStatus(context.Background(), orderID, enum.OrderStatusPreparing)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("got %v, want ErrIllegalTransition", err)
	}
}

func TestUpdateStatusIdempotentRepeat(t *testing.T) {
	orderID := uuid.New()
	store := &mockStore{
		updateOrderStatusGuardedFn: func(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error) {
			return database.Order{}, pgx.ErrNoRows
		},
		getOrderFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			return database.Order{ID: orderID, Status: enum.OrderStatusReady}, nil
		},
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	o, err := svc.UpdateStatus(context.Background(), orderID, enum.OrderStatusReady)
	if err != nil {
		t.Fatalf("repeating a completed transition should succeed, got %v", err)
	}
	if o.Status != enum.OrderStatusReady {
		t.Errorf("status = %s, want ready", o.Status)
	}
}

func TestUpdateStatusAcceptsPaidAlias(t *testing.T) {
	orderID := uuid.New()
	var requested string
	store := &mockStore{
		updateOrderStatusGuardedFn: func(ctx context.Context, arg database.UpdateOrderStatusGuardedParams) (database.Order, error) {
			requested = arg.Status
			return database.Order{ID: arg.ID, Status: arg.Status}, nil
		},
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	if _, err := svc.UpdateStatus(context.Background(), orderID, "paid"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if requested != enum.OrderStatusDelivered {
		t.Errorf("canonical status = %s, want delivered", requested)
	}
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	svc, _ := newTestService(&mockStore{}, clock.NewFake(time.Now()))
	if _, err := svc.UpdateStatus(context.Background(), uuid.New(), "teleported"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

func TestUpdateStatusRejectsMoveBackToPending(t *testing.T) {
	svc, _ := newTestService(&mockStore{}, clock.NewFake(time.Now()))
	if _, err := svc.UpdateStatus(context.Background(), uuid.New(), enum.OrderStatusPending); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("got %v, want ErrIllegalTransition", err)
	}
}

// --- ActivityFor tests ---

func TestActivityForWindows(t *testing.T) {
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	tableID := uuid.New()

	var activeSince, recentSince time.Time
	lastOrder := now.Add(-30 * time.Minute)
	store := &mockStore{
		getActiveOrderStatsFn: func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
			activeSince = arg.Since
			return database.OrderActivityRow{Count: 1, LastOrder: pgtype.Timestamptz{Time: lastOrder, Valid: true}}, nil
		},
		getRecentOrderStatsFn: func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
			recentSince = arg.Since
			return database.OrderActivityRow{Count: 1, LastOrder: pgtype.Timestamptz{Time: lastOrder, Valid: true}}, nil
		},
	}

	svc, _ := newTestService(store, clk)
	act, err := svc.ActivityFor(context.Background(), tableID)
	if err != nil {
		t.Fatalf("ActivityFor: %v", err)
	}
	if !act.HasActiveOrders || !act.HasRecentOrders {
		t.Errorf("got %+v, want both windows active", act)
	}
	if act.LastOrderAt == nil || !act.LastOrderAt.Equal(lastOrder) {
		t.Errorf("LastOrderAt = %v, want %v", act.LastOrderAt, lastOrder)
	}
	if want := now.Add(-ActiveWindow); !activeSince.Equal(want) {
		t.Errorf("active cutoff = %v, want %v", activeSince, want)
	}
	if want := now.Add(-RecentWindow); !recentSince.Equal(want) {
		t.Errorf("recent cutoff = %v, want %v", recentSince, want)
	}
}

func TestActivityForQuietTable(t *testing.T) {
	store := &mockStore{
		getActiveOrderStatsFn: func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
			return database.OrderActivityRow{}, nil
		},
		getRecentOrderStatsFn: func(ctx context.Context, arg database.OrderActivityParams) (database.OrderActivityRow, error) {
			return database.OrderActivityRow{}, nil
		},
	}

	svc, _ := newTestService(store, clock.NewFake(time.Now()))
	act, err := svc.ActivityFor(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ActivityFor: %v", err)
	}
	if act.HasActiveOrders || act.HasRecentOrders || act.LastOrderAt != nil {
		t.Errorf("quiet table reported activity: %+v", act)
	}
}
