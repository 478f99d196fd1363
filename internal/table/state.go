// Package table owns the table status state machine. Guards are evaluated
// against a freshly locked row inside one transaction, never against state a
// caller read earlier.
package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Events accepted by Apply. OrderSubmitted is internal: it is fired by order
// creation, not exposed as a status action.
const (
	ActionOccupy         = "occupy"
	ActionFree           = "free"
	ActionCloseBill      = "close_bill"
	ActionConfirmPayment = "confirm_payment"
	ActionNeedAttention  = "need_attention"
	ActionOrderSubmitted = "order_submitted"
)

var (
	ErrInvalidAction   = errors.New("invalid table action")
	ErrConflict        = errors.New("table status changed concurrently")
	ErrAwaitingPayment = errors.New("table is awaiting payment")
)

// transition describes one legal event: the statuses it may fire from
// (nil = any), the target status, and whether reaching the target releases
// the table (settle open orders, revoke token, clear activity marker).
type transition struct {
	from    []string
	blocked []string
	to      string
	release bool
	message string
}

var transitions = map[string]transition{
	ActionOccupy: {
		to:      enum.TableStatusOccupied,
		message: "Table %d marked as occupied.",
	},
	ActionFree: {
		to:      enum.TableStatusAvailable,
		release: true,
		message: "Table %d released.",
	},
	ActionCloseBill: {
		from:    []string{enum.TableStatusOccupied},
		to:      enum.TableStatusNeedsAttention,
		message: "Table %d bill closed. Awaiting payment.",
	},
	ActionConfirmPayment: {
		// Reachable from any status: staff may override a table that never
		// went through close_bill.
		to:      enum.TableStatusAvailable,
		release: true,
		message: "Table %d payment confirmed. Table released.",
	},
	ActionNeedAttention: {
		to:      enum.TableStatusNeedsAttention,
		message: "Table %d needs attention.",
	},
	ActionOrderSubmitted: {
		blocked: []string{enum.TableStatusNeedsAttention},
		to:      enum.TableStatusOccupied,
		message: "Table %d marked as occupied.",
	},
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the DB methods needed to run a transition.
// Satisfied by *database.Queries.
type Store interface {
	GetTableForUpdate(ctx context.Context, id uuid.UUID) (database.Table, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error)
	SettleOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) (int64, error)
	ReleaseTable(ctx context.Context, id uuid.UUID) (database.Table, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Result reports the outcome of a transition.
type Result struct {
	Table         database.Table
	Message       string
	SettledOrders int64
	// NoOp is set when the table already held the target status and the
	// transition (including side effects) was skipped.
	NoOp bool
}

// Machine applies table status transitions.
type Machine struct {
	pool     TxBeginner
	newStore NewStore
}

func NewMachine(pool TxBeginner, newStore NewStore) *Machine {
	return &Machine{pool: pool, newStore: newStore}
}

// Apply runs one transition in its own transaction.
func (m *Machine) Apply(ctx context.Context, tableID uuid.UUID, action string) (Result, error) {
	if _, ok := transitions[action]; !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	res, err := ApplyInTx(ctx, m.newStore(tx), tableID, action)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

// ApplyInTx runs one transition against an already open transaction so other
// flows (order creation, payment cascade) can compose it with their own
// guard-checked writes.
func ApplyInTx(ctx context.Context, store Store, tableID uuid.UUID, action string) (Result, error) {
	tr, ok := transitions[action]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	t, err := store.GetTableForUpdate(ctx, tableID)
	if err != nil {
		return Result{}, err
	}

	message := fmt.Sprintf(tr.message, t.TableNumber)

	// Repeating an identical request is a no-op: the table is already in the
	// target status, so side effects must not run again.
	if t.Status == tr.to {
		return Result{Table: t, Message: message, NoOp: true}, nil
	}

	for _, blocked := range tr.blocked {
		if t.Status == blocked {
			if blocked == enum.TableStatusNeedsAttention {
				return Result{}, ErrAwaitingPayment
			}
			return Result{}, fmt.Errorf("%w: %s not allowed from %s", ErrConflict, action, t.Status)
		}
	}
	if tr.from != nil && !contains(tr.from, t.Status) {
		return Result{}, fmt.Errorf("%w: %s not allowed from %s", ErrConflict, action, t.Status)
	}

	var settled int64
	var updated database.Table
	if tr.release {
		settled, err = store.SettleOpenOrdersByTable(ctx, tableID)
		if err != nil {
			return Result{}, fmt.Errorf("settle orders: %w", err)
		}
		updated, err = store.ReleaseTable(ctx, tableID)
	} else {
		updated, err = store.UpdateTableStatus(ctx, database.UpdateTableStatusParams{
			ID:     tableID,
			Status: tr.to,
		})
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Table: updated, Message: message, SettledOrders: settled}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
