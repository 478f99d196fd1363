// Package session derives the non-persistent judgment of whether a
// (table, token) pair may currently act on that table. Checks are cheap,
// side-effect-light reads: clients poll them on an interval and before every
// order submission.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/order"
	"github.com/comanda-app/api/internal/token"
	"github.com/google/uuid"
)

// Machine-readable denial reasons. They carry enough detail for the client
// to choose between asking for a new token and waiting.
const (
	ReasonMissingToken    = "missing_token"
	ReasonTokenMismatch   = "token_mismatch"
	ReasonTokenExpired    = "token_expired"
	ReasonAwaitingPayment = "awaiting_payment"
	ReasonInactive        = "session_inactive"
)

// Verdict is the outcome of a session check.
type Verdict struct {
	Allowed          bool
	Reason           string
	RequiresNewToken bool
	Table            database.Table
	HasActiveOrders  bool
	HasRecentOrders  bool
	LastOrderAt      *time.Time
	TokenValid       bool
	TokenExpires     *time.Time
}

// Store defines the DB methods needed by the validator.
// Satisfied by *database.Queries.
type Store interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	TouchTableAccess(ctx context.Context, arg database.TouchTableAccessParams) error
}

// ActivitySource reports a table's order activity windows.
// Satisfied by *order.Service.
type ActivitySource interface {
	ActivityFor(ctx context.Context, tableID uuid.UUID) (order.Activity, error)
}

// Validator composes token checks, table status, and order activity into a
// single access verdict.
type Validator struct {
	store  Store
	orders ActivitySource
	clk    clock.Clock
}

func NewValidator(store Store, orders ActivitySource, clk clock.Clock) *Validator {
	return &Validator{store: store, orders: orders, clk: clk}
}

// Check evaluates whether the caller may act on the table. Unknown tables
// surface as pgx.ErrNoRows. A denial is a normal Verdict, not an error.
//
// Viewing a session never occupies a table: an available table with a valid
// token is allowed to proceed, and the transition to occupied happens on the
// first order submission only.
func (v *Validator) Check(ctx context.Context, tableID uuid.UUID, presented string) (Verdict, error) {
	t, err := v.store.GetTable(ctx, tableID)
	if err != nil {
		return Verdict{}, err
	}

	now := v.clk.Now()
	verdict := Verdict{Table: t}

	// Tokens are enforced on the guest-facing path: whenever the table has
	// one minted, or the caller presents one.
	if t.AccessToken.Valid || presented != "" {
		if err := token.Check(t, presented, now); err != nil {
			verdict.Reason = tokenReason(err)
			verdict.RequiresNewToken = true
			return verdict, nil
		}
		verdict.TokenValid = true
		verdict.TokenExpires = database.TimestamptzOrNil(t.TokenExpiresAt)
	}

	act, err := v.orders.ActivityFor(ctx, tableID)
	if err != nil {
		return Verdict{}, err
	}
	verdict.HasActiveOrders = act.HasActiveOrders
	verdict.HasRecentOrders = act.HasRecentOrders
	verdict.LastOrderAt = act.LastOrderAt

	// Ordering is frozen while the bill awaits payment, even with a valid
	// token in hand.
	if t.Status == enum.TableStatusNeedsAttention {
		verdict.Reason = ReasonAwaitingPayment
		return verdict, nil
	}

	switch {
	case t.Status == enum.TableStatusOccupied,
		t.Status == enum.TableStatusAvailable,
		act.HasActiveOrders,
		act.HasRecentOrders:
		verdict.Allowed = true
	default:
		verdict.Reason = ReasonInactive
		return verdict, nil
	}

	if err := v.store.TouchTableAccess(ctx, database.TouchTableAccessParams{
		ID:           tableID,
		LastAccessAt: now,
	}); err != nil {
		return Verdict{}, err
	}
	return verdict, nil
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, token.ErrMissingToken):
		return ReasonMissingToken
	case errors.Is(err, token.ErrTokenExpired):
		return ReasonTokenExpired
	default:
		return ReasonTokenMismatch
	}
}
