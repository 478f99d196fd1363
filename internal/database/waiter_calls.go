package database

import (
	"context"

	"github.com/google/uuid"
)

const waiterCallColumns = `id, table_id, reason, status, created_at, updated_at`

func scanWaiterCall(row interface{ Scan(dest ...any) error }) (WaiterCall, error) {
	var c WaiterCall
	err := row.Scan(&c.ID, &c.TableID, &c.Reason, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const createWaiterCall = `
INSERT INTO waiter_calls (table_id, reason, status)
VALUES ($1, $2, 'pending')
RETURNING ` + waiterCallColumns + `
`

type CreateWaiterCallParams struct {
	TableID uuid.UUID
	Reason  string
}

func (q *Queries) CreateWaiterCall(ctx context.Context, arg CreateWaiterCallParams) (WaiterCall, error) {
	return scanWaiterCall(q.db.QueryRow(ctx, createWaiterCall, arg.TableID, arg.Reason))
}

const updateWaiterCallStatus = `
UPDATE waiter_calls SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + waiterCallColumns + `
`

type UpdateWaiterCallStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateWaiterCallStatus(ctx context.Context, arg UpdateWaiterCallStatusParams) (WaiterCall, error) {
	return scanWaiterCall(q.db.QueryRow(ctx, updateWaiterCallStatus, arg.ID, arg.Status))
}

const listPendingWaiterCalls = `
SELECT ` + waiterCallColumns + ` FROM waiter_calls
WHERE status = 'pending'
ORDER BY created_at
`

func (q *Queries) ListPendingWaiterCalls(ctx context.Context) ([]WaiterCall, error) {
	rows, err := q.db.Query(ctx, listPendingWaiterCalls)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []WaiterCall
	for rows.Next() {
		c, err := scanWaiterCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
