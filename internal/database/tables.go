package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const tableColumns = `id, table_number, seats, status, access_token, token_expires_at, last_access_at, created_at, updated_at`

func scanTable(row interface{ Scan(dest ...any) error }) (Table, error) {
	var t Table
	err := row.Scan(
		&t.ID,
		&t.TableNumber,
		&t.Seats,
		&t.Status,
		&t.AccessToken,
		&t.TokenExpiresAt,
		&t.LastAccessAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

const getTable = `
SELECT ` + tableColumns + ` FROM tables WHERE id = $1
`

func (q *Queries) GetTable(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTable, id))
}

const getTableForUpdate = `
SELECT ` + tableColumns + ` FROM tables WHERE id = $1 FOR NO KEY UPDATE
`

// GetTableForUpdate locks the table row. The table row is the serialization
// point for all of its orders and payments, so every mutating flow locks it
// before re-checking its guard.
func (q *Queries) GetTableForUpdate(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, getTableForUpdate, id))
}

const listTables = `
SELECT ` + tableColumns + ` FROM tables ORDER BY table_number
`

func (q *Queries) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := q.db.Query(ctx, listTables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

const updateTableStatus = `
UPDATE tables SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + tableColumns + `
`

type UpdateTableStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateTableStatus(ctx context.Context, arg UpdateTableStatusParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, updateTableStatus, arg.ID, arg.Status))
}

const setTableToken = `
UPDATE tables SET access_token = $2, token_expires_at = $3, updated_at = now()
WHERE id = $1
RETURNING ` + tableColumns + `
`

type SetTableTokenParams struct {
	ID             uuid.UUID
	AccessToken    string
	TokenExpiresAt time.Time
}

func (q *Queries) SetTableToken(ctx context.Context, arg SetTableTokenParams) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, setTableToken, arg.ID, arg.AccessToken, arg.TokenExpiresAt))
}

const clearTableToken = `
UPDATE tables SET access_token = NULL, token_expires_at = NULL, updated_at = now()
WHERE id = $1
RETURNING ` + tableColumns + `
`

func (q *Queries) ClearTableToken(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, clearTableToken, id))
}

const touchTableAccess = `
UPDATE tables SET last_access_at = $2 WHERE id = $1
`

type TouchTableAccessParams struct {
	ID           uuid.UUID
	LastAccessAt time.Time
}

func (q *Queries) TouchTableAccess(ctx context.Context, arg TouchTableAccessParams) error {
	_, err := q.db.Exec(ctx, touchTableAccess, arg.ID, arg.LastAccessAt)
	return err
}

const releaseTable = `
UPDATE tables
SET status = 'available',
    access_token = NULL,
    token_expires_at = NULL,
    last_access_at = NULL,
    updated_at = now()
WHERE id = $1
RETURNING ` + tableColumns + `
`

// ReleaseTable frees a table in one statement: status back to available,
// bearer token revoked, activity marker cleared.
func (q *Queries) ReleaseTable(ctx context.Context, id uuid.UUID) (Table, error) {
	return scanTable(q.db.QueryRow(ctx, releaseTable, id))
}

// TimestamptzOrNil converts a nullable timestamptz to *time.Time for responses.
func TimestamptzOrNil(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
