package database

import (
	"context"

	"github.com/google/uuid"
)

const getStaffByEmail = `
SELECT id, full_name, email, hashed_password, role, created_at
FROM staff_users
WHERE email = $1
`

func (q *Queries) GetStaffByEmail(ctx context.Context, email string) (StaffUser, error) {
	var u StaffUser
	err := q.db.QueryRow(ctx, getStaffByEmail, email).
		Scan(&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role, &u.CreatedAt)
	return u, err
}

const getStaffByID = `
SELECT id, full_name, email, hashed_password, role, created_at
FROM staff_users
WHERE id = $1
`

func (q *Queries) GetStaffByID(ctx context.Context, id uuid.UUID) (StaffUser, error) {
	var u StaffUser
	err := q.db.QueryRow(ctx, getStaffByID, id).
		Scan(&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.Role, &u.CreatedAt)
	return u, err
}
