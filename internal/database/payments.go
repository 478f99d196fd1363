package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, table_id, order_ids, payment_method, status, total_amount,
pix_key, pix_qr_code, pix_copy_paste, external_payment_id, provider_transaction_id,
webhook_payload, expires_at, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(dest ...any) error }) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.TableID,
		&p.OrderIDs,
		&p.PaymentMethod,
		&p.Status,
		&p.TotalAmount,
		&p.PixKey,
		&p.PixQRCode,
		&p.PixCopyPaste,
		&p.ExternalPaymentID,
		&p.ProviderTransactionID,
		&p.WebhookPayload,
		&p.ExpiresAt,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const createPayment = `
INSERT INTO payments (table_id, order_ids, payment_method, status, total_amount, expires_at)
VALUES ($1, $2, $3, 'pending', $4, $5)
RETURNING ` + paymentColumns + `
`

type CreatePaymentParams struct {
	TableID       uuid.UUID
	OrderIDs      []uuid.UUID
	PaymentMethod string
	TotalAmount   pgtype.Numeric
	ExpiresAt     time.Time
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, createPayment,
		arg.TableID, arg.OrderIDs, arg.PaymentMethod, arg.TotalAmount, arg.ExpiresAt))
}

const getPayment = `
SELECT ` + paymentColumns + ` FROM payments WHERE id = $1
`

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPayment, id))
}

const getPaymentByExternalID = `
SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id = $1
`

func (q *Queries) GetPaymentByExternalID(ctx context.Context, externalID string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByExternalID, externalID))
}

const countOpenPaymentsByTable = `
SELECT COUNT(*) FROM payments
WHERE table_id = $1 AND status IN ('pending', 'processing')
`

// CountOpenPaymentsByTable enforces the one-open-payment-per-table invariant;
// callers must hold the table row lock while checking.
func (q *Queries) CountOpenPaymentsByTable(ctx context.Context, tableID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countOpenPaymentsByTable, tableID).Scan(&n)
	return n, err
}

const attachPixDetails = `
UPDATE payments
SET pix_key = $2,
    pix_qr_code = $3,
    pix_copy_paste = $4,
    external_payment_id = $5,
    status = 'processing',
    updated_at = now()
WHERE id = $1
RETURNING ` + paymentColumns + `
`

type AttachPixDetailsParams struct {
	ID                uuid.UUID
	PixKey            string
	PixQRCode         string
	PixCopyPaste      string
	ExternalPaymentID string
}

// AttachPixDetails stores the synthesized provider reference and moves the
// payment into processing, waiting on the payer.
func (q *Queries) AttachPixDetails(ctx context.Context, arg AttachPixDetailsParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, attachPixDetails,
		arg.ID, arg.PixKey, arg.PixQRCode, arg.PixCopyPaste, arg.ExternalPaymentID))
}

const updateOpenPaymentStatus = `
UPDATE payments
SET status = $2,
    provider_transaction_id = COALESCE($3, provider_transaction_id),
    external_payment_id = COALESCE($4, external_payment_id),
    paid_at = COALESCE($5, paid_at),
    updated_at = now()
WHERE id = $1 AND status = ANY($6)
RETURNING ` + paymentColumns + `
`

type UpdateOpenPaymentStatusParams struct {
	ID                    uuid.UUID
	Status                string
	ProviderTransactionID pgtype.Text
	ExternalPaymentID     pgtype.Text
	PaidAt                pgtype.Timestamptz
	// AllowedFrom is the set of current statuses the write may replace;
	// callers use it to keep the lifecycle monotonic.
	AllowedFrom []string
}

// UpdateOpenPaymentStatus writes a status only while the row still holds one
// of the AllowedFrom statuses. pgx.ErrNoRows signals the write lost the race
// and must be resolved by re-reading the row.
func (q *Queries) UpdateOpenPaymentStatus(ctx context.Context, arg UpdateOpenPaymentStatusParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, updateOpenPaymentStatus,
		arg.ID, arg.Status, arg.ProviderTransactionID, arg.ExternalPaymentID, arg.PaidAt, arg.AllowedFrom))
}

const completePaymentGuarded = `
UPDATE payments
SET status = 'completed',
    provider_transaction_id = COALESCE($2, provider_transaction_id),
    paid_at = $3,
    updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing')
RETURNING ` + paymentColumns + `
`

type CompletePaymentGuardedParams struct {
	ID                    uuid.UUID
	ProviderTransactionID pgtype.Text
	PaidAt                time.Time
}

// CompletePaymentGuarded performs the single atomic step that decides the
// webhook-vs-poll race: exactly one caller observes an affected row and owns
// the release cascade.
func (q *Queries) CompletePaymentGuarded(ctx context.Context, arg CompletePaymentGuardedParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, completePaymentGuarded,
		arg.ID, arg.ProviderTransactionID, arg.PaidAt))
}

const cancelPaymentIfExpired = `
UPDATE payments
SET status = 'cancelled', updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing') AND expires_at < $2
RETURNING ` + paymentColumns + `
`

type CancelPaymentIfExpiredParams struct {
	ID  uuid.UUID
	Now time.Time
}

// CancelPaymentIfExpired is the on-read half of the expiry check. A payment
// that completed in the meantime is left untouched (pgx.ErrNoRows).
func (q *Queries) CancelPaymentIfExpired(ctx context.Context, arg CancelPaymentIfExpiredParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, cancelPaymentIfExpired, arg.ID, arg.Now))
}

const cancelExpiredPayments = `
UPDATE payments
SET status = 'cancelled', updated_at = now()
WHERE status IN ('pending', 'processing') AND expires_at < $1
RETURNING id, table_id
`

// ExpiredPaymentRow identifies a payment cancelled by the sweep.
type ExpiredPaymentRow struct {
	ID      uuid.UUID
	TableID uuid.UUID
}

// CancelExpiredPayments is the background half of the expiry check.
func (q *Queries) CancelExpiredPayments(ctx context.Context, now time.Time) ([]ExpiredPaymentRow, error) {
	rows, err := q.db.Query(ctx, cancelExpiredPayments, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []ExpiredPaymentRow
	for rows.Next() {
		var r ExpiredPaymentRow
		if err := rows.Scan(&r.ID, &r.TableID); err != nil {
			return nil, err
		}
		expired = append(expired, r)
	}
	return expired, rows.Err()
}

const recordWebhookPayload = `
UPDATE payments
SET webhook_payload = $2,
    provider_transaction_id = COALESCE($3, provider_transaction_id),
    updated_at = now()
WHERE id = $1
RETURNING ` + paymentColumns + `
`

type RecordWebhookPayloadParams struct {
	ID                    uuid.UUID
	WebhookPayload        []byte
	ProviderTransactionID pgtype.Text
}

// RecordWebhookPayload stores the last raw provider callback regardless of
// whether it changed the payment status.
func (q *Queries) RecordWebhookPayload(ctx context.Context, arg RecordWebhookPayloadParams) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, recordWebhookPayload,
		arg.ID, arg.WebhookPayload, arg.ProviderTransactionID))
}
