// Package payment owns the payment lifecycle: creation with an expiring
// window, provider webhook handling, and the release cascade that fires once
// per completed payment.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

// ExpiryWindow is how long a payment stays payable after creation.
const ExpiryWindow = 30 * time.Minute

var (
	ErrInvalidMethod     = errors.New("invalid payment method")
	ErrInvalidAmount     = errors.New("total_amount must be positive")
	ErrNoOrders          = errors.New("order_ids are required")
	ErrOrderMismatch     = errors.New("order does not belong to table")
	ErrPaymentInProgress = errors.New("table already has an open payment")
	ErrPaymentTerminal   = errors.New("payment is in a terminal state")
	ErrStatusRegression  = errors.New("payment status cannot move backward")
	ErrUnknownStatus     = errors.New("unknown payment status")
)

// externalStatusMap translates the provider's vocabulary onto the internal
// enum. Anything unrecognized defaults to processing so a payment is never
// silently dropped on a provider quirk.
var externalStatusMap = map[string]string{
	"paid":      enum.PaymentStatusCompleted,
	"approved":  enum.PaymentStatusCompleted,
	"confirmed": enum.PaymentStatusCompleted,
	"pending":   enum.PaymentStatusProcessing,
	"cancelled": enum.PaymentStatusCancelled,
	"expired":   enum.PaymentStatusCancelled,
	"failed":    enum.PaymentStatusFailed,
}

// MapExternalStatus resolves a provider status. known=false means the caller
// should log a provider error; the returned status is still processing.
func MapExternalStatus(external string) (status string, known bool) {
	if s, ok := externalStatusMap[strings.ToLower(external)]; ok {
		return s, true
	}
	return enum.PaymentStatusProcessing, false
}

// Store defines the DB methods needed by the payment service.
// Satisfied by *database.Queries; the table-machine methods are included so
// the completion cascade runs in the same transaction.
type Store interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	CountOpenPaymentsByTable(ctx context.Context, tableID uuid.UUID) (int64, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	AttachPixDetails(ctx context.Context, arg database.AttachPixDetailsParams) (database.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (database.Payment, error)
	UpdateOpenPaymentStatus(ctx context.Context, arg database.UpdateOpenPaymentStatusParams) (database.Payment, error)
	CompletePaymentGuarded(ctx context.Context, arg database.CompletePaymentGuardedParams) (database.Payment, error)
	CancelPaymentIfExpired(ctx context.Context, arg database.CancelPaymentIfExpiredParams) (database.Payment, error)
	CancelExpiredPayments(ctx context.Context, now time.Time) ([]database.ExpiredPaymentRow, error)
	RecordWebhookPayload(ctx context.Context, arg database.RecordWebhookPayloadParams) (database.Payment, error)

	GetTableForUpdate(ctx context.Context, id uuid.UUID) (database.Table, error)
	UpdateTableStatus(ctx context.Context, arg database.UpdateTableStatusParams) (database.Table, error)
	SettleOpenOrdersByTable(ctx context.Context, tableID uuid.UUID) (int64, error)
	ReleaseTable(ctx context.Context, id uuid.UUID) (database.Table, error)
}

// NewStore creates a Store from a DBTX (pool or tx).
type NewStore func(db database.DBTX) Store

// Service handles payment business logic.
type Service struct {
	store    Store
	pool     table.TxBeginner
	newStore NewStore
	pix      *PixProvider
	clk      clock.Clock
}

func NewService(store Store, pool table.TxBeginner, newStore NewStore, pix *PixProvider, clk clock.Clock) *Service {
	return &Service{store: store, pool: pool, newStore: newStore, pix: pix, clk: clk}
}

// CreateRequest is the validated input for closing a bill into a payment.
type CreateRequest struct {
	TableID     uuid.UUID
	Method      string
	TotalAmount decimal.Decimal
	OrderIDs    []uuid.UUID
}

// Create records a payment for the given orders. The table row is locked
// while the one-open-payment-per-table invariant is checked, so two
// concurrent bill closes cannot both create an open payment. Pix payments
// get provider fields synthesized and enter processing immediately; cash and
// card stay pending until staff confirm them.
func (s *Service) Create(ctx context.Context, req CreateRequest) (database.Payment, error) {
	if !enum.IsValidPaymentMethod(req.Method) {
		return database.Payment{}, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}
	if req.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return database.Payment{}, ErrInvalidAmount
	}
	if len(req.OrderIDs) == 0 {
		return database.Payment{}, ErrNoOrders
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Payment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if _, err := store.GetTableForUpdate(ctx, req.TableID); err != nil {
		return database.Payment{}, err
	}

	for i, orderID := range req.OrderIDs {
		o, err := store.GetOrder(ctx, orderID)
		if err != nil {
			return database.Payment{}, fmt.Errorf("order_ids[%d]: %w", i, err)
		}
		if o.TableID != req.TableID {
			return database.Payment{}, fmt.Errorf("order_ids[%d]: %w", i, ErrOrderMismatch)
		}
	}

	open, err := store.CountOpenPaymentsByTable(ctx, req.TableID)
	if err != nil {
		return database.Payment{}, fmt.Errorf("count open payments: %w", err)
	}
	if open > 0 {
		return database.Payment{}, ErrPaymentInProgress
	}

	p, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		TableID:       req.TableID,
		OrderIDs:      req.OrderIDs,
		PaymentMethod: req.Method,
		TotalAmount:   database.DecimalToNumeric(req.TotalAmount),
		ExpiresAt:     s.clk.Now().Add(ExpiryWindow),
	})
	if err != nil {
		return database.Payment{}, fmt.Errorf("create payment: %w", err)
	}

	if req.Method == enum.PaymentMethodPix {
		pix := s.pix.Generate(p.ID, req.TotalAmount)
		p, err = store.AttachPixDetails(ctx, database.AttachPixDetailsParams{
			ID:                p.ID,
			PixKey:            pix.Key,
			PixQRCode:         pix.QRCode,
			PixCopyPaste:      pix.CopyPaste,
			ExternalPaymentID: pix.ExternalID,
		})
		if err != nil {
			return database.Payment{}, fmt.Errorf("attach pix details: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Payment{}, fmt.Errorf("commit tx: %w", err)
	}
	return p, nil
}

// Get reads a payment, applying the on-read expiry check: an open payment
// past its window flips to cancelled here. A payment that completed in the
// race stays completed; the conditional update makes the loser a no-op.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return database.Payment{}, err
	}
	if enum.IsTerminalPaymentStatus(p.Status) {
		return p, nil
	}
	now := s.clk.Now()
	if now.Before(p.ExpiresAt) {
		return p, nil
	}
	cancelled, err := s.store.CancelPaymentIfExpired(ctx, database.CancelPaymentIfExpiredParams{ID: id, Now: now})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race against a concurrent completion or sweep.
			return s.store.GetPayment(ctx, id)
		}
		return database.Payment{}, err
	}
	return cancelled, nil
}

// CompleteResult reports a completion attempt.
type CompleteResult struct {
	Payment database.Payment
	// Cascaded is set when this call won the completion race and ran the
	// table release. A replay observes Cascaded=false.
	Cascaded      bool
	SettledOrders int64
}

// Complete marks a payment completed and, exactly once, cascades: every open
// order on the table moves to delivered and the table is released with its
// token revoked. The guarded update is the atomic decider; replays and
// racing pollers find zero affected rows and skip the cascade.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, providerTxID pgtype.Text) (CompleteResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	p, err := store.CompletePaymentGuarded(ctx, database.CompletePaymentGuardedParams{
		ID:                    id,
		ProviderTransactionID: providerTxID,
		PaidAt:                s.clk.Now(),
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return CompleteResult{}, err
		}
		current, err := s.store.GetPayment(ctx, id)
		if err != nil {
			return CompleteResult{}, err
		}
		if current.Status == enum.PaymentStatusCompleted {
			return CompleteResult{Payment: current}, nil
		}
		return CompleteResult{}, fmt.Errorf("%w: %s", ErrPaymentTerminal, current.Status)
	}

	tres, err := table.ApplyInTx(ctx, store, p.TableID, table.ActionConfirmPayment)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("release table: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CompleteResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return CompleteResult{Payment: p, Cascaded: true, SettledOrders: tres.SettledOrders}, nil
}

// Update is the staff/poll PATCH path. Terminal payments are immutable;
// completed routes through the cascade.
func (s *Service) Update(ctx context.Context, id uuid.UUID, status string, providerTxID, externalID pgtype.Text) (database.Payment, error) {
	if !enum.IsValidPaymentStatus(status) {
		return database.Payment{}, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	if status == enum.PaymentStatusCompleted {
		res, err := s.Complete(ctx, id, providerTxID)
		if err != nil {
			return database.Payment{}, err
		}
		return res.Payment, nil
	}

	// pending is the floor of the lifecycle; it never overwrites processing,
	// so its guard only matches rows still pending.
	allowedFrom := []string{enum.PaymentStatusPending, enum.PaymentStatusProcessing}
	if status == enum.PaymentStatusPending {
		allowedFrom = []string{enum.PaymentStatusPending}
	}

	p, err := s.store.UpdateOpenPaymentStatus(ctx, database.UpdateOpenPaymentStatusParams{
		ID:                    id,
		Status:                status,
		ProviderTransactionID: providerTxID,
		ExternalPaymentID:     externalID,
		AllowedFrom:           allowedFrom,
	})
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.Payment{}, err
	}

	current, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return database.Payment{}, err
	}
	if current.Status == status {
		return current, nil
	}
	if !enum.IsTerminalPaymentStatus(current.Status) {
		return database.Payment{}, fmt.Errorf("%w: %s to %s", ErrStatusRegression, current.Status, status)
	}
	return database.Payment{}, fmt.Errorf("%w: %s", ErrPaymentTerminal, current.Status)
}

// Webhook is the provider callback payload. Field names follow the provider
// contract.
type Webhook struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	EndToEndID    string `json:"end_to_end_id"`
}

// WebhookResult reports how a provider callback was applied.
type WebhookResult struct {
	Payment database.Payment
	// Applied is false when the callback was absorbed as an idempotent
	// replay or lost a race against a terminal transition.
	Applied bool
	// UnknownStatus is set when the provider vocabulary was unrecognized
	// and the payment was defaulted to processing.
	UnknownStatus bool
	Cascaded      bool
}

// HandleWebhook applies a provider callback. Unknown payment ids surface as
// pgx.ErrNoRows; everything else is absorbed so provider retries stay quiet.
// Replaying a terminal webhook never re-triggers the cascade.
func (s *Service) HandleWebhook(ctx context.Context, hook Webhook, raw []byte) (WebhookResult, error) {
	p, err := s.store.GetPaymentByExternalID(ctx, hook.PaymentID)
	if err != nil {
		return WebhookResult{}, err
	}

	var providerTxID pgtype.Text
	if hook.TransactionID != "" {
		providerTxID = pgtype.Text{String: hook.TransactionID, Valid: true}
	}

	// Keep the last payload regardless of whether it changes the status.
	if _, err := s.store.RecordWebhookPayload(ctx, database.RecordWebhookPayloadParams{
		ID:                    p.ID,
		WebhookPayload:        raw,
		ProviderTransactionID: providerTxID,
	}); err != nil {
		return WebhookResult{}, fmt.Errorf("record webhook payload: %w", err)
	}

	status, known := MapExternalStatus(hook.Status)
	res := WebhookResult{UnknownStatus: !known}

	if status == enum.PaymentStatusCompleted {
		cres, err := s.Complete(ctx, p.ID, providerTxID)
		if err != nil {
			if errors.Is(err, ErrPaymentTerminal) {
				// Late completion after expiry: the cancelled state stands.
				res.Payment, _ = s.store.GetPayment(ctx, p.ID)
				return res, nil
			}
			return WebhookResult{}, err
		}
		res.Payment = cres.Payment
		res.Applied = cres.Cascaded
		res.Cascaded = cres.Cascaded
		return res, nil
	}

	updated, err := s.store.UpdateOpenPaymentStatus(ctx, database.UpdateOpenPaymentStatusParams{
		ID:                    p.ID,
		Status:                status,
		ProviderTransactionID: providerTxID,
		AllowedFrom:           []string{enum.PaymentStatusPending, enum.PaymentStatusProcessing},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Payment already terminal; the webhook is a no-op.
			res.Payment, _ = s.store.GetPayment(ctx, p.ID)
			return res, nil
		}
		return WebhookResult{}, err
	}
	res.Payment = updated
	res.Applied = true
	return res, nil
}

// SweepExpired cancels every open payment past its window. It is the
// background half of the expiry check; the on-read half lives in Get.
func (s *Service) SweepExpired(ctx context.Context) ([]database.ExpiredPaymentRow, error) {
	return s.store.CancelExpiredPayments(ctx, s.clk.Now())
}

// StartSweeper runs SweepExpired on an interval until ctx is done. Sweep
// errors are reported through onErr (may be nil) and do not stop the loop.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration, onExpired func([]database.ExpiredPaymentRow), onErr func(error)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := s.SweepExpired(ctx)
				if err != nil {
					if onErr != nil {
						onErr(err)
					}
					continue
				}
				if len(expired) > 0 && onExpired != nil {
					onExpired(expired)
				}
			}
		}
	}()
}
