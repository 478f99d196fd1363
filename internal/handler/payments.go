package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/payment"
	"github.com/comanda-app/api/internal/table"
	"github.com/comanda-app/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// PaymentService drives the payment lifecycle.
// Satisfied by *payment.Service.
type PaymentService interface {
	Create(ctx context.Context, req payment.CreateRequest) (database.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (database.Payment, error)
	Update(ctx context.Context, id uuid.UUID, status string, providerTxID, externalID pgtype.Text) (database.Payment, error)
	HandleWebhook(ctx context.Context, hook payment.Webhook, raw []byte) (payment.WebhookResult, error)
}

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	payments PaymentService
	machine  StateMachine
	sessions SessionChecker
	notifier Notifier
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments PaymentService, machine StateMachine, sessions SessionChecker, notifier Notifier) *PaymentHandler {
	return &PaymentHandler{payments: payments, machine: machine, sessions: sessions, notifier: notifier}
}

// RegisterPublicRoutes registers the guest-facing endpoints.
func (h *PaymentHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/payments", h.Create)
	r.Get("/payments/{id}", h.Get)
	r.Post("/payments/webhook", h.Webhook)
}

// RegisterStaffRoutes registers the JWT-protected endpoints.
func (h *PaymentHandler) RegisterStaffRoutes(r chi.Router) {
	r.Patch("/payments/{id}", h.Update)
}

// --- Request types ---

type createPaymentRequest struct {
	TableID     string   `json:"table_id"`
	AccessToken string   `json:"access_token"`
	Method      string   `json:"payment_method"`
	TotalAmount string   `json:"total_amount"`
	OrderIDs    []string `json:"order_ids"`
}

type updatePaymentRequest struct {
	Status                string `json:"status"`
	ProviderTransactionID string `json:"provider_transaction_id"`
	ExternalPaymentID     string `json:"external_payment_id"`
}

// --- Handlers ---

// Create handles POST /payments: the close-bill flow. The payment is created
// first; the table then moves through close_bill so further ordering is
// frozen while the bill settles. A table already at needs_attention is a
// no-op for the second step.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tableID, err := uuid.Parse(req.TableID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	verdict, err := h.sessions.Check(r.Context(), tableID, req.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: check session for payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if verdict.RequiresNewToken {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error":              "access denied",
			"reason":             verdict.Reason,
			"requires_new_token": true,
		})
		return
	}

	amount, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid total_amount"})
		return
	}

	orderIDs := make([]uuid.UUID, len(req.OrderIDs))
	for i, raw := range req.OrderIDs {
		orderIDs[i], err = uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
			return
		}
	}

	p, err := h.payments.Create(r.Context(), payment.CreateRequest{
		TableID:     tableID,
		Method:      req.Method,
		TotalAmount: amount,
		OrderIDs:    orderIDs,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidMethod),
			errors.Is(err, payment.ErrInvalidAmount),
			errors.Is(err, payment.ErrNoOrders):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, payment.ErrOrderMismatch):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, payment.ErrPaymentInProgress):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table or order not found"})
		default:
			log.Printf("ERROR: create payment: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	res, err := h.machine.Apply(r.Context(), tableID, table.ActionCloseBill)
	if err != nil {
		// The payment stands either way; a table that is not occupied
		// (reserved walk-ins, staff override) just skips the freeze.
		if !errors.Is(err, table.ErrConflict) {
			log.Printf("ERROR: close bill for table %s: %v", tableID, err)
		}
	} else if !res.NoOp {
		notify(h.notifier, ws.EventTableUpdated, dbTableToResponse(res.Table))
	}

	resp := dbPaymentToResponse(p)
	notify(h.notifier, ws.EventPaymentUpdated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

// Get handles GET /payments/{id}. Clients poll this while waiting on pix;
// the read path applies the expiry check.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment ID"})
		return
	}

	p, err := h.payments.Get(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
			return
		}
		log.Printf("ERROR: get payment: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbPaymentToResponse(p))
}

// Update handles PATCH /payments/{id}: manual confirmation for cash and card.
func (h *PaymentHandler) Update(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment ID"})
		return
	}

	var req updatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	p, err := h.payments.Update(r.Context(), paymentID, req.Status, pgText(req.ProviderTransactionID), pgText(req.ExternalPaymentID))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownStatus):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, payment.ErrPaymentTerminal), errors.Is(err, payment.ErrStatusRegression):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
		default:
			log.Printf("ERROR: update payment: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := dbPaymentToResponse(p)
	notify(h.notifier, ws.EventPaymentUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Webhook handles POST /payments/webhook. Malformed payloads are logged and
// acked with 200 so the provider stops retrying garbage; only an unknown
// payment id gets a 404.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Printf("ERROR: read webhook body: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var hook payment.Webhook
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&hook); err != nil || hook.PaymentID == "" {
		log.Printf("ERROR: malformed webhook payload: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	res, err := h.payments.HandleWebhook(r.Context(), hook, raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment not found"})
			return
		}
		log.Printf("ERROR: handle webhook: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if res.UnknownStatus {
		log.Printf("ERROR: unknown provider status %q for payment %s, defaulted to processing", hook.Status, res.Payment.ID)
	}
	if res.Applied {
		notify(h.notifier, ws.EventPaymentUpdated, dbPaymentToResponse(res.Payment))
	}
	if res.Cascaded {
		notify(h.notifier, ws.EventTableUpdated, map[string]string{
			"table_id": res.Payment.TableID.String(),
			"status":   enum.TableStatusAvailable,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "received",
		"applied": res.Applied,
	})
}
