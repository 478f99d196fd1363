package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/middleware"
	"github.com/comanda-app/api/internal/session"
	"github.com/comanda-app/api/internal/table"
	"github.com/comanda-app/api/internal/token"
	"github.com/comanda-app/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TableStore defines the database methods needed by table handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type TableStore interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	ListTables(ctx context.Context) ([]database.Table, error)
	CreateWaiterCall(ctx context.Context, arg database.CreateWaiterCallParams) (database.WaiterCall, error)
	UpdateWaiterCallStatus(ctx context.Context, arg database.UpdateWaiterCallStatusParams) (database.WaiterCall, error)
	ListPendingWaiterCalls(ctx context.Context) ([]database.WaiterCall, error)
}

// StateMachine applies table status transitions.
// Satisfied by *table.Machine.
type StateMachine interface {
	Apply(ctx context.Context, tableID uuid.UUID, action string) (table.Result, error)
}

// SessionChecker produces session verdicts.
// Satisfied by *session.Validator.
type SessionChecker interface {
	Check(ctx context.Context, tableID uuid.UUID, presented string) (session.Verdict, error)
}

// TokenIssuer mints and revokes table access tokens.
// Satisfied by *token.Service.
type TokenIssuer interface {
	Issue(ctx context.Context, tableID uuid.UUID, class string) (string, time.Time, error)
}

// TableHandler handles table, session, and waiter-call endpoints.
type TableHandler struct {
	store         TableStore
	machine       StateMachine
	sessions      SessionChecker
	tokens        TokenIssuer
	notifier      Notifier
	publicBaseURL string
}

// NewTableHandler creates a new TableHandler.
func NewTableHandler(store TableStore, machine StateMachine, sessions SessionChecker, tokens TokenIssuer, notifier Notifier, publicBaseURL string) *TableHandler {
	return &TableHandler{
		store:         store,
		machine:       machine,
		sessions:      sessions,
		tokens:        tokens,
		notifier:      notifier,
		publicBaseURL: publicBaseURL,
	}
}

// RegisterPublicRoutes registers the guest-facing endpoints.
func (h *TableHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/tables/{id}/session", h.Session)
	r.Post("/tables/{id}/call-waiter", h.CallWaiter)
}

// RegisterStaffRoutes registers the JWT-protected endpoints. Token minting
// and forced session closes are front-of-house operations; kitchen accounts
// never touch them.
func (h *TableHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/tables", h.List)
	r.Patch("/tables/{id}/status", h.UpdateStatus)
	r.Get("/waiter-calls", h.ListWaiterCalls)
	r.Patch("/waiter-calls/{id}", h.AcknowledgeWaiterCall)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(enum.StaffRoleAdmin, enum.StaffRoleWaiter))
		r.Delete("/tables/{id}/session", h.CloseSession)
		r.Post("/tables/{id}/access", h.IssueToken)
	})
}

// --- Request / Response types ---

type sessionState struct {
	IsValid          bool       `json:"isValid"`
	HasActiveOrders  bool       `json:"hasActiveOrders"`
	HasRecentOrders  bool       `json:"hasRecentOrders"`
	LastOrderTime    *time.Time `json:"lastOrderTime,omitempty"`
	TokenValid       *bool      `json:"tokenValid,omitempty"`
	TokenExpires     *time.Time `json:"tokenExpires,omitempty"`
	AwaitingPayment  bool       `json:"awaitingPayment"`
	InactivityReason string     `json:"reason,omitempty"`
}

type sessionResponse struct {
	Table   tableResponse `json:"table"`
	Session sessionState  `json:"session"`
}

type updateStatusRequest struct {
	Action string `json:"action"`
}

type issueTokenRequest struct {
	Class string `json:"class"`
}

type issueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AccessURL string    `json:"access_url"`
}

type callWaiterRequest struct {
	Reason string `json:"reason"`
}

type ackWaiterCallRequest struct {
	Status string `json:"status"`
}

type waiterCallResponse struct {
	ID        uuid.UUID `json:"id"`
	TableID   uuid.UUID `json:"table_id"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func dbWaiterCallToResponse(c database.WaiterCall) waiterCallResponse {
	return waiterCallResponse{
		ID:        c.ID,
		TableID:   c.TableID,
		Reason:    c.Reason,
		Status:    c.Status,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// --- Handlers ---

// List handles GET /tables.
func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTables(r.Context())
	if err != nil {
		log.Printf("ERROR: list tables: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]tableResponse, len(tables))
	for i, t := range tables {
		resp[i] = dbTableToResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session handles GET /tables/{id}/session?token=...
// Clients poll this on an interval and before each order submission.
func (h *TableHandler) Session(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	verdict, err := h.sessions.Check(r.Context(), tableID, r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: check session: %v", err)
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

	state := sessionState{
		IsValid:         verdict.Allowed,
		HasActiveOrders: verdict.HasActiveOrders,
		HasRecentOrders: verdict.HasRecentOrders,
		LastOrderTime:   verdict.LastOrderAt,
		AwaitingPayment: verdict.Reason == session.ReasonAwaitingPayment,
	}
	if verdict.TokenValid {
		valid := true
		state.TokenValid = &valid
		state.TokenExpires = verdict.TokenExpires
	}
	if !verdict.Allowed {
		state.InactivityReason = verdict.Reason
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Table:   dbTableToResponse(verdict.Table),
		Session: state,
	})
}

// CloseSession handles DELETE /tables/{id}/session: staff-initiated forced
// close. The table is released and its token revoked.
func (h *TableHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	res, err := h.machine.Apply(r.Context(), tableID, table.ActionFree)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: close session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	notify(h.notifier, ws.EventTableUpdated, dbTableToResponse(res.Table))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":   dbTableToResponse(res.Table),
		"message": "Table session closed.",
	})
}

// UpdateStatus handles PATCH /tables/{id}/status.
func (h *TableHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.machine.Apply(r.Context(), tableID, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
		case errors.Is(err, table.ErrInvalidAction):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, table.ErrConflict), errors.Is(err, table.ErrAwaitingPayment):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: apply table action %s: %v", req.Action, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	if !res.NoOp {
		notify(h.notifier, ws.EventTableUpdated, dbTableToResponse(res.Table))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":   dbTableToResponse(res.Table),
		"message": res.Message,
	})
}

// IssueToken handles POST /tables/{id}/access: staff-initiated token
// minting for guest QR handoff or operator tablets.
func (h *TableHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	req := issueTokenRequest{Class: enum.TokenClassOperator}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if _, err := h.store.GetTable(r.Context(), tableID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: get table for access: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	tok, expiresAt, err := h.tokens.Issue(r.Context(), tableID, req.Class)
	if err != nil {
		if errors.Is(err, token.ErrUnknownClass) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		log.Printf("ERROR: issue token: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, issueTokenResponse{
		Token:     tok,
		ExpiresAt: expiresAt,
		AccessURL: fmt.Sprintf("%s/client/%s?token=%s", h.publicBaseURL, tableID, tok),
	})
}

// CallWaiter handles POST /tables/{id}/call-waiter. A waiter request is an
// independent record and event, never a table status: needs_attention is
// reserved for the awaiting-payment state.
func (h *TableHandler) CallWaiter(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	var req callWaiterRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "general request"
	}

	if _, err := h.store.GetTable(r.Context(), tableID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
			return
		}
		log.Printf("ERROR: get table for waiter call: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	call, err := h.store.CreateWaiterCall(r.Context(), database.CreateWaiterCallParams{
		TableID: tableID,
		Reason:  req.Reason,
	})
	if err != nil {
		log.Printf("ERROR: create waiter call: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbWaiterCallToResponse(call)
	notify(h.notifier, ws.EventWaiterCalled, resp)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"call":    resp,
		"message": "Waiter on the way.",
	})
}

// ListWaiterCalls handles GET /waiter-calls.
func (h *TableHandler) ListWaiterCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.store.ListPendingWaiterCalls(r.Context())
	if err != nil {
		log.Printf("ERROR: list waiter calls: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	resp := make([]waiterCallResponse, len(calls))
	for i, c := range calls {
		resp[i] = dbWaiterCallToResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AcknowledgeWaiterCall handles PATCH /waiter-calls/{id}.
func (h *TableHandler) AcknowledgeWaiterCall(w http.ResponseWriter, r *http.Request) {
	callID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid call ID"})
		return
	}

	req := ackWaiterCallRequest{Status: enum.WaiterCallStatusAcknowledged}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if req.Status != enum.WaiterCallStatusPending && req.Status != enum.WaiterCallStatusAcknowledged {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	call, err := h.store.UpdateWaiterCallStatus(r.Context(), database.UpdateWaiterCallStatusParams{
		ID:     callID,
		Status: req.Status,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "waiter call not found"})
			return
		}
		log.Printf("ERROR: update waiter call: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbWaiterCallToResponse(call))
}
