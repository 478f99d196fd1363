package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/order"
	"github.com/comanda-app/api/internal/table"
	"github.com/comanda-app/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderStore defines the read methods used by order list handlers.
type OrderStore interface {
	ListOrders(ctx context.Context) ([]database.Order, error)
	ListOrdersByStatus(ctx context.Context, statuses []string) ([]database.Order, error)
	ListOrdersByTable(ctx context.Context, tableID uuid.UUID) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

// OrderService drives order creation and status changes.
// Satisfied by *order.Service.
type OrderService interface {
	Create(ctx context.Context, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status string) (database.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	store    OrderStore
	orders   OrderService
	sessions SessionChecker
	notifier Notifier
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(store OrderStore, orders OrderService, sessions SessionChecker, notifier Notifier) *OrderHandler {
	return &OrderHandler{store: store, orders: orders, sessions: sessions, notifier: notifier}
}

// RegisterPublicRoutes registers the guest-facing endpoints.
func (h *OrderHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/orders", h.Create)
	r.Get("/tables/{id}/orders", h.ListByTable)
}

// RegisterStaffRoutes registers the JWT-protected endpoints.
func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Patch("/orders/{id}", h.UpdateStatus)
}

// --- Request types ---

type createOrderRequest struct {
	TableID     string                   `json:"table_id"`
	AccessToken string                   `json:"access_token"`
	Notes       string                   `json:"notes"`
	Items       []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	MenuItemID string `json:"menu_item_id"`
	Quantity   int32  `json:"quantity"`
	Notes      string `json:"notes"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// --- Handlers ---

// Create handles POST /orders. The session is re-validated here: carts can
// sit open for a while, so the poll-time verdict is not trusted.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
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
		log.Printf("ERROR: check session for order: %v", err)
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

	items := make([]order.CreateOrderItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CreateOrderItemRequest{
			MenuItemID: item.MenuItemID,
			Quantity:   item.Quantity,
			Notes:      item.Notes,
		}
	}

	res, err := h.orders.Create(r.Context(), order.CreateOrderRequest{
		TableID: tableID,
		Notes:   req.Notes,
		Items:   items,
	})
	if err != nil {
		switch {
		case errors.Is(err, order.ErrEmptyItems),
			errors.Is(err, order.ErrInvalidQuantity),
			errors.Is(err, order.ErrInvalidMenuItemID):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, order.ErrMenuItemNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, order.ErrMenuItemUnavailable):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, table.ErrAwaitingPayment):
			// A frozen table is an access denial, not a retryable conflict:
			// the guest's session is over until the bill settles.
			writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
		default:
			log.Printf("ERROR: create order: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	resp := dbOrderToResponse(res.Order, res.Items)
	notify(h.notifier, ws.EventOrderCreated, resp)
	notify(h.notifier, ws.EventTableUpdated, dbTableToResponse(res.Table))
	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /orders?status=a,b for kitchen and waiter feeds.
// Status filters accept legacy aliases.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		orders []database.Order
		err    error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses, bad := parseStatusFilter(raw)
		if bad != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status: " + bad})
			return
		}
		orders, err = h.store.ListOrdersByStatus(r.Context(), statuses)
	} else {
		orders, err = h.store.ListOrders(r.Context())
	}
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.writeOrderList(w, r, orders)
}

// ListByTable handles GET /tables/{id}/orders.
func (h *OrderHandler) ListByTable(w http.ResponseWriter, r *http.Request) {
	tableID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid table ID"})
		return
	}

	orders, err := h.store.ListOrdersByTable(r.Context(), tableID)
	if err != nil {
		log.Printf("ERROR: list orders for table: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.writeOrderList(w, r, orders)
}

// UpdateStatus handles PATCH /orders/{id}.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrInvalidStatus):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, order.ErrIllegalTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, pgx.ErrNoRows):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		default:
			log.Printf("ERROR: update order status: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), o.ID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(o, items)
	notify(h.notifier, ws.EventOrderUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) writeOrderList(w http.ResponseWriter, r *http.Request, orders []database.Order) {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items, err := h.store.ListOrderItemsByOrder(r.Context(), o.ID)
		if err != nil {
			log.Printf("ERROR: list order items: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		resp = append(resp, dbOrderToResponse(o, items))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseStatusFilter splits a comma-separated status filter, canonicalizing
// aliases. Returns the first unknown status if any.
func parseStatusFilter(raw string) ([]string, string) {
	var statuses []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			s := enum.Canonical(raw[start:i])
			if !enum.IsValidOrderStatus(s) {
				return nil, raw[start:i]
			}
			statuses = append(statuses, s)
			start = i + 1
		}
	}
	return statuses, ""
}
