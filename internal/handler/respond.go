package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/ws"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Notifier pushes lifecycle events to staff screens. Satisfied by *ws.Hub;
// nil-safe so tests and tools can run without a hub.
type Notifier interface {
	Broadcast(event ws.Event)
}

func notify(n Notifier, eventType string, payload interface{}) {
	if n == nil {
		return
	}
	n.Broadcast(ws.NewEvent(eventType, payload))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func textOrNil(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// moneyString renders a numeric column as a fixed two-decimal string.
func moneyString(n pgtype.Numeric) string {
	d, err := database.NumericToDecimal(n)
	if err != nil {
		log.Printf("ERROR: parse numeric: %v", err)
		return "0.00"
	}
	return d.StringFixed(2)
}

// --- Shared response shapes ---

type tableResponse struct {
	ID           uuid.UUID  `json:"id"`
	TableNumber  int32      `json:"table_number"`
	Seats        int32      `json:"seats"`
	Status       string     `json:"status"`
	TokenExpires *time.Time `json:"token_expires_at"`
	LastAccessAt *time.Time `json:"last_access_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// dbTableToResponse never exposes the access token itself.
func dbTableToResponse(t database.Table) tableResponse {
	return tableResponse{
		ID:           t.ID,
		TableNumber:  t.TableNumber,
		Seats:        t.Seats,
		Status:       t.Status,
		TokenExpires: database.TimestamptzOrNil(t.TokenExpiresAt),
		LastAccessAt: database.TimestamptzOrNil(t.LastAccessAt),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

type orderItemResponse struct {
	ID         uuid.UUID `json:"id"`
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Quantity   int32     `json:"quantity"`
	UnitPrice  string    `json:"unit_price"`
	Notes      *string   `json:"notes"`
	CreatedAt  time.Time `json:"created_at"`
}

type orderResponse struct {
	ID          uuid.UUID           `json:"id"`
	TableID     uuid.UUID           `json:"table_id"`
	Status      string              `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Notes       *string             `json:"notes"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	Items       []orderItemResponse `json:"items,omitempty"`
}

func dbOrderToResponse(o database.Order, items []database.OrderItem) orderResponse {
	resp := orderResponse{
		ID:          o.ID,
		TableID:     o.TableID,
		Status:      o.Status,
		TotalAmount: moneyString(o.TotalAmount),
		Notes:       textOrNil(o.Notes),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:         it.ID,
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  moneyString(it.UnitPrice),
			Notes:      textOrNil(it.Notes),
			CreatedAt:  it.CreatedAt,
		})
	}
	return resp
}

type paymentResponse struct {
	ID                    uuid.UUID   `json:"id"`
	TableID               uuid.UUID   `json:"table_id"`
	OrderIDs              []uuid.UUID `json:"order_ids"`
	PaymentMethod         string      `json:"payment_method"`
	Status                string      `json:"status"`
	TotalAmount           string      `json:"total_amount"`
	PixKey                *string     `json:"pix_key,omitempty"`
	PixQRCode             *string     `json:"pix_qr_code,omitempty"`
	PixCopyPaste          *string     `json:"pix_copy_paste,omitempty"`
	ExternalPaymentID     *string     `json:"external_payment_id,omitempty"`
	ProviderTransactionID *string     `json:"provider_transaction_id,omitempty"`
	ExpiresAt             time.Time   `json:"expires_at"`
	PaidAt                *time.Time  `json:"paid_at"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

func dbPaymentToResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:                    p.ID,
		TableID:               p.TableID,
		OrderIDs:              p.OrderIDs,
		PaymentMethod:         p.PaymentMethod,
		Status:                p.Status,
		TotalAmount:           moneyString(p.TotalAmount),
		PixKey:                textOrNil(p.PixKey),
		PixQRCode:             textOrNil(p.PixQRCode),
		PixCopyPaste:          textOrNil(p.PixCopyPaste),
		ExternalPaymentID:     textOrNil(p.ExternalPaymentID),
		ProviderTransactionID: textOrNil(p.ProviderTransactionID),
		ExpiresAt:             p.ExpiresAt,
		PaidAt:                database.TimestamptzOrNil(p.PaidAt),
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}
