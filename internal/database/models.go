package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Table is a physical seating unit and the unit of access-control scoping.
// access_token and token_expires_at are either both NULL or both set.
type Table struct {
	ID             uuid.UUID
	TableNumber    int32
	Seats          int32
	Status         string
	AccessToken    pgtype.Text
	TokenExpiresAt pgtype.Timestamptz
	LastAccessAt   pgtype.Timestamptz
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Order struct {
	ID          uuid.UUID
	TableID     uuid.UUID
	Status      string
	TotalAmount pgtype.Numeric
	Notes       pgtype.Text
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	MenuItemID uuid.UUID
	Quantity   int32
	UnitPrice  pgtype.Numeric
	Notes      pgtype.Text
	CreatedAt  time.Time
}

type Payment struct {
	ID                    uuid.UUID
	TableID               uuid.UUID
	OrderIDs              []uuid.UUID
	PaymentMethod         string
	Status                string
	TotalAmount           pgtype.Numeric
	PixKey                pgtype.Text
	PixQRCode             pgtype.Text
	PixCopyPaste          pgtype.Text
	ExternalPaymentID     pgtype.Text
	ProviderTransactionID pgtype.Text
	WebhookPayload        []byte
	ExpiresAt             time.Time
	PaidAt                pgtype.Timestamptz
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type MenuCategory struct {
	ID           uuid.UUID
	Name         string
	Description  pgtype.Text
	DisplayOrder int32
	CreatedAt    time.Time
}

type MenuItem struct {
	ID              uuid.UUID
	CategoryID      uuid.UUID
	Name            string
	Description     pgtype.Text
	Price           pgtype.Numeric
	ImageURL        pgtype.Text
	Available       bool
	PreparationTime int32
	CreatedAt       time.Time
}

type WaiterCall struct {
	ID        uuid.UUID
	TableID   uuid.UUID
	Reason    string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type StaffUser struct {
	ID             uuid.UUID
	FullName       string
	Email          string
	HashedPassword string
	Role           string
	CreatedAt      time.Time
}
