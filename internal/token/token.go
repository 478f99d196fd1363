// Package token issues and checks the per-table bearer tokens that gate
// guest access. A token is an opaque random secret stored on the table row
// with an absolute expiry; issuing a new one implicitly revokes the old.
package token

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/comanda-app/api/internal/clock"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/google/uuid"
)

const (
	// GuestTTL covers one QR-code scan sitting.
	GuestTTL = 4 * time.Hour
	// OperatorTTL covers a staff tablet bound to a table for a shift.
	OperatorTTL = 8 * time.Hour

	tokenBytes = 32
)

var (
	ErrMissingToken  = errors.New("access token required")
	ErrTokenMismatch = errors.New("access token does not match")
	ErrTokenExpired  = errors.New("access token expired")
	ErrUnknownClass  = errors.New("unknown token class")
)

// Store defines the database methods needed by the token service.
// Satisfied by *database.Queries.
type Store interface {
	GetTable(ctx context.Context, id uuid.UUID) (database.Table, error)
	SetTableToken(ctx context.Context, arg database.SetTableTokenParams) (database.Table, error)
	ClearTableToken(ctx context.Context, id uuid.UUID) (database.Table, error)
}

// Service mints, validates, and revokes table access tokens.
type Service struct {
	store Store
	clk   clock.Clock
}

func NewService(store Store, clk clock.Clock) *Service {
	return &Service{store: store, clk: clk}
}

// TTLForClass resolves a token class to its validity window.
func TTLForClass(class string) (time.Duration, error) {
	switch class {
	case enum.TokenClassGuest:
		return GuestTTL, nil
	case enum.TokenClassOperator:
		return OperatorTTL, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
}

// Issue generates a fresh token for the table and stores it with an absolute
// expiry, overwriting any previous token.
func (s *Service) Issue(ctx context.Context, tableID uuid.UUID, class string) (string, time.Time, error) {
	ttl, err := TTLForClass(class)
	if err != nil {
		return "", time.Time{}, err
	}

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	expiresAt := s.clk.Now().Add(ttl)

	if _, err := s.store.SetTableToken(ctx, database.SetTableTokenParams{
		ID:             tableID,
		AccessToken:    tok,
		TokenExpiresAt: expiresAt,
	}); err != nil {
		return "", time.Time{}, err
	}
	return tok, expiresAt, nil
}

// Validate loads the table and checks the presented token against it.
func (s *Service) Validate(ctx context.Context, tableID uuid.UUID, presented string) error {
	t, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	return Check(t, presented, s.clk.Now())
}

// Revoke clears the table's token and expiry.
func (s *Service) Revoke(ctx context.Context, tableID uuid.UUID) error {
	_, err := s.store.ClearTableToken(ctx, tableID)
	return err
}

// Check validates a presented token against an already loaded table row.
// It is pure so the session validator can reuse a row it has in hand.
func Check(t database.Table, presented string, now time.Time) error {
	if presented == "" {
		return ErrMissingToken
	}
	if !t.AccessToken.Valid ||
		subtle.ConstantTimeCompare([]byte(t.AccessToken.String), []byte(presented)) != 1 {
		return ErrTokenMismatch
	}
	if !t.TokenExpiresAt.Valid || now.After(t.TokenExpiresAt.Time) {
		return ErrTokenExpired
	}
	return nil
}
