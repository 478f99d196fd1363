package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/enum"
	"github.com/comanda-app/api/internal/handler"
	"github.com/comanda-app/api/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

type mockAuthStore struct {
	users map[string]database.StaffUser
}

func (m *mockAuthStore) GetStaffByEmail(_ context.Context, email string) (database.StaffUser, error) {
	u, ok := m.users[email]
	if !ok {
		return database.StaffUser{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *mockAuthStore) GetStaffByID(_ context.Context, id uuid.UUID) (database.StaffUser, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return database.StaffUser{}, pgx.ErrNoRows
}

func setupAuthRouter(t *testing.T, store *mockAuthStore) *chi.Mux {
	t.Helper()
	h := handler.NewAuthHandler(store, testJWTSecret)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(testJWTSecret))
		r.Get("/auth/me", h.Me)
	})
	return r
}

func staffUser(t *testing.T, email, password, role string) database.StaffUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return database.StaffUser{
		ID:             uuid.New(),
		Email:          email,
		FullName:       "Ana Souza",
		HashedPassword: string(hash),
		Role:           role,
	}
}

func TestLoginSuccess(t *testing.T) {
	user := staffUser(t, "ana@comanda.app", "secret123", enum.StaffRoleWaiter)
	store := &mockAuthStore{users: map[string]database.StaffUser{user.Email: user}}
	router := setupAuthRouter(t, store)

	rr := doRequest(t, router, "POST", "/auth/login", map[string]string{
		"email":    "ana@comanda.app",
		"password": "secret123",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200; body: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["access_token"] == "" || resp["access_token"] == nil {
		t.Error("missing access_token")
	}
	u := resp["user"].(map[string]interface{})
	if u["email"] != user.Email {
		t.Errorf("email = %v, want %s", u["email"], user.Email)
	}
	if u["role"] != enum.StaffRoleWaiter {
		t.Errorf("role = %v, want waiter", u["role"])
	}
	if _, leaked := u["hashed_password"]; leaked {
		t.Error("response leaked the password hash")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	user := staffUser(t, "ana@comanda.app", "secret123", enum.StaffRoleWaiter)
	store := &mockAuthStore{users: map[string]database.StaffUser{user.Email: user}}
	router := setupAuthRouter(t, store)

	rr := doRequest(t, router, "POST", "/auth/login", map[string]string{
		"email":    "ana@comanda.app",
		"password": "nope",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	router := setupAuthRouter(t, &mockAuthStore{users: map[string]database.StaffUser{}})

	rr := doRequest(t, router, "POST", "/auth/login", map[string]string{
		"email":    "ghost@comanda.app",
		"password": "whatever",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	router := setupAuthRouter(t, &mockAuthStore{users: map[string]database.StaffUser{}})

	rr := doRequest(t, router, "POST", "/auth/login", map[string]string{"email": "ana@comanda.app"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rr.Code)
	}
}

func TestMe(t *testing.T) {
	user := staffUser(t, "ana@comanda.app", "secret123", enum.StaffRoleAdmin)
	store := &mockAuthStore{users: map[string]database.StaffUser{user.Email: user}}
	router := setupAuthRouter(t, store)

	rr := doAuthRequest(t, router, "GET", "/auth/me", nil, user.ID, user.Role)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200; body: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["id"] != user.ID.String() {
		t.Errorf("id = %v, want %s", resp["id"], user.ID)
	}
}

func TestMeRequiresToken(t *testing.T) {
	router := setupAuthRouter(t, &mockAuthStore{users: map[string]database.StaffUser{}})
	rr := doRequest(t, router, "GET", "/auth/me", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rr.Code)
	}
}
