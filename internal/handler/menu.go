package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/comanda-app/api/internal/database"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// MenuStore defines the read methods used by menu handlers.
type MenuStore interface {
	ListMenuCategories(ctx context.Context) ([]database.MenuCategory, error)
	ListMenuItems(ctx context.Context) ([]database.MenuItem, error)
}

// MenuHandler serves the read-only menu catalog.
type MenuHandler struct {
	store MenuStore
}

func NewMenuHandler(store MenuStore) *MenuHandler {
	return &MenuHandler{store: store}
}

func (h *MenuHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/menu/categories", h.ListCategories)
	r.Get("/menu/items", h.ListItems)
}

type menuCategoryResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description"`
	DisplayOrder int32     `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

type menuItemResponse struct {
	ID          uuid.UUID `json:"id"`
	CategoryID  uuid.UUID `json:"category_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Price       string    `json:"price"`
	ImageURL    *string   `json:"image_url"`
	Available   bool      `json:"available"`
	PrepMinutes int32     `json:"preparation_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListCategories handles GET /menu/categories.
func (h *MenuHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListMenuCategories(r.Context())
	if err != nil {
		log.Printf("ERROR: list menu categories: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	resp := make([]menuCategoryResponse, len(categories))
	for i, c := range categories {
		resp[i] = menuCategoryResponse{
			ID:           c.ID,
			Name:         c.Name,
			Description:  textOrNil(c.Description),
			DisplayOrder: c.DisplayOrder,
			CreatedAt:    c.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListItems handles GET /menu/items. Only available items are returned.
func (h *MenuHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListMenuItems(r.Context())
	if err != nil {
		log.Printf("ERROR: list menu items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]menuItemResponse, len(items))
	for i, it := range items {
		resp[i] = menuItemResponse{
			ID:          it.ID,
			CategoryID:  it.CategoryID,
			Name:        it.Name,
			Description: textOrNil(it.Description),
			Price:       moneyString(it.Price),
			ImageURL:    textOrNil(it.ImageURL),
			Available:   it.Available,
			PrepMinutes: it.PreparationTime,
			CreatedAt:   it.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
