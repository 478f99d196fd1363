package database

import (
	"context"

	"github.com/google/uuid"
)

const listMenuCategories = `
SELECT id, name, description, display_order, created_at
FROM menu_categories
ORDER BY display_order, name
`

func (q *Queries) ListMenuCategories(ctx context.Context) ([]MenuCategory, error) {
	rows, err := q.db.Query(ctx, listMenuCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []MenuCategory
	for rows.Next() {
		var c MenuCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.DisplayOrder, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

const menuItemColumns = `id, category_id, name, description, price, image_url, available, preparation_time, created_at`

func scanMenuItem(row interface{ Scan(dest ...any) error }) (MenuItem, error) {
	var m MenuItem
	err := row.Scan(
		&m.ID,
		&m.CategoryID,
		&m.Name,
		&m.Description,
		&m.Price,
		&m.ImageURL,
		&m.Available,
		&m.PreparationTime,
		&m.CreatedAt,
	)
	return m, err
}

const listMenuItems = `
SELECT ` + menuItemColumns + ` FROM menu_items WHERE available ORDER BY name
`

func (q *Queries) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		m, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const getMenuItemForOrder = `
SELECT ` + menuItemColumns + ` FROM menu_items WHERE id = $1
`

// GetMenuItemForOrder resolves a line item against the catalog at order time;
// the price read here becomes the immutable snapshot on the order item.
func (q *Queries) GetMenuItemForOrder(ctx context.Context, id uuid.UUID) (MenuItem, error) {
	return scanMenuItem(q.db.QueryRow(ctx, getMenuItemForOrder, id))
}
