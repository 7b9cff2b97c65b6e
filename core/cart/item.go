package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

func FetchItem(ctx context.Context, db sqlx.ExtContext, id string) (Item, error) {
	const q = `SELECT * FROM cart_items WHERE item_id = $1`

	var it Item
	if err := sqlx.GetContext(ctx, db, &it, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("fetching cart item[%s]: %w", id, err)
	}
	return it, nil
}

// FetchItemByKey looks up the unique line item of a cart for a
// (product, variant) pair. A nil variant matches rows without one.
func FetchItemByKey(ctx context.Context, db sqlx.ExtContext, cartID string, productID string, variantID *string) (Item, error) {
	const q = `
	SELECT * FROM cart_items
	WHERE cart_id = $1 AND product_id = $2 AND variant_id IS NOT DISTINCT FROM $3`

	var it Item
	if err := sqlx.GetContext(ctx, db, &it, q, cartID, productID, variantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("fetching cart item by key: %w", err)
	}
	return it, nil
}

func FetchItems(ctx context.Context, db sqlx.ExtContext, cartID string) ([]Item, error) {
	const q = `SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY created_at`

	its := []Item{}
	if err := sqlx.SelectContext(ctx, db, &its, q, cartID); err != nil {
		return nil, fmt.Errorf("fetching items of cart[%s]: %w", cartID, err)
	}
	return its, nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO cart_items
		(item_id, cart_id, product_id, variant_id, quantity, unit_price,
		total_price, created_at, updated_at)
	VALUES
		(:item_id, :cart_id, :product_id, :variant_id, :quantity, :unit_price,
		:total_price, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("creating cart item[%s]: %w", it.ID, err)
	}
	return nil
}

func UpdateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	UPDATE cart_items SET
		cart_id = :cart_id,
		quantity = :quantity,
		total_price = :total_price,
		updated_at = :updated_at
	WHERE item_id = :item_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("updating cart item[%s]: %w", it.ID, err)
	}
	return nil
}

func DeleteItem(ctx context.Context, db sqlx.ExtContext, id string) error {
	const q = `DELETE FROM cart_items WHERE item_id = $1`

	if _, err := db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting cart item[%s]: %w", id, err)
	}
	return nil
}

func DeleteItems(ctx context.Context, db sqlx.ExtContext, cartID string) error {
	const q = `DELETE FROM cart_items WHERE cart_id = $1`

	if _, err := db.ExecContext(ctx, q, cartID); err != nil {
		return fmt.Errorf("deleting items of cart[%s]: %w", cartID, err)
	}
	return nil
}

// SumQuantities is the badge count: total units across the cart.
func SumQuantities(ctx context.Context, db sqlx.ExtContext, cartID string) (int, error) {
	const q = `SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE cart_id = $1`

	var n int
	if err := sqlx.GetContext(ctx, db, &n, q, cartID); err != nil {
		return 0, fmt.Errorf("counting items of cart[%s]: %w", cartID, err)
	}
	return n, nil
}
