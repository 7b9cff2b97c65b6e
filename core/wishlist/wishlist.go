package wishlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("product not in wishlist")
	ErrExists   = errors.New("product already in wishlist")
)

type Item struct {
	UserID    string    `json:"userId" db:"user_id"`
	ProductID string    `json:"productId" db:"product_id"`
	AddedAt   time.Time `json:"addedAt" db:"added_at"`
}

type ItemNew struct {
	ProductID string `json:"productId" validate:"required,uuid"`
}

func Create(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO wishlist_items (user_id, product_id, added_at)
	VALUES (:user_id, :product_id, :added_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("adding product[%s] to wishlist of user[%s]: %w", it.ProductID, it.UserID, err)
	}
	return nil
}

func FetchAll(ctx context.Context, db sqlx.ExtContext, userID string) ([]Item, error) {
	const q = `SELECT * FROM wishlist_items WHERE user_id = $1 ORDER BY added_at DESC`

	its := []Item{}
	if err := sqlx.SelectContext(ctx, db, &its, q, userID); err != nil {
		return nil, fmt.Errorf("fetching wishlist of user[%s]: %w", userID, err)
	}
	return its, nil
}

func Delete(ctx context.Context, db sqlx.ExtContext, userID string, productID string) error {
	const q = `DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`

	res, err := db.ExecContext(ctx, q, userID, productID)
	if err != nil {
		return fmt.Errorf("removing product[%s] from wishlist of user[%s]: %w", productID, userID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func DeleteAll(ctx context.Context, db sqlx.ExtContext, userID string) error {
	const q = `DELETE FROM wishlist_items WHERE user_id = $1`

	if _, err := db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("clearing wishlist of user[%s]: %w", userID, err)
	}
	return nil
}
