package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart item not found")

	// ErrNoOwner means neither a user id nor a session id was supplied.
	ErrNoOwner = errors.New("either a user id or a session id must be provided")

	// ErrConflictRetry means concurrent cart creation could not be
	// resolved within the retry budget.
	ErrConflictRetry = errors.New("cart creation conflict not resolved")
)

// StockError reports a positive but insufficient inventory level.
type StockError struct {
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock: %d available", e.Available)
}

// Owner scopes a cart to exactly one of a user or an anonymous session.
type Owner struct {
	UserID    string
	SessionID string
}

func (o Owner) validate() error {
	if (o.UserID == "") == (o.SessionID == "") {
		return ErrNoOwner
	}
	return nil
}

// Cart monetary fields are a derived cache over the items, never a
// source of truth for billing. Amounts are integer minor units.
type Cart struct {
	ID             string    `json:"id" db:"cart_id"`
	UserID         *string   `json:"userId,omitempty" db:"user_id"`
	SessionID      *string   `json:"-" db:"session_id"`
	Currency       string    `json:"currency" db:"currency"`
	Subtotal       int64     `json:"subtotal" db:"subtotal"`
	TaxAmount      int64     `json:"taxAmount" db:"tax_amount"`
	ShippingAmount int64     `json:"shippingAmount" db:"shipping_amount"`
	DiscountAmount int64     `json:"discountAmount" db:"discount_amount"`
	TotalAmount    int64     `json:"totalAmount" db:"total_amount"`
	ExpiresAt      time.Time `json:"expiresAt" db:"expires_at"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
	Items          []Item    `json:"items,omitempty" db:"-"`
}

// Item snapshots the unit price at add time; later catalog price changes
// do not touch it.
type Item struct {
	ID         string    `json:"id" db:"item_id"`
	CartID     string    `json:"cartId" db:"cart_id"`
	ProductID  string    `json:"productId" db:"product_id"`
	VariantID  *string   `json:"variantId,omitempty" db:"variant_id"`
	Quantity   int       `json:"quantity" db:"quantity"`
	UnitPrice  int64     `json:"unitPrice" db:"unit_price"`
	TotalPrice int64     `json:"totalPrice" db:"total_price"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

type ItemNew struct {
	ProductID string  `json:"productId" validate:"required,uuid"`
	VariantID *string `json:"variantId" validate:"omitempty,uuid"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
}

type ItemUp struct {
	Quantity int `json:"quantity"`
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Cart, error) {
	const q = `SELECT * FROM carts WHERE cart_id = $1`

	var c Cart
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("fetching cart[%s]: %w", id, err)
	}
	return c, nil
}

func FetchByOwner(ctx context.Context, db sqlx.ExtContext, owner Owner) (Cart, error) {
	q := `SELECT * FROM carts WHERE user_id = $1`
	key := owner.UserID
	if owner.UserID == "" {
		q = `SELECT * FROM carts WHERE session_id = $1`
		key = owner.SessionID
	}

	var c Cart
	if err := sqlx.GetContext(ctx, db, &c, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("fetching cart of owner[%s]: %w", key, err)
	}
	return c, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, c Cart) error {
	const q = `
	INSERT INTO carts
		(cart_id, user_id, session_id, currency, subtotal, tax_amount,
		shipping_amount, discount_amount, total_amount, expires_at, created_at, updated_at)
	VALUES
		(:cart_id, :user_id, :session_id, :currency, :subtotal, :tax_amount,
		:shipping_amount, :discount_amount, :total_amount, :expires_at, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("creating cart[%s]: %w", c.ID, err)
	}
	return nil
}

func Delete(ctx context.Context, db sqlx.ExtContext, id string) error {
	const q = `DELETE FROM carts WHERE cart_id = $1`

	if _, err := db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting cart[%s]: %w", id, err)
	}
	return nil
}

// Reown moves an anonymous cart under a user.
func Reown(ctx context.Context, db sqlx.ExtContext, id string, userID string) error {
	const q = `
	UPDATE carts SET user_id = $2, session_id = NULL, updated_at = $3
	WHERE cart_id = $1`

	if _, err := db.ExecContext(ctx, q, id, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("reowning cart[%s] to user[%s]: %w", id, userID, err)
	}
	return nil
}

// DeleteExpired sweeps carts past their expiry. It is a standalone
// maintenance operation, never part of the read path.
func DeleteExpired(ctx context.Context, db sqlx.ExtContext) (int64, error) {
	const q = `DELETE FROM carts WHERE expires_at < $1`

	res, err := db.ExecContext(ctx, q, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired carts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted carts: %w", err)
	}
	return n, nil
}

// RecomputeTotals rewrites the cached subtotal and total from the
// current items. Tax, shipping and discount keep their stored values.
func RecomputeTotals(ctx context.Context, db sqlx.ExtContext, cartID string) error {
	const q = `
	UPDATE carts SET
		subtotal = totals.amount,
		total_amount = totals.amount,
		updated_at = $2
	FROM (
		SELECT COALESCE(SUM(total_price), 0) AS amount
		FROM cart_items WHERE cart_id = $1
	) AS totals
	WHERE cart_id = $1`

	if _, err := db.ExecContext(ctx, q, cartID, time.Now().UTC()); err != nil {
		return fmt.Errorf("recomputing totals of cart[%s]: %w", cartID, err)
	}
	return nil
}
