package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Status string

const (
	Pending   Status = "pending"
	Paid      Status = "paid"
	Cancelled Status = "cancelled"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrNotCancellable means the order already left the pending state.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
)

type Order struct {
	ID          string    `json:"id" db:"order_id"`
	UserID      string    `json:"userId" db:"user_id"`
	Status      Status    `json:"status" db:"status"`
	Currency    string    `json:"currency" db:"currency"`
	Subtotal    int64     `json:"subtotal" db:"subtotal"`
	TotalAmount int64     `json:"totalAmount" db:"total_amount"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
	Items       []Item    `json:"items,omitempty" db:"-"`
}

type Item struct {
	OrderID    string    `json:"orderId" db:"order_id"`
	ProductID  string    `json:"productId" db:"product_id"`
	VariantID  *string   `json:"variantId,omitempty" db:"variant_id"`
	Quantity   int       `json:"quantity" db:"quantity"`
	UnitPrice  int64     `json:"unitPrice" db:"unit_price"`
	TotalPrice int64     `json:"totalPrice" db:"total_price"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Order, error) {
	const q = `SELECT * FROM orders WHERE order_id = $1`

	var o Order
	if err := sqlx.GetContext(ctx, db, &o, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("fetching order[%s]: %w", id, err)
	}
	return o, nil
}

func FetchByUser(ctx context.Context, db sqlx.ExtContext, userID string) ([]Order, error) {
	const q = `SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	os := []Order{}
	if err := sqlx.SelectContext(ctx, db, &os, q, userID); err != nil {
		return nil, fmt.Errorf("fetching orders of user[%s]: %w", userID, err)
	}
	return os, nil
}

func FetchItems(ctx context.Context, db sqlx.ExtContext, orderID string) ([]Item, error) {
	const q = `SELECT * FROM order_items WHERE order_id = $1 ORDER BY created_at`

	its := []Item{}
	if err := sqlx.SelectContext(ctx, db, &its, q, orderID); err != nil {
		return nil, fmt.Errorf("fetching items of order[%s]: %w", orderID, err)
	}
	return its, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, o Order) error {
	const q = `
	INSERT INTO orders
		(order_id, user_id, status, currency, subtotal, total_amount, created_at, updated_at)
	VALUES
		(:order_id, :user_id, :status, :currency, :subtotal, :total_amount, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, o); err != nil {
		return fmt.Errorf("creating order[%s]: %w", o.ID, err)
	}
	return nil
}

func CreateItem(ctx context.Context, db sqlx.ExtContext, it Item) error {
	const q = `
	INSERT INTO order_items
		(order_id, product_id, variant_id, quantity, unit_price, total_price, created_at)
	VALUES
		(:order_id, :product_id, :variant_id, :quantity, :unit_price, :total_price, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, it); err != nil {
		return fmt.Errorf("creating item of order[%s]: %w", it.OrderID, err)
	}
	return nil
}

func UpdateStatus(ctx context.Context, db sqlx.ExtContext, id string, status Status) error {
	const q = `UPDATE orders SET status = $2, updated_at = $3 WHERE order_id = $1`

	if _, err := db.ExecContext(ctx, q, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("updating status of order[%s]: %w", id, err)
	}
	return nil
}
