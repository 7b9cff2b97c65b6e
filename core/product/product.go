package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound        = errors.New("product not found")
	ErrVariantNotFound = errors.New("product variant not found")
)

// Product prices are integer minor units (cents).
type Product struct {
	ID          string    `json:"id" db:"product_id"`
	SupplierID  string    `json:"supplierId" db:"supplier_id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	SKU         string    `json:"sku" db:"sku"`
	Description string    `json:"description" db:"description"`
	Price       int64     `json:"price" db:"price"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
	Variants    []Variant `json:"variants,omitempty" db:"-"`
}

// Variant overrides the product price when its own price is set.
type Variant struct {
	ID        string    `json:"id" db:"variant_id"`
	ProductID string    `json:"productId" db:"product_id"`
	Title     string    `json:"title" db:"title"`
	SKU       string    `json:"sku" db:"sku"`
	Price     *int64    `json:"price" db:"price"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type ProductNew struct {
	Name        string `json:"name" validate:"required"`
	Slug        string `json:"slug" validate:"required"`
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Price       int64  `json:"price" validate:"gte=0"`
}

type ProductUp struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Price       *int64  `json:"price" validate:"omitempty,gte=0"`
	Active      *bool   `json:"active"`
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Product, error) {
	const q = `SELECT * FROM products WHERE product_id = $1`

	var p Product
	if err := sqlx.GetContext(ctx, db, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("fetching product[%s]: %w", id, err)
	}
	return p, nil
}

func FetchAll(ctx context.Context, db sqlx.ExtContext) ([]Product, error) {
	const q = `SELECT * FROM products WHERE active ORDER BY created_at DESC`

	ps := []Product{}
	if err := sqlx.SelectContext(ctx, db, &ps, q); err != nil {
		return nil, fmt.Errorf("fetching products: %w", err)
	}
	return ps, nil
}

func FetchVariant(ctx context.Context, db sqlx.ExtContext, id string) (Variant, error) {
	const q = `SELECT * FROM product_variants WHERE variant_id = $1`

	var v Variant
	if err := sqlx.GetContext(ctx, db, &v, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Variant{}, ErrVariantNotFound
		}
		return Variant{}, fmt.Errorf("fetching variant[%s]: %w", id, err)
	}
	return v, nil
}

func FetchVariants(ctx context.Context, db sqlx.ExtContext, productID string) ([]Variant, error) {
	const q = `SELECT * FROM product_variants WHERE product_id = $1 ORDER BY created_at`

	vs := []Variant{}
	if err := sqlx.SelectContext(ctx, db, &vs, q, productID); err != nil {
		return nil, fmt.Errorf("fetching variants of product[%s]: %w", productID, err)
	}
	return vs, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	INSERT INTO products
		(product_id, supplier_id, name, slug, sku, description, price, active, created_at, updated_at)
	VALUES
		(:product_id, :supplier_id, :name, :slug, :sku, :description, :price, :active, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("creating product[%s]: %w", p.ID, err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	UPDATE products SET
		name = :name,
		description = :description,
		price = :price,
		active = :active,
		updated_at = :updated_at
	WHERE product_id = :product_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return fmt.Errorf("updating product[%s]: %w", p.ID, err)
	}
	return nil
}
