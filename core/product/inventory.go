package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Inventory answers availability questions for the cart. Enforcement is
// best-effort: callers treat lookup failures as non-blocking.
type Inventory interface {
	Available(ctx context.Context, productID string, variantID *string) (int, error)
}

// Stock is the database-backed Inventory.
type Stock struct {
	DB *sqlx.DB
}

// Available returns the tracked quantity, or 0 when nothing is tracked
// for the key.
func (s *Stock) Available(ctx context.Context, productID string, variantID *string) (int, error) {
	const q = `
	SELECT quantity FROM product_inventory
	WHERE product_id = $1 AND variant_id IS NOT DISTINCT FROM $2`

	var quantity int
	if err := sqlx.GetContext(ctx, s.DB, &quantity, q, productID, variantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("fetching inventory of product[%s]: %w", productID, err)
	}
	return quantity, nil
}
