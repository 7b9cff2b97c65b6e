package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/database"
	"github.com/aveoearth/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// createAttempts bounds the find-or-create race loop. Two concurrent
// callers may both observe "no cart" and both insert; the loser re-reads
// the winner's row instead of surfacing a duplicate-key error.
const createAttempts = 3

// GetOrCreate finds the cart of the owner, creating it lazily on first
// access. Exactly one of the owner keys must be set.
func GetOrCreate(ctx context.Context, db *sqlx.DB, owner Owner, expiry time.Duration) (Cart, error) {
	if err := owner.validate(); err != nil {
		return Cart{}, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		c, err := FetchByOwner(ctx, db, owner)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Cart{}, err
		}

		now := time.Now().UTC()
		c = Cart{
			ID:        validate.GenerateID(),
			Currency:  "USD",
			ExpiresAt: now.Add(expiry),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if owner.UserID != "" {
			c.UserID = &owner.UserID
		} else {
			c.SessionID = &owner.SessionID
		}

		err = Create(ctx, db, c)
		if err == nil {
			return c, nil
		}
		if !database.UniqueViolation(err) {
			return Cart{}, err
		}
		// Lost the race; loop around and read the winning row.
	}

	return Cart{}, ErrConflictRetry
}

// checkStock enforces availability best-effort: a lookup failure or an
// untracked/zero level never blocks the add, only a positive level below
// the wanted quantity does. Lookup failures are logged, not surfaced.
func checkStock(ctx context.Context, log logrus.FieldLogger, inv product.Inventory, productID string, variantID *string, want int) error {
	available, err := inv.Available(ctx, productID, variantID)
	if err != nil {
		log.WithFields(logrus.Fields{"product_id": productID, "message": err}).
			Error("inventory lookup failed")
		return nil
	}
	if available > 0 && available < want {
		return &StockError{Available: available}
	}
	return nil
}

// AddItem merges a (product, variant) line into the cart, snapshotting
// the unit price, and recomputes the cart totals in the same
// transaction.
func AddItem(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, inv product.Inventory, cartID string, ni ItemNew) (Item, error) {
	var out Item

	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		if _, err := Fetch(ctx, tx, cartID); err != nil {
			return err
		}

		p, err := product.Fetch(ctx, tx, ni.ProductID)
		if err != nil {
			return err
		}

		price := p.Price
		if ni.VariantID != nil {
			v, err := product.FetchVariant(ctx, tx, *ni.VariantID)
			if err != nil {
				return err
			}
			if v.ProductID != p.ID {
				return product.ErrVariantNotFound
			}
			if v.Price != nil {
				price = *v.Price
			}
		}

		now := time.Now().UTC()

		existing, err := FetchItemByKey(ctx, tx, cartID, ni.ProductID, ni.VariantID)
		switch {
		case err == nil:
			want := existing.Quantity + ni.Quantity
			if err := checkStock(ctx, log, inv, ni.ProductID, ni.VariantID, want); err != nil {
				return err
			}

			existing.Quantity = want
			existing.TotalPrice = int64(want) * existing.UnitPrice
			existing.UpdatedAt = now
			if err := UpdateItem(ctx, tx, existing); err != nil {
				return err
			}
			out = existing

		case errors.Is(err, ErrItemNotFound):
			if err := checkStock(ctx, log, inv, ni.ProductID, ni.VariantID, ni.Quantity); err != nil {
				return err
			}

			out = Item{
				ID:         validate.GenerateID(),
				CartID:     cartID,
				ProductID:  ni.ProductID,
				VariantID:  ni.VariantID,
				Quantity:   ni.Quantity,
				UnitPrice:  price,
				TotalPrice: int64(ni.Quantity) * price,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := CreateItem(ctx, tx, out); err != nil {
				return err
			}

		default:
			return err
		}

		return RecomputeTotals(ctx, tx, cartID)
	})

	if err != nil {
		return Item{}, fmt.Errorf("adding item to cart[%s]: %w", cartID, err)
	}
	return out, nil
}

// UpdateItemQuantity sets the quantity of a line item. A quantity of
// zero or less removes the item and returns its zeroed representation.
func UpdateItemQuantity(ctx context.Context, db *sqlx.DB, log logrus.FieldLogger, inv product.Inventory, itemID string, quantity int) (Item, error) {
	var out Item

	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		it, err := FetchItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		if quantity <= 0 {
			if err := DeleteItem(ctx, tx, itemID); err != nil {
				return err
			}
			it.Quantity = 0
			it.TotalPrice = 0
			out = it
			return RecomputeTotals(ctx, tx, it.CartID)
		}

		if err := checkStock(ctx, log, inv, it.ProductID, it.VariantID, quantity); err != nil {
			return err
		}

		it.Quantity = quantity
		it.TotalPrice = int64(quantity) * it.UnitPrice
		it.UpdatedAt = time.Now().UTC()
		if err := UpdateItem(ctx, tx, it); err != nil {
			return err
		}

		out = it
		return RecomputeTotals(ctx, tx, it.CartID)
	})

	if err != nil {
		return Item{}, fmt.Errorf("updating quantity of cart item[%s]: %w", itemID, err)
	}
	return out, nil
}

// RemoveItem deletes a line item and recomputes the totals.
func RemoveItem(ctx context.Context, db *sqlx.DB, itemID string) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		it, err := FetchItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		if err := DeleteItem(ctx, tx, itemID); err != nil {
			return err
		}
		return RecomputeTotals(ctx, tx, it.CartID)
	})

	if err != nil {
		return fmt.Errorf("removing cart item[%s]: %w", itemID, err)
	}
	return nil
}

// Clear removes every line item of the cart.
func Clear(ctx context.Context, db *sqlx.DB, cartID string) error {
	err := database.Transaction(db, func(tx sqlx.ExtContext) error {
		if err := DeleteItems(ctx, tx, cartID); err != nil {
			return err
		}
		return RecomputeTotals(ctx, tx, cartID)
	})

	if err != nil {
		return fmt.Errorf("clearing cart[%s]: %w", cartID, err)
	}
	return nil
}

// Transfer merges an anonymous session cart into the user's cart at
// login. When the user has no cart yet the session cart is simply
// re-owned; otherwise quantities merge per (product, variant) and the
// session cart is deleted.
func Transfer(ctx context.Context, db *sqlx.DB, sessionID string, userID string, expiry time.Duration) (Cart, error) {
	sessionCart, err := FetchByOwner(ctx, db, Owner{SessionID: sessionID})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GetOrCreate(ctx, db, Owner{UserID: userID}, expiry)
		}
		return Cart{}, err
	}

	userCart, err := FetchByOwner(ctx, db, Owner{UserID: userID})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Cart{}, err
		}

		err := Reown(ctx, db, sessionCart.ID, userID)
		if err == nil {
			return Fetch(ctx, db, sessionCart.ID)
		}
		if !database.UniqueViolation(err) {
			return Cart{}, err
		}

		// A user cart appeared while re-owning; fall through to merge.
		if userCart, err = FetchByOwner(ctx, db, Owner{UserID: userID}); err != nil {
			return Cart{}, err
		}
	}

	err = database.Transaction(db, func(tx sqlx.ExtContext) error {
		items, err := FetchItems(ctx, tx, sessionCart.ID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, it := range items {
			existing, err := FetchItemByKey(ctx, tx, userCart.ID, it.ProductID, it.VariantID)
			switch {
			case err == nil:
				existing.Quantity += it.Quantity
				existing.TotalPrice = int64(existing.Quantity) * existing.UnitPrice
				existing.UpdatedAt = now
				if err := UpdateItem(ctx, tx, existing); err != nil {
					return err
				}

			case errors.Is(err, ErrItemNotFound):
				it.CartID = userCart.ID
				it.UpdatedAt = now
				if err := UpdateItem(ctx, tx, it); err != nil {
					return err
				}

			default:
				return err
			}
		}

		if err := Delete(ctx, tx, sessionCart.ID); err != nil {
			return err
		}
		return RecomputeTotals(ctx, tx, userCart.ID)
	})

	if err != nil {
		return Cart{}, fmt.Errorf("transferring cart of session[%s] to user[%s]: %w", sessionID, userID, err)
	}

	return Fetch(ctx, db, userCart.ID)
}

// Count returns the total units in the owner's cart, 0 when there is no
// cart or no owner key.
func Count(ctx context.Context, db *sqlx.DB, owner Owner) (int, error) {
	if owner.validate() != nil {
		return 0, nil
	}

	c, err := FetchByOwner(ctx, db, owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return SumQuantities(ctx, db, c.ID)
}
