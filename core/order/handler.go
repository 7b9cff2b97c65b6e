package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/core/cart"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/database"
	"github.com/aveoearth/marketplace/validate"
	"github.com/jmoiron/sqlx"
)

// checkout snapshots the user's cart into an order and empties the cart,
// all inside one transaction so a crash never half-creates an order.
func checkout(ctx context.Context, db *sqlx.DB, userID string) (Order, error) {
	c, err := cart.FetchByOwner(ctx, db, cart.Owner{UserID: userID})
	if err != nil {
		return Order{}, fmt.Errorf("fetching cart of user[%s]: %w", userID, err)
	}

	items, err := cart.FetchItems(ctx, db, c.ID)
	if err != nil {
		return Order{}, fmt.Errorf("fetching cart items: %w", err)
	}

	if len(items) == 0 {
		err := errors.New("no items to checkout")
		return Order{}, weberr.NewError(err, err.Error(), http.StatusUnprocessableEntity)
	}

	now := time.Now().UTC()
	ord := Order{
		ID:          validate.GenerateID(),
		UserID:      userID,
		Status:      Pending,
		Currency:    c.Currency,
		Subtotal:    c.Subtotal,
		TotalAmount: c.TotalAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = database.Transaction(db, func(tx sqlx.ExtContext) error {
		if err := Create(ctx, tx, ord); err != nil {
			return err
		}

		for _, it := range items {
			oi := Item{
				OrderID:    ord.ID,
				ProductID:  it.ProductID,
				VariantID:  it.VariantID,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				TotalPrice: it.TotalPrice,
				CreatedAt:  now,
			}
			if err := CreateItem(ctx, tx, oi); err != nil {
				return err
			}
			ord.Items = append(ord.Items, oi)
		}

		if err := cart.DeleteItems(ctx, tx, c.ID); err != nil {
			return fmt.Errorf("flushing cart: %w", err)
		}
		return cart.RecomputeTotals(ctx, tx, c.ID)
	})

	if err != nil {
		return Order{}, fmt.Errorf("creating order for user[%s]: %w", userID, err)
	}
	return ord, nil
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		ord, err := checkout(ctx, db, clm.UserID)
		if err != nil {
			if errors.Is(err, cart.ErrNotFound) {
				e := errors.New("no items to checkout")
				return weberr.NewError(e, e.Error(), http.StatusUnprocessableEntity)
			}
			return err
		}

		return web.Respond(ctx, w, ord, http.StatusCreated)
	}
}

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		os, err := FetchByUser(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, os, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		ord, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if ord.UserID != clm.UserID && !claims.IsAdmin(ctx) {
			return weberr.NotFound(errors.New("order belongs to another user"))
		}

		if ord.Items, err = FetchItems(ctx, db, id); err != nil {
			return err
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandleCancel(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		ord, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		if ord.UserID != clm.UserID && !claims.IsAdmin(ctx) {
			return weberr.NotFound(errors.New("order belongs to another user"))
		}

		if ord.Status != Pending {
			return weberr.Conflict(ErrNotCancellable)
		}

		if err := UpdateStatus(ctx, db, id, Cancelled); err != nil {
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
