package wishlist

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/database"
	"github.com/aveoearth/marketplace/validate"
	"github.com/jmoiron/sqlx"
)

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		its, err := FetchAll(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, its, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		var ni ItemNew
		if err := web.Decode(w, r, &ni); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(ni); err != nil {
			return weberr.BadRequest(err)
		}

		if _, err := product.Fetch(ctx, db, ni.ProductID); err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		it := Item{
			UserID:    clm.UserID,
			ProductID: ni.ProductID,
			AddedAt:   time.Now().UTC(),
		}

		if err := Create(ctx, db, it); err != nil {
			if database.UniqueViolation(err) {
				return weberr.Conflict(ErrExists)
			}
			return err
		}

		return web.Respond(ctx, w, it, http.StatusCreated)
	}
}

func HandleDelete(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		productID := web.Param(r, "product_id")
		if err := validate.CheckID(productID); err != nil {
			return weberr.BadRequest(err)
		}

		if err := Delete(ctx, db, clm.UserID, productID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleClear(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		if err := DeleteAll(ctx, db, clm.UserID); err != nil {
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
