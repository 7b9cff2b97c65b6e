package cart

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/random"
	"github.com/aveoearth/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// sessionKey names the anonymous cart token inside the session data.
const sessionKey = "cart_session"

// owner derives the cart owner for the request: the authenticated user
// when present, the anonymous session token otherwise. A token is
// minted on first anonymous cart access.
func owner(ctx context.Context, session *scs.SessionManager) Owner {
	if clm, err := claims.Get(ctx); err == nil {
		return Owner{UserID: clm.UserID}
	}

	sid := session.GetString(ctx, sessionKey)
	if sid == "" {
		sid = random.String(32)
		session.Put(ctx, sessionKey, sid)
	}
	return Owner{SessionID: sid}
}

// toWebErr maps the cart error taxonomy onto stable responses. Causes
// stay inside the wrapped error and are only logged.
func toWebErr(err error) error {
	var stockErr *StockError
	switch {
	case errors.Is(err, ErrNoOwner):
		return weberr.BadRequest(err)
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, product.ErrVariantNotFound):
		return weberr.NotFound(err)
	case errors.As(err, &stockErr):
		return weberr.NewError(err, stockErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrConflictRetry):
		return weberr.Conflict(err)
	}
	return err
}

// ownItem checks that the item belongs to the caller's cart before any
// mutation through an item id.
func ownItem(ctx context.Context, db *sqlx.DB, session *scs.SessionManager, itemID string) (Item, error) {
	it, err := FetchItem(ctx, db, itemID)
	if err != nil {
		return Item{}, toWebErr(err)
	}

	c, err := Fetch(ctx, db, it.CartID)
	if err != nil {
		return Item{}, toWebErr(err)
	}

	o := owner(ctx, session)
	owned := (c.UserID != nil && *c.UserID == o.UserID) ||
		(c.SessionID != nil && *c.SessionID == o.SessionID)
	if !owned {
		return Item{}, weberr.NotFound(errors.New("item not in caller's cart"))
	}
	return it, nil
}

func HandleShow(db *sqlx.DB, session *scs.SessionManager, expiry time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := GetOrCreate(ctx, db, owner(ctx, session), expiry)
		if err != nil {
			return toWebErr(err)
		}

		if c.Items, err = FetchItems(ctx, db, c.ID); err != nil {
			return err
		}

		return web.Respond(ctx, w, c, http.StatusOK)
	}
}

func HandleCount(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		n, err := Count(ctx, db, owner(ctx, session))
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, map[string]int{"count": n}, http.StatusOK)
	}
}

func HandleCreateItem(db *sqlx.DB, session *scs.SessionManager, log logrus.FieldLogger, inv product.Inventory, expiry time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var ni ItemNew
		if err := web.Decode(w, r, &ni); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(ni); err != nil {
			return weberr.BadRequest(err)
		}

		c, err := GetOrCreate(ctx, db, owner(ctx, session), expiry)
		if err != nil {
			return toWebErr(err)
		}

		it, err := AddItem(ctx, db, log, inv, c.ID, ni)
		if err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, it, http.StatusOK)
	}
}

func HandleUpdateItem(db *sqlx.DB, session *scs.SessionManager, log logrus.FieldLogger, inv product.Inventory) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var up ItemUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(err)
		}

		if _, err := ownItem(ctx, db, session, id); err != nil {
			return err
		}

		it, err := UpdateItemQuantity(ctx, db, log, inv, id, up.Quantity)
		if err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, it, http.StatusOK)
	}
}

func HandleDeleteItem(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		if _, err := ownItem(ctx, db, session, id); err != nil {
			return err
		}

		if err := RemoveItem(ctx, db, id); err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleClear(db *sqlx.DB, session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := FetchByOwner(ctx, db, owner(ctx, session))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return web.Respond(ctx, w, nil, http.StatusNoContent)
			}
			return toWebErr(err)
		}

		if err := Clear(ctx, db, c.ID); err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleTransfer(db *sqlx.DB, session *scs.SessionManager, expiry time.Duration) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		sid := session.GetString(ctx, sessionKey)
		if sid == "" {
			// Nothing anonymous to merge; hand back the user's cart.
			c, err := GetOrCreate(ctx, db, Owner{UserID: clm.UserID}, expiry)
			if err != nil {
				return toWebErr(err)
			}
			return web.Respond(ctx, w, c, http.StatusOK)
		}

		c, err := Transfer(ctx, db, sid, clm.UserID, expiry)
		if err != nil {
			return toWebErr(err)
		}

		session.Remove(ctx, sessionKey)

		return web.Respond(ctx, w, c, http.StatusOK)
	}
}
