package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/aveoearth/marketplace/api/middleware"
	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/core/auth"
	"github.com/aveoearth/marketplace/core/cart"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/order"
	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/core/user"
	"github.com/aveoearth/marketplace/core/wishlist"
	"github.com/aveoearth/marketplace/rate"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin string
	Log        logrus.FieldLogger
	DB         *sqlx.DB
	Session    *scs.SessionManager
	Verifier   auth.Verifier
	Resolver   *user.Resolver
	Inventory  product.Inventory
	Limiter    *rate.Limiter
	CartExpiry time.Duration
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.Limiter != nil {
		a.mw = append(a.mw, middleware.RateLimit(cfg.Limiter))
	}

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Verifier, cfg.Resolver)
	maybe := auth.Maybe(cfg.Verifier, cfg.Resolver)
	seller := auth.Role(claims.RoleSupplier, claims.RoleAdmin)
	admin := auth.Role(claims.RoleAdmin)

	a.Handle(http.MethodGet, "/health", handleHealth())

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)
	a.Handle(http.MethodPut, "/users/current", user.HandleUpdateCurrent(cfg.DB), authen)
	a.Handle(http.MethodGet, "/users/{id}", user.HandleShow(cfg.DB), authen, admin)

	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB), authen, seller)
	a.Handle(http.MethodPut, "/products/{id}", product.HandleUpdate(cfg.DB), authen, seller)

	a.Handle(http.MethodGet, "/cart", cart.HandleShow(cfg.DB, cfg.Session, cfg.CartExpiry), maybe)
	a.Handle(http.MethodGet, "/cart/count", cart.HandleCount(cfg.DB, cfg.Session), maybe)
	a.Handle(http.MethodDelete, "/cart", cart.HandleClear(cfg.DB, cfg.Session), maybe)
	a.Handle(http.MethodPost, "/cart/items", cart.HandleCreateItem(cfg.DB, cfg.Session, cfg.Log, cfg.Inventory, cfg.CartExpiry), maybe)
	a.Handle(http.MethodPut, "/cart/items/{id}", cart.HandleUpdateItem(cfg.DB, cfg.Session, cfg.Log, cfg.Inventory), maybe)
	a.Handle(http.MethodDelete, "/cart/items/{id}", cart.HandleDeleteItem(cfg.DB, cfg.Session), maybe)
	a.Handle(http.MethodPost, "/cart/transfer", cart.HandleTransfer(cfg.DB, cfg.Session, cfg.CartExpiry), authen)

	a.Handle(http.MethodGet, "/wishlist", wishlist.HandleList(cfg.DB), authen)
	a.Handle(http.MethodPost, "/wishlist", wishlist.HandleCreate(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/wishlist/{product_id}", wishlist.HandleDelete(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/wishlist", wishlist.HandleClear(cfg.DB), authen)

	a.Handle(http.MethodPost, "/orders", order.HandleCreate(cfg.DB), authen)
	a.Handle(http.MethodGet, "/orders", order.HandleList(cfg.DB), authen)
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(cfg.DB), authen)
	a.Handle(http.MethodPost, "/orders/{id}/cancel", order.HandleCancel(cfg.DB), authen)

	// The session middleware wraps the whole router so anonymous cart
	// tokens are committed before the response body is written.
	return cfg.Session.LoadAndSave(a.Router)
}

func handleHealth() web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {
	handler = web.WrapMiddleware(mw, handler)
	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {
			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
