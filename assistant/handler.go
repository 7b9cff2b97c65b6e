package assistant

import (
	"context"
	"net/http"
	"time"

	"github.com/aveoearth/marketplace/api/middleware"
	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/validate"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type ChatRequest struct {
	Message   string `json:"message" validate:"required"`
	UserToken string `json:"user_token"`
	SessionID string `json:"session_id"`
}

func HandleChat(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req ChatRequest
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(err)
		}

		if err := validate.Check(req); err != nil {
			return weberr.BadRequest(err)
		}

		res, err := svc.Chat(ctx, req.SessionID, req.Message, req.UserToken)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, res, http.StatusOK)
	}
}

func HandleHistory(store Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "session_id")

		type msg struct {
			Role    string `json:"role"`
			Message string `json:"message"`
		}

		history := []msg{}
		for _, c := range store.History(id) {
			role := "assistant"
			if c.Role == roleUser {
				role = "user"
			}
			for _, p := range c.Parts {
				if p.Text != "" {
					history = append(history, msg{Role: role, Message: p.Text})
				}
			}
		}

		out := map[string]interface{}{
			"history":    history,
			"session_id": id,
		}
		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

func HandleClearHistory(store Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		store.Clear(web.Param(r, "session_id"))
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

// HandleHealth probes the backend so operators can tell a dead upstream
// apart from a dead gateway.
func HandleHealth(backendURL string, store *MemoryStore) web.Handler {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		backend := "disconnected"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, backendURL+"/health", nil)
		if err == nil {
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					backend = "connected"
				}
			}
		}

		out := map[string]interface{}{
			"service":            "assistant",
			"status":             "running",
			"backend_connection": backend,
			"active_sessions":    store.Len(),
		}
		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

type MuxConfig struct {
	CorsOrigin string
	Log        logrus.FieldLogger
	Service    *Service
	Store      *MemoryStore
	BackendURL string
}

type gateway struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func Mux(cfg MuxConfig) http.Handler {
	g := &gateway{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	g.mw = append(g.mw, middleware.RequestID())
	g.mw = append(g.mw, middleware.Logger(cfg.Log))
	g.mw = append(g.mw, middleware.Errors(cfg.Log))
	g.mw = append(g.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		g.mw = append(g.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		g.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	g.Handle(http.MethodPost, "/chat", HandleChat(cfg.Service))
	g.Handle(http.MethodGet, "/chat/history/{session_id}", HandleHistory(cfg.Store))
	g.Handle(http.MethodDelete, "/chat/history/{session_id}", HandleClearHistory(cfg.Store))
	g.Handle(http.MethodGet, "/health", HandleHealth(cfg.BackendURL, cfg.Store))

	return g.Router
}

func (g *gateway) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {
	handler = web.WrapMiddleware(mw, handler)
	handler = web.WrapMiddleware(g.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {
			g.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	g.Router.Handle(path, h).Methods(method)
}
