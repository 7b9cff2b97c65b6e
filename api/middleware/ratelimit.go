package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/rate"
)

func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			client, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				client = r.RemoteAddr
			}

			if !lim.Check(client) {
				err := errors.New("rate limit exceeded")
				return weberr.NewError(err, err.Error(), http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
