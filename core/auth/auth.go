package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aveoearth/marketplace/api/web"
	"github.com/aveoearth/marketplace/api/weberr"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/user"
	oidc "github.com/coreos/go-oidc/v3/oidc"
)

// TokenClaims is what the backend trusts out of a provider-issued token.
type TokenClaims struct {
	Subject string
	Email   string
}

// Verifier checks a raw bearer token against the identity provider's
// signing keys.
type Verifier interface {
	Verify(ctx context.Context, token string) (TokenClaims, error)
}

// JWKSVerifier validates provider JWTs against a remote key set.
type JWKSVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewJWKSVerifier(ctx context.Context, jwksURL string, issuer string, audience string) *JWKSVerifier {
	keys := oidc.NewRemoteKeySet(ctx, jwksURL)
	cfg := &oidc.Config{
		ClientID:             audience,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}
	return &JWKSVerifier{verifier: oidc.NewVerifier(issuer, keys, cfg)}
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (TokenClaims, error) {
	t, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return TokenClaims{}, fmt.Errorf("verifying token: %w", err)
	}

	var extra struct {
		Email string `json:"email"`
	}
	if err := t.Claims(&extra); err != nil {
		return TokenClaims{}, fmt.Errorf("decoding token claims: %w", err)
	}

	return TokenClaims{Subject: t.Subject, Email: extra.Email}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}

func authenticate(ctx context.Context, r *http.Request, vrf Verifier, res *user.Resolver) (context.Context, error) {
	token := bearerToken(r)
	if token == "" {
		return ctx, weberr.NotAuthorized(errors.New("missing bearer token"))
	}

	tc, err := vrf.Verify(ctx, token)
	if err != nil {
		return ctx, weberr.NotAuthorized(err)
	}

	u, err := res.EnsureLocalUser(ctx, tc.Subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return ctx, weberr.NotAuthorized(err)
		}
		return ctx, fmt.Errorf("resolving local user[%s]: %w", tc.Subject, err)
	}

	return claims.Set(ctx, claims.Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.Verified,
	}), nil
}

// Authenticate requires a valid bearer token and provisions the local
// user on first sight.
func Authenticate(vrf Verifier, res *user.Resolver) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			ctx, err := authenticate(ctx, r, vrf, res)
			if err != nil {
				return err
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Maybe authenticates when a bearer token is present and passes the
// request through anonymously otherwise. A present-but-invalid token is
// still rejected.
func Maybe(vrf Verifier, res *user.Resolver) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if bearerToken(r) == "" {
				return handler(ctx, w, r)
			}

			ctx, err := authenticate(ctx, r, vrf, res)
			if err != nil {
				return err
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Role restricts a route to callers holding one of the given roles. It
// must be mounted after Authenticate.
func Role(roles ...string) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(err)
			}

			for _, role := range roles {
				if clm.Role == role {
					return handler(ctx, w, r)
				}
			}

			return weberr.NotAuthorized(fmt.Errorf("role %q not allowed", clm.Role))
		}
		return h
	}
	return m
}
