package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/aveoearth/marketplace/api"
	"github.com/aveoearth/marketplace/core/auth"
	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/product"
	"github.com/aveoearth/marketplace/core/user"
	"github.com/aveoearth/marketplace/database"
	"github.com/aveoearth/marketplace/validate"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/sirupsen/logrus"
)

// fakeVerifier accepts exactly the tokens minted by the test env.
type fakeVerifier struct {
	tokens map[string]auth.TokenClaims
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (auth.TokenClaims, error) {
	tc, ok := f.tokens[token]
	if !ok {
		return auth.TokenClaims{}, errors.New("unknown token")
	}
	return tc, nil
}

// fakeProvider plays the identity provider's admin API.
type fakeProvider struct {
	profiles map[string]user.Profile
}

func (f *fakeProvider) GetProfile(ctx context.Context, id string) (user.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return user.Profile{}, user.ErrProfileNotFound
	}
	return p, nil
}

type TestEnv struct {
	DB     *sqlx.DB
	Server *httptest.Server
	URL    string

	BuyerID       string
	BuyerToken    string
	SupplierID    string
	SupplierToken string

	verifier *fakeVerifier
	provider *fakeProvider
}

// NewTestEnv spins up a throwaway postgres container, migrates it and
// serves the full API mux against it.
func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}

	resource, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=postgres",
		"POSTGRES_PASSWORD=postgres",
		"POSTGRES_DB=" + name,
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres container: %v", err)
		}
	})

	cfg := database.Config{
		User:         "postgres",
		Password:     "postgres",
		Host:         "localhost:" + resource.GetPort("5432/tcp"),
		Name:         name,
		SSLMode:      "disable",
		MaxOpenConns: 10,
	}

	var db *sqlx.DB
	if err := pool.Retry(func() error {
		db, err = database.Open(cfg)
		if err != nil {
			return err
		}
		return db.Ping()
	}); err != nil {
		return nil, fmt.Errorf("waiting for postgres: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(testWriter{t})

	env := &TestEnv{
		DB:         db,
		BuyerID:    validate.GenerateID(),
		SupplierID: validate.GenerateID(),
		verifier:   &fakeVerifier{tokens: map[string]auth.TokenClaims{}},
		provider:   &fakeProvider{profiles: map[string]user.Profile{}},
	}

	env.BuyerToken = env.AddIdentity(user.Profile{
		ID:        env.BuyerID,
		Email:     "buyer@example.com",
		Role:      claims.RoleBuyer,
		FirstName: "Bea",
	})
	env.SupplierToken = env.AddIdentity(user.Profile{
		ID:        env.SupplierID,
		Email:     "supplier@example.com",
		Role:      claims.RoleSupplier,
		FirstName: "Sam",
	})

	resolver := &user.Resolver{
		DB:       db,
		Provider: env.provider,
		Log:      logger,
		Delays:   []time.Duration{time.Millisecond, 5 * time.Millisecond},
	}

	session := scs.New()
	session.Lifetime = time.Hour

	mux := api.APIMux(api.APIConfig{
		Log:        logger,
		DB:         db,
		Session:    session,
		Verifier:   env.verifier,
		Resolver:   resolver,
		Inventory:  &product.Stock{DB: db},
		CartExpiry: time.Hour,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env.Server = srv
	env.URL = srv.URL
	return env, nil
}

// AddIdentity registers a profile with the fake provider and returns a
// bearer token accepted for it.
func (e *TestEnv) AddIdentity(p user.Profile) string {
	token := "token-" + p.ID
	e.verifier.tokens[token] = auth.TokenClaims{Subject: p.ID, Email: p.Email}
	e.provider.profiles[p.ID] = p
	return token
}

// Client builds a fresh cookie-jar client, i.e. a new anonymous session.
func (e *TestEnv) Client() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

// Do runs one request and decodes the response body into out when a
// pointer is given. The token, when set, rides as a bearer header.
func (e *TestEnv) Do(t *testing.T, client *http.Client, method string, path string, token string, body interface{}, out interface{}) int {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}

	r, err := http.NewRequest(method, e.URL+path, rd)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	w, err := client.Do(r)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer w.Body.Close()

	if out != nil && w.StatusCode < 300 && w.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding response of %s %s: %v", method, path, err)
		}
	}
	return w.StatusCode
}

// CreateProduct seeds a catalog row directly, owned by the supplier.
func (e *TestEnv) CreateProduct(t *testing.T, name string, price int64) product.Product {
	t.Helper()

	now := time.Now().UTC()
	p := product.Product{
		ID:         validate.GenerateID(),
		SupplierID: e.SupplierID,
		Name:       name,
		Slug:       name,
		SKU:        "sku-" + name,
		Price:      price,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := product.Create(context.Background(), e.DB, p); err != nil {
		t.Fatalf("seeding product: %v", err)
	}
	return p
}

// CreateVariant seeds a variant; price nil means it inherits the
// product price.
func (e *TestEnv) CreateVariant(t *testing.T, productID string, title string, price *int64) product.Variant {
	t.Helper()

	now := time.Now().UTC()
	v := product.Variant{
		ID:        validate.GenerateID(),
		ProductID: productID,
		Title:     title,
		SKU:       "sku-" + title,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const q = `
	INSERT INTO product_variants (variant_id, product_id, title, sku, price, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := e.DB.Exec(q, v.ID, v.ProductID, v.Title, v.SKU, v.Price, v.CreatedAt, v.UpdatedAt); err != nil {
		t.Fatalf("seeding variant: %v", err)
	}
	return v
}

// SetStock records an inventory level for a product or variant.
func (e *TestEnv) SetStock(t *testing.T, productID string, variantID *string, available int) {
	t.Helper()

	const q = `
	INSERT INTO product_inventory (product_id, variant_id, quantity, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (product_id, COALESCE(variant_id, '00000000-0000-0000-0000-000000000000'::uuid))
	DO UPDATE SET quantity = $3, updated_at = now()`
	if _, err := e.DB.Exec(q, productID, variantID, available); err != nil {
		t.Fatalf("seeding inventory: %v", err)
	}
}

// testWriter funnels server logs into the test output.
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
