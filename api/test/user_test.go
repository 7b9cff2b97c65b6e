package test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aveoearth/marketplace/core/claims"
	"github.com/aveoearth/marketplace/core/user"
	"github.com/aveoearth/marketplace/validate"
	"github.com/sirupsen/logrus"
)

type userTest struct {
	*TestEnv
}

func TestUser(t *testing.T) {
	env, err := NewTestEnv(t, "user_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	ut := &userTest{env}

	t.Run("provisioningOnFirstSight", ut.testProvisioning)
	t.Run("concurrentProvisioning", ut.testConcurrentProvisioning)
	t.Run("badTokens", ut.testBadTokens)
	t.Run("updateProfile", ut.testUpdateProfile)
	t.Run("adminOnlyLookup", ut.testAdminOnlyLookup)
	t.Run("provisioningRetry", ut.testProvisioningRetry)
	t.Run("provisioningNeverVisible", ut.testProvisioningNeverVisible)
}

func (ut *userTest) testProvisioning(t *testing.T) {
	id := validate.GenerateID()
	token := ut.AddIdentity(user.Profile{
		ID:    id,
		Email: "fresh@example.com",
		// No role from the provider: the local row defaults to buyer.
	})

	client := ut.Client()

	var u user.User
	if code := ut.Do(t, client, http.MethodGet, "/users/current", token, nil, &u); code != http.StatusOK {
		t.Fatalf("fetching current user: status %d", code)
	}
	if u.ID != id || u.Email != "fresh@example.com" {
		t.Fatalf("unexpected provisioned user: %+v", u)
	}
	if u.Role != claims.RoleBuyer {
		t.Fatalf("expected default role buyer, got %q", u.Role)
	}
	if u.Phone == "" {
		t.Fatal("expected placeholder phone on provisioned user")
	}

	// Second sight must not create another row.
	if code := ut.Do(t, client, http.MethodGet, "/users/current", token, nil, &u); code != http.StatusOK {
		t.Fatalf("refetching current user: status %d", code)
	}

	var n int
	if err := ut.DB.Get(&n, `SELECT COUNT(*) FROM users WHERE user_id = $1`, id); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user row, got %d", n)
	}
}

func (ut *userTest) testConcurrentProvisioning(t *testing.T) {
	id := validate.GenerateID()
	token := ut.AddIdentity(user.Profile{ID: id, Email: "race@example.com"})

	const workers = 8
	codes := make([]int, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = ut.Do(t, ut.Client(), http.MethodGet, "/users/current", token, nil, nil)
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("worker %d: status %d", i, code)
		}
	}

	var n int
	if err := ut.DB.Get(&n, `SELECT COUNT(*) FROM users WHERE user_id = $1`, id); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user row after race, got %d", n)
	}
}

func (ut *userTest) testBadTokens(t *testing.T) {
	client := ut.Client()

	if code := ut.Do(t, client, http.MethodGet, "/users/current", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	if code := ut.Do(t, client, http.MethodGet, "/users/current", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", code)
	}

	// Valid token whose subject the provider no longer knows.
	orphan := validate.GenerateID()
	token := ut.AddIdentity(user.Profile{ID: orphan, Email: "gone@example.com"})
	delete(ut.provider.profiles, orphan)

	if code := ut.Do(t, client, http.MethodGet, "/users/current", token, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown subject, got %d", code)
	}
}

func (ut *userTest) testUpdateProfile(t *testing.T) {
	client := ut.Client()

	up := map[string]interface{}{"firstName": "Beatrice", "phone": "+15550100"}
	var u user.User
	if code := ut.Do(t, client, http.MethodPut, "/users/current", ut.BuyerToken, up, &u); code != http.StatusOK {
		t.Fatalf("updating profile: status %d", code)
	}
	if u.FirstName != "Beatrice" || u.Phone != "+15550100" {
		t.Fatalf("profile not updated: %+v", u)
	}
}

func (ut *userTest) testAdminOnlyLookup(t *testing.T) {
	client := ut.Client()

	// Lookups by id expose email and phone, so they are admin-only.
	if code := ut.Do(t, client, http.MethodGet, "/users/"+ut.SupplierID, ut.BuyerToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-admin lookup, got %d", code)
	}
	if code := ut.Do(t, client, http.MethodGet, "/users/"+ut.BuyerID, ut.SupplierToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for supplier lookup, got %d", code)
	}

	adminToken := ut.AddIdentity(user.Profile{
		ID:    validate.GenerateID(),
		Email: "admin@example.com",
		Role:  claims.RoleAdmin,
	})

	var u user.User
	if code := ut.Do(t, client, http.MethodGet, "/users/"+ut.BuyerID, adminToken, nil, &u); code != http.StatusOK {
		t.Fatalf("admin lookup: status %d", code)
	}
	if u.ID != ut.BuyerID {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func (ut *userTest) testProvisioningRetry(t *testing.T) {
	// A trigger fails inserts for flagged addresses. The sequence keeps
	// counting across rollbacks, so flaky addresses fail exactly once
	// while down addresses never go through.
	const setup = `
	CREATE SEQUENCE flaky_inserts;
	CREATE FUNCTION users_insert_fault() RETURNS trigger AS $$
	BEGIN
		IF NEW.email LIKE '%@flaky.example' AND nextval('flaky_inserts') <= 1 THEN
			RAISE EXCEPTION 'injected insert failure';
		END IF;
		IF NEW.email LIKE '%@down.example' THEN
			RAISE EXCEPTION 'injected insert failure';
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;
	CREATE TRIGGER users_insert_fault BEFORE INSERT ON users
	FOR EACH ROW EXECUTE FUNCTION users_insert_fault();`
	if _, err := ut.DB.Exec(setup); err != nil {
		t.Fatalf("installing trigger: %v", err)
	}
	defer ut.DB.Exec(`DROP TRIGGER users_insert_fault ON users; DROP FUNCTION users_insert_fault(); DROP SEQUENCE flaky_inserts`)

	// One transient insert failure is absorbed by the retry.
	flaky := validate.GenerateID()
	token := ut.AddIdentity(user.Profile{ID: flaky, Email: "retry@flaky.example"})
	if code := ut.Do(t, ut.Client(), http.MethodGet, "/users/current", token, nil, nil); code != http.StatusOK {
		t.Fatalf("expected recovery after one failed insert, got %d", code)
	}

	// A persistent failure exhausts the budget and is reclassified.
	down := validate.GenerateID()
	ut.AddIdentity(user.Profile{ID: down, Email: "perm@down.example"})

	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	res := &user.Resolver{
		DB:       ut.DB,
		Provider: ut.provider,
		Log:      logger,
		Delays:   []time.Duration{time.Millisecond},
	}

	if _, err := res.EnsureLocalUser(context.Background(), down); !errors.Is(err, user.ErrProvisioningFailed) {
		t.Fatalf("expected ErrProvisioningFailed, got %v", err)
	}
}

func (ut *userTest) testProvisioningNeverVisible(t *testing.T) {
	// The insert collides on the email unique key, which looks like a
	// lost race, but no row ever shows up under the new id. The resolver
	// must give up after its recheck budget instead of spinning.
	dup := validate.GenerateID()
	ut.AddIdentity(user.Profile{ID: dup, Email: "buyer@example.com"})

	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	res := &user.Resolver{
		DB:       ut.DB,
		Provider: ut.provider,
		Log:      logger,
		Delays:   []time.Duration{time.Millisecond, time.Millisecond},
	}

	if _, err := res.EnsureLocalUser(context.Background(), dup); !errors.Is(err, user.ErrProvisioningFailed) {
		t.Fatalf("expected ErrProvisioningFailed, got %v", err)
	}
}
