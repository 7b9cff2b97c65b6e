package test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aveoearth/marketplace/core/cart"
	"github.com/aveoearth/marketplace/random"
	"github.com/sirupsen/logrus"
)

type cartTest struct {
	*TestEnv
}

func TestCart(t *testing.T) {
	env, err := NewTestEnv(t, "cart_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	rt := &cartTest{env}

	t.Run("anonymousFlow", rt.testAnonymousFlow)
	t.Run("stockCheck", rt.testStockCheck)
	t.Run("transfer", rt.testTransfer)
	t.Run("itemOwnership", rt.testItemOwnership)
	t.Run("concurrentGetOrCreate", rt.testConcurrentGetOrCreate)
	t.Run("ownerValidation", rt.testOwnerValidation)
	t.Run("expirySweep", rt.testExpirySweep)
	t.Run("conflictRetryExhausted", rt.testConflictRetryExhausted)
	t.Run("inventoryLookupFailure", rt.testInventoryLookupFailure)
}

func (rt *cartTest) testAnonymousFlow(t *testing.T) {
	prodA := rt.CreateProduct(t, "walnut-desk", 1000)
	prodB := rt.CreateProduct(t, "oak-shelf", 2500)
	varPrice := int64(2000)
	variant := rt.CreateVariant(t, prodB.ID, "oak-shelf-tall", &varPrice)

	client := rt.Client()

	var c cart.Cart
	if code := rt.Do(t, client, http.MethodGet, "/cart", "", nil, &c); code != http.StatusOK {
		t.Fatalf("fetching empty cart: status %d", code)
	}
	if len(c.Items) != 0 || c.Subtotal != 0 {
		t.Fatalf("fresh cart not empty: %+v", c)
	}

	var it cart.Item
	add := map[string]interface{}{"productId": prodA.ID, "quantity": 2}
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, &it); code != http.StatusOK {
		t.Fatalf("adding item: status %d", code)
	}
	if it.Quantity != 2 || it.UnitPrice != 1000 || it.TotalPrice != 2000 {
		t.Fatalf("unexpected item after add: %+v", it)
	}

	// Same key again: merged into the existing line, never a second row.
	add["quantity"] = 3
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, &it); code != http.StatusOK {
		t.Fatalf("re-adding item: status %d", code)
	}
	if it.Quantity != 5 || it.TotalPrice != 5000 {
		t.Fatalf("quantities not merged: %+v", it)
	}

	// A later catalog price change must not touch the snapshot.
	if _, err := rt.DB.Exec(`UPDATE products SET price = 9999 WHERE product_id = $1`, prodA.ID); err != nil {
		t.Fatalf("repricing product: %v", err)
	}
	add["quantity"] = 1
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, &it); code != http.StatusOK {
		t.Fatalf("adding after reprice: status %d", code)
	}
	if it.UnitPrice != 1000 || it.Quantity != 6 {
		t.Fatalf("price snapshot violated: %+v", it)
	}

	var count map[string]int
	if code := rt.Do(t, client, http.MethodGet, "/cart/count", "", nil, &count); code != http.StatusOK {
		t.Fatalf("counting: status %d", code)
	}
	if count["count"] != 6 {
		t.Fatalf("expected count 6, got %d", count["count"])
	}

	// Variant line with its own price.
	var varItem cart.Item
	addVar := map[string]interface{}{"productId": prodB.ID, "variantId": variant.ID, "quantity": 1}
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", addVar, &varItem); code != http.StatusOK {
		t.Fatalf("adding variant item: status %d", code)
	}
	if varItem.UnitPrice != 2000 {
		t.Fatalf("variant price not used: %+v", varItem)
	}

	if code := rt.Do(t, client, http.MethodGet, "/cart", "", nil, &c); code != http.StatusOK {
		t.Fatalf("fetching cart: status %d", code)
	}
	if len(c.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(c.Items))
	}
	if c.Subtotal != 8000 || c.TotalAmount != 8000 {
		t.Fatalf("totals not recomputed: subtotal %d total %d", c.Subtotal, c.TotalAmount)
	}

	// Quantity update recomputes the line and the cart.
	up := map[string]interface{}{"quantity": 2}
	if code := rt.Do(t, client, http.MethodPut, "/cart/items/"+varItem.ID, "", up, &varItem); code != http.StatusOK {
		t.Fatalf("updating quantity: status %d", code)
	}
	if varItem.Quantity != 2 || varItem.TotalPrice != 4000 {
		t.Fatalf("unexpected item after update: %+v", varItem)
	}

	// Zero quantity removes the line and reports it zeroed.
	up["quantity"] = 0
	if code := rt.Do(t, client, http.MethodPut, "/cart/items/"+varItem.ID, "", up, &varItem); code != http.StatusOK {
		t.Fatalf("zeroing quantity: status %d", code)
	}
	if varItem.Quantity != 0 || varItem.TotalPrice != 0 {
		t.Fatalf("expected zeroed item, got %+v", varItem)
	}

	if code := rt.Do(t, client, http.MethodGet, "/cart", "", nil, &c); code != http.StatusOK {
		t.Fatalf("fetching cart: status %d", code)
	}
	if len(c.Items) != 1 || c.Subtotal != 6000 {
		t.Fatalf("cart not updated after zeroing: %+v", c)
	}

	if code := rt.Do(t, client, http.MethodDelete, "/cart/items/"+it.ID, "", nil, nil); code != http.StatusNoContent {
		t.Fatalf("deleting item: status %d", code)
	}

	if code := rt.Do(t, client, http.MethodGet, "/cart", "", nil, &c); code != http.StatusOK {
		t.Fatalf("fetching cart: status %d", code)
	}
	if len(c.Items) != 0 || c.Subtotal != 0 || c.TotalAmount != 0 {
		t.Fatalf("cart not empty after delete: %+v", c)
	}
}

func (rt *cartTest) testStockCheck(t *testing.T) {
	tracked := rt.CreateProduct(t, "bamboo-chair", 500)
	untracked := rt.CreateProduct(t, "cork-board", 300)
	rt.SetStock(t, tracked.ID, nil, 3)
	rt.SetStock(t, untracked.ID, nil, 0)

	client := rt.Client()

	// Positive but insufficient level blocks the add.
	add := map[string]interface{}{"productId": tracked.ID, "quantity": 5}
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on insufficient stock, got %d", code)
	}

	add["quantity"] = 2
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusOK {
		t.Fatalf("adding within stock: status %d", code)
	}

	// Merging above the level fails too: 2 in cart + 2 wanted > 3.
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on merged quantity, got %d", code)
	}

	// A zero (untracked) level never blocks.
	add = map[string]interface{}{"productId": untracked.ID, "quantity": 50}
	if code := rt.Do(t, client, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusOK {
		t.Fatalf("adding untracked product: status %d", code)
	}
}

func (rt *cartTest) testTransfer(t *testing.T) {
	prodA := rt.CreateProduct(t, "pine-table", 1000)
	prodB := rt.CreateProduct(t, "ash-stool", 2500)

	anon := rt.Client()
	buyer := rt.Client()

	add := map[string]interface{}{"productId": prodA.ID, "quantity": 2}
	if code := rt.Do(t, anon, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusOK {
		t.Fatalf("anonymous add: status %d", code)
	}

	add["quantity"] = 3
	if code := rt.Do(t, buyer, http.MethodPost, "/cart/items", rt.BuyerToken, add, nil); code != http.StatusOK {
		t.Fatalf("buyer add: status %d", code)
	}
	add = map[string]interface{}{"productId": prodB.ID, "quantity": 1}
	if code := rt.Do(t, buyer, http.MethodPost, "/cart/items", rt.BuyerToken, add, nil); code != http.StatusOK {
		t.Fatalf("buyer add: status %d", code)
	}

	// Login on the anonymous client: its session cart merges into the
	// buyer's cart.
	var merged cart.Cart
	if code := rt.Do(t, anon, http.MethodPost, "/cart/transfer", rt.BuyerToken, nil, &merged); code != http.StatusOK {
		t.Fatalf("transferring: status %d", code)
	}

	if code := rt.Do(t, buyer, http.MethodGet, "/cart", rt.BuyerToken, nil, &merged); code != http.StatusOK {
		t.Fatalf("fetching merged cart: status %d", code)
	}
	if len(merged.Items) != 2 {
		t.Fatalf("expected 2 merged lines, got %d", len(merged.Items))
	}
	for _, it := range merged.Items {
		switch it.ProductID {
		case prodA.ID:
			if it.Quantity != 5 {
				t.Fatalf("expected merged quantity 5, got %d", it.Quantity)
			}
		case prodB.ID:
			if it.Quantity != 1 {
				t.Fatalf("expected quantity 1, got %d", it.Quantity)
			}
		default:
			t.Fatalf("unexpected line %+v", it)
		}
	}
	if want := int64(5*1000 + 2500); merged.Subtotal != want {
		t.Fatalf("expected subtotal %d, got %d", want, merged.Subtotal)
	}

	// The anonymous session was detached; a fresh empty cart appears.
	var fresh cart.Cart
	if code := rt.Do(t, anon, http.MethodGet, "/cart", "", nil, &fresh); code != http.StatusOK {
		t.Fatalf("fetching post-transfer cart: status %d", code)
	}
	if fresh.ID == merged.ID || len(fresh.Items) != 0 {
		t.Fatalf("session cart survived the transfer: %+v", fresh)
	}

	// Clean up the buyer cart for later subtests.
	if code := rt.Do(t, buyer, http.MethodDelete, "/cart", rt.BuyerToken, nil, nil); code != http.StatusNoContent {
		t.Fatalf("clearing buyer cart: status %d", code)
	}
}

func (rt *cartTest) testItemOwnership(t *testing.T) {
	prod := rt.CreateProduct(t, "teak-bench", 700)

	owner := rt.Client()
	stranger := rt.Client()

	var it cart.Item
	add := map[string]interface{}{"productId": prod.ID, "quantity": 1}
	if code := rt.Do(t, owner, http.MethodPost, "/cart/items", "", add, &it); code != http.StatusOK {
		t.Fatalf("adding item: status %d", code)
	}

	up := map[string]interface{}{"quantity": 5}
	if code := rt.Do(t, stranger, http.MethodPut, "/cart/items/"+it.ID, "", up, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign item update, got %d", code)
	}
	if code := rt.Do(t, stranger, http.MethodDelete, "/cart/items/"+it.ID, "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign item delete, got %d", code)
	}
}

func (rt *cartTest) testConcurrentGetOrCreate(t *testing.T) {
	owner := cart.Owner{SessionID: random.String(32)}

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := cart.GetOrCreate(context.Background(), rt.DB, owner, time.Hour)
			ids[i], errs[i] = c.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("workers observed different carts: %s vs %s", ids[i], ids[0])
		}
	}
}

func (rt *cartTest) testOwnerValidation(t *testing.T) {
	if _, err := cart.GetOrCreate(context.Background(), rt.DB, cart.Owner{}, time.Hour); !errors.Is(err, cart.ErrNoOwner) {
		t.Fatalf("expected ErrNoOwner for empty owner, got %v", err)
	}

	both := cart.Owner{UserID: rt.BuyerID, SessionID: random.String(32)}
	if _, err := cart.GetOrCreate(context.Background(), rt.DB, both, time.Hour); !errors.Is(err, cart.ErrNoOwner) {
		t.Fatalf("expected ErrNoOwner for double owner, got %v", err)
	}
}

func (rt *cartTest) testExpirySweep(t *testing.T) {
	prod := rt.CreateProduct(t, "pine-stool", 500)

	stale := rt.Client()
	add := map[string]interface{}{"productId": prod.ID, "quantity": 2}
	if code := rt.Do(t, stale, http.MethodPost, "/cart/items", "", add, nil); code != http.StatusOK {
		t.Fatalf("adding item: status %d", code)
	}

	var c cart.Cart
	if code := rt.Do(t, stale, http.MethodGet, "/cart", "", nil, &c); code != http.StatusOK {
		t.Fatalf("fetching cart: status %d", code)
	}

	live := rt.Client()
	var lc cart.Cart
	if code := rt.Do(t, live, http.MethodGet, "/cart", "", nil, &lc); code != http.StatusOK {
		t.Fatalf("creating live cart: status %d", code)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if _, err := rt.DB.Exec(`UPDATE carts SET expires_at = $1 WHERE cart_id = $2`, past, c.ID); err != nil {
		t.Fatalf("expiring cart: %v", err)
	}

	n, err := cart.DeleteExpired(context.Background(), rt.DB)
	if err != nil {
		t.Fatalf("sweeping: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept cart, got %d", n)
	}

	var count int
	if err := rt.DB.Get(&count, `SELECT COUNT(*) FROM carts WHERE cart_id = $1`, c.ID); err != nil {
		t.Fatalf("counting carts: %v", err)
	}
	if count != 0 {
		t.Fatal("expired cart survived the sweep")
	}
	if err := rt.DB.Get(&count, `SELECT COUNT(*) FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if count != 0 {
		t.Fatal("items of the expired cart survived the sweep")
	}
	if err := rt.DB.Get(&count, `SELECT COUNT(*) FROM carts WHERE cart_id = $1`, lc.ID); err != nil {
		t.Fatalf("counting carts: %v", err)
	}
	if count != 1 {
		t.Fatal("live cart swept")
	}

	// The read path starts over instead of resurrecting the swept cart.
	var fresh cart.Cart
	if code := rt.Do(t, stale, http.MethodGet, "/cart", "", nil, &fresh); code != http.StatusOK {
		t.Fatalf("refetching cart: status %d", code)
	}
	if fresh.ID == c.ID {
		t.Fatal("swept cart came back under the same id")
	}
	if len(fresh.Items) != 0 || fresh.Subtotal != 0 {
		t.Fatalf("replacement cart not empty: %+v", fresh)
	}
}

func (rt *cartTest) testConflictRetryExhausted(t *testing.T) {
	// Every insert for this session loses the race, simulated as a
	// unique violation raised by a trigger.
	const setup = `
	CREATE FUNCTION carts_always_dup() RETURNS trigger AS $$
	BEGIN
		IF NEW.session_id = 'contended-session' THEN
			RAISE EXCEPTION 'duplicate cart' USING ERRCODE = '23505';
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;
	CREATE TRIGGER carts_always_dup BEFORE INSERT ON carts
	FOR EACH ROW EXECUTE FUNCTION carts_always_dup();`
	if _, err := rt.DB.Exec(setup); err != nil {
		t.Fatalf("installing trigger: %v", err)
	}
	defer rt.DB.Exec(`DROP TRIGGER carts_always_dup ON carts; DROP FUNCTION carts_always_dup()`)

	owner := cart.Owner{SessionID: "contended-session"}
	if _, err := cart.GetOrCreate(context.Background(), rt.DB, owner, time.Hour); !errors.Is(err, cart.ErrConflictRetry) {
		t.Fatalf("expected ErrConflictRetry, got %v", err)
	}
}

type failingInventory struct{}

func (failingInventory) Available(ctx context.Context, productID string, variantID *string) (int, error) {
	return 0, errors.New("inventory store offline")
}

func (rt *cartTest) testInventoryLookupFailure(t *testing.T) {
	prod := rt.CreateProduct(t, "birch-bench", 800)

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	c, err := cart.GetOrCreate(context.Background(), rt.DB, cart.Owner{SessionID: random.String(32)}, time.Hour)
	if err != nil {
		t.Fatalf("creating cart: %v", err)
	}

	ni := cart.ItemNew{ProductID: prod.ID, Quantity: 2}
	it, err := cart.AddItem(context.Background(), rt.DB, logger, failingInventory{}, c.ID, ni)
	if err != nil {
		t.Fatalf("lookup failure must not block the add: %v", err)
	}
	if it.Quantity != 2 || it.TotalPrice != 1600 {
		t.Fatalf("unexpected item: %+v", it)
	}

	if !strings.Contains(buf.String(), "inventory lookup failed") {
		t.Fatal("lookup failure not logged")
	}
}
