package test

import (
	"net/http"
	"testing"

	"github.com/aveoearth/marketplace/core/wishlist"
	"github.com/aveoearth/marketplace/validate"
)

func TestWishlist(t *testing.T) {
	env, err := NewTestEnv(t, "wishlist_test")
	if err != nil {
		t.Fatalf("initializing test env: %v", err)
	}

	prod := env.CreateProduct(t, "linen-throw", 900)
	client := env.Client()

	add := map[string]interface{}{"productId": prod.ID}
	var it wishlist.Item
	if code := env.Do(t, client, http.MethodPost, "/wishlist", env.BuyerToken, add, &it); code != http.StatusCreated {
		t.Fatalf("adding to wishlist: status %d", code)
	}
	if it.ProductID != prod.ID {
		t.Fatalf("unexpected wishlist item: %+v", it)
	}

	// Duplicate adds conflict instead of duplicating the row.
	if code := env.Do(t, client, http.MethodPost, "/wishlist", env.BuyerToken, add, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate add, got %d", code)
	}

	// Unknown products are rejected up front.
	missing := map[string]interface{}{"productId": validate.GenerateID()}
	if code := env.Do(t, client, http.MethodPost, "/wishlist", env.BuyerToken, missing, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", code)
	}

	var its []wishlist.Item
	if code := env.Do(t, client, http.MethodGet, "/wishlist", env.BuyerToken, nil, &its); code != http.StatusOK {
		t.Fatalf("listing wishlist: status %d", code)
	}
	if len(its) != 1 {
		t.Fatalf("expected 1 wishlist item, got %d", len(its))
	}

	if code := env.Do(t, client, http.MethodDelete, "/wishlist/"+prod.ID, env.BuyerToken, nil, nil); code != http.StatusNoContent {
		t.Fatalf("removing wishlist item: status %d", code)
	}
	if code := env.Do(t, client, http.MethodDelete, "/wishlist/"+prod.ID, env.BuyerToken, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 removing missing item, got %d", code)
	}

	if code := env.Do(t, client, http.MethodDelete, "/wishlist", env.BuyerToken, nil, nil); code != http.StatusNoContent {
		t.Fatalf("clearing wishlist: status %d", code)
	}
}
