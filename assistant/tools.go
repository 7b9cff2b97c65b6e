package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aveoearth/marketplace/config"
)

// route binds a tool name to one fixed backend endpoint. The path may
// contain {placeholders} filled from same-named tool arguments; the
// remaining arguments travel as query parameters on GET and DELETE and
// as a JSON body otherwise.
type route struct {
	method string
	path   string
	auth   bool
}

// routes is the complete tool menu. The model can only ever reach what
// is listed here.
var routes = map[string]route{
	"getProducts":      {method: http.MethodGet, path: "/products"},
	"viewCart":         {method: http.MethodGet, path: "/cart", auth: true},
	"addToCart":        {method: http.MethodPost, path: "/cart/items", auth: true},
	"updateCartItem":   {method: http.MethodPut, path: "/cart/items/{cartItemId}", auth: true},
	"removeFromCart":   {method: http.MethodDelete, path: "/cart/items/{cartItemId}", auth: true},
	"viewRecentOrders": {method: http.MethodGet, path: "/orders", auth: true},
	"trackOrder":       {method: http.MethodGet, path: "/orders/{orderId}", auth: true},
	"checkout":         {method: http.MethodPost, path: "/orders", auth: true},
	"cancelOrder":      {method: http.MethodPost, path: "/orders/{orderId}/cancel", auth: true},
	"getUserProfile":   {method: http.MethodGet, path: "/users/current", auth: true},
	"getWishlist":      {method: http.MethodGet, path: "/wishlist", auth: true},
	"addToWishlist":    {method: http.MethodPost, path: "/wishlist", auth: true},
}

var supportTopics = map[string]string{
	"orders":   "You can view your recent orders, track an order's status or cancel a pending order.",
	"products": "You can browse the product catalog, look up a product's details and variants, and save items to your wishlist.",
	"account":  "You can view and update your profile information through your account.",
	"cart":     "You can add items to your cart, change quantities, remove items and check out when ready.",
	"wishlist": "You can save products for later and move them to your cart when ready to purchase.",
	"shipping": "Delivery estimates appear on the order details once an order is placed.",
	"returns":  "Returns are handled through the order history of a delivered order.",
	"payment":  "Payment status is shown per order in your order history.",
}

// Client executes tool calls against the marketplace API, forwarding
// the caller's bearer token unchanged.
type Client struct {
	base   string
	client *http.Client
}

func NewToolClient(cfg config.Backend) *Client {
	return &Client{
		base:   strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Call runs one tool and always returns a response map; failures are
// folded into an "error" entry so the model can react to them instead
// of aborting the conversation.
func (c *Client) Call(ctx context.Context, name string, args map[string]interface{}, token string) map[string]interface{} {
	if name == "getSupport" {
		return support(args)
	}

	rt, ok := routes[name]
	if !ok {
		return errMap(fmt.Sprintf("unknown function: %s", name))
	}

	if rt.auth && token == "" {
		return map[string]interface{}{
			"error":  "authentication required for " + name,
			"status": "auth_required",
		}
	}

	path, rest := fillPath(rt.path, args)

	var body io.Reader
	query := url.Values{}
	switch rt.method {
	case http.MethodGet, http.MethodDelete:
		for k, v := range rest {
			query.Set(k, fmt.Sprint(v))
		}
	default:
		buf, err := json.Marshal(rest)
		if err != nil {
			return errMap(fmt.Sprintf("encoding arguments of %s: %v", name, err))
		}
		body = bytes.NewReader(buf)
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, u, body)
	if err != nil {
		return errMap(fmt.Sprintf("building request for %s: %v", name, err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errMap(fmt.Sprintf("calling %s: %v", name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return errMap(fmt.Sprintf("%s failed: %s", name, apiErr.Error))
		}
		return errMap(fmt.Sprintf("%s failed: %s", name, resp.Status))
	}

	if resp.StatusCode == http.StatusNoContent {
		return map[string]interface{}{"status": "ok"}
	}

	var out interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return errMap(fmt.Sprintf("decoding response of %s: %v", name, err))
	}

	// Arrays cannot be a FunctionResponse payload directly.
	if m, ok := out.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"result": out}
}

func support(args map[string]interface{}) map[string]interface{} {
	topic, _ := args["topic"].(string)
	answer, ok := supportTopics[strings.ToLower(topic)]
	if !ok {
		answer = "I can help with orders, products, account management, shipping, returns, payments, the cart and the wishlist. Which area do you need?"
	}
	return map[string]interface{}{
		"topic":    topic,
		"response": answer,
		"status":   "info_provided",
	}
}

// fillPath substitutes {placeholders} and returns the leftover
// arguments.
func fillPath(path string, args map[string]interface{}) (string, map[string]interface{}) {
	rest := make(map[string]interface{}, len(args))
	for k, v := range args {
		ph := "{" + k + "}"
		if strings.Contains(path, ph) {
			path = strings.ReplaceAll(path, ph, url.PathEscape(fmt.Sprint(v)))
			continue
		}
		rest[k] = v
	}
	return path, rest
}

func errMap(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}

// toolset declares the tool menu to the model.
func toolset() []Tool {
	str := func(desc string) Schema { return Schema{Type: "string", Description: desc} }
	num := func(desc string) Schema { return Schema{Type: "integer", Description: desc} }
	obj := func(props map[string]Schema, required ...string) Schema {
		return Schema{Type: "object", Properties: props, Required: required}
	}

	return []Tool{{FunctionDeclarations: []FunctionDeclaration{
		{
			Name:        "getProducts",
			Description: "Fetches a list of products. Use this for product search, browsing and discovery.",
			Parameters: obj(map[string]Schema{
				"limit": num("Number of products to return (default: 20)"),
			}),
		},
		{
			Name:        "viewCart",
			Description: "Retrieves the current items in the user's shopping cart. Requires authentication.",
			Parameters:  obj(nil),
		},
		{
			Name:        "addToCart",
			Description: "Adds a product to the user's shopping cart. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"productId": str("The product ID to add"),
				"quantity":  num("Quantity to add (default: 1)"),
				"variantId": str("Product variant ID if applicable"),
			}, "productId"),
		},
		{
			Name:        "updateCartItem",
			Description: "Updates the quantity of an item in the cart. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"cartItemId": str("The cart item ID to update"),
				"quantity":   num("New quantity"),
			}, "cartItemId", "quantity"),
		},
		{
			Name:        "removeFromCart",
			Description: "Removes an item from the shopping cart. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"cartItemId": str("The cart item ID to remove"),
			}, "cartItemId"),
		},
		{
			Name:        "viewRecentOrders",
			Description: "Retrieves the user's recent orders. Requires authentication.",
			Parameters:  obj(nil),
		},
		{
			Name:        "trackOrder",
			Description: "Tracks the current status of a specific order. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"orderId": str("The order ID to track"),
			}, "orderId"),
		},
		{
			Name:        "checkout",
			Description: "Places an order from the items currently in the cart. Requires authentication.",
			Parameters:  obj(nil),
		},
		{
			Name:        "cancelOrder",
			Description: "Cancels a pending order. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"orderId": str("Order ID to cancel"),
			}, "orderId"),
		},
		{
			Name:        "getUserProfile",
			Description: "Retrieves the user's profile information. Requires authentication.",
			Parameters:  obj(nil),
		},
		{
			Name:        "getWishlist",
			Description: "Retrieves the user's wishlist items. Requires authentication.",
			Parameters:  obj(nil),
		},
		{
			Name:        "addToWishlist",
			Description: "Adds a product to the user's wishlist. Requires authentication.",
			Parameters: obj(map[string]Schema{
				"productId": str("Product ID to add to the wishlist"),
			}, "productId"),
		},
		{
			Name:        "getSupport",
			Description: "Answers support questions for a given topic.",
			Parameters: obj(map[string]Schema{
				"topic": str("Support topic: orders, products, account, shipping, returns, payment, cart, wishlist"),
			}, "topic"),
		},
	}}}
}
