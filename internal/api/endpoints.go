package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"example.com/storefront/internal/catalog"
)

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, req, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, c.remember(ctx, out)
}

// Register creates an account and stores the returned token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, "register", http.MethodPost, "/auth/register", nil, req, &out); err != nil {
		return AuthResponse{}, err
	}
	return out, c.remember(ctx, out)
}

func (c *Client) remember(ctx context.Context, out AuthResponse) error {
	if ps, ok := c.tokens.(*PersistentTokenStore); ok {
		user := out.User
		return ps.SaveSession(ctx, Session{Token: out.Token, User: &user})
	}
	if err := c.tokens.SetToken(ctx, out.Token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// Logout ends the session on the server. Local credentials are cleared even
// when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil, nil, nil)
	if clearErr := c.tokens.ClearToken(ctx); clearErr != nil {
		return errors.Join(err, clearErr)
	}
	return err
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, "current user", http.MethodGet, "/auth/me", nil, nil, &out)
	return out, err
}

// ListProducts fetches one page of the catalog.
func (c *Client) ListProducts(ctx context.Context, filters catalog.Filters) (ProductsResponse, error) {
	var out ProductsResponse
	err := c.do(ctx, "list products", http.MethodGet, "/products", filters.Values(), nil, &out)
	return out, err
}

// GetProduct fetches one product record. A {"data": {...}} envelope is
// unwrapped.
func (c *Client) GetProduct(ctx context.Context, id string) (catalog.RawProduct, error) {
	var raw catalog.RawProduct
	if err := c.do(ctx, "get product", http.MethodGet, "/products/"+url.PathEscape(id), nil, nil, &raw); err != nil {
		return nil, err
	}
	if inner, ok := raw["data"]; ok && raw["_id"] == nil && raw["id"] == nil {
		var wrapped catalog.RawProduct
		if json.Unmarshal(inner, &wrapped) == nil && wrapped != nil {
			return wrapped, nil
		}
	}
	return raw, nil
}

// SearchProducts runs a free-text search.
func (c *Client) SearchProducts(ctx context.Context, term string) (ProductsResponse, error) {
	var out ProductsResponse
	q := url.Values{"q": {strings.TrimSpace(term)}}
	err := c.do(ctx, "search products", http.MethodGet, "/products/search", q, nil, &out)
	return out, err
}

// CreateOrder submits an order. It is not retried.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	var out Order
	err := c.do(ctx, "create order", http.MethodPost, "/orders", nil, req, &out)
	return out, err
}

// ListOrders fetches the signed-in user's orders.
func (c *Client) ListOrders(ctx context.Context) (OrdersResponse, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list orders", http.MethodGet, "/orders", nil, nil, &raw); err != nil {
		return OrdersResponse{}, err
	}
	return decodeOrders(raw)
}

// decodeOrders accepts the paginated envelope or a bare array.
func decodeOrders(raw json.RawMessage) (OrdersResponse, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var orders []Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return OrdersResponse{}, &Error{Kind: KindDecode, Op: "list orders", Err: err}
		}
		return OrdersResponse{
			Data:     orders,
			Metadata: PageMeta{Page: 1, Limit: len(orders), Total: len(orders), TotalPages: 1},
		}, nil
	}
	var out OrdersResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return OrdersResponse{}, &Error{Kind: KindDecode, Op: "list orders", Err: err}
	}
	return out, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := c.do(ctx, "get order", http.MethodGet, "/orders/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := c.do(ctx, "cancel order", http.MethodPatch, "/orders/"+url.PathEscape(id)+"/cancel", nil, nil, &out)
	return out, err
}
