package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/logging"
	"example.com/storefront/internal/storage"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewClient(srv.URL+"/api/", opts...), srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "name": "Ada", "email": "ada@example.com"})
	})
	ctx := context.Background()
	require.NoError(t, c.Tokens().SetToken(ctx, "tok-123"))

	user, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "u1", user.ID)
}

func TestNoTokenNoHeader(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, ProductsResponse{})
	})
	_, err := c.ListProducts(context.Background(), catalog.Filters{})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestUnauthorizedClearsTokenAndNotifies(t *testing.T) {
	notified := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	}, WithUnauthorizedHandler(func() { notified++ }))
	ctx := context.Background()
	require.NoError(t, c.Tokens().SetToken(ctx, "stale"))

	_, err := c.ListOrders(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, notified)
	tok, _ := c.Tokens().Token(ctx)
	assert.Empty(t, tok)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "token expired", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{http.StatusBadRequest, KindClient, false},
		{http.StatusForbidden, KindForbidden, false},
		{http.StatusNotFound, KindNotFound, false},
		{http.StatusInternalServerError, KindServer, true},
		{http.StatusBadGateway, KindServer, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, map[string]any{
					"message": "nope",
					"errors":  map[string][]string{"postalCode": {"invalid"}},
				})
			})
			_, err := c.GetOrder(context.Background(), "o-1")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Equal(t, tc.retryable, IsRetryable(err))

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, []string{"invalid"}, apiErr.Fields["postalCode"])
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, WithLogger(logging.Discard()))

	_, err := c.GetProduct(context.Background(), "p1")
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))
}

func TestListProductsEncodesFilters(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"_id": "a", "name": "Lamp", "price": 20, "inventory": 3},
				{"id": "b", "name": "Desk", "price": 120, "stock": 0},
			},
			"metadata": map[string]int{"page": 2, "limit": 2, "total": 7, "totalPages": 4},
		})
	})
	minPrice := decimal.NewFromInt(10)
	inStock := true

	resp, err := c.ListProducts(context.Background(), catalog.Filters{
		Category: "furniture",
		Tags:     []string{"wood", "oak"},
		MinPrice: &minPrice,
		Page:     2,
		Limit:    2,
		SortBy:   catalog.SortPriceAsc,
		InStock:  &inStock,
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/products", gotPath)
	assert.Equal(t, []string{"furniture"}, gotQuery["category"])
	assert.Equal(t, []string{"oak", "wood"}, gotQuery["tags"])
	assert.Equal(t, []string{"10"}, gotQuery["minPrice"])
	assert.Equal(t, []string{"price-asc"}, gotQuery["sortBy"])
	assert.Equal(t, []string{"true"}, gotQuery["inStock"])

	require.Len(t, resp.Data, 2)
	assert.Equal(t, PageMeta{Page: 2, Limit: 2, Total: 7, TotalPages: 4}, resp.Metadata)
	products := catalog.NormalizeAll(resp.Data)
	assert.Equal(t, "a", products[0].ID)
	assert.Equal(t, 3, products[0].Stock)
	assert.Equal(t, "b", products[1].ID)
}

func TestGetProductUnwrapsEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/p%201", r.URL.EscapedPath())
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"_id": "p 1", "name": "Chair"}})
	})
	raw, err := c.GetProduct(context.Background(), "p 1")
	require.NoError(t, err)
	assert.Equal(t, "p 1", catalog.Normalize(raw).ID)
}

func TestSearchProducts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products/search", r.URL.Path)
		assert.Equal(t, "desk lamp", r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, ProductsResponse{Metadata: PageMeta{Total: 0}})
	})
	_, err := c.SearchProducts(context.Background(), "  desk lamp ")
	require.NoError(t, err)
}

func TestCreateOrderSendsNumericMoney(t *testing.T) {
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		writeJSON(w, http.StatusCreated, map[string]any{
			"_id":        "o-77",
			"status":     "pending",
			"totalPrice": 120,
			"items":      body["items"],
		})
	})

	order, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Items:         []OrderItem{{Product: "p1", Name: "Lamp", Price: decimal.RequireFromString("50.00"), Quantity: 2}},
		PaymentMethod: PaymentCard,
		TotalPrice:    decimal.RequireFromString("120.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, float64(120), body["totalPrice"])
	items := body["items"].([]any)
	assert.Equal(t, float64(50), items[0].(map[string]any)["price"])
	assert.Equal(t, "card", body["paymentMethod"])

	assert.Equal(t, "o-77", order.ID)
	assert.Equal(t, StatusPending, order.Status)
	assert.True(t, order.TotalPrice.Valid)
	assert.True(t, order.TotalPrice.Decimal.Equal(decimal.NewFromInt(120)))
}

func TestListOrdersAcceptsBothIdentifierShapes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"_id": "mongo-1", "status": "shipped"},
				{"id": "flat-2", "status": "pending"},
			},
			"metadata": map[string]int{"page": 1, "limit": 10, "total": 2, "totalPages": 1},
		})
	})
	resp, err := c.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "mongo-1", resp.Data[0].ID)
	assert.Equal(t, "flat-2", resp.Data[1].ID)
}

func TestListOrdersAcceptsBareArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "o-1"}})
	})
	resp, err := c.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.Metadata.TotalPages)
}

func TestCancelOrderUsesPatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/orders/o-5/cancel", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"id": "o-5", "status": "cancelled"})
	})
	order, err := c.CancelOrder(context.Background(), "o-5")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, order.Status)
}

func TestLoginPersistsSession(t *testing.T) {
	st := storage.NewMemory()
	tokens := NewPersistentTokenStore(st)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ada@example.com", req.Email)
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "jwt-1",
			"user":  map[string]any{"_id": "u-1", "name": "Ada", "email": req.Email},
		})
	}, WithTokenStore(tokens))
	ctx := context.Background()

	out, err := c.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", out.User.ID)

	reopened := NewPersistentTokenStore(st)
	session, err := reopened.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", session.Token)
	require.NotNil(t, session.User)
	assert.Equal(t, "Ada", session.User.Name)
}

func TestLogoutClearsTokenEvenOnFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	})
	ctx := context.Background()
	require.NoError(t, c.Tokens().SetToken(ctx, "tok"))

	err := c.Logout(ctx)
	require.ErrorIs(t, err, ErrServer)
	tok, _ := c.Tokens().Token(ctx)
	assert.Empty(t, tok)
}

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusShipped))
	assert.True(t, StatusShipped.CanTransition(StatusDelivered))
	assert.False(t, StatusShipped.CanTransition(StatusPending))
	assert.False(t, StatusPending.CanTransition(StatusDelivered))

	assert.True(t, StatusPending.CanTransition(StatusCancelled))
	assert.True(t, StatusProcessing.CanTransition(StatusCancelled))
	assert.False(t, StatusShipped.CanTransition(StatusCancelled))
	assert.False(t, StatusCancelled.CanTransition(StatusPending))
	assert.False(t, StatusCancelled.CanCancel())
}
