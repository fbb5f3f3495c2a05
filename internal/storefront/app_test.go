package storefront

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/cart"
	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/checkout"
	"example.com/storefront/internal/config"
	"example.com/storefront/internal/logging"
	"example.com/storefront/internal/mockapi"
	"example.com/storefront/internal/querycache"
	"example.com/storefront/internal/search"
	"example.com/storefront/internal/sqliteutil"
	"example.com/storefront/internal/storage"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		APIBaseURL:       baseURL,
		HTTPTimeout:      5 * time.Second,
		StateBackend:     config.BackendMemory,
		ProductStaleTime: time.Minute,
		SearchStaleTime:  time.Minute,
		SearchDebounce:   10 * time.Millisecond,
		ShippingFlat:     decimal.NewFromInt(10),
		TaxRate:          decimal.New(10, -2),
	}
}

func newTestApp(t *testing.T, opts ...Option) (*App, storage.Storage) {
	t.Helper()
	ctx := context.Background()
	store, db, err := mockapi.Open(ctx, sqliteutil.Memory)
	require.NoError(t, err)
	srv := httptest.NewServer(mockapi.NewServer(store, logging.Discard()).Router())
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})

	st := storage.NewMemory()
	app, err := New(ctx, testConfig(srv.URL+"/api"), logging.Discard(), append([]Option{WithStorage(st)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, st
}

func shippingDetails() checkout.Details {
	return checkout.Details{
		FullName:      "Robin Park",
		Address:       "1 Main St",
		City:          "Springfield",
		PostalCode:    "12345",
		Country:       "US",
		Phone:         "+1 555 010 9999",
		Email:         "robin@example.com",
		PaymentMethod: api.PaymentCard,
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	app, st := newTestApp(t)
	ctx := context.Background()

	_, err := app.Client.Register(ctx, api.RegisterRequest{Name: "Robin", Email: "robin@example.com", Password: "hunter22"})
	require.NoError(t, err)
	sess, err := app.Session.Session(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	require.NotNil(t, sess.User)

	before, err := app.Orders.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, before.Data)

	lamp, err := app.Catalog.Product(ctx, "p-lamp-desk")
	require.NoError(t, err)
	candle, err := app.Catalog.Product(ctx, "p-candle-soy")
	require.NoError(t, err)
	require.NoError(t, app.Cart.AddItem(ctx, cart.ItemFromProduct(lamp, 2)))
	require.NoError(t, app.Cart.AddItem(ctx, cart.ItemFromProduct(candle, 1)))

	quote := app.Checkout.Quote()
	assert.Equal(t, "109.00", quote.Subtotal.StringFixed(2))
	assert.Equal(t, "129.90", quote.Total.StringFixed(2))

	res, err := app.Checkout.Submit(ctx, shippingDetails())
	require.NoError(t, err)
	assert.False(t, res.TotalMismatch)
	assert.True(t, res.CartCleared)
	assert.True(t, app.Cart.IsEmpty())
	assert.Equal(t, checkout.StateSucceeded, app.Checkout.State())

	raw, err := st.Load(ctx, storage.CartKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"items":[]`)

	after, err := app.Orders.List(ctx)
	require.NoError(t, err)
	require.Len(t, after.Data, 1)
	assert.Equal(t, res.Order.ID, after.Data[0].ID)
	assert.Len(t, after.Data[0].Items, 2)

	cancelled, err := app.Orders.Cancel(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusCancelled, cancelled.Status)
}

func TestServerTotalWinsOverLocalPricing(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()
	app.Checkout = checkout.NewFlow(app.Cart, checkout.DirectSubmitter{Orders: app.Client}, app.Cache,
		checkout.Pricing{Shipping: decimal.NewFromInt(5), TaxRate: decimal.Zero}, logging.Discard())

	_, err := app.Client.Register(ctx, api.RegisterRequest{Name: "Sam", Email: "sam@example.com", Password: "pw"})
	require.NoError(t, err)
	vase, err := app.Catalog.Product(ctx, "p-vase-clay")
	require.NoError(t, err)
	require.NoError(t, app.Cart.AddItem(ctx, cart.ItemFromProduct(vase, 1)))

	res, err := app.Checkout.Submit(ctx, shippingDetails())
	require.NoError(t, err)
	assert.True(t, res.TotalMismatch)
	assert.Equal(t, "34.90", res.Quote.Total.StringFixed(2))
	assert.Equal(t, "42.89", res.Total.StringFixed(2))
}

func TestUnauthorizedClearsSession(t *testing.T) {
	var expired atomic.Int32
	app, _ := newTestApp(t, WithSessionExpired(func() { expired.Add(1) }))
	ctx := context.Background()

	require.NoError(t, app.Session.SetToken(ctx, "revoked"))
	querycache.Set(app.Cache, querycache.NewKey(querycache.User), api.User{ID: "u-1"})

	_, err := app.Orders.List(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.EqualValues(t, 1, expired.Load())

	token, err := app.Session.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
	_, st := querycache.Peek[api.User](app.Cache, querycache.NewKey(querycache.User))
	assert.False(t, st.Exists)
}

func TestCheckoutFailureKeepsCart(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	lamp, err := app.Catalog.Product(ctx, "p-lamp-arc")
	require.NoError(t, err)
	require.NoError(t, app.Cart.AddItem(ctx, cart.ItemFromProduct(lamp, 1)))

	_, err = app.Checkout.Submit(ctx, shippingDetails())
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, checkout.StateIdle, app.Checkout.State())
	assert.Equal(t, 1, app.Cart.TotalItems())
}

func TestCatalogAgainstMockAPI(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()
	filters := catalog.Filters{Category: "furniture", Limit: 2}

	pages, err := app.Catalog.InfiniteProducts(ctx, filters)
	require.NoError(t, err)
	for pages.HasMore() {
		pages, err = app.Catalog.MoreProducts(ctx, filters)
		require.NoError(t, err)
	}
	_, err = app.Catalog.MoreProducts(ctx, filters)
	assert.ErrorIs(t, err, querycache.ErrNoMorePages)

	products := Flatten(pages)
	assert.Len(t, products, 5)
	assert.Equal(t, 5, pages.Total())
	for _, p := range products {
		assert.Equal(t, "furniture", p.Category)
		assert.NotEmpty(t, p.ID)
	}
}

func TestAutocompleteAgainstMockAPI(t *testing.T) {
	app, _ := newTestApp(t)
	ac := app.NewAutocomplete()
	defer ac.Close()

	ac.Input("la")
	ac.Input("lamp")
	require.Eventually(t, func() bool { return ac.Snapshot().State == search.StateShowing }, 2*time.Second, 5*time.Millisecond)
	snap := ac.Snapshot()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, "p-lamp-desk", snap.Suggestions[0].ID)
}
