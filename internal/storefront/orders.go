package storefront

import (
	"context"
	"fmt"
	"log/slog"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/querycache"
)

// OrderAPI is the order half of *api.Client.
type OrderAPI interface {
	ListOrders(ctx context.Context) (api.OrdersResponse, error)
	GetOrder(ctx context.Context, id string) (api.Order, error)
	CancelOrder(ctx context.Context, id string) (api.Order, error)
}

// NotCancellableError is returned when the cached order status already rules
// out cancellation.
type NotCancellableError struct {
	OrderID string
	Status  api.OrderStatus
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled in status %s", e.OrderID, e.Status)
}

type Orders struct {
	api    OrderAPI
	cache  *querycache.Cache
	logger *slog.Logger
}

func NewOrders(orderAPI OrderAPI, cache *querycache.Cache, logger *slog.Logger) *Orders {
	return &Orders{api: orderAPI, cache: cache, logger: logger.With("component", "storefront.orders")}
}

func (o *Orders) List(ctx context.Context) (api.OrdersResponse, error) {
	return querycache.Fetch(ctx, o.cache, querycache.NewKey(querycache.Orders), o.api.ListOrders)
}

func (o *Orders) Get(ctx context.Context, id string) (api.Order, error) {
	return querycache.Fetch(ctx, o.cache, querycache.NewKey(querycache.Order, id), func(ctx context.Context) (api.Order, error) {
		return o.api.GetOrder(ctx, id)
	})
}

// Cancel asks the server to cancel id, then invalidates the order list and
// the order's detail entry.
func (o *Orders) Cancel(ctx context.Context, id string) (api.Order, error) {
	detailKey := querycache.NewKey(querycache.Order, id)
	if cached, st := querycache.Peek[api.Order](o.cache, detailKey); st.HasValue && !st.Invalidated && !cached.Status.CanCancel() {
		return api.Order{}, &NotCancellableError{OrderID: id, Status: cached.Status}
	}

	order, err := o.api.CancelOrder(ctx, id)
	if err != nil {
		return api.Order{}, fmt.Errorf("cancel order %s: %w", id, err)
	}
	o.cache.Invalidate(querycache.NewKey(querycache.Orders))
	o.cache.Invalidate(detailKey)
	o.logger.Info("order cancelled", "order_id", id, "status", order.Status)
	return order, nil
}
