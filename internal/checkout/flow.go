// Package checkout prices the cart, validates the shipping form and submits
// the order. A Flow moves Idle -> Validating -> Submitting -> Succeeded or
// Failed; Failed drops straight back to Idle so the form can be edited and
// resubmitted.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/cart"
	"example.com/storefront/internal/querycache"
)

var (
	ErrEmptyCart            = errors.New("checkout: cart is empty")
	ErrSubmissionInProgress = errors.New("checkout: submission already in progress")
	ErrAlreadySubmitted     = errors.New("checkout: order already submitted")
)

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Submitter sends one order-creation request. submissionID is unique per
// attempt.
type Submitter interface {
	SubmitOrder(ctx context.Context, submissionID string, req api.CreateOrderRequest) (api.Order, error)
}

// OrderCreator is the API call behind DirectSubmitter; *api.Client
// implements it.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req api.CreateOrderRequest) (api.Order, error)
}

// DirectSubmitter calls the API from the current process.
type DirectSubmitter struct {
	Orders OrderCreator
}

func (d DirectSubmitter) SubmitOrder(ctx context.Context, _ string, req api.CreateOrderRequest) (api.Order, error) {
	return d.Orders.CreateOrder(ctx, req)
}

// Invalidator is the part of the query cache the flow touches.
type Invalidator interface {
	Invalidate(prefix querycache.Key) int
}

// Result describes a confirmed order.
type Result struct {
	SubmissionID string
	Order        api.Order
	Quote        Totals
	// Total is the server's total when it sent one, else the quoted total.
	Total decimal.Decimal
	// TotalMismatch is set when the server total differs from the quote.
	TotalMismatch bool
	// CartCleared is set once the ordered lines were taken out of the cart.
	CartCleared bool
}

type Flow struct {
	mu        sync.Mutex
	state     State
	lastErr   error
	cart      *cart.Store
	submitter Submitter
	cache     Invalidator
	pricing   Pricing
	validator *Validator
	observers []func(from, to State)
	logger    *slog.Logger
}

type FlowOption func(*Flow)

// WithObserver registers fn to be called on every state change. It runs with
// the flow locked and must not call back into the flow.
func WithObserver(fn func(from, to State)) FlowOption {
	return func(f *Flow) {
		f.observers = append(f.observers, fn)
	}
}

func NewFlow(cartStore *cart.Store, submitter Submitter, cache Invalidator, pricing Pricing, logger *slog.Logger, opts ...FlowOption) *Flow {
	f := &Flow{
		state:     StateIdle,
		cart:      cartStore,
		submitter: submitter,
		cache:     cache,
		pricing:   pricing,
		validator: NewValidator(),
		logger:    logger.With("component", "checkout.flow"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError is the error of the most recent failed submission.
func (f *Flow) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Quote prices the current cart.
func (f *Flow) Quote() Totals {
	return f.pricing.Quote(f.cart.TotalPrice())
}

// Validate checks the form without submitting.
func (f *Flow) Validate(d Details) error {
	return f.validator.Validate(d)
}

// Reset returns a finished flow to Idle for a new order.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateSucceeded {
		f.transition(StateIdle)
	}
	f.lastErr = nil
}

func (f *Flow) transition(to State) {
	from := f.state
	f.state = to
	for _, fn := range f.observers {
		fn(from, to)
	}
}

// Submit validates d, sends exactly one order request and, once the server
// confirms, invalidates cached orders and then removes the ordered lines from
// the cart. Anything added to the cart while the request was in flight stays
// there. A failure leaves the cart untouched and the flow Idle. Calls made
// while a submission is running are refused.
func (f *Flow) Submit(ctx context.Context, d Details) (Result, error) {
	f.mu.Lock()
	switch f.state {
	case StateValidating, StateSubmitting:
		f.mu.Unlock()
		return Result{}, ErrSubmissionInProgress
	case StateSucceeded:
		f.mu.Unlock()
		return Result{}, ErrAlreadySubmitted
	}
	snap := f.cart.Snapshot()
	items := snap.Items
	if len(items) == 0 {
		f.mu.Unlock()
		return Result{}, ErrEmptyCart
	}

	f.transition(StateValidating)
	if err := f.validator.Validate(d); err != nil {
		f.transition(StateIdle)
		f.mu.Unlock()
		return Result{}, err
	}

	quote := f.pricing.Quote(snap.TotalPrice)
	req := api.CreateOrderRequest{
		Items:           orderItems(items),
		ShippingAddress: d.ShippingAddress(),
		PaymentMethod:   d.trimmed().PaymentMethod,
		TotalPrice:      quote.Total,
	}
	submissionID := uuid.NewString()
	f.transition(StateSubmitting)
	f.mu.Unlock()

	f.logger.Info("submitting order", "submission_id", submissionID, "items", len(items), "total", quote.Total.StringFixed(2))
	order, err := f.submitter.SubmitOrder(ctx, submissionID, req)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastErr = err
		f.transition(StateFailed)
		f.transition(StateIdle)
		f.logger.Warn("order submission failed", "submission_id", submissionID, "error", err, "retryable", api.IsRetryable(err))
		return Result{}, fmt.Errorf("submit order: %w", err)
	}

	res := Result{SubmissionID: submissionID, Order: order, Quote: quote, Total: quote.Total}
	if order.TotalPrice.Valid {
		charged := order.TotalPrice.Decimal
		res.Total = charged
		if !charged.Equal(quote.Total) {
			res.TotalMismatch = true
			f.logger.Warn("server total differs from quote", "order_id", order.ID, "quoted", quote.Total.StringFixed(2), "charged", charged.StringFixed(2))
		}
	}

	f.cache.Invalidate(querycache.NewKey(querycache.Orders))
	if err := f.cart.Subtract(context.WithoutCancel(ctx), items); err != nil {
		f.logger.Error("remove ordered lines from cart", "order_id", order.ID, "error", err)
	} else {
		res.CartCleared = true
	}
	f.lastErr = nil
	f.transition(StateSucceeded)
	f.logger.Info("order placed", "order_id", order.ID, "submission_id", submissionID)
	return res, nil
}

func orderItems(items []cart.Item) []api.OrderItem {
	out := make([]api.OrderItem, 0, len(items))
	for _, it := range items {
		product := it.ProductID
		if product == "" {
			product = it.ID
		}
		out = append(out, api.OrderItem{
			Product:  product,
			Name:     it.Name,
			Image:    it.Image,
			Price:    it.Price,
			Quantity: it.Quantity,
		})
	}
	return out
}
