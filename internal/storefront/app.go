// Package storefront is the composition root: it builds the persistence
// adapter, the stores, the API client, the query cache and the checkout flow
// from configuration, and exposes the cached catalog and order services.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"go.temporal.io/sdk/client"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/cart"
	"example.com/storefront/internal/checkout"
	"example.com/storefront/internal/config"
	"example.com/storefront/internal/querycache"
	"example.com/storefront/internal/search"
	"example.com/storefront/internal/sqliteutil"
	"example.com/storefront/internal/storage"
	"example.com/storefront/internal/wishlist"
)

type App struct {
	Config   *config.Config
	Storage  storage.Storage
	Session  *api.PersistentTokenStore
	Client   *api.Client
	Cache    *querycache.Cache
	Cart     *cart.Store
	Wishlist *wishlist.Store
	Catalog  *Catalog
	Orders   *Orders
	Checkout *checkout.Flow

	logger  *slog.Logger
	closers []func() error
	// sessionExpired runs after any 401 has cleared the stored token.
	sessionExpired func()
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	storage   storage.Storage
	submitter checkout.Submitter
	onExpired func()
}

// WithStorage replaces the configured state backend.
func WithStorage(st storage.Storage) Option {
	return func(o *options) {
		o.storage = st
	}
}

// WithSubmitter replaces the configured order submitter.
func WithSubmitter(s checkout.Submitter) Option {
	return func(o *options) {
		o.submitter = s
	}
}

// WithSessionExpired is called after a 401 has cleared the session.
func WithSessionExpired(fn func()) Option {
	return func(o *options) {
		o.onExpired = fn
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	app := &App{Config: cfg, logger: logger}

	st := o.storage
	if st == nil {
		var err error
		if st, err = app.openStorage(ctx); err != nil {
			return nil, err
		}
	}
	app.Storage = st

	app.Cache = querycache.New(querycache.WithLogger(logger.With("component", "querycache")))
	app.Session = api.NewPersistentTokenStore(st)
	app.sessionExpired = func() {
		app.Cache.Remove(querycache.NewKey(querycache.User))
		app.Cache.Remove(querycache.NewKey(querycache.Orders))
		app.Cache.Remove(querycache.NewKey(querycache.Order))
		logger.Warn("session expired, log in again")
		if o.onExpired != nil {
			o.onExpired()
		}
	}
	app.Client = api.NewClient(cfg.APIBaseURL,
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithTokenStore(app.Session),
		api.WithLogger(logger.With("component", "api.client")),
		api.WithUnauthorizedHandler(app.sessionExpired),
	)

	app.Cart = cart.Open(ctx, st, logger)
	app.Wishlist = wishlist.Open(ctx, st, logger)
	app.Catalog = NewCatalog(app.Client, app.Cache, cfg.ProductStaleTime, cfg.SearchStaleTime, logger)
	app.Orders = NewOrders(app.Client, app.Cache, logger)

	submitter := o.submitter
	if submitter == nil {
		var err error
		if submitter, err = app.newSubmitter(); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	pricing := checkout.Pricing{Shipping: cfg.ShippingFlat, TaxRate: cfg.TaxRate}
	app.Checkout = checkout.NewFlow(app.Cart, submitter, app.Cache, pricing, logger)
	return app, nil
}

func (a *App) openStorage(ctx context.Context) (storage.Storage, error) {
	switch a.Config.StateBackend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.Config.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", a.Config.RedisAddr, err)
		}
		a.closers = append(a.closers, rdb.Close)
		return storage.NewRedis(rdb, storage.WithPrefix(a.Config.RedisPrefix)), nil
	case config.BackendSQLite, "":
		db, err := sqliteutil.Open(a.Config.StatePath)
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		st := storage.NewSQLite(db)
		if err := st.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init state schema: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", a.Config.StateBackend)
	}
}

func (a *App) newSubmitter() (checkout.Submitter, error) {
	if !a.Config.UseTemporal {
		return checkout.DirectSubmitter{Orders: a.Client}, nil
	}
	sealer, err := checkout.NewTokenSealer(a.Config.TokenSecret)
	if err != nil {
		return nil, fmt.Errorf("temporal checkout: %w", err)
	}
	tc, err := client.Dial(client.Options{
		HostPort:  a.Config.TemporalHostPort,
		Namespace: a.Config.TemporalNamespace,
		Logger:    a.logger.With("component", "temporal.client"),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal: %w", err)
	}
	a.closers = append(a.closers, func() error {
		tc.Close()
		return nil
	})
	return checkout.NewTemporalSubmitter(tc, a.Session, sealer, a.logger, checkout.OnUnauthorized(a.sessionExpired)), nil
}

// NewAutocomplete returns a search box bound to the cached catalog search.
func (a *App) NewAutocomplete(opts ...search.Option) *search.Autocomplete {
	base := []search.Option{
		search.WithDebounce(a.Config.SearchDebounce),
		search.WithLogger(a.logger.With("component", "search.autocomplete")),
	}
	return search.New(a.Catalog.Search, append(base, opts...)...)
}

// Close releases the storage backend and the Temporal client.
func (a *App) Close() error {
	a.Cache.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
