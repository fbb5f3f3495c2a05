package storefront

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/querycache"
	"example.com/storefront/internal/search"
)

// ProductAPI is the product half of *api.Client.
type ProductAPI interface {
	ListProducts(ctx context.Context, filters catalog.Filters) (api.ProductsResponse, error)
	GetProduct(ctx context.Context, id string) (catalog.RawProduct, error)
	SearchProducts(ctx context.Context, term string) (api.ProductsResponse, error)
}

// ProductPage is one normalized listing page.
type ProductPage struct {
	Products []catalog.Product
	Meta     api.PageMeta
}

// Catalog reads products through the query cache. Raw records are
// normalized before they are cached, so nothing downstream sees either
// backend shape.
type Catalog struct {
	api          ProductAPI
	cache        *querycache.Cache
	productStale time.Duration
	searchStale  time.Duration
	logger       *slog.Logger
}

func NewCatalog(productAPI ProductAPI, cache *querycache.Cache, productStale, searchStale time.Duration, logger *slog.Logger) *Catalog {
	return &Catalog{
		api:          productAPI,
		cache:        cache,
		productStale: productStale,
		searchStale:  searchStale,
		logger:       logger.With("component", "storefront.catalog"),
	}
}

func (c *Catalog) listPage(ctx context.Context, filters catalog.Filters) (ProductPage, error) {
	resp, err := c.api.ListProducts(ctx, filters)
	if err != nil {
		return ProductPage{}, err
	}
	return ProductPage{Products: catalog.NormalizeAll(resp.Data), Meta: resp.Metadata}, nil
}

// Products returns one listing page for filters.
func (c *Catalog) Products(ctx context.Context, filters catalog.Filters) (ProductPage, error) {
	filters = filters.Canonical()
	key := querycache.NewKey(querycache.Products, filters)
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) (ProductPage, error) {
		return c.listPage(ctx, filters)
	}, querycache.StaleTime(c.productStale))
}

func infiniteKey(filters catalog.Filters) querycache.Key {
	return querycache.NewKey(querycache.Products, "infinite", filters.Canonical().WithoutPage())
}

func (c *Catalog) pageLoader(filters catalog.Filters) querycache.PageLoader[[]catalog.Product] {
	filters = filters.Canonical().WithoutPage()
	return func(ctx context.Context, page int) ([]catalog.Product, querycache.PageInfo, error) {
		p, err := c.listPage(ctx, filters.WithPage(page))
		if err != nil {
			return nil, querycache.PageInfo{}, err
		}
		info := querycache.PageInfo{Page: p.Meta.Page, TotalPages: p.Meta.TotalPages, Total: p.Meta.Total}
		if info.Page == 0 {
			info.Page = page
		}
		return p.Products, info, nil
	}
}

// InfiniteProducts returns the pages loaded so far of a "load more" listing,
// loading the first one if needed.
func (c *Catalog) InfiniteProducts(ctx context.Context, filters catalog.Filters) (querycache.Pages[[]catalog.Product], error) {
	return querycache.FetchPages(ctx, c.cache, infiniteKey(filters), c.pageLoader(filters), querycache.StaleTime(c.productStale))
}

// MoreProducts loads the next page. After the last page it returns
// querycache.ErrNoMorePages.
func (c *Catalog) MoreProducts(ctx context.Context, filters catalog.Filters) (querycache.Pages[[]catalog.Product], error) {
	return querycache.FetchNextPage(ctx, c.cache, infiniteKey(filters), c.pageLoader(filters), querycache.StaleTime(c.productStale))
}

// Flatten joins loaded pages into one list.
func Flatten(pages querycache.Pages[[]catalog.Product]) []catalog.Product {
	var out []catalog.Product
	for _, p := range pages.Pages {
		out = append(out, p...)
	}
	return out
}

// Product returns one product by ID.
func (c *Catalog) Product(ctx context.Context, id string) (catalog.Product, error) {
	key := querycache.NewKey(querycache.Product, id)
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) (catalog.Product, error) {
		raw, err := c.api.GetProduct(ctx, id)
		if err != nil {
			return catalog.Product{}, err
		}
		return catalog.Normalize(raw), nil
	})
}

// Search looks up term for autocomplete. Terms too short to search return
// an empty result without a request.
func (c *Catalog) Search(ctx context.Context, term string) (search.Result, error) {
	term = strings.TrimSpace(term)
	if !search.Enabled(term) {
		return search.Result{}, nil
	}
	key := querycache.NewKey(querycache.Products, "search", term)
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) (search.Result, error) {
		resp, err := c.api.SearchProducts(ctx, term)
		if err != nil {
			return search.Result{}, err
		}
		res := search.Result{Products: catalog.NormalizeAll(resp.Data), Total: resp.Metadata.Total}
		if res.Total == 0 {
			res.Total = len(res.Products)
		}
		c.logger.Debug("search results", "term", term, "total", res.Total)
		return res, nil
	}, querycache.StaleTime(c.searchStale))
}
