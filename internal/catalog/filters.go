package catalog

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SortOption orders product listings.
type SortOption string

const (
	SortPriceAsc  SortOption = "price-asc"
	SortPriceDesc SortOption = "price-desc"
	SortName      SortOption = "name"
	SortNewest    SortOption = "newest"
	SortPopular   SortOption = "popular"
	SortRating    SortOption = "rating"
)

// Valid reports whether s is one of the options the API understands.
func (s SortOption) Valid() bool {
	switch s {
	case SortPriceAsc, SortPriceDesc, SortName, SortNewest, SortPopular, SortRating:
		return true
	}
	return false
}

// Filters narrows a product listing. The zero value lists everything.
// Field order is fixed, so a Filters value always encodes to the same cache key.
type Filters struct {
	Search   string           `json:"search,omitempty"`
	Category string           `json:"category,omitempty"`
	Tags     []string         `json:"tags,omitempty"`
	MinPrice *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice *decimal.Decimal `json:"maxPrice,omitempty"`
	Page     int              `json:"page,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	SortBy   SortOption       `json:"sortBy,omitempty"`
	InStock  *bool            `json:"inStock,omitempty"`
}

// Canonical returns a copy with whitespace trimmed, tags sorted and
// de-duplicated and an unknown sort dropped. Two filters selecting the same
// products yield identical canonical values.
func (f Filters) Canonical() Filters {
	out := f
	out.Search = strings.TrimSpace(f.Search)
	out.Category = strings.TrimSpace(f.Category)
	if len(f.Tags) > 0 {
		tags := make([]string, 0, len(f.Tags))
		for _, t := range f.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		slices.Sort(tags)
		out.Tags = slices.Compact(tags)
		if len(out.Tags) == 0 {
			out.Tags = nil
		}
	}
	if !out.SortBy.Valid() {
		out.SortBy = ""
	}
	if out.Page < 0 {
		out.Page = 0
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	return out
}

// WithoutPage drops the page number; infinite listings key on the rest.
func (f Filters) WithoutPage() Filters {
	f.Page = 0
	return f
}

// WithPage returns a copy requesting the given page.
func (f Filters) WithPage(page int) Filters {
	f.Page = page
	return f
}

// Values encodes the filters as query parameters for GET /products.
func (f Filters) Values() url.Values {
	c := f.Canonical()
	q := make(url.Values)
	if c.Search != "" {
		q.Set("search", c.Search)
	}
	if c.Category != "" {
		q.Set("category", c.Category)
	}
	for _, t := range c.Tags {
		q.Add("tags", t)
	}
	if c.MinPrice != nil {
		q.Set("minPrice", c.MinPrice.String())
	}
	if c.MaxPrice != nil {
		q.Set("maxPrice", c.MaxPrice.String())
	}
	if c.Page > 0 {
		q.Set("page", strconv.Itoa(c.Page))
	}
	if c.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.Limit))
	}
	if c.SortBy != "" {
		q.Set("sortBy", string(c.SortBy))
	}
	if c.InStock != nil {
		q.Set("inStock", strconv.FormatBool(*c.InStock))
	}
	return q
}
