package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFiltersCanonical(t *testing.T) {
	f := Filters{
		Search: "  desk ",
		Tags:   []string{"wood", "office", "wood", " "},
		SortBy: "bogus",
		Page:   -1,
	}

	c := f.Canonical()

	assert.Equal(t, "desk", c.Search)
	assert.Equal(t, []string{"office", "wood"}, c.Tags)
	assert.Equal(t, SortOption(""), c.SortBy)
	assert.Equal(t, 0, c.Page)
}

func TestFiltersValues(t *testing.T) {
	minPrice := decimal.NewFromInt(10)
	inStock := true
	f := Filters{
		Category: "furniture",
		Tags:     []string{"b", "a"},
		MinPrice: &minPrice,
		Page:     2,
		Limit:    12,
		SortBy:   SortPriceAsc,
		InStock:  &inStock,
	}

	q := f.Values()

	assert.Equal(t, "furniture", q.Get("category"))
	assert.Equal(t, []string{"a", "b"}, q["tags"])
	assert.Equal(t, "10", q.Get("minPrice"))
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "12", q.Get("limit"))
	assert.Equal(t, "price-asc", q.Get("sortBy"))
	assert.Equal(t, "true", q.Get("inStock"))
	assert.False(t, q.Has("search"))
	assert.False(t, q.Has("maxPrice"))
}

func TestFiltersPageHelpers(t *testing.T) {
	f := Filters{Category: "x", Page: 3}
	assert.Equal(t, 0, f.WithoutPage().Page)
	assert.Equal(t, 5, f.WithPage(5).Page)
	assert.Equal(t, 3, f.Page)
}
