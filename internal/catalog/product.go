package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Product is the canonical product record every other package consumes.
// Both backend shapes are reduced to it by Normalize.
type Product struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Price         decimal.Decimal  `json:"price"`
	OriginalPrice *decimal.Decimal `json:"originalPrice,omitempty"`
	Category      string           `json:"category"`
	Stock         int              `json:"stock"`
	Rating        float64          `json:"rating"`
	ReviewCount   int              `json:"reviewCount"`
	ImageURL      string           `json:"imageUrl"`
	Images        []string         `json:"images"`
	Tags          []string         `json:"tags"`

	// Extra holds fields neither backend shape defines, passed through as-is.
	Extra map[string]json.RawMessage `json:"-"`
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// Discounted reports whether the product carries a valid original price.
func (p Product) Discounted() bool {
	return p.OriginalPrice != nil && p.OriginalPrice.GreaterThan(p.Price)
}

// DiscountPercent returns the rounded percentage off the original price, or 0.
func (p Product) DiscountPercent() int {
	if !p.Discounted() {
		return 0
	}
	off := p.OriginalPrice.Sub(p.Price).Div(*p.OriginalPrice).Mul(decimal.NewFromInt(100))
	return int(off.Round(0).IntPart())
}

// MarshalJSON writes the canonical fields followed by the pass-through ones.
// Canonical fields win on a name clash.
func (p Product) MarshalJSON() ([]byte, error) {
	type canonical Product
	base, err := json.Marshal(canonical(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(p.Extra)+12)
	for k, v := range p.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("merge product fields: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
