package catalog

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// RawProduct is a product record exactly as the API returned it. It may be the
// document shape ({_id, inventory, stats{rating, reviewCount}}) or the flat
// shape ({id, stock, rating, reviewCount}).
type RawProduct map[string]json.RawMessage

// knownFields are consumed by Normalize; everything else is passed through.
var knownFields = map[string]struct{}{
	"_id": {}, "id": {}, "name": {}, "description": {}, "price": {},
	"originalPrice": {}, "category": {}, "inventory": {}, "stock": {},
	"stats": {}, "rating": {}, "reviewCount": {}, "imageUrl": {},
	"images": {}, "tags": {},
}

const maxRating = 5

// Normalize maps either backend shape onto Product. It never fails: missing or
// malformed fields resolve to zero values, rating and review count default to
// 0 and the primary image is the first entry of images.
func Normalize(raw RawProduct) Product {
	p := Product{
		ID:          firstString(raw, "_id", "id"),
		Name:        stringField(raw, "name"),
		Description: stringField(raw, "description"),
		Price:       nonNegative(decimalField(raw, "price")),
		Category:    stringField(raw, "category"),
		Images:      stringSlice(raw, "images"),
		Tags:        stringSlice(raw, "tags"),
	}

	if orig, ok := optionalDecimal(raw, "originalPrice"); ok && orig.GreaterThan(p.Price) {
		p.OriginalPrice = &orig
	}

	stock, ok := intField(raw, "inventory")
	if !ok {
		stock, _ = intField(raw, "stock")
	}
	p.Stock = max(stock, 0)

	stats := nested(raw, "stats")
	rating, ok := floatField(stats, "rating")
	if !ok {
		rating, _ = floatField(raw, "rating")
	}
	p.Rating = clampRating(rating)

	reviews, ok := intField(stats, "reviewCount")
	if !ok {
		reviews, _ = intField(raw, "reviewCount")
	}
	p.ReviewCount = max(reviews, 0)

	if len(p.Images) > 0 {
		p.ImageURL = p.Images[0]
	} else {
		p.ImageURL = stringField(raw, "imageUrl")
	}

	for k, v := range raw {
		if _, known := knownFields[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return p
}

// NormalizeAll normalizes a list response, preserving order.
func NormalizeAll(raws []RawProduct) []Product {
	out := make([]Product, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

func isNull(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func stringField(raw RawProduct, key string) string {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// Some backends send numeric ids.
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstString(raw RawProduct, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(stringField(raw, key)); s != "" {
			return s
		}
	}
	return ""
}

func optionalDecimal(raw RawProduct, key string) (decimal.Decimal, bool) {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return decimal.Zero, false
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(v); err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func decimalField(raw RawProduct, key string) decimal.Decimal {
	d, _ := optionalDecimal(raw, key)
	return d
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func floatField(raw RawProduct, key string) (float64, bool) {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func intField(raw RawProduct, key string) (int, bool) {
	f, ok := floatField(raw, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func stringSlice(raw RawProduct, key string) []string {
	out := []string{}
	v, ok := raw[key]
	if !ok || isNull(v) {
		return out
	}
	var items []any
	if err := json.Unmarshal(v, &items); err != nil {
		return out
	}
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nested(raw RawProduct, key string) RawProduct {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	var obj RawProduct
	if err := json.Unmarshal(v, &obj); err != nil {
		return nil
	}
	return obj
}

func clampRating(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > maxRating:
		return maxRating
	default:
		return r
	}
}
