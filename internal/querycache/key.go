package querycache

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Collection names shared by every query against the commerce API.
const (
	Products   = "products"
	Product    = "product"
	Categories = "categories"
	Cart       = "cart"
	Orders     = "orders"
	Order      = "order"
	User       = "user"
)

// Key identifies a cached query: a collection name followed by parameters.
// Parameters are JSON encoded, so maps key identically regardless of insertion
// order and structs encode in their declared field order.
type Key struct {
	parts []string
}

// NewKey builds a key. Strings are used verbatim; anything else is encoded
// as JSON.
func NewKey(collection string, params ...any) Key {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, collection)
	for _, p := range params {
		parts = append(parts, encodePart(p))
	}
	return Key{parts: parts}
}

func encodePart(p any) string {
	if s, ok := p.(string); ok {
		return s
	}
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%#v", p)
	}
	return string(b)
}

// Collection is the first key segment.
func (k Key) Collection() string {
	if len(k.parts) == 0 {
		return ""
	}
	return k.parts[0]
}

// With returns a longer key sharing k as its prefix.
func (k Key) With(params ...any) Key {
	parts := slices.Clone(k.parts)
	for _, p := range params {
		parts = append(parts, encodePart(p))
	}
	return Key{parts: parts}
}

// HasPrefix reports whether prefix matches the leading segments of k.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.parts) > len(k.parts) {
		return false
	}
	return slices.Equal(k.parts[:len(prefix.parts)], prefix.parts)
}

// String is the unambiguous identity of the key.
func (k Key) String() string {
	b, _ := json.Marshal(k.parts)
	return string(b)
}

// Display is a readable form for logs.
func (k Key) Display() string {
	return strings.Join(k.parts, "/")
}
