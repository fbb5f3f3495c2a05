package mockapi

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"example.com/storefront/internal/api"
)

// Shape selects which of the two backend product layouts a record is served
// in.
type Shape string

const (
	// ShapeDocument is {_id, inventory, stats{rating, reviewCount}}.
	ShapeDocument Shape = "document"
	// ShapeFlat is {id, stock, rating, reviewCount, imageUrl}.
	ShapeFlat Shape = "flat"
)

// Product is one catalog row.
type Product struct {
	ID            string
	Shape         Shape
	Name          string
	Description   string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	Category      string
	Stock         int
	Rating        float64
	ReviewCount   int
	Images        []string
	Tags          []string
	CreatedAt     time.Time
}

// MarshalJSON renders the product in its stored shape.
func (p Product) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"price":       json.Number(p.Price.String()),
		"category":    p.Category,
		"images":      nonNil(p.Images),
		"tags":        nonNil(p.Tags),
		"createdAt":   p.CreatedAt,
	}
	if p.OriginalPrice != nil {
		out["originalPrice"] = json.Number(p.OriginalPrice.String())
	}
	switch p.Shape {
	case ShapeFlat:
		out["id"] = p.ID
		out["stock"] = p.Stock
		out["rating"] = p.Rating
		out["reviewCount"] = p.ReviewCount
		if len(p.Images) > 0 {
			out["imageUrl"] = p.Images[0]
		}
	default:
		out["_id"] = p.ID
		out["inventory"] = p.Stock
		out["stats"] = map[string]any{"rating": p.Rating, "reviewCount": p.ReviewCount}
	}
	return json.Marshal(out)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ProductQuery is a decoded GET /products request.
type ProductQuery struct {
	Search   string
	Category string
	Tags     []string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	InStock  *bool
	SortBy   string
	Page     int
	Limit    int
}

// ProductPage is one page of listing results.
type ProductPage struct {
	Products []Product
	Meta     api.PageMeta
}

// User is an account row. The password hash never leaves the store.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
}

func (u User) wire() api.User {
	return api.User{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// OrderPage wraps one page of a user's orders.
type OrderPage struct {
	Orders []api.Order
	Meta   api.PageMeta
}
