package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"example.com/storefront/internal/catalog"
)

// PageMeta is the pagination block of list responses.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ProductsResponse wraps a product listing. Records are left raw so the
// catalog package is the only place that interprets them.
type ProductsResponse struct {
	Data     []catalog.RawProduct `json:"data"`
	Metadata PageMeta             `json:"metadata"`
}

// User mirrors the account JSON returned by the auth endpoints.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var wire struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*u = User(wire.plain)
	if u.ID == "" {
		u.ID = wire.MongoID
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// PaymentMethod is one of the payment options offered at checkout.
type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentPayPal         PaymentMethod = "paypal"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// PaymentMethods lists the accepted values in display order.
var PaymentMethods = []PaymentMethod{PaymentCard, PaymentPayPal, PaymentCashOnDelivery}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentPayPal, PaymentCashOnDelivery:
		return true
	}
	return false
}

// OrderStatus is the server-side lifecycle of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

var statusRank = map[OrderStatus]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusDelivered:  3,
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusCancelled
}

// CanCancel reports whether an order in status s may still be cancelled.
func (s OrderStatus) CanCancel() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransition reports whether s may move to next. Progress only runs
// forward through pending, processing, shipped, delivered; cancelled is
// reachable from pending and processing and is final.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if next == StatusCancelled {
		return s.CanCancel()
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to == from+1
}

// OrderItem is a frozen copy of a cart line inside an order.
type OrderItem struct {
	Product  string          `json:"product"`
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

type Order struct {
	ID              string          `json:"id"`
	User            string          `json:"user,omitempty"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`

	// TotalPrice is invalid when the server omitted the total or sent null.
	TotalPrice decimal.NullDecimal `json:"totalPrice"`
}

// UnmarshalJSON accepts both "_id" and "id" as the identifier.
func (o *Order) UnmarshalJSON(data []byte) error {
	type plain Order
	var wire struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = Order(wire.plain)
	if o.ID == "" {
		o.ID = wire.MongoID
	}
	return nil
}

type OrdersResponse struct {
	Data     []Order  `json:"data"`
	Metadata PageMeta `json:"metadata"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
}

// MarshalJSON sends money as JSON numbers; decimal encodes as strings by
// default.
func (r CreateOrderRequest) MarshalJSON() ([]byte, error) {
	type wireItem struct {
		Product  string      `json:"product"`
		Name     string      `json:"name"`
		Image    string      `json:"image"`
		Price    json.Number `json:"price"`
		Quantity int         `json:"quantity"`
	}
	items := make([]wireItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, wireItem{
			Product:  it.Product,
			Name:     it.Name,
			Image:    it.Image,
			Price:    json.Number(it.Price.String()),
			Quantity: it.Quantity,
		})
	}
	return json.Marshal(struct {
		Items           []wireItem      `json:"items"`
		ShippingAddress ShippingAddress `json:"shippingAddress"`
		PaymentMethod   PaymentMethod   `json:"paymentMethod"`
		TotalPrice      json.Number     `json:"totalPrice"`
	}{
		Items:           items,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   r.PaymentMethod,
		TotalPrice:      json.Number(r.TotalPrice.String()),
	})
}

// errorBody is the error envelope the API uses for non-2xx responses.
type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}
