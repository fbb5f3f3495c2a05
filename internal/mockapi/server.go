// Package mockapi is a local stand-in for the remote commerce API: products
// in both backend shapes, bearer-token auth and per-user orders, backed by
// SQLite.
package mockapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"example.com/storefront/internal/api"
	"example.com/storefront/internal/checkout"
)

// Server exposes the commerce API consumed by the storefront client.
type Server struct {
	store    *Store
	pricing  checkout.Pricing
	validate *validator.Validate
	logger   *slog.Logger
}

type ServerOption func(*Server)

// WithPricing sets the shipping and tax used to compute authoritative order
// totals.
func WithPricing(p checkout.Pricing) ServerOption {
	return func(s *Server) {
		s.pricing = p
	}
}

// NewServer builds a server backed by the provided store.
func NewServer(store *Store, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		store:    store,
		pricing:  checkout.DefaultPricing(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router wires all routes under a single chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)
			r.Post("/logout", s.handleLogout)
			r.With(s.requireUser).Get("/me", s.handleMe)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.Get("/search", s.handleSearchProducts)
			r.Get("/{productID}", s.handleGetProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/", s.handleCreateOrder)
			r.Get("/", s.handleListOrders)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Patch("/{orderID}/cancel", s.handleCancelOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/products/random", s.handleRandomProduct)
			r.Patch("/orders/{orderID}/status", s.handleAdvanceOrder)
		})
	})

	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	user, err := s.store.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.issueSession(w, r, http.StatusOK, user)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	user, err := s.store.Register(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("user registered", "user_id", user.ID)
	s.issueSession(w, r, http.StatusCreated, user)
}

func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, status int, user User) {
	token, err := s.store.CreateSession(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, status, api.AuthResponse{Token: token, User: user.wire()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		if err := s.store.DeleteSession(r.Context(), token); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFromContext(r.Context()).wire())
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q, err := parseProductQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListProducts(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list products: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": page.Products, "metadata": page.Meta})
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	page, err := s.store.ListProducts(r.Context(), ProductQuery{
		Search: term,
		SortBy: "popular",
		Limit:  parseIntDefault(r.URL.Query().Get("limit"), defaultPageSize),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search products: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": page.Products, "metadata": page.Meta})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		handleNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": p})
}

// orderInput is the server-side view of a create-order body.
type orderInput struct {
	Items []struct {
		Product  string `json:"product" validate:"required"`
		Quantity int    `json:"quantity" validate:"min=1"`
	} `json:"items" validate:"required,min=1,dive"`
	ShippingAddress struct {
		FullName   string `json:"fullName" validate:"required"`
		Address    string `json:"address" validate:"required"`
		City       string `json:"city" validate:"required"`
		PostalCode string `json:"postalCode" validate:"required"`
		Country    string `json:"country" validate:"required"`
		Phone      string `json:"phone" validate:"required"`
	} `json:"shippingAddress"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=card paypal cash_on_delivery"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	var in orderInput
	if err := json.Unmarshal(raw, &in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid order: %v", err))
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeValidation(w, err)
		return
	}
	var req api.CreateOrderRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid order: %v", err))
		return
	}

	subtotal := decimal.Zero
	for _, it := range req.Items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	total := s.pricing.Quote(subtotal).Total

	user := userFromContext(r.Context())
	order, err := s.store.CreateOrder(r.Context(), user.ID, req, total)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !req.TotalPrice.Equal(total) {
		s.logger.Warn("client total differs", "order_id", order.ID, "client_total", req.TotalPrice.String(), "total", total.String())
	}
	s.logger.Info("order created", "order_id", order.ID, "user_id", user.ID, "total", total.String())
	writeJSON(w, http.StatusCreated, marshalOrder(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultPageSize)
	result, err := s.store.ListOrders(r.Context(), userFromContext(r.Context()).ID, page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list orders: %v", err))
		return
	}
	data := make([]map[string]any, 0, len(result.Orders))
	for _, o := range result.Orders {
		data = append(data, marshalOrder(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "metadata": result.Meta})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(r.Context(), userFromContext(r.Context()).ID, chi.URLParam(r, "orderID"))
	if err != nil {
		handleNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalOrder(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	order, err := s.store.SetOrderStatus(r.Context(), user.ID, chi.URLParam(r, "orderID"), api.StatusCancelled)
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	s.logger.Info("order cancelled", "order_id", order.ID, "user_id", user.ID)
	writeJSON(w, http.StatusOK, marshalOrder(order))
}

func (s *Server) handleRandomProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.CreateRandomProduct(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAdvanceOrder(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status api.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}
	if !payload.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", payload.Status))
		return
	}
	id := chi.URLParam(r, "orderID")
	owner, err := s.store.ownerOf(r.Context(), id)
	if err != nil {
		handleNotFound(w, err)
		return
	}
	order, err := s.store.SetOrderStatus(r.Context(), owner, id, payload.Status)
	if err != nil {
		s.writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalOrder(order))
}

func (s *Server) writeStatusError(w http.ResponseWriter, err error) {
	var se *StatusError
	if errors.As(err, &se) {
		writeError(w, http.StatusBadRequest, se.Error())
		return
	}
	handleNotFound(w, err)
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.store.UserForToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) User {
	return ctx.Value(userContextKey{}).(User)
}

type userContextKey struct{}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func parseProductQuery(r *http.Request) (ProductQuery, error) {
	v := r.URL.Query()
	q := ProductQuery{
		Search:   v.Get("search"),
		Category: v.Get("category"),
		SortBy:   v.Get("sortBy"),
		Page:     parseIntDefault(v.Get("page"), 1),
		Limit:    parseIntDefault(v.Get("limit"), defaultPageSize),
	}
	for _, t := range v["tags"] {
		for _, tag := range strings.Split(t, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				q.Tags = append(q.Tags, tag)
			}
		}
	}
	for name, dst := range map[string]**decimal.Decimal{"minPrice": &q.MinPrice, "maxPrice": &q.MaxPrice} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return ProductQuery{}, fmt.Errorf("invalid %s %q", name, raw)
		}
		*dst = &d
	}
	if raw := v.Get("inStock"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return ProductQuery{}, fmt.Errorf("invalid inStock %q", raw)
		}
		q.InStock = &b
	}
	return q, nil
}

func parseIntDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// marshalOrder renders an order with a document-style identifier and money
// as JSON numbers.
func marshalOrder(o api.Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"product":  it.Product,
			"name":     it.Name,
			"image":    it.Image,
			"price":    json.Number(it.Price.String()),
			"quantity": it.Quantity,
		})
	}
	return map[string]any{
		"_id":             o.ID,
		"user":            o.User,
		"items":           items,
		"shippingAddress": o.ShippingAddress,
		"paymentMethod":   o.PaymentMethod,
		"totalPrice":      json.Number(o.TotalPrice.Decimal.String()),
		"status":          o.Status,
		"createdAt":       o.CreatedAt,
		"updatedAt":       o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"message": strings.TrimSpace(message),
		"status":  status,
	})
}

func writeValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if _, rest, ok := strings.Cut(name, "."); ok {
			name = rest
		}
		fields[name] = append(fields[name], fmt.Sprintf("failed %s", fe.Tag()))
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"message": "order validation failed",
		"status":  http.StatusBadRequest,
		"errors":  fields,
	})
}

func handleNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
