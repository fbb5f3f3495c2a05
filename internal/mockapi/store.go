package mockapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"example.com/storefront/internal/api"
)

const (
	defaultPageSize = 12
	maxPageSize     = 50
)

var (
	// ErrEmailTaken is returned when registering an address that exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrBadCredentials is returned for an unknown email or a wrong password.
	ErrBadCredentials = errors.New("invalid email or password")
)

// StatusError rejects an order status change.
type StatusError struct {
	From, To api.OrderStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

// Store contains all persistence of the mock commerce API.
type Store struct {
	db  *sql.DB
	rnd *rand.Rand
	now func() time.Time
}

// NewStore wires a store backed by SQLite.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Init applies the schema.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			shape TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL,
			original_price TEXT,
			category TEXT NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0,
			rating REAL NOT NULL DEFAULT 0,
			review_count INTEGER NOT NULL DEFAULT 0,
			images TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'customer',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			items TEXT NOT NULL,
			shipping_address TEXT NOT NULL,
			payment_method TEXT NOT NULL,
			total_price TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply mockapi schema: %w", err)
		}
	}
	return nil
}

// EnsurePageSize clamps paging parameters.
func EnsurePageSize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func totalPages(total, size int) int {
	if total == 0 {
		return 0
	}
	return (total + size - 1) / size
}

// InsertProduct stores p, assigning an ID and creation time when missing.
func (s *Store) InsertProduct(ctx context.Context, p Product) (Product, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Product{}, errors.New("product name required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Shape == "" {
		p.Shape = ShapeDocument
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return Product{}, err
	}
	tags, err := json.Marshal(nonNil(p.Tags))
	if err != nil {
		return Product{}, err
	}
	var orig sql.NullString
	if p.OriginalPrice != nil {
		orig = sql.NullString{String: p.OriginalPrice.String(), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO products(id, shape, name, description, price, original_price, category, stock, rating, review_count, images, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Shape), p.Name, p.Description, p.Price.String(), orig, p.Category,
		p.Stock, p.Rating, p.ReviewCount, string(images), string(tags), p.CreatedAt,
	); err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

const productColumns = `id, shape, name, description, price, original_price, category, stock, rating, review_count, images, tags, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p            Product
		shape, price string
		orig         sql.NullString
		images, tags string
	)
	if err := row.Scan(&p.ID, &shape, &p.Name, &p.Description, &price, &orig, &p.Category,
		&p.Stock, &p.Rating, &p.ReviewCount, &images, &tags, &p.CreatedAt); err != nil {
		return Product{}, err
	}
	p.Shape = Shape(shape)
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("product %s price: %w", p.ID, err)
	}
	if orig.Valid {
		d, err := decimal.NewFromString(orig.String)
		if err != nil {
			return Product{}, fmt.Errorf("product %s original price: %w", p.ID, err)
		}
		p.OriginalPrice = &d
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return Product{}, fmt.Errorf("product %s images: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return Product{}, fmt.Errorf("product %s tags: %w", p.ID, err)
	}
	return p, nil
}

var productOrder = map[string]string{
	"price-asc":  "CAST(price AS REAL) ASC",
	"price-desc": "CAST(price AS REAL) DESC",
	"name":       "name COLLATE NOCASE ASC",
	"newest":     "created_at DESC",
	"popular":    "review_count DESC",
	"rating":     "rating DESC",
}

// ListProducts returns one page of products matching q.
func (s *Store) ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error) {
	page, size := EnsurePageSize(q.Page, q.Limit)
	var (
		clauses = []string{"1 = 1"}
		args    []any
	)
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, like, like)
	}
	if q.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, q.Category)
	}
	for _, tag := range q.Tags {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(products.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if q.MinPrice != nil {
		clauses = append(clauses, "CAST(price AS REAL) >= ?")
		args = append(args, q.MinPrice.InexactFloat64())
	}
	if q.MaxPrice != nil {
		clauses = append(clauses, "CAST(price AS REAL) <= ?")
		args = append(args, q.MaxPrice.InexactFloat64())
	}
	if q.InStock != nil {
		if *q.InStock {
			clauses = append(clauses, "stock > 0")
		} else {
			clauses = append(clauses, "stock <= 0")
		}
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM products WHERE %s`, where), args...).Scan(&total); err != nil {
		return ProductPage{}, fmt.Errorf("count products: %w", err)
	}

	order, ok := productOrder[q.SortBy]
	if !ok {
		order = productOrder["newest"]
	}
	offset := (page - 1) * size
	dataQuery := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY %s, id LIMIT ? OFFSET ?`, productColumns, where, order)
	rows, err := s.db.QueryContext(ctx, dataQuery, append(append([]any{}, args...), size, offset)...)
	if err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0, size)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return ProductPage{}, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return ProductPage{}, fmt.Errorf("iter products: %w", err)
	}
	return ProductPage{
		Products: products,
		Meta:     api.PageMeta{Page: page, Limit: size, Total: total, TotalPages: totalPages(total, size)},
	}, nil
}

// GetProduct fetches one product. A missing row is sql.ErrNoRows.
func (s *Store) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, err
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Register creates an account with a bcrypt-hashed password.
func (s *Store) Register(ctx context.Context, name, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if strings.TrimSpace(name) == "" || email == "" || password == "" {
		return User{}, errors.New("name, email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{ID: uuid.NewString(), Name: strings.TrimSpace(name), Email: email, Role: "customer", CreatedAt: s.now()}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&exists); err != nil {
		return User{}, fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return User{}, ErrEmailTaken
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(hash), u.Role, u.CreatedAt,
	); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate checks a password and returns the matching user.
func (s *Store) Authenticate(ctx context.Context, email, password string) (User, error) {
	var (
		u    User
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, created_at, password_hash FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrBadCredentials
		}
		return User{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	return u, nil
}

// CreateSession issues a bearer token for userID.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	token := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(token, user_id, created_at) VALUES (?, ?, ?)`, token, userID, s.now(),
	); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return token, nil
}

// UserForToken resolves a bearer token. An unknown token is sql.ErrNoRows.
func (s *Store) UserForToken(ctx context.Context, token string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.name, u.email, u.role, u.created_at FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.token = ?`,
		token,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("resolve session: %w", err)
	}
	return u, nil
}

// DeleteSession revokes a token. Revoking an unknown token is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateOrder persists an order in pending status with the given total.
func (s *Store) CreateOrder(ctx context.Context, userID string, req api.CreateOrderRequest, total decimal.Decimal) (api.Order, error) {
	now := s.now()
	o := api.Order{
		ID:              uuid.NewString(),
		User:            userID,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TotalPrice:      decimal.NewNullDecimal(total),
		Status:          api.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return api.Order{}, err
	}
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return api.Order{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO orders(id, user_id, items, shipping_address, payment_method, total_price, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, userID, string(items), string(addr), string(o.PaymentMethod), total.String(), string(o.Status), now, now,
	); err != nil {
		return api.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

const orderColumns = `id, user_id, items, shipping_address, payment_method, total_price, status, created_at, updated_at`

func scanOrder(row rowScanner) (api.Order, error) {
	var (
		o                     api.Order
		items, addr           string
		method, total, status string
	)
	if err := row.Scan(&o.ID, &o.User, &items, &addr, &method, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return api.Order{}, err
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return api.Order{}, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(addr), &o.ShippingAddress); err != nil {
		return api.Order{}, fmt.Errorf("order %s address: %w", o.ID, err)
	}
	charged, err := decimal.NewFromString(total)
	if err != nil {
		return api.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.TotalPrice = decimal.NewNullDecimal(charged)
	o.PaymentMethod = api.PaymentMethod(method)
	o.Status = api.OrderStatus(status)
	return o, nil
}

// ListOrders returns one page of userID's orders, newest first.
func (s *Store) ListOrders(ctx context.Context, userID string, page, pageSize int) (OrderPage, error) {
	page, pageSize = EnsurePageSize(page, pageSize)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return OrderPage{}, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		userID, pageSize, offset,
	)
	if err != nil {
		return OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]api.Order, 0, pageSize)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return OrderPage{}, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return OrderPage{}, fmt.Errorf("iter orders: %w", err)
	}
	return OrderPage{
		Orders: orders,
		Meta:   api.PageMeta{Page: page, Limit: pageSize, Total: total, TotalPages: totalPages(total, pageSize)},
	}, nil
}

// GetOrder fetches one of userID's orders. Orders of other users are
// reported as missing.
func (s *Store) GetOrder(ctx context.Context, userID, id string) (api.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.Order{}, err
		}
		return api.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// SetOrderStatus moves an order to next, enforcing the status lifecycle.
func (s *Store) SetOrderStatus(ctx context.Context, userID, id string, next api.OrderStatus) (api.Order, error) {
	o, err := s.GetOrder(ctx, userID, id)
	if err != nil {
		return api.Order{}, err
	}
	if !o.Status.CanTransition(next) {
		return api.Order{}, &StatusError{From: o.Status, To: next}
	}
	o.Status = next
	o.UpdatedAt = s.now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, string(next), o.UpdatedAt, id,
	); err != nil {
		return api.Order{}, fmt.Errorf("update order status: %w", err)
	}
	return o, nil
}

// ownerOf returns the user an order belongs to.
func (s *Store) ownerOf(ctx context.Context, id string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM orders WHERE id = ?`, id).Scan(&userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("order owner: %w", err)
	}
	return userID, err
}
