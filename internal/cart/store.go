package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"example.com/storefront/internal/catalog"
	"example.com/storefront/internal/storage"
)

// Item is one cart line. Its ID equals the product ID, so adding the same
// product twice grows one line instead of creating two. Price is the unit
// price at the time the item was added.
type Item struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
	ProductID string          `json:"productId,omitempty"`
}

// Subtotal is unit price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemFromProduct snapshots a canonical product into a cart line.
func ItemFromProduct(p catalog.Product, quantity int) Item {
	return Item{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Quantity:  quantity,
		Image:     p.ImageURL,
		ProductID: p.ID,
	}
}

// Cart is a read-only view of the store with its derived totals.
type Cart struct {
	Items      []Item          `json:"items"`
	TotalItems int             `json:"totalItems"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	IsOpen     bool            `json:"isOpen"`
}

// persisted is the serialized store shape.
type persisted struct {
	Items  []Item `json:"items"`
	IsOpen bool   `json:"isOpen"`
}

// Store owns the cart lines and the drawer visibility flag. Every mutation
// is written through to storage before it becomes visible; if the write
// fails the previous state is kept and the error is returned.
type Store struct {
	mu      sync.RWMutex
	state   persisted
	storage storage.Storage
	key     string
	logger  *slog.Logger
}

// Open loads the persisted cart under storage.CartKey. Missing or malformed
// state yields an empty cart.
func Open(ctx context.Context, st storage.Storage, logger *slog.Logger) *Store {
	s := &Store{
		storage: st,
		key:     storage.CartKey,
		logger:  logger,
		state:   persisted{Items: []Item{}},
	}
	s.state = s.load(ctx)
	return s
}

func (s *Store) load(ctx context.Context) persisted {
	empty := persisted{Items: []Item{}}
	raw, err := s.storage.Load(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("cart state unavailable, starting empty", "key", s.key, "error", err)
		}
		return empty
	}
	var state persisted
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("cart state malformed, starting empty", "key", s.key, "error", err)
		return empty
	}
	items := make([]Item, 0, len(state.Items))
	for _, item := range state.Items {
		if strings.TrimSpace(item.ID) == "" || item.Quantity < 1 {
			s.logger.Warn("dropping malformed cart line", "item_id", item.ID, "quantity", item.Quantity)
			continue
		}
		items = append(items, item)
	}
	state.Items = items
	return state
}

// commit persists next and swaps it in. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next persisted) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.storage.Save(ctx, s.key, payload); err != nil {
		s.logger.Error("cart write-through failed", "key", s.key, "error", err)
		return fmt.Errorf("persist cart: %w", err)
	}
	s.state = next
	return nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.state.Items, func(i Item) bool { return i.ID == id })
}

// AddItem merges item into the cart: an existing line with the same ID has
// its quantity increased by item.Quantity, otherwise the item is appended.
// Items with a quantity below 1 or without an ID are ignored.
func (s *Store) AddItem(ctx context.Context, item Item) error {
	if item.Quantity < 1 || strings.TrimSpace(item.ID) == "" {
		s.logger.Debug("ignoring cart add", "item_id", item.ID, "quantity", item.Quantity)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.Items = slices.Clone(s.state.Items)
	if idx := s.indexOf(item.ID); idx >= 0 {
		next.Items[idx].Quantity += item.Quantity
	} else {
		next.Items = append(next.Items, item)
	}
	return s.commit(ctx, next)
}

// RemoveItem drops the line with the given ID. Removing an absent ID is a no-op.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return nil
	}
	next := s.state
	next.Items = slices.Delete(slices.Clone(s.state.Items), idx, idx+1)
	return s.commit(ctx, next)
}

// UpdateQuantity sets the quantity of a line. Values below 1 are clamped to 1;
// removing a line goes through RemoveItem.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	quantity = max(quantity, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 || s.state.Items[idx].Quantity == quantity {
		return nil
	}
	next := s.state
	next.Items = slices.Clone(s.state.Items)
	next.Items[idx].Quantity = quantity
	return s.commit(ctx, next)
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.Items = []Item{}
	return s.commit(ctx, next)
}

// Subtract takes ordered quantities out of the matching lines and drops a
// line once nothing of it is left. Lines or quantities added after the order
// was built stay in the cart.
func (s *Store) Subtract(ctx context.Context, ordered []Item) error {
	taken := make(map[string]int, len(ordered))
	for _, item := range ordered {
		taken[item.ID] += item.Quantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	next.Items = make([]Item, 0, len(s.state.Items))
	for _, item := range s.state.Items {
		item.Quantity -= taken[item.ID]
		if item.Quantity > 0 {
			next.Items = append(next.Items, item)
		}
	}
	return s.commit(ctx, next)
}

// OpenDrawer and CloseDrawer toggle the UI visibility flag.
func (s *Store) OpenDrawer(ctx context.Context) error {
	return s.setOpen(ctx, true)
}

func (s *Store) CloseDrawer(ctx context.Context) error {
	return s.setOpen(ctx, false)
}

func (s *Store) setOpen(ctx context.Context, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsOpen == open {
		return nil
	}
	next := s.state
	next.IsOpen = open
	return s.commit(ctx, next)
}

// Items returns a copy of the current lines in insertion order.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Items)
}

// Item returns the line with the given ID.
func (s *Store) Item(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.state.Items[idx], true
	}
	return Item{}, false
}

func (s *Store) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsOpen
}

func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Items) == 0
}

// TotalItems is the sum of quantities.
func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalItems(s.state.Items)
}

// TotalPrice is the sum of unit price times quantity.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totalPrice(s.state.Items)
}

// Snapshot returns the items and totals computed from one consistent read.
func (s *Store) Snapshot() Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Cart{
		Items:      slices.Clone(s.state.Items),
		TotalItems: totalItems(s.state.Items),
		TotalPrice: totalPrice(s.state.Items),
		IsOpen:     s.state.IsOpen,
	}
}

func totalItems(items []Item) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func totalPrice(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Subtotal())
	}
	return sum
}
