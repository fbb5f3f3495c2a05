package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"example.com/storefront/internal/storage"
)

type persisted struct {
	Items []string `json:"items"`
}

// Store is the set of liked product IDs, written through to storage on every
// change the same way the cart store is.
type Store struct {
	mu      sync.RWMutex
	items   []string
	storage storage.Storage
	logger  *slog.Logger
}

// Open loads the wishlist saved under storage.WishlistKey, starting empty when
// nothing usable is stored.
func Open(ctx context.Context, st storage.Storage, logger *slog.Logger) *Store {
	s := &Store{storage: st, logger: logger, items: []string{}}
	raw, err := st.Load(ctx, storage.WishlistKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("wishlist state unavailable, starting empty", "error", err)
		}
		return s
	}
	var state persisted
	if err := json.Unmarshal(raw, &state); err != nil {
		logger.Warn("wishlist state malformed, starting empty", "error", err)
		return s
	}
	for _, id := range state.Items {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(s.items, id) {
			s.items = append(s.items, id)
		}
	}
	return s
}

func (s *Store) commit(ctx context.Context, next []string) error {
	payload, err := json.Marshal(persisted{Items: next})
	if err != nil {
		return fmt.Errorf("encode wishlist: %w", err)
	}
	if err := s.storage.Save(ctx, storage.WishlistKey, payload); err != nil {
		s.logger.Error("wishlist write-through failed", "error", err)
		return fmt.Errorf("persist wishlist: %w", err)
	}
	s.items = next
	return nil
}

// Add inserts id unless it is already present.
func (s *Store) Add(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || slices.Contains(s.items, id) {
		return nil
	}
	return s.commit(ctx, append(slices.Clone(s.items), id))
}

// Remove deletes id if present.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.items, id)
	if idx < 0 {
		return nil
	}
	return s.commit(ctx, slices.Delete(slices.Clone(s.items), idx, idx+1))
}

// Toggle adds id when absent and removes it when present; two toggles cancel out.
func (s *Store) Toggle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return nil
	}
	if idx := slices.Index(s.items, id); idx >= 0 {
		return s.commit(ctx, slices.Delete(slices.Clone(s.items), idx, idx+1))
	}
	return s.commit(ctx, append(slices.Clone(s.items), id))
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, []string{})
}

func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.items, id)
}

func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
