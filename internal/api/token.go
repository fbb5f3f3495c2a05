package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"example.com/storefront/internal/storage"
)

// TokenStore holds the bearer token attached to outgoing requests.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// MemoryTokenStore keeps the token for the life of the process.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (m *MemoryTokenStore) Token(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *MemoryTokenStore) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryTokenStore) ClearToken(context.Context) error {
	return m.SetToken(context.Background(), "")
}

// Session is the persisted login state.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// PersistentTokenStore keeps the session in a storage backend so a login
// survives restarts of the CLI.
type PersistentTokenStore struct {
	st storage.Storage
}

func NewPersistentTokenStore(st storage.Storage) *PersistentTokenStore {
	return &PersistentTokenStore{st: st}
}

// Session returns the stored session. A missing or unreadable record is an
// empty session.
func (p *PersistentTokenStore) Session(ctx context.Context) (Session, error) {
	data, err := p.st.Load(ctx, storage.AuthKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, nil
	}
	return s, nil
}

// SaveSession stores token and user together.
func (p *PersistentTokenStore) SaveSession(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := p.st.Save(ctx, storage.AuthKey, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *PersistentTokenStore) Token(ctx context.Context) (string, error) {
	s, err := p.Session(ctx)
	return s.Token, err
}

func (p *PersistentTokenStore) SetToken(ctx context.Context, token string) error {
	return p.SaveSession(ctx, Session{Token: token})
}

func (p *PersistentTokenStore) ClearToken(ctx context.Context) error {
	if err := p.st.Delete(ctx, storage.AuthKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
