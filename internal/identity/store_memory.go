package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// InMemoryStore mirrors the Postgres user store for unit tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]User
	roles map[uuid.UUID][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[uuid.UUID]User),
		roles: make(map[uuid.UUID][]string),
	}
}

// Put seeds a user; test helper.
func (s *InMemoryStore) Put(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = user
}

// PutRoles seeds role assignments; test helper.
func (s *InMemoryStore) PutRoles(userID uuid.UUID, roleIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = append([]string{}, roleIDs...)
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok || user.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return &user, nil
}

func (s *InMemoryStore) RoleIDs(_ context.Context, userID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.roles[userID]...), nil
}

func (s *InMemoryStore) SetTelegramChatID(_ context.Context, userID uuid.UUID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok || user.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	user.TelegramChatID = &chatID
	user.UpdatedAt = time.Now()
	s.users[userID] = user
	return nil
}

// InMemoryLinkStore mirrors the Redis link-code store for unit tests. TTL is
// honored by expiry timestamps rather than a background sweep.
type InMemoryLinkStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	codes map[string]linkEntry
}

type linkEntry struct {
	userID    uuid.UUID
	expiresAt time.Time
}

func NewInMemoryLinkStore(ttl time.Duration) *InMemoryLinkStore {
	return &InMemoryLinkStore{ttl: ttl, codes: make(map[string]linkEntry)}
}

func (s *InMemoryLinkStore) SaveCode(_ context.Context, code string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = linkEntry{userID: userID, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *InMemoryLinkStore) ConsumeCode(_ context.Context, code string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.codes[code]
	if !ok || time.Now().After(entry.expiresAt) {
		return uuid.Nil, sentinel.ErrNotFound
	}
	delete(s.codes, code)
	return entry.userID, nil
}
