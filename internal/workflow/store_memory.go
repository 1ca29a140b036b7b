package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// InMemoryStatusStore mirrors the Postgres status store for unit tests and
// local development.
type InMemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[uuid.UUID]Status
}

func NewInMemoryStatusStore() *InMemoryStatusStore {
	return &InMemoryStatusStore{statuses: make(map[uuid.UUID]Status)}
}

func (s *InMemoryStatusStore) Create(_ context.Context, status *Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status.ID == uuid.Nil {
		status.ID = uuid.New()
	}
	now := time.Now()
	status.CreatedAt = now
	status.UpdatedAt = now
	s.statuses[status.ID] = *status
	return nil
}

func (s *InMemoryStatusStore) Get(_ context.Context, id uuid.UUID) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[id]
	if !ok || status.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return &status, nil
}

func (s *InMemoryStatusStore) GetByCode(_ context.Context, entityType, code string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.statuses {
		if status.DeletedAt == nil && status.EntityType == entityType && status.Code == code {
			return &status, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStatusStore) ListByEntityType(_ context.Context, entityType string) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Status
	for _, status := range s.statuses {
		if status.DeletedAt == nil && status.EntityType == entityType {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *InMemoryStatusStore) GetInitial(_ context.Context, entityType string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range s.statuses {
		if status.DeletedAt == nil && status.EntityType == entityType && status.IsInitial {
			return &status, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStatusStore) ListFinal(_ context.Context, entityType string) ([]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Status
	for _, status := range s.statuses {
		if status.DeletedAt == nil && status.EntityType == entityType && status.IsFinal {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *InMemoryStatusStore) Update(_ context.Context, status *Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.statuses[status.ID]
	if !ok || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	status.CreatedAt = existing.CreatedAt
	status.UpdatedAt = time.Now()
	s.statuses[status.ID] = *status
	return nil
}

func (s *InMemoryStatusStore) SoftDelete(_ context.Context, id uuid.UUID, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[id]
	if !ok || status.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	status.DeletedAt = &deletedAt
	s.statuses[id] = status
	return nil
}

// InMemoryTransitionStore mirrors the Postgres transition store.
type InMemoryTransitionStore struct {
	mu          sync.RWMutex
	transitions map[uuid.UUID]StatusTransition
}

func NewInMemoryTransitionStore() *InMemoryTransitionStore {
	return &InMemoryTransitionStore{transitions: make(map[uuid.UUID]StatusTransition)}
}

func (s *InMemoryTransitionStore) Create(_ context.Context, transition *StatusTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	now := time.Now()
	transition.CreatedAt = now
	transition.UpdatedAt = now
	s.transitions[transition.ID] = *transition
	return nil
}

func (s *InMemoryTransitionStore) Get(_ context.Context, id uuid.UUID) (*StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transition, ok := s.transitions[id]
	if !ok || transition.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	return &transition, nil
}

func (s *InMemoryTransitionStore) GetBetween(_ context.Context, fromStatusID, toStatusID uuid.UUID) (*StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, transition := range s.transitions {
		if transition.DeletedAt == nil &&
			transition.FromStatusID == fromStatusID &&
			transition.ToStatusID == toStatusID {
			return &transition, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryTransitionStore) ListFrom(_ context.Context, fromStatusID uuid.UUID) ([]StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StatusTransition
	for _, transition := range s.transitions {
		if transition.DeletedAt == nil && transition.FromStatusID == fromStatusID {
			out = append(out, transition)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryTransitionStore) ListAll(_ context.Context) ([]StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []StatusTransition
	for _, transition := range s.transitions {
		if transition.DeletedAt == nil {
			out = append(out, transition)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryTransitionStore) Update(_ context.Context, transition *StatusTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.transitions[transition.ID]
	if !ok || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	transition.CreatedAt = existing.CreatedAt
	transition.UpdatedAt = time.Now()
	s.transitions[transition.ID] = *transition
	return nil
}

func (s *InMemoryTransitionStore) SoftDelete(_ context.Context, id uuid.UUID, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	transition, ok := s.transitions[id]
	if !ok || transition.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	transition.DeletedAt = &deletedAt
	s.transitions[id] = transition
	return nil
}
