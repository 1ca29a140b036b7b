package qualification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bintocher/mgc-audits-backend/pkg/sentinel"
)

// InMemoryStore mirrors the postgres store for tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*AuditorQualification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[uuid.UUID]*AuditorQualification)}
}

func (s *InMemoryStore) Create(_ context.Context, q *AuditorQualification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	cp := *q
	s.items[q.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*AuditorQualification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.items[id]
	if !ok || q.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*AuditorQualification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditorQualification
	for _, q := range s.items {
		if q.DeletedAt != nil || q.UserID != userID {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, cutoff time.Time, excludeStatusID uuid.UUID) ([]*AuditorQualification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*AuditorQualification
	for _, q := range s.items {
		if q.DeletedAt != nil || !q.Active {
			continue
		}
		if !q.ExpiryDate.Before(cutoff) {
			continue
		}
		if q.StatusID == excludeStatusID {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, id, statusID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.items[id]
	if !ok || q.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	q.StatusID = statusID
	q.UpdatedAt = time.Now().UTC()
	return nil
}
