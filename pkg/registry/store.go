package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists module records. The lifecycle controller is its only writer.
type Store interface {
	// Create inserts a new record. Returns ErrAlreadyExists if the name is taken.
	Create(ctx context.Context, rec *Record) error

	// Get returns the record for name or ErrNotFound
	Get(ctx context.Context, name string) (*Record, error)

	// List returns all records ordered by name
	List(ctx context.Context) ([]*Record, error)

	// TransitionStatus atomically moves a record to `to` if its current status
	// is one of `from`. Returns ErrStatusConflict when the current status is
	// not in `from`, ErrNotFound when the record does not exist.
	TransitionStatus(ctx context.Context, name string, from []Status, to Status) (*Record, error)

	// Update overwrites the mutable fields of an existing record
	Update(ctx context.Context, rec *Record) error

	// Delete removes a record. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, name string) error
}

// MemoryStore is an in-process Store used by tests and embedded hosts
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("record name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Name)
	}

	stored := rec.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[rec.Name] = stored
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, name string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec.Clone(), nil
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TransitionStatus implements Store
func (s *MemoryStore) TransitionStatus(ctx context.Context, name string, from []Status, to Status) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !containsStatus(from, rec.Status) {
		return nil, fmt.Errorf("%w: %s is %s", ErrStatusConflict, name, rec.Status)
	}

	rec.Status = to
	rec.UpdatedAt = s.now().UTC()
	return rec.Clone(), nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.Name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.Name)
	}

	stored := rec.Clone()
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	s.records[rec.Name] = stored
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.records, name)
	return nil
}

func containsStatus(set []Status, s Status) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
