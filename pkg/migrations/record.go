package migrations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record is the persisted outcome of one attempt to apply a migration file
type Record struct {
	ModuleName    string    `json:"module_name"`
	ModuleVersion string    `json:"module_version"`
	Filename      string    `json:"filename"`
	Digest        string    `json:"digest"`
	Success       bool      `json:"success"`
	ExecutionMS   int64     `json:"execution_ms"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	AppliedAt     time.Time `json:"applied_at"`
}

// Store persists migration records. A successful record for (module, filename)
// is never overwritten; a failed one may be replaced by a later attempt.
type Store interface {
	// SuccessfulMigrations returns successful records for module keyed by filename
	SuccessfulMigrations(ctx context.Context, module string) (map[string]*Record, error)

	// RecordMigration writes the outcome of an attempt
	RecordMigration(ctx context.Context, rec *Record) error

	// ListMigrations returns every record for module ordered by filename
	ListMigrations(ctx context.Context, module string) ([]*Record, error)
}

// MemoryStore is an in-process Store used by tests and embedded hosts
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*Record)}
}

// SuccessfulMigrations implements Store
func (s *MemoryStore) SuccessfulMigrations(ctx context.Context, module string) (map[string]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Record)
	for name, rec := range s.records[module] {
		if rec.Success {
			cp := *rec
			out[name] = &cp
		}
	}
	return out, nil
}

// RecordMigration implements Store
func (s *MemoryStore) RecordMigration(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byFile, ok := s.records[rec.ModuleName]
	if !ok {
		byFile = make(map[string]*Record)
		s.records[rec.ModuleName] = byFile
	}
	if existing, ok := byFile[rec.Filename]; ok && existing.Success {
		return fmt.Errorf("migration %s/%s already applied", rec.ModuleName, rec.Filename)
	}
	cp := *rec
	byFile[rec.Filename] = &cp
	return nil
}

// ListMigrations implements Store
func (s *MemoryStore) ListMigrations(ctx context.Context, module string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.records[module]))
	for _, rec := range s.records[module] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}
