package store

import (
	"context"
	"sort"
	"sync"

	"github.com/toolharbor/toolharbor/pkg/catalog"
	"github.com/toolharbor/toolharbor/pkg/errors"
)

// MemoryStore is the in-memory Store used by tests and single-shot CLI
// runs where durability is not wanted.
type MemoryStore struct {
	mu       sync.RWMutex
	packages map[string]*PackageDetail
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{packages: make(map[string]*PackageDetail)}
}

// SavePackage implements Store.
func (s *MemoryStore) SavePackage(ctx context.Context, detail *PackageDetail) error {
	if detail.Record.CanonicalID == "" {
		return errors.New(errors.ErrCodeInvalidTarget, "package record has no canonical id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *detail
	s.packages[detail.Record.CanonicalID] = &cp
	return nil
}

// GetPackage implements Store.
func (s *MemoryStore) GetPackage(ctx context.Context, canonicalID string) (*PackageDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	detail, ok := s.packages[canonicalID]
	if !ok {
		return nil, errors.New(errors.ErrCodeNotFound, "package %s", canonicalID)
	}
	cp := *detail
	return &cp, nil
}

// ListPackages implements Store.
func (s *MemoryStore) ListPackages(ctx context.Context, limit int) ([]catalog.PackageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]catalog.PackageRecord, 0, len(s.packages))
	for _, d := range s.packages {
		records = append(records, d.Record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastIngestedAt.After(records[j].LastIngestedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// CountPackages implements Store.
func (s *MemoryStore) CountPackages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.packages)), nil
}

// Close implements Store.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }
