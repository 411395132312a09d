// internal/sync/mappings.go
package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"bankroll-service/pkg/models"
)

// MappingPersistence is the external collaborator that durably stores the
// sheet-mapping configuration. Implemented by internal/store over Postgres.
type MappingPersistence interface {
	LoadMappings(ctx context.Context) ([]models.SheetMapping, error)
	SaveMapping(ctx context.Context, m models.SheetMapping) error
	DeleteMapping(ctx context.Context, sheetName string) error
}

// MappingStore is the in-memory mirror of the persisted SheetMapping list,
// keyed by sheet name. Every mutation writes through to persistence first and
// only then updates the mirror, so the mirror never runs ahead of disk.
type MappingStore struct {
	persistence MappingPersistence

	mu       gosync.RWMutex
	mappings []models.SheetMapping
}

// NewMappingStore loads the persisted configuration and returns the store.
func NewMappingStore(ctx context.Context, p MappingPersistence) (*MappingStore, error) {
	list, err := p.LoadMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sheet mappings: %w", err)
	}
	log.Printf("✅ [MAPPINGS] Loaded %d sheet mapping(s)", len(list))
	return &MappingStore{persistence: p, mappings: list}, nil
}

// All returns a copy of every configured mapping, in stored order.
func (s *MappingStore) All() []models.SheetMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SheetMapping, len(s.mappings))
	copy(out, s.mappings)
	return out
}

// Get returns the mapping for one sheet.
func (s *MappingStore) Get(sheetName string) (models.SheetMapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.mappings {
		if m.SheetName == sheetName {
			return m, true
		}
	}
	return models.SheetMapping{}, false
}

// Upsert replaces the mapping for m.SheetName as a whole object (or appends a
// new one). Column mappings are never merged field-by-field.
func (s *MappingStore) Upsert(ctx context.Context, m models.SheetMapping) error {
	if m.SheetName == "" {
		return fmt.Errorf("sheet mapping requires a sheet name")
	}
	if m.TableName == "" {
		return fmt.Errorf("sheet mapping requires a destination table")
	}
	m.UpdatedAt = time.Now().UTC()

	if err := s.persistence.SaveMapping(ctx, m); err != nil {
		return fmt.Errorf("failed to persist mapping for %q: %w", m.SheetName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mappings {
		if s.mappings[i].SheetName == m.SheetName {
			s.mappings[i] = m
			return nil
		}
	}
	s.mappings = append(s.mappings, m)
	return nil
}

// Remove deletes the mapping for a sheet. Removing an unknown sheet is a no-op.
func (s *MappingStore) Remove(ctx context.Context, sheetName string) error {
	if err := s.persistence.DeleteMapping(ctx, sheetName); err != nil {
		return fmt.Errorf("failed to delete mapping for %q: %w", sheetName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mappings {
		if s.mappings[i].SheetName == sheetName {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			break
		}
	}
	return nil
}

// TouchLastSync records a completed sync for a sheet.
func (s *MappingStore) TouchLastSync(ctx context.Context, sheetName string, at time.Time) error {
	s.mu.Lock()
	var updated *models.SheetMapping
	for i := range s.mappings {
		if s.mappings[i].SheetName == sheetName {
			t := at.UTC()
			s.mappings[i].LastSyncAt = &t
			m := s.mappings[i]
			updated = &m
			break
		}
	}
	s.mu.Unlock()

	if updated == nil {
		return nil
	}
	return s.persistence.SaveMapping(ctx, *updated)
}
