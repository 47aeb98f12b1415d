package state

import (
	"context"
	"errors"
	"sort"
	"sync"

	"escalation/internal/domain"
)

// MemoryStore keeps alert records in process memory for single-instance mode.
// Params: in-memory record map guarded by a mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	alert    domain.Alert
	revision uint64
}

// NewMemoryStore creates the in-memory alert store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
	}
}

// Get returns one alert record and its revision.
// Params: alert ID key.
// Returns: detached alert copy, revision, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return entry.alert.Clone(), entry.revision, nil
}

// Put writes one alert record unconditionally.
// Params: alert record keyed by its ID.
// Returns: new revision or validation error for an empty ID.
func (s *MemoryStore) Put(_ context.Context, alert domain.Alert) (uint64, error) {
	if alert.ID == "" {
		return 0, errors.New("alert id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.records[alert.ID].revision + 1
	s.records[alert.ID] = memoryRecord{alert: alert.Clone(), revision: rev}
	return rev, nil
}

// Update replaces one alert record using expected revision CAS.
// Params: expected revision and replacement record.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) Update(_ context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[alert.ID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.records[alert.ID] = memoryRecord{alert: alert.Clone(), revision: rev}
	return rev, nil
}

// Delete removes one alert record.
// Params: alert ID key.
// Returns: nil (in-memory delete).
func (s *MemoryStore) Delete(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, alertID)
	return nil
}

// ListOpen lists alert records not yet in a terminal status.
// Params: none beyond context.
// Returns: detached open-alert copies ordered by ID.
func (s *MemoryStore) ListOpen(_ context.Context) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]domain.Alert, 0, len(s.records))
	for _, entry := range s.records {
		if entry.alert.IsClosed() {
			continue
		}
		open = append(open, entry.alert.Clone())
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].ID < open[j].ID
	})
	return open, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
