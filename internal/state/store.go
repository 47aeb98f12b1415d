package state

import (
	"context"
	"errors"

	"escalation/internal/domain"
)

var (
	// ErrNotFound indicates an absent alert record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Store provides alert record persistence operations.
// Params: CRUD with revision CAS plus open-alert listing for the scheduler.
// Returns: backend persistence behavior.
type Store interface {
	Get(ctx context.Context, alertID string) (domain.Alert, uint64, error)
	Put(ctx context.Context, alert domain.Alert) (uint64, error)
	Update(ctx context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error)
	Delete(ctx context.Context, alertID string) error
	ListOpen(ctx context.Context) ([]domain.Alert, error)
	Close() error
}
