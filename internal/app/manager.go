package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"escalation/internal/adapter"
	"escalation/internal/clock"
	"escalation/internal/domain"
	"escalation/internal/processor"
	"escalation/internal/state"
)

const casAttempts = 3

// Manager coordinates intake processing, state persistence, and the
// escalation sweep. Every mutation of one alert runs under that
// alert's lock so history stays ordered.
// Params: state store, processor, clock, and logger.
// Returns: intake sink, patch applier, and periodic worker entrypoints.
type Manager struct {
	store  state.Store
	proc   *processor.Processor
	clock  clock.Clock
	logger *slog.Logger
	locks  alertLocks
}

// NewManager creates the runtime coordinator.
// Params: state store, processor, clock, and logger.
// Returns: initialized manager.
func NewManager(store state.Store, proc *processor.Processor, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		proc:   proc,
		clock:  clk,
		logger: logger,
		locks:  alertLocks{held: make(map[string]*lockEntry)},
	}
}

// Submit processes one intake record against stored alert state.
// Params: context and validated intake record.
// Returns: processing or persistence error.
func (m *Manager) Submit(ctx context.Context, record domain.IntakeRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	now := m.clock.Now()
	if record.Timestamp == nil {
		record.Timestamp = &now
	}
	if record.ID == "" {
		record.ID = processor.BuildAlertID(record, *record.Timestamp)
	}

	unlock := m.locks.lock(record.ID)
	defer unlock()

	for attempt := 0; attempt < casAttempts; attempt++ {
		prior, revision, err := m.store.Get(ctx, record.ID)
		if errors.Is(err, state.ErrNotFound) {
			result, err := m.proc.ProcessIntake(ctx, record)
			if err != nil {
				return err
			}
			if _, err := m.store.Put(ctx, result.Alert); err != nil {
				return fmt.Errorf("persist alert %s: %w", record.ID, err)
			}
			m.logger.Info("intake processed",
				"alert_id", record.ID, "action", string(result.Action), "status", string(result.Alert.Status))
			return nil
		}
		if err != nil {
			return err
		}

		result, err := m.proc.Reprocess(ctx, record, prior)
		if err != nil {
			return err
		}
		if _, err := m.store.Update(ctx, revision, result.Alert); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			return fmt.Errorf("persist alert %s: %w", record.ID, err)
		}
		m.logger.Info("intake reprocessed",
			"alert_id", record.ID, "action", string(result.Action), "status", string(result.Alert.Status))
		return nil
	}
	return fmt.Errorf("alert %s: gave up after %d conflicting updates", record.ID, casAttempts)
}

// ApplyPatch applies a partial update to one stored alert.
// Params: alert ID and validated patch.
// Returns: updated alert or lookup/merge/persistence error.
func (m *Manager) ApplyPatch(ctx context.Context, alertID string, patch domain.AlertPatch) (domain.Alert, error) {
	unlock := m.locks.lock(alertID)
	defer unlock()

	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, revision, err := m.store.Get(ctx, alertID)
		if err != nil {
			return domain.Alert{}, err
		}
		updated, err := m.proc.UpdateAlert(alert, patch)
		if err != nil {
			return domain.Alert{}, err
		}
		if _, err := m.store.Update(ctx, revision, updated); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			return domain.Alert{}, fmt.Errorf("persist alert %s: %w", alertID, err)
		}
		m.logger.Info("alert updated", "alert_id", alertID, "fields", patch.FieldNames())
		return updated, nil
	}
	return domain.Alert{}, state.ErrConflict
}

// Sweep evaluates escalation conditions for every open alert.
// Params: context for backend operations.
// Returns: listing error; per-alert failures are logged, not fatal.
func (m *Manager) Sweep(ctx context.Context) error {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open alerts: %w", err)
	}
	for _, stale := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.sweepOne(ctx, stale.ID)
	}
	return nil
}

// sweepOne re-reads one alert under its lock and escalates when due.
// Params: context and alert ID.
// Returns: none; failures are logged and retried on the next sweep.
func (m *Manager) sweepOne(ctx context.Context, alertID string) {
	unlock := m.locks.lock(alertID)
	defer unlock()

	alert, revision, err := m.store.Get(ctx, alertID)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			m.logger.Error("sweep read failed", "alert_id", alertID, "error", err.Error())
		}
		return
	}

	result := m.proc.CheckAndEscalate(ctx, alert)
	if result.Action != domain.ActionEscalated {
		return
	}
	if _, err := m.store.Update(ctx, revision, result.Alert); err != nil {
		m.logger.Error("sweep persist failed", "alert_id", alertID, "error", err.Error())
		return
	}
	m.logger.Info("alert escalated",
		"alert_id", alertID, "level", string(result.Level), "reason", result.Reason)
}

// PollOnce pulls one source adapter and submits every normalized record.
// Params: context and pull-capable source adapter.
// Returns: pull error; per-record submit failures are logged, not fatal.
func (m *Manager) PollOnce(ctx context.Context, source adapter.SourceAdapter) error {
	raws, err := source.Pull(ctx)
	if err != nil {
		if errors.Is(err, adapter.ErrPullNotSupported) {
			return nil
		}
		return fmt.Errorf("poll %s: %w", source.Name(), err)
	}
	for _, record := range adapter.NormalizeBatch(source, raws, m.logger) {
		if err := m.Submit(ctx, record); err != nil {
			m.logger.Error("poll submit failed",
				"source", source.Name(), "alert", record.Name, "error", err.Error())
		}
	}
	return nil
}

// alertLocks hands out one mutex per alert ID with refcounted cleanup.
type alertLocks struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the per-alert mutex and returns its release function.
// Params: alert ID key.
// Returns: unlock callback; entries are dropped when unreferenced.
func (l *alertLocks) lock(alertID string) func() {
	l.mu.Lock()
	entry, ok := l.held[alertID]
	if !ok {
		entry = &lockEntry{}
		l.held[alertID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, alertID)
		}
		l.mu.Unlock()
	}
}
