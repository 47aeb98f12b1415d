package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"escalation/internal/config"
	"escalation/internal/domain"
	"escalation/internal/processor"
	"escalation/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock is a mutable test clock shared by manager and processor.
type stepClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type stubNotifier struct {
	mu          sync.Mutex
	alerts      int
	escalations int
}

func (n *stubNotifier) SendAlert(_ context.Context, _ config.Policy, _ domain.Alert, _ []domain.Target) domain.NotificationReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts++
	return domain.NotificationReport{Success: []domain.ChannelResult{{Channel: "telegram"}}}
}

func (n *stubNotifier) SendEscalation(_ context.Context, _ config.Policy, _ domain.Alert, _ []domain.Target, _ domain.Level, _ config.EscalateCondition) domain.NotificationReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalations++
	return domain.NotificationReport{Success: []domain.ChannelResult{{Channel: "telegram"}}}
}

func (n *stubNotifier) SendRecoveryProgress(_ context.Context, _ config.Policy, _ domain.Alert, _ string, _, _ int) domain.NotificationReport {
	return domain.NotificationReport{}
}

func managerTestPolicy() config.Policy {
	return config.Policy{
		EscalationPaths: map[string]config.EscalationPath{
			"P1": {
				"initial_response": {Roles: []string{"primary_oncall"}},
				"first_level": {
					Roles:      []string{"team_lead"},
					Conditions: []config.EscalateCondition{{Kind: config.ConditionNoAcknowledgment, Minutes: 15}},
				},
			},
		},
		Roles: map[string]config.Role{
			"primary_oncall": {NotificationMethods: []string{"telegram_direct"}},
			"team_lead":      {NotificationMethods: []string{"telegram_direct"}},
		},
	}
}

func newTestManager(t *testing.T, at time.Time) (*Manager, *stepClock, state.Store, *stubNotifier) {
	t.Helper()
	clk := &stepClock{at: at}
	notifier := &stubNotifier{}
	holder := NewPolicyHolder(managerTestPolicy())
	proc := processor.New(holder, notifier, clk, nil)
	store := state.NewMemoryStore()
	return NewManager(store, proc, clk, discardLogger()), clk, store, notifier
}

func TestManagerSubmitCreatesAlert(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	manager, _, store, notifier := newTestManager(t, start)
	ctx := context.Background()

	record := domain.IntakeRecord{Name: "DB Down", Severity: "P1", System: "orders", Timestamp: &start}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(open))
	}
	if open[0].CurrentEscalationLevel != domain.LevelInitialResponse {
		t.Fatalf("unexpected level %q", open[0].CurrentEscalationLevel)
	}
	if notifier.alerts != 1 {
		t.Fatalf("expected 1 alert notification, got %d", notifier.alerts)
	}
}

func TestManagerSubmitReprocessesExistingAlert(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	manager, _, store, _ := newTestManager(t, start)
	ctx := context.Background()

	record := domain.IntakeRecord{Name: "DB Down", Severity: "P1", System: "orders", Timestamp: &start}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected the same alert record, got %d", len(open))
	}
	_, revision, err := store.Get(ctx, open[0].ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if revision != 2 {
		t.Fatalf("expected revision 2 after reprocess, got %d", revision)
	}
}

func TestManagerSweepEscalatesDueAlert(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	manager, clk, store, notifier := newTestManager(t, start)
	ctx := context.Background()

	record := domain.IntakeRecord{Name: "DB Down", Severity: "P1", System: "orders", Timestamp: &start}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Within budget: nothing escalates.
	clk.advance(10 * time.Minute)
	if err := manager.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if notifier.escalations != 0 {
		t.Fatalf("expected no escalations yet, got %d", notifier.escalations)
	}

	clk.advance(10 * time.Minute)
	if err := manager.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open alert, got %d", len(open))
	}
	if open[0].CurrentEscalationLevel != domain.LevelFirst {
		t.Fatalf("expected first_level, got %q", open[0].CurrentEscalationLevel)
	}
	if open[0].FirstLevelAt == nil {
		t.Fatalf("expected first level timestamp")
	}
	if notifier.escalations != 1 {
		t.Fatalf("expected 1 escalation notification, got %d", notifier.escalations)
	}
}

func TestManagerSweepSkipsSuppressedAlert(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	policy := managerTestPolicy()
	path := policy.EscalationPaths["P1"]
	level := path["initial_response"]
	level.Conditions = []config.EscalateCondition{{Kind: config.ConditionNoAcknowledgment, Minutes: 15}}
	path["initial_response"] = level
	policy.Suppression = config.SuppressionRules{
		MaintenanceWindows: []config.MaintenanceWindow{
			{Name: "backup_window", SuppressAlerts: []string{"Nightly Backup"}},
		},
	}

	clk := &stepClock{at: start}
	notifier := &stubNotifier{}
	proc := processor.New(NewPolicyHolder(policy), notifier, clk, nil)
	store := state.NewMemoryStore()
	manager := NewManager(store, proc, clk, discardLogger())
	ctx := context.Background()

	record := domain.IntakeRecord{Name: "Nightly Backup Slow", Severity: "P1", System: "orders", Timestamp: &start}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	clk.advance(20 * time.Minute)
	if err := manager.Sweep(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 || open[0].Status != domain.StatusSuppressed {
		t.Fatalf("expected the suppressed alert to stay suppressed: %+v", open)
	}
	if open[0].CurrentEscalationLevel != "" {
		t.Fatalf("suppressed alert must never escalate, got %q", open[0].CurrentEscalationLevel)
	}
	if notifier.alerts != 0 || notifier.escalations != 0 {
		t.Fatalf("suppressed alert must send zero notifications, got %d/%d",
			notifier.alerts, notifier.escalations)
	}
}

func TestManagerApplyPatchPersists(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	manager, _, store, _ := newTestManager(t, start)
	ctx := context.Background()

	record := domain.IntakeRecord{Name: "DB Down", Severity: "P1", System: "orders", Timestamp: &start}
	if err := manager.Submit(ctx, record); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	open, err := store.ListOpen(ctx)
	if err != nil || len(open) != 1 {
		t.Fatalf("expected 1 open alert: %v", err)
	}

	resolved := domain.StatusResolved
	updated, err := manager.ApplyPatch(ctx, open[0].ID, domain.AlertPatch{Status: &resolved})
	if err != nil {
		t.Fatalf("patch failed: %v", err)
	}
	if updated.Status != domain.StatusResolved || updated.ResolvedAt == nil {
		t.Fatalf("unexpected alert after patch: %+v", updated)
	}

	remaining, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("resolved alert still listed as open")
	}
}

func TestManagerApplyPatchUnknownAlert(t *testing.T) {
	t.Parallel()

	manager, _, _, _ := newTestManager(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	status := domain.StatusAcknowledged
	if _, err := manager.ApplyPatch(context.Background(), "absent", domain.AlertPatch{Status: &status}); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAlertLocksSerializeAndRelease(t *testing.T) {
	t.Parallel()

	locks := alertLocks{held: make(map[string]*lockEntry)}
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.held) != 0 {
		t.Fatalf("expected lock table drained, got %d entries", len(locks.held))
	}
}

func TestPolicyHolderSwap(t *testing.T) {
	t.Parallel()

	holder := NewPolicyHolder(managerTestPolicy())
	if len(holder.Snapshot().EscalationPaths) != 1 {
		t.Fatalf("unexpected initial snapshot")
	}

	next := managerTestPolicy()
	next.EscalationPaths["P3"] = config.EscalationPath{
		"initial_response": {Roles: []string{"primary_oncall"}},
	}
	holder.Swap(next)
	if len(holder.Snapshot().EscalationPaths) != 2 {
		t.Fatalf("swap did not publish the new policy")
	}
}
