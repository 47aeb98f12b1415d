package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"escalation/internal/clock"
	"escalation/internal/config"
	"escalation/internal/domain"
)

// fakeNotifier records notification calls without any transport.
// Params: scripted results are unnecessary; reports are always empty success.
// Returns: in-memory notifier for processor tests.
type fakeNotifier struct {
	alerts      []domain.Alert
	escalations []domain.Level
	recoveries  []string
}

// SendAlert records the initial notification call.
// Params: context, policy, alert, and targets.
// Returns: single synthetic success entry per planned channel group.
func (f *fakeNotifier) SendAlert(_ context.Context, _ config.Policy, alert domain.Alert, targets []domain.Target) domain.NotificationReport {
	f.alerts = append(f.alerts, alert)
	report := domain.NotificationReport{}
	if len(targets) > 0 {
		report.Success = append(report.Success, domain.ChannelResult{Channel: "telegram"})
	}
	return report
}

// SendEscalation records the level-advance notification call.
// Params: context, policy, alert, targets, level, and condition.
// Returns: empty success report.
func (f *fakeNotifier) SendEscalation(_ context.Context, _ config.Policy, _ domain.Alert, _ []domain.Target, level domain.Level, _ config.EscalateCondition) domain.NotificationReport {
	f.escalations = append(f.escalations, level)
	return domain.NotificationReport{}
}

// SendRecoveryProgress records the remediation progress call.
// Params: context, policy, alert, action, and attempt counters.
// Returns: empty success report.
func (f *fakeNotifier) SendRecoveryProgress(_ context.Context, _ config.Policy, _ domain.Alert, action string, _, _ int) domain.NotificationReport {
	f.recoveries = append(f.recoveries, action)
	return domain.NotificationReport{}
}

// failingRecovery always reports remediation failure.
type failingRecovery struct{}

// Run fails every attempt.
// Params: context, action name, and alert snapshot.
// Returns: static error.
func (failingRecovery) Run(_ context.Context, _ string, _ domain.Alert) error {
	return errors.New("remediation failed")
}

// testPolicy builds the policy used across processor tests.
// Params: none.
// Returns: policy with P1/P3 paths, suppression, and auto-recovery.
func testPolicy() config.Policy {
	return config.Policy{
		EscalationPaths: map[string]config.EscalationPath{
			"P1": {
				"initial_response": {
					Roles:       []string{"primary_oncall"},
					Automations: []string{AutomationAssignIncidentID},
				},
				"first_level": {
					Roles:      []string{"team_lead"},
					Conditions: []config.EscalateCondition{{Kind: config.ConditionNoAcknowledgment, Minutes: 15}},
				},
				"second_level": {
					Roles:      []string{"engineering_manager"},
					Conditions: []config.EscalateCondition{{Kind: config.ConditionNoResolution, Minutes: 30}},
				},
				"management_level": {
					Roles:      []string{"cto"},
					Conditions: []config.EscalateCondition{{Kind: config.ConditionNoResolution, Minutes: 60}},
				},
			},
			"P3": {
				"initial_response": {Roles: []string{"primary_oncall"}},
			},
		},
		Roles: map[string]config.Role{
			"primary_oncall":      {NotificationMethods: []string{"telegram_direct"}},
			"team_lead":           {NotificationMethods: []string{"telegram_direct"}},
			"engineering_manager": {NotificationMethods: []string{"email"}},
			"cto":                 {NotificationMethods: []string{"sms"}},
		},
		Suppression: config.SuppressionRules{
			MaintenanceWindows: []config.MaintenanceWindow{
				{Name: "weekly_maintenance", SuppressAlerts: []string{"Scheduled Backup"}},
			},
		},
		AutoRecovery: config.AutoRecoveryConfig{
			Enabled:       true,
			NotifyChannel: "telegram",
			Actions: map[string]config.RecoveryAction{
				"restart_service": {
					Conditions: []config.RecoveryCondition{{
						Alert:           "Service Down",
						Severity:        []string{"P2", "P3"},
						AttemptCountMax: 2,
					}},
				},
			},
		},
	}
}

// newTestProcessor builds a processor over the shared test policy.
// Params: test handle, evaluation time, and options.
// Returns: processor and its fake notifier.
func newTestProcessor(t *testing.T, at time.Time, options ...Option) (*Processor, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	proc := New(FixedPolicy{Policy: testPolicy()}, notifier, clock.Fixed{At: at}, nil, options...)
	return proc, notifier
}

// TestProcessIntakeNormalizesDefaults verifies intake defaults.
// Params: t standard test handle.
// Returns: fails the test when defaults or identity are wrong.
func TestProcessIntakeNormalizesDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	proc, _ := newTestProcessor(t, now)

	result, err := proc.ProcessIntake(context.Background(), domain.IntakeRecord{Name: "Some Alert"})
	if err != nil {
		t.Fatalf("ProcessIntake: %v", err)
	}
	alert := result.Alert
	if alert.ID == "" {
		t.Fatalf("id must be generated when absent")
	}
	if alert.Severity != domain.SeverityP3 {
		t.Fatalf("severity must default to P3, got %q", alert.Severity)
	}
	if alert.System != "unknown" {
		t.Fatalf("system must default to unknown, got %q", alert.System)
	}
	if !alert.CreatedAt.Equal(now) {
		t.Fatalf("created_at must stamp intake time, got %v", alert.CreatedAt)
	}
	if result.Action != domain.ActionProcessed {
		t.Fatalf("expected processed action, got %q", result.Action)
	}
	if alert.Status != domain.StatusProcessed {
		t.Fatalf("expected processed status, got %q", alert.Status)
	}
	if alert.CurrentEscalationLevel != domain.LevelInitialResponse {
		t.Fatalf("expected initial_response level, got %q", alert.CurrentEscalationLevel)
	}
	if alert.InitialResponseAt == nil {
		t.Fatalf("initial_response_at must be stamped")
	}

	explicit := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	result, err = proc.ProcessIntake(context.Background(), domain.IntakeRecord{
		ID:        "external-7",
		Name:      "Named Alert",
		Severity:  domain.SeverityP1,
		System:    "payments",
		Timestamp: &explicit,
	})
	if err != nil {
		t.Fatalf("ProcessIntake: %v", err)
	}
	if result.Alert.ID != "external-7" {
		t.Fatalf("present id must never be overwritten")
	}
	if !result.Alert.CreatedAt.Equal(explicit) {
		t.Fatalf("present timestamp must never be overwritten")
	}
	if result.Alert.Severity != domain.SeverityP1 {
		t.Fatalf("present severity must never be overwritten")
	}
}

// TestProcessIntakeRejectsInvalidRecord verifies intake validation.
// Params: t standard test handle.
// Returns: fails the test when an invalid record is accepted.
func TestProcessIntakeRejectsInvalidRecord(t *testing.T) {
	t.Parallel()

	proc, _ := newTestProcessor(t, time.Now())
	if _, err := proc.ProcessIntake(context.Background(), domain.IntakeRecord{}); err == nil {
		t.Fatalf("record without name or id must be rejected")
	}
}

// TestProcessIntakeSuppression verifies maintenance-window precedence.
// Params: t standard test handle.
// Returns: fails the test when suppression sends notifications.
func TestProcessIntakeSuppression(t *testing.T) {
	t.Parallel()

	proc, notifier := newTestProcessor(t, time.Now())
	result, err := proc.ProcessIntake(context.Background(), domain.IntakeRecord{
		Name:     "Scheduled Backup Slow",
		Severity: domain.SeverityP1,
	})
	if err != nil {
		t.Fatalf("ProcessIntake: %v", err)
	}
	if result.Action != domain.ActionSuppressed {
		t.Fatalf("expected suppressed, got %q", result.Action)
	}
	if result.Alert.Status != domain.StatusSuppressed {
		t.Fatalf("expected suppressed status, got %q", result.Alert.Status)
	}
	if result.Notifications != nil || len(notifier.alerts) != 0 {
		t.Fatalf("suppressed intake must send zero notifications")
	}
}

// TestAutoRecoveryBound verifies the bounded attempt counter.
// Params: t standard test handle.
// Returns: fails the test when attempts exceed the maximum or the
// over-limit intake does not fall through to escalation.
func TestAutoRecoveryBound(t *testing.T) {
	t.Parallel()

	proc, notifier := newTestProcessor(t, time.Now())
	record := domain.IntakeRecord{Name: "Service Down: payments-api", Severity: domain.SeverityP3}

	result, err := proc.ProcessIntake(context.Background(), record)
	if err != nil {
		t.Fatalf("first intake: %v", err)
	}
	if result.Action != domain.ActionAutoRecovered {
		t.Fatalf("first intake must auto-recover, got %q", result.Action)
	}
	if result.Alert.AutoRecoveryAttempts["restart_service"] != 1 {
		t.Fatalf("attempt counter wrong: %+v", result.Alert.AutoRecoveryAttempts)
	}
	if result.Alert.ResolvedAt == nil || result.Alert.Status != domain.StatusAutoRecovered {
		t.Fatalf("auto-recovered alert must be closed: %+v", result.Alert.Status)
	}
	if len(notifier.recoveries) != 1 || len(notifier.alerts) != 0 {
		t.Fatalf("auto-recovery must send progress only, got %+v", notifier)
	}

	// Re-process carrying forward the attempt counter, as a caller with
	// persistence does for a repeating alert pattern.
	second, err := proc.Reprocess(context.Background(), record, result.Alert)
	if err != nil {
		t.Fatalf("second intake: %v", err)
	}
	if second.Action != domain.ActionAutoRecovered {
		t.Fatalf("second intake must still auto-recover, got %q", second.Action)
	}
	if second.Alert.AutoRecoveryAttempts["restart_service"] != 2 {
		t.Fatalf("attempt counter must carry forward: %+v", second.Alert.AutoRecoveryAttempts)
	}

	third, err := proc.Reprocess(context.Background(), record, second.Alert)
	if err != nil {
		t.Fatalf("third intake: %v", err)
	}
	if third.Action != domain.ActionProcessed {
		t.Fatalf("over-limit intake must fall through to escalation, got %q", third.Action)
	}
	if third.Alert.AutoRecoveryAttempts["restart_service"] != 2 {
		t.Fatalf("counter must never exceed the maximum: %+v", third.Alert.AutoRecoveryAttempts)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("fall-through must notify responders exactly once")
	}
}

// TestAutoRecoveryFailureFallsThrough verifies failed remediation handoff.
// Params: t standard test handle.
// Returns: fails the test when a failed attempt closes the alert.
func TestAutoRecoveryFailureFallsThrough(t *testing.T) {
	t.Parallel()

	proc, notifier := newTestProcessor(t, time.Now(), WithRecoveryRunner(failingRecovery{}))
	result, err := proc.ProcessIntake(context.Background(), domain.IntakeRecord{
		Name:     "Service Down: payments-api",
		Severity: domain.SeverityP3,
	})
	if err != nil {
		t.Fatalf("ProcessIntake: %v", err)
	}
	if result.Action != domain.ActionProcessed {
		t.Fatalf("failed recovery must fall through to processing, got %q", result.Action)
	}
	if result.Alert.Status != domain.StatusProcessed {
		t.Fatalf("alert must stay open, got %q", result.Alert.Status)
	}
	if result.Alert.AutoRecoveryAttempts["restart_service"] != 1 {
		t.Fatalf("failed attempt must still count: %+v", result.Alert.AutoRecoveryAttempts)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("fall-through must notify responders")
	}

	var events []string
	for _, entry := range result.Alert.History {
		events = append(events, entry.Event)
	}
	want := []string{domain.EventAutoRecoveryAttempted, domain.EventAutoRecoveryFailed, domain.EventAlertReceived}
	if len(events) != len(want) {
		t.Fatalf("unexpected history %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

// TestProcessIntakeRunsAutomations verifies assigned automation execution.
// Params: t standard test handle.
// Returns: fails the test when automations are missing or fatal.
func TestProcessIntakeRunsAutomations(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	proc, _ := newTestProcessor(t, now)
	result, err := proc.ProcessIntake(context.Background(), domain.IntakeRecord{
		Name:     "Database Connection Failures",
		Severity: domain.SeverityP1,
		System:   "payments",
	})
	if err != nil {
		t.Fatalf("ProcessIntake: %v", err)
	}
	if result.Automations == nil || len(result.Automations.Success) != 1 {
		t.Fatalf("expected one automation success, got %+v", result.Automations)
	}
	incidentID := result.Alert.Properties["incident_id"]
	if incidentID == "" || incidentID[:4] != "INC-" {
		t.Fatalf("incident id must be assigned, got %q", incidentID)
	}
}

// TestExecuteAutomationsUnknownName verifies unknown automations fail
// without aborting the rest.
// Params: t standard test handle.
// Returns: fails the test when the unknown name is fatal.
func TestExecuteAutomationsUnknownName(t *testing.T) {
	t.Parallel()

	proc, _ := newTestProcessor(t, time.Now())
	alert := domain.Alert{ID: "alert/x/y/abc"}
	report := proc.ExecuteAutomations([]string{"summon_wizard", AutomationAssignTicketID}, &alert)
	if len(report.Failure) != 1 || report.Failure[0].Automation != "summon_wizard" {
		t.Fatalf("unknown automation must be reported: %+v", report.Failure)
	}
	if len(report.Success) != 1 || alert.Properties["ticket_id"] == "" {
		t.Fatalf("remaining automations must still run: %+v", report)
	}
}

// TestCheckAndEscalateScenario verifies the missed-acknowledgment path.
// Params: t standard test handle.
// Returns: fails the test when advancement or stamps are wrong.
func TestCheckAndEscalateScenario(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := created.Add(20 * time.Minute)
	proc, notifier := newTestProcessor(t, now)

	initialAt := created
	alert := domain.Alert{
		ID:                     "alert/payments/db/1",
		Name:                   "Database Connection Failures",
		System:                 "payments",
		Severity:               domain.SeverityP1,
		Status:                 domain.StatusProcessed,
		CreatedAt:              created,
		CurrentEscalationLevel: domain.LevelInitialResponse,
		InitialResponseAt:      &initialAt,
	}

	result := proc.CheckAndEscalate(context.Background(), alert)
	if result.Action != domain.ActionEscalated || result.Level != domain.LevelFirst {
		t.Fatalf("expected escalation to first_level, got %+v", result)
	}
	if result.Alert.FirstLevelAt == nil || !result.Alert.FirstLevelAt.Equal(now) {
		t.Fatalf("first_level_at must be stamped at check time")
	}
	last := result.Alert.History[len(result.Alert.History)-1]
	if last.Event != "escalated_to_first_level" {
		t.Fatalf("history event wrong: %q", last.Event)
	}
	if last.Condition != string(config.ConditionNoAcknowledgment) || last.Minutes != 15 {
		t.Fatalf("history must carry the trigger condition: %+v", last)
	}
	if len(result.Alert.EscalationTargets) != 1 || result.Alert.EscalationTargets[0].Role != "team_lead" {
		t.Fatalf("targets must be recomputed for the new level: %+v", result.Alert.EscalationTargets)
	}
	if len(notifier.escalations) != 1 || notifier.escalations[0] != domain.LevelFirst {
		t.Fatalf("escalation notification missing: %+v", notifier.escalations)
	}
}

// TestCheckAndEscalateSkipsWithinBudget verifies the no-op path.
// Params: t standard test handle.
// Returns: fails the test when a within-budget alert escalates.
func TestCheckAndEscalateSkipsWithinBudget(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	proc, _ := newTestProcessor(t, created.Add(10*time.Minute))

	alert := domain.Alert{
		ID:                     "a1",
		Name:                   "Database Connection Failures",
		Severity:               domain.SeverityP1,
		Status:                 domain.StatusProcessed,
		CreatedAt:              created,
		CurrentEscalationLevel: domain.LevelInitialResponse,
	}
	result := proc.CheckAndEscalate(context.Background(), alert)
	if result.Action != domain.ActionSkipped || result.Reason != domain.SkipReasonNotNeeded {
		t.Fatalf("expected skipped/escalation_not_needed, got %+v", result)
	}
	if len(result.Alert.History) != 0 {
		t.Fatalf("skipped checks must never mutate history")
	}
}

// TestCheckAndEscalateResolvedIsIdempotent verifies terminal idempotence.
// Params: t standard test handle.
// Returns: fails the test when a closed alert mutates on check.
func TestCheckAndEscalateResolvedIsIdempotent(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	resolved := created.Add(5 * time.Minute)
	proc, _ := newTestProcessor(t, created.Add(3*time.Hour))

	alert := domain.Alert{
		ID:         "a1",
		Name:       "Database Connection Failures",
		Severity:   domain.SeverityP1,
		Status:     domain.StatusResolved,
		CreatedAt:  created,
		ResolvedAt: &resolved,
		History:    []domain.HistoryEntry{{Event: domain.EventAlertReceived, Timestamp: created}},
	}
	for i := 0; i < 3; i++ {
		result := proc.CheckAndEscalate(context.Background(), alert)
		if result.Action != domain.ActionSkipped || result.Reason != domain.SkipReasonResolved {
			t.Fatalf("expected skipped/alert_resolved, got %+v", result)
		}
		if len(result.Alert.History) != 1 {
			t.Fatalf("closed alert history must never grow")
		}
		alert = result.Alert
	}
}

// TestReprocessKeepsEscalationState verifies repeat-intake level retention.
// Params: t standard test handle.
// Returns: fails the test when a repeat intake regresses the level or
// rewrites a stamped level timestamp.
func TestReprocessKeepsEscalationState(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	initialAt := created
	firstAt := created.Add(15 * time.Minute)
	now := created.Add(25 * time.Minute)
	proc, notifier := newTestProcessor(t, now)

	prior := domain.Alert{
		ID:                     "alert/payments/db/1",
		Name:                   "Database Connection Failures",
		System:                 "payments",
		Severity:               domain.SeverityP1,
		Status:                 domain.StatusProcessed,
		CreatedAt:              created,
		InitialResponseAt:      &initialAt,
		FirstLevelAt:           &firstAt,
		CurrentEscalationLevel: domain.LevelFirst,
		EscalationTargets:      []domain.Target{{Role: "team_lead"}},
		History: []domain.HistoryEntry{
			{Timestamp: initialAt, Event: domain.EventAlertReceived},
			{Timestamp: firstAt, Event: domain.EscalatedEvent(domain.LevelFirst)},
		},
	}
	record := domain.IntakeRecord{
		ID:       prior.ID,
		Name:     prior.Name,
		System:   prior.System,
		Severity: domain.SeverityP1,
	}

	result, err := proc.Reprocess(context.Background(), record, prior)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	alert := result.Alert
	if result.Action != domain.ActionProcessed {
		t.Fatalf("expected processed action, got %q", result.Action)
	}
	if alert.CurrentEscalationLevel != domain.LevelFirst {
		t.Fatalf("level must never regress, got %q", alert.CurrentEscalationLevel)
	}
	if alert.FirstLevelAt == nil || !alert.FirstLevelAt.Equal(firstAt) {
		t.Fatalf("first_level_at must survive reprocessing, got %v", alert.FirstLevelAt)
	}
	if alert.InitialResponseAt == nil || !alert.InitialResponseAt.Equal(initialAt) {
		t.Fatalf("initial_response_at must survive reprocessing, got %v", alert.InitialResponseAt)
	}
	if !alert.CreatedAt.Equal(created) {
		t.Fatalf("created_at must survive reprocessing, got %v", alert.CreatedAt)
	}
	if len(notifier.alerts) != 0 {
		t.Fatalf("repeat intake for an escalating alert must not re-notify")
	}
	last := alert.History[len(alert.History)-1]
	if len(alert.History) != 3 || last.Event != domain.EventAlertReceived {
		t.Fatalf("repeat intake must append one received event: %+v", alert.History)
	}

	// A closed prior alert starts a fresh lifecycle under the same id.
	resolved := created.Add(30 * time.Minute)
	prior.Status = domain.StatusResolved
	prior.ResolvedAt = &resolved
	result, err = proc.Reprocess(context.Background(), record, prior)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if result.Alert.CurrentEscalationLevel != domain.LevelInitialResponse {
		t.Fatalf("reopened alert must restart at initial_response, got %q", result.Alert.CurrentEscalationLevel)
	}
	if result.Alert.InitialResponseAt == nil || !result.Alert.InitialResponseAt.Equal(now) {
		t.Fatalf("reopened alert must stamp a fresh initial_response_at")
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("reopened alert must notify again")
	}
}

// TestCheckAndEscalateSkipsSuppressed verifies suppression precedence
// on the recurring check.
// Params: t standard test handle.
// Returns: fails the test when a suppressed alert escalates or notifies.
func TestCheckAndEscalateSkipsSuppressed(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	policy := testPolicy()
	path := policy.EscalationPaths["P1"]
	level := path["initial_response"]
	level.Conditions = []config.EscalateCondition{{Kind: config.ConditionNoAcknowledgment, Minutes: 15}}
	path["initial_response"] = level

	notifier := &fakeNotifier{}
	proc := New(FixedPolicy{Policy: policy}, notifier, clock.Fixed{At: created.Add(20 * time.Minute)}, nil)

	alert := domain.Alert{
		ID:        "alert/unknown/backup/1",
		Name:      "Scheduled Backup Slow",
		System:    "unknown",
		Severity:  domain.SeverityP1,
		Status:    domain.StatusSuppressed,
		CreatedAt: created,
	}
	for i := 0; i < 3; i++ {
		result := proc.CheckAndEscalate(context.Background(), alert)
		if result.Action != domain.ActionSkipped || result.Reason != domain.SkipReasonSuppressed {
			t.Fatalf("expected skipped/alert_suppressed, got %+v", result)
		}
		if result.Alert.CurrentEscalationLevel != "" || len(result.Alert.History) != 0 {
			t.Fatalf("suppressed alert must never advance or grow history")
		}
		alert = result.Alert
	}
	if len(notifier.escalations) != 0 {
		t.Fatalf("suppressed alert must send zero notifications")
	}
}

// TestLevelMonotonicity verifies forward-only advancement to terminal.
// Params: t standard test handle.
// Returns: fails the test when levels skip, regress, or pass terminal.
func TestLevelMonotonicity(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	initialAt := created
	alert := domain.Alert{
		ID:                     "a1",
		Name:                   "Database Connection Failures",
		Severity:               domain.SeverityP1,
		Status:                 domain.StatusProcessed,
		CreatedAt:              created,
		CurrentEscalationLevel: domain.LevelInitialResponse,
		InitialResponseAt:      &initialAt,
	}

	var seen []domain.Level
	at := created
	for i := 0; i < 6; i++ {
		at = at.Add(2 * time.Hour)
		proc, _ := newTestProcessor(t, at)
		result := proc.CheckAndEscalate(context.Background(), alert)
		if result.Action == domain.ActionEscalated {
			seen = append(seen, result.Level)
		}
		alert = result.Alert
	}

	want := []domain.Level{domain.LevelFirst, domain.LevelSecond, domain.LevelManagement}
	if len(seen) != len(want) {
		t.Fatalf("level sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("level sequence %v, want %v", seen, want)
		}
	}
	if alert.CurrentEscalationLevel != domain.LevelManagement {
		t.Fatalf("terminal level must hold, got %q", alert.CurrentEscalationLevel)
	}

	proc, _ := newTestProcessor(t, at.Add(24*time.Hour))
	result := proc.CheckAndEscalate(context.Background(), alert)
	if result.Action != domain.ActionSkipped {
		t.Fatalf("terminal alert must skip, got %+v", result)
	}
}

// TestUpdateAlertStampsOnce verifies patch merge and one-shot stamps.
// Params: t standard test handle.
// Returns: fails the test when stamps repeat or history is missing.
func TestUpdateAlertStampsOnce(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	firstUpdate := created.Add(10 * time.Minute)
	proc, _ := newTestProcessor(t, firstUpdate)

	alert := domain.Alert{
		ID:        "a1",
		Name:      "Database Connection Failures",
		Severity:  domain.SeverityP1,
		Status:    domain.StatusProcessed,
		CreatedAt: created,
	}
	ack := domain.StatusAcknowledged
	description := "on it"
	updated, err := proc.UpdateAlert(alert, domain.AlertPatch{Status: &ack, Description: &description})
	if err != nil {
		t.Fatalf("UpdateAlert: %v", err)
	}
	if updated.Status != domain.StatusAcknowledged || updated.Description != "on it" {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.AcknowledgedAt == nil || !updated.AcknowledgedAt.Equal(firstUpdate) {
		t.Fatalf("acknowledged_at must be stamped")
	}
	if updated.LastUpdatedAt == nil || !updated.LastUpdatedAt.Equal(firstUpdate) {
		t.Fatalf("last_updated_at must be stamped")
	}
	last := updated.History[len(updated.History)-1]
	if last.Event != domain.EventAlertUpdated || len(last.Updates) != 2 {
		t.Fatalf("update history entry wrong: %+v", last)
	}

	laterProc, _ := newTestProcessor(t, firstUpdate.Add(30*time.Minute))
	again, err := laterProc.UpdateAlert(updated, domain.AlertPatch{Status: &ack})
	if err != nil {
		t.Fatalf("UpdateAlert: %v", err)
	}
	if !again.AcknowledgedAt.Equal(firstUpdate) {
		t.Fatalf("acknowledged_at must stamp exactly once")
	}

	bogus := domain.Status("weird")
	if _, err := proc.UpdateAlert(updated, domain.AlertPatch{Status: &bogus}); err == nil {
		t.Fatalf("invalid status must be rejected")
	}
}

// TestBuildAlertIDDeterministic verifies id stability and sanitization.
// Params: t standard test handle.
// Returns: fails the test when ids vary for identical inputs.
func TestBuildAlertIDDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := domain.IntakeRecord{Name: "High CPU usage!", System: "Payments API"}
	first := BuildAlertID(record, at)
	second := BuildAlertID(record, at)
	if first != second {
		t.Fatalf("ids must be deterministic: %q vs %q", first, second)
	}
	if first[:len("alert/payments_api/high_cpu_usage_/")] != "alert/payments_api/high_cpu_usage_/" {
		t.Fatalf("unexpected id namespace: %q", first)
	}
	if other := BuildAlertID(record, at.Add(time.Second)); other == first {
		t.Fatalf("ids must differ across timestamps")
	}
}
