// Package processor drives the alert lifecycle state machine. It is the
// only component that mutates an Alert: intake normalization, suppression,
// bounded auto-recovery, escalation advancement, and external updates all
// pass through here. The caller serializes operations per alert id.
package processor

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"escalation/internal/clock"
	"escalation/internal/config"
	"escalation/internal/domain"
	"escalation/internal/escalate"
)

// PolicyProvider exposes the current policy snapshot.
// Params: implementations swap snapshots atomically on reload.
// Returns: read-only policy for one lifecycle operation.
type PolicyProvider interface {
	Snapshot() config.Policy
}

// FixedPolicy is a PolicyProvider over one immutable snapshot.
// Params: policy value captured at construction.
// Returns: static provider for tests and single-load setups.
type FixedPolicy struct {
	Policy config.Policy
}

// Snapshot returns the fixed policy.
// Params: none.
// Returns: captured policy value.
func (f FixedPolicy) Snapshot() config.Policy {
	return f.Policy
}

// Notifier delivers rendered notifications for lifecycle transitions.
// Params: context, policy snapshot, and transition-specific payload.
// Returns: per-channel report; failures are data, not errors.
type Notifier interface {
	SendAlert(ctx context.Context, policy config.Policy, alert domain.Alert, targets []domain.Target) domain.NotificationReport
	SendEscalation(ctx context.Context, policy config.Policy, alert domain.Alert, targets []domain.Target, level domain.Level, condition config.EscalateCondition) domain.NotificationReport
	SendRecoveryProgress(ctx context.Context, policy config.Policy, alert domain.Alert, action string, attempt, maxAttempts int) domain.NotificationReport
}

// RecoveryRunner executes one auto-recovery action externally.
// Params: context, action name, and alert snapshot.
// Returns: error when remediation is known to have failed.
type RecoveryRunner interface {
	Run(ctx context.Context, action string, alert domain.Alert) error
}

// Processor owns alert lifecycle transitions.
// Params: policy provider, notifier, clock, and optional recovery runner.
// Returns: orchestrator shared by intake, scheduler, and update paths.
type Processor struct {
	policies PolicyProvider
	notifier Notifier
	recovery RecoveryRunner
	clock    clock.Clock
	logger   *slog.Logger
}

// Option customizes processor construction.
type Option func(*Processor)

// WithRecoveryRunner installs an external remediation executor.
// Params: runner implementation.
// Returns: construction option; without it every attempt succeeds.
func WithRecoveryRunner(runner RecoveryRunner) Option {
	return func(p *Processor) {
		p.recovery = runner
	}
}

// New builds the alert processor.
// Params: policy provider, notifier, clock, logger, and options.
// Returns: ready processor.
func New(policies PolicyProvider, notifier Notifier, clk clock.Clock, logger *slog.Logger, options ...Option) *Processor {
	p := &Processor{
		policies: policies,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// ProcessIntake runs one normalized alert through the intake pipeline.
// Params: context and validated intake record.
// Returns: processing result carrying the final alert state, or the
// record validation error.
func (p *Processor) ProcessIntake(ctx context.Context, record domain.IntakeRecord) (domain.ProcessingResult, error) {
	if err := record.Validate(); err != nil {
		return domain.ProcessingResult{}, err
	}
	policy := p.policies.Snapshot()
	alert := p.normalize(record)

	if rule, matched := suppressionMatch(policy.Suppression, alert); matched {
		alert.Status = domain.StatusSuppressed
		if p.logger != nil {
			p.logger.Info("alert suppressed",
				"alert_id", alert.ID, "name", alert.Name, "rule", rule)
		}
		return domain.ProcessingResult{Action: domain.ActionSuppressed, Alert: alert}, nil
	}

	if result, recovered := p.attemptRecovery(ctx, policy, &alert); recovered {
		return result, nil
	}

	return p.startEscalation(ctx, policy, alert), nil
}

// Reprocess runs intake for an alert pattern seen before, carrying the
// stored alert's identity, attempt counters, and history forward. While
// the prior alert is still open its escalation state survives: the level
// and level timestamps never regress, and a repeat intake for an alert
// already in escalation only refreshes the telemetry fields. A closed
// prior alert starts a fresh lifecycle under the same identity.
// Params: context, validated intake record, and previously stored alert.
// Returns: processing result or the record validation error.
func (p *Processor) Reprocess(ctx context.Context, record domain.IntakeRecord, prior domain.Alert) (domain.ProcessingResult, error) {
	if err := record.Validate(); err != nil {
		return domain.ProcessingResult{}, err
	}
	policy := p.policies.Snapshot()
	alert := p.normalize(record)
	alert.ID = prior.ID
	if !prior.CreatedAt.IsZero() {
		alert.CreatedAt = prior.CreatedAt
	}
	if len(prior.AutoRecoveryAttempts) > 0 {
		alert.AutoRecoveryAttempts = make(map[string]int, len(prior.AutoRecoveryAttempts))
		for key, value := range prior.AutoRecoveryAttempts {
			alert.AutoRecoveryAttempts[key] = value
		}
	}
	alert.History = append([]domain.HistoryEntry(nil), prior.History...)

	if !prior.IsClosed() {
		for _, level := range domain.LevelOrder() {
			if stamp := prior.LevelTimestamp(level); stamp != nil {
				alert.SetLevelTimestamp(level, *stamp)
			}
		}
		if prior.AcknowledgedAt != nil {
			acked := *prior.AcknowledgedAt
			alert.AcknowledgedAt = &acked
		}
		alert.CurrentEscalationLevel = prior.CurrentEscalationLevel

		if alert.CurrentEscalationLevel != "" {
			alert.Status = prior.Status
			if len(prior.EscalationTargets) > 0 {
				alert.EscalationTargets = append([]domain.Target(nil), prior.EscalationTargets...)
			}
			alert.AppendHistory(domain.HistoryEntry{
				Timestamp: p.clock.Now(),
				Event:     domain.EventAlertReceived,
			})
			if p.logger != nil {
				p.logger.Info("repeat intake for escalating alert",
					"alert_id", alert.ID, "level", alert.CurrentEscalationLevel)
			}
			return domain.ProcessingResult{Action: domain.ActionProcessed, Alert: alert}, nil
		}
	}

	if rule, matched := suppressionMatch(policy.Suppression, alert); matched {
		alert.Status = domain.StatusSuppressed
		if p.logger != nil {
			p.logger.Info("alert suppressed",
				"alert_id", alert.ID, "name", alert.Name, "rule", rule)
		}
		return domain.ProcessingResult{Action: domain.ActionSuppressed, Alert: alert}, nil
	}
	if result, recovered := p.attemptRecovery(ctx, policy, &alert); recovered {
		return result, nil
	}
	return p.startEscalation(ctx, policy, alert), nil
}

// normalize fills intake defaults without overwriting present fields.
// Params: validated intake record.
// Returns: alert in status new with identity and created_at assigned.
func (p *Processor) normalize(record domain.IntakeRecord) domain.Alert {
	createdAt := p.clock.Now()
	if record.Timestamp != nil && !record.Timestamp.IsZero() {
		createdAt = record.Timestamp.UTC()
	}

	severity := domain.Severity(strings.ToUpper(strings.TrimSpace(string(record.Severity))))
	if !severity.IsValid() {
		severity = domain.SeverityP3
	}
	system := strings.TrimSpace(record.System)
	if system == "" {
		system = "unknown"
	}
	name := strings.TrimSpace(record.Name)
	if name == "" {
		name = strings.TrimSpace(record.ID)
	}
	status := record.Status
	if status == "" {
		status = domain.StatusNew
	}

	alert := domain.Alert{
		ID:           strings.TrimSpace(record.ID),
		Name:         name,
		System:       system,
		Severity:     severity,
		Status:       status,
		Description:  record.Description,
		Value:        record.Value,
		Unit:         record.Unit,
		Threshold:    record.Threshold,
		Impact:       record.Impact,
		DashboardURL: record.DashboardURL,
		RunbookURL:   record.RunbookURL,
		CreatedAt:    createdAt,
	}
	if len(record.Properties) > 0 {
		alert.Properties = make(map[string]string, len(record.Properties))
		for key, value := range record.Properties {
			alert.Properties[key] = value
		}
	}
	if alert.ID == "" {
		alert.ID = BuildAlertID(record, createdAt)
	}
	return alert
}

// attemptRecovery tries one bounded remediation before human escalation.
// Params: context, policy snapshot, and mutable alert.
// Returns: terminal result and true when the alert auto-recovered;
// false when no action matched or the attempt failed.
func (p *Processor) attemptRecovery(ctx context.Context, policy config.Policy, alert *domain.Alert) (domain.ProcessingResult, bool) {
	if !policy.AutoRecovery.Enabled {
		return domain.ProcessingResult{}, false
	}

	actionName, maxAttempts, eligible := p.eligibleRecoveryAction(policy.AutoRecovery, *alert)
	if !eligible {
		return domain.ProcessingResult{}, false
	}

	if alert.AutoRecoveryAttempts == nil {
		alert.AutoRecoveryAttempts = make(map[string]int, 1)
	}
	alert.AutoRecoveryAttempts[actionName]++
	attempt := alert.AutoRecoveryAttempts[actionName]

	now := p.clock.Now()
	alert.AppendHistory(domain.HistoryEntry{
		Timestamp:   now,
		Event:       domain.EventAutoRecoveryAttempted,
		Action:      actionName,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	})

	// Best-effort progress ping; delivery failure never blocks recovery.
	report := p.notifier.SendRecoveryProgress(ctx, policy, *alert, actionName, attempt, maxAttempts)

	var runErr error
	if p.recovery != nil {
		runErr = p.recovery.Run(ctx, actionName, *alert)
	}
	if runErr != nil {
		alert.AppendHistory(domain.HistoryEntry{
			Timestamp: p.clock.Now(),
			Event:     domain.EventAutoRecoveryFailed,
			Action:    actionName,
			Attempt:   attempt,
		})
		if p.logger != nil {
			p.logger.Warn("auto-recovery attempt failed",
				"alert_id", alert.ID, "action", actionName, "attempt", attempt, "error", runErr.Error())
		}
		return domain.ProcessingResult{}, false
	}

	resolvedAt := p.clock.Now()
	alert.AppendHistory(domain.HistoryEntry{
		Timestamp: resolvedAt,
		Event:     domain.EventAutoRecoverySucceeded,
		Action:    actionName,
		Attempt:   attempt,
	})
	alert.Status = domain.StatusAutoRecovered
	alert.ResolvedAt = &resolvedAt
	if p.logger != nil {
		p.logger.Info("alert auto-recovered",
			"alert_id", alert.ID, "action", actionName, "attempt", attempt)
	}
	return domain.ProcessingResult{
		Action:        domain.ActionAutoRecovered,
		Alert:         *alert,
		Recovery:      actionName,
		Notifications: &report,
	}, true
}

// eligibleRecoveryAction finds the first action the alert still qualifies for.
// Params: auto-recovery policy and alert snapshot.
// Returns: action name, attempt ceiling, and eligibility flag.
func (p *Processor) eligibleRecoveryAction(cfg config.AutoRecoveryConfig, alert domain.Alert) (string, int, bool) {
	names := make([]string, 0, len(cfg.Actions))
	for name := range cfg.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		action := cfg.Actions[name]
		for _, condition := range action.Conditions {
			if !strings.Contains(alert.Name, condition.Alert) {
				continue
			}
			if !severityListed(condition.Severity, alert.Severity) {
				continue
			}
			if alert.AutoRecoveryAttempts[name] >= condition.AttemptCountMax {
				continue
			}
			return name, condition.AttemptCountMax, true
		}
	}
	return "", 0, false
}

// severityListed reports whether severity belongs to the condition set.
// Params: configured severity list and alert severity.
// Returns: true for a member or when the list is empty (match any).
func severityListed(listed []string, severity domain.Severity) bool {
	if len(listed) == 0 {
		return true
	}
	for _, candidate := range listed {
		if strings.EqualFold(candidate, string(severity)) {
			return true
		}
	}
	return false
}

// startEscalation places one alert at the initial response level.
// Params: context, policy snapshot, and normalized alert.
// Returns: processed result with notification and automation reports.
func (p *Processor) startEscalation(ctx context.Context, policy config.Policy, alert domain.Alert) domain.ProcessingResult {
	now := p.clock.Now()
	alert.CurrentEscalationLevel = domain.LevelInitialResponse
	alert.SetLevelTimestamp(domain.LevelInitialResponse, now)
	alert.Status = domain.StatusProcessed

	path, ok := escalate.ResolvePath(policy, alert.Severity, alert.System)
	if !ok {
		if p.logger != nil {
			p.logger.Warn("no escalation path configured",
				"alert_id", alert.ID, "severity", alert.Severity)
		}
		alert.AppendHistory(domain.HistoryEntry{Timestamp: now, Event: domain.EventAlertReceived})
		return domain.ProcessingResult{Action: domain.ActionProcessed, Alert: alert}
	}

	level, _ := path.Level(domain.LevelInitialResponse)
	targets := escalate.ResolveTargets(policy, level.Roles, alert.System)
	alert.EscalationTargets = targets

	alert.AppendHistory(domain.HistoryEntry{
		Timestamp:   now,
		Event:       domain.EventAlertReceived,
		Targets:     targetRoles(targets),
		Actions:     escalate.ResolveActions(level),
		Automations: level.Automations,
	})

	report := p.notifier.SendAlert(ctx, policy, alert, targets)
	automations := p.ExecuteAutomations(level.Automations, &alert)

	return domain.ProcessingResult{
		Action:        domain.ActionProcessed,
		Alert:         alert,
		Notifications: &report,
		Automations:   &automations,
	}
}

// CheckAndEscalate re-evaluates one open alert for level advancement.
// Params: context and current alert snapshot.
// Returns: escalation result; skipped results never mutate the alert.
func (p *Processor) CheckAndEscalate(ctx context.Context, alert domain.Alert) domain.EscalationResult {
	if alert.IsClosed() {
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonResolved,
			Alert:  alert,
		}
	}
	if alert.Status == domain.StatusSuppressed {
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonSuppressed,
			Alert:  alert,
		}
	}

	policy := p.policies.Snapshot()
	next, ok := escalate.NextLevel(alert.CurrentEscalationLevel)
	if !ok {
		if alert.CurrentEscalationLevel != domain.LevelManagement && p.logger != nil {
			p.logger.Warn("unrecognized escalation level",
				"alert_id", alert.ID, "level", alert.CurrentEscalationLevel)
		}
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonNotNeeded,
			Alert:  alert,
		}
	}

	path, ok := escalate.ResolvePath(policy, alert.Severity, alert.System)
	if !ok {
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonNotNeeded,
			Alert:  alert,
		}
	}
	nextPolicy, ok := path.Level(next)
	if !ok {
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonNotNeeded,
			Alert:  alert,
		}
	}

	condition, ok := escalate.ShouldEscalate(alert, nextPolicy, p.clock.Now())
	if !ok {
		return domain.EscalationResult{
			Action: domain.ActionSkipped,
			Reason: domain.SkipReasonNotNeeded,
			Alert:  alert,
		}
	}

	now := p.clock.Now()
	alert.CurrentEscalationLevel = next
	alert.SetLevelTimestamp(next, now)
	targets := escalate.ResolveTargets(policy, nextPolicy.Roles, alert.System)
	alert.EscalationTargets = targets

	alert.AppendHistory(domain.HistoryEntry{
		Timestamp: now,
		Event:     domain.EscalatedEvent(next),
		Targets:   targetRoles(targets),
		Actions:   escalate.ResolveActions(nextPolicy),
		Condition: string(condition.Kind),
		Minutes:   condition.Minutes,
	})
	if p.logger != nil {
		p.logger.Info("alert escalated",
			"alert_id", alert.ID, "level", next, "condition", condition.Kind, "minutes", condition.Minutes)
	}

	report := p.notifier.SendEscalation(ctx, policy, alert, targets, next, condition)
	return domain.EscalationResult{
		Action:        domain.ActionEscalated,
		Level:         next,
		Alert:         alert,
		Notifications: &report,
	}
}

// UpdateAlert merges one external patch onto a retrieved alert.
// Params: current alert snapshot and validated patch.
// Returns: updated alert or the patch validation error.
func (p *Processor) UpdateAlert(alert domain.Alert, patch domain.AlertPatch) (domain.Alert, error) {
	if err := patch.Validate(); err != nil {
		return alert, err
	}
	if patch.IsEmpty() {
		return alert, nil
	}

	now := p.clock.Now()
	if patch.Severity != nil {
		alert.Severity = *patch.Severity
	}
	if patch.Description != nil {
		alert.Description = *patch.Description
	}
	if patch.Value != nil {
		alert.Value = *patch.Value
	}
	if patch.Unit != nil {
		alert.Unit = *patch.Unit
	}
	if patch.Threshold != nil {
		alert.Threshold = *patch.Threshold
	}
	if patch.Impact != nil {
		alert.Impact = *patch.Impact
	}
	if patch.DashboardURL != nil {
		alert.DashboardURL = *patch.DashboardURL
	}
	if patch.RunbookURL != nil {
		alert.RunbookURL = *patch.RunbookURL
	}
	for key, value := range patch.Properties {
		setAlertProperty(&alert, key, value)
	}
	if patch.Status != nil {
		alert.Status = *patch.Status
		switch *patch.Status {
		case domain.StatusAcknowledged:
			if alert.AcknowledgedAt == nil {
				stamp := now
				alert.AcknowledgedAt = &stamp
			}
		case domain.StatusResolved:
			if alert.ResolvedAt == nil {
				stamp := now
				alert.ResolvedAt = &stamp
			}
		}
	}

	stamp := now
	alert.LastUpdatedAt = &stamp
	alert.AppendHistory(domain.HistoryEntry{
		Timestamp: now,
		Event:     domain.EventAlertUpdated,
		Updates:   patch.FieldNames(),
	})
	return alert, nil
}

// targetRoles extracts role names from resolved targets.
// Params: resolved target list.
// Returns: role name list for history entries.
func targetRoles(targets []domain.Target) []string {
	if len(targets) == 0 {
		return nil
	}
	roles := make([]string, len(targets))
	for i, target := range targets {
		roles[i] = target.Role
	}
	return roles
}
