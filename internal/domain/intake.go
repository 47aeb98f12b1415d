package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// IntakeRecord is the canonical normalized alert produced by source adapters.
// Params: optional identity/measurement fields from provider payloads.
// Returns: intake contract consumed by the processor.
type IntakeRecord struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name,omitempty"`
	Severity     Severity          `json:"severity,omitempty"`
	System       string            `json:"system,omitempty"`
	Status       Status            `json:"status,omitempty"`
	Description  string            `json:"description,omitempty"`
	Value        string            `json:"value,omitempty"`
	Unit         string            `json:"unit,omitempty"`
	Threshold    string            `json:"threshold,omitempty"`
	Impact       string            `json:"impact,omitempty"`
	Timestamp    *time.Time        `json:"timestamp,omitempty"`
	DashboardURL string            `json:"dashboard_url,omitempty"`
	RunbookURL   string            `json:"runbook_url,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// DecodeIntakeRecord decodes and validates one intake payload.
// Params: JSON document bytes.
// Returns: validated record or decode/validation error.
func DecodeIntakeRecord(raw []byte) (IntakeRecord, error) {
	var record IntakeRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return IntakeRecord{}, fmt.Errorf("decode intake record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return IntakeRecord{}, err
	}
	return record, nil
}

// Validate validates the intake record contract.
// Params: record fields parsed from transport.
// Returns: validation error when the contract is violated.
func (r IntakeRecord) Validate() error {
	if strings.TrimSpace(r.Name) == "" && strings.TrimSpace(r.ID) == "" {
		return errors.New("name or id is required")
	}
	if r.Severity != "" && !r.Severity.IsValid() {
		return fmt.Errorf("unsupported severity %q", r.Severity)
	}
	return nil
}

// ProcessingAction names one terminal intake processing outcome.
// Params: constants for processed/suppressed/auto_recovered.
// Returns: result discriminator for intake callers.
type ProcessingAction string

const (
	// ActionProcessed indicates normal processing with notifications sent.
	ActionProcessed ProcessingAction = "processed"
	// ActionSuppressed indicates suppression-rule match with no notifications.
	ActionSuppressed ProcessingAction = "suppressed"
	// ActionAutoRecovered indicates successful bounded remediation.
	ActionAutoRecovered ProcessingAction = "auto_recovered"
	// ActionEscalated indicates one completed level advancement.
	ActionEscalated ProcessingAction = "escalated"
	// ActionSkipped indicates an idempotent escalation no-op.
	ActionSkipped ProcessingAction = "skipped"
	// ActionUpdated indicates an external patch applied.
	ActionUpdated ProcessingAction = "updated"
)

// Escalation skip reasons surfaced to operators.
const (
	// SkipReasonResolved marks checks against closed alerts.
	SkipReasonResolved = "alert_resolved"
	// SkipReasonNotNeeded marks checks where no condition is satisfied.
	SkipReasonNotNeeded = "escalation_not_needed"
	// SkipReasonSuppressed marks checks against suppressed alerts.
	SkipReasonSuppressed = "alert_suppressed"
)

// AutomationResult records one automation execution outcome.
// Params: automation name, generated identifiers, error, and timestamp.
// Returns: per-automation audit entry.
type AutomationResult struct {
	Automation string            `json:"automation"`
	Result     map[string]string `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// AutomationReport aggregates automation outcomes for one intake.
// Params: success and failure result lists.
// Returns: non-fatal automation summary.
type AutomationReport struct {
	Success []AutomationResult `json:"success"`
	Failure []AutomationResult `json:"failure"`
}

// ChannelResult records one channel delivery outcome.
// Params: channel key, planned target roles, error string, and timestamp.
// Returns: per-channel delivery audit entry.
type ChannelResult struct {
	Channel string `json:"channel"`
	// Targets holds the roles the channel message was addressed to.
	// Channel transports accept or reject one message for all roles at
	// once, so a success entry means the transport accepted the message
	// for every listed role, not a per-role receipt.
	Targets   []string  `json:"targets,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationReport aggregates per-channel delivery outcomes.
// Params: independent success and failure channel lists.
// Returns: fan-out summary with partial-failure visibility.
type NotificationReport struct {
	Success []ChannelResult `json:"success"`
	Failure []ChannelResult `json:"failure"`
}

// ProcessingResult is the intake boundary outcome.
// Params: action discriminator, updated alert, and side-effect reports.
// Returns: explicit result for caller persistence and auditing.
type ProcessingResult struct {
	Action        ProcessingAction    `json:"action"`
	Alert         Alert               `json:"alert"`
	Recovery      string              `json:"recovery,omitempty"`
	Notifications *NotificationReport `json:"notifications,omitempty"`
	Automations   *AutomationReport   `json:"automations,omitempty"`
}

// EscalationResult is the recurring-check boundary outcome.
// Params: action/reason discriminators, level, alert, and notification report.
// Returns: explicit result for scheduler bookkeeping.
type EscalationResult struct {
	Action        ProcessingAction    `json:"action"`
	Reason        string              `json:"reason,omitempty"`
	Level         Level               `json:"level,omitempty"`
	Alert         Alert               `json:"alert"`
	Notifications *NotificationReport `json:"notifications,omitempty"`
}
