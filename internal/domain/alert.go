package domain

import (
	"time"
)

// Severity classifies alert priority from P1 (highest) to P4 (lowest).
// Params: priority constants P1..P4.
// Returns: severity driving escalation path selection.
type Severity string

const (
	// SeverityP1 marks highest priority.
	SeverityP1 Severity = "P1"
	// SeverityP2 marks high priority.
	SeverityP2 Severity = "P2"
	// SeverityP3 marks default priority.
	SeverityP3 Severity = "P3"
	// SeverityP4 marks lowest priority.
	SeverityP4 Severity = "P4"
)

// IsValid reports whether severity is one of the supported priorities.
// Params: none.
// Returns: true for P1..P4.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityP1, SeverityP2, SeverityP3, SeverityP4:
		return true
	default:
		return false
	}
}

// Status is runtime alert lifecycle status.
// Params: lifecycle status constants.
// Returns: status transitions for processor and storage.
type Status string

const (
	// StatusNew indicates freshly normalized alert before processing.
	StatusNew Status = "new"
	// StatusSuppressed indicates alert dropped by suppression rules.
	StatusSuppressed Status = "suppressed"
	// StatusAutoRecovered indicates alert closed by automatic remediation.
	StatusAutoRecovered Status = "auto_recovered"
	// StatusProcessed indicates alert actively escalating.
	StatusProcessed Status = "processed"
	// StatusAcknowledged indicates responder confirmed ownership.
	StatusAcknowledged Status = "acknowledged"
	// StatusResolved indicates alert was closed by an operator.
	StatusResolved Status = "resolved"
)

// Level is one ordered escalation stage.
// Params: stage constants in fixed escalation ordering.
// Returns: level identity for path resolution and timestamps.
type Level string

const (
	// LevelInitialResponse is the first responder stage.
	LevelInitialResponse Level = "initial_response"
	// LevelFirst is the first escalation stage.
	LevelFirst Level = "first_level"
	// LevelSecond is the second escalation stage.
	LevelSecond Level = "second_level"
	// LevelManagement is the terminal escalation stage.
	LevelManagement Level = "management_level"
)

// LevelOrder returns the fixed forward-only escalation ordering.
// Params: none.
// Returns: ordered level slice shared by resolver and tests.
func LevelOrder() []Level {
	return []Level{LevelInitialResponse, LevelFirst, LevelSecond, LevelManagement}
}

// Target is one resolved responder for the current escalation level.
// Params: role name, human description, and ordered notification methods.
// Returns: notification destination entry.
type Target struct {
	Role                string   `json:"role"`
	Description         string   `json:"description"`
	NotificationMethods []string `json:"notification_methods"`
}

// HistoryEntry is one append-only lifecycle event.
// Params: timestamp, event kind, and event-specific payload fields.
// Returns: audit record stored on the alert.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Event       string    `json:"event"`
	Targets     []string  `json:"targets,omitempty"`
	Actions     []string  `json:"actions,omitempty"`
	Automations []string  `json:"automations,omitempty"`
	Action      string    `json:"action,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	Condition   string    `json:"condition,omitempty"`
	Minutes     int       `json:"minutes,omitempty"`
	Updates     []string  `json:"updates,omitempty"`
}

// History event kinds recorded by the processor.
const (
	// EventAlertReceived marks initial intake processing.
	EventAlertReceived = "alert_received"
	// EventAutoRecoveryAttempted marks one bounded remediation attempt.
	EventAutoRecoveryAttempted = "auto_recovery_attempted"
	// EventAutoRecoverySucceeded marks successful remediation.
	EventAutoRecoverySucceeded = "auto_recovery_succeeded"
	// EventAutoRecoveryFailed marks failed remediation.
	EventAutoRecoveryFailed = "auto_recovery_failed"
	// EventAlertUpdated marks an external patch applied to the alert.
	EventAlertUpdated = "alert_updated"
)

// EscalatedEvent builds the history event kind for one escalation transition.
// Params: destination escalation level.
// Returns: event kind string, e.g. "escalated_to_first_level".
func EscalatedEvent(level Level) string {
	return "escalated_to_" + string(level)
}

// Alert is the central mutable lifecycle record.
// Params: identity, lifecycle timestamps, escalation state, and audit history.
// Returns: record owned by the processor for one lifecycle operation.
type Alert struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	System      string   `json:"system"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	Description string   `json:"description,omitempty"`
	Value       string   `json:"value,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Threshold   string   `json:"threshold,omitempty"`
	Impact      string   `json:"impact,omitempty"`

	DashboardURL string `json:"dashboard_url,omitempty"`
	RunbookURL   string `json:"runbook_url,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	InitialResponseAt *time.Time `json:"initial_response_at,omitempty"`
	FirstLevelAt      *time.Time `json:"first_level_at,omitempty"`
	SecondLevelAt     *time.Time `json:"second_level_at,omitempty"`
	ManagementLevelAt *time.Time `json:"management_level_at,omitempty"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	LastUpdatedAt     *time.Time `json:"last_updated_at,omitempty"`

	CurrentEscalationLevel Level          `json:"current_escalation_level,omitempty"`
	EscalationTargets      []Target       `json:"escalation_targets,omitempty"`
	AutoRecoveryAttempts   map[string]int `json:"auto_recovery_attempts,omitempty"`
	History                []HistoryEntry `json:"history,omitempty"`

	// Properties carries provider-specific extras never interpreted
	// by core lifecycle logic.
	Properties map[string]string `json:"properties,omitempty"`
}

// IsClosed reports whether the alert reached a terminal status.
// Params: none.
// Returns: true when no further escalation may occur.
func (a Alert) IsClosed() bool {
	return a.Status == StatusResolved || a.Status == StatusAutoRecovered
}

// LevelTimestamp returns the recorded timestamp pointer for one level.
// Params: escalation level key.
// Returns: timestamp pointer or nil for unknown level.
func (a Alert) LevelTimestamp(level Level) *time.Time {
	switch level {
	case LevelInitialResponse:
		return a.InitialResponseAt
	case LevelFirst:
		return a.FirstLevelAt
	case LevelSecond:
		return a.SecondLevelAt
	case LevelManagement:
		return a.ManagementLevelAt
	default:
		return nil
	}
}

// SetLevelTimestamp stamps one level timestamp exactly once.
// Params: escalation level key and stamp time.
// Returns: false when level is unknown or already stamped.
func (a *Alert) SetLevelTimestamp(level Level, at time.Time) bool {
	stamp := at
	switch level {
	case LevelInitialResponse:
		if a.InitialResponseAt != nil {
			return false
		}
		a.InitialResponseAt = &stamp
	case LevelFirst:
		if a.FirstLevelAt != nil {
			return false
		}
		a.FirstLevelAt = &stamp
	case LevelSecond:
		if a.SecondLevelAt != nil {
			return false
		}
		a.SecondLevelAt = &stamp
	case LevelManagement:
		if a.ManagementLevelAt != nil {
			return false
		}
		a.ManagementLevelAt = &stamp
	default:
		return false
	}
	return true
}

// Timestamp returns one lifecycle timestamp by history condition key.
// Params: condition key ("created_at", "acknowledged_at", level keys, …).
// Returns: timestamp pointer or nil when key is unknown or unset.
func (a Alert) Timestamp(key string) *time.Time {
	switch key {
	case "created_at":
		created := a.CreatedAt
		if created.IsZero() {
			return nil
		}
		return &created
	case "initial_response_at":
		return a.InitialResponseAt
	case "first_level_at":
		return a.FirstLevelAt
	case "second_level_at":
		return a.SecondLevelAt
	case "management_level_at":
		return a.ManagementLevelAt
	case "acknowledged_at":
		return a.AcknowledgedAt
	case "resolved_at":
		return a.ResolvedAt
	case "last_updated_at":
		return a.LastUpdatedAt
	default:
		return nil
	}
}

// AppendHistory appends one lifecycle event to the audit log.
// Params: history entry to record.
// Returns: history mutated in place, ordering preserved.
func (a *Alert) AppendHistory(entry HistoryEntry) {
	a.History = append(a.History, entry)
}

// TemplateFields flattens alert data for {{placeholder}} rendering.
// Params: none.
// Returns: string map of renderable alert fields plus properties.
func (a Alert) TemplateFields() map[string]string {
	fields := map[string]string{
		"id":          a.ID,
		"name":        a.Name,
		"alert_name":  a.Name,
		"system":      a.System,
		"severity":    string(a.Severity),
		"status":      string(a.Status),
		"description": a.Description,
		"value":       a.Value,
		"unit":        a.Unit,
		"threshold":   a.Threshold,
		"impact":      a.Impact,
	}
	if a.DashboardURL != "" {
		fields["dashboard_url"] = a.DashboardURL
	}
	if a.RunbookURL != "" {
		fields["runbook_url"] = a.RunbookURL
	}
	if !a.CreatedAt.IsZero() {
		fields["created_at"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if a.CurrentEscalationLevel != "" {
		fields["current_escalation_level"] = string(a.CurrentEscalationLevel)
	}
	for key, value := range a.Properties {
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = value
	}
	return fields
}

// Clone returns a detached copy safe to mutate independently.
// Params: none.
// Returns: deep copy of slices and maps.
func (a Alert) Clone() Alert {
	out := a
	out.InitialResponseAt = cloneTime(a.InitialResponseAt)
	out.FirstLevelAt = cloneTime(a.FirstLevelAt)
	out.SecondLevelAt = cloneTime(a.SecondLevelAt)
	out.ManagementLevelAt = cloneTime(a.ManagementLevelAt)
	out.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	out.ResolvedAt = cloneTime(a.ResolvedAt)
	out.LastUpdatedAt = cloneTime(a.LastUpdatedAt)
	if len(a.EscalationTargets) > 0 {
		out.EscalationTargets = make([]Target, len(a.EscalationTargets))
		for i, target := range a.EscalationTargets {
			copied := target
			copied.NotificationMethods = append([]string(nil), target.NotificationMethods...)
			out.EscalationTargets[i] = copied
		}
	}
	if len(a.AutoRecoveryAttempts) > 0 {
		out.AutoRecoveryAttempts = make(map[string]int, len(a.AutoRecoveryAttempts))
		for key, value := range a.AutoRecoveryAttempts {
			out.AutoRecoveryAttempts[key] = value
		}
	}
	if len(a.History) > 0 {
		out.History = append([]HistoryEntry(nil), a.History...)
	}
	if len(a.Properties) > 0 {
		out.Properties = make(map[string]string, len(a.Properties))
		for key, value := range a.Properties {
			out.Properties[key] = value
		}
	}
	return out
}

// cloneTime duplicates one optional timestamp.
// Params: source timestamp pointer.
// Returns: detached pointer copy or nil.
func cloneTime(source *time.Time) *time.Time {
	if source == nil {
		return nil
	}
	copied := *source
	return &copied
}
