package config

import (
	"fmt"
	"sort"
	"strings"

	"escalation/internal/domain"

	"gopkg.in/yaml.v3"
)

// ConditionKind identifies one time-based escalation predicate.
// Params: constants mapping to missed-follow-up SLA checks.
// Returns: condition selector used by the resolver.
type ConditionKind string

const (
	// ConditionNoAcknowledgment escalates when acknowledgment missed its budget.
	ConditionNoAcknowledgment ConditionKind = "no_acknowledgment_within"
	// ConditionNoUpdate escalates when no update arrived within budget.
	ConditionNoUpdate ConditionKind = "no_update_within"
	// ConditionNoResolution escalates when resolution missed its budget since level start.
	ConditionNoResolution ConditionKind = "no_resolution_within"
)

// IsValid reports whether the condition kind is supported.
// Params: none.
// Returns: true for known predicate kinds.
func (k ConditionKind) IsValid() bool {
	switch k {
	case ConditionNoAcknowledgment, ConditionNoUpdate, ConditionNoResolution:
		return true
	default:
		return false
	}
}

// EscalateCondition is one time predicate in a level's condition list.
// Params: predicate kind and minute budget.
// Returns: OR-evaluated escalation trigger.
type EscalateCondition struct {
	Kind    ConditionKind `toml:"kind" yaml:"kind"`
	Minutes int           `toml:"minutes" yaml:"minutes"`
}

// UnmarshalTOML decodes a condition from explicit or single-key map form.
// Params: parsed TOML value ({kind=…,minutes=…} or {no_acknowledgment_within=15}).
// Returns: conversion error for unsupported shapes.
func (c *EscalateCondition) UnmarshalTOML(v interface{}) error {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("condition must be a table, got %T", v)
	}
	return c.fromMap(raw)
}

// UnmarshalYAML decodes a condition from explicit or single-key map form.
// Params: YAML node holding one condition mapping.
// Returns: conversion error for unsupported shapes.
func (c *EscalateCondition) UnmarshalYAML(node *yaml.Node) error {
	raw := make(map[string]interface{})
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return c.fromMap(raw)
}

// fromMap converts one decoded condition map into typed fields.
// Params: raw map from TOML/YAML decoder.
// Returns: validation error when kind or minutes are malformed.
func (c *EscalateCondition) fromMap(raw map[string]interface{}) error {
	if kindValue, ok := raw["kind"]; ok {
		kind, _ := kindValue.(string)
		minutes, err := asMinutes(raw["minutes"])
		if err != nil {
			return err
		}
		c.Kind = ConditionKind(kind)
		c.Minutes = minutes
		return c.validate()
	}
	if len(raw) != 1 {
		return fmt.Errorf("condition must have exactly one predicate key, got %d", len(raw))
	}
	for key, value := range raw {
		minutes, err := asMinutes(value)
		if err != nil {
			return fmt.Errorf("condition %q: %w", key, err)
		}
		c.Kind = ConditionKind(key)
		c.Minutes = minutes
	}
	return c.validate()
}

// validate checks decoded condition fields.
// Params: none.
// Returns: error for unknown kind or non-positive budget.
func (c EscalateCondition) validate() error {
	if !c.Kind.IsValid() {
		return fmt.Errorf("unsupported condition kind %q", c.Kind)
	}
	if c.Minutes <= 0 {
		return fmt.Errorf("condition %s minutes must be >0", c.Kind)
	}
	return nil
}

// asMinutes converts a decoded numeric value into a minute count.
// Params: raw decoder value (int64/int/float64).
// Returns: minute count or conversion error.
func asMinutes(value interface{}) (int, error) {
	switch typed := value.(type) {
	case int64:
		return int(typed), nil
	case int:
		return typed, nil
	case float64:
		return int(typed), nil
	default:
		return 0, fmt.Errorf("minutes must be a number, got %T", value)
	}
}

// LevelPolicy describes one escalation level inside a path.
// Params: responder roles, manual actions, automations, and escalate conditions.
// Returns: immutable per-level policy.
type LevelPolicy struct {
	Roles       []string            `toml:"roles" yaml:"roles"`
	Actions     []string            `toml:"actions" yaml:"actions"`
	Automations []string            `toml:"automations" yaml:"automations"`
	Conditions  []EscalateCondition `toml:"conditions" yaml:"conditions"`
}

// IsZero reports whether the level policy carries no configuration.
// Params: none.
// Returns: true when every field is empty.
func (p LevelPolicy) IsZero() bool {
	return len(p.Roles) == 0 && len(p.Actions) == 0 && len(p.Automations) == 0 && len(p.Conditions) == 0
}

// EscalationPath maps level names onto level policies for one severity.
// Params: level name keys from the fixed escalation ordering.
// Returns: immutable severity path.
type EscalationPath map[string]LevelPolicy

// Level returns the policy for one escalation level.
// Params: typed level key.
// Returns: level policy and presence flag.
func (p EscalationPath) Level(level domain.Level) (LevelPolicy, bool) {
	policy, ok := p[string(level)]
	return policy, ok
}

// NotifyAdditional lists extra responder roles for one monitored system.
// Params: role name list.
// Returns: system-scoped notification additions.
type NotifyAdditional struct {
	Roles []string `toml:"roles" yaml:"roles"`
}

// SystemOverride customizes escalation behavior for one monitored system.
// Params: per-severity path overrides and additional notify roles.
// Returns: override deep-merged onto the severity base path.
type SystemOverride struct {
	EscalationPaths  map[string]EscalationPath `toml:"escalation_paths" yaml:"escalation_paths"`
	NotifyAdditional NotifyAdditional          `toml:"notify_additional" yaml:"notify_additional"`
}

// Role is one named responder category.
// Params: human description and ordered notification methods.
// Returns: immutable role entry.
type Role struct {
	Description         string   `toml:"description" yaml:"description"`
	NotificationMethods []string `toml:"notification_methods" yaml:"notification_methods"`
}

// TemplateFields maps notification field names onto template bodies.
// Params: field keys (title, body, …) with {{placeholder}} tokens.
// Returns: renderable template entry.
type TemplateFields map[string]string

// SeverityTemplates holds templates scoped to one channel+severity pair.
// Params: severity default fields and template-type specific fields.
// Returns: severity-level template lookup.
type SeverityTemplates struct {
	Default TemplateFields            `toml:"default" yaml:"default"`
	ByType  map[string]TemplateFields `toml:"by_type" yaml:"by_type"`
}

// ChannelTemplates holds all templates for one delivery channel.
// Params: channel defaults, type-specific defaults, and severity scopes.
// Returns: channel-level template lookup.
type ChannelTemplates struct {
	Default  TemplateFields               `toml:"default" yaml:"default"`
	ByType   map[string]TemplateFields    `toml:"by_type" yaml:"by_type"`
	Severity map[string]SeverityTemplates `toml:"severity" yaml:"severity"`
}

// TemplateSet is the full notification template table.
// Params: per-channel templates and alert-type overrides.
// Returns: template store resolved by the notifier.
type TemplateSet struct {
	Channels map[string]ChannelTemplates `toml:"channels" yaml:"channels"`
	// Overrides wins over every channel template when the alert carries
	// a matching alert_type property.
	Overrides map[string]TemplateFields `toml:"overrides" yaml:"overrides"`
}

// MaintenanceWindow suppresses alerts whose name contains a listed pattern.
// Params: window name and suppressed-name substring list.
// Returns: suppression rule entry.
type MaintenanceWindow struct {
	Name           string   `toml:"name" yaml:"name"`
	SuppressAlerts []string `toml:"suppress_alerts" yaml:"suppress_alerts"`
}

// DuplicateRule is an extension point for duplicate-alert suppression.
// Params: rule name, grouping window, and severity exception list.
// Returns: pass-through rule with exception severities honored.
type DuplicateRule struct {
	Name              string   `toml:"name" yaml:"name"`
	WindowMinutes     int      `toml:"window_minutes" yaml:"window_minutes"`
	ExceptionSeverity []string `toml:"exception_severity" yaml:"exception_severity"`
}

// GroupRule is an extension point for related-alert grouping.
// Params: rule name and grouping keys.
// Returns: pass-through rule without matching semantics.
type GroupRule struct {
	Name    string   `toml:"name" yaml:"name"`
	GroupBy []string `toml:"group_by" yaml:"group_by"`
}

// SuppressionRules gathers policy-driven suppression behavior.
// Params: maintenance windows plus duplicate/group extension points.
// Returns: suppression policy evaluated on intake.
type SuppressionRules struct {
	MaintenanceWindows []MaintenanceWindow `toml:"maintenance_windows" yaml:"maintenance_windows"`
	DuplicateAlerts    []DuplicateRule     `toml:"duplicate_alerts" yaml:"duplicate_alerts"`
	GroupAlerts        []GroupRule         `toml:"group_alerts" yaml:"group_alerts"`
}

// RecoveryCondition matches alerts eligible for one recovery action.
// Params: alert-name substring, severity set, and bounded attempt budget.
// Returns: auto-recovery eligibility predicate.
type RecoveryCondition struct {
	Alert           string   `toml:"alert" yaml:"alert"`
	Severity        []string `toml:"severity" yaml:"severity"`
	AttemptCountMax int      `toml:"attempt_count_max" yaml:"attempt_count_max"`
}

// RecoveryAction is one named bounded remediation.
// Params: description and eligibility conditions.
// Returns: immutable auto-recovery action entry.
type RecoveryAction struct {
	Description string              `toml:"description" yaml:"description"`
	Conditions  []RecoveryCondition `toml:"conditions" yaml:"conditions"`
}

// AutoRecoveryConfig controls automatic remediation before human escalation.
// Params: global toggle, action table, and informational notify channel.
// Returns: auto-recovery policy evaluated on intake.
type AutoRecoveryConfig struct {
	Enabled       bool                      `toml:"enabled" yaml:"enabled"`
	NotifyChannel string                    `toml:"notify_channel" yaml:"notify_channel"`
	Actions       map[string]RecoveryAction `toml:"actions" yaml:"actions"`
}

// Policy is the immutable policy store snapshot supplied to the engine.
// Params: escalation paths, overrides, roles, templates, suppression,
// auto-recovery, and global template variables.
// Returns: read-only policy consulted by resolver/processor/notifier.
type Policy struct {
	EscalationPaths map[string]EscalationPath `toml:"escalation_paths" yaml:"escalation_paths"`
	SystemOverrides map[string]SystemOverride `toml:"system_overrides" yaml:"system_overrides"`
	Roles           map[string]Role           `toml:"roles" yaml:"roles"`
	Templates       TemplateSet               `toml:"templates" yaml:"templates"`
	Suppression     SuppressionRules          `toml:"suppression_rules" yaml:"suppression_rules"`
	AutoRecovery    AutoRecoveryConfig        `toml:"auto_recovery" yaml:"auto_recovery"`
	Variables       map[string]string         `toml:"variables" yaml:"variables"`
}

// PathForSeverity returns the base escalation path for one severity.
// Params: alert severity.
// Returns: path and presence flag.
func (p Policy) PathForSeverity(severity domain.Severity) (EscalationPath, bool) {
	path, ok := p.EscalationPaths[string(severity)]
	return path, ok
}

// OverrideForSystem returns the system override entry when configured.
// Params: monitored system name.
// Returns: override and presence flag.
func (p Policy) OverrideForSystem(system string) (SystemOverride, bool) {
	override, ok := p.SystemOverrides[strings.TrimSpace(system)]
	return override, ok
}

// SeverityNames returns configured severities in stable order.
// Params: none.
// Returns: sorted severity keys from the path table.
func (p Policy) SeverityNames() []string {
	names := make([]string, 0, len(p.EscalationPaths))
	for name := range p.EscalationPaths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validatePolicy validates the policy snapshot.
// Params: decoded policy.
// Returns: first structural error found.
func validatePolicy(policy Policy) error {
	knownLevels := make(map[string]struct{}, 4)
	for _, level := range domain.LevelOrder() {
		knownLevels[string(level)] = struct{}{}
	}
	for severity, path := range policy.EscalationPaths {
		if !domain.Severity(severity).IsValid() {
			return fmt.Errorf("escalation_paths key %q is not a valid severity", severity)
		}
		for levelName := range path {
			if _, ok := knownLevels[levelName]; !ok {
				return fmt.Errorf("escalation_paths.%s has unknown level %q", severity, levelName)
			}
		}
	}
	for system, override := range policy.SystemOverrides {
		for severity, path := range override.EscalationPaths {
			if !domain.Severity(severity).IsValid() {
				return fmt.Errorf("system_overrides.%s key %q is not a valid severity", system, severity)
			}
			for levelName := range path {
				if _, ok := knownLevels[levelName]; !ok {
					return fmt.Errorf("system_overrides.%s.%s has unknown level %q", system, severity, levelName)
				}
			}
		}
	}
	for actionName, action := range policy.AutoRecovery.Actions {
		for i, condition := range action.Conditions {
			if strings.TrimSpace(condition.Alert) == "" {
				return fmt.Errorf("auto_recovery.actions.%s.conditions[%d].alert is required", actionName, i)
			}
			if condition.AttemptCountMax < 0 {
				return fmt.Errorf("auto_recovery.actions.%s.conditions[%d].attempt_count_max must not be negative", actionName, i)
			}
			for _, severity := range condition.Severity {
				if !domain.Severity(severity).IsValid() {
					return fmt.Errorf("auto_recovery.actions.%s.conditions[%d] has invalid severity %q", actionName, i, severity)
				}
			}
		}
	}
	return nil
}

// mergePolicy overlays one policy fragment onto the destination snapshot.
// Params: destination policy pointer and decoded fragment.
// Returns: merged policy side-effect in dst; map keys from src win.
func mergePolicy(dst *Policy, src Policy) {
	if len(src.EscalationPaths) > 0 {
		if dst.EscalationPaths == nil {
			dst.EscalationPaths = make(map[string]EscalationPath, len(src.EscalationPaths))
		}
		for key, value := range src.EscalationPaths {
			dst.EscalationPaths[key] = value
		}
	}
	if len(src.SystemOverrides) > 0 {
		if dst.SystemOverrides == nil {
			dst.SystemOverrides = make(map[string]SystemOverride, len(src.SystemOverrides))
		}
		for key, value := range src.SystemOverrides {
			dst.SystemOverrides[key] = value
		}
	}
	if len(src.Roles) > 0 {
		if dst.Roles == nil {
			dst.Roles = make(map[string]Role, len(src.Roles))
		}
		for key, value := range src.Roles {
			dst.Roles[key] = value
		}
	}
	if len(src.Templates.Channels) > 0 {
		if dst.Templates.Channels == nil {
			dst.Templates.Channels = make(map[string]ChannelTemplates, len(src.Templates.Channels))
		}
		for key, value := range src.Templates.Channels {
			dst.Templates.Channels[key] = value
		}
	}
	if len(src.Templates.Overrides) > 0 {
		if dst.Templates.Overrides == nil {
			dst.Templates.Overrides = make(map[string]TemplateFields, len(src.Templates.Overrides))
		}
		for key, value := range src.Templates.Overrides {
			dst.Templates.Overrides[key] = value
		}
	}
	if len(src.Suppression.MaintenanceWindows) > 0 {
		dst.Suppression.MaintenanceWindows = append(dst.Suppression.MaintenanceWindows, src.Suppression.MaintenanceWindows...)
	}
	if len(src.Suppression.DuplicateAlerts) > 0 {
		dst.Suppression.DuplicateAlerts = append(dst.Suppression.DuplicateAlerts, src.Suppression.DuplicateAlerts...)
	}
	if len(src.Suppression.GroupAlerts) > 0 {
		dst.Suppression.GroupAlerts = append(dst.Suppression.GroupAlerts, src.Suppression.GroupAlerts...)
	}
	if src.AutoRecovery.Enabled {
		dst.AutoRecovery.Enabled = true
	}
	if strings.TrimSpace(src.AutoRecovery.NotifyChannel) != "" {
		dst.AutoRecovery.NotifyChannel = src.AutoRecovery.NotifyChannel
	}
	if len(src.AutoRecovery.Actions) > 0 {
		if dst.AutoRecovery.Actions == nil {
			dst.AutoRecovery.Actions = make(map[string]RecoveryAction, len(src.AutoRecovery.Actions))
		}
		for key, value := range src.AutoRecovery.Actions {
			dst.AutoRecovery.Actions[key] = value
		}
	}
	if len(src.Variables) > 0 {
		if dst.Variables == nil {
			dst.Variables = make(map[string]string, len(src.Variables))
		}
		for key, value := range src.Variables {
			dst.Variables[key] = value
		}
	}
}
