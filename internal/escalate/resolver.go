// Package escalate resolves escalation paths, responder targets, and
// time-based escalation decisions from the policy snapshot. All functions
// are pure: they read policy and alert state and never mutate either.
package escalate

import (
	"time"

	"escalation/internal/config"
	"escalation/internal/domain"
)

// NextLevel returns the level following the current one.
// Params: current escalation level; empty means not yet escalated.
// Returns: next level and false when the current level is terminal.
func NextLevel(current domain.Level) (domain.Level, bool) {
	order := domain.LevelOrder()
	if current == "" {
		return order[0], true
	}
	for i, level := range order {
		if level != current {
			continue
		}
		if i+1 >= len(order) {
			return "", false
		}
		return order[i+1], true
	}
	return "", false
}

// ResolvePath builds the effective escalation path for one alert.
// Params: policy snapshot, alert severity, and monitored system name.
// Returns: severity base path with system override levels merged in,
// and false when the severity has no configured path.
func ResolvePath(policy config.Policy, severity domain.Severity, system string) (config.EscalationPath, bool) {
	base, ok := policy.PathForSeverity(severity)
	if !ok {
		return nil, false
	}

	merged := make(config.EscalationPath, len(base))
	for name, level := range base {
		merged[name] = cloneLevelPolicy(level)
	}

	override, ok := policy.OverrideForSystem(system)
	if !ok {
		return merged, true
	}
	overridePath, ok := override.EscalationPaths[string(severity)]
	if !ok {
		return merged, true
	}
	for name, level := range overridePath {
		merged[name] = mergeLevelPolicy(merged[name], level)
	}
	return merged, true
}

// mergeLevelPolicy overlays override level fields onto the base level.
// Params: base level policy and override fragment.
// Returns: merged policy; non-empty override fields replace base fields.
func mergeLevelPolicy(base, override config.LevelPolicy) config.LevelPolicy {
	merged := cloneLevelPolicy(base)
	if len(override.Roles) > 0 {
		merged.Roles = append([]string(nil), override.Roles...)
	}
	if len(override.Actions) > 0 {
		merged.Actions = append([]string(nil), override.Actions...)
	}
	if len(override.Automations) > 0 {
		merged.Automations = append([]string(nil), override.Automations...)
	}
	if len(override.Conditions) > 0 {
		merged.Conditions = append([]config.EscalateCondition(nil), override.Conditions...)
	}
	return merged
}

// cloneLevelPolicy copies one level policy with detached slices.
// Params: source level policy.
// Returns: copy safe to mutate independently.
func cloneLevelPolicy(level config.LevelPolicy) config.LevelPolicy {
	return config.LevelPolicy{
		Roles:       append([]string(nil), level.Roles...),
		Actions:     append([]string(nil), level.Actions...),
		Automations: append([]string(nil), level.Automations...),
		Conditions:  append([]config.EscalateCondition(nil), level.Conditions...),
	}
}

// ResolveTargets maps level roles plus system additions onto responder targets.
// Params: policy snapshot, level role names, and monitored system name.
// Returns: deduplicated targets in role order; unknown roles are skipped.
func ResolveTargets(policy config.Policy, roles []string, system string) []domain.Target {
	names := append([]string(nil), roles...)
	if override, ok := policy.OverrideForSystem(system); ok {
		names = append(names, override.NotifyAdditional.Roles...)
	}

	seen := make(map[string]struct{}, len(names))
	targets := make([]domain.Target, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		role, ok := policy.Roles[name]
		if !ok {
			continue
		}
		targets = append(targets, domain.Target{
			Role:                name,
			Description:         role.Description,
			NotificationMethods: append([]string(nil), role.NotificationMethods...),
		})
	}
	return targets
}

// ResolveActions lists the response actions prescribed for one level.
// Params: resolved level policy.
// Returns: deduplicated action names in declaration order.
func ResolveActions(level config.LevelPolicy) []string {
	if len(level.Actions) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(level.Actions))
	actions := make([]string, 0, len(level.Actions))
	for _, action := range level.Actions {
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}
	return actions
}

// ShouldEscalate evaluates level conditions against alert timestamps.
// Params: alert state, current level policy, and evaluation time.
// Returns: first satisfied condition and true, or zero condition and false.
func ShouldEscalate(alert domain.Alert, level config.LevelPolicy, now time.Time) (config.EscalateCondition, bool) {
	for _, condition := range level.Conditions {
		if conditionSatisfied(alert, condition, now) {
			return condition, true
		}
	}
	return config.EscalateCondition{}, false
}

// conditionSatisfied checks one time predicate against the alert.
// Params: alert state, predicate, and evaluation time.
// Returns: true when the follow-up missed its minute budget.
func conditionSatisfied(alert domain.Alert, condition config.EscalateCondition, now time.Time) bool {
	start := conditionStart(alert, condition.Kind)
	if start == nil {
		return false
	}
	deadline := start.Add(time.Duration(condition.Minutes) * time.Minute)

	end := conditionEnd(alert, condition.Kind)
	if end == nil {
		return now.After(deadline)
	}
	return end.After(deadline)
}

// conditionStart returns the predicate's reference timestamp.
// Params: alert state and predicate kind.
// Returns: budget start or nil when not yet applicable.
func conditionStart(alert domain.Alert, kind config.ConditionKind) *time.Time {
	switch kind {
	case config.ConditionNoAcknowledgment, config.ConditionNoUpdate:
		return alert.Timestamp("created_at")
	case config.ConditionNoResolution:
		if alert.CurrentEscalationLevel == "" {
			return alert.Timestamp("created_at")
		}
		return alert.LevelTimestamp(alert.CurrentEscalationLevel)
	default:
		return nil
	}
}

// conditionEnd returns the follow-up timestamp that clears the predicate.
// Params: alert state and predicate kind.
// Returns: follow-up timestamp or nil when the follow-up never happened.
func conditionEnd(alert domain.Alert, kind config.ConditionKind) *time.Time {
	switch kind {
	case config.ConditionNoAcknowledgment:
		return alert.AcknowledgedAt
	case config.ConditionNoUpdate:
		return alert.LastUpdatedAt
	case config.ConditionNoResolution:
		return alert.ResolvedAt
	default:
		return nil
	}
}
