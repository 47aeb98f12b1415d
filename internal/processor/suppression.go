package processor

import (
	"strings"

	"escalation/internal/config"
	"escalation/internal/domain"
)

// suppressionMatch tests one alert against all suppression rules.
// Params: policy suppression rules and normalized alert.
// Returns: matched rule name and true on the first match.
func suppressionMatch(rules config.SuppressionRules, alert domain.Alert) (string, bool) {
	for _, window := range rules.MaintenanceWindows {
		for _, pattern := range window.SuppressAlerts {
			trimmed := strings.TrimSpace(pattern)
			if trimmed == "" {
				continue
			}
			if strings.Contains(alert.Name, trimmed) {
				return window.Name, true
			}
		}
	}
	for _, rule := range rules.DuplicateAlerts {
		if duplicateRuleMatch(rule, alert) {
			return rule.Name, true
		}
	}
	for _, rule := range rules.GroupAlerts {
		if groupRuleMatch(rule, alert) {
			return rule.Name, true
		}
	}
	return "", false
}

// duplicateRuleMatch evaluates one duplicate-alert rule.
// Params: rule and normalized alert.
// Returns: always false; exception severities bypass the rule entirely
// and the matching algorithm itself is an extension point.
func duplicateRuleMatch(rule config.DuplicateRule, alert domain.Alert) bool {
	for _, severity := range rule.ExceptionSeverity {
		if strings.EqualFold(severity, string(alert.Severity)) {
			return false
		}
	}
	return false
}

// groupRuleMatch evaluates one group-alert rule.
// Params: rule and normalized alert.
// Returns: always false; grouping semantics are an extension point.
func groupRuleMatch(_ config.GroupRule, _ domain.Alert) bool {
	return false
}
