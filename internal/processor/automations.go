package processor

import (
	"fmt"

	"escalation/internal/domain"
)

// Built-in automation names recognized by the processor.
const (
	// AutomationStartIncidentTimer records the incident timer start.
	AutomationStartIncidentTimer = "start_incident_timer"
	// AutomationCreateBridge creates an incident call bridge link.
	AutomationCreateBridge = "create_bridge"
	// AutomationAssignIncidentID assigns a generated incident identifier.
	AutomationAssignIncidentID = "assign_incident_id"
	// AutomationAssignTicketID assigns a generated tracking ticket identifier.
	AutomationAssignTicketID = "assign_ticket_id"
)

// bridgeBaseURL hosts generated incident call links.
const bridgeBaseURL = "https://bridge.internal/incidents/"

// ExecuteAutomations runs the listed automations for one alert.
// Params: automation names from the level policy and the current alert.
// Returns: per-automation report; unknown names land in the failure list
// and never abort the remaining automations.
func (p *Processor) ExecuteAutomations(names []string, alert *domain.Alert) domain.AutomationReport {
	report := domain.AutomationReport{}
	for _, name := range names {
		result := p.runAutomation(name, alert)
		if result.Error != "" {
			report.Failure = append(report.Failure, result)
			if p.logger != nil {
				p.logger.Warn("automation failed",
					"automation", name, "alert_id", alert.ID, "error", result.Error)
			}
			continue
		}
		report.Success = append(report.Success, result)
	}
	return report
}

// runAutomation dispatches one automation by its closed name set.
// Params: automation name and mutable alert.
// Returns: result with generated identifiers or an error string.
func (p *Processor) runAutomation(name string, alert *domain.Alert) domain.AutomationResult {
	now := p.clock.Now()
	result := domain.AutomationResult{Automation: name, Timestamp: now}

	switch name {
	case AutomationStartIncidentTimer:
		result.Result = map[string]string{
			"timer_started_at": now.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	case AutomationCreateBridge:
		bridgeURL := bridgeBaseURL + shortRef(alert.ID, 12)
		result.Result = map[string]string{"bridge_url": bridgeURL}
		setAlertProperty(alert, "bridge_url", bridgeURL)
	case AutomationAssignIncidentID:
		incidentID := fmt.Sprintf("INC-%s-%s", now.UTC().Format("20060102"), shortRef(alert.ID, 6))
		result.Result = map[string]string{"incident_id": incidentID}
		setAlertProperty(alert, "incident_id", incidentID)
	case AutomationAssignTicketID:
		ticketID := fmt.Sprintf("TICK-%s-%s", now.UTC().Format("20060102"), shortRef(alert.ID, 6))
		result.Result = map[string]string{"ticket_id": ticketID}
		setAlertProperty(alert, "ticket_id", ticketID)
	default:
		result.Error = fmt.Sprintf("unknown automation %q", name)
	}
	return result
}

// setAlertProperty stores one generated value on the alert side-map.
// Params: mutable alert, property key, and value.
// Returns: property map mutated in place, allocating when needed.
func setAlertProperty(alert *domain.Alert, key, value string) {
	if alert.Properties == nil {
		alert.Properties = make(map[string]string, 1)
	}
	alert.Properties[key] = value
}
