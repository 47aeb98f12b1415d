package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"escalation/internal/domain"
)

// MetricsWebhook normalizes metrics-alerting webhook payloads in the
// alertmanager/grafana envelope shape (a batch of labeled alerts).
// Params: none; the adapter is stateless.
// Returns: push-only source adapter.
type MetricsWebhook struct{}

// NewMetricsWebhook creates the metrics webhook adapter.
// Params: none.
// Returns: initialized adapter.
func NewMetricsWebhook() *MetricsWebhook {
	return &MetricsWebhook{}
}

// Name returns the adapter key used in webhook routes.
// Params: none.
// Returns: static adapter name.
func (a *MetricsWebhook) Name() string {
	return "metrics-webhook"
}

// Pull is unsupported for the push-only webhook adapter.
// Params: context (unused).
// Returns: ErrPullNotSupported.
func (a *MetricsWebhook) Pull(_ context.Context) ([]RawAlert, error) {
	return nil, ErrPullNotSupported
}

// webhookEnvelope is the inbound batch shape.
// Params: alert item list from the provider.
// Returns: decoded envelope.
type webhookEnvelope struct {
	Alerts []json.RawMessage `json:"alerts"`
}

// webhookItem is one labeled alert inside the envelope.
// Params: status, labels, annotations, timestamps, and generator link.
// Returns: decoded provider item.
type webhookItem struct {
	Status       string            `json:"status"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     *time.Time        `json:"startsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// HandleWebhook splits one envelope into raw per-alert items.
// Params: raw webhook body.
// Returns: raw batch or envelope decode error.
func (a *MetricsWebhook) HandleWebhook(payload []byte) ([]RawAlert, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if len(envelope.Alerts) == 0 {
		return nil, errors.New("webhook envelope has no alerts")
	}
	raws := make([]RawAlert, 0, len(envelope.Alerts))
	for _, item := range envelope.Alerts {
		raws = append(raws, RawAlert{Source: a.Name(), Payload: item})
	}
	return raws, nil
}

// Normalize converts one labeled alert into an intake record.
// Params: raw item from HandleWebhook.
// Returns: intake record or per-item decode/contract error.
func (a *MetricsWebhook) Normalize(raw RawAlert) (domain.IntakeRecord, error) {
	var item webhookItem
	if err := json.Unmarshal(raw.Payload, &item); err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("decode webhook alert: %w", err)
	}

	name := strings.TrimSpace(item.Labels["alertname"])
	if name == "" {
		return domain.IntakeRecord{}, errors.New("webhook alert has no alertname label")
	}

	record := domain.IntakeRecord{
		Name:         name,
		Severity:     normalizeSeverity(item.Labels["severity"]),
		System:       firstNonEmpty(item.Labels["system"], item.Labels["service"], item.Labels["job"]),
		Description:  firstNonEmpty(item.Annotations["description"], item.Annotations["summary"]),
		Value:        item.Annotations["value"],
		Unit:         item.Annotations["unit"],
		Threshold:    item.Annotations["threshold"],
		Impact:       item.Annotations["impact"],
		DashboardURL: firstNonEmpty(item.Annotations["dashboard_url"], item.GeneratorURL),
		RunbookURL:   item.Annotations["runbook_url"],
		Timestamp:    item.StartsAt,
	}
	if item.Status != "" {
		record.Properties = map[string]string{"provider_status": item.Status}
	}
	if alertType := item.Labels["alert_type"]; alertType != "" {
		if record.Properties == nil {
			record.Properties = make(map[string]string, 1)
		}
		record.Properties["alert_type"] = alertType
	}
	return record, nil
}

// normalizeSeverity uppercases provider severities into the P1..P4 set.
// Params: raw severity label value.
// Returns: valid severity or empty for the processor default.
func normalizeSeverity(raw string) domain.Severity {
	severity := domain.Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if severity.IsValid() {
		return severity
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return domain.SeverityP1
	case "high", "error":
		return domain.SeverityP2
	case "warning":
		return domain.SeverityP3
	case "low", "info":
		return domain.SeverityP4
	default:
		return ""
	}
}

// firstNonEmpty returns the first non-blank candidate.
// Params: ordered candidate values.
// Returns: first non-empty string after trimming, or empty.
func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}
