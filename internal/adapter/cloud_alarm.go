package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"escalation/internal/domain"
)

// CloudAlarm normalizes cloud-alarm notifications delivered through a
// pub/sub envelope whose Message field embeds the alarm document.
// Params: none; the adapter is stateless.
// Returns: push-only source adapter.
type CloudAlarm struct{}

// NewCloudAlarm creates the cloud alarm adapter.
// Params: none.
// Returns: initialized adapter.
func NewCloudAlarm() *CloudAlarm {
	return &CloudAlarm{}
}

// Name returns the adapter key used in webhook routes.
// Params: none.
// Returns: static adapter name.
func (a *CloudAlarm) Name() string {
	return "cloud-alarm"
}

// Pull is unsupported for the push-only alarm adapter.
// Params: context (unused).
// Returns: ErrPullNotSupported.
func (a *CloudAlarm) Pull(_ context.Context) ([]RawAlert, error) {
	return nil, ErrPullNotSupported
}

// alarmEnvelope is the pub/sub wrapper around one alarm document.
// Params: notification type and embedded JSON message string.
// Returns: decoded envelope.
type alarmEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// alarmDocument is the embedded alarm state-change payload.
// Params: alarm identity, new state, and trigger metadata.
// Returns: decoded alarm document.
type alarmDocument struct {
	AlarmName        string     `json:"AlarmName"`
	AlarmDescription string     `json:"AlarmDescription"`
	NewStateValue    string     `json:"NewStateValue"`
	NewStateReason   string     `json:"NewStateReason"`
	StateChangeTime  *time.Time `json:"StateChangeTime,omitempty"`
	Trigger          struct {
		MetricName string  `json:"MetricName"`
		Namespace  string  `json:"Namespace"`
		Threshold  float64 `json:"Threshold"`
		Unit       string  `json:"Unit"`
	} `json:"Trigger"`
}

// HandleWebhook unwraps one envelope into a single raw alarm item.
// Params: raw webhook body.
// Returns: one-element raw batch or envelope decode error.
func (a *CloudAlarm) HandleWebhook(payload []byte) ([]RawAlert, error) {
	var envelope alarmEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode alarm envelope: %w", err)
	}
	if strings.TrimSpace(envelope.Message) == "" {
		return nil, errors.New("alarm envelope has empty message")
	}
	return []RawAlert{{Source: a.Name(), Payload: json.RawMessage(envelope.Message)}}, nil
}

// Normalize converts one alarm document into an intake record.
// Params: raw item from HandleWebhook.
// Returns: intake record or per-item decode/contract error.
func (a *CloudAlarm) Normalize(raw RawAlert) (domain.IntakeRecord, error) {
	var doc alarmDocument
	if err := json.Unmarshal(raw.Payload, &doc); err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("decode alarm document: %w", err)
	}
	if strings.TrimSpace(doc.AlarmName) == "" {
		return domain.IntakeRecord{}, errors.New("alarm document has no name")
	}

	record := domain.IntakeRecord{
		Name:        doc.AlarmName,
		Severity:    alarmSeverity(doc.NewStateValue),
		System:      strings.TrimSpace(doc.Trigger.Namespace),
		Description: firstNonEmpty(doc.AlarmDescription, doc.NewStateReason),
		Impact:      doc.NewStateReason,
		Unit:        doc.Trigger.Unit,
		Timestamp:   doc.StateChangeTime,
	}
	if doc.Trigger.Threshold != 0 {
		record.Threshold = strconv.FormatFloat(doc.Trigger.Threshold, 'f', -1, 64)
	}
	if doc.Trigger.MetricName != "" {
		record.Properties = map[string]string{"metric": doc.Trigger.MetricName}
	}
	return record, nil
}

// alarmSeverity maps alarm state onto the priority set.
// Params: alarm NewStateValue.
// Returns: P2 for alarm state, P4 for recovered, default otherwise.
func alarmSeverity(state string) domain.Severity {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "ALARM":
		return domain.SeverityP2
	case "OK":
		return domain.SeverityP4
	default:
		return ""
	}
}
