package domain

import (
	"fmt"
	"sort"
	"strings"
)

// AlertPatch is a partial update applied to a stored alert.
// Params: optional replacement fields; nil pointers leave fields untouched.
// Returns: update payload for the update boundary.
type AlertPatch struct {
	Status       *Status           `json:"status,omitempty"`
	Severity     *Severity         `json:"severity,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Value        *string           `json:"value,omitempty"`
	Unit         *string           `json:"unit,omitempty"`
	Threshold    *string           `json:"threshold,omitempty"`
	Impact       *string           `json:"impact,omitempty"`
	DashboardURL *string           `json:"dashboard_url,omitempty"`
	RunbookURL   *string           `json:"runbook_url,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// Validate checks patch field values.
// Params: none.
// Returns: error for unsupported status or severity values.
func (p AlertPatch) Validate() error {
	if p.Status != nil {
		switch *p.Status {
		case StatusNew, StatusSuppressed, StatusAutoRecovered, StatusProcessed, StatusAcknowledged, StatusResolved:
		default:
			return fmt.Errorf("unsupported status %q", *p.Status)
		}
	}
	if p.Severity != nil && !p.Severity.IsValid() {
		return fmt.Errorf("unsupported severity %q", *p.Severity)
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
// Params: none.
// Returns: true when every field is nil or empty.
func (p AlertPatch) IsEmpty() bool {
	return p.Status == nil && p.Severity == nil && p.Description == nil &&
		p.Value == nil && p.Unit == nil && p.Threshold == nil && p.Impact == nil &&
		p.DashboardURL == nil && p.RunbookURL == nil && len(p.Properties) == 0
}

// FieldNames lists patched field names for the update history entry.
// Params: none.
// Returns: sorted names of fields the patch sets.
func (p AlertPatch) FieldNames() []string {
	var names []string
	if p.Status != nil {
		names = append(names, "status")
	}
	if p.Severity != nil {
		names = append(names, "severity")
	}
	if p.Description != nil {
		names = append(names, "description")
	}
	if p.Value != nil {
		names = append(names, "value")
	}
	if p.Unit != nil {
		names = append(names, "unit")
	}
	if p.Threshold != nil {
		names = append(names, "threshold")
	}
	if p.Impact != nil {
		names = append(names, "impact")
	}
	if p.DashboardURL != nil {
		names = append(names, "dashboard_url")
	}
	if p.RunbookURL != nil {
		names = append(names, "runbook_url")
	}
	for key := range p.Properties {
		names = append(names, "properties."+strings.TrimSpace(key))
	}
	sort.Strings(names)
	return names
}
