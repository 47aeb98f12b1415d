package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escalation/internal/domain"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ThresholdRule compares one scraped metric against a bound.
// Params: metric name, optional label filter, comparison, and alert shape.
// Returns: breach predicate evaluated on every poll cycle.
type ThresholdRule struct {
	Metric    string            `toml:"metric" yaml:"metric"`
	Labels    map[string]string `toml:"labels" yaml:"labels"`
	Op        string            `toml:"op" yaml:"op"`
	Value     float64           `toml:"value" yaml:"value"`
	AlertName string            `toml:"alert_name" yaml:"alert_name"`
	Severity  string            `toml:"severity" yaml:"severity"`
	System    string            `toml:"system" yaml:"system"`
	Unit      string            `toml:"unit" yaml:"unit"`
}

// MetricsPoller scrapes a metrics text endpoint and emits intake items
// for threshold breaches.
// Params: scrape endpoint, threshold rules, and HTTP client.
// Returns: pull-only source adapter.
type MetricsPoller struct {
	endpoint string
	rules    []ThresholdRule
	client   *http.Client
}

// NewMetricsPoller creates the polling adapter.
// Params: scrape endpoint URL, threshold rules, and timeout.
// Returns: initialized adapter.
func NewMetricsPoller(endpoint string, rules []ThresholdRule, timeout time.Duration) *MetricsPoller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MetricsPoller{
		endpoint: endpoint,
		rules:    rules,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the adapter key.
// Params: none.
// Returns: static adapter name.
func (a *MetricsPoller) Name() string {
	return "metrics-poller"
}

// HandleWebhook is unsupported for the pull-only poller.
// Params: payload (unused).
// Returns: ErrWebhookNotSupported.
func (a *MetricsPoller) HandleWebhook(_ []byte) ([]RawAlert, error) {
	return nil, ErrWebhookNotSupported
}

// breachItem is one threshold breach awaiting normalization.
// Params: rule shape and observed sample value.
// Returns: raw payload produced by Pull.
type breachItem struct {
	Rule     ThresholdRule `json:"rule"`
	Observed float64       `json:"observed"`
	At       time.Time     `json:"at"`
}

// Pull scrapes the endpoint and evaluates every threshold rule.
// Params: scrape context.
// Returns: raw breach batch, or scrape/parse error fatal to the cycle.
func (a *MetricsPoller) Pull(ctx context.Context) ([]RawAlert, error) {
	families, err := a.fetchMetricFamilies(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var raws []RawAlert
	for _, rule := range a.rules {
		family, ok := families[rule.Metric]
		if !ok {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(rule.Labels, metric) {
				continue
			}
			observed, ok := sampleValue(metric)
			if !ok {
				continue
			}
			if !breached(rule.Op, observed, rule.Value) {
				continue
			}
			payload, err := json.Marshal(breachItem{Rule: rule, Observed: observed, At: now})
			if err != nil {
				return nil, fmt.Errorf("encode breach item: %w", err)
			}
			raws = append(raws, RawAlert{Source: a.Name(), Payload: payload})
		}
	}
	return raws, nil
}

// fetchMetricFamilies scrapes and parses the text exposition endpoint.
// Params: scrape context.
// Returns: metric families keyed by name or scrape/parse error.
func (a *MetricsPoller) fetchMetricFamilies(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	request.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	response, err := a.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("scrape metrics: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape metrics: unexpected status %d", response.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(response.Body)
	if err != nil && len(families) == 0 {
		return nil, fmt.Errorf("parse metrics text: %w", err)
	}
	// Partial parse with a trailing-format warning still yields families.
	return families, nil
}

// labelsMatch checks the rule label filter against one sample.
// Params: required labels and metric sample.
// Returns: true when every required label is present with its value.
func labelsMatch(required map[string]string, metric *dto.Metric) bool {
	if len(required) == 0 {
		return true
	}
	present := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		present[pair.GetName()] = pair.GetValue()
	}
	for name, value := range required {
		if present[name] != value {
			return false
		}
	}
	return true
}

// sampleValue extracts the numeric value from one sample.
// Params: metric sample.
// Returns: gauge/counter/untyped value and presence flag.
func sampleValue(metric *dto.Metric) (float64, bool) {
	switch {
	case metric.Gauge != nil:
		return metric.Gauge.GetValue(), true
	case metric.Counter != nil:
		return metric.Counter.GetValue(), true
	case metric.Untyped != nil:
		return metric.Untyped.GetValue(), true
	default:
		return 0, false
	}
}

// breached evaluates one comparison.
// Params: operator (gt/gte/lt/lte), observed value, and bound.
// Returns: true when the observed value violates the bound.
func breached(op string, observed, bound float64) bool {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "gt", "":
		return observed > bound
	case "gte":
		return observed >= bound
	case "lt":
		return observed < bound
	case "lte":
		return observed <= bound
	default:
		return false
	}
}

// Normalize converts one breach item into an intake record.
// Params: raw item from Pull.
// Returns: intake record or per-item decode error.
func (a *MetricsPoller) Normalize(raw RawAlert) (domain.IntakeRecord, error) {
	var item breachItem
	if err := json.Unmarshal(raw.Payload, &item); err != nil {
		return domain.IntakeRecord{}, fmt.Errorf("decode breach item: %w", err)
	}

	name := strings.TrimSpace(item.Rule.AlertName)
	if name == "" {
		name = item.Rule.Metric + " threshold breached"
	}
	at := item.At
	record := domain.IntakeRecord{
		Name:        name,
		Severity:    normalizeSeverity(item.Rule.Severity),
		System:      item.Rule.System,
		Description: fmt.Sprintf("%s is %s (%s %s)", item.Rule.Metric, formatFloat(item.Observed), item.Rule.Op, formatFloat(item.Rule.Value)),
		Value:       formatFloat(item.Observed),
		Unit:        item.Rule.Unit,
		Threshold:   formatFloat(item.Rule.Value),
		Properties:  map[string]string{"metric": item.Rule.Metric},
	}
	if !at.IsZero() {
		record.Timestamp = &at
	}
	return record, nil
}

// formatFloat renders one metric value compactly.
// Params: float value.
// Returns: shortest decimal representation.
func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
