// Package notify renders notification templates and fans rendered messages
// out to the configured delivery channels. Channel failures are isolated:
// one failing sink never blocks or cancels the others.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"escalation/internal/clock"
	"escalation/internal/config"
	"escalation/internal/domain"
	"escalation/internal/permanent"
	"escalation/internal/templatefmt"
)

// Template kinds resolved against the policy template table.
const (
	// KindAlert renders initial alert notifications.
	KindAlert = "alert"
	// KindEscalation renders level-advance notifications.
	KindEscalation = "escalation"
	// KindAutoRecovery renders remediation progress notifications.
	KindAutoRecovery = "auto_recovery"
)

// Notifier delivers alert notifications across channel sinks.
// Params: sink table built from notify config, retries, and timeout.
// Returns: fan-out helper for processor and scheduler layers.
type Notifier struct {
	sinks       map[string]ChannelSink
	channels    []string
	retries     map[string]config.NotifyRetry
	sinkTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// NewNotifier builds the notifier from enabled channels.
// Params: notify config, clock, and optional logger.
// Returns: configured notifier with available sinks.
func NewNotifier(cfg config.NotifyConfig, clk clock.Clock, logger *slog.Logger) *Notifier {
	sinks := make(map[string]ChannelSink)
	retries := make(map[string]config.NotifyRetry)
	for _, channel := range config.ChannelNames() {
		if !config.ChannelEnabled(cfg, channel) {
			continue
		}
		sink := newSinkForChannel(channel, cfg)
		if sink == nil {
			continue
		}
		sinks[channel] = sink
		retries[channel] = config.ChannelRetry(cfg, channel)
	}
	channels := make([]string, 0, len(sinks))
	for channel := range sinks {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return &Notifier{
		sinks:       sinks,
		channels:    channels,
		retries:     retries,
		sinkTimeout: time.Duration(cfg.SinkTimeoutSec) * time.Second,
		clock:       clk,
		logger:      logger,
	}
}

// Channels returns configured channel keys.
// Params: none.
// Returns: deterministic sink key list.
func (n *Notifier) Channels() []string {
	return n.channels
}

// RegisterSink installs or replaces one channel sink.
// Params: sink implementation; its Channel() is the table key.
// Returns: none; used by tests and custom transports.
func (n *Notifier) RegisterSink(sink ChannelSink) {
	if sink == nil {
		return
	}
	channel := sink.Channel()
	if _, exists := n.sinks[channel]; !exists {
		n.channels = append(n.channels, channel)
		sort.Strings(n.channels)
	}
	n.sinks[channel] = sink
}

// SendAlert fans the initial alert notification out to target channels.
// Params: context, policy snapshot, alert, and resolved targets.
// Returns: per-channel report; never an error, failures are in the report.
func (n *Notifier) SendAlert(ctx context.Context, policy config.Policy, alert domain.Alert, targets []domain.Target) domain.NotificationReport {
	return n.fanOut(ctx, policy, alert, targets, KindAlert, nil)
}

// SendEscalation fans one level-advance notification out to target channels.
// Params: context, policy, alert, targets, new level, and trigger condition.
// Returns: per-channel report; never an error, failures are in the report.
func (n *Notifier) SendEscalation(ctx context.Context, policy config.Policy, alert domain.Alert, targets []domain.Target, level domain.Level, condition config.EscalateCondition) domain.NotificationReport {
	extra := map[string]string{
		"escalation_level":  string(level),
		"escalation_reason": EscalationReason(condition),
		"condition":         string(condition.Kind),
		"minutes":           templatefmt.FormatMinutes(condition.Minutes),
	}
	return n.fanOut(ctx, policy, alert, targets, KindEscalation, extra)
}

// SendRecoveryProgress notifies the informational channel about one
// remediation attempt.
// Params: context, policy, alert, action name, and attempt counters.
// Returns: single-channel report; never an error.
func (n *Notifier) SendRecoveryProgress(ctx context.Context, policy config.Policy, alert domain.Alert, action string, attempt, maxAttempts int) domain.NotificationReport {
	extra := map[string]string{
		"recovery_action": action,
		"attempt":         fmt.Sprintf("%d", attempt),
		"max_attempts":    fmt.Sprintf("%d", maxAttempts),
	}
	channel := policy.AutoRecovery.NotifyChannel
	plan := map[string][]string{channel: nil}
	return n.deliver(ctx, policy, alert, plan, KindAutoRecovery, extra)
}

// EscalationReason builds the human-readable trigger phrase.
// Params: satisfied escalation condition.
// Returns: canned reason sentence embedded in notifications.
func EscalationReason(condition config.EscalateCondition) string {
	minutes := templatefmt.FormatMinutes(condition.Minutes)
	switch condition.Kind {
	case config.ConditionNoAcknowledgment:
		return "no acknowledgment within " + minutes
	case config.ConditionNoUpdate:
		return "no update within " + minutes
	case config.ConditionNoResolution:
		return "no resolution within " + minutes
	default:
		return "escalation condition met"
	}
}

// fanOut flattens target methods into a channel plan and delivers it.
// Params: context, policy, alert, targets, template kind, and extra fields.
// Returns: aggregated per-channel report.
func (n *Notifier) fanOut(ctx context.Context, policy config.Policy, alert domain.Alert, targets []domain.Target, kind string, extra map[string]string) domain.NotificationReport {
	return n.deliver(ctx, policy, alert, channelPlan(targets), kind, extra)
}

// channelPlan groups target roles by their flattened delivery channels.
// Params: resolved responder targets.
// Returns: channel key onto role name list, dedup preserving order.
func channelPlan(targets []domain.Target) map[string][]string {
	plan := make(map[string][]string)
	for _, target := range targets {
		for _, method := range target.NotificationMethods {
			channel := config.BaseChannel(method)
			if channel == "" {
				continue
			}
			if containsString(plan[channel], target.Role) {
				continue
			}
			plan[channel] = append(plan[channel], target.Role)
		}
	}
	return plan
}

// containsString reports whether the slice holds the value.
// Params: haystack slice and needle value.
// Returns: membership flag.
func containsString(values []string, value string) bool {
	for _, existing := range values {
		if existing == value {
			return true
		}
	}
	return false
}

// deliver renders and sends one message per planned channel concurrently.
// Params: context, policy, alert, channel plan, template kind, extra fields.
// Returns: aggregated report with independent success/failure lists.
func (n *Notifier) deliver(ctx context.Context, policy config.Policy, alert domain.Alert, plan map[string][]string, kind string, extra map[string]string) domain.NotificationReport {
	channels := make([]string, 0, len(plan))
	for channel := range plan {
		channels = append(channels, channel)
	}
	sort.Strings(channels)

	var mu sync.Mutex
	var wg sync.WaitGroup
	report := domain.NotificationReport{}

	for _, channel := range channels {
		roles := plan[channel]
		sink, ok := n.sinks[channel]
		if !ok {
			report.Failure = append(report.Failure, domain.ChannelResult{
				Channel:   channel,
				Targets:   roles,
				Error:     fmt.Sprintf("channel %q is not configured", channel),
				Timestamp: n.clock.Now(),
			})
			continue
		}

		message := n.renderMessage(policy, alert, channel, kind, roles, extra)
		wg.Add(1)
		go func(channel string, sink ChannelSink, roles []string, message Message) {
			defer wg.Done()

			sendCtx := ctx
			var cancel context.CancelFunc
			if n.sinkTimeout > 0 {
				sendCtx, cancel = context.WithTimeout(ctx, n.sinkTimeout)
				defer cancel()
			}

			err := n.sendWithRetry(sendCtx, sink, message, n.retries[channel])
			result := domain.ChannelResult{
				Channel:   channel,
				Targets:   roles,
				Timestamp: n.clock.Now(),
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Error = err.Error()
				report.Failure = append(report.Failure, result)
				if n.logger != nil {
					n.logger.Error("notification delivery failed",
						"channel", channel, "alert_id", alert.ID, "error", err.Error())
				}
				return
			}
			report.Success = append(report.Success, result)
		}(channel, sink, roles, message)
	}
	wg.Wait()

	sortResults(report.Success)
	sortResults(report.Failure)
	return report
}

// sortResults orders channel results deterministically by channel key.
// Params: mutable result slice.
// Returns: slice sorted in place.
func sortResults(results []domain.ChannelResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Channel < results[j].Channel
	})
}

// renderMessage resolves and renders the template for one channel.
// Params: policy, alert, channel key, template kind, roles, extra fields.
// Returns: rendered message ready for the channel sink.
func (n *Notifier) renderMessage(policy config.Policy, alert domain.Alert, channel, kind string, roles []string, extra map[string]string) Message {
	fields := templatefmt.MergeValues(policy.Variables, alert.TemplateFields(), extra)
	fields["channel"] = channel
	fields["targets"] = strings.Join(roles, ", ")

	template := resolveTemplate(policy.Templates, channel, string(alert.Severity), kind, alert.Properties["alert_type"])
	title := templatefmt.Render(template["title"], fields)
	body := templatefmt.Render(template["body"], fields)
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("[%s] %s", alert.Severity, alert.Name)
	}
	if strings.TrimSpace(body) == "" {
		body = defaultBody(alert, kind, extra)
	}

	return Message{
		AlertID:   alert.ID,
		AlertName: alert.Name,
		System:    alert.System,
		Severity:  string(alert.Severity),
		Title:     title,
		Body:      body,
		Kind:      kind,
		Targets:   roles,
	}
}

// resolveTemplate selects template fields by precedence.
// Params: template table, channel, severity, template kind, alert type.
// Returns: most specific non-empty template field map, or nil.
func resolveTemplate(templates config.TemplateSet, channel, severity, kind, alertType string) config.TemplateFields {
	if alertType != "" {
		if override, ok := templates.Overrides[alertType]; ok && len(override) > 0 {
			return override
		}
	}
	channelTemplates, ok := templates.Channels[channel]
	if !ok {
		return nil
	}
	if severityTemplates, ok := channelTemplates.Severity[severity]; ok {
		if byType, ok := severityTemplates.ByType[kind]; ok && len(byType) > 0 {
			return byType
		}
		if len(severityTemplates.Default) > 0 {
			return severityTemplates.Default
		}
	}
	if byType, ok := channelTemplates.ByType[kind]; ok && len(byType) > 0 {
		return byType
	}
	return channelTemplates.Default
}

// defaultBody renders the built-in fallback body when no template matches.
// Params: alert, template kind, and extra rendered fields.
// Returns: plain-text notification body.
func defaultBody(alert domain.Alert, kind string, extra map[string]string) string {
	var builder strings.Builder
	switch kind {
	case KindEscalation:
		fmt.Fprintf(&builder, "Alert %q escalated to %s (%s).",
			alert.Name, extra["escalation_level"], extra["escalation_reason"])
	case KindAutoRecovery:
		fmt.Fprintf(&builder, "Auto-recovery %q attempt %s/%s for alert %q.",
			extra["recovery_action"], extra["attempt"], extra["max_attempts"], alert.Name)
	default:
		fmt.Fprintf(&builder, "Alert %q on %s is %s.", alert.Name, alert.System, alert.Status)
	}
	if alert.Description != "" {
		builder.WriteString(" " + alert.Description)
	}
	if alert.Value != "" && alert.Threshold != "" {
		fmt.Fprintf(&builder, " Value %s%s exceeds threshold %s.", alert.Value, alert.Unit, alert.Threshold)
	}
	return builder.String()
}

// sendWithRetry sends one message with the channel retry policy.
// Params: context, sink, rendered message, and retry policy.
// Returns: final error after exhausting retries.
func (n *Notifier) sendWithRetry(ctx context.Context, sink ChannelSink, message Message, retry config.NotifyRetry) error {
	if !retry.Enabled {
		return sink.Send(ctx, message)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	for {
		attempt++
		err := sink.Send(ctx, message)
		if err == nil {
			stopTimer()
			if retry.LogEachAttempt && attempt > 1 && n.logger != nil {
				n.logger.Info("notification send recovered after retries",
					"channel", sink.Channel(), "attempt", attempt)
			}
			return nil
		}
		if retry.LogEachAttempt && n.logger != nil {
			n.logger.Warn("notification send attempt failed",
				"channel", sink.Channel(), "attempt", attempt, "error", err.Error())
		}

		if permanent.Is(err) {
			stopTimer()
			return fmt.Errorf("channel %s failed permanently: %w", sink.Channel(), err)
		}

		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			stopTimer()
			return fmt.Errorf("channel %s failed after %d attempts: %w", sink.Channel(), attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			stopTimer()
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			stopTimer()
			return ctx.Err()
		case <-timer.C:
		}

		if strings.EqualFold(retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
