package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"escalation/internal/config"
	"escalation/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Message is one rendered outbound notification for a single channel.
// Params: alert identity plus rendered title/body and destination hints.
// Returns: payload consumed by channel sinks.
type Message struct {
	AlertID   string
	AlertName string
	System    string
	Severity  string
	Title     string
	Body      string
	Kind      string
	Targets   []string
}

// ChannelSink delivers one rendered message to one transport. A sink
// accepts or rejects the message for all of its addressed roles at once;
// a nil return means the transport accepted the message for every role
// in Message.Targets.
// Params: context and rendered message.
// Returns: transport error when delivery fails.
type ChannelSink interface {
	Channel() string
	Send(ctx context.Context, message Message) error
}

// newSinkForChannel builds the transport sink for one channel key.
// Params: normalized channel key and full notify config.
// Returns: channel sink or nil when the channel is unknown.
func newSinkForChannel(channel string, cfg config.NotifyConfig) ChannelSink {
	switch channel {
	case config.ChannelPagerDuty:
		return NewPagerDutySink(cfg.PagerDuty)
	case config.ChannelTelegram:
		return NewTelegramSink(cfg.Telegram)
	case config.ChannelEmail:
		return NewEmailSink(cfg.Email)
	case config.ChannelSMS:
		return NewSMSSink(cfg.SMS)
	case config.ChannelStatuspage:
		return NewStatuspageSink(cfg.Statuspage)
	default:
		return nil
	}
}

// PagerDutySink posts trigger events to the paging events API.
// Params: endpoint URL, routing key, and timeout from config.
// Returns: paging channel sink.
type PagerDutySink struct {
	cfg    config.PagingSinkConfig
	client *http.Client
}

// NewPagerDutySink creates the paging sink with its HTTP client.
// Params: paging sink config.
// Returns: initialized sink.
func NewPagerDutySink(cfg config.PagingSinkConfig) *PagerDutySink {
	return &PagerDutySink{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sink channel name.
// Params: none.
// Returns: static channel key.
func (s *PagerDutySink) Channel() string {
	return config.ChannelPagerDuty
}

// Send posts one trigger event for the alert.
// Params: context and rendered message.
// Returns: transport or HTTP error.
func (s *PagerDutySink) Send(ctx context.Context, message Message) error {
	if strings.TrimSpace(s.cfg.RoutingKey) == "" {
		return errors.New("pagerduty routing_key is required")
	}

	payload := struct {
		RoutingKey  string `json:"routing_key"`
		EventAction string `json:"event_action"`
		DedupKey    string `json:"dedup_key,omitempty"`
		Payload     struct {
			Summary       string            `json:"summary"`
			Source        string            `json:"source"`
			Severity      string            `json:"severity"`
			CustomDetails map[string]string `json:"custom_details,omitempty"`
		} `json:"payload"`
	}{
		RoutingKey:  s.cfg.RoutingKey,
		EventAction: "trigger",
		DedupKey:    message.AlertID,
	}
	payload.Payload.Summary = message.Title
	payload.Payload.Source = message.System
	payload.Payload.Severity = pagerDutySeverity(message.Severity)
	payload.Payload.CustomDetails = map[string]string{
		"alert_name": message.AlertName,
		"details":    message.Body,
		"targets":    strings.Join(message.Targets, ", "),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pagerduty request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("pagerduty send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("pagerduty", response)
	}
	return nil
}

// pagerDutySeverity maps alert priority onto the events API severity set.
// Params: alert priority string.
// Returns: one of critical/error/warning/info.
func pagerDutySeverity(priority string) string {
	switch strings.ToUpper(strings.TrimSpace(priority)) {
	case "P1":
		return "critical"
	case "P2":
		return "error"
	case "P3":
		return "warning"
	default:
		return "info"
	}
}

// TelegramSink sends messages through the Telegram Bot API.
// Params: bot token, chat id, and base URL from config.
// Returns: chat channel sink.
type TelegramSink struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegramSink creates the chat sink with its bot client.
// Params: chat sink config.
// Returns: initialized sink; init errors surface on Send.
func NewTelegramSink(cfg config.ChatSinkConfig) *TelegramSink {
	sink := &TelegramSink{
		chatID: normalizeChatID(cfg.ChatID),
	}

	if strings.TrimSpace(cfg.BotToken) == "" {
		sink.initErr = errors.New("telegram bot token is required")
		return sink
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		sink.initErr = errors.New("telegram chat_id is required")
		return sink
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	botClient, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sink.initErr = fmt.Errorf("init telegram bot: %w", err)
		return sink
	}
	sink.client = botClient
	return sink
}

// Channel returns sink channel name.
// Params: none.
// Returns: static channel key.
func (s *TelegramSink) Channel() string {
	return config.ChannelTelegram
}

// Send posts one message to the configured chat.
// Params: context and rendered message.
// Returns: transport or HTTP error.
func (s *TelegramSink) Send(ctx context.Context, message Message) error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.client == nil {
		return errors.New("telegram client is not initialized")
	}

	text := message.Body
	if strings.TrimSpace(message.Title) != "" {
		text = message.Title + "\n" + message.Body
	}
	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps others as string.
// Params: configured chat ID value.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// smtpSendFunc matches smtp.SendMail and is replaceable in tests.
type smtpSendFunc func(addr string, auth smtp.Auth, from string, to []string, body []byte) error

// EmailSink delivers messages over SMTP.
// Params: SMTP host/port, sender address, and optional credentials.
// Returns: email channel sink.
type EmailSink struct {
	cfg  config.EmailSinkConfig
	send smtpSendFunc
}

// NewEmailSink creates the email sink.
// Params: email sink config.
// Returns: initialized sink using smtp.SendMail.
func NewEmailSink(cfg config.EmailSinkConfig) *EmailSink {
	return &EmailSink{cfg: cfg, send: smtp.SendMail}
}

// Channel returns sink channel name.
// Params: none.
// Returns: static channel key.
func (s *EmailSink) Channel() string {
	return config.ChannelEmail
}

// Send builds and submits one email for the alert.
// Params: context (checked before submit) and rendered message.
// Returns: SMTP error when submission fails.
func (s *EmailSink) Send(ctx context.Context, message Message) error {
	if strings.TrimSpace(s.cfg.Host) == "" {
		return errors.New("email host is required")
	}
	if strings.TrimSpace(s.cfg.From) == "" {
		return errors.New("email from address is required")
	}
	if len(message.Targets) == 0 {
		return errors.New("email message has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var mail bytes.Buffer
	fmt.Fprintf(&mail, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&mail, "To: %s\r\n", strings.Join(message.Targets, ", "))
	fmt.Fprintf(&mail, "Subject: %s\r\n", message.Title)
	mail.WriteString("MIME-Version: 1.0\r\n")
	mail.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	mail.WriteString(message.Body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.send(addr, auth, s.cfg.From, message.Targets, mail.Bytes()); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

// SMSSink posts messages to an SMS provider webhook.
// Params: endpoint URL, sender id, and auth token from config.
// Returns: SMS channel sink.
type SMSSink struct {
	cfg    config.SMSSinkConfig
	client *http.Client
}

// NewSMSSink creates the SMS sink with its HTTP client.
// Params: SMS sink config.
// Returns: initialized sink.
func NewSMSSink(cfg config.SMSSinkConfig) *SMSSink {
	return &SMSSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sink channel name.
// Params: none.
// Returns: static channel key.
func (s *SMSSink) Channel() string {
	return config.ChannelSMS
}

// Send posts one short text for the alert.
// Params: context and rendered message.
// Returns: transport or HTTP error.
func (s *SMSSink) Send(ctx context.Context, message Message) error {
	if strings.TrimSpace(s.cfg.URL) == "" {
		return errors.New("sms url is required")
	}

	payload := struct {
		From string   `json:"from,omitempty"`
		To   []string `json:"to,omitempty"`
		Text string   `json:"text"`
	}{
		From: s.cfg.From,
		To:   message.Targets,
		Text: message.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.Token) != "" {
		request.Header.Set("Authorization", "Bearer "+strings.TrimSpace(s.cfg.Token))
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("sms send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("sms", response)
	}
	return nil
}

// StatuspageSink posts incident updates to a status-page API.
// Params: API base URL, page id, and auth token from config.
// Returns: status-page channel sink.
type StatuspageSink struct {
	cfg    config.StatuspageSinkConfig
	client *http.Client
}

// NewStatuspageSink creates the status-page sink with its HTTP client.
// Params: status-page sink config.
// Returns: initialized sink.
func NewStatuspageSink(cfg config.StatuspageSinkConfig) *StatuspageSink {
	return &StatuspageSink{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

// Channel returns sink channel name.
// Params: none.
// Returns: static channel key.
func (s *StatuspageSink) Channel() string {
	return config.ChannelStatuspage
}

// Send creates one incident entry for the alert.
// Params: context and rendered message.
// Returns: transport or HTTP error.
func (s *StatuspageSink) Send(ctx context.Context, message Message) error {
	if strings.TrimSpace(s.cfg.BaseURL) == "" || strings.TrimSpace(s.cfg.PageID) == "" {
		return errors.New("statuspage base_url and page_id are required")
	}

	payload := struct {
		Incident struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			Body   string `json:"body"`
		} `json:"incident"`
	}{}
	payload.Incident.Name = message.Title
	payload.Incident.Status = "investigating"
	payload.Incident.Body = message.Body

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode statuspage payload: %w", err)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/") +
		"/v1/pages/" + strings.TrimSpace(s.cfg.PageID) + "/incidents"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build statuspage request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "OAuth "+strings.TrimSpace(s.cfg.Token))

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("statuspage send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedHTTPStatusError("statuspage", response)
	}
	return nil
}

// unexpectedHTTPStatusError formats a non-2xx HTTP response with optional body.
// Client errors other than 429 are marked permanent so the retry loop
// does not replay a request the provider already rejected.
// Params: sink prefix label and HTTP response pointer.
// Returns: status-only or status+body error.
func unexpectedHTTPStatusError(prefix string, response *http.Response) error {
	if response == nil {
		return fmt.Errorf("%s status=0", prefix)
	}
	var err error
	rawBody, readErr := io.ReadAll(response.Body)
	trimmedBody := strings.TrimSpace(string(rawBody))
	switch {
	case readErr != nil:
		err = fmt.Errorf("%s status=%d (read body error: %w)", prefix, response.StatusCode, readErr)
	case trimmedBody == "":
		err = fmt.Errorf("%s status=%d", prefix, response.StatusCode)
	default:
		err = fmt.Errorf("%s status=%d body=%s", prefix, response.StatusCode, trimmedBody)
	}
	if response.StatusCode >= 400 && response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
		return permanent.Mark(err)
	}
	return err
}
