package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultWebhookPathPrefix  = "/webhook/"
	defaultAlertsPath         = "/alerts/"
	defaultNATSSubject        = "escalation.intake"
	defaultNATSIngestStream   = "ESCALATION_INTAKE"
	defaultNATSIngestConsumer = "escalation-intake"
	defaultNATSIngestGroup    = "escalation-workers"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSAlertBucket    = "alerts"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultCheckIntervalSec   = 30
	defaultPollIntervalSec    = 60
	defaultSinkTimeoutSec     = 10
	defaultRecoveryChannel    = ChannelTelegram

	// StateModeMemory keeps alert records in process memory.
	StateModeMemory = "memory"
	// StateModeNATS keeps alert records in a NATS JetStream KV bucket.
	StateModeNATS = "nats"

	// ChannelPagerDuty identifies the paging delivery channel.
	ChannelPagerDuty = "pagerduty"
	// ChannelTelegram identifies the chat delivery channel.
	ChannelTelegram = "telegram"
	// ChannelEmail identifies the email delivery channel.
	ChannelEmail = "email"
	// ChannelSMS identifies the SMS delivery channel.
	ChannelSMS = "sms"
	// ChannelStatuspage identifies the status-page delivery channel.
	ChannelStatuspage = "statuspage"
)

var channelOrder = []string{
	ChannelPagerDuty,
	ChannelTelegram,
	ChannelEmail,
	ChannelSMS,
	ChannelStatuspage,
}

// ChannelNames returns the supported delivery channel keys in stable order.
// Params: none.
// Returns: ordered channel key list.
func ChannelNames() []string {
	return append([]string(nil), channelOrder...)
}

// IsSupportedChannel reports whether the channel key is a known sink kind.
// Params: normalized channel key.
// Returns: true for supported channels.
func IsSupportedChannel(channel string) bool {
	for _, known := range channelOrder {
		if known == channel {
			return true
		}
	}
	return false
}

// Config holds service runtime settings and the policy snapshot.
// Params: TOML/YAML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service ServiceConfig `toml:"service" yaml:"service"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Ingest  IngestConfig  `toml:"ingest" yaml:"ingest"`
	State   StateConfig   `toml:"state" yaml:"state"`
	Notify  NotifyConfig  `toml:"notify" yaml:"notify"`
	Sources SourcesConfig `toml:"sources" yaml:"sources"`
	Policy  Policy        `toml:"policy" yaml:"policy"`
}

// ServiceConfig contains process-level settings.
// Params: service name, scheduler cadence, and policy reload toggle.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name             string `toml:"name" yaml:"name"`
	CheckIntervalSec int    `toml:"check_interval_sec" yaml:"check_interval_sec"`
	PollIntervalSec  int    `toml:"poll_interval_sec" yaml:"poll_interval_sec"`
	ReloadEnabled    bool   `toml:"reload_enabled" yaml:"reload_enabled"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	Path    string `toml:"path" yaml:"path"`
}

// SourcesConfig configures monitoring source adapters.
// Params: per-adapter sections; webhook adapters need no settings and
// are always registered.
// Returns: source adapter runtime options.
type SourcesConfig struct {
	Poller PollerConfig `toml:"poller" yaml:"poller"`
}

// PollerConfig configures the metrics-endpoint polling adapter.
// Params: enable flag, scrape endpoints, timeout, and threshold rules.
// Returns: poller runtime options.
type PollerConfig struct {
	Enabled    bool         `toml:"enabled" yaml:"enabled"`
	Endpoints  []string     `toml:"endpoints" yaml:"endpoints"`
	TimeoutSec int          `toml:"timeout_sec" yaml:"timeout_sec"`
	Rules      []PollerRule `toml:"rules" yaml:"rules"`
}

// PollerRule declares one scraped-metric threshold check.
// Params: metric selector, comparison, and the alert shape a breach emits.
// Returns: threshold rule consumed by the polling adapter.
type PollerRule struct {
	Metric    string            `toml:"metric" yaml:"metric"`
	Labels    map[string]string `toml:"labels" yaml:"labels"`
	Op        string            `toml:"op" yaml:"op"`
	Value     float64           `toml:"value" yaml:"value"`
	AlertName string            `toml:"alert_name" yaml:"alert_name"`
	Severity  string            `toml:"severity" yaml:"severity"`
	System    string            `toml:"system" yaml:"system"`
	Unit      string            `toml:"unit" yaml:"unit"`
}

// IngestConfig defines inbound intake interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: intake runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http" yaml:"http"`
	NATS NATSIngestConfig `toml:"nats" yaml:"nats"`
}

// HTTPIngestConfig configures the HTTP intake and update endpoints.
// Params: enable flag, listen/endpoints, and optional body size limit.
// Returns: HTTP intake behavior.
type HTTPIngestConfig struct {
	Enabled           bool   `toml:"enabled" yaml:"enabled"`
	Listen            string `toml:"listen" yaml:"listen"`
	HealthPath        string `toml:"health_path" yaml:"health_path"`
	ReadyPath         string `toml:"ready_path" yaml:"ready_path"`
	WebhookPathPrefix string `toml:"webhook_path_prefix" yaml:"webhook_path_prefix"`
	AlertsPath        string `toml:"alerts_path" yaml:"alerts_path"`
	MaxBodyBytes      int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer intake.
// Params: connection + ack/redelivery policy; routing keys are runtime-fixed.
// Returns: NATS intake behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	URL           []string `toml:"url" yaml:"url"`
	Subject       string   `toml:"-" yaml:"-"`
	Stream        string   `toml:"-" yaml:"-"`
	ConsumerName  string   `toml:"-" yaml:"-"`
	DeliverGroup  string   `toml:"-" yaml:"-"`
	AckWaitSec    int      `toml:"ack_wait_sec" yaml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms" yaml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver" yaml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending" yaml:"max_ack_pending"`
}

// StateConfig selects the open-alert store backend.
// Params: backend mode and NATS KV bucket controls.
// Returns: store backend options.
type StateConfig struct {
	Mode               string `toml:"mode" yaml:"mode"`
	Bucket             string `toml:"bucket" yaml:"bucket"`
	AllowCreateBuckets bool   `toml:"allow_create_buckets" yaml:"allow_create_buckets"`
}

// NotifyRetry configures outbound delivery retries for one channel.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Backoff        string `toml:"backoff" yaml:"backoff"`
	InitialMS      int    `toml:"initial_ms" yaml:"initial_ms"`
	MaxMS          int    `toml:"max_ms" yaml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts" yaml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt" yaml:"log_each_attempt"`
}

// PagingSinkConfig defines the paging events-API transport.
// Params: endpoint URL, routing key, timeout, and retry policy.
// Returns: paging sink configuration.
type PagingSinkConfig struct {
	Enabled    bool        `toml:"enabled" yaml:"enabled"`
	URL        string      `toml:"url" yaml:"url"`
	RoutingKey string      `toml:"routing_key" yaml:"routing_key"`
	TimeoutSec int         `toml:"timeout_sec" yaml:"timeout_sec"`
	Retry      NotifyRetry `toml:"retry" yaml:"retry"`
}

// ChatSinkConfig defines the Telegram chat transport.
// Params: bot token, chat id, API base URL, and retry policy.
// Returns: chat sink configuration.
type ChatSinkConfig struct {
	Enabled  bool        `toml:"enabled" yaml:"enabled"`
	BotToken string      `toml:"bot_token" yaml:"bot_token"`
	ChatID   string      `toml:"chat_id" yaml:"chat_id"`
	APIBase  string      `toml:"api_base" yaml:"api_base"`
	Retry    NotifyRetry `toml:"retry" yaml:"retry"`
}

// EmailSinkConfig defines the SMTP email transport.
// Params: SMTP host/port, sender, credentials, and retry policy.
// Returns: email sink configuration.
type EmailSinkConfig struct {
	Enabled  bool        `toml:"enabled" yaml:"enabled"`
	Host     string      `toml:"host" yaml:"host"`
	Port     int         `toml:"port" yaml:"port"`
	From     string      `toml:"from" yaml:"from"`
	Username string      `toml:"username" yaml:"username"`
	Password string      `toml:"password" yaml:"password"`
	Retry    NotifyRetry `toml:"retry" yaml:"retry"`
}

// SMSSinkConfig defines the SMS provider webhook transport.
// Params: endpoint URL, sender id, auth token, timeout, and retry policy.
// Returns: SMS sink configuration.
type SMSSinkConfig struct {
	Enabled    bool        `toml:"enabled" yaml:"enabled"`
	URL        string      `toml:"url" yaml:"url"`
	From       string      `toml:"from" yaml:"from"`
	Token      string      `toml:"token" yaml:"token"`
	TimeoutSec int         `toml:"timeout_sec" yaml:"timeout_sec"`
	Retry      NotifyRetry `toml:"retry" yaml:"retry"`
}

// StatuspageSinkConfig defines the status-page incidents transport.
// Params: API base URL, page id, auth token, timeout, and retry policy.
// Returns: status-page sink configuration.
type StatuspageSinkConfig struct {
	Enabled    bool        `toml:"enabled" yaml:"enabled"`
	BaseURL    string      `toml:"base_url" yaml:"base_url"`
	PageID     string      `toml:"page_id" yaml:"page_id"`
	Token      string      `toml:"token" yaml:"token"`
	TimeoutSec int         `toml:"timeout_sec" yaml:"timeout_sec"`
	Retry      NotifyRetry `toml:"retry" yaml:"retry"`
}

// NotifyConfig defines outbound notification behavior.
// Params: shared sink timeout and per-channel transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	SinkTimeoutSec int                  `toml:"sink_timeout_sec" yaml:"sink_timeout_sec"`
	PagerDuty      PagingSinkConfig     `toml:"pagerduty" yaml:"pagerduty"`
	Telegram       ChatSinkConfig       `toml:"telegram" yaml:"telegram"`
	Email          EmailSinkConfig      `toml:"email" yaml:"email"`
	SMS            SMSSinkConfig        `toml:"sms" yaml:"sms"`
	Statuspage     StatuspageSinkConfig `toml:"statuspage" yaml:"statuspage"`
}

// ChannelEnabled reports whether one delivery channel is configured on.
// Params: notify config snapshot and channel key.
// Returns: enabled flag; false for unknown channels.
func ChannelEnabled(cfg NotifyConfig, channel string) bool {
	switch channel {
	case ChannelPagerDuty:
		return cfg.PagerDuty.Enabled
	case ChannelTelegram:
		return cfg.Telegram.Enabled
	case ChannelEmail:
		return cfg.Email.Enabled
	case ChannelSMS:
		return cfg.SMS.Enabled
	case ChannelStatuspage:
		return cfg.Statuspage.Enabled
	default:
		return false
	}
}

// ChannelRetry returns the retry policy for one delivery channel.
// Params: notify config snapshot and channel key.
// Returns: retry policy; zero value for unknown channels.
func ChannelRetry(cfg NotifyConfig, channel string) NotifyRetry {
	switch channel {
	case ChannelPagerDuty:
		return cfg.PagerDuty.Retry
	case ChannelTelegram:
		return cfg.Telegram.Retry
	case ChannelEmail:
		return cfg.Email.Retry
	case ChannelSMS:
		return cfg.SMS.Retry
	case ChannelStatuspage:
		return cfg.Statuspage.Retry
	default:
		return NotifyRetry{}
	}
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// Paths lists filesystem paths covered by the source.
// Params: none.
// Returns: single file path or directory path for watchers.
func (s ConfigSource) Paths() []string {
	if s.File != "" {
		return []string{s.File}
	}
	return []string{s.Dir}
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads one TOML or YAML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := decodeBody(path, body)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// decodeBody decodes one config fragment by file extension.
// Params: file path (extension selects decoder) and raw body.
// Returns: decoded fragment or decode error.
func decodeBody(path string, body []byte) (Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(body, &cfg); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	return cfg, nil
}

// loadDir reads and merges TOML/YAML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml/.yaml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, err := loadFile(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment)
	}
	return merged, nil
}

// mergeConfig overlays one fragment onto the destination snapshot.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasIngestConfig(src.Ingest) {
		dst.Ingest = src.Ingest
	}
	if src.State != (StateConfig{}) {
		dst.State = src.State
	}
	if hasNotifyConfig(src.Notify) {
		dst.Notify = src.Notify
	}
	if src.Sources.Poller.Enabled || len(src.Sources.Poller.Endpoints) > 0 || len(src.Sources.Poller.Rules) > 0 {
		dst.Sources = src.Sources
	}
	mergePolicy(&dst.Policy, src.Policy)
}

// hasIngestConfig checks whether the ingest section contains explicit values.
// Params: ingest configuration fragment.
// Returns: true when the section should replace the destination.
func hasIngestConfig(cfg IngestConfig) bool {
	if cfg.HTTP != (HTTPIngestConfig{}) {
		return true
	}
	return cfg.NATS.Enabled ||
		len(cfg.NATS.URL) > 0 ||
		cfg.NATS.AckWaitSec != 0 ||
		cfg.NATS.NackDelayMS != 0 ||
		cfg.NATS.MaxDeliver != 0 ||
		cfg.NATS.MaxAckPending != 0
}

// hasNotifyConfig checks whether the notify section contains explicit values.
// Params: notify configuration fragment.
// Returns: true when the section should replace the destination.
func hasNotifyConfig(cfg NotifyConfig) bool {
	return cfg.SinkTimeoutSec != 0 ||
		cfg.PagerDuty != (PagingSinkConfig{}) ||
		cfg.Telegram != (ChatSinkConfig{}) ||
		cfg.Email != (EmailSinkConfig{}) ||
		cfg.SMS != (SMSSinkConfig{}) ||
		cfg.Statuspage != (StatuspageSinkConfig{})
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "escalation"
	}
	if cfg.Service.CheckIntervalSec <= 0 {
		cfg.Service.CheckIntervalSec = defaultCheckIntervalSec
	}
	if cfg.Service.PollIntervalSec <= 0 {
		cfg.Service.PollIntervalSec = defaultPollIntervalSec
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.HealthPath) == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.ReadyPath) == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.WebhookPathPrefix) == "" {
		cfg.Ingest.HTTP.WebhookPathPrefix = defaultWebhookPathPrefix
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.AlertsPath) == "" {
		cfg.Ingest.HTTP.AlertsPath = defaultAlertsPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = 2 << 20
	}
	if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
		cfg.Ingest.HTTP.Enabled = true
	}
	if cfg.Ingest.NATS.Enabled {
		cfg.Ingest.NATS.URL = normalizeNATSURLs(cfg.Ingest.NATS.URL)
		if len(cfg.Ingest.NATS.URL) == 0 {
			cfg.Ingest.NATS.URL = []string{defaultNATSURL}
		}
		cfg.Ingest.NATS.Subject = defaultNATSSubject
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
		if cfg.Ingest.NATS.AckWaitSec <= 0 {
			cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
		}
		if cfg.Ingest.NATS.NackDelayMS <= 0 {
			cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
		}
		if cfg.Ingest.NATS.MaxDeliver == 0 {
			cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
		}
		if cfg.Ingest.NATS.MaxAckPending <= 0 {
			cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
		}
	}

	if strings.TrimSpace(cfg.State.Mode) == "" {
		cfg.State.Mode = StateModeMemory
	}
	if strings.TrimSpace(cfg.State.Bucket) == "" {
		cfg.State.Bucket = defaultNATSAlertBucket
	}

	if cfg.Notify.SinkTimeoutSec <= 0 {
		cfg.Notify.SinkTimeoutSec = defaultSinkTimeoutSec
	}
	if cfg.Notify.PagerDuty.TimeoutSec <= 0 {
		cfg.Notify.PagerDuty.TimeoutSec = defaultSinkTimeoutSec
	}
	if cfg.Notify.Telegram.APIBase == "" {
		cfg.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if cfg.Notify.Email.Port <= 0 {
		cfg.Notify.Email.Port = 587
	}
	if cfg.Notify.SMS.TimeoutSec <= 0 {
		cfg.Notify.SMS.TimeoutSec = defaultSinkTimeoutSec
	}
	if cfg.Notify.Statuspage.TimeoutSec <= 0 {
		cfg.Notify.Statuspage.TimeoutSec = defaultSinkTimeoutSec
	}
	fillNotifyRetryDefaults(&cfg.Notify.PagerDuty.Retry)
	fillNotifyRetryDefaults(&cfg.Notify.Telegram.Retry)
	fillNotifyRetryDefaults(&cfg.Notify.Email.Retry)
	fillNotifyRetryDefaults(&cfg.Notify.SMS.Retry)
	fillNotifyRetryDefaults(&cfg.Notify.Statuspage.Retry)

	if strings.TrimSpace(cfg.Policy.AutoRecovery.NotifyChannel) == "" {
		cfg.Policy.AutoRecovery.NotifyChannel = defaultRecoveryChannel
	}
	for _, action := range cfg.Policy.AutoRecovery.Actions {
		for i := range action.Conditions {
			if action.Conditions[i].AttemptCountMax == 0 {
				action.Conditions[i].AttemptCountMax = 1
			}
		}
	}
}

// fillNotifyRetryDefaults normalizes retry policy fields for one channel.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
}

// normalizeNATSURLs trims and deduplicates configured NATS URLs.
// Params: raw URL list from config.
// Returns: normalized URL list preserving first-seen order.
func normalizeNATSURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// validateConfig validates the full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first validation error found.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		return errors.New("ingest.http.listen is required")
	}
	switch cfg.State.Mode {
	case StateModeMemory, StateModeNATS:
	default:
		return fmt.Errorf("state.mode has unsupported value %q", cfg.State.Mode)
	}
	if cfg.State.Mode == StateModeNATS && !cfg.Ingest.NATS.Enabled && len(cfg.Ingest.NATS.URL) == 0 {
		return errors.New("state.mode=nats requires ingest.nats.url")
	}
	if cfg.Sources.Poller.Enabled {
		if len(cfg.Sources.Poller.Endpoints) == 0 {
			return errors.New("sources.poller.endpoints is required when the poller is enabled")
		}
		for i, rule := range cfg.Sources.Poller.Rules {
			if strings.TrimSpace(rule.Metric) == "" {
				return fmt.Errorf("sources.poller.rules[%d].metric is required", i)
			}
			if strings.TrimSpace(rule.AlertName) == "" {
				return fmt.Errorf("sources.poller.rules[%d].alert_name is required", i)
			}
			switch rule.Op {
			case "", "gt", "gte", "lt", "lte":
			default:
				return fmt.Errorf("sources.poller.rules[%d].op has unsupported value %q", i, rule.Op)
			}
		}
	}
	if !IsSupportedChannel(cfg.Policy.AutoRecovery.NotifyChannel) {
		return fmt.Errorf("auto_recovery.notify_channel has unsupported value %q", cfg.Policy.AutoRecovery.NotifyChannel)
	}
	if len(cfg.Policy.EscalationPaths) == 0 {
		return errors.New("at least one escalation path is required")
	}
	for roleName, role := range cfg.Policy.Roles {
		for _, method := range role.NotificationMethods {
			channel := BaseChannel(method)
			if !IsSupportedChannel(channel) {
				return fmt.Errorf("role %q method %q maps to unsupported channel %q", roleName, method, channel)
			}
		}
	}
	return validatePolicy(cfg.Policy)
}

// BaseChannel flattens one notification method to its base channel key.
// Params: method string, e.g. "pagerduty_primary".
// Returns: channel key up to the first underscore, lower-cased.
func BaseChannel(method string) string {
	normalized := strings.ToLower(strings.TrimSpace(method))
	if idx := strings.Index(normalized, "_"); idx > 0 {
		return normalized[:idx]
	}
	return normalized
}
