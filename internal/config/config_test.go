package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFile writes one config fragment for a test.
// Params: test handle, directory, file name, and body.
// Returns: full path of the written file.
func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const minimalPolicyTOML = `
[policy.escalation_paths.P1.initial_response]
roles = ["primary_oncall"]
conditions = [{ no_acknowledgment_within = 15 }]

[policy.escalation_paths.P1.first_level]
roles = ["team_lead"]

[policy.roles.primary_oncall]
description = "Primary on-call engineer"
notification_methods = ["pagerduty_high_urgency", "telegram_direct"]

[policy.roles.team_lead]
description = "Team lead"
notification_methods = ["telegram_direct", "email"]
`

// TestFromCLIRequiresExactlyOneSource verifies source argument validation.
// Params: t standard test handle.
// Returns: fails the test when validation does not hold.
func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error for empty source")
	}
	if _, err := FromCLI("a.toml", "confdir"); err == nil {
		t.Fatalf("expected error for both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil {
		t.Fatalf("file source: %v", err)
	}
	if src.File != "a.toml" || src.Dir != "" {
		t.Fatalf("unexpected source: %+v", src)
	}
}

// TestLoadSnapshotFileTOML verifies single-file loading and defaults.
// Params: t standard test handle.
// Returns: fails the test when load or defaults are wrong.
func TestLoadSnapshotFileTOML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[service]
name = "escalation-test"

[notify.telegram]
enabled = true
bot_token = "token"
chat_id = "-100"
`+minimalPolicyTOML)

	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if cfg.Service.Name != "escalation-test" {
		t.Fatalf("unexpected service name %q", cfg.Service.Name)
	}
	if cfg.Service.CheckIntervalSec != defaultCheckIntervalSec {
		t.Fatalf("expected default check interval, got %d", cfg.Service.CheckIntervalSec)
	}
	if !cfg.Ingest.HTTP.Enabled {
		t.Fatalf("expected HTTP ingest enabled by default")
	}
	if cfg.State.Mode != StateModeMemory {
		t.Fatalf("expected memory state default, got %q", cfg.State.Mode)
	}
	if cfg.Notify.Telegram.APIBase == "" {
		t.Fatalf("expected telegram api base default")
	}
	if cfg.Policy.AutoRecovery.NotifyChannel != ChannelTelegram {
		t.Fatalf("expected default recovery channel, got %q", cfg.Policy.AutoRecovery.NotifyChannel)
	}
}

// TestLoadSnapshotDirMergesFragments verifies lexicographic fragment merge
// across TOML and YAML files.
// Params: t standard test handle.
// Returns: fails the test when merge order or content is wrong.
func TestLoadSnapshotDirMergesFragments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "10-service.toml", `
[service]
name = "first"
check_interval_sec = 5
`+minimalPolicyTOML)
	writeFile(t, dir, "20-service.toml", `
[service]
name = "second"
check_interval_sec = 7
`)
	writeFile(t, dir, "30-policy.yaml", `
policy:
  escalation_paths:
    P2:
      initial_response:
        roles: [primary_oncall]
        conditions:
          - no_update_within: 30
`)
	writeFile(t, dir, "ignore.txt", "not config")

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if cfg.Service.Name != "second" || cfg.Service.CheckIntervalSec != 7 {
		t.Fatalf("later fragment should win, got %+v", cfg.Service)
	}
	if _, ok := cfg.Policy.EscalationPaths["P1"]; !ok {
		t.Fatalf("P1 path lost during merge")
	}
	p2, ok := cfg.Policy.EscalationPaths["P2"]
	if !ok {
		t.Fatalf("P2 path not merged from YAML fragment")
	}
	conds := p2["initial_response"].Conditions
	if len(conds) != 1 || conds[0].Kind != ConditionNoUpdate || conds[0].Minutes != 30 {
		t.Fatalf("unexpected P2 conditions: %+v", conds)
	}
}

// TestConditionUnmarshalForms verifies both condition encodings.
// Params: t standard test handle.
// Returns: fails the test when either form decodes incorrectly.
func TestConditionUnmarshalForms(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[policy.escalation_paths.P3.initial_response]
roles = ["primary_oncall"]
conditions = [
	{ no_resolution_within = 120 },
	{ kind = "no_acknowledgment_within", minutes = 45 },
]

[policy.roles.primary_oncall]
notification_methods = ["email"]
`)

	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	conds := cfg.Policy.EscalationPaths["P3"]["initial_response"].Conditions
	if len(conds) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(conds))
	}
	if conds[0].Kind != ConditionNoResolution || conds[0].Minutes != 120 {
		t.Fatalf("short form decoded wrong: %+v", conds[0])
	}
	if conds[1].Kind != ConditionNoAcknowledgment || conds[1].Minutes != 45 {
		t.Fatalf("explicit form decoded wrong: %+v", conds[1])
	}
}

// TestRecoveryAttemptMaxDefaultsToOne verifies the omitted-field default.
// Params: t standard test handle.
// Returns: fails the test when an omitted attempt_count_max disables
// the condition or an explicit bound is overwritten.
func TestRecoveryAttemptMaxDefaultsToOne(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[policy.auto_recovery]
enabled = true

[policy.auto_recovery.actions.restart_service]
description = "Restart the failing service"
conditions = [
	{ alert = "Service Down", severity = ["P3"] },
	{ alert = "Disk Full", severity = ["P2"], attempt_count_max = 3 },
]
`+minimalPolicyTOML)

	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	conds := cfg.Policy.AutoRecovery.Actions["restart_service"].Conditions
	if len(conds) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(conds))
	}
	if conds[0].AttemptCountMax != 1 {
		t.Fatalf("omitted attempt_count_max must default to 1, got %d", conds[0].AttemptCountMax)
	}
	if conds[1].AttemptCountMax != 3 {
		t.Fatalf("explicit attempt_count_max must be kept, got %d", conds[1].AttemptCountMax)
	}
}

// TestValidateConfigRejectsBadInput verifies validation failures.
// Params: t standard test handle.
// Returns: fails the test when invalid config passes validation.
func TestValidateConfigRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	noPath := writeFile(t, dir, "nopath.toml", `
[service]
name = "x"
`)
	if _, err := LoadSnapshot(ConfigSource{File: noPath}); err == nil {
		t.Fatalf("expected error without escalation paths")
	}

	badMode := writeFile(t, dir, "badmode.toml", `
[state]
mode = "postgres"
`+minimalPolicyTOML)
	if _, err := LoadSnapshot(ConfigSource{File: badMode}); err == nil {
		t.Fatalf("expected error for unsupported state mode")
	}

	badChannel := writeFile(t, dir, "badchannel.toml", `
[policy.roles.primary_oncall]
notification_methods = ["carrier_pigeon"]

[policy.escalation_paths.P1.initial_response]
roles = ["primary_oncall"]
`)
	_, err := LoadSnapshot(ConfigSource{File: badChannel})
	if err == nil || !strings.Contains(err.Error(), "unsupported channel") {
		t.Fatalf("expected unsupported channel error, got %v", err)
	}

	badSeverity := writeFile(t, dir, "badseverity.toml", `
[policy.escalation_paths.P9.initial_response]
roles = ["primary_oncall"]

[policy.roles.primary_oncall]
notification_methods = ["email"]
`)
	if _, err := LoadSnapshot(ConfigSource{File: badSeverity}); err == nil {
		t.Fatalf("expected error for unknown severity key")
	}
}

// TestBaseChannel verifies method flattening to channel keys.
// Params: t standard test handle.
// Returns: fails the test when flattening is wrong.
func TestBaseChannel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"pagerduty_high_urgency": "pagerduty",
		"telegram_direct":        "telegram",
		"email":                  "email",
		" SMS_bulk ":             "sms",
		"statuspage":             "statuspage",
	}
	for method, want := range cases {
		if got := BaseChannel(method); got != want {
			t.Fatalf("BaseChannel(%q) = %q, want %q", method, got, want)
		}
	}
}
