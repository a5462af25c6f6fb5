package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `
[council]
addr = ":9090"
db_path = "data/test.db"
session_timeout_ms = 20000
max_outbound = 16
strict_invariants = true
subject_types = ["policy", "model_release"]

[providers.openai]
base_url = "https://api.openai.com/v1/responses"
model = "gpt-4.1-mini"
api_key_env = "COUNCIL_TEST_OPENAI_KEY"
timeout_ms = 15000
retries = 0

[providers.mistral]
model = "mistral-small-latest"
api_key = "sk-literal"
`

func TestParse(t *testing.T) {
	cfg, err := Parse(sampleConfig, "inline.toml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Council.Addr != ":9090" || cfg.Council.SessionTimeoutMS != 20000 || cfg.Council.MaxOutbound != 16 {
		t.Fatalf("council section decoded wrong: %+v", cfg.Council)
	}
	if !cfg.Council.StrictInvariants {
		t.Fatalf("expected strict_invariants=true")
	}
	if len(cfg.Council.SubjectTypes) != 2 {
		t.Fatalf("subject_types=%v", cfg.Council.SubjectTypes)
	}
	if got := cfg.Provider("openai").Model; got != "gpt-4.1-mini" {
		t.Fatalf("openai model=%q", got)
	}
	if r := cfg.Provider("openai").Retries; r == nil || *r != 0 {
		t.Fatalf("explicit retries=0 lost: %v", r)
	}
	if r := cfg.Provider("mistral").Retries; r != nil {
		t.Fatalf("unset retries should stay nil, got %d", *r)
	}
	if got := cfg.Provider("unknown"); got != (ProviderConfig{}) {
		t.Fatalf("expected zero provider config, got %+v", got)
	}

	providers := cfg.Raw["providers"].(map[string]any)
	mistral := providers["mistral"].(map[string]any)
	if mistral["api_key"] != "***" {
		t.Fatalf("literal api key was not redacted: %v", mistral["api_key"])
	}
	openai := providers["openai"].(map[string]any)
	if openai["api_key_env"] != "COUNCIL_TEST_OPENAI_KEY" {
		t.Fatalf("env var name should not be redacted: %v", openai["api_key_env"])
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("COUNCIL_TEST_OPENAI_KEY", "  secret  ")
	p := ProviderConfig{APIKeyEnv: "COUNCIL_TEST_OPENAI_KEY"}
	if got := p.APIKey(); got != "secret" {
		t.Fatalf("APIKey()=%q", got)
	}
	if got := (ProviderConfig{}).APIKey(); got != "" {
		t.Fatalf("APIKey() without env=%q", got)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path=%q want=%q", cfg.Path, path)
	}
}
