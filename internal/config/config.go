package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Council   CouncilRuntimeConfig      `toml:"council"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Raw       map[string]any            `toml:"-"`
	Path      string                    `toml:"-"`
}

type ProviderConfig struct {
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	TimeoutMS int    `toml:"timeout_ms"`
	// Retries is nil when unset; an explicit 0 disables retries.
	Retries *int `toml:"retries"`
}

// APIKey resolves the key from the environment variable named by APIKeyEnv.
func (p ProviderConfig) APIKey() string {
	if strings.TrimSpace(p.APIKeyEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

type CouncilRuntimeConfig struct {
	Addr               string   `toml:"addr"`
	DBPath             string   `toml:"db_path"`
	RosterPath         string   `toml:"roster_path"`
	ExportDir          string   `toml:"export_dir"`
	SessionTimeoutMS   int      `toml:"session_timeout_ms"`
	MaxWaitMS          int      `toml:"max_wait_ms"`
	MaxOutbound        int      `toml:"max_outbound"`
	RecoveryIntervalMS int      `toml:"recovery_interval_ms"`
	RecoveryGraceMS    int      `toml:"recovery_grace_ms"`
	StrictInvariants   bool     `toml:"strict_invariants"`
	Mock               bool     `toml:"mock"`
	SubjectTypes       []string `toml:"subject_types"`
	MaxTitleLen        int      `toml:"max_title_len"`
	MaxDescriptionLen  int      `toml:"max_description_len"`
}

// Load reads a TOML config file. A missing file at the default location is
// not an error: the zero Config is returned and callers fall back to
// defaults. An explicitly named file must exist.
func Load(path string) (Config, error) {
	explicit := strings.TrimSpace(path) != ""
	resolved := path
	if !explicit {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return Config{Path: resolved, Raw: map[string]any{}}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	return Parse(string(bytes), resolved)
}

func Parse(doc string, path string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(doc, &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = redactSecrets(raw)
	cfg.Path = path
	return cfg, nil
}

func (c Config) Provider(name string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[name]
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".council/config.toml"
	}
	return filepath.Join(home, ".council", "config.toml")
}

// redactSecrets blanks any literal key material before Raw is served by /config.
func redactSecrets(raw map[string]any) map[string]any {
	for k, v := range raw {
		switch val := v.(type) {
		case map[string]any:
			raw[k] = redactSecrets(val)
		case string:
			lower := strings.ToLower(k)
			if (strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret")) && !strings.HasSuffix(lower, "_env") {
				raw[k] = "***"
			}
		}
	}
	return raw
}
