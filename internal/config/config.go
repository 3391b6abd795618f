package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	MCP           struct {
		URL     string            `json:"url"`
		Tool    string            `json:"tool"`
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"mcp"`
	Executor struct {
		Retries      int `json:"retries"`
		RetryDelayMS int `json:"retry_delay_ms"`
	} `json:"executor"`
	HTTP struct {
		Listen              string `json:"listen"`
		StaticDir           string `json:"static_dir"`
		QueryTimeoutSeconds int    `json:"query_timeout_seconds"`
	} `json:"http"`
	History struct {
		MaxTurnsPerSession int `json:"max_turns_per_session"`
		MaxSessions        int `json:"max_sessions"`
	} `json:"history"`
	Context struct {
		MaxTokens int    `json:"max_tokens"`
		Model     string `json:"model"`
	} `json:"context"`
	Transcript struct {
		Enabled      bool `json:"enabled"`
		ClearOnReset bool `json:"clear_on_reset"`
	} `json:"transcript"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

// Defaults returns the configuration used when no file overrides a value.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".databridge"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.MCP.URL = "http://localhost:8811/mcp"
	cfg.MCP.Tool = "plan_and_execute_workflow"
	cfg.Executor.RetryDelayMS = 500
	cfg.HTTP.Listen = ":8000"
	cfg.HTTP.QueryTimeoutSeconds = 120
	cfg.History.MaxTurnsPerSession = 100
	cfg.History.MaxSessions = 1000
	cfg.Context.Model = "gpt-4"
	return cfg
}

// QueryTimeout is the per-query deadline; zero disables it.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.HTTP.QueryTimeoutSeconds) * time.Second
}

// RetryDelay is the base delay between executor retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Executor.RetryDelayMS) * time.Millisecond
}

// TranscriptDir is where transcripts and result artifacts are kept.
func (c *Config) TranscriptDir() string {
	return c.DataDir
}

// PIDFile is the lock file of a running server.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "databridge.pid")
}

// DefaultPath returns the config file location under the user's home.
func DefaultPath() string {
	if p := os.Getenv("DATABRIDGE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".databridge", "config.json")
}

// Load reads the config at path, writing defaults there first if it does not
// exist. Environment variables take precedence over the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABRIDGE_MCP_URL"); v != "" {
		cfg.MCP.URL = v
	}
	if v := os.Getenv("DATABRIDGE_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("DATABRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// decode reads JSON or YAML into v. YAML goes through its JSON form so both
// formats share the json struct tags and the defaults already set in v.
func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return err
		}
		data = converted
	}
	return json.Unmarshal(data, v)
}

func encode(path string, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	if isYAML(path) {
		return yaml.JSONToYAML(data)
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map with JSON-typed values.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dotted keys, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw returns the file at path as a nested map with JSON-typed values.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := decode(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetValue returns the value stored under a dotted key in the file at path.
// Keys not present in the struct are still readable.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dotted key in the existing file at path.
// Values that parse as JSON (numbers, booleans) keep their type; anything
// else is stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat := Flatten(m)
	flat[key] = v

	data, err := encode(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
