package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the bridge.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Downstream DownstreamConfig `json:"downstream" yaml:"downstream"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// ServerConfig is the HTTP listener that accepts /send.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// DownstreamConfig is the service inbound messages are relayed to.
type DownstreamConfig struct {
	URL       string `json:"url" yaml:"url"`
	TimeoutMs int    `json:"timeoutMs" yaml:"timeoutMs"`
}

type SessionConfig struct {
	Name   string `json:"name" yaml:"name"`                         // device name, also the default store filename
	DBPath string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"` // sqlite file holding the paired device
}

type DispatchConfig struct {
	BufferSize int `json:"bufferSize" yaml:"bufferSize"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"` // optional; output is teed to stderr
}

// MetricsConfig mounts a Prometheus text endpoint on the HTTP listener.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// Environment variables that override file values.
const (
	EnvPort          = "PORT"
	EnvDownstreamURL = "URL_PYTHON"
)

// DefaultConfigDir returns the default config directory (~/.wabridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(home, ".wabridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// Read parses the config file at path over Defaults without applying
// environment overrides or validation. Used when the file is rewritten.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to Defaults when the file
// does not exist.
func LoadOrDefaults(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg, err = finish(Defaults())
	return cfg, false, err
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Session.DBPath == "" && cfg.Session.Name != "" {
		cfg.Session.DBPath = filepath.Join(DefaultConfigDir(), cfg.Session.Name+".db")
	}
	cfg.Session.DBPath = ExpandPath(cfg.Session.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv(EnvDownstreamURL); ok && v != "" {
		cfg.Downstream.URL = v
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, exists := os.LookupEnv(groups[1])
		if exists && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg to path, as YAML when the extension asks for it.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

// Update sets one dot-path in the config file at path and writes it back.
// The file is edited in its unexpanded form, so ${VAR} templates in other
// fields survive. A missing file is created holding only that key.
func Update(path, key, value string) error {
	path = ExpandPath(path)

	cfg, err := Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = Defaults()
	case err != nil:
		return err
	}
	if err := SetByPath(cfg, key, value); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	typed, err := GetByPath(cfg, key)
	if err != nil {
		return err
	}

	raw := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	if len(data) > 0 {
		if isYAML(path) {
			err = yaml.Unmarshal(data, &raw)
		} else {
			err = json.Unmarshal(data, &raw)
		}
		if err != nil {
			return fmt.Errorf("cannot parse config file %s before expansion: %w", path, err)
		}
	}

	section, field, _ := strings.Cut(key, ".")
	sub, ok := raw[section].(map[string]any)
	if !ok {
		sub = map[string]any{}
		raw[section] = sub
	}
	sub[field] = typed

	return writeFile(path, raw)
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if u, err := url.Parse(cfg.Downstream.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "downstream.url must be an absolute http(s) URL")
	}
	if cfg.Downstream.TimeoutMs < 1 {
		errs = append(errs, "downstream.timeoutMs must be >= 1")
	}

	if strings.TrimSpace(cfg.Session.Name) == "" {
		errs = append(errs, "session.name is required")
	}
	if cfg.Dispatch.BufferSize < 1 {
		errs = append(errs, "dispatch.bufferSize must be >= 1")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		} else if cfg.Metrics.Endpoint == "/send" {
			errs = append(errs, "metrics.endpoint cannot be /send")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
