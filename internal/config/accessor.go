package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// fields maps every settable dot-path to the Config field it addresses.
func fields(cfg *Config) map[string]any {
	return map[string]any{
		"server.host":          &cfg.Server.Host,
		"server.port":          &cfg.Server.Port,
		"downstream.url":       &cfg.Downstream.URL,
		"downstream.timeoutMs": &cfg.Downstream.TimeoutMs,
		"session.name":         &cfg.Session.Name,
		"session.dbPath":       &cfg.Session.DBPath,
		"dispatch.bufferSize":  &cfg.Dispatch.BufferSize,
		"log.level":            &cfg.Log.Level,
		"log.file":             &cfg.Log.File,
		"metrics.enabled":      &cfg.Metrics.Enabled,
		"metrics.endpoint":     &cfg.Metrics.Endpoint,
	}
}

// GetByPath retrieves a config value by dot-notation path (e.g. "downstream.url").
func GetByPath(cfg *Config, path string) (any, error) {
	field, ok := fields(cfg)[path]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return deref(field), nil
}

// SetByPath parses value for the field at path and stores it. Unknown paths
// and values of the wrong type are rejected without touching cfg.
func SetByPath(cfg *Config, path, value string) error {
	field, ok := fields(cfg)[path]
	if !ok {
		return fmt.Errorf("key not found: %s", path)
	}

	switch p := field.(type) {
	case *string:
		*p = value
	case *int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", path, value)
		}
		*p = n
	case *bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		*p = b
	default:
		return fmt.Errorf("unsupported field type %T at %s", field, path)
	}
	return nil
}

// Paths returns every settable path in sorted order.
func Paths() []string {
	all := fields(&Config{})
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	result := make(map[string]any)
	for path, field := range fields(cfg) {
		result[path] = deref(field)
	}
	return result
}

func deref(field any) any {
	switch p := field.(type) {
	case *string:
		return *p
	case *int:
		return *p
	case *bool:
		return *p
	}
	return nil
}

// Sanitize returns a copy of the config with sensitive values masked.
// Credentials embedded in the downstream URL are the only secrets it holds.
func Sanitize(cfg *Config) *Config {
	copy := *cfg

	if u, err := url.Parse(copy.Downstream.URL); err == nil && u.User != nil {
		if pass, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), maskString(pass))
			copy.Downstream.URL = u.String()
		}
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
