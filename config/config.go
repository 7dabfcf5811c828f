package config

// Package config loads application configuration files and the suite
// tree described by testsuite files.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoExecutable is returned when an application config names no executable.
var ErrNoExecutable = errors.New("no executable configured")

var defaults = map[string]any{
	"log_file":              "output",
	"lsf_queue":             "normal",
	"compare_files":         []any{"output", "errors"},
	"filter_file_directory": []any{"filter_files"},
	"check_memory":          false,
	"check_performance":     true,
}

// Config holds the raw entries of a configuration file. It implements
// model.Config.
type Config struct {
	mu     sync.RWMutex
	values map[string]any
}

// FileName returns the name of the config file for app.
func FileName(app string) string {
	return "config." + app + ".yaml"
}

// Load reads config.<app>.yaml from dir.
func Load(dir, app string) (*Config, error) {
	path := filepath.Join(dir, FileName(app))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	c := &Config{values: map[string]any{}}
	if err := yaml.Unmarshal(data, &c.values); err != nil {
		return nil, err
	}
	if c.values == nil {
		c.values = map[string]any{}
	}
	for k, v := range defaults {
		if _, ok := c.values[k]; !ok {
			c.values[k] = v
		}
	}
	if s, _ := scalar(c.values["executable"]); s == "" {
		return nil, ErrNoExecutable
	}
	return c, nil
}

// Value returns a scalar entry, or "" if it is unset or not a scalar.
func (c *Config) Value(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, _ := scalar(c.values[key])
	return s
}

// Bool interprets a scalar entry as a boolean.
func (c *Config) Bool(key string) bool {
	b, err := strconv.ParseBool(c.Value(key))
	return err == nil && b
}

// List returns a list entry. A scalar is a list of one.
func (c *Config) List(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch v := c.values[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := scalar(item); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		if s, ok := scalar(v); ok && s != "" {
			return []string{s}
		}
	}
	return nil
}

// Map returns a mapping entry with scalar values.
func (c *Config) Map(key string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.values[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := scalar(v); ok {
			out[k] = s
		}
	}
	return out
}

// SetDefault sets key to value unless the key is already present.
func (c *Config) SetDefault(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.values[key] = value
	}
}

func scalar(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool, int, int64, uint64, float64:
		return fmt.Sprint(v), true
	}
	return "", false
}
