// Package config provides the ambient dot-path configuration tree: a
// gopkg.in/yaml.v3 backed map with typed accessors, and an fsnotify-driven
// watcher for reloading ACL/schema/config YAML sources without a process
// restart. Hot-reload of handler code itself is out of scope.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apcore/apcore-go/pkg/apcore"
	"gopkg.in/yaml.v3"
)

// Config is a read-only snapshot of a YAML document, addressable by
// dot-separated paths (e.g. "server.admin_address").
type Config struct {
	data map[string]any
}

// Load reads and parses a YAML file into a Config. A missing file or
// malformed YAML is reported as a *apcore.Error so callers can distinguish
// configuration failures from other I/O errors.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apcore.NewConfigNotFoundError(path)
	}
	return Parse(raw, path)
}

// Parse decodes raw YAML bytes into a Config. source is used only for error
// reporting.
func Parse(raw []byte, source string) (*Config, error) {
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, apcore.NewConfigError("invalid config file: "+err.Error(), map[string]any{"file": source})
	}
	if data == nil {
		data = map[string]any{}
	}
	return &Config{data: normalizeMap(data)}, nil
}

// New wraps an already-decoded map as a Config, useful for tests and
// programmatically-assembled configuration.
func New(data map[string]any) *Config {
	return &Config{data: normalizeMap(data)}
}

// normalizeMap recursively converts map[any]any (yaml.v3 decodes mappings
// with string keys into map[string]any already, but nested interface{}
// values coming from merges or manual construction may still carry
// map[string]interface{} with mixed key types) into map[string]any.
func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case []any:
		arr := make([]any, len(val))
		for i, e := range val {
			arr[i] = normalizeValue(e)
		}
		return arr
	default:
		return val
	}
}

// Get resolves a dot-path key against the tree, returning def if any
// segment is missing or the path traverses through a non-map value.
func (c *Config) Get(key string, def any) any {
	if c == nil {
		return def
	}
	segments := strings.Split(key, ".")
	var cur any = c.data
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		v, present := m[seg]
		if !present {
			return def
		}
		cur = v
	}
	return cur
}

// GetString resolves key as a string, returning def if absent or not a string.
func (c *Config) GetString(key, def string) string {
	v := c.Get(key, nil)
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// GetInt resolves key as an int, accepting YAML's native int/int64/float64
// decodings and numeric strings.
func (c *Config) GetInt(key string, def int) int {
	v := c.Get(key, nil)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return def
}

// GetBool resolves key as a bool, returning def if absent or not a bool.
func (c *Config) GetBool(key string, def bool) bool {
	v := c.Get(key, nil)
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// GetDuration resolves key as a time.Duration, accepting Go duration
// strings ("30s", "1m") or a bare integer/float number of seconds.
func (c *Config) GetDuration(key string, def time.Duration) time.Duration {
	v := c.Get(key, nil)
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// GetStringSlice resolves key as a []string, skipping non-string elements.
func (c *Config) GetStringSlice(key string) []string {
	v := c.Get(key, nil)
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Sub returns the subtree rooted at key as its own Config, or an empty
// Config if key is absent or not a map.
func (c *Config) Sub(key string) *Config {
	v := c.Get(key, nil)
	if m, ok := v.(map[string]any); ok {
		return &Config{data: m}
	}
	return &Config{data: map[string]any{}}
}

// Raw returns the underlying decoded map. Callers must not mutate it.
func (c *Config) Raw() map[string]any {
	return c.data
}

// String implements fmt.Stringer for debugging/logging.
func (c *Config) String() string {
	return fmt.Sprintf("config(%d top-level keys)", len(c.data))
}
