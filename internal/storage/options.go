package storage

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Options reads one backend's flat string configuration. Accessors return
// the default for a missing or empty key and remember the first malformed
// value, so a factory reads every key and checks Err once.
type Options struct {
	backend string
	values  map[string]string
	err     error
}

// NewOptions wraps values for backend.
func NewOptions(backend string, values map[string]string) *Options {
	return &Options{backend: backend, values: values}
}

// Err returns the first recorded problem as a *ConfigError.
func (o *Options) Err() error { return o.err }

// Invalid records a problem with key unless one is already recorded.
func (o *Options) Invalid(key, message string) {
	if o.err == nil {
		o.err = &ConfigError{Backend: o.backend, Field: key, Value: o.values[key], Message: message}
	}
}

func (o *Options) raw(key string) (string, bool) {
	v := strings.TrimSpace(o.values[key])
	return v, v != ""
}

// String returns key or def.
func (o *Options) String(key, def string) string {
	if v, ok := o.raw(key); ok {
		return v
	}
	return def
}

// Require returns key and records an error when it is empty.
func (o *Options) Require(key string) string {
	v, ok := o.raw(key)
	if !ok {
		o.Invalid(key, "cannot be empty")
	}
	return v
}

// Path returns key as an absolute path with a leading ~ expanded.
func (o *Options) Path(key string) string {
	v := o.Require(key)
	if v == "" {
		return ""
	}
	abs, err := filepath.Abs(ExpandPath(v))
	if err != nil {
		o.Invalid(key, "cannot resolve path")
		return ""
	}
	return abs
}

// Bool accepts true/false, 1/0 and yes/no in any case.
func (o *Options) Bool(key string, def bool) bool {
	v, ok := o.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	o.Invalid(key, "must be a boolean (true/false, 1/0, yes/no)")
	return def
}

// Int returns key as an int that must be at least floor.
func (o *Options) Int(key string, def, floor int) int {
	v, ok := o.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		o.Invalid(key, "must be an integer")
		return def
	}
	if i < floor {
		o.Invalid(key, fmt.Sprintf("must be at least %d", floor))
		return def
	}
	return i
}

// Bytes returns key as a byte count. Plain integers and sizes such as
// "64MiB" or "1GB" are accepted.
func (o *Options) Bytes(key string, def int64) int64 {
	v, ok := o.raw(key)
	if !ok {
		return def
	}
	n, err := humanize.ParseBytes(v)
	if err != nil || n == 0 || n > 1<<62 {
		o.Invalid(key, "must be a positive size (e.g. 268435456, 256MiB)")
		return def
	}
	return int64(n)
}

// Duration accepts Go duration strings or plain integers as seconds.
func (o *Options) Duration(key string, def time.Duration) time.Duration {
	v, ok := o.raw(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	o.Invalid(key, "must be a duration (e.g. '5s', '1m30s') or integer seconds")
	return def
}

// FileMode returns key parsed as an octal permission string such as "0700".
func (o *Options) FileMode(key string, def os.FileMode) os.FileMode {
	v, ok := o.raw(key)
	if !ok {
		return def
	}
	m, err := strconv.ParseUint(v, 8, 32)
	if err != nil || m > 0o777 {
		o.Invalid(key, "must be an octal permission string (e.g. 0700)")
		return def
	}
	return os.FileMode(m)
}

// ExpandPath expands ~ to the user's home directory and cleans the path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return filepath.Clean(path)
}

// Merge returns defaults overlaid with config.
func Merge(defaults, config map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(config))
	maps.Copy(out, defaults)
	maps.Copy(out, config)
	return out
}
