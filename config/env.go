package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EnvPrefix starts every environment override
const EnvPrefix = "KV_"

type setter func(c *Config, v string) error

var env = map[string]setter{
	"BACKEND":   func(c *Config, v string) error { c.Backend = v; return nil },
	"NAMESPACE": func(c *Config, v string) error { c.Namespace = v; return nil },
	"DIR":       func(c *Config, v string) error { c.Dir = v; return nil },
	"ADDRESS":   func(c *Config, v string) error { c.Nodes = list(v); return nil },
	"LOG_LEVEL": func(c *Config, v string) error { c.LogLevel = v; return nil },

	"DEFAULT_TTL":      func(c *Config, v string) error { return millis(v, &c.TTL.DefaultTTL) },
	"CLEANUP_INTERVAL": func(c *Config, v string) error { return millis(v, &c.TTL.CleanupInterval) },
	"AUTO_CLEANUP":     func(c *Config, v string) error { return boolean(v, &c.TTL.AutoCleanup) },
	"BATCH_SIZE": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.TTL.BatchSize = n
		return err
	},

	"SYNC_ENABLED":  func(c *Config, v string) error { return boolean(v, &c.Sync.Enabled) },
	"SYNC_CHANNEL":  func(c *Config, v string) error { c.Sync.ChannelName = v; return nil },
	"SYNC_STORAGES": func(c *Config, v string) error { c.Sync.Storages = list(v); return nil },
	"SYNC_CONFLICT": func(c *Config, v string) error { c.Sync.ConflictResolution = v; return nil },
	"SYNC_DEBOUNCE": func(c *Config, v string) error { return millis(v, &c.Sync.DebounceMs) },
	"SYNC_BROKER":   func(c *Config, v string) error { c.Sync.Broker = v; return nil },
	"SYNC_ADDRESS":  func(c *Config, v string) error { c.Sync.Address = list(v); return nil },
	"SYNC_FALLBACK": func(c *Config, v string) error { c.Sync.Fallback = v; return nil },
}

// Env applies the KV_ environment variables to c.
func Env(c *Config) error {
	return apply(c, os.LookupEnv)
}

func apply(c *Config, lookup func(string) (string, bool)) error {
	for name, set := range env {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, strings.TrimSpace(v)); err != nil {
			return errors.Wrapf(err, "%s%s", EnvPrefix, name)
		}
	}
	return nil
}

func list(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// millis accepts a plain number of milliseconds or a duration like 5m.
func millis(v string, dst *int64) error {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d.Milliseconds()
	return nil
}

func boolean(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
