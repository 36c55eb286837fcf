// Package config loads the settings used to assemble a key/value store from
// json, yaml or toml files and KV_ environment variables.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
	jsoniter "github.com/json-iterator/go"
	"github.com/micro/go-kv/logger"
	"github.com/micro/go-kv/sync"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownFormat is returned for files that are not json, yaml or toml
	ErrUnknownFormat = errors.New("unknown config format")

	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// Backends that can be named in a config
	Backends = []string{"memory", "session", "local", "file", "database", "redis"}
	// Brokers that can carry sync messages
	Brokers = []string{"", "memory", "nats", "redis", "file"}
)

// Config selects a backend and configures expiry and sync. Durations are
// milliseconds.
type Config struct {
	Backend   string   `json:"backend" toml:"backend"`
	Namespace string   `json:"namespace" toml:"namespace"`
	Dir       string   `json:"dir" toml:"dir"`
	Nodes     []string `json:"nodes,omitempty" toml:"nodes"`
	LogLevel  string   `json:"logLevel" toml:"logLevel"`
	TTL       TTL      `json:"ttl" toml:"ttl"`
	Sync      Sync     `json:"sync" toml:"sync"`
}

// TTL configures the expiration manager.
type TTL struct {
	DefaultTTL      int64 `json:"defaultTTL" toml:"defaultTTL"`
	CleanupInterval int64 `json:"cleanupInterval" toml:"cleanupInterval"`
	AutoCleanup     bool  `json:"autoCleanup" toml:"autoCleanup"`
	BatchSize       int   `json:"batchSize" toml:"batchSize"`
}

// Sync configures the synchronization manager and its transports.
type Sync struct {
	Enabled            bool     `json:"enabled" toml:"enabled"`
	ChannelName        string   `json:"channelName" toml:"channelName"`
	Storages           []string `json:"storages,omitempty" toml:"storages"`
	ConflictResolution string   `json:"conflictResolution" toml:"conflictResolution"`
	DebounceMs         int64    `json:"debounceMs" toml:"debounceMs"`
	// Broker is the primary channel
	Broker   string   `json:"broker" toml:"broker"`
	Address  []string `json:"address,omitempty" toml:"address"`
	// Fallback is the legacy change notification transport
	Fallback string `json:"fallback" toml:"fallback"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Backend:  "memory",
		LogLevel: logger.InfoLevel.String(),
		TTL: TTL{
			CleanupInterval: 60000,
			AutoCleanup:     true,
			BatchSize:       100,
		},
		Sync: Sync{
			Enabled:            true,
			ChannelName:        sync.DefaultChannel,
			ConflictResolution: "latest",
			DebounceMs:         100,
			Broker:             "memory",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (Config, error) {
	c := Defaults()
	if len(path) > 0 {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, errors.Wrap(err, "read config")
		}
		if err := Decode(b, Format(path), &c); err != nil {
			return c, errors.Wrapf(err, "load %s", path)
		}
	}
	if err := Env(&c); err != nil {
		return c, err
	}
	return c, c.Validate()
}

// Format returns the format named by the file extension.
func Format(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "yml" {
		return "yaml"
	}
	return ext
}

// Decode unmarshals data in the given format into c. Keys absent from data
// keep the value already in c.
func Decode(data []byte, format string, c *Config) error {
	switch format {
	case "json":
		return json.Unmarshal(data, c)
	case "yaml":
		return yaml.Unmarshal(data, c)
	case "toml":
		return toml.Unmarshal(data, c)
	}
	return errors.Wrap(ErrUnknownFormat, format)
}

// Encode writes c in the given format.
func Encode(c Config, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(c, "", "  ")
	case "yaml":
		return yaml.Marshal(c)
	case "toml":
		b := bytes.NewBuffer(nil)
		if err := toml.NewEncoder(b).Encode(c); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	}
	return nil, errors.Wrap(ErrUnknownFormat, format)
}

// Merge overrides dst with the non-zero fields of src.
func Merge(dst *Config, src Config) error {
	return mergo.Merge(dst, src, mergo.WithOverride)
}

// Validate rejects unknown backends, brokers, strategies and log levels.
func (c Config) Validate() error {
	if !contains(Backends, c.Backend) {
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if !contains(Brokers, c.Sync.Broker) {
		return errors.Errorf("unknown sync broker %q", c.Sync.Broker)
	}
	if !contains(Brokers, c.Sync.Fallback) {
		return errors.Errorf("unknown sync fallback %q", c.Sync.Fallback)
	}
	if _, err := sync.ParseStrategy(c.Sync.ConflictResolution); err != nil {
		return err
	}
	if _, err := logger.GetLevel(c.LogLevel); err != nil {
		return err
	}
	if c.TTL.DefaultTTL < 0 || c.TTL.CleanupInterval < 0 || c.TTL.BatchSize < 0 || c.Sync.DebounceMs < 0 {
		return errors.New("durations and sizes must not be negative")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
