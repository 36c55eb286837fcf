package config

import (
	"path/filepath"
	"time"

	"github.com/micro/go-kv/broker"
	bfile "github.com/micro/go-kv/broker/file"
	bmemory "github.com/micro/go-kv/broker/memory"
	bnats "github.com/micro/go-kv/broker/nats"
	bredis "github.com/micro/go-kv/broker/redis"
	"github.com/micro/go-kv/logger"
	"github.com/micro/go-kv/store"
	"github.com/micro/go-kv/store/database"
	"github.com/micro/go-kv/store/file"
	"github.com/micro/go-kv/store/local"
	"github.com/micro/go-kv/store/memory"
	"github.com/micro/go-kv/store/redis"
	"github.com/micro/go-kv/store/session"
	"github.com/micro/go-kv/sync"
	"github.com/micro/go-kv/ttl"
	"github.com/pkg/errors"
)

func ms(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Logger returns a logger at the configured level.
func (c Config) Logger() (logger.Logger, error) {
	lvl, err := logger.GetLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.NewLogger(logger.WithLevel(lvl)), nil
}

// Store returns the configured backend.
func (c Config) Store() (store.Store, error) {
	opts := []store.Option{store.Namespace(c.Namespace)}
	if len(c.Dir) > 0 {
		opts = append(opts, store.Dir(c.Dir))
	}
	if len(c.Nodes) > 0 {
		opts = append(opts, store.Nodes(c.Nodes...))
	}

	switch c.Backend {
	case "", "memory":
		return memory.NewStore(opts...), nil
	case "session":
		return session.NewStore(opts...), nil
	case "local":
		return local.NewStore(opts...), nil
	case "file":
		return file.NewStore(opts...), nil
	case "database":
		return database.NewStore(opts...), nil
	case "redis":
		return redis.NewStore(opts...), nil
	}
	return nil, errors.Errorf("unknown backend %q", c.Backend)
}

// TTLOptions returns the expiration manager options.
func (c Config) TTLOptions() []ttl.Option {
	return []ttl.Option{
		ttl.DefaultTTL(ms(c.TTL.DefaultTTL)),
		ttl.CleanupInterval(ms(c.TTL.CleanupInterval)),
		ttl.AutoCleanup(c.TTL.AutoCleanup),
		ttl.BatchSize(c.TTL.BatchSize),
	}
}

// Broker returns the named transport, nil for none.
func (c Config) Broker(name string) (broker.Broker, error) {
	opts := []broker.Option{}
	if len(c.Sync.Address) > 0 {
		opts = append(opts, broker.Addrs(c.Sync.Address...))
	}

	switch name {
	case "":
		return nil, nil
	case "memory":
		return bmemory.NewBroker(opts...), nil
	case "nats":
		return bnats.NewBroker(opts...), nil
	case "redis":
		return bredis.NewBroker(opts...), nil
	case "file":
		if len(c.Sync.Address) == 0 && len(c.Dir) > 0 {
			opts = append(opts, broker.Addrs(filepath.Join(c.Dir, "broker")))
		}
		return bfile.NewBroker(opts...), nil
	}
	return nil, errors.Errorf("unknown broker %q", name)
}

// SyncOptions returns the synchronization manager options with the
// configured transports.
func (c Config) SyncOptions() ([]sync.Option, error) {
	strategy, err := sync.ParseStrategy(c.Sync.ConflictResolution)
	if err != nil {
		return nil, err
	}
	opts := []sync.Option{
		sync.Enabled(c.Sync.Enabled),
		sync.Conflict(strategy),
		sync.Debounce(ms(c.Sync.DebounceMs)),
	}
	if len(c.Sync.ChannelName) > 0 {
		opts = append(opts, sync.Channel(c.Sync.ChannelName))
	}
	if len(c.Sync.Storages) > 0 {
		opts = append(opts, sync.Storages(c.Sync.Storages...))
	}

	b, err := c.Broker(c.Sync.Broker)
	if err != nil {
		return nil, err
	}
	if b != nil {
		opts = append(opts, sync.WithBroker(b))
	}
	fb, err := c.Broker(c.Sync.Fallback)
	if err != nil {
		return nil, err
	}
	if fb != nil {
		opts = append(opts, sync.Fallback(fb))
	}
	return opts, nil
}
