// Package config loads engine settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	cqrs "github.com/terraskye/tabflow"
)

// Config carries the tunables of a deployment. Zero values fall back to the
// defaults below; backend selection (which store, which bus) stays in the
// composition root, this only parameterizes whatever it picks.
type Config struct {
	// ShardCount is the number of dispatcher worker queues.
	ShardCount int `env:"TABFLOW_SHARD_COUNT" envDefault:"4"`

	// QueueBuffer is the per-shard command queue capacity.
	QueueBuffer int `env:"TABFLOW_QUEUE_BUFFER" envDefault:"64"`

	// ConflictRetries bounds the transparent retries after a concurrency
	// conflict before it surfaces to the caller.
	ConflictRetries uint64 `env:"TABFLOW_CONFLICT_RETRIES" envDefault:"5"`

	// BusBuffer is the per-subscriber queue capacity of the queued bus.
	BusBuffer int `env:"TABFLOW_BUS_BUFFER" envDefault:"64"`

	// PollInterval is the refresh cadence of pull-based subscribers.
	PollInterval time.Duration `env:"TABFLOW_POLL_INTERVAL" envDefault:"250ms"`

	// StorePath points a durable store at its directory or database file.
	StorePath string `env:"TABFLOW_STORE_PATH"`

	// RedisAddr and RedisChannel configure the Redis publication backend.
	RedisAddr    string `env:"TABFLOW_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisChannel string `env:"TABFLOW_REDIS_CHANNEL" envDefault:"tabflow.events"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// DispatcherOptions translates the config into dispatcher options.
func (c Config) DispatcherOptions() []cqrs.DispatcherOption {
	return []cqrs.DispatcherOption{
		cqrs.WithShardCount(c.ShardCount),
		cqrs.WithQueueBuffer(c.QueueBuffer),
	}
}

// HandlerOptions translates the config into command handler options.
func (c Config) HandlerOptions() []cqrs.CommandHandlerOption {
	return []cqrs.CommandHandlerOption{
		cqrs.WithConflictRetries(c.ConflictRetries),
	}
}
