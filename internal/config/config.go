package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Config is the single environment-driven configuration struct for the
// scheduler binary. Required fields fail fast via the `notEmpty` tag.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	MaxThreads             int `env:"MAX_THREADS" envDefault:"10"`
	PollingIntervalSeconds int `env:"POLLING_INTERVAL_SECONDS" envDefault:"10"`
	LeaseTimeoutSeconds    int `env:"LEASE_TIMEOUT_SECONDS" envDefault:"240"`
	ShardCount             int `env:"SHARD_COUNT" envDefault:"1"`

	APIPort     string `env:"API_PORT" envDefault:"8080"`
	APIUsername string `env:"API_USERNAME"`
	APIPassword string `env:"API_PASSWORD"`
}

// Load parses environment variables into a Config, failing fast if a
// required variable is missing or malformed.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "config: parse environment")
	}
	return c, nil
}
