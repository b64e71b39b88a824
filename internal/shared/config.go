package shared

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// Config is shared by every binary; each reads only the fields it needs.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"prod"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":1337"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`

	// client side
	APIBase       string `env:"API_BASE_URL" envDefault:"http://localhost:1337"`
	APIRPS        int    `env:"API_RPS" envDefault:"10"`
	APIRetries    int    `env:"API_RETRIES" envDefault:"2"`
	StorePath     string `env:"STORE_PATH" envDefault:"reviews.db"`
	StoreDisabled bool   `env:"STORE_DISABLED" envDefault:"false"`
	DrainWorkers  int    `env:"DRAIN_WORKERS" envDefault:"4"`

	// interception process
	AppOrigin         string        `env:"APP_ORIGIN" envDefault:"http://localhost:8000"`
	AppBase           string        `env:"APP_BASE" envDefault:""`
	InterceptorAddr   string        `env:"INTERCEPTOR_ADDR" envDefault:":8090"`
	InterceptorURL    string        `env:"INTERCEPTOR_URL" envDefault:"http://localhost:8090"`
	ShellVersion      string        `env:"SHELL_VERSION" envDefault:"v1"`
	ThirdParty        []string      `env:"THIRD_PARTY_PRECACHE" envSeparator:","`
	SyncRetryInterval time.Duration `env:"SYNC_RETRY_INTERVAL" envDefault:"30s"`
	RedisAddr         string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass         string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`

	// authoritative server
	MySQLDSN    string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/reviews?parseTime=true&charset=utf8mb4,utf8&loc=UTC"`
	SeedFile    string `env:"SEED_FILE" envDefault:"assets/data/restaurants.json"`
	SeedWorkers int    `env:"SEED_WORKERS" envDefault:"8"`
}

// Parse reads Config from the environment.
func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if c.DrainWorkers <= 0 {
		c.DrainWorkers = 4
	}
	if c.SeedWorkers <= 0 {
		c.SeedWorkers = 8
	}
	return c, nil
}

// Load is Parse for main packages: a bad environment is fatal.
func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return c
}
