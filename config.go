package backlog

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-wide configuration for the queue service, the
// HTTP server, and the worker runtime. Values are read from the
// environment; zero values fall back to the defaults below.
type Config struct {
	// Addr is the listen address for the HTTP API.
	Addr string `env:"BACKLOG_ADDR" envDefault:":8460"`

	// StoreDriver selects the persistence backend: "mongo", "postgres"
	// or "memory".
	StoreDriver string `env:"BACKLOG_STORE" envDefault:"mongo"`

	// MongoURI and MongoDatabase configure the document store backend.
	MongoURI      string `env:"BACKLOG_MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"BACKLOG_MONGO_DB" envDefault:"backlog"`

	// PostgresDSN configures the relational backend.
	PostgresDSN string `env:"BACKLOG_POSTGRES_DSN"`

	// DefaultPriority is assigned to jobs enqueued without an explicit
	// priority. Priorities range over [0,100], higher is served first.
	DefaultPriority int `env:"BACKLOG_DEFAULT_PRIORITY" envDefault:"50"`

	// DefaultMaxAttempts applies to job types whose policy does not
	// set its own ceiling.
	DefaultMaxAttempts int `env:"BACKLOG_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`

	// DefaultLeaseDuration applies when neither the lease call nor the
	// type policy provides one.
	DefaultLeaseDuration time.Duration `env:"BACKLOG_DEFAULT_LEASE" envDefault:"60s"`

	// BackoffBase is the first retry delay; each further attempt
	// doubles it before jitter.
	BackoffBase time.Duration `env:"BACKLOG_BACKOFF_BASE" envDefault:"5s"`

	// BackoffMaxAttempts is the calculator's hard ceiling, independent
	// of any job's own maxAttempts. It is kept above the enqueue-time
	// maxAttempts clamp so the per-job ceiling is the effective limit;
	// if configured below it, jobs dead-letter at this ceiling instead.
	BackoffMaxAttempts int `env:"BACKLOG_BACKOFF_MAX_ATTEMPTS" envDefault:"25"`

	// Worker runtime.
	WorkerConcurrency int           `env:"BACKLOG_WORKER_CONCURRENCY" envDefault:"8"`
	PollInterval      time.Duration `env:"BACKLOG_POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout   time.Duration `env:"BACKLOG_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// SucceededRetention is how long succeeded jobs are kept before the
	// maintenance purge removes them. Dead-lettered jobs are never
	// purged automatically.
	SucceededRetention time.Duration `env:"BACKLOG_SUCCEEDED_RETENTION" envDefault:"168h"`
}

// DefaultConfig returns a Config with all defaults applied and nothing
// read from the environment.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8460",
		StoreDriver:          "mongo",
		MongoURI:             "mongodb://localhost:27017",
		MongoDatabase:        "backlog",
		DefaultPriority:      50,
		DefaultMaxAttempts:   3,
		DefaultLeaseDuration: 60 * time.Second,
		BackoffBase:          5 * time.Second,
		BackoffMaxAttempts:   25,
		WorkerConcurrency:    8,
		PollInterval:         time.Second,
		ShutdownTimeout:      30 * time.Second,
		SucceededRetention:   7 * 24 * time.Hour,
	}
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
