package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// SessionSweepInterval controls how often expired session rows are
	// deleted. Zero disables the sweeper.
	SessionSweepInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PASSAGE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PASSAGE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PASSAGE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PASSAGE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PASSAGE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PASSAGE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PASSAGE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PASSAGE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PASSAGE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PASSAGE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PASSAGE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("PASSAGE_READINESS_REQUIRE_DB", false),

		SessionSweepInterval: EnvDuration("PASSAGE_SESSION_SWEEP_INTERVAL", time.Hour),
	}
}
