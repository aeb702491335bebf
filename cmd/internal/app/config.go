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
	MaxBodyBytes      int64

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// DevSeed populates the in-memory account store with demo accounts.
	// Ignored when a database is configured.
	DevSeed bool

	// NotifyBackend is one of log, postgres, kafka.
	NotifyBackend    string
	NotifyTimeout    time.Duration
	KafkaBrokers     []string
	KafkaNotifyTopic string

	// Send throttling. An empty RedisAddr selects the in-process limiter.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SendRateLimit  int
	SendRateWindow time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CONVOY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CONVOY_LOG_LEVEL", "info"),
		LogFormat: EnvString("CONVOY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CONVOY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CONVOY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CONVOY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CONVOY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CONVOY_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   int64(EnvInt("CONVOY_MAX_BODY_BYTES", 64<<10)),

		DatabaseURL: EnvString("CONVOY_DATABASE_URL", ""),
		DBSchema:    EnvString("CONVOY_DB_SCHEMA", "convoy"),
		DBMaxConns:  EnvInt32("CONVOY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CONVOY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CONVOY_READINESS_REQUIRE_DB", false),

		DevSeed: EnvBool("CONVOY_DEV_SEED", false),

		NotifyBackend:    EnvString("CONVOY_NOTIFY_BACKEND", "log"),
		NotifyTimeout:    EnvDuration("CONVOY_NOTIFY_TIMEOUT", 3*time.Second),
		KafkaBrokers:     EnvList("CONVOY_KAFKA_BROKERS"),
		KafkaNotifyTopic: EnvString("CONVOY_KAFKA_NOTIFY_TOPIC", "convoy.notifications"),

		RedisAddr:      EnvString("CONVOY_REDIS_ADDR", ""),
		RedisPassword:  EnvString("CONVOY_REDIS_PASSWORD", ""),
		RedisDB:        EnvNonNegInt("CONVOY_REDIS_DB", 0),
		SendRateLimit:  EnvInt("CONVOY_SEND_RATE_LIMIT", 30),
		SendRateWindow: EnvDuration("CONVOY_SEND_RATE_WINDOW", 10*time.Second),
	}
}
