package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Dispatch      DispatchConfig     `mapstructure:"dispatch"`
	Lifecycle     LifecycleConfig    `mapstructure:"lifecycle"`
	Integrity     IntegrityConfig    `mapstructure:"integrity"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AlertIndex string   `mapstructure:"alert_index"`
}

// --- Dispatch Configuration ---

// DispatchConfig holds tunables for the assignment path.
type DispatchConfig struct {
	AgentTaskCap       int `mapstructure:"agent_task_cap"`        // active tasks before an agent goes unavailable
	RetryInterval      int `mapstructure:"retry_interval"`        // milliseconds between no-capacity retries
	MaxRetryInterval   int `mapstructure:"max_retry_interval"`    // milliseconds, backoff ceiling
	CandidateFanout    int `mapstructure:"candidate_fanout"`      // k for nearest queries, 1 unless fallback enabled
	DistancePrecision  int `mapstructure:"distance_precision"`    // decimal places stored for assigned distance
	PersistMaxAttempts int `mapstructure:"persist_max_attempts"`  // bounded retry on stale writes
	PersistBackoff     int `mapstructure:"persist_backoff"`       // milliseconds, initial backoff
}

// --- Lifecycle Configuration ---

type LifecycleConfig struct {
	PersistMaxAttempts int `mapstructure:"persist_max_attempts"`
	PersistBackoff     int `mapstructure:"persist_backoff"` // milliseconds
}

// --- Integrity Configuration ---

// IntegrityConfig parameterizes the fraud heuristics. Every threshold is
// tunable; there are no authoritative fixed defaults.
type IntegrityConfig struct {
	DuplicateReview DuplicateReviewRule `mapstructure:"duplicate_review"`
	FastAudit       FastAuditRule       `mapstructure:"fast_audit"`
	AuditRateLimit  AuditRateLimitRule  `mapstructure:"audit_rate_limit"`
	GpsDeviation    GpsDeviationRule    `mapstructure:"gps_deviation"`
	HistoryTTLHours int                 `mapstructure:"history_ttl_hours"`
}

type DuplicateReviewRule struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxReviews  int  `mapstructure:"max_reviews"`  // N reviews per fingerprint per business
	WindowHours int  `mapstructure:"window_hours"` // sliding window W
}

type FastAuditRule struct {
	Enabled            bool `mapstructure:"enabled"`
	MinDurationMinutes int  `mapstructure:"min_duration_minutes"`
}

type AuditRateLimitRule struct {
	Enabled          bool `mapstructure:"enabled"`
	MaxAuditsPerHour int  `mapstructure:"max_audits_per_hour"`
}

type GpsDeviationRule struct {
	Enabled            bool    `mapstructure:"enabled"`
	MaxDeviationMeters float64 `mapstructure:"max_deviation_meters"`
}

// --- Notification Configuration ---

// NotificationConfig holds settings for the admin-facing alert sinks.
type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	Email struct {
		Enabled    bool   `mapstructure:"enabled"`
		FromEmail  string `mapstructure:"from_email"`
		AdminEmail string `mapstructure:"admin_email"`
	} `mapstructure:"email"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
