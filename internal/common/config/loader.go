package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "assignment-engine/internal/common/errors"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DB_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if not found
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// applyDefaults sets default values for optional configuration fields.
// Integrity thresholds intentionally have no defaults beyond enablement:
// a zero threshold on an enabled rule is rejected by Validate, not guessed.
func applyDefaults(cfg *Config) {
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Dispatch.AgentTaskCap == 0 {
		cfg.Dispatch.AgentTaskCap = 3
	}
	if cfg.Dispatch.RetryInterval == 0 {
		cfg.Dispatch.RetryInterval = 30000
	}
	if cfg.Dispatch.MaxRetryInterval == 0 {
		cfg.Dispatch.MaxRetryInterval = 300000
	}
	if cfg.Dispatch.CandidateFanout == 0 {
		cfg.Dispatch.CandidateFanout = 1
	}
	if cfg.Dispatch.DistancePrecision == 0 {
		cfg.Dispatch.DistancePrecision = 3
	}
	if cfg.Dispatch.PersistMaxAttempts == 0 {
		cfg.Dispatch.PersistMaxAttempts = 5
	}
	if cfg.Dispatch.PersistBackoff == 0 {
		cfg.Dispatch.PersistBackoff = 200
	}

	if cfg.Lifecycle.PersistMaxAttempts == 0 {
		cfg.Lifecycle.PersistMaxAttempts = 5
	}
	if cfg.Lifecycle.PersistBackoff == 0 {
		cfg.Lifecycle.PersistBackoff = 200
	}

	if cfg.Integrity.HistoryTTLHours == 0 {
		cfg.Integrity.HistoryTTLHours = 48
	}

	if cfg.Database.Elasticsearch.AlertIndex == "" {
		cfg.Database.Elasticsearch.AlertIndex = "fraud-alerts"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":9102"
	}
}

// Validate rejects threshold misconfiguration at load time. Values are never
// silently clamped.
func Validate(cfg *Config) error {
	if cfg.Dispatch.AgentTaskCap < 1 {
		return apperrors.NewConfigInvalidError("dispatch.agent_task_cap", "must be at least 1")
	}
	if cfg.Dispatch.RetryInterval < 0 {
		return apperrors.NewConfigInvalidError("dispatch.retry_interval", "must not be negative")
	}
	if cfg.Dispatch.CandidateFanout < 1 {
		return apperrors.NewConfigInvalidError("dispatch.candidate_fanout", "must be at least 1")
	}
	if cfg.Dispatch.PersistMaxAttempts < 1 {
		return apperrors.NewConfigInvalidError("dispatch.persist_max_attempts", "must be at least 1")
	}
	if cfg.Lifecycle.PersistMaxAttempts < 1 {
		return apperrors.NewConfigInvalidError("lifecycle.persist_max_attempts", "must be at least 1")
	}

	ir := cfg.Integrity
	if ir.DuplicateReview.Enabled {
		if ir.DuplicateReview.MaxReviews < 1 {
			return apperrors.NewConfigInvalidError("integrity.duplicate_review.max_reviews", "must be at least 1 when the rule is enabled")
		}
		if ir.DuplicateReview.WindowHours < 1 {
			return apperrors.NewConfigInvalidError("integrity.duplicate_review.window_hours", "must be at least 1 when the rule is enabled")
		}
	}
	if ir.FastAudit.Enabled && ir.FastAudit.MinDurationMinutes <= 0 {
		return apperrors.NewConfigInvalidError("integrity.fast_audit.min_duration_minutes", "must be positive when the rule is enabled")
	}
	if ir.AuditRateLimit.Enabled && ir.AuditRateLimit.MaxAuditsPerHour < 1 {
		return apperrors.NewConfigInvalidError("integrity.audit_rate_limit.max_audits_per_hour", "must be at least 1 when the rule is enabled")
	}
	if ir.GpsDeviation.Enabled && ir.GpsDeviation.MaxDeviationMeters <= 0 {
		return apperrors.NewConfigInvalidError("integrity.gps_deviation.max_deviation_meters", "must be positive when the rule is enabled")
	}
	if ir.HistoryTTLHours < 1 {
		return apperrors.NewConfigInvalidError("integrity.history_ttl_hours", "must be at least 1")
	}
	// A window wider than the history TTL would silently undercount.
	if ir.DuplicateReview.Enabled && ir.DuplicateReview.WindowHours > ir.HistoryTTLHours {
		return apperrors.NewConfigInvalidError("integrity.duplicate_review.window_hours", "must not exceed integrity.history_ttl_hours")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
