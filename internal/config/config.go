package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string  `mapstructure:"PORT"`
	Env               string  `mapstructure:"ENV"`
	DatabaseURL       string  `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32   `mapstructure:"DB_MIN_CONNS"`
	ScorerURL         string  `mapstructure:"SCORER_URL"`
	AnomalyWindowDays int     `mapstructure:"ANOMALY_WINDOW_DAYS"`
	UploadMaxBytes    string  `mapstructure:"UPLOAD_MAX_BYTES"`
	IngestChunkSize   int     `mapstructure:"INGEST_CHUNK_SIZE"`
	IngestWorkers     int     `mapstructure:"INGEST_WORKERS"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("ANOMALY_WINDOW_DAYS", 7)
	v.SetDefault("UPLOAD_MAX_BYTES", "16M")
	v.SetDefault("INGEST_CHUNK_SIZE", 100)
	v.SetDefault("INGEST_WORKERS", 8)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("SCORER_URL")
	v.BindEnv("ANOMALY_WINDOW_DAYS")
	v.BindEnv("UPLOAD_MAX_BYTES")
	v.BindEnv("INGEST_CHUNK_SIZE")
	v.BindEnv("INGEST_WORKERS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. The anomaly endpoint
// needs a scoring service in production; in development it may be absent, in
// which case anomaly queries fail with an explicit error instead of scores.
func (c *Config) Validate() error {
	if c.IsProduction() && c.ScorerURL == "" {
		return fmt.Errorf("SCORER_URL is required in production")
	}
	if c.ScorerURL != "" && !strings.HasPrefix(c.ScorerURL, "http://") && !strings.HasPrefix(c.ScorerURL, "https://") {
		return fmt.Errorf("SCORER_URL must be an http(s) URL, got %q", c.ScorerURL)
	}
	if c.AnomalyWindowDays <= 0 {
		return fmt.Errorf("ANOMALY_WINDOW_DAYS must be positive, got %d", c.AnomalyWindowDays)
	}
	if c.IngestChunkSize <= 0 {
		return fmt.Errorf("INGEST_CHUNK_SIZE must be positive, got %d", c.IngestChunkSize)
	}
	if c.IngestWorkers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.IngestWorkers)
	}
	return nil
}
