package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Messaging Provider
	// ----------------------------
	ProviderURL     string        `envconfig:"PROVIDER_URL" required:"true"`
	ProviderToken   string        `envconfig:"PROVIDER_TOKEN" default:""`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`

	// ----------------------------
	// Scheduler
	// ----------------------------
	ScanInterval    time.Duration `envconfig:"SCAN_INTERVAL" default:"60s"`
	ReclaimInterval time.Duration `envconfig:"RECLAIM_INTERVAL" default:"10m"`
	LockTimeout     time.Duration `envconfig:"LOCK_TIMEOUT" default:"30m"`
	MaxActiveJobs   int           `envconfig:"MAX_ACTIVE_JOBS" default:"8"`
	ScanBatch       int           `envconfig:"SCAN_BATCH" default:"20"`

	// ----------------------------
	// Delivery
	// ----------------------------
	RateLimit     int `envconfig:"RATE_LIMIT" default:"10"`
	FlushEvery    int `envconfig:"FLUSH_EVERY" default:"5"`
	RetryAttempts int `envconfig:"RETRY_ATTEMPTS" default:"2"`

	// ----------------------------
	// Ops alerts (SMTP)
	// ----------------------------
	SMTPHost string `envconfig:"SMTP_HOST" default:""`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPFrom string `envconfig:"SMTP_FROM" default:"engine@sendwave.io"`
	AlertTo  string `envconfig:"ALERT_TO" default:""`

	// ----------------------------
	// HTTP
	// ----------------------------
	StatusPort  string `envconfig:"STATUS_PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
