package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const weightSumTolerance = 1e-6

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PULSE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PULSE_DB_MAX_CONNS" default:"8"`

	// Clustering.
	SimilarityThreshold float64       `envconfig:"PULSE_SIMILARITY_THRESHOLD" default:"0.85"`
	ClusterWindow       time.Duration `envconfig:"PULSE_CLUSTER_WINDOW" default:"48h"`

	// Ranking weights; must sum to 1.
	RecencyWeight   float64 `envconfig:"PULSE_RECENCY_WEIGHT" default:"0.35"`
	TrustWeight     float64 `envconfig:"PULSE_TRUST_WEIGHT" default:"0.25"`
	RelevanceWeight float64 `envconfig:"PULSE_RELEVANCE_WEIGHT" default:"0.25"`
	HeatWeight      float64 `envconfig:"PULSE_HEAT_WEIGHT" default:"0.15"`

	RecencyHalfLifeHours   float64 `envconfig:"PULSE_RECENCY_HALF_LIFE_HOURS" default:"12"`
	ExpectedMaxClusterSize int     `envconfig:"PULSE_EXPECTED_MAX_CLUSTER_SIZE" default:"6"`

	// Guardrails.
	MinTrust      float64 `envconfig:"PULSE_MIN_TRUST" default:"0.4"`
	PerSourceCap  int     `envconfig:"PULSE_PER_SOURCE_CAP" default:"3"`
	PerClusterCap int     `envconfig:"PULSE_PER_CLUSTER_CAP" default:"1"`
	MaxTotal      int     `envconfig:"PULSE_MAX_TOTAL" default:"8"`

	// Degraded fallback.
	DegradedMinTrust float64 `envconfig:"PULSE_DEGRADED_MIN_TRUST" default:"0.7"`

	// Work queue.
	QueueMaxAttempts     int           `envconfig:"PULSE_QUEUE_MAX_ATTEMPTS" default:"3"`
	QueueRetryBaseDelay  time.Duration `envconfig:"PULSE_QUEUE_RETRY_BASE_DELAY" default:"1m"`
	QueueLeaseTimeout    time.Duration `envconfig:"PULSE_QUEUE_LEASE_TIMEOUT" default:"10m"`
	QueueRetentionDays   int           `envconfig:"PULSE_QUEUE_RETENTION_DAYS" default:"7"`
	WorkerPollInterval   time.Duration `envconfig:"PULSE_WORKER_POLL_INTERVAL" default:"5s"`
	ConsumerInterestTags string        `envconfig:"PULSE_INTEREST_TAGS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PULSE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PULSE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PULSE_DB_MIN_CONNS (%d) cannot exceed PULSE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("PULSE_SIMILARITY_THRESHOLD must be in (0,1], got %f", c.SimilarityThreshold)
	}
	if c.ClusterWindow <= 0 {
		return fmt.Errorf("PULSE_CLUSTER_WINDOW must be > 0")
	}
	if err := c.validateWeights(); err != nil {
		return err
	}
	if c.RecencyHalfLifeHours <= 0 {
		return fmt.Errorf("PULSE_RECENCY_HALF_LIFE_HOURS must be > 0")
	}
	if c.ExpectedMaxClusterSize < 1 {
		return fmt.Errorf("PULSE_EXPECTED_MAX_CLUSTER_SIZE must be >= 1")
	}
	if c.MinTrust < 0 || c.MinTrust > 1 {
		return fmt.Errorf("PULSE_MIN_TRUST must be in [0,1]")
	}
	if c.DegradedMinTrust < 0 || c.DegradedMinTrust > 1 {
		return fmt.Errorf("PULSE_DEGRADED_MIN_TRUST must be in [0,1]")
	}
	if c.PerSourceCap < 1 {
		return fmt.Errorf("PULSE_PER_SOURCE_CAP must be >= 1")
	}
	if c.PerClusterCap < 1 {
		return fmt.Errorf("PULSE_PER_CLUSTER_CAP must be >= 1")
	}
	if c.MaxTotal < 1 {
		return fmt.Errorf("PULSE_MAX_TOTAL must be >= 1")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("PULSE_QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if c.QueueRetryBaseDelay <= 0 {
		return fmt.Errorf("PULSE_QUEUE_RETRY_BASE_DELAY must be > 0")
	}
	if c.QueueLeaseTimeout <= 0 {
		return fmt.Errorf("PULSE_QUEUE_LEASE_TIMEOUT must be > 0")
	}
	if c.QueueRetentionDays < 1 {
		return fmt.Errorf("PULSE_QUEUE_RETENTION_DAYS must be >= 1")
	}
	if c.WorkerPollInterval <= 0 {
		return fmt.Errorf("PULSE_WORKER_POLL_INTERVAL must be > 0")
	}
	return nil
}

// validateWeights rejects weight sets that do not sum to 1; silent renormalizing
// would hide configuration mistakes.
func (c *Config) validateWeights() error {
	weights := map[string]float64{
		"PULSE_RECENCY_WEIGHT":   c.RecencyWeight,
		"PULSE_TRUST_WEIGHT":     c.TrustWeight,
		"PULSE_RELEVANCE_WEIGHT": c.RelevanceWeight,
		"PULSE_HEAT_WEIGHT":      c.HeatWeight,
	}
	for name, w := range weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0,1], got %f", name, w)
		}
	}
	sum := c.RecencyWeight + c.TrustWeight + c.RelevanceWeight + c.HeatWeight
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("ranking weights must sum to 1, got %f", sum)
	}
	return nil
}

// InterestTags parses the comma-separated consumer interest list.
func (c *Config) InterestTags() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.ConsumerInterestTags, ",")
	tags := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
