package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Environment:            "local",
		LogLevel:               "info",
		DatabaseURL:            "postgres://localhost:5432/pulse",
		DBMinConns:             1,
		DBMaxConns:             8,
		SimilarityThreshold:    0.85,
		ClusterWindow:          48 * time.Hour,
		RecencyWeight:          0.35,
		TrustWeight:            0.25,
		RelevanceWeight:        0.25,
		HeatWeight:             0.15,
		RecencyHalfLifeHours:   12,
		ExpectedMaxClusterSize: 6,
		MinTrust:               0.4,
		PerSourceCap:           3,
		PerClusterCap:          1,
		MaxTotal:               8,
		DegradedMinTrust:       0.7,
		QueueMaxAttempts:       3,
		QueueRetryBaseDelay:    time.Minute,
		QueueLeaseTimeout:      10 * time.Minute,
		QueueRetentionDays:     7,
		WorkerPollInterval:     5 * time.Second,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.HeatWeight = 0.3
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for weights summing to 1.15")
	}
	if !strings.Contains(err.Error(), "sum to 1") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg = validConfig()
	cfg.RecencyWeight = -0.1
	cfg.TrustWeight = 0.7
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative weight")
	}
}

func TestValidateWeightsWithinTolerance(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.HeatWeight = 0.15 + 1e-8
	if err := cfg.Validate(); err != nil {
		t.Fatalf("weights within tolerance rejected: %v", err)
	}
}

func TestValidateFieldBounds(t *testing.T) {
	t.Parallel()

	mutations := []func(*Config){
		func(c *Config) { c.DatabaseURL = " " },
		func(c *Config) { c.SimilarityThreshold = 0 },
		func(c *Config) { c.SimilarityThreshold = 1.2 },
		func(c *Config) { c.ClusterWindow = 0 },
		func(c *Config) { c.RecencyHalfLifeHours = 0 },
		func(c *Config) { c.ExpectedMaxClusterSize = 0 },
		func(c *Config) { c.MinTrust = 1.5 },
		func(c *Config) { c.PerSourceCap = 0 },
		func(c *Config) { c.PerClusterCap = 0 },
		func(c *Config) { c.MaxTotal = 0 },
		func(c *Config) { c.QueueMaxAttempts = 0 },
		func(c *Config) { c.QueueRetryBaseDelay = 0 },
		func(c *Config) { c.QueueLeaseTimeout = 0 },
		func(c *Config) { c.QueueRetentionDays = 0 },
		func(c *Config) { c.WorkerPollInterval = 0 },
		func(c *Config) { c.DBMinConns = 9 },
	}
	for i, mutate := range mutations {
		cfg := validConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("mutation %d: expected validation error", i)
		}
	}
}

func TestInterestTags(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.ConsumerInterestTags = " Economy, tech ,ECONOMY,, energy "
	got := cfg.InterestTags()
	want := []string{"economy", "tech", "energy"}
	if len(got) != len(want) {
		t.Fatalf("InterestTags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("InterestTags = %v, want %v", got, want)
		}
	}

	cfg.ConsumerInterestTags = ""
	if tags := cfg.InterestTags(); len(tags) != 0 {
		t.Fatalf("empty config produced tags: %v", tags)
	}
}
