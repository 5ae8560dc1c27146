package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/cli"
	"github.com/TOOITW/morning-pulse/internal/cluster"
	"github.com/TOOITW/morning-pulse/internal/config"
	"github.com/TOOITW/morning-pulse/internal/db"
	"github.com/TOOITW/morning-pulse/internal/filter"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/logging"
	"github.com/TOOITW/morning-pulse/internal/orchestrator"
	"github.com/TOOITW/morning-pulse/internal/queue"
	"github.com/TOOITW/morning-pulse/internal/rank"
)

// runtime bundles everything a connected command needs.
type runtime struct {
	cfg    *config.Config
	pool   *db.Pool
	logger zerolog.Logger
}

func connect(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, &runtime{cfg: cfg, pool: pool, logger: logger}, nil
}

// connectBackground is connect without a deadline, for long-running commands
// (worker, serve) that manage their own lifecycle.
func connectBackground(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*runtime, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &runtime{cfg: cfg, pool: pool, logger: logger}, nil
}

func (r *runtime) clusterEngine() (*cluster.Engine, error) {
	return cluster.NewEngine(cluster.Config{
		SimilarityThreshold: r.cfg.SimilarityThreshold,
		Window:              r.cfg.ClusterWindow,
	})
}

func (r *runtime) clusterService() (*cluster.Service, error) {
	engine, err := r.clusterEngine()
	if err != nil {
		return nil, err
	}
	return cluster.NewService(r.pool, engine, r.logger), nil
}

func (r *runtime) scorer() (*rank.Scorer, error) {
	return rank.NewScorer(rank.Config{
		Weights: rank.Weights{
			Recency:   r.cfg.RecencyWeight,
			Trust:     r.cfg.TrustWeight,
			Relevance: r.cfg.RelevanceWeight,
			Heat:      r.cfg.HeatWeight,
		},
		RecencyHalfLifeHours:   r.cfg.RecencyHalfLifeHours,
		ExpectedMaxClusterSize: r.cfg.ExpectedMaxClusterSize,
		InterestTags:           r.cfg.InterestTags(),
	})
}

func (r *runtime) workQueue() *queue.Queue {
	return queue.New(r.pool, queue.Config{
		MaxAttempts:    r.cfg.QueueMaxAttempts,
		RetryBaseDelay: r.cfg.QueueRetryBaseDelay,
		LeaseTimeout:   r.cfg.QueueLeaseTimeout,
		RetentionDays:  r.cfg.QueueRetentionDays,
	})
}

func (r *runtime) orchestrator() (*orchestrator.Orchestrator, *cluster.Service, error) {
	clusterSvc, err := r.clusterService()
	if err != nil {
		return nil, nil, err
	}
	scorer, err := r.scorer()
	if err != nil {
		return nil, nil, err
	}

	orch, err := orchestrator.New(
		orchestrator.NewPostgresStore(r.pool),
		clusterSvc,
		scorer,
		orchestrator.Config{
			CandidateWindow: r.cfg.ClusterWindow,
			Guardrails: filter.Guardrails{
				MinTrust:      r.cfg.MinTrust,
				PerSourceCap:  r.cfg.PerSourceCap,
				PerClusterCap: r.cfg.PerClusterCap,
				MaxTotal:      r.cfg.MaxTotal,
			},
			DegradedMinTrust: r.cfg.DegradedMinTrust,
		},
		r.logger,
	)
	if err != nil {
		return nil, nil, err
	}
	return orch, clusterSvc, nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func defaultUTCDayString() string {
	return globaltime.UTCDay().Format("2006-01-02")
}

func parseUTCDate(raw string) (time.Time, error) {
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC), nil
}
