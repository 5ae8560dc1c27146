// Package orchestrator drives one delivery cycle end to end: clustering,
// ranking, filtering, and the creation of exactly one Selection per cycle
// date. Build errors propagate to the caller so the work queue can retry them
// with backoff; only when the caller declares the attempt final does the
// orchestrator fall back to a degraded selection, clearly marked as such.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TOOITW/morning-pulse/internal/cluster"
	"github.com/TOOITW/morning-pulse/internal/filter"
	"github.com/TOOITW/morning-pulse/internal/globaltime"
	"github.com/TOOITW/morning-pulse/internal/rank"
)

const (
	DefaultDegradedMinTrust = 0.7
	DefaultClusterBatchSize = 500

	// Reason recorded on entries of a non-degraded selection's included items.
	reasonSelected = "selected"
	// Reason recorded on entries of a degraded selection.
	reasonDegraded = "degraded-fallback"
)

// CycleOptions tune one RunCycle call.
type CycleOptions struct {
	// AllowDegraded permits the recency-only fallback when the build fails.
	// Callers leave it false while retries remain, so a transient failure
	// goes back to the queue with backoff instead of permanently writing a
	// degraded selection under the cycle's idempotency key.
	AllowDegraded bool
}

// Selection is the finished output of one cycle.
type Selection struct {
	SelectionID int64
	CycleDate   time.Time
	ItemIDs     []int64
	Degraded    bool
}

// Entry is one row of the selection audit trail.
type Entry struct {
	ItemID   int64
	Included bool
	Rank     *int
	Reason   string
	Score    *rank.Score
}

// Store is the durable-state surface the orchestrator needs. The concrete
// Postgres implementation lives in this package; tests substitute stubs.
type Store interface {
	// SelectionByCycleDate returns the stored selection for the date, or
	// found=false when the cycle has not been built yet.
	SelectionByCycleDate(ctx context.Context, cycleDate time.Time) (Selection, bool, error)
	// CandidatesInWindow returns every clustered, non-deleted item published
	// inside [from, to], ready for scoring.
	CandidatesInWindow(ctx context.Context, from, to time.Time) ([]rank.Candidate, error)
	// RecentTrustedItems returns up to limit items with trust above minTrust,
	// newest first. Used only by the degraded fallback.
	RecentTrustedItems(ctx context.Context, minTrust float64, asOf time.Time, limit int) ([]rank.Candidate, error)
	// SaveSelection persists the selection and its audit entries atomically.
	// A concurrent insert for the same cycle date must surface the stored
	// winner rather than a duplicate row.
	SaveSelection(ctx context.Context, sel Selection, entries []Entry) (Selection, error)
}

// Clusterer runs the clustering stage.
type Clusterer interface {
	ClusterPending(ctx context.Context, limit int) (cluster.Result, error)
}

type Config struct {
	CandidateWindow  time.Duration
	Guardrails       filter.Guardrails
	DegradedMinTrust float64
	ClusterBatchSize int
}

func (c Config) withDefaults() Config {
	if c.CandidateWindow <= 0 {
		c.CandidateWindow = cluster.DefaultWindow
	}
	if c.Guardrails == (filter.Guardrails{}) {
		c.Guardrails = filter.DefaultGuardrails()
	}
	if c.DegradedMinTrust <= 0 {
		c.DegradedMinTrust = DefaultDegradedMinTrust
	}
	if c.ClusterBatchSize <= 0 {
		c.ClusterBatchSize = DefaultClusterBatchSize
	}
	return c
}

type Orchestrator struct {
	store     Store
	clusterer Clusterer
	scorer    *rank.Scorer
	cfg       Config
	logger    zerolog.Logger
}

func New(store Store, clusterer Clusterer, scorer *rank.Scorer, cfg Config, logger zerolog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("orchestrator store is nil")
	}
	if scorer == nil {
		return nil, fmt.Errorf("orchestrator scorer is nil")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Guardrails.Validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrails: %w", err)
	}
	return &Orchestrator{
		store:     store,
		clusterer: clusterer,
		scorer:    scorer,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// RunCycle builds the selection for cycleDate. It is idempotent: if a
// selection for the date already exists it is returned untouched and no stage
// runs. A build failure is returned to the caller for retry; only with
// AllowDegraded set does the final fallback produce a selection from recent
// high-trust items instead.
func (o *Orchestrator) RunCycle(ctx context.Context, cycleDate time.Time, opts CycleOptions) (Selection, error) {
	cycleDate = truncateToDay(cycleDate)

	if existing, found, err := o.store.SelectionByCycleDate(ctx, cycleDate); err != nil {
		return Selection{}, fmt.Errorf("check existing selection: %w", err)
	} else if found {
		o.logger.Info().
			Time("cycle_date", cycleDate).
			Int64("selection_id", existing.SelectionID).
			Msg("cycle already built, returning stored selection")
		return existing, nil
	}

	sel, err := o.buildSelection(ctx, cycleDate)
	if err == nil {
		return sel, nil
	}
	if !opts.AllowDegraded {
		return Selection{}, err
	}

	o.logger.Error().
		Err(err).
		Time("cycle_date", cycleDate).
		Msg("cycle build failed on final attempt, producing degraded selection")
	degraded, dErr := o.buildDegradedSelection(ctx, cycleDate)
	if dErr != nil {
		return Selection{}, errors.Join(err, dErr)
	}
	return degraded, nil
}

func (o *Orchestrator) buildSelection(ctx context.Context, cycleDate time.Time) (Selection, error) {
	if o.clusterer != nil {
		result, err := o.clusterer.ClusterPending(ctx, o.cfg.ClusterBatchSize)
		if err != nil {
			return Selection{}, fmt.Errorf("clustering stage: %w", err)
		}
		o.logger.Info().
			Int("processed", result.Processed).
			Int("joined", result.Joined).
			Int("created", result.Created).
			Int("skipped", result.Skipped).
			Msg("clustering stage finished")
	}

	asOf := endOfCycle(cycleDate)
	candidates, err := o.store.CandidatesInWindow(ctx, asOf.Add(-o.cfg.CandidateWindow), asOf)
	if err != nil {
		return Selection{}, fmt.Errorf("load scoring candidates: %w", err)
	}

	ranked := o.scorer.Rank(candidates, asOf)
	outcome := o.cfg.Guardrails.Apply(ranked)

	sel := Selection{
		CycleDate: cycleDate,
		ItemIDs:   includedItemIDs(outcome.Included),
		Degraded:  false,
	}
	entries := auditEntries(outcome)

	saved, err := o.store.SaveSelection(ctx, sel, entries)
	if err != nil {
		return Selection{}, fmt.Errorf("persist selection: %w", err)
	}

	o.logger.Info().
		Time("cycle_date", cycleDate).
		Int64("selection_id", saved.SelectionID).
		Int("included", len(saved.ItemIDs)).
		Int("excluded", len(outcome.Excluded)).
		Msg("selection built")
	return saved, nil
}

// buildDegradedSelection is the kill switch: no clustering, no scoring, just
// the most recent items from high-trust sources, explicitly flagged.
func (o *Orchestrator) buildDegradedSelection(ctx context.Context, cycleDate time.Time) (Selection, error) {
	asOf := endOfCycle(cycleDate)
	items, err := o.store.RecentTrustedItems(ctx, o.cfg.DegradedMinTrust, asOf, o.cfg.Guardrails.MaxTotal)
	if err != nil {
		return Selection{}, fmt.Errorf("load degraded candidates: %w", err)
	}

	sel := Selection{
		CycleDate: cycleDate,
		Degraded:  true,
	}
	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		sel.ItemIDs = append(sel.ItemIDs, item.ItemID)
		pos := i + 1
		entries = append(entries, Entry{
			ItemID:   item.ItemID,
			Included: true,
			Rank:     &pos,
			Reason:   reasonDegraded,
		})
	}

	saved, err := o.store.SaveSelection(ctx, sel, entries)
	if err != nil {
		return Selection{}, fmt.Errorf("persist degraded selection: %w", err)
	}
	o.logger.Warn().
		Time("cycle_date", cycleDate).
		Int64("selection_id", saved.SelectionID).
		Int("included", len(saved.ItemIDs)).
		Msg("degraded selection built")
	return saved, nil
}

func includedItemIDs(included []rank.Ranked) []int64 {
	ids := make([]int64, 0, len(included))
	for _, r := range included {
		ids = append(ids, r.ItemID)
	}
	return ids
}

func auditEntries(outcome filter.Outcome) []Entry {
	entries := make([]Entry, 0, len(outcome.Included)+len(outcome.Excluded))
	for i, r := range outcome.Included {
		pos := i + 1
		score := r.Score
		entries = append(entries, Entry{
			ItemID:   r.ItemID,
			Included: true,
			Rank:     &pos,
			Reason:   reasonSelected,
			Score:    &score,
		})
	}
	for _, e := range outcome.Excluded {
		score := e.Score
		entries = append(entries, Entry{
			ItemID:   e.ItemID,
			Included: false,
			Reason:   e.Reason,
			Score:    &score,
		})
	}
	return entries
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// endOfCycle is the scoring reference point for a cycle date. For today's
// cycle that is now; for a back-filled past cycle it is the end of that day,
// so recency is judged against the cycle being built rather than wall time.
func endOfCycle(cycleDate time.Time) time.Time {
	now := globaltime.UTC()
	dayEnd := cycleDate.Add(24*time.Hour - time.Nanosecond)
	if now.Before(dayEnd) {
		return now
	}
	return dayEnd
}
