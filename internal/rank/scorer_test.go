package rank

import (
	"errors"
	"math"
	"testing"
	"time"
)

func mustScorer(t *testing.T, cfg Config) *Scorer {
	t.Helper()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	scorer, err := NewScorer(cfg)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return scorer
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewScorerRejectsInvalidWeights(t *testing.T) {
	t.Parallel()

	_, err := NewScorer(Config{Weights: Weights{Recency: 0.5, Trust: 0.5, Relevance: 0.5, Heat: 0.5}})
	if !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("err = %v, want ErrInvalidWeights", err)
	}

	// Within tolerance passes without renormalization.
	if _, err := NewScorer(Config{Weights: Weights{Recency: 0.35, Trust: 0.25, Relevance: 0.25, Heat: 0.15 + 1e-8}}); err != nil {
		t.Fatalf("weights within tolerance rejected: %v", err)
	}
}

func TestRecencyDecay(t *testing.T) {
	t.Parallel()

	scorer := mustScorer(t, Config{RecencyHalfLifeHours: 12})
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	fresh := scorer.ScoreAt(Candidate{PublishedAt: now}, now)
	if !almostEqual(fresh.Recency, 1) {
		t.Fatalf("fresh recency = %f, want 1", fresh.Recency)
	}

	aged := scorer.ScoreAt(Candidate{PublishedAt: now.Add(-12 * time.Hour)}, now)
	if !almostEqual(aged.Recency, math.Exp(-1)) {
		t.Fatalf("12h recency = %f, want e^-1", aged.Recency)
	}

	future := scorer.ScoreAt(Candidate{PublishedAt: now.Add(time.Hour)}, now)
	if !almostEqual(future.Recency, 1) {
		t.Fatalf("future-dated recency = %f, want clamped to 1", future.Recency)
	}
}

func TestRelevanceStepFunction(t *testing.T) {
	t.Parallel()

	scorer := mustScorer(t, Config{InterestTags: []string{"economy", "tech", "energy"}})
	now := time.Now().UTC()

	cases := []struct {
		tags []string
		want float64
	}{
		{nil, 0.2},
		{[]string{"sports"}, 0.2},
		{[]string{"Economy"}, 0.6},
		{[]string{"economy", "tech"}, 0.8},
		{[]string{"economy", "tech", "energy"}, 1.0},
		{[]string{"economy", "tech", "energy", "sports"}, 1.0},
	}
	for _, tc := range cases {
		got := scorer.ScoreAt(Candidate{Tags: tc.tags, PublishedAt: now}, now).Relevance
		if !almostEqual(got, tc.want) {
			t.Fatalf("relevance(%v) = %f, want %f", tc.tags, got, tc.want)
		}
	}

	neutral := mustScorer(t, Config{})
	if got := neutral.ScoreAt(Candidate{Tags: []string{"economy"}, PublishedAt: now}, now).Relevance; !almostEqual(got, 0.5) {
		t.Fatalf("relevance without interest profile = %f, want neutral 0.5", got)
	}
}

func TestHeatSaturates(t *testing.T) {
	t.Parallel()

	scorer := mustScorer(t, Config{ExpectedMaxClusterSize: 6})
	now := time.Now().UTC()

	if got := scorer.ScoreAt(Candidate{ClusterSize: 3, PublishedAt: now}, now).Heat; !almostEqual(got, 0.5) {
		t.Fatalf("heat(3) = %f, want 0.5", got)
	}
	if got := scorer.ScoreAt(Candidate{ClusterSize: 12, PublishedAt: now}, now).Heat; !almostEqual(got, 1) {
		t.Fatalf("heat(12) = %f, want capped at 1", got)
	}
	if got := scorer.ScoreAt(Candidate{ClusterSize: 0, PublishedAt: now}, now).Heat; !almostEqual(got, 1.0/6.0) {
		t.Fatalf("heat(0) = %f, want treated as singleton", got)
	}
}

func TestScoreIsWeightedBlend(t *testing.T) {
	t.Parallel()

	scorer := mustScorer(t, Config{
		RecencyHalfLifeHours:   12,
		ExpectedMaxClusterSize: 6,
		InterestTags:           []string{"economy"},
	})
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	score := scorer.ScoreAt(Candidate{
		TrustScore:  0.8,
		PublishedAt: now,
		Tags:        []string{"economy"},
		ClusterSize: 3,
	}, now)

	want := 0.35*1 + 0.25*0.8 + 0.25*0.6 + 0.15*0.5
	if !almostEqual(score.Total, want) {
		t.Fatalf("Total = %f, want %f", score.Total, want)
	}
}

func TestRankOrderingAndTieBreaks(t *testing.T) {
	t.Parallel()

	scorer := mustScorer(t, Config{})
	now := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{ItemID: 1, TrustScore: 0.2, PublishedAt: now.Add(-20 * time.Hour), ClusterSize: 1},
		{ItemID: 2, TrustScore: 0.9, PublishedAt: now, ClusterSize: 4},
		{ItemID: 3, TrustScore: 0.9, PublishedAt: now, ClusterSize: 4},
		{ItemID: 4, TrustScore: 0.9, PublishedAt: now.Add(-time.Hour), ClusterSize: 4},
	}

	ranked := scorer.Rank(candidates, now)
	if len(ranked) != 4 {
		t.Fatalf("ranked length = %d, want full list", len(ranked))
	}

	gotOrder := []int64{ranked[0].ItemID, ranked[1].ItemID, ranked[2].ItemID, ranked[3].ItemID}
	wantOrder := []int64{2, 3, 4, 1}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("order = %v, want %v", gotOrder, wantOrder)
		}
	}

	for i, r := range ranked {
		if r.Rank != i+1 {
			t.Fatalf("rank at position %d = %d", i, r.Rank)
		}
	}

	again := scorer.Rank(candidates, now)
	for i := range ranked {
		if again[i].ItemID != ranked[i].ItemID {
			t.Fatal("ranking is not deterministic across runs")
		}
	}
}
