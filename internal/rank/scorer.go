// Package rank scores candidate items with a weighted blend of recency,
// source trust, interest relevance, and cluster heat, then orders them into a
// deterministic ranked list.
package rank

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	DefaultRecencyHalfLifeHours   = 12.0
	DefaultExpectedMaxClusterSize = 6

	// weightSumTolerance bounds the allowed drift of the weight sum from 1.
	weightSumTolerance = 1e-6
)

var ErrInvalidWeights = errors.New("score weights must sum to 1")

// Weights are the blend coefficients of the four score components.
type Weights struct {
	Recency   float64
	Trust     float64
	Relevance float64
	Heat      float64
}

// DefaultWeights returns the production blend.
func DefaultWeights() Weights {
	return Weights{Recency: 0.35, Trust: 0.25, Relevance: 0.25, Heat: 0.15}
}

func (w Weights) sum() float64 {
	return w.Recency + w.Trust + w.Relevance + w.Heat
}

// Candidate is one item as seen by the scorer.
type Candidate struct {
	ItemID      int64
	SourceID    string
	ClusterID   int64
	TrustScore  float64
	PublishedAt time.Time
	Tags        []string
	ClusterSize int
}

// Score is the blended total plus its components, kept for the audit trail.
type Score struct {
	Total     float64
	Recency   float64
	Trust     float64
	Relevance float64
	Heat      float64
}

// Ranked is a scored candidate in its final position.
type Ranked struct {
	Candidate
	Score Score
	Rank  int
}

type Config struct {
	Weights                Weights
	RecencyHalfLifeHours   float64
	ExpectedMaxClusterSize int
	// InterestTags are the consumer's lowercase interest tags. Empty means no
	// interest profile is configured and every item scores neutral relevance.
	InterestTags []string
}

type Scorer struct {
	cfg      Config
	interest map[string]struct{}
}

// NewScorer validates the configuration. Weights that do not sum to 1 within
// tolerance are rejected rather than renormalized, so a typo in one weight
// surfaces at startup instead of silently reshaping every score.
func NewScorer(cfg Config) (*Scorer, error) {
	if d := math.Abs(cfg.Weights.sum() - 1); d > weightSumTolerance {
		return nil, fmt.Errorf("%w: got %f", ErrInvalidWeights, cfg.Weights.sum())
	}
	if cfg.RecencyHalfLifeHours <= 0 {
		cfg.RecencyHalfLifeHours = DefaultRecencyHalfLifeHours
	}
	if cfg.ExpectedMaxClusterSize <= 0 {
		cfg.ExpectedMaxClusterSize = DefaultExpectedMaxClusterSize
	}

	interest := make(map[string]struct{}, len(cfg.InterestTags))
	for _, tag := range cfg.InterestTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			interest[tag] = struct{}{}
		}
	}
	return &Scorer{cfg: cfg, interest: interest}, nil
}

// ScoreAt computes the blended score of one candidate as of now.
func (s *Scorer) ScoreAt(c Candidate, now time.Time) Score {
	recency := s.recency(c.PublishedAt, now)
	trust := clamp01(c.TrustScore)
	relevance := s.relevance(c.Tags)
	heat := s.heat(c.ClusterSize)

	return Score{
		Total: s.cfg.Weights.Recency*recency +
			s.cfg.Weights.Trust*trust +
			s.cfg.Weights.Relevance*relevance +
			s.cfg.Weights.Heat*heat,
		Recency:   recency,
		Trust:     trust,
		Relevance: relevance,
		Heat:      heat,
	}
}

// Rank scores every candidate and returns the full ordered list, highest
// total first. Ties break on newer published_at, then on lower item ID, so
// the order is total and stable for identical inputs.
func (s *Scorer) Rank(candidates []Candidate, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{Candidate: c, Score: s.ScoreAt(c, now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ItemID < b.ItemID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// recency decays exponentially with age; items published in the future are
// treated as published now.
func (s *Scorer) recency(publishedAt, now time.Time) float64 {
	ageHours := now.Sub(publishedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-ageHours / s.cfg.RecencyHalfLifeHours)
}

// relevance is a step function over the number of interest tag matches. With
// no interest profile every item gets the neutral 0.5 so relevance neither
// promotes nor demotes anything.
func (s *Scorer) relevance(tags []string) float64 {
	if len(s.interest) == 0 {
		return 0.5
	}

	matches := 0
	for _, tag := range tags {
		if _, ok := s.interest[strings.ToLower(tag)]; ok {
			matches++
		}
	}

	switch {
	case matches == 0:
		return 0.2
	case matches == 1:
		return 0.6
	case matches == 2:
		return 0.8
	default:
		return 1.0
	}
}

// heat rewards corroboration: the more independent items a cluster collected,
// the hotter the story, saturating at the expected maximum.
func (s *Scorer) heat(clusterSize int) float64 {
	if clusterSize < 1 {
		clusterSize = 1
	}
	h := float64(clusterSize) / float64(s.cfg.ExpectedMaxClusterSize)
	if h > 1 {
		return 1
	}
	return h
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
