// Package filter walks a ranked candidate list through selection guardrails
// and produces the final included set plus a per-item exclusion audit trail.
package filter

import (
	"fmt"

	"github.com/TOOITW/morning-pulse/internal/rank"
)

// Exclusion reasons recorded on the audit trail. Guardrails are evaluated in
// a fixed order, so each excluded item carries the first reason that applied.
const (
	ReasonTrustTooLow        = "trust-too-low"
	ReasonSourceCapExceeded  = "source-cap-exceeded"
	ReasonClusterCapExceeded = "cluster-cap-exceeded"
	ReasonSelectionFull      = "selection-full"
)

const (
	DefaultMinTrust      = 0.4
	DefaultPerSourceCap  = 3
	DefaultPerClusterCap = 1
	DefaultMaxTotal      = 8
)

type Guardrails struct {
	MinTrust      float64
	PerSourceCap  int
	PerClusterCap int
	MaxTotal      int
}

func DefaultGuardrails() Guardrails {
	return Guardrails{
		MinTrust:      DefaultMinTrust,
		PerSourceCap:  DefaultPerSourceCap,
		PerClusterCap: DefaultPerClusterCap,
		MaxTotal:      DefaultMaxTotal,
	}
}

func (g Guardrails) Validate() error {
	if g.MinTrust < 0 || g.MinTrust > 1 {
		return fmt.Errorf("min trust must be in [0,1], got %f", g.MinTrust)
	}
	if g.PerSourceCap < 1 {
		return fmt.Errorf("per-source cap must be >= 1, got %d", g.PerSourceCap)
	}
	if g.PerClusterCap < 1 {
		return fmt.Errorf("per-cluster cap must be >= 1, got %d", g.PerClusterCap)
	}
	if g.MaxTotal < 1 {
		return fmt.Errorf("max total must be >= 1, got %d", g.MaxTotal)
	}
	return nil
}

// Excluded pairs a candidate with the guardrail that rejected it.
type Excluded struct {
	rank.Ranked
	Reason string
}

// Outcome is the result of one filtering pass. Included preserves rank order.
type Outcome struct {
	Included []rank.Ranked
	Excluded []Excluded
}

// Apply walks the ranked list top to bottom and admits each item only if it
// passes every guardrail, in order: minimum trust, per-source cap, per-cluster
// cap, total size. An item rejected by a cap does not stop the walk; lower
// ranked items from other sources or clusters can still be admitted until the
// selection is full.
func (g Guardrails) Apply(ranked []rank.Ranked) Outcome {
	out := Outcome{
		Included: make([]rank.Ranked, 0, g.MaxTotal),
		Excluded: make([]Excluded, 0),
	}
	perSource := make(map[string]int)
	perCluster := make(map[int64]int)

	for _, r := range ranked {
		switch {
		case r.TrustScore < g.MinTrust:
			out.Excluded = append(out.Excluded, Excluded{Ranked: r, Reason: ReasonTrustTooLow})
		case perSource[r.SourceID] >= g.PerSourceCap:
			out.Excluded = append(out.Excluded, Excluded{Ranked: r, Reason: ReasonSourceCapExceeded})
		case r.ClusterID != 0 && perCluster[r.ClusterID] >= g.PerClusterCap:
			out.Excluded = append(out.Excluded, Excluded{Ranked: r, Reason: ReasonClusterCapExceeded})
		case len(out.Included) >= g.MaxTotal:
			out.Excluded = append(out.Excluded, Excluded{Ranked: r, Reason: ReasonSelectionFull})
		default:
			out.Included = append(out.Included, r)
			perSource[r.SourceID]++
			if r.ClusterID != 0 {
				perCluster[r.ClusterID]++
			}
		}
	}
	return out
}
