// Package cluster groups near-duplicate items into clusters using simhash
// fingerprints, a rolling publish-time window, and a similarity threshold.
package cluster

import (
	"errors"
	"fmt"
	"time"

	"github.com/TOOITW/morning-pulse/internal/fingerprint"
)

const (
	DefaultSimilarityThreshold = 0.85
	DefaultWindow              = 48 * time.Hour
)

// ErrMissingFingerprint reports an item whose fingerprint is absent and
// cannot be computed from its text. The clustering pass excludes such items
// rather than letting one bad record block the batch.
var ErrMissingFingerprint = errors.New("item has no fingerprint")

// Member is one clustered item, reduced to the fields clustering needs.
type Member struct {
	ItemID        int64
	SourceID      string
	TrustScore    float64
	ContentLength int
	PublishedAt   time.Time
	Fingerprint   fingerprint.Fingerprint
}

// Snapshot is the current membership of one cluster.
type Snapshot struct {
	ClusterID int64
	Members   []Member
}

// Decision is the outcome of assigning one item.
type Decision struct {
	// JoinClusterID is 0 when the item seeds a new cluster.
	JoinClusterID  int64
	BestSimilarity float64
	BestDistance   int
}

// Stats are the recomputed pairwise similarity aggregates for a cluster.
type Stats struct {
	SimAvg float64
	SimMax float64
}

type Config struct {
	SimilarityThreshold float64
	Window              time.Duration
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be <= 1, got %f", cfg.SimilarityThreshold)
	}
	return &Engine{cfg: cfg}, nil
}

// Assign decides whether item joins one of the candidate clusters or seeds a
// new one. Only clusters with at least one member published within the rolling
// window of item.PublishedAt are considered; against each qualifying cluster
// the minimum Hamming distance over its members decides. Pure function: no
// mutation of item or candidates.
func (e *Engine) Assign(item Member, candidates []Snapshot) Decision {
	best := Decision{BestDistance: fingerprint.BitWidth + 1}

	for _, candidate := range candidates {
		if len(candidate.Members) == 0 {
			continue
		}
		if !e.withinWindow(item.PublishedAt, candidate.Members) {
			continue
		}

		minDistance := fingerprint.BitWidth + 1
		for _, member := range candidate.Members {
			if d := fingerprint.Distance(item.Fingerprint, member.Fingerprint); d < minDistance {
				minDistance = d
			}
		}
		if minDistance < best.BestDistance {
			best.BestDistance = minDistance
			best.JoinClusterID = candidate.ClusterID
		}
	}

	if best.JoinClusterID == 0 {
		return Decision{BestDistance: fingerprint.BitWidth}
	}

	best.BestSimilarity = 1 - float64(best.BestDistance)/float64(fingerprint.BitWidth)
	if best.BestSimilarity < e.cfg.SimilarityThreshold {
		return Decision{BestSimilarity: best.BestSimilarity, BestDistance: best.BestDistance}
	}
	return best
}

func (e *Engine) withinWindow(publishedAt time.Time, members []Member) bool {
	for _, member := range members {
		delta := publishedAt.Sub(member.PublishedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= e.cfg.Window {
			return true
		}
	}
	return false
}

// ComputeStats recomputes average and maximum pairwise similarity over the
// full membership. A singleton has no pairs and reports 1/1.
func ComputeStats(members []Member) Stats {
	if len(members) < 2 {
		return Stats{SimAvg: 1, SimMax: 1}
	}

	var sum, maxSim float64
	pairs := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sim := fingerprint.Similarity(members[i].Fingerprint, members[j].Fingerprint)
			sum += sim
			if sim > maxSim {
				maxSim = sim
			}
			pairs++
		}
	}
	return Stats{SimAvg: sum / float64(pairs), SimMax: maxSim}
}

// SelectRepresentative applies the deterministic tie-break chain one predicate
// at a time: highest source trust, then longest content, then earliest publish
// timestamp. Remaining ties fall back to the lowest item ID so the choice is
// total. The predicates run in sequence rather than as one combined score so
// each choice is explainable per field.
func SelectRepresentative(members []Member) (Member, error) {
	if len(members) == 0 {
		return Member{}, errors.New("cannot select representative of empty cluster")
	}

	survivors := filterMembers(members, func(best, m Member) int {
		switch {
		case m.TrustScore > best.TrustScore:
			return 1
		case m.TrustScore < best.TrustScore:
			return -1
		default:
			return 0
		}
	})
	survivors = filterMembers(survivors, func(best, m Member) int {
		switch {
		case m.ContentLength > best.ContentLength:
			return 1
		case m.ContentLength < best.ContentLength:
			return -1
		default:
			return 0
		}
	})
	survivors = filterMembers(survivors, func(best, m Member) int {
		switch {
		case m.PublishedAt.Before(best.PublishedAt):
			return 1
		case m.PublishedAt.After(best.PublishedAt):
			return -1
		default:
			return 0
		}
	})

	rep := survivors[0]
	for _, m := range survivors[1:] {
		if m.ItemID < rep.ItemID {
			rep = m
		}
	}
	return rep, nil
}

// filterMembers keeps all members that tie for best under cmp, where cmp
// returns 1 when m beats best.
func filterMembers(members []Member, cmp func(best, m Member) int) []Member {
	best := members[0]
	for _, m := range members[1:] {
		if cmp(best, m) > 0 {
			best = m
		}
	}
	survivors := make([]Member, 0, len(members))
	for _, m := range members {
		if cmp(best, m) == 0 {
			survivors = append(survivors, m)
		}
	}
	return survivors
}
