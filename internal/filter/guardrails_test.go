package filter

import (
	"testing"

	"github.com/TOOITW/morning-pulse/internal/rank"
)

func ranked(itemID int64, sourceID string, clusterID int64, trust float64) rank.Ranked {
	return rank.Ranked{
		Candidate: rank.Candidate{
			ItemID:     itemID,
			SourceID:   sourceID,
			ClusterID:  clusterID,
			TrustScore: trust,
		},
	}
}

func TestApplySourceCapKeepsWalking(t *testing.T) {
	t.Parallel()

	g := DefaultGuardrails()

	// Six items from source A ranked above four from source B. The cap on A
	// must not starve B: the selection ends up with 3 from A and 4 from B.
	var in []rank.Ranked
	for i := int64(1); i <= 6; i++ {
		in = append(in, ranked(i, "source-a", 100+i, 0.9))
	}
	for i := int64(7); i <= 10; i++ {
		in = append(in, ranked(i, "source-b", 100+i, 0.9))
	}

	out := g.Apply(in)
	if len(out.Included) != 7 {
		t.Fatalf("included %d items, want 7", len(out.Included))
	}

	bySource := map[string]int{}
	for _, r := range out.Included {
		bySource[r.SourceID]++
	}
	if bySource["source-a"] != 3 || bySource["source-b"] != 4 {
		t.Fatalf("per-source counts = %v, want 3 from a and 4 from b", bySource)
	}

	if len(out.Excluded) != 3 {
		t.Fatalf("excluded %d items, want 3", len(out.Excluded))
	}
	for _, e := range out.Excluded {
		if e.Reason != ReasonSourceCapExceeded {
			t.Fatalf("item %d excluded with %q, want %q", e.ItemID, e.Reason, ReasonSourceCapExceeded)
		}
	}
}

func TestApplyTrustFloor(t *testing.T) {
	t.Parallel()

	g := DefaultGuardrails()
	out := g.Apply([]rank.Ranked{
		ranked(1, "a", 1, 0.39),
		ranked(2, "a", 2, 0.4),
	})

	if len(out.Included) != 1 || out.Included[0].ItemID != 2 {
		t.Fatalf("included = %+v, want only item 2", out.Included)
	}
	if len(out.Excluded) != 1 || out.Excluded[0].Reason != ReasonTrustTooLow {
		t.Fatalf("excluded = %+v, want item 1 with trust-too-low", out.Excluded)
	}
}

func TestApplyClusterCap(t *testing.T) {
	t.Parallel()

	g := DefaultGuardrails()
	out := g.Apply([]rank.Ranked{
		ranked(1, "a", 50, 0.9),
		ranked(2, "b", 50, 0.9),
		ranked(3, "c", 51, 0.9),
	})

	if len(out.Included) != 2 {
		t.Fatalf("included %d, want 2", len(out.Included))
	}
	if out.Excluded[0].ItemID != 2 || out.Excluded[0].Reason != ReasonClusterCapExceeded {
		t.Fatalf("excluded = %+v, want item 2 with cluster-cap-exceeded", out.Excluded)
	}
}

func TestApplyUnclusteredItemsBypassClusterCap(t *testing.T) {
	t.Parallel()

	g := DefaultGuardrails()
	out := g.Apply([]rank.Ranked{
		ranked(1, "a", 0, 0.9),
		ranked(2, "b", 0, 0.9),
	})
	if len(out.Included) != 2 {
		t.Fatalf("unclustered items capped: %+v", out.Excluded)
	}
}

func TestApplySelectionFull(t *testing.T) {
	t.Parallel()

	g := Guardrails{MinTrust: 0.4, PerSourceCap: 10, PerClusterCap: 10, MaxTotal: 2}
	out := g.Apply([]rank.Ranked{
		ranked(1, "a", 1, 0.9),
		ranked(2, "a", 2, 0.9),
		ranked(3, "a", 3, 0.9),
		ranked(4, "a", 4, 0.9),
	})

	if len(out.Included) != 2 {
		t.Fatalf("included %d, want 2", len(out.Included))
	}
	if len(out.Excluded) != 2 {
		t.Fatalf("excluded %d, want 2", len(out.Excluded))
	}
	for _, e := range out.Excluded {
		if e.Reason != ReasonSelectionFull {
			t.Fatalf("item %d excluded with %q, want %q", e.ItemID, e.Reason, ReasonSelectionFull)
		}
	}
}

func TestApplyPreservesRankOrder(t *testing.T) {
	t.Parallel()

	g := DefaultGuardrails()
	out := g.Apply([]rank.Ranked{
		ranked(5, "a", 1, 0.9),
		ranked(3, "b", 2, 0.9),
		ranked(8, "c", 3, 0.9),
	})

	want := []int64{5, 3, 8}
	for i, r := range out.Included {
		if r.ItemID != want[i] {
			t.Fatalf("position %d = item %d, want %d", i, r.ItemID, want[i])
		}
	}
}

func TestGuardrailsValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultGuardrails().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []Guardrails{
		{MinTrust: -0.1, PerSourceCap: 1, PerClusterCap: 1, MaxTotal: 1},
		{MinTrust: 0.4, PerSourceCap: 0, PerClusterCap: 1, MaxTotal: 1},
		{MinTrust: 0.4, PerSourceCap: 1, PerClusterCap: 0, MaxTotal: 1},
		{MinTrust: 0.4, PerSourceCap: 1, PerClusterCap: 1, MaxTotal: 0},
	}
	for i, g := range bad {
		if err := g.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
