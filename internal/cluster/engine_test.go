package cluster

import (
	"testing"
	"time"

	"github.com/TOOITW/morning-pulse/internal/fingerprint"
)

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestAssignCollapsesNearDuplicates(t *testing.T) {
	t.Parallel()

	engine := mustEngine(t, Config{})
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	fp := fingerprint.Compute("central bank raises rates by a quarter point amid inflation worries")
	// Flip 3 of 64 bits: similarity 1-3/64 ~ 0.953, above the 0.85 threshold.
	nearFP := fingerprint.Fingerprint(uint64(fp) ^ 0b10101)

	a := Member{ItemID: 1, SourceID: "wire-a", TrustScore: 0.9, ContentLength: 900, PublishedAt: base, Fingerprint: fp}
	b := Member{ItemID: 2, SourceID: "wire-b", TrustScore: 0.6, ContentLength: 500, PublishedAt: base.Add(time.Hour), Fingerprint: nearFP}

	d := engine.Assign(b, []Snapshot{{ClusterID: 10, Members: []Member{a}}})
	if d.JoinClusterID != 10 {
		t.Fatalf("near-duplicate did not join: decision=%+v", d)
	}
	if d.BestDistance != 3 {
		t.Fatalf("BestDistance = %d, want 3", d.BestDistance)
	}
	if d.BestSimilarity < DefaultSimilarityThreshold {
		t.Fatalf("similarity %f below threshold yet joined", d.BestSimilarity)
	}
}

func TestAssignUnrelatedSeedsNewCluster(t *testing.T) {
	t.Parallel()

	engine := mustEngine(t, Config{})
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	fp := fingerprint.Compute("central bank raises rates by a quarter point amid inflation worries")
	// Flip 20 bits: similarity 1-20/64 ~ 0.69, well below the threshold.
	a := Member{ItemID: 1, PublishedAt: base, Fingerprint: fp}
	b := Member{ItemID: 2, PublishedAt: base, Fingerprint: fingerprint.Fingerprint(uint64(fp) ^ 0xFFFFF)}

	d := engine.Assign(b, []Snapshot{{ClusterID: 10, Members: []Member{a}}})
	if d.JoinClusterID != 0 {
		t.Fatalf("unrelated item joined cluster: %+v", d)
	}
}

func TestAssignRespectsWindowBoundary(t *testing.T) {
	t.Parallel()

	engine := mustEngine(t, Config{Window: 48 * time.Hour})
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	fp := fingerprint.Compute("central bank raises rates by a quarter point amid inflation worries")

	old := Member{ItemID: 1, PublishedAt: base, Fingerprint: fp}
	inside := Member{ItemID: 2, PublishedAt: base.Add(48 * time.Hour), Fingerprint: fp}
	outside := Member{ItemID: 3, PublishedAt: base.Add(49 * time.Hour), Fingerprint: fp}

	candidates := []Snapshot{{ClusterID: 10, Members: []Member{old}}}
	if d := engine.Assign(inside, candidates); d.JoinClusterID != 10 {
		t.Fatalf("item at window edge should join: %+v", d)
	}
	if d := engine.Assign(outside, candidates); d.JoinClusterID != 0 {
		t.Fatalf("item past window joined identical cluster: %+v", d)
	}
}

func TestAssignPrefersClosestCluster(t *testing.T) {
	t.Parallel()

	engine := mustEngine(t, Config{})
	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	item := Member{ItemID: 9, PublishedAt: base, Fingerprint: fingerprint.Fingerprint(0b1111)}
	near := Snapshot{ClusterID: 1, Members: []Member{{ItemID: 1, PublishedAt: base, Fingerprint: fingerprint.Fingerprint(0b1110)}}}
	far := Snapshot{ClusterID: 2, Members: []Member{{ItemID: 2, PublishedAt: base, Fingerprint: fingerprint.Fingerprint(0b1000)}}}

	d := engine.Assign(item, []Snapshot{far, near})
	if d.JoinClusterID != 1 {
		t.Fatalf("expected closest cluster 1, got %+v", d)
	}
	if d.BestDistance != 1 {
		t.Fatalf("expected distance 1, got %d", d.BestDistance)
	}
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	single := ComputeStats([]Member{{ItemID: 1}})
	if single.SimAvg != 1 || single.SimMax != 1 {
		t.Fatalf("singleton stats = %+v, want 1/1", single)
	}

	members := []Member{
		{ItemID: 1, Fingerprint: 0},
		{ItemID: 2, Fingerprint: 0},
		{ItemID: 3, Fingerprint: fingerprint.Fingerprint(0b11)},
	}
	stats := ComputeStats(members)
	if stats.SimMax != 1 {
		t.Fatalf("SimMax = %f, want 1 for identical pair", stats.SimMax)
	}
	// Pairs: (1,2)=1.0, (1,3)=(2,3)=1-2/64.
	want := (1.0 + 2*(1.0-2.0/64.0)) / 3.0
	if diff := stats.SimAvg - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("SimAvg = %f, want %f", stats.SimAvg, want)
	}
}

func TestSelectRepresentativeTieBreakChain(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		members []Member
		wantID  int64
	}{
		{
			name: "highest trust wins",
			members: []Member{
				{ItemID: 1, TrustScore: 0.5, ContentLength: 9000, PublishedAt: base},
				{ItemID: 2, TrustScore: 0.9, ContentLength: 100, PublishedAt: base.Add(time.Hour)},
			},
			wantID: 2,
		},
		{
			name: "content length breaks trust tie",
			members: []Member{
				{ItemID: 1, TrustScore: 0.8, ContentLength: 400, PublishedAt: base},
				{ItemID: 2, TrustScore: 0.8, ContentLength: 900, PublishedAt: base.Add(time.Hour)},
			},
			wantID: 2,
		},
		{
			name: "earliest publish breaks remaining tie",
			members: []Member{
				{ItemID: 1, TrustScore: 0.8, ContentLength: 400, PublishedAt: base.Add(time.Hour)},
				{ItemID: 2, TrustScore: 0.8, ContentLength: 400, PublishedAt: base},
			},
			wantID: 2,
		},
		{
			name: "lowest id is the final fallback",
			members: []Member{
				{ItemID: 7, TrustScore: 0.8, ContentLength: 400, PublishedAt: base},
				{ItemID: 3, TrustScore: 0.8, ContentLength: 400, PublishedAt: base},
			},
			wantID: 3,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rep, err := SelectRepresentative(tc.members)
			if err != nil {
				t.Fatalf("SelectRepresentative: %v", err)
			}
			if rep.ItemID != tc.wantID {
				t.Fatalf("representative = %d, want %d", rep.ItemID, tc.wantID)
			}
		})
	}

	if _, err := SelectRepresentative(nil); err == nil {
		t.Fatal("expected error for empty membership")
	}
}

func TestSelectRepresentativeDeterministicAcrossOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	members := []Member{
		{ItemID: 5, TrustScore: 0.7, ContentLength: 800, PublishedAt: base},
		{ItemID: 2, TrustScore: 0.7, ContentLength: 800, PublishedAt: base},
		{ItemID: 9, TrustScore: 0.4, ContentLength: 2000, PublishedAt: base},
	}
	reversed := []Member{members[2], members[1], members[0]}

	a, err := SelectRepresentative(members)
	if err != nil {
		t.Fatalf("SelectRepresentative: %v", err)
	}
	b, err := SelectRepresentative(reversed)
	if err != nil {
		t.Fatalf("SelectRepresentative reversed: %v", err)
	}
	if a.ItemID != b.ItemID {
		t.Fatalf("representative depends on input order: %d vs %d", a.ItemID, b.ItemID)
	}
}
