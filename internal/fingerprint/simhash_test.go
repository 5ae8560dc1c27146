package fingerprint

import "testing"

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()

	text := "acme launches orbital drone platform for rural deliveries"
	if Compute(text) != Compute(text) {
		t.Fatalf("expected identical fingerprints for identical input")
	}
}

func TestCompute_Empty(t *testing.T) {
	t.Parallel()

	if Compute("") != 0 {
		t.Fatalf("expected zero fingerprint for empty input")
	}
	if Distance(Compute(""), Compute("")) != 0 {
		t.Fatalf("expected zero distance between empty fingerprints")
	}
}

func TestDistance_NearIdenticalTextStaysClose(t *testing.T) {
	t.Parallel()

	left := Compute("central bank raises interest rates by quarter point amid inflation fears")
	right := Compute("central bank raises interest rates by half point amid inflation fears")

	distance := Distance(left, right)
	if distance >= BitWidth/10 {
		t.Fatalf("expected one-word edit to stay under 10%% of bit width, got distance %d", distance)
	}
}

func TestDistance_UnrelatedTextNearRandom(t *testing.T) {
	t.Parallel()

	left := Compute("central bank raises interest rates by quarter point amid inflation fears")
	right := Compute("local gardening club announces annual pumpkin growing contest winners today")

	distance := Distance(left, right)
	if distance < 16 || distance > 48 {
		t.Fatalf("expected unrelated text to land near 32 bits apart, got distance %d", distance)
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	t.Parallel()

	a := Compute("alpha beta gamma")
	if got := Similarity(a, a); got != 1 {
		t.Fatalf("expected self similarity 1, got %f", got)
	}

	b := Fingerprint(^uint64(a))
	if got := Similarity(a, b); got != 0 {
		t.Fatalf("expected inverted fingerprint similarity 0, got %f", got)
	}
}
