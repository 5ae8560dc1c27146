package cluster

import (
	"errors"
	"testing"

	"github.com/TOOITW/morning-pulse/internal/fingerprint"
)

func TestPendingFingerprintComputesFromText(t *testing.T) {
	t.Parallel()

	text := "central bank raises rates by a quarter point amid inflation worries"
	item := pendingItem{NormalizedText: text}
	item.ItemID = 7

	fp, err := pendingFingerprint(item)
	if err != nil {
		t.Fatalf("pendingFingerprint: %v", err)
	}
	if fp != fingerprint.Compute(text) {
		t.Fatalf("fingerprint %x does not match text", uint64(fp))
	}
}

func TestPendingFingerprintKeepsStoredValue(t *testing.T) {
	t.Parallel()

	item := pendingItem{HasFingerprint: true}
	item.Fingerprint = fingerprint.Fingerprint(0xDEAD)
	item.NormalizedText = "ignored when a fingerprint already exists"

	fp, err := pendingFingerprint(item)
	if err != nil {
		t.Fatalf("pendingFingerprint: %v", err)
	}
	if fp != item.Fingerprint {
		t.Fatalf("got %x, want the stored fingerprint", uint64(fp))
	}
}

func TestPendingFingerprintRejectsEmptyText(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   \t\n"} {
		item := pendingItem{NormalizedText: text}
		item.ItemID = 9
		if _, err := pendingFingerprint(item); !errors.Is(err, ErrMissingFingerprint) {
			t.Fatalf("text %q: err = %v, want ErrMissingFingerprint", text, err)
		}
	}
}

func TestAdvisoryLockKeyIsStable(t *testing.T) {
	t.Parallel()

	if advisoryLockKey("pulse.cluster_pass") != clusterPassLockKey {
		t.Fatal("lock key changed for the same name")
	}
	if advisoryLockKey("pulse.cluster_pass") == advisoryLockKey("pulse.other") {
		t.Fatal("distinct names collided")
	}
}
