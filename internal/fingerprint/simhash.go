// Package fingerprint computes 64-bit locality-sensitive fingerprints from
// normalized text. Similar inputs produce fingerprints with small Hamming
// distance; unrelated inputs land near 32 bits apart.
package fingerprint

import (
	"hash/fnv"
	"math/bits"
)

// BitWidth is the fixed fingerprint width.
const BitWidth = 64

const shingleSize = 3

// Fingerprint is an opaque fixed-width simhash value.
type Fingerprint uint64

// Compute builds a simhash over overlapping 3-rune shingles of the input.
// Each shingle hash votes per bit; bits with a positive tally are set. Input
// is expected to be pre-normalized (lowercased, whitespace-collapsed); the
// function itself is deterministic for identical input. Empty or too-short
// input yields the zero fingerprint, which is still a valid value.
func Compute(text string) Fingerprint {
	runes := []rune(text)
	if len(runes) < shingleSize {
		if len(runes) == 0 {
			return 0
		}
		return Fingerprint(hashShingle(string(runes)))
	}

	var tally [BitWidth]int
	for i := 0; i+shingleSize <= len(runes); i++ {
		h := hashShingle(string(runes[i : i+shingleSize]))
		for bit := 0; bit < BitWidth; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				tally[bit]++
			} else {
				tally[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < BitWidth; bit++ {
		if tally[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return Fingerprint(result)
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a) ^ uint64(b))
}

// Similarity normalizes Hamming distance to [0,1], where 1 is identical.
func Similarity(a, b Fingerprint) float64 {
	return 1 - float64(Distance(a, b))/float64(BitWidth)
}

func hashShingle(shingle string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(shingle))
	return hasher.Sum64()
}
