// Package minhash builds word n-gram shingle sets and MinHash signatures.
package minhash

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/zeebo/xxh3"

	"horse.fit/corpusdedup/internal/normalize"
)

// Set is a shingle set.
type Set map[string]struct{}

// Shingles returns the set of space-joined word n-grams of an already
// normalized text. Texts with fewer than n words yield an empty set.
func Shingles(text string, n int) Set {
	if n < 1 {
		return Set{}
	}
	words := strings.Fields(text)
	if len(words) < n {
		return Set{}
	}

	set := make(Set, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		set[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return set
}

// DocumentShingles reads a document from disk, normalizes it and shingles it.
func DocumentShingles(path string, n int) (Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", path, err)
	}
	return Shingles(normalize.Text(string(raw)), n), nil
}

// Signer computes fixed-length MinHash signatures. Hash function i is xxh3
// seeded with i, so signatures from different workers are comparable as
// long as they share numHashes.
type Signer struct {
	numHashes int
}

func NewSigner(numHashes int) *Signer {
	if numHashes < 1 {
		numHashes = 1
	}
	return &Signer{numHashes: numHashes}
}

// Sign returns nil for an empty shingle set.
func (s *Signer) Sign(set Set) []uint64 {
	if len(set) == 0 {
		return nil
	}

	signature := make([]uint64, s.numHashes)
	for i := range signature {
		signature[i] = math.MaxUint64
	}
	for shingle := range set {
		for i := range signature {
			if h := xxh3.HashStringSeed(shingle, uint64(i)); h < signature[i] {
				signature[i] = h
			}
		}
	}
	return signature
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets have similarity 0.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for shingle := range small {
		if _, ok := large[shingle]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
