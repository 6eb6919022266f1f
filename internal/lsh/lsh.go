// Package lsh splits MinHash signatures into bands and turns shared band
// buckets into candidate near-duplicate pairs.
package lsh

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"horse.fit/corpusdedup/internal/store"
)

// maxRawBandBytes is the largest band stored verbatim. Wider bands are
// keyed by their SHA-256 digest to stay inside store key limits.
const maxRawBandBytes = 512

// BandSize is ⌊k / bands⌋. Trailing k mod bands signature values belong to
// no band.
func BandSize(k, bands int) int {
	if bands < 1 || k < bands {
		return 0
	}
	return k / bands
}

// Split cuts a signature into exactly bands contiguous sub-slices of equal
// length, dropping any remainder. It returns nil when the signature is
// shorter than the band count.
func Split(signature []uint64, bands int) [][]uint64 {
	size := BandSize(len(signature), bands)
	if size == 0 {
		return nil
	}
	out := make([][]uint64, bands)
	for i := range out {
		out[i] = signature[i*size : (i+1)*size]
	}
	return out
}

// Keys returns the store bucket keys of a signature, one per band.
func Keys(signature []uint64, bands int) []store.BandKey {
	split := Split(signature, bands)
	keys := make([]store.BandKey, len(split))
	for i, band := range split {
		value := store.EncodeSignature(band)
		if len(value) > maxRawBandBytes {
			digest := sha256.Sum256(value)
			value = digest[:]
		}
		keys[i] = store.BandKey{Index: i, Value: value}
	}
	return keys
}

// Pair is an unordered document pair stored with A < B.
type Pair struct {
	A string
	B string
}

func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

func (p Pair) String() string {
	return p.A + " <-> " + p.B
}

// PairSet is a set of candidate pairs.
type PairSet map[Pair]struct{}

func (s PairSet) Add(a, b string) {
	if a == b {
		return
	}
	s[NewPair(a, b)] = struct{}{}
}

// Sorted returns the pairs ordered by (A, B).
func (s PairSet) Sorted() []Pair {
	pairs := make([]Pair, 0, len(s))
	for pair := range s {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// BandStore is the part of the coordination store the indexer needs.
type BandStore interface {
	ScanSignatures(ctx context.Context, batchSize int, fn func([]store.SignatureRecord) error) error
	AddBandMembers(ctx context.Context, members []store.BandMember) error
	ScanBandGroups(ctx context.Context, fn func(store.BandGroup) error) error
}

// Indexer records band memberships for every stored signature and reads
// back the candidate pairs. Signatures are streamed from the store in
// batches; only one batch is held in memory at a time.
type Indexer struct {
	store BandStore
	bands int
	retry store.RetryPolicy
}

func NewIndexer(s BandStore, bands int, retry store.RetryPolicy) *Indexer {
	return &Indexer{store: s, bands: bands, retry: retry}
}

// Index writes the band memberships of all stored signatures. Each read
// batch becomes one store transaction.
func (idx *Indexer) Index(ctx context.Context, batchSize int) (int, error) {
	indexed := 0
	err := idx.store.ScanSignatures(ctx, batchSize, func(batch []store.SignatureRecord) error {
		members := make([]store.BandMember, 0, len(batch)*idx.bands)
		for _, record := range batch {
			for _, key := range Keys(record.Signature, idx.bands) {
				members = append(members, store.BandMember{Key: key, DocID: record.DocID})
			}
		}
		err := store.Retry(ctx, idx.retry, func(ctx context.Context) error {
			return idx.store.AddBandMembers(ctx, members)
		})
		if err != nil {
			return fmt.Errorf("record band members: %w", err)
		}
		indexed += len(batch)
		return nil
	})
	return indexed, err
}

// Candidates expands every bucket with two or more members into all of its
// pairwise combinations.
func (idx *Indexer) Candidates(ctx context.Context) (PairSet, error) {
	pairs := PairSet{}
	err := idx.store.ScanBandGroups(ctx, func(group store.BandGroup) error {
		for i := 0; i < len(group.DocIDs); i++ {
			for j := i + 1; j < len(group.DocIDs); j++ {
				pairs.Add(group.DocIDs[i], group.DocIDs[j])
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan band groups: %w", err)
	}
	return pairs, nil
}
