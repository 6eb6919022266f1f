package lsh

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"horse.fit/corpusdedup/internal/store"
)

func TestSplitEvenlyDivisible(t *testing.T) {
	t.Parallel()

	bands := Split([]uint64{1, 2, 3, 4, 5, 6}, 3)
	if fmt.Sprint(bands) != "[[1 2] [3 4] [5 6]]" {
		t.Fatalf("unexpected bands: %v", bands)
	}
}

func TestSplitTruncatesRemainder(t *testing.T) {
	t.Parallel()

	signature := []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	bands := Split(signature, 4)
	if len(bands) != 4 {
		t.Fatalf("unexpected band count: got %d want 4", len(bands))
	}
	if BandSize(10, 4) != 2 {
		t.Fatalf("unexpected band size: %d", BandSize(10, 4))
	}
	if fmt.Sprint(bands) != "[[0 1] [2 3] [4 5] [6 7]]" {
		t.Fatalf("unexpected bands: %v", bands)
	}
}

func TestSplitDegenerate(t *testing.T) {
	t.Parallel()

	if bands := Split(nil, 4); bands != nil {
		t.Fatalf("expected no bands for empty signature, got %v", bands)
	}
	if bands := Split([]uint64{1, 2}, 3); bands != nil {
		t.Fatalf("expected no bands when signature is shorter than band count, got %v", bands)
	}
	if BandSize(8, 0) != 0 {
		t.Fatalf("expected zero band size for zero bands")
	}
}

func TestKeysUseBandIndexAndHashWideBands(t *testing.T) {
	t.Parallel()

	keys := Keys([]uint64{7, 7, 7, 7}, 2)
	if len(keys) != 2 || keys[0].Index != 0 || keys[1].Index != 1 {
		t.Fatalf("unexpected keys: %+v", keys)
	}
	if string(keys[0].Value) != string(keys[1].Value) {
		t.Fatalf("expected equal band values at different indexes")
	}

	wide := make([]uint64, 200)
	wideKeys := Keys(wide, 1)
	if len(wideKeys[0].Value) != 32 {
		t.Fatalf("expected wide band to be digested, got %d bytes", len(wideKeys[0].Value))
	}
}

func TestPairSetCanonical(t *testing.T) {
	t.Parallel()

	set := PairSet{}
	set.Add("b", "a")
	set.Add("a", "b")
	set.Add("a", "a")
	if len(set) != 1 {
		t.Fatalf("unexpected pair count: %d", len(set))
	}
	if _, ok := set[Pair{A: "a", B: "b"}]; !ok {
		t.Fatalf("expected canonical pair a<->b, got %v", set)
	}
	set.Add("c", "a")
	sorted := set.Sorted()
	if fmt.Sprint(sorted) != "[{a b} {a c}]" {
		t.Fatalf("unexpected sorted pairs: %v", sorted)
	}
}

func TestIndexerFindsSharedBands(t *testing.T) {
	t.Parallel()

	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "coord.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	records := []store.SignatureRecord{
		{DocID: "a.txt", Signature: []uint64{1, 2, 3, 4, 5, 6, 7, 8}},
		{DocID: "b.txt", Signature: []uint64{1, 2, 3, 4, 5, 6, 7, 8}},
		// Matches a/b only in the truncated tail.
		{DocID: "c.txt", Signature: []uint64{9, 9, 9, 9, 9, 9, 7, 8}},
		{DocID: "d.txt", Signature: []uint64{0, 0, 0, 0, 0, 0, 0, 0}},
		// Differs only in the truncated tail, which no band covers.
		{DocID: "e.txt", Signature: []uint64{0, 0, 0, 0, 0, 0, 0, 1}},
	}
	if err := s.PutSignatures(ctx, records); err != nil {
		t.Fatalf("put signatures: %v", err)
	}

	idx := NewIndexer(s, 3, store.RetryPolicy{})
	indexed, err := idx.Index(ctx, 2)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if indexed != len(records) {
		t.Fatalf("unexpected indexed count: got %d want %d", indexed, len(records))
	}

	pairs, err := idx.Candidates(ctx)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	want := []Pair{{A: "a.txt", B: "b.txt"}, {A: "d.txt", B: "e.txt"}}
	if fmt.Sprint(pairs.Sorted()) != fmt.Sprint(want) {
		t.Fatalf("unexpected candidates: got %v want %v", pairs.Sorted(), want)
	}
}
