package fuzzy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/config"
	"horse.fit/corpusdedup/internal/store"
)

type memorySink struct {
	docs []string
}

func (s *memorySink) WriteDocument(text string) error {
	s.docs = append(s.docs, text)
	return nil
}

type failingSink struct{}

func (failingSink) WriteDocument(string) error {
	return errors.New("stream closed")
}

// rejectingStore fails any signature batch that contains a rejected doc.
type rejectingStore struct {
	*store.Bolt
	rejected string
}

func (s rejectingStore) PutSignatures(ctx context.Context, records []store.SignatureRecord) error {
	for _, record := range records {
		if record.DocID == s.rejected {
			return errors.New("constraint violation")
		}
	}
	return s.Bolt.PutSignatures(ctx, records)
}

func openBolt(t *testing.T) *store.Bolt {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "coord.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeDocs(t *testing.T, docs map[string]string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, content := range docs {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		paths = append(paths, path)
	}
	return dir, paths
}

func testParams() config.Params {
	params := config.DefaultParams()
	params.Workers = 4
	params.Representative = config.RepresentativeSmallest
	return params
}

func TestIdenticalPairKeepsOne(t *testing.T) {
	t.Parallel()

	_, paths := writeDocs(t, map[string]string{
		"a.txt": "the quick fox",
		"b.txt": "the quick fox",
	})
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams()}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Signed != 2 || summary.Candidates != 1 || summary.Confirmed != 1 || summary.Clusters != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Kept != 1 || summary.Duplicates != 1 {
		t.Fatalf("unexpected kept/duplicates: %d/%d", summary.Kept, summary.Duplicates)
	}
	if len(sink.docs) != 1 || sink.docs[0] != "the quick fox" {
		t.Fatalf("unexpected output: %q", sink.docs)
	}
}

func TestTruncatedBandingStillConfirms(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.NumHashes = 10
	params.NumBands = 4

	_, paths := writeDocs(t, map[string]string{
		"a.txt": "one two three four five six",
		"b.txt": "One, two; three four -- five six!",
	})
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: params}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Confirmed != 1 || summary.Kept != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if sink.docs[0] != "one two three four five six" {
		t.Fatalf("expected smallest path to survive, got %q", sink.docs[0])
	}
}

func TestEmptyAndShortDocumentsAreNotCandidates(t *testing.T) {
	t.Parallel()

	dir, paths := writeDocs(t, map[string]string{
		"empty.txt":  "",
		"blank.txt":  " \n\t\n",
		"short.txt":  "hi there",
		"short2.txt": "hi   there",
	})
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams()}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 0 || summary.Unsigned != 4 || summary.Candidates != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.SkippedEmpty != 2 || summary.Kept != 2 {
		t.Fatalf("unexpected output counters: kept=%d skipped=%d", summary.Kept, summary.SkippedEmpty)
	}
	if strings.Join(sink.docs, "|") != "hi there|hi there" {
		t.Fatalf("unexpected output: %q (dir %s)", sink.docs, dir)
	}
}

func TestClustersCollapseToOneRepresentativeEach(t *testing.T) {
	t.Parallel()

	first := "alpha beta gamma delta epsilon zeta eta theta"
	second := "lorem ipsum dolor sit amet consectetur adipiscing elit"
	_, paths := writeDocs(t, map[string]string{
		"a.txt": first,
		"b.txt": strings.ToUpper(first),
		"c.txt": first + "\n",
		"d.txt": "completely unrelated words live in this document here",
		"e.txt": second,
		"f.txt": second + ".",
	})
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams()}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Clusters != 2 || summary.Duplicates != 3 || summary.Kept != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	want := first + "|completely unrelated words live in this document here|" + second
	if got := strings.Join(sink.docs, "|"); got != want {
		t.Fatalf("unexpected output:\n got %s\nwant %s", got, want)
	}
}

func TestDissimilarCandidatesAreRejected(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.NumBands = params.NumHashes

	_, paths := writeDocs(t, map[string]string{
		"a.txt": "a b c d e f",
		"b.txt": "a b c d x y",
	})
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: params}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Candidates != 1 || summary.Confirmed != 0 || summary.Kept != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRandomRepresentativeIsReproducible(t *testing.T) {
	t.Parallel()

	docs := map[string]string{}
	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt"} {
		docs[name] = "the same sentence appears in every single file"
	}
	_, paths := writeDocs(t, docs)

	params := testParams()
	params.Representative = config.RepresentativeRandom
	var outputs []string
	for i := 0; i < 2; i++ {
		sink := &memorySink{}
		summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: params}).Run(context.Background(), paths, sink)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if summary.Kept != 1 {
			t.Fatalf("unexpected kept: got %d want 1", summary.Kept)
		}
		outputs = append(outputs, sink.docs[0])
	}
	if outputs[0] != outputs[1] {
		t.Fatalf("same seed produced different output: %q vs %q", outputs[0], outputs[1])
	}
}

func TestUnreadableDocumentIsReported(t *testing.T) {
	t.Parallel()

	dir, paths := writeDocs(t, map[string]string{"a.txt": "some words to sign here"})
	missing := filepath.Join(dir, "missing.txt")
	paths = append(paths, missing)

	// One document per signing wave, so the wave summaries are merged.
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams(), WriteBatch: 1}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 1 || summary.Succeeded != 1 || summary.Kept != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Failures[0].Key != missing || !strings.HasPrefix(summary.Failures[0].Reason, "sign: ") {
		t.Fatalf("unexpected failure: %+v", summary.Failures[0])
	}
}

func TestSignatureStoreFailureIsIsolated(t *testing.T) {
	t.Parallel()

	_, paths := writeDocs(t, map[string]string{
		"a.txt": "shared words in both documents",
		"b.txt": "shared words in both documents",
		"c.txt": "another document entirely different",
	})
	var rejected string
	for _, path := range paths {
		if filepath.Base(path) == "b.txt" {
			rejected = path
		}
	}

	s := rejectingStore{Bolt: openBolt(t), rejected: rejected}
	sink := &memorySink{}
	summary, err := New(s, zerolog.Nop(), Options{Params: testParams(), WriteBatch: 10}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Signed != 2 || summary.Failed != 1 || summary.Failures[0].Key != rejected {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Candidates != 0 || summary.Kept != 2 {
		t.Fatalf("unexpected candidates/kept: %d/%d", summary.Candidates, summary.Kept)
	}
}

func TestCopyDirReceivesKeptDocuments(t *testing.T) {
	t.Parallel()

	_, paths := writeDocs(t, map[string]string{
		"a.txt": "kept   original\nformatting here",
		"b.txt": "kept original formatting here",
		"c.txt": "unique text body for c",
		"d.txt": " \n\t\n",
	})
	copyDir := filepath.Join(t.TempDir(), "kept")
	sink := &memorySink{}
	summary, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams(), CopyDir: copyDir}).Run(context.Background(), paths, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Kept != 2 || summary.SkippedEmpty != 1 || len(sink.docs) != 2 {
		t.Fatalf("unexpected summary: kept=%d skipped_empty=%d written=%d", summary.Kept, summary.SkippedEmpty, len(sink.docs))
	}
	raw, err := os.ReadFile(filepath.Join(copyDir, "a.txt"))
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(raw) != "kept   original\nformatting here" {
		t.Fatalf("copy was modified: %q", raw)
	}
	blank, err := os.ReadFile(filepath.Join(copyDir, "d.txt"))
	if err != nil {
		t.Fatalf("expected whitespace-only survivor to be copied: %v", err)
	}
	if string(blank) != " \n\t\n" {
		t.Fatalf("copy was modified: %q", blank)
	}
	if _, err := os.Stat(filepath.Join(copyDir, "b.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected duplicate b.txt not to be copied, stat err=%v", err)
	}
}

func TestRunFailsFastOnInvalidParamsAndBrokenSink(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.Threshold = 1.5
	_, err := New(openBolt(t), zerolog.Nop(), Options{Params: params}).Run(context.Background(), nil, &memorySink{})
	if !errors.Is(err, config.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}

	_, paths := writeDocs(t, map[string]string{"a.txt": "text to write out"})
	if _, err := New(openBolt(t), zerolog.Nop(), Options{Params: testParams()}).Run(context.Background(), paths, failingSink{}); err == nil {
		t.Fatalf("expected broken sink to fail the run")
	}
}
