package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCollectPlainManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "stage1.manifest")
	writeFile(t, manifestPath, "docs/a.txt\n\n  /abs/b.txt  \n# skipped\ndocs/a.txt\n")

	paths, err := Collect([]string{manifestPath}, nil)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{filepath.Join(dir, "docs", "a.txt"), "/abs/b.txt"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected paths: got %v want %v", paths, want)
	}
}

func TestCollectDirectoryOfManifests(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.manifest"), "/data/2.txt\n")
	writeFile(t, filepath.Join(dir, "a.manifest"), "/data/1.txt\n")
	writeFile(t, filepath.Join(dir, "c.json"), `{"version":"v1","stage":"extract","documents":["/data/3.txt","/data/1.txt"]}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "/data/ignored.txt\n")

	paths, err := Collect([]string{dir}, []string{"/data/4.txt", "  "})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	got := strings.Join(paths, ",")
	if got != "/data/1.txt,/data/2.txt,/data/3.txt,/data/4.txt" {
		t.Fatalf("unexpected paths: %s", got)
	}
}

func TestCollectEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "empty.manifest")
	writeFile(t, manifestPath, "\n\n")

	if _, err := Collect([]string{manifestPath}, nil); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
	if _, err := Collect(nil, nil); !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("expected ErrNoDocuments, got %v", err)
	}
}

func TestCollectMissingManifest(t *testing.T) {
	t.Parallel()

	if _, err := Collect([]string{filepath.Join(t.TempDir(), "missing.manifest")}, nil); err == nil {
		t.Fatalf("expected missing manifest to fail")
	}
}

func TestParseJSONRejectsInvalidManifests(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"wrong version":   `{"version":"v2","documents":[]}`,
		"unknown field":   `{"version":"v1","documents":[],"extra":true}`,
		"empty path":      `{"version":"v1","documents":[""]}`,
		"missing docs":    `{"version":"v1"}`,
		"trailing":        `{"version":"v1","documents":[]} {}`,
		"empty":           `   `,
		"non-string path": `{"version":"v1","documents":[42]}`,
	}
	for name, raw := range cases {
		if _, err := ParseJSON([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	doc, err := ParseJSON([]byte(`{"version":"v1","documents":["a.txt"]}`))
	if err != nil {
		t.Fatalf("parse valid manifest: %v", err)
	}
	if len(doc.Documents) != 1 || doc.Documents[0] != "a.txt" {
		t.Fatalf("unexpected documents: %v", doc.Documents)
	}
}

func TestCheckBaseNames(t *testing.T) {
	t.Parallel()

	if err := CheckBaseNames([]string{"/a/one.txt", "/b/two.txt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckBaseNames([]string{"/a/one.txt", "/b/one.txt"})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}
