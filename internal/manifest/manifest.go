// Package manifest resolves the list of document paths a pass runs over.
//
// A manifest is either a plain text file with one path per line or a JSON
// document validated against manifest.schema.json. Relative paths inside a
// manifest resolve against the manifest's own directory.
package manifest

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	ErrNoDocuments   = errors.New("manifest lists no documents")
	ErrDuplicateName = errors.New("duplicate document base name")
)

//go:embed manifest.schema.json
var manifestSchemaJSON string

// Document is the decoded form of a JSON manifest.
type Document struct {
	Version   string   `json:"version"`
	Stage     string   `json:"stage,omitempty"`
	Documents []string `json:"documents"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// Collect gathers document paths from manifest sources and explicit paths.
// A manifest source may be a file or a directory; directories contribute
// every *.manifest and *.json file they contain, in name order. Blank lines
// are skipped and repeated paths are kept once, first occurrence wins.
func Collect(manifests []string, paths []string) ([]string, error) {
	var collected []string
	for _, source := range manifests {
		entries, err := readSource(source)
		if err != nil {
			return nil, err
		}
		collected = append(collected, entries...)
	}
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		collected = append(collected, filepath.Clean(path))
	}

	seen := make(map[string]struct{}, len(collected))
	out := make([]string, 0, len(collected))
	for _, path := range collected {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	if len(out) == 0 {
		return nil, ErrNoDocuments
	}
	return out, nil
}

// CheckBaseNames fails when two paths would write the same output file.
func CheckBaseNames(paths []string) error {
	owners := make(map[string]string, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if previous, ok := owners[name]; ok {
			return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateName, name, previous, path)
		}
		owners[name] = path
	}
	return nil
}

func readSource(source string) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat manifest %s: %w", source, err)
	}
	if !info.IsDir() {
		return readFile(source)
	}

	var files []string
	for _, pattern := range []string{"*.manifest", "*.json"} {
		matches, err := filepath.Glob(filepath.Join(source, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob manifests in %s: %w", source, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	var out []string
	for _, file := range files {
		entries, err := readFile(file)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var entries []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		doc, err := ParseJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
		entries = doc.Documents
	} else {
		entries, err = parseLines(raw)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}
	}

	base := filepath.Dir(path)
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !filepath.IsAbs(entry) {
			entry = filepath.Join(base, entry)
		}
		out = append(out, filepath.Clean(entry))
	}
	return out, nil
}

func parseLines(raw []byte) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseJSON validates raw against the manifest schema and decodes it.
func ParseJSON(raw []byte) (*Document, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode manifest JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &doc, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("manifest.schema.json", strings.NewReader(manifestSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("manifest.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("manifest contains trailing content")
	}
	return value, nil
}
