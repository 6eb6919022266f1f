// Package output writes the final newline-per-document stream.
package output

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

const (
	CompressionGzip   = "gzip"
	CompressionSnappy = "snappy"
)

// Writer compresses one document per line into an underlying stream.
type Writer struct {
	compressor io.WriteCloser
	file       *os.File
	count      int
	closed     bool
}

// NewWriter wraps w. Closing the Writer flushes the compressor but leaves w
// open.
func NewWriter(w io.Writer, compression string) (*Writer, error) {
	switch compression {
	case CompressionGzip, "":
		return &Writer{compressor: gzip.NewWriter(w)}, nil
	case CompressionSnappy:
		return &Writer{compressor: snappy.NewBufferedWriter(w)}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// Create opens path for writing, creating parent directories, and returns a
// Writer that owns the file.
func Create(path, compression string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	writer, err := NewWriter(file, compression)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, err
	}
	writer.file = file
	return writer, nil
}

// WriteDocument appends text as a single line. Embedded newlines are
// rejected so line count always equals document count.
func (w *Writer) WriteDocument(text string) error {
	if w.closed {
		return errors.New("output writer is closed")
	}
	if strings.ContainsAny(text, "\r\n") {
		return errors.New("document contains a line break")
	}
	if _, err := io.WriteString(w.compressor, text); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if _, err := io.WriteString(w.compressor, "\n"); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	w.count++
	return nil
}

// Count reports how many documents have been written.
func (w *Writer) Count() int {
	return w.count
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.compressor.Close()
	if w.file != nil {
		if closeErr := w.file.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
