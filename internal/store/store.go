// Package store defines the per-run coordination store shared by dedup
// workers and provides the embedded bbolt backend.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTransient marks failures worth retrying (lock timeouts, serialization
// conflicts, dropped connections).
var ErrTransient = errors.New("transient store failure")

// LineHash identifies a line by the SHA-256 of its content.
type LineHash [sha256.Size]byte

func HashLine(line []byte) LineHash {
	return sha256.Sum256(line)
}

// LineCount is one aggregated contribution to the global line counter.
type LineCount struct {
	Hash  LineHash
	Count int64
}

// SignatureRecord is a document's MinHash signature.
type SignatureRecord struct {
	DocID     string
	Signature []uint64
}

// BandKey identifies one LSH bucket: a band position and the exact band
// values at that position, big-endian encoded.
type BandKey struct {
	Index int
	Value []byte
}

// BandMember records that a document hashed into a bucket.
type BandMember struct {
	Key   BandKey
	DocID string
}

// BandGroup is a bucket holding at least two documents. DocIDs are sorted.
type BandGroup struct {
	Key    BandKey
	DocIDs []string
}

// Store is the coordination surface shared by workers within one run.
// Every write method applies its whole batch in a single transaction or not
// at all, and a successful return is visible to every later read.
type Store interface {
	IncrementLineCounts(ctx context.Context, counts []LineCount) error
	LineCounts(ctx context.Context, hashes []LineHash) ([]int64, error)
	PutSignatures(ctx context.Context, records []SignatureRecord) error
	ScanSignatures(ctx context.Context, batchSize int, fn func([]SignatureRecord) error) error
	AddBandMembers(ctx context.Context, members []BandMember) error
	ScanBandGroups(ctx context.Context, fn func(BandGroup) error) error
	Close() error
}

// MarkTransient tags err as retryable.
func MarkTransient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// EncodeSignature packs signature values as consecutive big-endian uint64s.
func EncodeSignature(values []uint64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(out[i*8:], v)
	}
	return out
}

func DecodeSignature(raw []byte) ([]uint64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("signature payload length %d is not a multiple of 8", len(raw))
	}
	values := make([]uint64, len(raw)/8)
	for i := range values {
		values[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return values, nil
}
