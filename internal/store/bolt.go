package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	lineCountsBucket = []byte("line_counts")
	signaturesBucket = []byte("signatures")
	bandsBucket      = []byte("band_members")
)

const bandScanChunk = 256

// Bolt is the embedded single-file backend. Concurrent writers are
// coalesced with bolt's Batch so each worker's call stays one atomic
// transaction without serializing every worker on its own fsync.
type Bolt struct {
	db   *bolt.DB
	path string
}

var _ Store = (*Bolt)(nil)

func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory failed: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, MarkTransient(fmt.Errorf("open bolt store %s: %w", path, err))
		}
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{lineCountsBucket, signaturesBucket, bandsBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(name); createErr != nil {
				return createErr
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, path: path}, nil
}

func (store *Bolt) Path() string {
	if store == nil {
		return ""
	}
	return store.path
}

func (store *Bolt) Close() error {
	if store == nil || store.db == nil {
		return nil
	}
	return store.db.Close()
}

// Remove closes the store and deletes its file.
func (store *Bolt) Remove() error {
	if store == nil {
		return nil
	}
	closeErr := store.Close()
	if err := os.Remove(store.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

func (store *Bolt) IncrementLineCounts(ctx context.Context, counts []LineCount) error {
	if len(counts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.db.Batch(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(lineCountsBucket)
		for _, item := range counts {
			current := int64(0)
			if raw := bucket.Get(item.Hash[:]); raw != nil {
				current = int64(binary.BigEndian.Uint64(raw))
			}
			value := make([]byte, 8)
			binary.BigEndian.PutUint64(value, uint64(current+item.Count))
			if err := bucket.Put(append([]byte(nil), item.Hash[:]...), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (store *Bolt) LineCounts(ctx context.Context, hashes []LineHash) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]int64, len(hashes))
	err := store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(lineCountsBucket)
		for i, hash := range hashes {
			if raw := bucket.Get(hash[:]); raw != nil {
				result[i] = int64(binary.BigEndian.Uint64(raw))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (store *Bolt) PutSignatures(ctx context.Context, records []SignatureRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.db.Batch(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(signaturesBucket)
		for _, record := range records {
			if record.DocID == "" {
				return fmt.Errorf("signature record has empty document id")
			}
			if err := bucket.Put([]byte(record.DocID), EncodeSignature(record.Signature)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanSignatures reads signatures in key order, batchSize at a time. Each
// batch comes from its own read transaction so fn may write to the store.
func (store *Bolt) ScanSignatures(ctx context.Context, batchSize int, fn func([]SignatureRecord) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := make([]SignatureRecord, 0, batchSize)
		err := store.db.View(func(tx *bolt.Tx) error {
			cursor := tx.Bucket(signaturesBucket).Cursor()
			key, value := seekAfter(cursor, after)
			for ; key != nil && len(batch) < batchSize; key, value = cursor.Next() {
				signature, decodeErr := DecodeSignature(value)
				if decodeErr != nil {
					return fmt.Errorf("decode signature for %s: %w", key, decodeErr)
				}
				batch = append(batch, SignatureRecord{DocID: string(key), Signature: signature})
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		after = []byte(batch[len(batch)-1].DocID)
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (store *Bolt) AddBandMembers(ctx context.Context, members []BandMember) error {
	if len(members) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.db.Batch(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bandsBucket)
		for _, member := range members {
			if member.DocID == "" {
				return fmt.Errorf("band member has empty document id")
			}
			if err := bucket.Put(bandMemberKey(member), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanBandGroups walks band buckets in key order and calls fn for every
// bucket with two or more distinct documents.
func (store *Bolt) ScanBandGroups(ctx context.Context, fn func(BandGroup) error) error {
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		groups := make([]BandGroup, 0, bandScanChunk)
		var last []byte
		err := store.db.View(func(tx *bolt.Tx) error {
			cursor := tx.Bucket(bandsBucket).Cursor()
			key, _ := seekAfter(cursor, after)
			var (
				prefix  []byte
				current BandGroup
			)
			flush := func() {
				if len(current.DocIDs) >= 2 {
					groups = append(groups, current)
				}
			}
			for ; key != nil; key, _ = cursor.Next() {
				bandKey, docID, splitErr := splitBandMemberKey(key)
				if splitErr != nil {
					return splitErr
				}
				keyPrefix := key[:len(key)-len(docID)]
				if prefix == nil || !bytes.Equal(prefix, keyPrefix) {
					if prefix != nil {
						flush()
						if len(groups) >= bandScanChunk {
							return nil
						}
					}
					prefix = append([]byte(nil), keyPrefix...)
					current = BandGroup{Key: bandKey}
				}
				current.DocIDs = append(current.DocIDs, docID)
				last = append(last[:0], key...)
			}
			flush()
			last = nil
			return nil
		})
		if err != nil {
			return err
		}
		for _, group := range groups {
			if err := fn(group); err != nil {
				return err
			}
		}
		if last == nil {
			return nil
		}
		after = last
	}
}

// seekAfter positions the cursor on the first key strictly greater than
// after, or on the first key when after is nil.
func seekAfter(cursor *bolt.Cursor, after []byte) ([]byte, []byte) {
	if after == nil {
		return cursor.First()
	}
	key, value := cursor.Seek(after)
	if key != nil && bytes.Equal(key, after) {
		return cursor.Next()
	}
	return key, value
}

// Band member keys are index(4) | len(value)(2) | value | docID, so all
// members of one bucket are adjacent and sorted by document id.
func bandMemberKey(member BandMember) []byte {
	key := make([]byte, 0, 6+len(member.Key.Value)+len(member.DocID))
	key = binary.BigEndian.AppendUint32(key, uint32(member.Key.Index))
	key = binary.BigEndian.AppendUint16(key, uint16(len(member.Key.Value)))
	key = append(key, member.Key.Value...)
	return append(key, member.DocID...)
}

func splitBandMemberKey(key []byte) (BandKey, string, error) {
	if len(key) < 6 {
		return BandKey{}, "", fmt.Errorf("band member key too short: %d bytes", len(key))
	}
	index := int(binary.BigEndian.Uint32(key[:4]))
	valueLen := int(binary.BigEndian.Uint16(key[4:6]))
	if len(key) < 6+valueLen {
		return BandKey{}, "", fmt.Errorf("band member key truncated")
	}
	value := append([]byte(nil), key[6:6+valueLen]...)
	return BandKey{Index: index, Value: value}, string(key[6+valueLen:]), nil
}
