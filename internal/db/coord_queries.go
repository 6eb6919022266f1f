package db

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"horse.fit/corpusdedup/internal/store"
)

// rowsPerStatement keeps multi-row statements well under the 65535 bind
// parameter limit of the postgres wire protocol.
const rowsPerStatement = 1000

// RunStore is the postgres coordination store for one run. Every row it
// touches carries the run id, so concurrent runs share tables safely and a
// run's scratch state can be dropped with Discard.
type RunStore struct {
	pool  *Pool
	runID string
}

var _ store.Store = (*RunStore)(nil)

func (p *Pool) Scope(runID string) *RunStore {
	return &RunStore{pool: p, runID: strings.TrimSpace(runID)}
}

func (s *RunStore) RunID() string {
	return s.runID
}

// Close releases nothing; the pool is owned by the caller.
func (s *RunStore) Close() error {
	return nil
}

// Discard deletes all scratch rows of the run.
func (s *RunStore) Discard(ctx context.Context) error {
	return s.pool.InTx(ctx, func(tx Tx) error {
		for _, table := range []string{"dedup.line_counts", "dedup.signatures", "dedup.band_members"} {
			if err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE run_id = $1", s.runID); err != nil {
				return fmt.Errorf("discard %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *RunStore) IncrementLineCounts(ctx context.Context, counts []store.LineCount) error {
	if len(counts) == 0 {
		return nil
	}
	merged := mergeLineCounts(counts)

	return s.pool.InTx(ctx, func(tx Tx) error {
		for start := 0; start < len(merged); start += rowsPerStatement {
			chunk := merged[start:min(start+rowsPerStatement, len(merged))]
			args := make([]any, 0, 1+2*len(chunk))
			args = append(args, s.runID)
			for _, item := range chunk {
				args = append(args, item.Hash[:], item.Count)
			}
			q := `
INSERT INTO dedup.line_counts (run_id, line_hash, count)
VALUES ` + valuesList(len(chunk), 2, true) + `
ON CONFLICT (run_id, line_hash)
DO UPDATE SET count = dedup.line_counts.count + EXCLUDED.count
`
			if err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("upsert line counts: %w", err)
			}
		}
		return nil
	})
}

func (s *RunStore) LineCounts(ctx context.Context, hashes []store.LineHash) ([]int64, error) {
	result := make([]int64, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}

	positions := make(map[store.LineHash][]int, len(hashes))
	unique := make([]store.LineHash, 0, len(hashes))
	for i, hash := range hashes {
		if _, seen := positions[hash]; !seen {
			unique = append(unique, hash)
		}
		positions[hash] = append(positions[hash], i)
	}

	for start := 0; start < len(unique); start += rowsPerStatement {
		chunk := unique[start:min(start+rowsPerStatement, len(unique))]
		args := make([]any, 0, 1+len(chunk))
		args = append(args, s.runID)
		for _, hash := range chunk {
			args = append(args, hash[:])
		}
		q := `
SELECT line_hash, count
FROM dedup.line_counts
WHERE run_id = $1
  AND line_hash IN (` + placeholders(2, len(chunk)) + `)
`
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, fmt.Errorf("query line counts: %w", err)
		}
		for rows.Next() {
			var (
				raw   []byte
				count int64
			)
			if err := rows.Scan(&raw, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan line count: %w", err)
			}
			var hash store.LineHash
			copy(hash[:], raw)
			for _, i := range positions[hash] {
				result[i] = count
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate line counts: %w", classify(err))
		}
	}
	return result, nil
}

func (s *RunStore) PutSignatures(ctx context.Context, records []store.SignatureRecord) error {
	if len(records) == 0 {
		return nil
	}
	latest := make(map[string][]uint64, len(records))
	for _, record := range records {
		if record.DocID == "" {
			return fmt.Errorf("signature record has empty document id")
		}
		latest[record.DocID] = record.Signature
	}
	docIDs := make([]string, 0, len(latest))
	for docID := range latest {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	return s.pool.InTx(ctx, func(tx Tx) error {
		for start := 0; start < len(docIDs); start += rowsPerStatement {
			chunk := docIDs[start:min(start+rowsPerStatement, len(docIDs))]
			args := make([]any, 0, 1+2*len(chunk))
			args = append(args, s.runID)
			for _, docID := range chunk {
				args = append(args, docID, store.EncodeSignature(latest[docID]))
			}
			q := `
INSERT INTO dedup.signatures (run_id, doc_id, signature)
VALUES ` + valuesList(len(chunk), 2, true) + `
ON CONFLICT (run_id, doc_id)
DO UPDATE SET signature = EXCLUDED.signature
`
			if err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("upsert signatures: %w", err)
			}
		}
		return nil
	})
}

func (s *RunStore) ScanSignatures(ctx context.Context, batchSize int, fn func([]store.SignatureRecord) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	const q = `
SELECT doc_id, signature
FROM dedup.signatures
WHERE run_id = $1
  AND doc_id COLLATE "C" > $2
ORDER BY doc_id COLLATE "C"
LIMIT $3
`
	after := ""
	for {
		rows, err := s.pool.Query(ctx, q, s.runID, after, batchSize)
		if err != nil {
			return fmt.Errorf("query signatures: %w", err)
		}
		batch := make([]store.SignatureRecord, 0, batchSize)
		for rows.Next() {
			var (
				docID string
				raw   []byte
			)
			if err := rows.Scan(&docID, &raw); err != nil {
				rows.Close()
				return fmt.Errorf("scan signature: %w", err)
			}
			signature, err := store.DecodeSignature(raw)
			if err != nil {
				rows.Close()
				return fmt.Errorf("decode signature for %s: %w", docID, err)
			}
			batch = append(batch, store.SignatureRecord{DocID: docID, Signature: signature})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate signatures: %w", classify(err))
		}
		if len(batch) == 0 {
			return nil
		}
		after = batch[len(batch)-1].DocID
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (s *RunStore) AddBandMembers(ctx context.Context, members []store.BandMember) error {
	if len(members) == 0 {
		return nil
	}
	for _, member := range members {
		if member.DocID == "" {
			return fmt.Errorf("band member has empty document id")
		}
	}
	sorted := append([]store.BandMember(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key.Index != sorted[j].Key.Index {
			return sorted[i].Key.Index < sorted[j].Key.Index
		}
		if c := bytes.Compare(sorted[i].Key.Value, sorted[j].Key.Value); c != 0 {
			return c < 0
		}
		return sorted[i].DocID < sorted[j].DocID
	})

	return s.pool.InTx(ctx, func(tx Tx) error {
		for start := 0; start < len(sorted); start += rowsPerStatement {
			chunk := sorted[start:min(start+rowsPerStatement, len(sorted))]
			args := make([]any, 0, 1+3*len(chunk))
			args = append(args, s.runID)
			for _, member := range chunk {
				args = append(args, member.Key.Index, member.Key.Value, member.DocID)
			}
			q := `
INSERT INTO dedup.band_members (run_id, band_index, band_value, doc_id)
VALUES ` + valuesList(len(chunk), 3, true) + `
ON CONFLICT DO NOTHING
`
			if err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("insert band members: %w", err)
			}
		}
		return nil
	})
}

func (s *RunStore) ScanBandGroups(ctx context.Context, fn func(store.BandGroup) error) error {
	const q = `
SELECT m.band_index, m.band_value, m.doc_id
FROM dedup.band_members m
JOIN (
	SELECT band_index, band_value
	FROM dedup.band_members
	WHERE run_id = $1
	GROUP BY band_index, band_value
	HAVING COUNT(*) > 1
) g ON g.band_index = m.band_index AND g.band_value = m.band_value
WHERE m.run_id = $1
ORDER BY m.band_index, m.band_value, m.doc_id COLLATE "C"
`
	rows, err := s.pool.Query(ctx, q, s.runID)
	if err != nil {
		return fmt.Errorf("query band groups: %w", err)
	}
	defer rows.Close()

	var current *store.BandGroup
	for rows.Next() {
		var (
			index int
			value []byte
			docID string
		)
		if err := rows.Scan(&index, &value, &docID); err != nil {
			return fmt.Errorf("scan band member: %w", err)
		}
		if current == nil || current.Key.Index != index || !bytes.Equal(current.Key.Value, value) {
			if current != nil {
				if err := fn(*current); err != nil {
					return err
				}
			}
			current = &store.BandGroup{Key: store.BandKey{Index: index, Value: value}}
		}
		current.DocIDs = append(current.DocIDs, docID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate band members: %w", classify(err))
	}
	if current != nil {
		return fn(*current)
	}
	return nil
}

// mergeLineCounts sums duplicate hashes and sorts the result so concurrent
// upserts lock rows in the same order.
func mergeLineCounts(counts []store.LineCount) []store.LineCount {
	sums := make(map[store.LineHash]int64, len(counts))
	for _, item := range counts {
		sums[item.Hash] += item.Count
	}
	merged := make([]store.LineCount, 0, len(sums))
	for hash, count := range sums {
		merged = append(merged, store.LineCount{Hash: hash, Count: count})
	}
	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Hash[:], merged[j].Hash[:]) < 0
	})
	return merged
}

// valuesList renders rows of bind placeholders. With leadingRunID every
// row starts with $1 and the per-row parameters begin at $2.
func valuesList(rows, perRow int, leadingRunID bool) string {
	var b strings.Builder
	next := 1
	if leadingRunID {
		next = 2
	}
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		if leadingRunID {
			b.WriteString("$1, ")
		}
		b.WriteString(placeholders(next, perRow))
		next += perRow
		b.WriteByte(')')
	}
	return b.String()
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
