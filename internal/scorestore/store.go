// Package scorestore persists the score record set produced by the batch run.
//
// A snapshot is a JSON array of types.ScoreRecord. Every Save replaces the
// previous snapshot as a whole. Paths and keys ending in ".zst" are written
// zstd-compressed; Load detects compression from the frame magic, so a
// compressed object is readable under any name.
package scorestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"praiafinder/internal/types"
)

// CompressedSuffix marks a snapshot location as zstd-compressed.
const CompressedSuffix = ".zst"

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ErrSnapshotMissing reports that a remote store holds no snapshot object.
var ErrSnapshotMissing = errors.New("snapshot object not found")

// Store reads and replaces the current snapshot.
type Store interface {
	// Load returns the current snapshot. A local file that was never written
	// yields an empty set; a remote store reports ErrSnapshotMissing so a
	// FailoverStore can read its fallback.
	Load(ctx context.Context) ([]types.ScoreRecord, error)
	// Save replaces the snapshot with records.
	Save(ctx context.Context, records []types.ScoreRecord) error
	// Name identifies the store in logs.
	Name() string
}

var (
	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
	encoderPool = sync.Pool{
		New: func() any {
			e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
			}
			return e
		},
	}
)

// Encode serializes records, compressing when name carries CompressedSuffix.
func Encode(name string, records []types.ScoreRecord) ([]byte, error) {
	if records == nil {
		records = []types.ScoreRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if !isCompressed(name) {
		return raw, nil
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode parses a snapshot body, decompressing zstd frames when present.
// An empty body is an empty set.
func Decode(data []byte) ([]types.ScoreRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []types.ScoreRecord{}, nil
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec := decoderPool.Get().(*zstd.Decoder)
		raw, err := dec.DecodeAll(data, nil)
		decoderPool.Put(dec)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalSnapshotCorrupt, "zstd decompression failed", err)
		}
		data = raw
	}

	var records []types.ScoreRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalSnapshotCorrupt, "snapshot is not a valid record array", err)
	}
	if records == nil {
		records = []types.ScoreRecord{}
	}
	return records, nil
}
