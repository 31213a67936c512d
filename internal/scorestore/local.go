package scorestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"praiafinder/internal/types"
)

// LocalStore keeps the snapshot in a single file.
type LocalStore struct {
	path string
}

func NewLocalStore(path string) *LocalStore {
	return &LocalStore{path: path}
}

func (s *LocalStore) Name() string { return "file:" + s.path }

func (s *LocalStore) Load(ctx context.Context) ([]types.ScoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.ScoreRecord{}, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to read %s", s.path), err)
	}
	return Decode(data)
}

// Save writes to a temporary file in the same directory and renames it over
// the target, so readers see either the old file or the new one.
func (s *LocalStore) Save(ctx context.Context, records []types.ScoreRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(s.path, records)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to encode snapshot", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, fmt.Sprintf("failed to create %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to write snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to flush snapshot", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to publish snapshot", err)
	}
	return nil
}
