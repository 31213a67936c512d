package scorestore

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"praiafinder/internal/types"
)

// FailoverStore prefers a remote primary and falls back to a local copy.
// Load reads the primary and uses the fallback when the primary fails or holds
// no snapshot.
// Save writes both; the run fails only when neither copy was written.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *slog.Logger
}

func NewFailoverStore(primary, fallback Store, logger *slog.Logger) *FailoverStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

func (s *FailoverStore) Name() string {
	return s.primary.Name() + "|" + s.fallback.Name()
}

func (s *FailoverStore) Load(ctx context.Context) ([]types.ScoreRecord, error) {
	records, err := s.primary.Load(ctx)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if errors.Is(err, ErrSnapshotMissing) {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "primary snapshot unavailable; reading fallback",
		"primary", s.primary.Name(),
		"fallback", s.fallback.Name(),
		"error", err,
	)
	return s.fallback.Load(ctx)
}

func (s *FailoverStore) Save(ctx context.Context, records []types.ScoreRecord) error {
	primaryErr := s.primary.Save(ctx, records)
	if primaryErr != nil {
		s.logger.ErrorContext(ctx, "failed to write primary snapshot", "store", s.primary.Name(), "error", primaryErr)
	}
	fallbackErr := s.fallback.Save(ctx, records)
	if fallbackErr != nil {
		s.logger.WarnContext(ctx, "failed to write fallback snapshot", "store", s.fallback.Name(), "error", fallbackErr)
	}

	if primaryErr != nil && fallbackErr != nil {
		return errors.Join(primaryErr, fallbackErr)
	}
	return nil
}

// New selects the store layout for the given locations: S3 with a local
// fallback when bucket is set, the local file alone otherwise.
func New(s3Client S3API, bucket, key, localPath string, logger *slog.Logger) Store {
	local := NewLocalStore(localPath)
	if bucket == "" || s3Client == nil {
		return local
	}
	return NewFailoverStore(NewS3Store(s3Client, bucket, key), local, logger)
}

func isCompressed(name string) bool {
	return strings.HasSuffix(name, CompressedSuffix)
}
