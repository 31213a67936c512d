package scorestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"praiafinder/internal/types"
)

func sampleRecords() []types.ScoreRecord {
	ts := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	return []types.ScoreRecord{
		{
			LocationID: "carcavelos",
			Mode:       types.ModeSurf,
			Timestamp:  ts,
			WaterType:  types.WaterTypeMarine,
			Score:      7.4,
			Breakdown:  types.Breakdown{Wind: types.Float(8), Wave: types.Float(6.5)},
			Inputs:     types.Conditions{WindSpeedKmh: 9, WindFromDeg: 45, WaveHeightM: types.Float(1.1)},
		},
		{
			LocationID: "aguieira",
			Mode:       types.ModeFamily,
			Timestamp:  ts.Add(time.Hour),
			WaterType:  types.WaterTypeInland,
			Score:      8.1,
			Breakdown:  types.Breakdown{Current: types.Float(9)},
		},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, name := range []string{"scores.json", "scores.json.zst"} {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(name, sampleRecords())
			require.NoError(t, err)
			assert.Equal(t, isCompressed(name), bytes.HasPrefix(data, zstdMagic))

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, sampleRecords(), got)
		})
	}
}

func TestCodec_EmptyAndCorrupt(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	data, err := Encode("x.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	_, err = Decode([]byte(`{"not":"an array"}`))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalSnapshotCorrupt, appErr.Code)

	_, err = Decode(append(append([]byte{}, zstdMagic...), 0x00, 0x01))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalSnapshotCorrupt, appErr.Code)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("missing file is empty", func(t *testing.T) {
		got, err := NewLocalStore(filepath.Join(dir, "absent.json")).Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("save replaces previous snapshot", func(t *testing.T) {
		s := NewLocalStore(filepath.Join(dir, "nested", "scores.json.zst"))
		require.NoError(t, s.Save(ctx, sampleRecords()))
		require.NoError(t, s.Save(ctx, sampleRecords()[:1]))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampleRecords()[:1], got)

		entries, err := os.ReadDir(filepath.Join(dir, "nested"))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files are cleaned up")
	})

	t.Run("unreadable snapshot", func(t *testing.T) {
		p := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(p, []byte("not json"), 0o644))
		_, err := NewLocalStore(p).Load(ctx)
		assert.Error(t, err)
	})
}

type mockS3 struct {
	mock.Mock
	objects map[string][]byte
}

func (m *mockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, *in.Bucket, *in.Key)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(m.objects[*in.Key]))}, nil
}

func (m *mockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, *in.Bucket, *in.Key, *in.ContentType)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(in.Body)
	m.objects[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func newMockS3() *mockS3 { return &mockS3{objects: map[string][]byte{}} }

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newMockS3()
	client.On("PutObject", ctx, "bucket", "scores/latest.json.zst", "application/zstd").Return(nil)
	client.On("GetObject", ctx, "bucket", "scores/latest.json.zst").Return(nil)

	s := NewS3Store(client, "bucket", "scores/latest.json.zst")
	require.NoError(t, s.Save(ctx, sampleRecords()))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)
	assert.Equal(t, "s3://bucket/scores/latest.json.zst", s.Name())
	client.AssertExpectations(t)
}

func TestS3Store_MissingKey(t *testing.T) {
	ctx := context.Background()
	client := newMockS3()
	client.On("GetObject", ctx, "bucket", "k.json").Return(&s3types.NoSuchKey{})

	got, err := NewS3Store(client, "bucket", "k.json").Load(ctx)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
	assert.Nil(t, got)
}

func TestFailoverStore_MissingPrimaryReadsLocal(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(filepath.Join(t.TempDir(), "scores.json"))
	require.NoError(t, local.Save(ctx, sampleRecords()))

	client := newMockS3()
	client.On("GetObject", ctx, "bucket", "k.json").Return(&s3types.NoSuchKey{})

	got, err := New(client, "bucket", "k.json", local.path, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)

	empty := NewLocalStore(filepath.Join(t.TempDir(), "none.json"))
	got, err = NewFailoverStore(NewS3Store(client, "bucket", "k.json"), empty, nil).Load(ctx)
	require.NoError(t, err, "no snapshot anywhere is an empty set")
	assert.Empty(t, got)
}

func TestFailoverStore_LoadFallsBack(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStore(filepath.Join(t.TempDir(), "scores.json"))
	require.NoError(t, local.Save(ctx, sampleRecords()))

	client := newMockS3()
	client.On("GetObject", ctx, "bucket", "k.json").Return(errors.New("access denied"))

	got, err := NewFailoverStore(NewS3Store(client, "bucket", "k.json"), local, nil).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)
}

func TestFailoverStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("writes both copies", func(t *testing.T) {
		local := NewLocalStore(filepath.Join(t.TempDir(), "scores.json"))
		client := newMockS3()
		client.On("PutObject", ctx, "bucket", "k.json", "application/json").Return(nil)

		require.NoError(t, NewFailoverStore(NewS3Store(client, "bucket", "k.json"), local, nil).Save(ctx, sampleRecords()))

		fromLocal, err := local.Load(ctx)
		require.NoError(t, err)
		assert.Len(t, fromLocal, 2)
		assert.NotEmpty(t, client.objects["k.json"])
	})

	t.Run("primary failure is tolerated", func(t *testing.T) {
		local := NewLocalStore(filepath.Join(t.TempDir(), "scores.json"))
		client := newMockS3()
		client.On("PutObject", ctx, "bucket", "k.json", "application/json").Return(errors.New("throttled"))

		assert.NoError(t, NewFailoverStore(NewS3Store(client, "bucket", "k.json"), local, nil).Save(ctx, sampleRecords()))
	})

	t.Run("both failing is an error", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))
		local := NewLocalStore(filepath.Join(blocker, "scores.json"))
		client := newMockS3()
		client.On("PutObject", ctx, "bucket", "k.json", "application/json").Return(errors.New("throttled"))

		assert.Error(t, NewFailoverStore(NewS3Store(client, "bucket", "k.json"), local, nil).Save(ctx, sampleRecords()))
	})
}

func TestNew_SelectsLayout(t *testing.T) {
	assert.IsType(t, &LocalStore{}, New(nil, "bucket", "k", "scores.json", nil))
	assert.IsType(t, &LocalStore{}, New(newMockS3(), "", "k", "scores.json", nil))
	assert.IsType(t, &FailoverStore{}, New(newMockS3(), "bucket", "k", "scores.json", nil))
}
