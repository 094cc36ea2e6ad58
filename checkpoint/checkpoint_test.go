package checkpoint_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/checkpoint"
	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/weights"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.DiscardHandler)

func record(epoch int, v float64) checkpoint.Record {
	t := weights.NewTensor("dense/kernel", 2)
	t.Data[0], t.Data[1] = v, -v

	return checkpoint.Record{
		Epoch:   epoch,
		Weights: weights.Weights{t},
		State: algo.State{
			Mode:     algo.ModeGEM,
			Version:  uint64(epoch * 10),
			Counters: map[string]int64{"rounds": int64(epoch)},
			Buffers:  map[string]weights.Weights{"momentum": {t}},
		},
	}
}

func TestSaveRestoreLocal(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "ckpt", "run")
	store := checkpoint.NewLocalStore()
	c := checkpoint.New(store, base, logger)

	for epoch := 1; epoch <= 3; epoch++ {
		id, err := c.Save(ctx, record(epoch, float64(epoch)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("%s-epoch%d", base, epoch), id)
	}

	latest, err := os.ReadFile(base + checkpoint.LatestExt)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(latest)), "\n")
	assert.Equal(t, []string{base + "-epoch1", base + "-epoch2", base + "-epoch3"}, lines)

	cases := []struct {
		desc  string
		path  string
		epoch int
	}{
		{desc: "base follows latest", path: base, epoch: 3},
		{desc: "explicit id", path: checkpoint.ID(base, 2), epoch: 2},
		{desc: "trailing algo suffix", path: checkpoint.ID(base, 1) + checkpoint.AlgoExt, epoch: 1},
		{desc: "trailing weights suffix", path: checkpoint.ID(base, 2) + checkpoint.WeightsExt, epoch: 2},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := checkpoint.Restore(ctx, store, tc.path)
			require.NoError(t, err)
			want := record(tc.epoch, float64(tc.epoch))
			assert.Equal(t, want.Epoch, got.Epoch)
			assert.True(t, want.Weights.Equal(got.Weights))
			assert.Equal(t, want.State.Version, got.State.Version)
			assert.Equal(t, want.State.Counters, got.State.Counters)
			assert.True(t, want.State.Buffers["momentum"].Equal(got.State.Buffers["momentum"]))
		})
	}
}

func TestRestoreErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := checkpoint.NewLocalStore()
	base := filepath.Join(dir, "run")
	_, err := checkpoint.New(store, base, logger).Save(ctx, record(1, 1))
	require.NoError(t, err)

	require.NoError(t, os.Remove(checkpoint.ID(base, 1)+checkpoint.AlgoExt))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"+checkpoint.LatestExt), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage"+checkpoint.WeightsExt), []byte{0xff, 0x00}, 0o644))

	cases := []struct {
		desc string
		path string
	}{
		{desc: "missing algo file", path: base},
		{desc: "missing everything", path: filepath.Join(dir, "nothing")},
		{desc: "empty latest", path: filepath.Join(dir, "empty")},
		{desc: "corrupt weights", path: filepath.Join(dir, "garbage")},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := checkpoint.Restore(ctx, store, tc.path)
			assert.ErrorIs(t, err, pkgerrors.ErrRestore)
		})
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestSaveRestoreS3(t *testing.T) {
	ctx := context.Background()
	client := &fakeS3{objects: map[string][]byte{}}
	store := checkpoint.NewS3Store(client, "models", "jobs/7")

	c := checkpoint.New(store, "run", logger)
	_, err := c.Save(ctx, record(4, 0.5))
	require.NoError(t, err)
	assert.Contains(t, client.objects, "models/jobs/7/run-epoch4.weights")
	assert.Contains(t, client.objects, "models/jobs/7/run.latest")

	got, err := checkpoint.Restore(ctx, store, "run")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Epoch)

	_, err = checkpoint.Restore(ctx, store, "other")
	assert.ErrorIs(t, err, pkgerrors.ErrRestore)
	_, err = store.Get(ctx, "other")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}
