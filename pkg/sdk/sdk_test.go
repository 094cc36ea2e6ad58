package sdk_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/sdk"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSDK(t *testing.T) sdk.SDK {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryTrialRepository()
	for i, m := range []float64{0.4, 0.1, 0.7} {
		p := trial.NewPoint()
		p.Set("width", "wide")
		require.NoError(t, repo.Create(ctx, trial.Trial{
			ID:     fmt.Sprintf("id-%d", i),
			Name:   fmt.Sprintf("sweep-%d", i),
			Params: p,
			Status: trial.Completed,
			Metric: m,
		}))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(api.MakeHandler(search.NewService(repo, false), logger, "sdk-test"))
	t.Cleanup(ts.Close)

	return sdk.NewSDK(sdk.Config{URL: ts.URL})
}

func TestListTrials(t *testing.T) {
	s := newSDK(t)

	cases := []struct {
		desc   string
		offset uint64
		limit  uint64
		names  []string
		err    error
	}{
		{desc: "default page", names: []string{"sweep-0", "sweep-1", "sweep-2"}},
		{desc: "offset and limit", offset: 1, limit: 1, names: []string{"sweep-1"}},
		{desc: "limit above maximum", limit: 1000, err: errors.ErrInvalidData},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			page, err := s.ListTrials(context.Background(), tc.offset, tc.limit)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(3), page.Total)
			names := make([]string, 0, len(page.Trials))
			for _, tr := range page.Trials {
				names = append(names, tr.Name)
			}
			assert.Equal(t, tc.names, names)
		})
	}
}

func TestGetTrial(t *testing.T) {
	s := newSDK(t)
	ctx := context.Background()

	tr, err := s.GetTrial(ctx, "id-2")
	require.NoError(t, err)
	assert.Equal(t, "sweep-2", tr.Name)
	assert.Equal(t, 0.7, tr.Metric)
	v, ok := tr.Params.Get("width")
	require.True(t, ok)
	assert.Equal(t, "wide", v)

	_, err = s.GetTrial(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestBestTrial(t *testing.T) {
	s := newSDK(t)

	tr, err := s.BestTrial(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-1", tr.ID)
}

func TestHealth(t *testing.T) {
	s := newSDK(t)

	h, err := s.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sdk-test", h.InstanceID)
}
