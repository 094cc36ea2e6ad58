package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	repo := storage.NewMemoryTrialRepository()
	for i, m := range []float64{0.5, 0.2, 0.9} {
		p := trial.NewPoint()
		p.Set("learning_rate", 0.01)
		require.NoError(t, repo.Create(ctx, trial.Trial{
			ID:     fmt.Sprintf("trial-id-%d", i),
			Name:   fmt.Sprintf("trial-%d", i),
			Params: p,
			Status: trial.Completed,
			Metric: m,
		}))
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(api.MakeHandler(search.NewService(repo, false), logger, "test"))
	t.Cleanup(ts.Close)

	return ts
}

func TestTrialEndpoints(t *testing.T) {
	ts := newServer(t)

	cases := []struct {
		desc   string
		path   string
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			desc:   "list trials",
			path:   "/trials",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, float64(3), body["total"])
				assert.Len(t, body["trials"], 3)
			},
		},
		{
			desc:   "list trials with paging",
			path:   "/trials?offset=1&limit=1",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				trials := body["trials"].([]any)
				require.Len(t, trials, 1)
				assert.Equal(t, "trial-1", trials[0].(map[string]any)["name"])
			},
		},
		{desc: "limit above maximum", path: "/trials?limit=1000", status: http.StatusBadRequest},
		{desc: "invalid offset", path: "/trials?offset=abc", status: http.StatusBadRequest},
		{
			desc:   "get trial",
			path:   "/trials/trial-id-2",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "trial-2", body["name"])
				assert.Equal(t, 0.9, body["metric"])
				assert.Equal(t, map[string]any{"learning_rate": 0.01}, body["params"])
			},
		},
		{desc: "missing trial", path: "/trials/unknown", status: http.StatusNotFound},
		{
			desc:   "best trial",
			path:   "/trials/best",
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "trial-id-1", body["id"])
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := http.Get(ts.URL + tc.path)
			require.NoError(t, err)
			defer res.Body.Close()

			assert.Equal(t, tc.status, res.StatusCode)
			if tc.check == nil {
				return
			}
			var body map[string]any
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			tc.check(t, body)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newServer(t)

	for _, path := range []string{"/health", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
	}
}
