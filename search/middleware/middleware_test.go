package middleware_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/absmach/gradsync/search"
	"github.com/absmach/gradsync/search/middleware"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceMiddlewares(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryTrialRepository()
	require.NoError(t, repo.Create(ctx, trial.Trial{ID: "a", Name: "trial-0", Status: trial.Completed, Metric: 0.4}))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	counter := generic.NewCounter("calls")
	latency := generic.NewHistogram("latency", 10)
	svc := middleware.Metrics(counter, latency, middleware.Logging(logger, search.NewService(repo, false)))

	page, err := svc.ListTrials(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), page.Total)

	best, err := svc.BestTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", best.ID)

	_, err = svc.GetTrial(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	out := buf.String()
	assert.Contains(t, out, "List trials completed successfully")
	assert.Contains(t, out, "Best trial completed successfully")
	assert.Contains(t, out, "Get trial failed")
}

func TestLoggingOracle(t *testing.T) {
	ctx := context.Background()
	space := search.Space{search.Real("learning_rate", 0.01, 0.1, false)}
	inner, err := search.NewRandomOracle(space, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o := middleware.LoggingOracle(logger, inner)

	p, err := o.Ask(ctx)
	require.NoError(t, err)
	require.NoError(t, o.Tell(ctx, p, 0.25))

	best, ok := inner.Best()
	require.True(t, ok)
	assert.Equal(t, 0.25, best.Score)
	assert.Contains(t, buf.String(), "Ask oracle completed successfully")
	assert.Contains(t, buf.String(), "Tell oracle completed successfully")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = o.Ask(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, buf.String(), "Ask oracle failed")
}
