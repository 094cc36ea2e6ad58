package driver

import (
	"fmt"
	"testing"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyParams(t *testing.T) {
	base := gradsync.Config{Mode: "sgd", SyncEvery: 1, LearningRate: 0.01, Epochs: 10}

	cases := []struct {
		desc   string
		params []trial.Param
		check  func(t *testing.T, cfg gradsync.Config, rest model.Params)
		err    error
	}{
		{
			desc: "synchronization options",
			params: []trial.Param{
				{Name: "mode", Value: "easgd"},
				{Name: "learning_rate", Value: 0.2},
				{Name: "sync_every", Value: uint64(4)},
				{Name: "elastic_force", Value: int64(1)},
				{Name: "synchronous", Value: true},
			},
			check: func(t *testing.T, cfg gradsync.Config, rest model.Params) {
				assert.Equal(t, "easgd", cfg.Mode)
				assert.Equal(t, 0.2, cfg.LearningRate)
				assert.Equal(t, 4, cfg.SyncEvery)
				assert.Equal(t, 1.0, cfg.ElasticForce)
				assert.True(t, cfg.Synchronous)
				assert.Empty(t, rest)
			},
		},
		{
			desc:   "model parameters pass through",
			params: []trial.Param{{Name: "l2", Value: 0.001}, {Name: "epochs", Value: float64(3)}},
			check: func(t *testing.T, cfg gradsync.Config, rest model.Params) {
				assert.Equal(t, 3, cfg.Epochs)
				assert.Equal(t, model.Params{"l2": 0.001}, rest)
			},
		},
		{desc: "wrong type", params: []trial.Param{{Name: "mode", Value: 1.5}}, err: errors.ErrConfiguration},
		{desc: "fractional integer", params: []trial.Param{{Name: "sync_every", Value: 2.5}}, err: errors.ErrConfiguration},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg, rest, err := applyParams(base, tc.params)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			tc.check(t, cfg, rest)
		})
	}
	assert.Equal(t, "sgd", base.Mode)
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		desc string
		err  error
		code int
	}{
		{desc: "success", code: 0},
		{desc: "configuration", err: fmt.Errorf("topology: %w", errors.ErrConfiguration), code: 2},
		{desc: "unsupported mode", err: errors.ErrUnsupportedMode, code: 2},
		{desc: "timeout", err: errors.ErrCommunicationTimeout, code: 1},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.code, ExitCode(tc.err))
		})
	}
}

func TestPlan(t *testing.T) {
	cfg := gradsync.Config{Mode: "sgd", Masters: 2, SyncEvery: 1, Optimizer: "sgd", LearningRate: 0.1}
	topo, err := plan(7, cfg)
	require.NoError(t, err)
	assert.True(t, topo.Coordinator)
	assert.Equal(t, 2, topo.WorkersPerMaster)

	cfg.Mode = "gem"
	cfg.GEMKappa = 1
	cfg.GEMLR = 0.01
	_, err = plan(7, cfg)
	assert.NoError(t, err)

	cfg.Mode = "easgd"
	cfg.ElasticForce = 2
	_, err = plan(7, cfg)
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}
