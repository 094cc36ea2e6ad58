package gradsync_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/gradsync"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetAfter removes variables that Load may export.
func unsetAfter(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.Unsetenv(name))
		t.Cleanup(func() { os.Unsetenv(name) })
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := gradsync.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sgd", cfg.Mode)
	assert.Equal(t, "adam", cfg.Optimizer)
	assert.Equal(t, 2.0, cfg.GEMKappa)
	assert.Equal(t, 1, cfg.Masters)
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, time.Minute, cfg.Master.RoundTimeout)
	assert.Equal(t, 3, cfg.Master.MaxTimeouts)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Address)
	assert.Equal(t, gradsync.TransportLocal, cfg.Transport)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	unsetAfter(t, "GRADSYNC_EPOCHS", "GRADSYNC_BATCH", "GRADSYNC_MODE", "GRADSYNC_MQTT_ADDRESS", "GRADSYNC_LEARNING_RATE")

	path := filepath.Join(t.TempDir(), "gradsync.toml")
	file := `
epochs = 4
batch = 32
mode = "easgd"
learning_rate = 0.5

[mqtt]
address = "tcp://broker:1883"
`
	require.NoError(t, os.WriteFile(path, []byte(file), 0o644))
	t.Setenv("GRADSYNC_BATCH", "64")

	cfg, err := gradsync.Load(path, map[string]string{"mode": "gem"})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Epochs, "file over default")
	assert.Equal(t, 64, cfg.Batch, "env over file")
	assert.Equal(t, "gem", cfg.Mode, "flag over file")
	assert.Equal(t, 0.5, cfg.LearningRate)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Address)
}

func TestLoadLauncherRank(t *testing.T) {
	t.Setenv("OMPI_COMM_WORLD_RANK", "3")
	t.Setenv("OMPI_COMM_WORLD_SIZE", "8")

	cfg, err := gradsync.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Rank)
	assert.Equal(t, 8, cfg.WorldSize)

	t.Setenv("GRADSYNC_RANK", "5")
	cfg, err = gradsync.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Rank)
}

func TestValidate(t *testing.T) {
	base, err := gradsync.Load("", nil)
	require.NoError(t, err)

	cases := []struct {
		desc   string
		modify func(c *gradsync.Config)
		err    error
	}{
		{desc: "defaults", modify: func(*gradsync.Config) {}},
		{desc: "unknown mode", modify: func(c *gradsync.Config) { c.Mode = "downpour" }, err: errors.ErrUnsupportedMode},
		{desc: "no masters", modify: func(c *gradsync.Config) { c.Masters = 0 }, err: errors.ErrConfiguration},
		{desc: "zero sync interval", modify: func(c *gradsync.Config) { c.SyncEvery = 0 }, err: errors.ErrConfiguration},
		{desc: "bad monitor", modify: func(c *gradsync.Config) { c.TargetMetric = "acc,up" }, err: errors.ErrConfiguration},
		{desc: "s3 without bucket", modify: func(c *gradsync.Config) { c.CheckpointStore = gradsync.StoreS3 }, err: errors.ErrConfiguration},
		{desc: "unknown store", modify: func(c *gradsync.Config) { c.CheckpointStore = "ftp" }, err: errors.ErrConfiguration},
		{desc: "single local rank", modify: func(c *gradsync.Config) { c.NP = 1 }, err: errors.ErrConfiguration},
		{
			desc: "mqtt without rank",
			modify: func(c *gradsync.Config) {
				c.Transport = gradsync.TransportMQTT
				c.Rank, c.WorldSize = -1, 4
			},
			err: errors.ErrConfiguration,
		},
		{
			desc: "mqtt rank in world",
			modify: func(c *gradsync.Config) {
				c.Transport = gradsync.TransportMQTT
				c.Rank, c.WorldSize = 3, 4
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			assert.NoError(t, err)
		})
	}
}
