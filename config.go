package gradsync

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/gradsync/algo"
	"github.com/absmach/gradsync/block"
	"github.com/absmach/gradsync/master"
	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/mqtt"
	"github.com/absmach/gradsync/pkg/storage"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "GRADSYNC_"

const (
	TransportLocal = "local"
	TransportMQTT  = "mqtt"

	StoreLocal = "local"
	StoreS3    = "s3"
	StoreRedis = "redis"
)

// Rank and world size variables set by common launchers, in lookup order.
var (
	rankVars = []string{"GRADSYNC_RANK", "OMPI_COMM_WORLD_RANK", "PMI_RANK"}
	sizeVars = []string{"GRADSYNC_WORLD_SIZE", "OMPI_COMM_WORLD_SIZE", "PMI_SIZE"}
)

type Config struct {
	Mode        string `env:"MODE"        envDefault:"sgd"`
	SyncEvery   int    `env:"SYNC_EVERY"  envDefault:"1"`
	Synchronous bool   `env:"SYNCHRONOUS" envDefault:"false"`
	Masters     int    `env:"MASTERS"     envDefault:"1"`
	// Processes is the number of workers per master; zero infers it from the
	// world size.
	Processes   int  `env:"PROCESSES"   envDefault:"0"`
	Coordinator bool `env:"COORDINATOR" envDefault:"false"`
	// MaxGPUs below zero uses every detected GPU.
	MaxGPUs   int  `env:"MAX_GPUS"   envDefault:"-1"`
	MasterGPU bool `env:"MASTER_GPU" envDefault:"false"`

	Optimizer       string  `env:"OPTIMIZER"        envDefault:"adam"`
	LearningRate    float64 `env:"LEARNING_RATE"    envDefault:"0.01"`
	Staleness       string  `env:"STALENESS"        envDefault:"none"`
	ElasticForce    float64 `env:"ELASTIC_FORCE"    envDefault:"0.9"`
	ElasticLR       float64 `env:"ELASTIC_LR"       envDefault:"0.01"`
	ElasticMomentum float64 `env:"ELASTIC_MOMENTUM" envDefault:"0"`
	WorkerOptimizer string  `env:"WORKER_OPTIMIZER" envDefault:""`
	GEMLR           float64 `env:"GEM_LR"           envDefault:"0.01"`
	GEMMomentum     float64 `env:"GEM_MOMENTUM"     envDefault:"0.9"`
	GEMKappa        float64 `env:"GEM_KAPPA"        envDefault:"2"`

	Epochs        int    `env:"EPOCHS"         envDefault:"10"`
	Batch         int    `env:"BATCH"          envDefault:"100"`
	EarlyStopping int    `env:"EARLY_STOPPING" envDefault:"0"`
	TargetMetric  string `env:"TARGET_METRIC"  envDefault:""`

	Checkpoint         string `env:"CHECKPOINT"          envDefault:""`
	CheckpointInterval int    `env:"CHECKPOINT_INTERVAL" envDefault:"5"`
	CheckpointStore    string `env:"CHECKPOINT_STORE"    envDefault:"local"`
	Restore            string `env:"RESTORE"             envDefault:""`
	S3Bucket           string `env:"S3_BUCKET"           envDefault:""`
	S3Prefix           string `env:"S3_PREFIX"           envDefault:"checkpoints"`
	RedisAddress       string `env:"REDIS_ADDRESS"       envDefault:"localhost:6379"`
	RedisPassword      string `env:"REDIS_PASSWORD"      envDefault:""`
	RedisDB            int    `env:"REDIS_DB"            envDefault:"0"`

	BlockSize     int    `env:"BLOCK_SIZE"     envDefault:"2"`
	NumIterations int    `env:"NUM_ITERATIONS" envDefault:"10"`
	Space         string `env:"SPACE"          envDefault:"space.json"`
	Maximize      bool   `env:"MAXIMIZE"       envDefault:"false"`
	Seed          uint64 `env:"SEED"           envDefault:"1"`

	Model        string `env:"MODEL"         envDefault:""`
	TrialName    string `env:"TRIAL_NAME"    envDefault:""`
	TrainData    string `env:"TRAIN_DATA"    envDefault:""`
	ValData      string `env:"VAL_DATA"      envDefault:""`
	LabelColumns int    `env:"LABEL_COLUMNS" envDefault:"1"`
	HistoryDir   string `env:"HISTORY_DIR"   envDefault:"."`
	Verbose      bool   `env:"VERBOSE"       envDefault:"false"`

	Transport string `env:"TRANSPORT" envDefault:"local"`
	// NP is the number of in-process ranks of the local transport.
	NP        int `env:"NP"         envDefault:"3"`
	Rank      int `env:"RANK"       envDefault:"-1"`
	WorldSize int `env:"WORLD_SIZE" envDefault:"0"`

	Master  master.Config
	MQTT    mqtt.Config    `envPrefix:"MQTT_"`
	Storage storage.Config `envPrefix:"STORAGE_"`

	LogLevel   string  `env:"LOG_LEVEL"   envDefault:"info"`
	InstanceID string  `env:"INSTANCE_ID" envDefault:""`
	HTTPPort   string  `env:"HTTP_PORT"   envDefault:""`
	OTELURL    url.URL `env:"OTEL_URL"`
	TraceRatio float64 `env:"TRACE_RATIO" envDefault:"0"`
}

// Load reads the configuration with flags over environment over file over
// defaults. The file is optional; its keys are the lower case environment
// names without the prefix, and tables prefix their keys, so
// [mqtt] address = "..." sets GRADSYNC_MQTT_ADDRESS.
func Load(path string, overrides map[string]string) (Config, error) {
	for k, v := range overrides {
		if err := os.Setenv(envName(k), v); err != nil {
			return Config{}, err
		}
	}
	if path != "" {
		if err := applyFile(path); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Rank < 0 {
		cfg.Rank = lookupInt(rankVars[1:], -1)
	}
	if cfg.WorldSize < 1 {
		cfg.WorldSize = lookupInt(sizeVars[1:], 0)
	}

	return cfg, nil
}

func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	tree, err := toml.Load(string(data))
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return setFromTree("", tree)
}

func setFromTree(prefix string, tree *toml.Tree) error {
	for _, key := range tree.Keys() {
		switch v := tree.Get(key).(type) {
		case *toml.Tree:
			if err := setFromTree(prefix+key+"_", v); err != nil {
				return err
			}
		default:
			name := envName(prefix + key)
			if _, ok := os.LookupEnv(name); ok {
				continue
			}
			if err := os.Setenv(name, fmt.Sprint(v)); err != nil {
				return err
			}
		}
	}

	return nil
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func lookupInt(vars []string, def int) int {
	for _, name := range vars {
		if v, ok := os.LookupEnv(name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}

	return def
}

// Validate checks options that do not depend on the world size.
func (c Config) Validate() error {
	switch c.Mode {
	case algo.ModeSGD, algo.ModeEASGD, algo.ModeGEM:
	default:
		return fmt.Errorf("%w: %q", errors.ErrUnsupportedMode, c.Mode)
	}
	if c.Masters < 1 {
		return fmt.Errorf("%w: at least one master is required", errors.ErrConfiguration)
	}
	if c.Processes < 0 {
		return fmt.Errorf("%w: negative worker count %d", errors.ErrConfiguration, c.Processes)
	}
	if c.Epochs < 1 || c.Batch < 1 {
		return fmt.Errorf("%w: epochs and batch must be positive", errors.ErrConfiguration)
	}
	if c.SyncEvery < 1 {
		return fmt.Errorf("%w: sync_every must be positive", errors.ErrConfiguration)
	}
	if c.LabelColumns < 1 {
		return fmt.Errorf("%w: label_columns must be positive", errors.ErrConfiguration)
	}
	if c.Master.RoundTimeout <= 0 || c.Master.MaxTimeouts < 1 {
		return fmt.Errorf("%w: round_timeout and max_timeouts must be positive", errors.ErrConfiguration)
	}
	if _, err := block.ParseMonitor(c.TargetMetric); err != nil {
		return err
	}
	switch c.CheckpointStore {
	case StoreLocal, StoreRedis:
	case StoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("%w: s3 checkpoint store needs a bucket", errors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown checkpoint store %q", errors.ErrConfiguration, c.CheckpointStore)
	}
	switch c.Transport {
	case TransportLocal:
		if c.NP < 2 {
			return fmt.Errorf("%w: local transport needs at least 2 ranks, got %d", errors.ErrConfiguration, c.NP)
		}
	case TransportMQTT:
		if c.Rank < 0 || c.WorldSize < 1 || c.Rank >= c.WorldSize {
			return fmt.Errorf("%w: rank %d of world size %d", errors.ErrConfiguration, c.Rank, c.WorldSize)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", errors.ErrConfiguration, c.Transport)
	}

	return nil
}

// Size is the number of ranks taking part in the job.
func (c Config) Size() int {
	if c.Transport == TransportLocal {
		return c.NP
	}

	return c.WorldSize
}

// Algo is the synchronization part of the configuration.
func (c Config) Algo() algo.Config {
	return algo.Config{
		Mode:            c.Mode,
		Synchronous:     c.Synchronous,
		SyncEvery:       c.SyncEvery,
		Optimizer:       c.Optimizer,
		LearningRate:    c.LearningRate,
		Staleness:       c.Staleness,
		ElasticForce:    c.ElasticForce,
		ElasticLR:       c.ElasticLR,
		ElasticMomentum: c.ElasticMomentum,
		WorkerOptimizer: c.WorkerOptimizer,
		GEMLR:           c.GEMLR,
		GEMMomentum:     c.GEMMomentum,
		GEMKappa:        c.GEMKappa,
	}
}

// Settings is the subset of options recorded with a run's history.
func (c Config) Settings() map[string]any {
	return map[string]any{
		"mode":          c.Mode,
		"synchronous":   c.Synchronous,
		"sync_every":    c.SyncEvery,
		"masters":       c.Masters,
		"processes":     c.Processes,
		"optimizer":     c.Optimizer,
		"learning_rate": c.LearningRate,
		"epochs":        c.Epochs,
		"batch":         c.Batch,
		"round_timeout": c.Master.RoundTimeout.String(),
	}
}

// ShutdownTimeout bounds the final world barrier.
func (c Config) ShutdownTimeout() time.Duration {
	return c.Master.RoundTimeout * time.Duration(c.Master.MaxTimeouts+1)
}
