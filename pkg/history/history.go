// Package history records what happened during one training run.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Epoch struct {
	Epoch     int                `json:"epoch"`
	Batches   int                `json:"batches"`
	TrainLoss float64            `json:"train_loss"`
	Metrics   map[string]float64 `json:"metrics"`
	Duration  time.Duration      `json:"duration"`
}

type History struct {
	Name         string         `json:"name"`
	Model        string         `json:"model"`
	Trial        string         `json:"trial"`
	Role         string         `json:"role"`
	Rank         int            `json:"rank"`
	Monitor      string         `json:"monitor"`
	BestMetric   float64        `json:"best_metric"`
	BestEpoch    int            `json:"best_epoch"`
	StoppedEarly bool           `json:"stopped_early"`
	Evicted      []int          `json:"evicted,omitempty"`
	Epochs       []Epoch        `json:"epochs"`
	Config       map[string]any `json:"config,omitempty"`
	// Groups holds the summaries reported by group masters to a coordinator.
	Groups    []History     `json:"groups,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// FileName is the conventional name of a history file.
func FileName(model, trial string) string {
	return fmt.Sprintf("%s_%s_history.json", model, trial)
}

// WriteFile stores h as indented JSON in dir and returns the path.
func (h History) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	raw, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, h.Name)

	return path, os.WriteFile(path, raw, 0o644)
}

func ReadFile(path string) (History, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return History{}, err
	}
	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return History{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return h, nil
}
