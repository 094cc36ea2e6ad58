package block

import (
	"fmt"
	"math"
	"strings"

	"github.com/absmach/gradsync/pkg/errors"
)

const DefaultMetric = "loss"

// Monitor names the validation metric early stopping watches and whether
// larger is better.
type Monitor struct {
	Name string `json:"name"`
	Max  bool   `json:"max"`
}

// ParseMonitor reads "name" or "name,min|max". The empty string monitors the
// validation loss.
func ParseMonitor(s string) (Monitor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Monitor{Name: DefaultMetric}, nil
	}
	name, mode, found := strings.Cut(s, ",")
	name = strings.TrimSpace(name)
	if name == "" {
		return Monitor{}, fmt.Errorf("%w: target metric %q has no name", errors.ErrConfiguration, s)
	}
	if !found {
		return Monitor{Name: name}, nil
	}
	switch strings.TrimSpace(mode) {
	case "min":
		return Monitor{Name: name}, nil
	case "max":
		return Monitor{Name: name, Max: true}, nil
	default:
		return Monitor{}, fmt.Errorf("%w: target metric mode must be min or max, got %q", errors.ErrConfiguration, mode)
	}
}

func (m Monitor) String() string {
	if m.Max {
		return m.Name + ",max"
	}

	return m.Name + ",min"
}

// Better reports whether a improves on b.
func (m Monitor) Better(a, b float64) bool {
	if m.Max {
		return a > b
	}

	return a < b
}

// Worst is the starting point every real value improves on. It stays finite
// so that it survives JSON.
func (m Monitor) Worst() float64 {
	if m.Max {
		return -math.MaxFloat64
	}

	return math.MaxFloat64
}
