package search

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/absmach/gradsync/pkg/errors"
	"github.com/absmach/gradsync/pkg/trial"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	KindReal        = "real"
	KindInteger     = "integer"
	KindCategorical = "categorical"
)

// Dimension is one axis of a search space, as found in a space file.
type Dimension struct {
	Name string  `json:"name"`
	Kind string  `json:"kind"`
	Low  float64 `json:"low,omitempty"`
	High float64 `json:"high,omitempty"`
	// Log samples reals uniformly in log space.
	Log    bool  `json:"log,omitempty"`
	Values []any `json:"values,omitempty"`
}

func Real(name string, low, high float64, log bool) Dimension {
	return Dimension{Name: name, Kind: KindReal, Low: low, High: high, Log: log}
}

func Integer(name string, low, high int) Dimension {
	return Dimension{Name: name, Kind: KindInteger, Low: float64(low), High: float64(high)}
}

func Categorical(name string, values ...any) Dimension {
	return Dimension{Name: name, Kind: KindCategorical, Values: values}
}

func (d Dimension) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: dimension without a name", errors.ErrConfiguration)
	}
	switch d.Kind {
	case KindReal, KindInteger:
		if d.Low > d.High {
			return fmt.Errorf("%w: dimension %s has low %g above high %g", errors.ErrConfiguration, d.Name, d.Low, d.High)
		}
		if d.Log && (d.Kind != KindReal || d.Low <= 0) {
			return fmt.Errorf("%w: log scale needs a positive real range for %s", errors.ErrConfiguration, d.Name)
		}
	case KindCategorical:
		if len(d.Values) == 0 {
			return fmt.Errorf("%w: categorical dimension %s has no values", errors.ErrConfiguration, d.Name)
		}
	default:
		return fmt.Errorf("%w: dimension %s has unknown kind %q", errors.ErrConfiguration, d.Name, d.Kind)
	}

	return nil
}

func (d Dimension) sample(src rand.Source) any {
	switch d.Kind {
	case KindReal:
		if d.Log {
			u := distuv.Uniform{Min: math.Log(d.Low), Max: math.Log(d.High), Src: src}

			return math.Exp(u.Rand())
		}
		if d.Low == d.High {
			return d.Low
		}

		return distuv.Uniform{Min: d.Low, Max: d.High, Src: src}.Rand()
	case KindInteger:
		if d.Low == d.High {
			return int(d.Low)
		}
		v := int(math.Floor(distuv.Uniform{Min: d.Low, Max: d.High + 1, Src: src}.Rand()))

		return min(v, int(d.High))
	default:
		w := make([]float64, len(d.Values))
		for i := range w {
			w[i] = 1
		}

		return d.Values[int(distuv.NewCategorical(w, src).Rand())]
	}
}

// Space is an ordered set of dimensions.
type Space []Dimension

func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty search space", errors.ErrConfiguration)
	}
	seen := make(map[string]bool, len(s))
	for _, d := range s {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: dimension %s appears twice", errors.ErrConfiguration, d.Name)
		}
		seen[d.Name] = true
	}

	return nil
}

func (s Space) sample(src rand.Source) trial.Point {
	p := trial.NewPoint()
	for _, d := range s {
		p.Set(d.Name, d.sample(src))
	}

	return p
}

// LoadSpace reads a JSON array of dimensions.
func LoadSpace(path string) (Space, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read search space: %w", err)
	}
	var s Space
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: failed to parse search space %s: %w", errors.ErrConfiguration, path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}
