package data

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
)

// ReadList returns the non-empty, non-comment lines of a list file. Each line
// names one CSV file.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}

	return out, s.Err()
}

// LoadCSV reads numeric CSV files with a header row. The last labelColumns
// columns are labels, the rest are features. All files must share a header.
func LoadCSV(paths []string, labelColumns, batchSize int) (*Memory, error) {
	if len(paths) == 0 {
		return nil, ErrEmptySource
	}
	var df dataframe.DataFrame
	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		part := dataframe.ReadCSV(f, dataframe.HasHeader(true))
		f.Close()
		if part.Err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, part.Err)
		}
		if i == 0 {
			df = part

			continue
		}
		df = df.RBind(part)
		if df.Err != nil {
			return nil, fmt.Errorf("failed to append %s: %w", p, df.Err)
		}
	}

	return fromFrame(df, labelColumns, batchSize)
}

func fromFrame(df dataframe.DataFrame, labelColumns, batchSize int) (*Memory, error) {
	names := df.Names()
	if labelColumns < 1 || labelColumns >= len(names) {
		return nil, fmt.Errorf("need at least one feature and one label column, have %d columns and %d labels", len(names), labelColumns)
	}
	split := len(names) - labelColumns

	rows := df.Nrow()
	features := make([][]float64, rows)
	labels := make([][]float64, rows)
	for i := range rows {
		features[i] = make([]float64, split)
		labels[i] = make([]float64, labelColumns)
	}
	for c, name := range names {
		col := df.Col(name).Float()
		for i, v := range col {
			if c < split {
				features[i][c] = v
			} else {
				labels[i][c-split] = v
			}
		}
	}

	return NewMemory(features, labels, batchSize)
}
