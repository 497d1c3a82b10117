package mlmodel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// TrainingExample is one labeled row of the training set.
type TrainingExample struct {
	Features map[string]any
	Label    int
}

// LoadJSONL reads newline-delimited JSON training rows from path, or from
// stdin when path is empty or does not exist. Each row is either
// {"features": {...}, "label": 0|1} or a flat object carrying "label"
// alongside the feature keys.
func LoadJSONL(path string) ([]TrainingExample, error) {
	var r io.Reader
	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			r = f
		}
	}
	if r == nil {
		r = os.Stdin
	}
	return ReadJSONL(r)
}

// ReadJSONL decodes training rows from r, skipping blank lines.
func ReadJSONL(r io.Reader) ([]TrainingExample, error) {
	var rows []TrainingExample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("line %d: invalid json: %w", lineNo, err)
		}
		rows = append(rows, exampleFromRow(raw))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read training rows: %w", err)
	}
	return rows, nil
}

// exampleFromRow accepts both the nested and the flat row shape.
func exampleFromRow(raw map[string]any) TrainingExample {
	label := int(coerceFloat(raw["label"]))
	if nested, ok := raw["features"].(map[string]any); ok {
		return TrainingExample{Features: nested, Label: label}
	}
	feats := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "label" {
			continue
		}
		feats[k] = v
	}
	return TrainingExample{Features: feats, Label: label}
}

// Matrix vectorizes a dataset against the key schema.
func Matrix(rows []TrainingExample, keys []string) ([][]float64, []int) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, row := range rows {
		X[i] = Vectorize(row.Features, keys)
		y[i] = row.Label
	}
	return X, y
}
