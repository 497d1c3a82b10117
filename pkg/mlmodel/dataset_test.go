package mlmodel

import (
	"strings"
	"testing"
)

func TestReadJSONLNestedAndFlatRows(t *testing.T) {
	input := strings.Join([]string{
		`{"features": {"scriptCount": 2, "evalUsageCount": 1}, "label": 1}`,
		``,
		`{"scriptCount": 1, "label": 0}`,
		`{"features": {"hasPostinstall": true}, "label": "1"}`,
	}, "\n")

	rows, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (blank skipped), got %d", len(rows))
	}

	if rows[0].Label != 1 || coerceFloat(rows[0].Features["scriptCount"]) != 2 {
		t.Errorf("nested row decoded as %+v", rows[0])
	}
	if rows[1].Label != 0 || coerceFloat(rows[1].Features["scriptCount"]) != 1 {
		t.Errorf("flat row decoded as %+v", rows[1])
	}
	if _, ok := rows[1].Features["label"]; ok {
		t.Error("label leaked into the flat row's features")
	}
	if rows[2].Label != 1 {
		t.Errorf("string label not coerced: %+v", rows[2])
	}
}

func TestReadJSONLRejectsInvalidJSON(t *testing.T) {
	_, err := ReadJSONL(strings.NewReader("{not json}\n"))
	if err == nil {
		t.Fatal("expected error for invalid json line")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error should name the offending line: %v", err)
	}
}

func TestMatrixShape(t *testing.T) {
	rows := []TrainingExample{
		{Features: map[string]any{"scriptCount": 2.0}, Label: 0},
		{Features: map[string]any{"evalUsageCount": 3.0}, Label: 1},
	}
	X, y := Matrix(rows, BehavioralFeatureKeys)
	if len(X) != 2 || len(y) != 2 {
		t.Fatalf("matrix shape %dx%d", len(X), len(y))
	}
	for i, row := range X {
		if len(row) != len(BehavioralFeatureKeys) {
			t.Errorf("row %d has width %d, want %d", i, len(row), len(BehavioralFeatureKeys))
		}
	}
}
