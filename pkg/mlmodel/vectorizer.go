package mlmodel

import "strconv"

// BehavioralFeatureKeys is the canonical feature schema for package install-time
// behavior. Order is significant: trained models are bound to this exact order.
var BehavioralFeatureKeys = []string{
	"scriptCount",
	"scriptTotalLength",
	"hasPostinstall",
	"postinstallLength",
	"preinstallLength",
	"postuninstallLength",
	"networkScriptCount",
	"evalUsageCount",
	"childProcessCount",
	"fileSystemAccessCount",
	"dependencyCount",
	"devDependencyCount",
}

// Vectorize maps a sparse feature mapping onto the ordered key schema.
// Position i holds the numeric value for keys[i], or 0 when the key is absent
// or its value cannot be coerced to a number. Keys outside the schema are
// ignored. The result always has len(keys) entries.
func Vectorize(features map[string]any, keys []string) []float64 {
	vec := make([]float64, len(keys))
	for i, k := range keys {
		if v, ok := features[k]; ok {
			vec[i] = coerceFloat(v)
		}
	}
	return vec
}

// coerceFloat converts JSON-decoded values to float64, defaulting to 0 for
// anything non-numeric. Missing and explicit zero are indistinguishable here;
// upstream exporters rely on that.
func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}
