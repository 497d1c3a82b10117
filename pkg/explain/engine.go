// Package explain extracts global feature importance from trained classifiers
// and produces per-request explanations, degrading from exact tree attribution
// to an importance-times-value heuristic when the capability is missing.
package explain

import (
	"fmt"
	"math"
	"sort"

	"pkgshield/pkg/mlmodel"
)

const (
	// TopContributions caps the contribution/importance maps in explanation
	// responses.
	TopContributions = 10
	// TopReasons caps the human-readable reasons list.
	TopReasons = 5
)

// Explanation is the per-request result: bounded contribution weights plus
// human-readable reasons.
type Explanation struct {
	Contributions map[string]float64 `json:"contributions"`
	Reasons       []string           `json:"reasons"`
}

// GlobalImportance returns the per-feature importance of the model, unwrapping
// a calibration layer if present. A model without the capability yields an
// empty map, never an error.
func GlobalImportance(model mlmodel.Estimator, keys []string) map[string]float64 {
	out := map[string]float64{}
	if model == nil {
		return out
	}
	provider, ok := mlmodel.Unwrap(model).(mlmodel.ImportanceProvider)
	if !ok {
		return out
	}
	imp := provider.FeatureImportances()
	for i, k := range keys {
		if i >= len(imp) {
			break
		}
		out[k] = imp[i]
	}
	return out
}

// Explain computes the top contributing features for one request. The exact
// attribution path runs when the unwrapped estimator supports it; otherwise
// contribution(feature) = global importance x requested value. Both paths are
// silent about which one ran.
func Explain(model mlmodel.Estimator, keys []string, features map[string]any) *Explanation {
	vec := mlmodel.Vectorize(features, keys)
	importance := GlobalImportance(model, keys)

	weights := map[string]float64{}
	if attributor, ok := attributorFor(model); ok {
		if contribs, err := attributor.Attributions(vec); err == nil {
			for i, k := range keys {
				if i < len(contribs) {
					weights[k] = contribs[i]
				}
			}
		}
	}
	if len(weights) == 0 {
		for i, k := range keys {
			weights[k] = importance[k] * vec[i]
		}
	}

	return &Explanation{
		Contributions: topByMagnitude(weights, TopContributions),
		Reasons:       buildReasons(importance, vec, keys),
	}
}

func attributorFor(model mlmodel.Estimator) (mlmodel.Attributor, bool) {
	if model == nil {
		return nil, false
	}
	a, ok := mlmodel.Unwrap(model).(mlmodel.Attributor)
	return a, ok
}

// TopImportance bounds a full importance map for explanation responses.
func TopImportance(importance map[string]float64) map[string]float64 {
	return topByMagnitude(importance, TopContributions)
}

// topByMagnitude keeps the n entries with the largest absolute weight.
func topByMagnitude(weights map[string]float64, n int) map[string]float64 {
	type kv struct {
		key string
		val float64
	}
	entries := make([]kv, 0, len(weights))
	for k, v := range weights {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(a, b int) bool {
		am, bm := math.Abs(entries[a].val), math.Abs(entries[b].val)
		if am != bm {
			return am > bm
		}
		return entries[a].key < entries[b].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.key] = e.val
	}
	return out
}

// buildReasons renders up to TopReasons strings from the features with the
// highest positive global importance, attaching the canned cause when one
// exists for the key.
func buildReasons(importance map[string]float64, vec []float64, keys []string) []string {
	type ranked struct {
		key string
		imp float64
		val float64
	}
	var candidates []ranked
	for i, k := range keys {
		if imp := importance[k]; imp > 0 {
			candidates = append(candidates, ranked{key: k, imp: imp, val: vec[i]})
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].imp != candidates[b].imp {
			return candidates[a].imp > candidates[b].imp
		}
		return candidates[a].key < candidates[b].key
	})
	if len(candidates) > TopReasons {
		candidates = candidates[:TopReasons]
	}

	reasons := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if cause, ok := featureCauses[c.key]; ok {
			reasons = append(reasons, fmt.Sprintf("%s=%.2f: %s", c.key, c.val, cause))
		} else {
			reasons = append(reasons, fmt.Sprintf("%s=%.2f", c.key, c.val))
		}
	}
	return reasons
}
