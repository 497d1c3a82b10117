package mlmodel

// Estimator is the minimal contract a trained classifier must satisfy: class
// probabilities for a batch of fixed-width feature vectors.
type Estimator interface {
	// PredictProba returns one [p(benign), p(malicious)] pair per input row.
	PredictProba(X [][]float64) ([][]float64, error)
}

// ImportanceProvider is an optional capability exposing per-feature global
// importance weights, index-aligned with the feature schema.
type ImportanceProvider interface {
	FeatureImportances() []float64
}

// Attributor is an optional capability computing exact per-feature
// contributions for a single vector's prediction (log-odds space).
type Attributor interface {
	Attributions(x []float64) ([]float64, error)
}

// CalibrationWrapper marks estimators that wrap one or more base estimators
// behind a probability-calibration layer.
type CalibrationWrapper interface {
	// BaseEstimator returns the first wrapped base estimator, or nil when the
	// wrapper holds none.
	BaseEstimator() Estimator
}

// Unwrap follows calibration wrappers down to the concrete base estimator.
// Introspection capabilities (importances, attributions) live on the base, not
// on the wrapper.
func Unwrap(e Estimator) Estimator {
	for {
		w, ok := e.(CalibrationWrapper)
		if !ok {
			return e
		}
		base := w.BaseEstimator()
		if base == nil {
			return e
		}
		e = base
	}
}
