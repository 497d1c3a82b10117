// Package scoring serves classification requests against the process-wide
// loaded model artifact. Requests never fail hard: any fault degrades to a
// neutral 0.5 score annotated with an error string.
package scoring

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pkgshield/pkg/mlmodel"
)

// ErrNotLoaded is the exact annotation returned while no artifact is loaded.
const ErrNotLoaded = "Model not loaded"

// neutralScore is returned whenever a request cannot be scored.
const neutralScore = 0.5

// Prometheus metrics
var (
	scoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pkgshield",
		Subsystem: "scoring",
		Name:      "scores_total",
		Help:      "Total number of single score requests served.",
	})

	scoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pkgshield",
		Subsystem: "scoring",
		Name:      "score_errors_total",
		Help:      "Total number of score requests degraded to the neutral default.",
	})

	batchScoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pkgshield",
		Subsystem: "scoring",
		Name:      "batch_scores_total",
		Help:      "Total number of batch score requests served.",
	})

	modelReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pkgshield",
		Subsystem: "scoring",
		Name:      "model_reloads_total",
		Help:      "Total number of artifact loads and reloads.",
	})

	scoreLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pkgshield",
		Subsystem: "scoring",
		Name:      "score_duration_seconds",
		Help:      "Latency of single score requests.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	// Safe register; ignore duplicate registration in case of multiple imports
	_ = prometheus.Register(scoresTotal)
	_ = prometheus.Register(scoreErrors)
	_ = prometheus.Register(batchScoresTotal)
	_ = prometheus.Register(modelReloads)
	_ = prometheus.Register(scoreLatency)
}

// ScoreResult is the outcome of a single score request.
type ScoreResult struct {
	Score float64
	Err   string
}

// BatchResult is the outcome of a batch score request. The whole batch fails
// together: on any fault Scores is empty and Err is set.
type BatchResult struct {
	Scores []float64
	Err    string
}

// Info is a read-only snapshot for model-info requests.
type Info struct {
	Loaded   bool
	ModelDir string
	Metadata *mlmodel.Metadata
}

// Service holds the process-wide model artifact behind a single swappable
// reference. Concurrent score requests see either the previous artifact in
// full or the new one in full, never a mix.
type Service struct {
	modelDir string
	artifact atomic.Pointer[mlmodel.Artifact]
}

// NewService creates an unloaded service bound to a model directory.
func NewService(modelDir string) *Service {
	return &Service{modelDir: modelDir}
}

// Load atomically replaces the current artifact as a unit.
func (s *Service) Load(a *mlmodel.Artifact) {
	s.artifact.Store(a)
	modelReloads.Inc()
}

// Current returns the loaded artifact, or nil when the service is unloaded.
func (s *Service) Current() *mlmodel.Artifact {
	return s.artifact.Load()
}

// Score classifies one feature mapping. It never propagates a fault: missing
// artifact or prediction errors return the neutral score with an annotation.
func (s *Service) Score(features map[string]any) ScoreResult {
	start := time.Now()
	defer func() { scoreLatency.Observe(time.Since(start).Seconds()) }()
	scoresTotal.Inc()

	a := s.Current()
	if a == nil {
		scoreErrors.Inc()
		return ScoreResult{Score: neutralScore, Err: ErrNotLoaded}
	}

	vec := mlmodel.Vectorize(features, a.FeatureKeys)
	probs, err := a.Model.PredictProba([][]float64{vec})
	if err != nil {
		scoreErrors.Inc()
		return ScoreResult{Score: neutralScore, Err: err.Error()}
	}
	return ScoreResult{Score: classOneProb(probs[0])}
}

// BatchScore classifies a list of feature mappings. Rows are vectorized
// independently but predicted as one batched call, so a fault fails the whole
// batch.
func (s *Service) BatchScore(list []map[string]any) BatchResult {
	batchScoresTotal.Inc()

	a := s.Current()
	if a == nil {
		scoreErrors.Inc()
		return BatchResult{Scores: []float64{}, Err: ErrNotLoaded}
	}

	X := make([][]float64, len(list))
	for i, features := range list {
		X[i] = mlmodel.Vectorize(features, a.FeatureKeys)
	}
	probs, err := a.Model.PredictProba(X)
	if err != nil {
		scoreErrors.Inc()
		return BatchResult{Scores: []float64{}, Err: err.Error()}
	}

	scores := make([]float64, len(probs))
	for i, p := range probs {
		scores[i] = classOneProb(p)
	}
	return BatchResult{Scores: scores}
}

// Health reports whether an artifact is currently loaded.
func (s *Service) Health() bool {
	return s.Current() != nil
}

// ModelInfo returns a read-only snapshot of the loaded state.
func (s *Service) ModelInfo() Info {
	info := Info{ModelDir: s.modelDir}
	if a := s.Current(); a != nil {
		info.Loaded = true
		info.Metadata = a.Metadata
	}
	return info
}

// classOneProb picks the malicious-class probability, or the sole output for
// single-output models.
func classOneProb(p []float64) float64 {
	if len(p) > 1 {
		return p[1]
	}
	if len(p) == 1 {
		return p[0]
	}
	return neutralScore
}
