// scorer serves package-risk classifications from the trained model artifact.
//
// Endpoints: /score, /batch-score, /importance, /explain, /model-info,
// /health, /reload, /metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkgshield/pkg/config"
	"pkgshield/pkg/explain"
	"pkgshield/pkg/logging"
	"pkgshield/pkg/mlmodel"
	"pkgshield/pkg/scoring"
)

type server struct {
	svc      *scoring.Service
	store    *mlmodel.Store
	maxBatch int
}

type scoreRequest struct {
	Features map[string]any `json:"features"`
	Explain  bool           `json:"explain,omitempty"`
}

type scoreResponse struct {
	Score      float64            `json:"score"`
	Importance map[string]float64 `json:"importance,omitempty"`
	Reasons    []string           `json:"reasons,omitempty"`
	Error      string             `json:"error,omitempty"`
}

type batchScoreRequest struct {
	FeaturesList []map[string]any `json:"features_list"`
	Explain      bool             `json:"explain,omitempty"`
}

type batchScoreResponse struct {
	Scores      []float64          `json:"scores"`
	Importance  map[string]float64 `json:"importance,omitempty"`
	ReasonsList [][]string         `json:"reasons_list,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	result := s.svc.Score(req.Features)
	resp := scoreResponse{Score: result.Score, Error: result.Err}
	if req.Explain && result.Err == "" {
		if a := s.svc.Current(); a != nil {
			ex := explain.Explain(a.Model, a.FeatureKeys, req.Features)
			resp.Importance = ex.Contributions
			resp.Reasons = ex.Reasons
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleBatchScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req batchScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if s.maxBatch > 0 && len(req.FeaturesList) > s.maxBatch {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("batch too large (max %d)", s.maxBatch)})
		return
	}

	result := s.svc.BatchScore(req.FeaturesList)
	resp := batchScoreResponse{Scores: result.Scores, Error: result.Err}
	if req.Explain && result.Err == "" {
		if a := s.svc.Current(); a != nil {
			resp.Importance = explain.TopImportance(explain.GlobalImportance(a.Model, a.FeatureKeys))
			resp.ReasonsList = make([][]string, len(req.FeaturesList))
			for i, features := range req.FeaturesList {
				resp.ReasonsList[i] = explain.Explain(a.Model, a.FeatureKeys, features).Reasons
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleImportance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	a := s.svc.Current()
	if a == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"importance":   map[string]float64{},
			"feature_keys": []string{},
			"error":        scoring.ErrNotLoaded,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"importance":   explain.GlobalImportance(a.Model, a.FeatureKeys),
		"feature_keys": a.FeatureKeys,
	})
}

func (s *server) handleExplain(w http.ResponseWriter, r *http.Request) {
	a := s.svc.Current()
	switch r.Method {
	case http.MethodGet:
		importance := map[string]float64{}
		if a != nil {
			importance = explain.GlobalImportance(a.Model, a.FeatureKeys)
		}
		writeJSON(w, http.StatusOK, map[string]any{"importance": importance})
	case http.MethodPost:
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
		if a == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"contributions": map[string]float64{},
				"reasons":       []string{},
				"error":         scoring.ErrNotLoaded,
			})
			return
		}
		writeJSON(w, http.StatusOK, explain.Explain(a.Model, a.FeatureKeys, req.Features))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	info := s.svc.ModelInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":    info.Loaded,
		"model_dir": info.ModelDir,
		"metadata":  info.Metadata,
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.svc.Health()})
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	artifact, err := s.store.Load(r.Context())
	if err != nil {
		logging.Errorf("reload failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.svc.Load(artifact)
	logging.Infof("model reloaded: type=%s run=%s", artifact.Metadata.ModelType, artifact.Metadata.RunID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/score", s.handleScore)
	mux.HandleFunc("/batch-score", s.handleBatchScore)
	mux.HandleFunc("/importance", s.handleImportance)
	mux.HandleFunc("/explain", s.handleExplain)
	mux.HandleFunc("/model-info", s.handleModelInfo)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/reload", s.handleReload)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func main() {
	port := config.Get("SCORER_PORT", "8090")
	modelDir := config.Get("MODEL_DIR", "./model")

	var rdb *redis.Client
	if addr := config.Get("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}

	srv := &server{
		svc:      scoring.NewService(modelDir),
		store:    mlmodel.NewStore(modelDir, rdb),
		maxBatch: config.GetInt("SCORER_MAX_BATCH", 1000),
	}

	if artifact, err := srv.store.Load(context.Background()); err != nil {
		logging.Warnf("no model loaded from %s: %v (train first, then POST /reload)", modelDir, err)
	} else {
		srv.svc.Load(artifact)
		logging.Infof("model loaded: type=%s run=%s features=%d",
			artifact.Metadata.ModelType, artifact.Metadata.RunID, len(artifact.FeatureKeys))
	}

	handler := otelhttp.NewHandler(srv.routes(), "scorer")
	httpSrv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.Infof("scorer listening on :%s (model dir %s)", port, modelDir)
	if err := httpSrv.ListenAndServe(); err != nil {
		logging.Fatalf("scorer: %v", err)
	}
}
