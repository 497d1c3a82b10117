package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgshield/pkg/mlmodel"
	"pkgshield/pkg/scoring"
)

func trainTestArtifact(t *testing.T) *mlmodel.Artifact {
	t.Helper()
	var rows []mlmodel.TrainingExample
	for i := 0; i < 15; i++ {
		rows = append(rows, mlmodel.TrainingExample{
			Features: map[string]any{"scriptCount": 1.0 + float64(i%3)},
			Label:    0,
		})
		rows = append(rows, mlmodel.TrainingExample{
			Features: map[string]any{
				"scriptCount":        3.0,
				"hasPostinstall":     1.0,
				"networkScriptCount": 2.0,
				"evalUsageCount":     4.0 + float64(i%2),
			},
			Label: 1,
		})
	}
	cfg := mlmodel.DefaultTrainConfig()
	cfg.GBDT = mlmodel.GBDTConfig{NumTrees: 10, MaxDepth: 3}
	artifact, err := mlmodel.Train(rows, mlmodel.BehavioralFeatureKeys, cfg)
	require.NoError(t, err)
	return artifact
}

func newTestServer(t *testing.T, loaded bool) (*server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	srv := &server{
		svc:      scoring.NewService(dir),
		store:    mlmodel.NewStore(dir, nil),
		maxBatch: 10,
	}
	if loaded {
		srv.svc.Load(trainTestArtifact(t))
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestScoreEndpoint(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/score", scoreRequest{
		Features: map[string]any{
			"scriptCount":    3.0,
			"hasPostinstall": 1.0,
			"evalUsageCount": 5.0,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body scoreResponse
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Error)
	assert.GreaterOrEqual(t, body.Score, 0.0)
	assert.LessOrEqual(t, body.Score, 1.0)
	assert.Nil(t, body.Importance)
	assert.Nil(t, body.Reasons)
}

func TestScoreEndpointWithExplain(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/score", scoreRequest{
		Features: map[string]any{
			"scriptCount":        3.0,
			"hasPostinstall":     1.0,
			"networkScriptCount": 2.0,
			"evalUsageCount":     5.0,
		},
		Explain: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body scoreResponse
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Error)
	assert.NotEmpty(t, body.Importance)
	assert.NotEmpty(t, body.Reasons)
	assert.LessOrEqual(t, len(body.Reasons), 5)
}

func TestScoreEndpointNoModel(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/score", scoreRequest{
		Features: map[string]any{"scriptCount": 1.0},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body scoreResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, 0.5, body.Score)
	assert.Equal(t, scoring.ErrNotLoaded, body.Error)
}

func TestScoreEndpointRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/score", "application/json", bytes.NewBufferString("{broken"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/score")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestBatchScoreEndpoint(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/batch-score", batchScoreRequest{
		FeaturesList: []map[string]any{
			{"scriptCount": 1.0},
			{"scriptCount": 3.0, "hasPostinstall": 1.0, "evalUsageCount": 5.0},
		},
		Explain: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body batchScoreResponse
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Error)
	require.Len(t, body.Scores, 2)
	assert.Greater(t, body.Scores[1], body.Scores[0])
	assert.NotEmpty(t, body.Importance)
	require.Len(t, body.ReasonsList, 2)
}

func TestBatchScoreEndpointNoModel(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/batch-score", batchScoreRequest{
		FeaturesList: []map[string]any{{"scriptCount": 1.0}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body batchScoreResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, scoring.ErrNotLoaded, body.Error)
	assert.Empty(t, body.Scores)
}

func TestBatchScoreEndpointRejectsOversizedBatch(t *testing.T) {
	_, ts := newTestServer(t, true)

	oversized := make([]map[string]any, 11)
	for i := range oversized {
		oversized[i] = map[string]any{"scriptCount": 1.0}
	}
	resp := postJSON(t, ts.URL+"/batch-score", batchScoreRequest{FeaturesList: oversized})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestImportanceEndpoint(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/importance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Importance  map[string]float64 `json:"importance"`
		FeatureKeys []string           `json:"feature_keys"`
		Error       string             `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Empty(t, body.Error)
	assert.NotEmpty(t, body.Importance)
	assert.Equal(t, mlmodel.BehavioralFeatureKeys, body.FeatureKeys)
}

func TestExplainEndpoint(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp := postJSON(t, ts.URL+"/explain", scoreRequest{
		Features: map[string]any{
			"scriptCount":    3.0,
			"hasPostinstall": 1.0,
			"evalUsageCount": 5.0,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Contributions map[string]float64 `json:"contributions"`
		Reasons       []string           `json:"reasons"`
	}
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body.Contributions)
	assert.NotEmpty(t, body.Reasons)
}

func TestHealthEndpoint(t *testing.T) {
	for _, tt := range []struct {
		name   string
		loaded bool
	}{
		{"loaded", true},
		{"unloaded", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, tt.loaded)
			resp, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]bool
			decodeBody(t, resp, &body)
			assert.Equal(t, tt.loaded, body["ok"])
		})
	}
}

func TestModelInfoEndpoint(t *testing.T) {
	_, ts := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/model-info")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Loaded   bool              `json:"loaded"`
		ModelDir string            `json:"model_dir"`
		Metadata *mlmodel.Metadata `json:"metadata"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.Loaded)
	require.NotNil(t, body.Metadata)
	assert.Equal(t, "gbdt_behavioral_calibrated", body.Metadata.ModelType)
}

func TestReloadEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, false)

	// Nothing saved yet, reload must fail without touching the service.
	resp := postJSON(t, ts.URL+"/reload", struct{}{})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.False(t, srv.svc.Health())

	artifact := trainTestArtifact(t)
	require.NoError(t, srv.store.Save(context.Background(), artifact))

	resp = postJSON(t, ts.URL+"/reload", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, srv.svc.Health())

	info := srv.svc.ModelInfo()
	require.NotNil(t, info.Metadata)
	assert.Equal(t, artifact.Metadata.RunID, info.Metadata.RunID)
}
