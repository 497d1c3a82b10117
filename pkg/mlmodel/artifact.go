package mlmodel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Artifact is the persisted triple consumed by the serving side. The three
// parts are only ever replaced together.
type Artifact struct {
	Model       Estimator
	FeatureKeys []string
	Metadata    *Metadata
}

// Artifact file names inside the model directory.
const (
	modelFile       = "model.json"
	featureKeysFile = "feature_keys.json"
	metadataFile    = "metadata.json"
)

// modelEnvelope tags the serialized classifier so load knows whether it is a
// raw ensemble or a calibration wrapper.
type modelEnvelope struct {
	ModelType  string                `json:"model_type"`
	GBDT       *GBDTClassifier       `json:"gbdt,omitempty"`
	Calibrated *CalibratedClassifier `json:"calibrated,omitempty"`
}

// Store persists and loads artifacts under a model directory. When a Redis
// client is attached, metadata is mirrored there for fleet-wide visibility;
// Redis being absent or down never fails a save or load.
type Store struct {
	dir string
	rdb *redis.Client
}

// NewStore creates a store rooted at dir. rdb may be nil.
func NewStore(dir string, rdb *redis.Client) *Store {
	return &Store{dir: dir, rdb: rdb}
}

// Dir returns the model directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

// Save writes model.json, feature_keys.json and metadata.json under the model
// directory and mirrors metadata to Redis when configured.
func (s *Store) Save(ctx context.Context, a *Artifact) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	env := modelEnvelope{ModelType: a.Metadata.ModelType}
	switch m := a.Model.(type) {
	case *GBDTClassifier:
		env.GBDT = m
	case *CalibratedClassifier:
		env.Calibrated = m
	default:
		return fmt.Errorf("save artifact: unsupported model type %T", a.Model)
	}

	if err := writeJSON(filepath.Join(s.dir, modelFile), env); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, featureKeysFile), a.FeatureKeys); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, metadataFile), a.Metadata); err != nil {
		return err
	}

	s.mirrorMetadata(ctx, a.Metadata)
	return nil
}

// Load reads a complete artifact from the model directory. A missing
// feature_keys.json falls back to the canonical behavioral schema, matching
// the exporter's defaults.
func (s *Store) Load(ctx context.Context) (*Artifact, error) {
	var env modelEnvelope
	if err := readJSON(filepath.Join(s.dir, modelFile), &env); err != nil {
		return nil, err
	}

	var model Estimator
	switch {
	case env.Calibrated != nil:
		model = env.Calibrated
	case env.GBDT != nil:
		model = env.GBDT
	default:
		return nil, fmt.Errorf("load artifact: %s holds no model", modelFile)
	}

	keys := append([]string{}, BehavioralFeatureKeys...)
	if _, err := os.Stat(filepath.Join(s.dir, featureKeysFile)); err == nil {
		keys = nil
		if err := readJSON(filepath.Join(s.dir, featureKeysFile), &keys); err != nil {
			return nil, err
		}
	}

	meta := &Metadata{}
	if _, err := os.Stat(filepath.Join(s.dir, metadataFile)); err == nil {
		if err := readJSON(filepath.Join(s.dir, metadataFile), meta); err != nil {
			return nil, err
		}
	} else {
		meta.ModelType = env.ModelType
		meta.FeatureKeys = keys
	}

	s.mirrorMetadata(ctx, meta)
	return &Artifact{Model: model, FeatureKeys: keys, Metadata: meta}, nil
}

// mirrorMetadata best-effort copies metadata into Redis.
func (s *Store) mirrorMetadata(ctx context.Context, meta *Metadata) {
	if s.rdb == nil || meta == nil || meta.RunID == "" {
		return
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = s.rdb.Set(ctx, "pkgshield:model:"+meta.RunID, data, 0).Err()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
