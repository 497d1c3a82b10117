package mlmodel

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Fatal training preconditions. These reflect data-quality problems the
// operator has to fix; no model trained past them can be trusted.
var (
	ErrNoData      = errors.New("no training data: provide --input or pipe JSONL rows")
	ErrSingleClass = errors.New("training data has only one class: add both good (label 0) and bad (label 1) samples")
)

// TrainConfig controls the end-to-end training pipeline.
type TrainConfig struct {
	TestSize  float64
	Balance   bool
	Calibrate bool
	Folds     int
	Seed      int64
	GBDT      GBDTConfig
}

// DefaultTrainConfig mirrors the CLI defaults.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		TestSize:  0.2,
		Calibrate: true,
		Folds:     3,
		Seed:      DefaultSeed,
	}
}

// ClassDistribution counts the labels of the full dataset.
type ClassDistribution struct {
	Good int `json:"good"`
	Bad  int `json:"bad"`
}

// Metadata is the training provenance persisted next to the model. Written
// once at training time, read-only afterwards.
type Metadata struct {
	RunID             string             `json:"run_id"`
	ModelType         string             `json:"model_type"`
	FeatureKeys       []string           `json:"feature_keys"`
	TrainingDate      string             `json:"training_date"`
	DatasetSize       int                `json:"dataset_size"`
	ClassDistribution ClassDistribution  `json:"class_distribution"`
	Metrics           map[string]float64 `json:"metrics"`
}

// Train runs the full pipeline: vectorize, stratified split, optional
// oversampling, fit (optionally calibrated), evaluate on the held-out split.
func Train(rows []TrainingExample, keys []string, cfg TrainConfig) (*Artifact, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	if cfg.TestSize <= 0 || cfg.TestSize >= 1 {
		cfg.TestSize = 0.2
	}
	if cfg.Folds <= 0 {
		cfg.Folds = 3
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}

	X, y := Matrix(rows, keys)
	totalNeg, totalPos := classCounts(y)
	if totalNeg == 0 || totalPos == 0 {
		return nil, ErrSingleClass
	}

	split := StratifiedSplit(X, y, cfg.TestSize, cfg.Seed)

	trainX, trainY := split.XTrain, split.YTrain
	if cfg.Balance {
		trainX, trainY = OversampleMinority(trainX, trainY, cfg.Seed)
	}

	// Class weighting covers only the imbalance oversampling did not remove;
	// a training split already at parity trains unweighted.
	gbdtCfg := cfg.GBDT
	if cfg.Balance && gbdtCfg.ScalePosWeight <= 0 {
		if neg, pos := classCounts(trainY); pos > 0 && neg != pos {
			gbdtCfg.ScalePosWeight = float64(neg) / float64(pos)
		}
	}

	var model Estimator
	modelType := "gbdt_behavioral"
	if cfg.Calibrate {
		cal, err := FitCalibrated(trainX, trainY, gbdtCfg, cfg.Folds, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("train calibrated model: %w", err)
		}
		model = cal
		modelType += "_calibrated"
	} else {
		base := NewGBDTClassifier(gbdtCfg)
		if err := base.Fit(trainX, trainY); err != nil {
			return nil, fmt.Errorf("train model: %w", err)
		}
		model = base
	}

	metrics, err := Evaluate(model, split.XTest, split.YTest)
	if err != nil {
		return nil, fmt.Errorf("evaluate model: %w", err)
	}

	meta := &Metadata{
		RunID:             uuid.NewString(),
		ModelType:         modelType,
		FeatureKeys:       keys,
		TrainingDate:      time.Now().UTC().Format(time.RFC3339),
		DatasetSize:       len(rows),
		ClassDistribution: ClassDistribution{Good: totalNeg, Bad: totalPos},
		Metrics:           metrics,
	}
	return &Artifact{Model: model, FeatureKeys: keys, Metadata: meta}, nil
}

// Evaluate computes accuracy, precision and recall on the held-out split, plus
// ROC-AUC when the split holds both classes. An empty split yields an empty
// metrics map: nothing is ever computed against zero samples or a single-class
// target. Values are rounded to 4 decimals.
func Evaluate(model Estimator, XTest [][]float64, yTest []int) (map[string]float64, error) {
	metrics := map[string]float64{}
	if len(XTest) == 0 {
		return metrics, nil
	}
	probs, err := model.PredictProba(XTest)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(probs))
	classes := make([]bool, len(probs))
	var tp, fp, tn, fn int
	for i, p := range probs {
		score := p[len(p)-1]
		scores[i] = score
		classes[i] = yTest[i] == 1
		pred := score >= 0.5
		switch {
		case pred && classes[i]:
			tp++
		case pred && !classes[i]:
			fp++
		case !pred && classes[i]:
			fn++
		default:
			tn++
		}
	}

	metrics["accuracy"] = round4(float64(tp+tn) / float64(len(yTest)))
	if tp+fp > 0 {
		metrics["precision"] = round4(float64(tp) / float64(tp+fp))
	} else {
		metrics["precision"] = 0
	}
	if tp+fn > 0 {
		metrics["recall"] = round4(float64(tp) / float64(tp+fn))
	} else {
		metrics["recall"] = 0
	}

	neg, pos := classCounts(yTest)
	if neg > 0 && pos > 0 {
		stat.SortWeightedLabeled(scores, classes, nil)
		tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
		metrics["roc_auc"] = round4(integrate.Trapezoidal(fpr, tpr))
	}
	return metrics, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
