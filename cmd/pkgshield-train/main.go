// pkgshield-train fits the behavioral package classifier from labeled JSONL
// rows and writes the model artifact consumed by the scorer service.
//
// Usage:
//
//	pkgshield-train --input train.jsonl --output-dir ./model
//	cat train.jsonl | pkgshield-train --balance --no-calibrate
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"pkgshield/pkg/mlmodel"
)

var trainFlags struct {
	input       string
	outputDir   string
	testSize    float64
	balance     bool
	calibrate   bool
	noCalibrate bool
	numTrees    int
	maxDepth    int
	learnRate   float64
}

var rootCmd = &cobra.Command{
	Use:   "pkgshield-train",
	Short: "Train the behavioral package-risk classifier",
	Long: `Train a gradient-boosted tree classifier from labeled behavioral feature
rows and write model.json, feature_keys.json and metadata.json to the output
directory.

Input is newline-delimited JSON, one object per example:
  {"features": {"scriptCount": 3, ...}, "label": 1}
Rows may also be flat objects carrying "label" alongside the feature keys.
When --input is omitted, rows are read from stdin.`,
	SilenceUsage: true,
	RunE:         runTrain,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&trainFlags.input, "input", "i", "", "Input JSONL file (default stdin)")
	f.StringVarP(&trainFlags.outputDir, "output-dir", "o", ".", "Output directory for the model artifact")
	f.Float64Var(&trainFlags.testSize, "test-size", 0.2, "Held-out test set fraction")
	f.BoolVar(&trainFlags.balance, "balance", false, "Oversample the minority class to parity")
	f.BoolVar(&trainFlags.calibrate, "calibrate", true, "Apply sigmoid probability calibration")
	f.BoolVar(&trainFlags.noCalibrate, "no-calibrate", false, "Disable calibration")
	f.IntVar(&trainFlags.numTrees, "trees", 100, "Ensemble size")
	f.IntVar(&trainFlags.maxDepth, "depth", 6, "Maximum tree depth")
	f.Float64Var(&trainFlags.learnRate, "learning-rate", 0.1, "Boosting learning rate")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	rows, err := mlmodel.LoadJSONL(trainFlags.input)
	if err != nil {
		return err
	}

	cfg := mlmodel.DefaultTrainConfig()
	cfg.TestSize = trainFlags.testSize
	cfg.Balance = trainFlags.balance
	cfg.Calibrate = trainFlags.calibrate && !trainFlags.noCalibrate
	cfg.GBDT = mlmodel.GBDTConfig{
		NumTrees:     trainFlags.numTrees,
		MaxDepth:     trainFlags.maxDepth,
		LearningRate: trainFlags.learnRate,
	}

	artifact, err := mlmodel.Train(rows, mlmodel.BehavioralFeatureKeys, cfg)
	if err != nil {
		return err
	}

	meta := artifact.Metadata
	fmt.Printf("Class distribution: %d good, %d bad\n",
		meta.ClassDistribution.Good, meta.ClassDistribution.Bad)
	if len(meta.Metrics) == 0 {
		fmt.Println("Trained on all data (no test split)")
	} else {
		names := make([]string, 0, len(meta.Metrics))
		for name := range meta.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s: %.4f\n", name, meta.Metrics[name])
		}
	}

	store := mlmodel.NewStore(trainFlags.outputDir, nil)
	if err := store.Save(context.Background(), artifact); err != nil {
		return err
	}
	fmt.Printf("Model saved to %s (type %s, run %s)\n", trainFlags.outputDir, meta.ModelType, meta.RunID)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
