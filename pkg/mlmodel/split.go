package mlmodel

import "math/rand"

// DefaultSeed keeps splits and resampling reproducible across runs.
const DefaultSeed int64 = 42

// SplitResult holds a train/test partition of the dataset.
type SplitResult struct {
	XTrain [][]float64
	YTrain []int
	XTest  [][]float64
	YTest  []int
}

// StratifiedSplit partitions {X, y} into train and test at testFrac, keeping
// the class ratio in both halves. Stratification requires every class to have
// at least 2 members; otherwise everything goes to the training set and the
// test set stays empty, so evaluation is skipped rather than run on nothing.
func StratifiedSplit(X [][]float64, y []int, testFrac float64, seed int64) SplitResult {
	res := SplitResult{}
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for _, idxs := range byClass {
		if len(idxs) < 2 {
			res.XTrain = append(res.XTrain, X...)
			res.YTrain = append(res.YTrain, y...)
			return res
		}
	}

	rng := rand.New(rand.NewSource(seed))
	for _, label := range []int{0, 1} {
		idxs := byClass[label]
		if len(idxs) == 0 {
			continue
		}
		perm := rng.Perm(len(idxs))
		nTest := int(testFrac*float64(len(idxs)) + 0.5)
		if nTest >= len(idxs) {
			nTest = len(idxs) - 1 // train always keeps at least one per class
		}
		for j, p := range perm {
			i := idxs[p]
			if j < nTest {
				res.XTest = append(res.XTest, X[i])
				res.YTest = append(res.YTest, y[i])
			} else {
				res.XTrain = append(res.XTrain, X[i])
				res.YTrain = append(res.YTrain, y[i])
			}
		}
	}
	return res
}

// classCounts returns (negatives, positives) for a label slice.
func classCounts(y []int) (neg, pos int) {
	for _, label := range y {
		if label == 1 {
			pos++
		} else {
			neg++
		}
	}
	return neg, pos
}
