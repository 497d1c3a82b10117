package mlmodel

import "math/rand"

// OversampleMinority resamples the minority class with replacement until the
// classes are at parity. It only ever runs on the training split; the test
// split must stay untouched. Identical input and seed produce identical
// resampled rows.
func OversampleMinority(X [][]float64, y []int, seed int64) ([][]float64, []int) {
	neg, pos := classCounts(y)
	if neg == 0 || pos == 0 || neg == pos {
		return X, y
	}

	minority := 1
	deficit := neg - pos
	if pos > neg {
		minority = 0
		deficit = pos - neg
	}

	var minIdx []int
	for i, label := range y {
		if label == minority {
			minIdx = append(minIdx, i)
		}
	}

	rng := rand.New(rand.NewSource(seed))
	outX := append([][]float64{}, X...)
	outY := append([]int{}, y...)
	for k := 0; k < deficit; k++ {
		i := minIdx[rng.Intn(len(minIdx))]
		outX = append(outX, X[i])
		outY = append(outY, y[i])
	}
	return outX, outY
}
