package mlmodel

import (
	"fmt"
	"math"
	"math/rand"
)

// CalibrationPair couples one cross-validation fold's base classifier with the
// sigmoid (Platt) calibrator fit on that fold's held-out scores.
type CalibrationPair struct {
	Base *GBDTClassifier `json:"base"`
	A    float64         `json:"a"`
	B    float64         `json:"b"`
}

// CalibratedClassifier wraps an ensemble of {calibrator, base} pairs produced
// by internal cross-validation. Predicted probability is the mean of the
// per-pair calibrated probabilities, mirroring sigmoid-calibrated CV wrappers
// in the usual training stacks.
type CalibratedClassifier struct {
	Pairs []CalibrationPair `json:"pairs"`
}

// PredictProba implements Estimator.
func (c *CalibratedClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	if len(c.Pairs) == 0 {
		return nil, fmt.Errorf("calibrated: no fitted pairs")
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		sum := 0.0
		for _, pair := range c.Pairs {
			raw, err := pair.Base.PredictRaw(x)
			if err != nil {
				return nil, err
			}
			sum += plattProb(raw, pair.A, pair.B)
		}
		p := sum / float64(len(c.Pairs))
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// BaseEstimator implements CalibrationWrapper: introspection uses the first
// fold's base classifier.
func (c *CalibratedClassifier) BaseEstimator() Estimator {
	if len(c.Pairs) == 0 {
		return nil
	}
	return c.Pairs[0].Base
}

// FitCalibrated trains a sigmoid-calibrated classifier with k-fold internal
// cross-validation over the training split. Folds are stratified per class and
// seeded for reproducibility.
func FitCalibrated(X [][]float64, y []int, cfg GBDTConfig, folds int, seed int64) (*CalibratedClassifier, error) {
	n := len(X)
	if n == 0 {
		return nil, fmt.Errorf("calibrated: empty training set")
	}
	if folds < 2 {
		folds = 2
	}
	if folds > n {
		folds = n
	}

	// Assign fold numbers round-robin within each class after a seeded shuffle
	// so every fold sees roughly the class ratio of the whole split.
	foldOf := make([]int, n)
	rng := rand.New(rand.NewSource(seed))
	for _, label := range []int{0, 1} {
		var idxs []int
		for i, l := range y {
			if l == label {
				idxs = append(idxs, i)
			}
		}
		perm := rng.Perm(len(idxs))
		for j, p := range perm {
			foldOf[idxs[p]] = j % folds
		}
	}

	cal := &CalibratedClassifier{}
	for f := 0; f < folds; f++ {
		var trX, hoX [][]float64
		var trY, hoY []int
		for i := 0; i < n; i++ {
			if foldOf[i] == f {
				hoX = append(hoX, X[i])
				hoY = append(hoY, y[i])
			} else {
				trX = append(trX, X[i])
				trY = append(trY, y[i])
			}
		}
		if len(hoX) == 0 || len(trX) == 0 {
			continue
		}
		base := NewGBDTClassifier(cfg)
		if err := base.Fit(trX, trY); err != nil {
			return nil, fmt.Errorf("calibrated: fold %d: %w", f, err)
		}
		scores := make([]float64, len(hoX))
		for i, x := range hoX {
			raw, err := base.PredictRaw(x)
			if err != nil {
				return nil, fmt.Errorf("calibrated: fold %d: %w", f, err)
			}
			scores[i] = raw
		}
		a, b := plattFit(scores, hoY)
		cal.Pairs = append(cal.Pairs, CalibrationPair{Base: base, A: a, B: b})
	}
	if len(cal.Pairs) == 0 {
		return nil, fmt.Errorf("calibrated: no usable folds for %d samples", n)
	}
	return cal, nil
}

// plattProb maps a raw score through the fitted sigmoid: P(y=1) = 1/(1+exp(A*s+B)).
func plattProb(s, a, b float64) float64 {
	fApB := s*a + b
	if fApB >= 0 {
		e := math.Exp(-fApB)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(fApB))
}

// plattFit fits the two sigmoid parameters by Newton's method with
// backtracking, using the standard smoothed targets so the fit stays stable on
// small or skewed holdouts.
func plattFit(scores []float64, y []int) (a, b float64) {
	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
	)
	n := len(scores)
	prior1, prior0 := 0, 0
	for _, label := range y {
		if label == 1 {
			prior1++
		} else {
			prior0++
		}
	}
	hiTarget := (float64(prior1) + 1.0) / (float64(prior1) + 2.0)
	loTarget := 1.0 / (float64(prior0) + 2.0)

	t := make([]float64, n)
	for i, label := range y {
		if label == 1 {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	a = 0.0
	b = math.Log((float64(prior0) + 1.0) / (float64(prior1) + 1.0))
	fval := plattObjective(scores, t, a, b)

	for iter := 0; iter < maxIter; iter++ {
		// Gradient and Hessian of the negative log likelihood.
		h11, h22, h21 := sigma, sigma, 0.0
		g1, g2 := 0.0, 0.0
		for i := 0; i < n; i++ {
			p := plattProb(scores[i], a, b)
			q := 1 - p
			d1 := t[i] - p
			d2 := p * q
			g1 += scores[i] * d1
			g2 += d1
			h11 += scores[i] * scores[i] * d2
			h22 += d2
			h21 += scores[i] * d2
		}
		if math.Abs(g1) < 1e-5 && math.Abs(g2) < 1e-5 {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA, newB := a+step*dA, b+step*dB
			newF := plattObjective(scores, t, newA, newB)
			if newF < fval+1e-4*step*gd {
				a, b, fval = newA, newB, newF
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return a, b
}

func plattObjective(scores, t []float64, a, b float64) float64 {
	obj := 0.0
	for i := range scores {
		fApB := scores[i]*a + b
		if fApB >= 0 {
			obj += t[i]*fApB + math.Log(1+math.Exp(-fApB))
		} else {
			obj += (t[i]-1)*fApB + math.Log(1+math.Exp(fApB))
		}
	}
	return obj
}
