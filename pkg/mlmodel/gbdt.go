package mlmodel

import (
	"fmt"
	"math"
	"sort"
)

// GBDTConfig holds the tunable hyperparameters of the boosted-tree classifier.
type GBDTConfig struct {
	NumTrees       int     `json:"num_trees"`
	MaxDepth       int     `json:"max_depth"`
	LearningRate   float64 `json:"learning_rate"`
	MinLeaf        int     `json:"min_leaf"`
	ScalePosWeight float64 `json:"scale_pos_weight"`
}

func (c GBDTConfig) withDefaults() GBDTConfig {
	if c.NumTrees <= 0 {
		c.NumTrees = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 6
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.MinLeaf <= 0 {
		c.MinLeaf = 1
	}
	if c.ScalePosWeight <= 0 {
		c.ScalePosWeight = 1.0
	}
	return c
}

// gbdtNode is one node of a regression tree over logistic-loss gradients.
// Expected carries the sample-weighted expected value of the subtree so a
// prediction can be decomposed split by split.
type gbdtNode struct {
	Leaf      bool      `json:"leaf"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Expected  float64   `json:"expected"`
	Left      *gbdtNode `json:"left,omitempty"`
	Right     *gbdtNode `json:"right,omitempty"`
}

// GBDTClassifier is a gradient-boosted tree binary classifier with logistic
// loss and Newton leaf weights. Kept small and dependency-free so trained
// models serialize to plain JSON, the same way the platform's other in-process
// models do.
type GBDTClassifier struct {
	Cfg         GBDTConfig  `json:"config"`
	Bias        float64     `json:"bias"`
	Trees       []*gbdtNode `json:"trees"`
	NumFeatures int         `json:"num_features"`
	Gains       []float64   `json:"gains"`
}

const regLambda = 1.0

// NewGBDTClassifier constructs an untrained classifier with defaults applied.
func NewGBDTClassifier(cfg GBDTConfig) *GBDTClassifier {
	return &GBDTClassifier{Cfg: cfg.withDefaults()}
}

// Fit trains the ensemble on X with binary labels y. Positive samples are
// weighted by ScalePosWeight.
func (m *GBDTClassifier) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("gbdt: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("gbdt: %d rows but %d labels", len(X), len(y))
	}
	m.Cfg = m.Cfg.withDefaults()
	m.NumFeatures = len(X[0])
	m.Gains = make([]float64, m.NumFeatures)

	n := len(X)
	w := make([]float64, n)
	sumPosW, sumNegW := 0.0, 0.0
	for i, label := range y {
		if label == 1 {
			w[i] = m.Cfg.ScalePosWeight
			sumPosW += w[i]
		} else {
			w[i] = 1.0
			sumNegW += w[i]
		}
	}
	m.Bias = clamp(math.Log((sumPosW+1e-9)/(sumNegW+1e-9)), -10, 10)

	raw := make([]float64, n)
	for i := range raw {
		raw[i] = m.Bias
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	m.Trees = make([]*gbdtNode, 0, m.Cfg.NumTrees)
	for t := 0; t < m.Cfg.NumTrees; t++ {
		for i := 0; i < n; i++ {
			p := sigmoid(raw[i])
			target := 0.0
			if y[i] == 1 {
				target = 1.0
			}
			grad[i] = w[i] * (target - p)
			hess[i] = w[i] * p * (1 - p)
		}
		root := m.buildNode(X, grad, hess, idx, 0)
		m.Trees = append(m.Trees, root)
		for i := 0; i < n; i++ {
			raw[i] += m.Cfg.LearningRate * treeValue(root, X[i])
		}
	}
	return nil
}

// buildNode grows one tree node over the sample subset idx.
func (m *GBDTClassifier) buildNode(X [][]float64, grad, hess []float64, idx []int, depth int) *gbdtNode {
	var g, h float64
	for _, i := range idx {
		g += grad[i]
		h += hess[i]
	}
	leafVal := g / (h + regLambda)
	node := &gbdtNode{Leaf: true, Value: leafVal, Expected: leafVal}
	if depth >= m.Cfg.MaxDepth || len(idx) < 2*m.Cfg.MinLeaf {
		return node
	}

	bestGain := 0.0
	bestFeature, bestSplit := -1, 0.0
	parentScore := g * g / (h + regLambda)
	order := make([]int, len(idx))

	for f := 0; f < m.NumFeatures; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		var gl, hl float64
		for j := 0; j < len(order)-1; j++ {
			i := order[j]
			gl += grad[i]
			hl += hess[i]
			v, next := X[i][f], X[order[j+1]][f]
			if v == next {
				continue
			}
			if j+1 < m.Cfg.MinLeaf || len(order)-j-1 < m.Cfg.MinLeaf {
				continue
			}
			gr, hr := g-gl, h-hl
			gain := gl*gl/(hl+regLambda) + gr*gr/(hr+regLambda) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestSplit = (v + next) / 2
			}
		}
	}

	if bestFeature < 0 || bestGain <= 1e-12 {
		return node
	}
	m.Gains[bestFeature] += bestGain

	var left, right []int
	for _, i := range idx {
		if X[i][bestFeature] < bestSplit {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	node.Leaf = false
	node.Feature = bestFeature
	node.Threshold = bestSplit
	node.Value = 0
	node.Left = m.buildNode(X, grad, hess, left, depth+1)
	node.Right = m.buildNode(X, grad, hess, right, depth+1)
	nl, nr := float64(len(left)), float64(len(right))
	node.Expected = (nl*node.Left.Expected + nr*node.Right.Expected) / (nl + nr)
	return node
}

func treeValue(node *gbdtNode, x []float64) float64 {
	for !node.Leaf {
		if x[node.Feature] < node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// PredictRaw returns the ensemble log-odds for one vector.
func (m *GBDTClassifier) PredictRaw(x []float64) (float64, error) {
	if len(x) != m.NumFeatures {
		return 0, fmt.Errorf("gbdt: vector has %d features, model expects %d", len(x), m.NumFeatures)
	}
	raw := m.Bias
	for _, t := range m.Trees {
		raw += m.Cfg.LearningRate * treeValue(t, x)
	}
	return raw, nil
}

// PredictProba implements Estimator.
func (m *GBDTClassifier) PredictProba(X [][]float64) ([][]float64, error) {
	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("gbdt: model not trained")
	}
	out := make([][]float64, len(X))
	for i, x := range X {
		raw, err := m.PredictRaw(x)
		if err != nil {
			return nil, err
		}
		p := sigmoid(raw)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// FeatureImportances implements ImportanceProvider. Weights are split gains
// normalized to sum to 1; all entries are non-negative.
func (m *GBDTClassifier) FeatureImportances() []float64 {
	imp := make([]float64, len(m.Gains))
	total := 0.0
	for _, g := range m.Gains {
		total += g
	}
	if total <= 0 {
		return imp
	}
	for i, g := range m.Gains {
		imp[i] = g / total
	}
	return imp
}

// Attributions implements Attributor: it decomposes the prediction for x into
// per-feature log-odds contributions by crediting each split on the decision
// path with the change in expected subtree value.
func (m *GBDTClassifier) Attributions(x []float64) ([]float64, error) {
	if len(x) != m.NumFeatures {
		return nil, fmt.Errorf("gbdt: vector has %d features, model expects %d", len(x), m.NumFeatures)
	}
	contrib := make([]float64, m.NumFeatures)
	for _, root := range m.Trees {
		node := root
		for !node.Leaf {
			child := node.Left
			if x[node.Feature] >= node.Threshold {
				child = node.Right
			}
			contrib[node.Feature] += m.Cfg.LearningRate * (child.Expected - node.Expected)
			node = child
		}
	}
	return contrib, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
