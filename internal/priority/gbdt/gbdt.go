// Package gbdt is a small gradient-boosted decision tree classifier for
// binary labels. Trees are grown depth-wise with exact greedy split search on
// second order gradient statistics of the logistic loss.
package gbdt

import (
	"context"
	"fmt"
	"math"
	"sort"

	e "github.com/gartstein/priority/internal/priority/errors"
)

// Params controls boosting.
type Params struct {
	NEstimators    int
	MaxDepth       int
	LearningRate   float64
	Lambda         float64
	MinChildWeight float64
	// ScalePosWeight multiplies the gradient statistics of positive rows.
	ScalePosWeight float64
}

// DefaultParams returns the stock boosting parameters.
func DefaultParams() Params {
	return Params{
		NEstimators:    100,
		MaxDepth:       4,
		LearningRate:   0.1,
		Lambda:         1,
		MinChildWeight: 1,
		ScalePosWeight: 1,
	}
}

// AsMap flattens the parameters for metadata output.
func (p Params) AsMap() map[string]float64 {
	return map[string]float64{
		"n_estimators":     float64(p.NEstimators),
		"max_depth":        float64(p.MaxDepth),
		"learning_rate":    p.LearningRate,
		"reg_lambda":       p.Lambda,
		"min_child_weight": p.MinChildWeight,
		"scale_pos_weight": p.ScalePosWeight,
	}
}

func (p Params) validate() error {
	switch {
	case p.NEstimators <= 0:
		return fmt.Errorf("%w: n_estimators must be positive", e.ErrInvalidInput)
	case p.MaxDepth <= 0:
		return fmt.Errorf("%w: max_depth must be positive", e.ErrInvalidInput)
	case p.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", e.ErrInvalidInput)
	case p.Lambda < 0 || p.MinChildWeight < 0 || p.ScalePosWeight <= 0:
		return fmt.Errorf("%w: negative regularisation or weight", e.ErrInvalidInput)
	}
	return nil
}

// Node is a tree node. Leaves carry Value; internal nodes send rows with
// x[Feature] < Threshold to Left and all others to Right.
type Node struct {
	Leaf      bool
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Gain      float64
}

// Tree is a flat array of nodes rooted at index 0.
type Tree struct {
	Nodes []Node
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Classifier is a fitted ensemble.
type Classifier struct {
	Params      Params
	NumFeatures int
	Trees       []Tree
}

// Fit trains a classifier on rows x with 0/1 labels y.
func Fit(ctx context.Context, x [][]float64, y []int, params Params) (*Classifier, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no training rows", e.ErrEmptyDataset)
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d rows for %d labels", e.ErrInvalidInput, len(x), len(y))
	}
	nf := len(x[0])
	for i, row := range x {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", e.ErrInvalidInput, i, len(row), nf)
		}
	}

	c := &Classifier{Params: params, NumFeatures: nf}
	margin := make([]float64, len(x))
	grad := make([]float64, len(x))
	hess := make([]float64, len(x))
	rows := make([]int, len(x))
	for i := range rows {
		rows[i] = i
	}

	for round := 0; round < params.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range x {
			p := sigmoid(margin[i])
			w := 1.0
			if y[i] > 0 {
				w = params.ScalePosWeight
			}
			grad[i] = (p - float64(y[i])) * w
			hess[i] = math.Max(p*(1-p), 1e-16) * w
		}

		b := builder{x: x, grad: grad, hess: hess, params: params}
		b.grow(rows, 0)
		tree := Tree{Nodes: b.nodes}
		for i := range x {
			margin[i] += tree.predict(x[i])
		}
		c.Trees = append(c.Trees, tree)
	}
	return c, nil
}

// PredictMargin returns the raw log-odds for one row.
func (c *Classifier) PredictMargin(x []float64) float64 {
	var m float64
	for _, t := range c.Trees {
		m += t.predict(x)
	}
	return m
}

// PredictProba returns the positive-class probability of every row.
func (c *Classifier) PredictProba(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != c.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", e.ErrSchemaMismatch, i, len(row), c.NumFeatures)
		}
		out[i] = sigmoid(c.PredictMargin(row))
	}
	return out, nil
}

// Importances returns the total split gain per feature normalised to sum to
// one. A model without any split reports all zeros.
func (c *Classifier) Importances() []float64 {
	gain := make([]float64, c.NumFeatures)
	var total float64
	for _, t := range c.Trees {
		for _, n := range t.Nodes {
			if n.Leaf {
				continue
			}
			gain[n.Feature] += n.Gain
			total += n.Gain
		}
	}
	if total > 0 {
		for i := range gain {
			gain[i] /= total
		}
	}
	return gain
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

type builder struct {
	x      [][]float64
	grad   []float64
	hess   []float64
	params Params
	nodes  []Node
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	left      []int
	right     []int
}

func (b *builder) grow(rows []int, depth int) int {
	var g, h float64
	for _, i := range rows {
		g += b.grad[i]
		h += b.hess[i]
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	var best *split
	if depth < b.params.MaxDepth && len(rows) > 1 {
		best = b.bestSplit(rows, g, h)
	}
	if best == nil {
		b.nodes[id] = Node{Leaf: true, Value: -g / (h + b.params.Lambda) * b.params.LearningRate}
		return id
	}

	left := b.grow(best.left, depth+1)
	right := b.grow(best.right, depth+1)
	b.nodes[id] = Node{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      left,
		Right:     right,
		Gain:      best.gain,
	}
	return id
}

func (b *builder) score(g, h float64) float64 {
	return g * g / (h + b.params.Lambda)
}

func (b *builder) bestSplit(rows []int, g, h float64) *split {
	parent := b.score(g, h)
	var best *split
	sorted := make([]int, len(rows))

	for f := 0; f < len(b.x[rows[0]]); f++ {
		copy(sorted, rows)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.x[sorted[a]][f] < b.x[sorted[c]][f]
		})

		var gl, hl float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			gl += b.grad[i]
			hl += b.hess[i]

			cur, next := b.x[i][f], b.x[sorted[k+1]][f]
			if cur == next {
				continue
			}
			gr, hr := g-gl, h-hl
			if hl < b.params.MinChildWeight || hr < b.params.MinChildWeight {
				continue
			}
			gain := 0.5 * (b.score(gl, hl) + b.score(gr, hr) - parent)
			if gain <= 1e-12 || (best != nil && gain <= best.gain) {
				continue
			}
			best = &split{
				feature:   f,
				threshold: cur + (next-cur)/2,
				gain:      gain,
				left:      append([]int(nil), sorted[:k+1]...),
				right:     append([]int(nil), sorted[k+1:]...),
			}
		}
	}
	return best
}
