// Package metrics implements the ranking and classification measures used to
// evaluate priority models, together with the stratified sampling helpers
// that feed them.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// rankOrder returns row indices sorted by descending score, ties kept in row order.
func rankOrder(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

func clipK(k, n int) int {
	if k > n {
		return n
	}
	return k
}

// PrecisionAtK is the share of relevant rows among the k best scored rows.
// k is clipped to the number of rows; k <= 0 or empty input yields 0.
func PrecisionAtK(labels []int, scores []float64, k int) float64 {
	n := min(len(labels), len(scores))
	k = clipK(k, n)
	if k <= 0 {
		return 0
	}
	order := rankOrder(scores[:n])
	hits := 0
	for _, i := range order[:k] {
		if labels[i] > 0 {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// DCG sums rel_i / log2(i+1) over 1-based positions of the given relevances.
func DCG(relevances []float64) float64 {
	var sum float64
	for i, rel := range relevances {
		sum += rel / math.Log2(float64(i+2))
	}
	return sum
}

// NDCGAtK normalises DCG@k by the ideal DCG@k. When no relevant row exists
// the ideal DCG is zero and NDCGAtK returns 0.
func NDCGAtK(labels []int, scores []float64, k int) float64 {
	n := min(len(labels), len(scores))
	k = clipK(k, n)
	if k <= 0 {
		return 0
	}

	order := rankOrder(scores[:n])
	got := make([]float64, k)
	for pos, i := range order[:k] {
		got[pos] = float64(labels[i])
	}

	ideal := make([]float64, n)
	for i := 0; i < n; i++ {
		ideal[i] = float64(labels[i])
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	idcg := DCG(ideal[:k])
	if idcg == 0 {
		return 0
	}
	return DCG(got) / idcg
}

// AUC is the area under the ROC curve. It is NaN when labels contain a
// single class, since the curve is then undefined.
func AUC(labels []int, scores []float64) float64 {
	n := min(len(labels), len(scores))
	if n == 0 {
		return math.NaN()
	}

	y := make([]float64, n)
	classes := make([]bool, n)
	pos := 0
	for i := 0; i < n; i++ {
		y[i] = scores[i]
		classes[i] = labels[i] > 0
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == n {
		return math.NaN()
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

// MeanStd returns the mean and population standard deviation of the defined
// values. Both are NaN when no value is defined.
func MeanStd(values []float64) (float64, float64) {
	defined := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			defined = append(defined, v)
		}
	}
	if len(defined) == 0 {
		return math.NaN(), math.NaN()
	}
	if len(defined) == 1 {
		return defined[0], 0
	}
	return stat.PopMeanStdDev(defined, nil)
}
