package metrics

import (
	"math"
	"math/rand"
	"sort"
)

// DefaultSeed seeds every stratified sampler unless a caller overrides it.
const DefaultSeed int64 = 42

func byClass(labels []int) map[int][]int {
	classes := make(map[int][]int)
	for i, l := range labels {
		c := 0
		if l > 0 {
			c = 1
		}
		classes[c] = append(classes[c], i)
	}
	return classes
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// StratifiedSplit partitions row indices into train and test sets keeping
// the class ratio of labels in both. Each class contributes round(n*fraction)
// rows to the test set, bounded so that every class with at least two rows
// keeps one row on each side. Both slices are sorted ascending.
func StratifiedSplit(labels []int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	classes := byClass(labels)
	for _, c := range sortedKeys(classes) {
		idx := append([]int(nil), classes[c]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		nTest := int(math.Round(float64(len(idx)) * testFraction))
		if len(idx) >= 2 {
			nTest = max(1, min(nTest, len(idx)-1))
		} else {
			nTest = 0
		}
		test = append(test, idx[:nTest]...)
		train = append(train, idx[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// Fold is one train/validation partition of a k-fold split.
type Fold struct {
	Train []int
	Valid []int
}

// FoldCount bounds k by the size of the smallest class so that every fold
// sees both classes. It returns 0 when cross-validation is impossible.
func FoldCount(labels []int, k int) int {
	classes := byClass(labels)
	if len(classes) < 2 {
		return 0
	}
	for _, idx := range classes {
		k = min(k, len(idx))
	}
	if k < 2 {
		return 0
	}
	return k
}

// StratifiedKFold deals the shuffled rows of each class round-robin into k
// folds. It returns nil when FoldCount reports cross-validation impossible.
func StratifiedKFold(labels []int, k int, seed int64) []Fold {
	k = FoldCount(labels, k)
	if k == 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(seed))
	assignment := make([]int, len(labels))
	classes := byClass(labels)
	for _, c := range sortedKeys(classes) {
		idx := append([]int(nil), classes[c]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		for pos, i := range idx {
			assignment[i] = pos % k
		}
	}

	folds := make([]Fold, k)
	for i, f := range assignment {
		for j := range folds {
			if j == f {
				folds[j].Valid = append(folds[j].Valid, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds
}
