// Package forest implements a random forest regressor used to model the
// background temperature / land-cover relationship. A forest is trained
// fresh for every scene and discarded at the end of the run; it is never
// persisted or incrementally updated.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// Params holds the forest hyperparameters. All of them are pass-through
// to the underlying trees; callers normally take DefaultParams and
// override selectively.
type Params struct {
	// NumTrees is the ensemble size.
	NumTrees int

	// MaxDepth limits tree depth. Zero means unlimited.
	MaxDepth int

	// MinSamplesSplit is the minimum node size eligible for splitting.
	MinSamplesSplit int

	// MinSamplesLeaf is the minimum number of samples in each child of
	// a split.
	MinSamplesLeaf int

	// MaxFeatures is the number of candidate features examined per
	// split. Zero selects sqrt(number of features), rounded up.
	MaxFeatures int

	// Seed fixes the random source so a run is reproducible. Per-tree
	// sources are derived deterministically from it, so results do not
	// depend on worker scheduling.
	Seed int64

	// NumWorkers bounds the tree-training fan-out. Zero or negative
	// uses all available cores.
	NumWorkers int
}

// DefaultParams returns the standard hyperparameters.
func DefaultParams() Params {
	return Params{
		NumTrees:        200,
		MaxDepth:        25,
		MinSamplesSplit: 8,
		MinSamplesLeaf:  4,
		MaxFeatures:     0,
		Seed:            42,
		NumWorkers:      runtime.NumCPU(),
	}
}

// Validate checks the hyperparameters for internal consistency.
func (p Params) Validate() error {
	if p.NumTrees <= 0 {
		return fmt.Errorf("numTrees must be positive, got %d", p.NumTrees)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("maxDepth must not be negative, got %d", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return fmt.Errorf("minSamplesSplit must be at least 2, got %d", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("minSamplesLeaf must be at least 1, got %d", p.MinSamplesLeaf)
	}
	if p.MaxFeatures < 0 {
		return fmt.Errorf("maxFeatures must not be negative, got %d", p.MaxFeatures)
	}
	return nil
}

// node is a single regression-tree node. Leaves carry the mean target of
// the samples that reached them.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	leaf      bool
	value     float64
}

// Forest is a trained ensemble of regression trees.
type Forest struct {
	params   Params
	trees    []*node
	features int
}

// Train fits a random forest on the given feature matrix and targets.
// Every row of features must have the same length. Trees are trained on
// bootstrap samples in parallel, with one deterministic random source
// per tree.
func Train(features [][]float64, targets []float64, params Params) (*Forest, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	n := len(features)
	if n == 0 {
		return nil, fmt.Errorf("training set is empty")
	}
	if len(targets) != n {
		return nil, fmt.Errorf("feature rows (%d) and targets (%d) differ in length", n, len(targets))
	}
	nFeatures := len(features[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("feature row %d has %d columns, expected %d", i, len(row), nFeatures)
		}
	}
	if n < params.MinSamplesLeaf {
		return nil, fmt.Errorf("training set has %d samples, fewer than minSamplesLeaf=%d",
			n, params.MinSamplesLeaf)
	}

	f := &Forest{
		params:   params,
		trees:    make([]*node, params.NumTrees),
		features: nFeatures,
	}

	workers := params.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > params.NumTrees {
		workers = params.NumTrees
	}

	jobs := make(chan int, params.NumTrees)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				// Seed per tree so scheduling cannot change the result.
				rng := rand.New(rand.NewSource(params.Seed + int64(t)*7919))
				f.trees[t] = f.buildTree(features, targets, bootstrap(n, rng), 0, rng)
			}
		}()
	}
	for t := 0; t < params.NumTrees; t++ {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	return f, nil
}

// bootstrap draws n sample indices with replacement.
func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// maxFeatures resolves the per-split feature-sampling count.
func (f *Forest) maxFeatures() int {
	if f.params.MaxFeatures > 0 {
		if f.params.MaxFeatures > f.features {
			return f.features
		}
		return f.params.MaxFeatures
	}
	k := int(math.Ceil(math.Sqrt(float64(f.features))))
	if k < 1 {
		k = 1
	}
	return k
}

// buildTree grows one regression tree on the sample indices idx.
func (f *Forest) buildTree(features [][]float64, targets []float64, idx []int, depth int, rng *rand.Rand) *node {
	mean, variance := meanVariance(targets, idx)

	if len(idx) < f.params.MinSamplesSplit ||
		(f.params.MaxDepth > 0 && depth >= f.params.MaxDepth) ||
		variance == 0 {
		return &node{leaf: true, value: mean}
	}

	feature, threshold, ok := f.bestSplit(features, targets, idx, rng)
	if !ok {
		return &node{leaf: true, value: mean}
	}

	var left, right []int
	for _, i := range idx {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < f.params.MinSamplesLeaf || len(right) < f.params.MinSamplesLeaf {
		return &node{leaf: true, value: mean}
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      f.buildTree(features, targets, left, depth+1, rng),
		right:     f.buildTree(features, targets, right, depth+1, rng),
	}
}

// bestSplit searches a random feature subset for the split with the
// lowest weighted child variance. It returns ok=false when no split
// satisfies the leaf-size constraint.
func (f *Forest) bestSplit(features [][]float64, targets []float64, idx []int, rng *rand.Rand) (int, float64, bool) {
	candidates := rng.Perm(f.features)[:f.maxFeatures()]

	bestScore := math.Inf(1)
	bestFeature := -1
	bestThreshold := 0.0

	order := make([]int, len(idx))
	for _, feat := range candidates {
		copy(order, idx)
		sortByFeature(order, features, feat)

		// Prefix sums over the sorted order allow evaluating every
		// distinct threshold in one pass.
		var sumL, sumSqL float64
		sumR, sumSqR := 0.0, 0.0
		for _, i := range order {
			sumR += targets[i]
			sumSqR += targets[i] * targets[i]
		}

		nTotal := len(order)
		for k := 0; k < nTotal-1; k++ {
			y := targets[order[k]]
			sumL += y
			sumSqL += y * y
			sumR -= y
			sumSqR -= y * y

			vk := features[order[k]][feat]
			vnext := features[order[k+1]][feat]
			if vk == vnext {
				continue
			}
			nL := k + 1
			nR := nTotal - nL
			if nL < f.params.MinSamplesLeaf || nR < f.params.MinSamplesLeaf {
				continue
			}

			varL := sumSqL - sumL*sumL/float64(nL)
			varR := sumSqR - sumR*sumR/float64(nR)
			score := varL + varR
			if score < bestScore {
				bestScore = score
				bestFeature = feat
				bestThreshold = (vk + vnext) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// sortByFeature sorts sample indices by a feature column, insertion sort
// on small nodes and a simple quicksort otherwise.
func sortByFeature(idx []int, features [][]float64, feat int) {
	if len(idx) < 16 {
		for i := 1; i < len(idx); i++ {
			for j := i; j > 0 && features[idx[j]][feat] < features[idx[j-1]][feat]; j-- {
				idx[j], idx[j-1] = idx[j-1], idx[j]
			}
		}
		return
	}
	pivot := features[idx[len(idx)/2]][feat]
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		for features[idx[lo]][feat] < pivot {
			lo++
		}
		for features[idx[hi]][feat] > pivot {
			hi--
		}
		if lo <= hi {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			lo++
			hi--
		}
	}
	sortByFeature(idx[:hi+1], features, feat)
	sortByFeature(idx[lo:], features, feat)
}

// meanVariance returns the mean and (unnormalized comparison-safe)
// variance of the targets selected by idx.
func meanVariance(targets []float64, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, i := range idx {
		sum += targets[i]
		sumSq += targets[i] * targets[i]
	}
	n := float64(len(idx))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}

// Predict returns the ensemble prediction for one feature row.
func (f *Forest) Predict(row []float64) float64 {
	sum := 0.0
	for _, t := range f.trees {
		sum += predictTree(t, row)
	}
	return sum / float64(len(f.trees))
}

// PredictAll returns predictions for every row of the feature matrix.
func (f *Forest) PredictAll(features [][]float64) []float64 {
	out := make([]float64, len(features))
	for i, row := range features {
		out[i] = f.Predict(row)
	}
	return out
}

func predictTree(n *node, row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// NumTrees returns the number of trained trees.
func (f *Forest) NumTrees() int {
	return len(f.trees)
}
