package risk

import (
	"math"
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
)

// ForestParams controls random forest training.
type ForestParams struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	Seed            int64
	Workers         int
}

// Node is one split or leaf. Leaves have Feature == -1.
// Value is the class-weighted class distribution of the node's samples.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v"`
}

// Tree is a flattened CART tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a bagged ensemble of classification trees with soft voting.
type Forest struct {
	NumClasses  int    `json:"numClasses"`
	NumFeatures int    `json:"numFeatures"`
	Trees       []Tree `json:"trees"`
}

// FitForest trains a forest on rows X with class indices y in [0, numClasses).
// Class weights are balanced over y. Identical inputs and seed give an
// identical forest.
func FitForest(X [][]float64, y []int, numClasses int, p ForestParams) *Forest {
	if p.Trees <= 0 {
		p.Trees = 50
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = 5
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}

	f := &Forest{NumClasses: numClasses, Trees: make([]Tree, p.Trees)}
	if len(X) > 0 {
		f.NumFeatures = len(X[0])
	}
	classWeight := balancedWeights(y, numClasses)

	// Per-tree seeds are drawn up front so parallel training stays deterministic.
	rng := rand.New(rand.NewPCG(uint64(p.Seed), 0))
	seeds := make([]uint64, p.Trees)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	var g errgroup.Group
	g.SetLimit(p.Workers)
	for i := range f.Trees {
		g.Go(func() error {
			b := &treeBuilder{
				X:           X,
				y:           y,
				numClasses:  numClasses,
				classWeight: classWeight,
				maxDepth:    p.MaxDepth,
				minSplit:    p.MinSamplesSplit,
				mtry:        maxFeatures(f.NumFeatures),
				rng:         rand.New(rand.NewPCG(seeds[i], uint64(i))),
			}
			f.Trees[i] = b.build(b.bootstrap())
			return nil
		})
	}
	_ = g.Wait()
	return f
}

// PredictProba averages leaf distributions across trees.
func (f *Forest) PredictProba(x []float64) []float64 {
	out := make([]float64, f.NumClasses)
	if len(f.Trees) == 0 {
		return out
	}
	for _, t := range f.Trees {
		leaf := t.Nodes[t.leaf(x)]
		for c, v := range leaf.Value {
			out[c] += v
		}
	}
	for c := range out {
		out[c] /= float64(len(f.Trees))
	}
	return out
}

// Contributions returns per-feature path contributions toward class c,
// averaged across trees. Bias plus the sum of contributions equals the
// forest's probability for c.
func (f *Forest) Contributions(x []float64, c int) (bias float64, contrib []float64) {
	contrib = make([]float64, f.NumFeatures)
	if len(f.Trees) == 0 {
		return 0, contrib
	}
	for _, t := range f.Trees {
		i := 0
		bias += t.Nodes[0].Value[c]
		for t.Nodes[i].Feature >= 0 {
			n := t.Nodes[i]
			next := n.Right
			if x[n.Feature] <= n.Threshold {
				next = n.Left
			}
			contrib[n.Feature] += t.Nodes[next].Value[c] - n.Value[c]
			i = next
		}
	}
	k := float64(len(f.Trees))
	for j := range contrib {
		contrib[j] /= k
	}
	return bias / k, contrib
}

func (t Tree) leaf(x []float64) int {
	i := 0
	for t.Nodes[i].Feature >= 0 {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// balancedWeights gives each present class weight n / (k * n_c).
func balancedWeights(y []int, numClasses int) []float64 {
	counts := make([]int, numClasses)
	for _, c := range y {
		counts[c]++
	}
	present := 0
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}
	w := make([]float64, numClasses)
	for c, n := range counts {
		if n > 0 {
			w[c] = float64(len(y)) / (float64(present) * float64(n))
		}
	}
	return w
}

func maxFeatures(p int) int {
	m := int(math.Sqrt(float64(p)))
	if m < 1 {
		m = 1
	}
	return m
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	numClasses  int
	classWeight []float64
	maxDepth    int
	minSplit    int
	mtry        int
	rng         *rand.Rand
	nodes       []Node
}

func (b *treeBuilder) bootstrap() []int {
	idx := make([]int, len(b.X))
	for i := range idx {
		idx[i] = b.rng.IntN(len(b.X))
	}
	return idx
}

func (b *treeBuilder) build(samples []int) Tree {
	b.nodes = nil
	b.grow(samples, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for samples and returns its root index.
func (b *treeBuilder) grow(samples []int, depth int) int {
	dist, total := b.distribution(samples)
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: normalize(dist, total)})

	if depth >= b.maxDepth || len(samples) < b.minSplit || gini(dist, total) == 0 {
		return idx
	}
	feature, threshold, ok := b.bestSplit(samples, gini(dist, total))
	if !ok {
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.X[s][feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = threshold
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// bestSplit searches features in random order until mtry non-constant
// features have been examined.
func (b *treeBuilder) bestSplit(samples []int, parentImpurity float64) (int, float64, bool) {
	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := parentImpurity - 1e-12
	examined := 0

	order := make([]int, len(samples))
	for _, feature := range b.rng.Perm(len(b.X[0])) {
		if examined >= b.mtry {
			break
		}
		copy(order, samples)
		sort.SliceStable(order, func(i, j int) bool {
			return b.X[order[i]][feature] < b.X[order[j]][feature]
		})
		if b.X[order[0]][feature] == b.X[order[len(order)-1]][feature] {
			continue
		}
		examined++

		right, totalRight := b.distribution(order)
		left := make([]float64, b.numClasses)
		totalLeft := 0.0
		for i := 0; i < len(order)-1; i++ {
			w := b.classWeight[b.y[order[i]]]
			c := b.y[order[i]]
			left[c] += w
			right[c] -= w
			totalLeft += w
			totalRight -= w

			lo, hi := b.X[order[i]][feature], b.X[order[i+1]][feature]
			if lo == hi {
				continue
			}
			total := totalLeft + totalRight
			impurity := (totalLeft*gini(left, totalLeft) + totalRight*gini(right, totalRight)) / total
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = lo + (hi-lo)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (b *treeBuilder) distribution(samples []int) ([]float64, float64) {
	dist := make([]float64, b.numClasses)
	total := 0.0
	for _, s := range samples {
		w := b.classWeight[b.y[s]]
		dist[b.y[s]] += w
		total += w
	}
	return dist, total
}

func gini(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	g := 1.0
	for _, w := range dist {
		p := w / total
		g -= p * p
	}
	if g < 1e-12 {
		return 0
	}
	return g
}

func normalize(dist []float64, total float64) []float64 {
	out := make([]float64, len(dist))
	if total <= 0 {
		return out
	}
	for i, w := range dist {
		out[i] = w / total
	}
	return out
}
