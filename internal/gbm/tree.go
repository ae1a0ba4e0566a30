package gbm

import "sort"

// Node is one node of a regression tree, stored in a flat slice so the
// tree serializes cleanly. Feature == -1 marks a leaf.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is a depth-limited regression tree fit to residuals.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	x              [][]float64
	target         []float64
	maxDepth       int
	minSamplesLeaf int
	gains          []float64
	nodes          []Node
}

func (b *treeBuilder) build(idx []int, cols []int, depth int) int {
	if depth >= b.maxDepth || len(idx) < 2*b.minSamplesLeaf {
		return b.leaf(idx)
	}

	feature, threshold, gain, left, right := b.bestSplit(idx, cols)
	if feature < 0 {
		return b.leaf(idx)
	}
	b.gains[feature] += gain

	node := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: feature, Threshold: threshold})
	b.nodes[node].Left = b.build(left, cols, depth+1)
	b.nodes[node].Right = b.build(right, cols, depth+1)
	return node
}

func (b *treeBuilder) leaf(idx []int) int {
	var sum float64
	for _, i := range idx {
		sum += b.target[i]
	}
	value := 0.0
	if len(idx) > 0 {
		value = sum / float64(len(idx))
	}
	node := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: value})
	return node
}

// bestSplit scans the candidate feature columns for the threshold with
// the largest squared-error reduction, honoring the minimum leaf size.
// Returns feature -1 when no split improves on the parent.
func (b *treeBuilder) bestSplit(idx []int, cols []int) (feature int, threshold, gain float64, left, right []int) {
	feature = -1

	var parentSum, parentSq float64
	for _, i := range idx {
		parentSum += b.target[i]
		parentSq += b.target[i] * b.target[i]
	}
	n := float64(len(idx))
	parentSS := parentSq - parentSum*parentSum/n

	order := make([]int, len(idx))
	for _, f := range cols {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.x[order[a]][f] < b.x[order[c]][f] })

		var leftSum, leftSq float64
		for pos := 0; pos < len(order)-1; pos++ {
			i := order[pos]
			leftSum += b.target[i]
			leftSq += b.target[i] * b.target[i]

			// Cannot split between equal values.
			if b.x[order[pos]][f] == b.x[order[pos+1]][f] {
				continue
			}

			nl := float64(pos + 1)
			nr := n - nl
			if int(nl) < b.minSamplesLeaf || int(nr) < b.minSamplesLeaf {
				continue
			}

			rightSum := parentSum - leftSum
			rightSq := parentSq - leftSq
			leftSS := leftSq - leftSum*leftSum/nl
			rightSS := rightSq - rightSum*rightSum/nr
			g := parentSS - leftSS - rightSS
			if g > gain+1e-12 {
				gain = g
				feature = f
				threshold = (b.x[order[pos]][f] + b.x[order[pos+1]][f]) / 2
			}
		}
	}

	if feature < 0 {
		return -1, 0, 0, nil, nil
	}

	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return feature, threshold, gain, left, right
}
