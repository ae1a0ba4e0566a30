// Package gbm implements a gradient-boosted regression tree learner
// with a squared-error objective. Fitting is deterministic for a fixed
// seed: row and column subsampling draw from a seeded source, so the
// same data and hyperparameters always produce the same model.
package gbm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/indigoglass/nexus-forecast/internal/models"
)

// Algorithm names the learner in registry rows and artifacts.
const Algorithm = "gbt"

var errEmptyTrainingSet = errors.New("empty training set")

// Model is a fitted boosted ensemble. All fields serialize, so an
// artifact round-trips through Marshal/Unmarshal without loss.
type Model struct {
	Base         float64   `json:"base_prediction"`
	LearningRate float64   `json:"learning_rate"`
	NumFeatures  int       `json:"num_features"`
	Trees        []Tree    `json:"trees"`
	Gains        []float64 `json:"feature_gains"`
}

// Fit trains a boosted ensemble on the feature matrix x and targets y.
func Fit(x [][]float64, y []float64, hp models.Hyperparameters) (*Model, error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, errEmptyTrainingSet
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("feature rows %d != labels %d", len(x), len(y))
	}
	if hp.NumTrees <= 0 || hp.MaxDepth <= 0 || hp.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid hyperparameters: trees=%d depth=%d lr=%g",
			hp.NumTrees, hp.MaxDepth, hp.LearningRate)
	}

	numFeatures := len(x[0])
	rng := rand.New(rand.NewSource(hp.Seed))

	minLeaf := hp.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}

	m := &Model{
		Base:         meanOf(y),
		LearningRate: hp.LearningRate,
		NumFeatures:  numFeatures,
		Gains:        make([]float64, numFeatures),
	}

	preds := make([]float64, len(y))
	for i := range preds {
		preds[i] = m.Base
	}

	residuals := make([]float64, len(y))
	for t := 0; t < hp.NumTrees; t++ {
		for i := range y {
			residuals[i] = y[i] - preds[i]
		}

		rows := sampleIndices(rng, len(y), hp.Subsample)
		cols := sampleIndices(rng, numFeatures, hp.ColsampleByTree)

		b := &treeBuilder{
			x:              x,
			target:         residuals,
			maxDepth:       hp.MaxDepth,
			minSamplesLeaf: minLeaf,
			gains:          m.Gains,
		}
		b.build(rows, cols, 0)
		tree := Tree{Nodes: b.nodes}
		m.Trees = append(m.Trees, tree)

		for i := range preds {
			preds[i] += m.LearningRate * tree.predict(x[i])
		}
	}

	return m, nil
}

// Predict scores one ordered feature vector.
func (m *Model) Predict(x []float64) float64 {
	out := m.Base
	for i := range m.Trees {
		out += m.LearningRate * m.Trees[i].predict(x)
	}
	return out
}

// PredictBatch scores each row of x.
func (m *Model) PredictBatch(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.Predict(row)
	}
	return out
}

// Importances returns per-feature contribution scores normalized to sum
// to 1. A model whose trees never split (constant target) reports a
// uniform distribution.
func (m *Model) Importances() []float64 {
	out := make([]float64, len(m.Gains))
	var total float64
	for _, g := range m.Gains {
		total += g
	}
	if total <= 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i, g := range m.Gains {
		out[i] = g / total
	}
	return out
}

// Marshal serializes the model for the artifact store.
func (m *Model) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal restores a model from its artifact bytes.
func Unmarshal(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if m.NumFeatures <= 0 || len(m.Trees) == 0 {
		return nil, fmt.Errorf("decode model: malformed artifact (features=%d trees=%d)",
			m.NumFeatures, len(m.Trees))
	}
	return &m, nil
}

// sampleIndices draws a sorted fraction of [0, n) without replacement.
// frac outside (0, 1) keeps everything.
func sampleIndices(rng *rand.Rand, n int, frac float64) []int {
	if frac <= 0 || frac >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(math.Ceil(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)[:k]
	sort.Ints(perm)
	return perm
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
