package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/gomath"
)

func newTestModel(t *testing.T, loss config.LossName, osz int, counts []int64) *Model {
	t.Helper()
	args := config.DefaultArgs()
	args.Dim = 4
	args.Neg = 2
	args.Loss = loss
	args.Model = config.ModelSup
	built, err := args.Build()
	require.NoError(t, err)
	built.Loss = loss // Build forces softmax for supervised

	wi := NewMatrix(20, built.Dim)
	wi.Uniform(newRand(1), 0.25)
	wo := NewMatrix(osz, built.Dim)
	m := NewModel(wi, wo, built, 3)
	require.NoError(t, m.SetTargetCounts(counts))
	return m
}

func TestSigmoidTable(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	assert.Equal(t, float32(0), m.sigmoid(-9))
	assert.Equal(t, float32(1), m.sigmoid(9))
	assert.InDelta(t, 0.5, float64(m.sigmoid(0)), 1e-2)
	// monotone over the table range
	assert.Less(t, m.sigmoid(-2), m.sigmoid(2))
}

func TestLogTable(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	assert.Equal(t, float32(0), m.log(1.5))
	assert.Less(t, m.log(0.1), float32(0))
	assert.Less(t, m.log(0.01), m.log(0.5))
}

func TestBuildTree(t *testing.T) {
	counts := []int64{40, 30, 20, 10}
	m := newTestModel(t, config.LossHS, len(counts), counts)
	require.Len(t, m.tree, 2*len(counts)-1)

	// the root aggregates every leaf count
	root := m.tree[len(m.tree)-1]
	assert.Equal(t, int64(100), root.count)
	assert.Equal(t, int32(-1), root.parent)

	// every leaf reaches the root and the most frequent class gets the
	// shortest (or tied) code
	for i := range counts {
		require.NotEmpty(t, m.paths[i])
		assert.Len(t, m.codes[i], len(m.paths[i]))
	}
	assert.LessOrEqual(t, len(m.codes[0]), len(m.codes[3]))

	// inner node ids in paths are relative to osz
	for _, path := range m.paths {
		for _, p := range path {
			assert.GreaterOrEqual(t, p, int32(0))
			assert.Less(t, p, int32(len(counts)-1))
		}
	}
}

func TestNegativesTable(t *testing.T) {
	counts := []int64{400, 100}
	m := newTestModel(t, config.LossNS, 2, counts)
	require.NotEmpty(t, m.negatives)

	freq := map[int32]int{}
	for _, id := range m.negatives {
		freq[id]++
	}
	// sqrt weighting: 400 vs 100 gives a 2:1 split
	assert.Greater(t, freq[0], freq[1])
	ratio := float64(freq[0]) / float64(freq[1])
	assert.InDelta(t, 2.0, ratio, 0.2)

	// the sampled negative never equals the positive class
	for i := 0; i < 1000; i++ {
		assert.NotEqual(t, int32(0), m.getNegative(0))
	}
}

func TestComputeOutputSoftmax(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 3, []int64{1, 1, 1})
	m.computeHidden([]int32{0, 1}, m.hidden)
	require.NoError(t, m.computeOutputSoftmax(m.hidden, m.output))
	var sum float32
	for i := 0; i < m.OutputSize(); i++ {
		assert.Greater(t, m.output[i], float32(0))
		sum += m.output[i]
	}
	assert.InDelta(t, 1.0, float64(sum), 1e-5)
}

func TestUpdateLearnsTargetClass(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	input := []int32{0, 1, 2}
	for i := 0; i < 200; i++ {
		require.NoError(t, m.Update(input, 0, 0.2))
	}
	preds, err := m.Predict(input, 2)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	// the trained class dominates
	assert.Equal(t, int32(0), preds[0].Label)
	assert.Greater(t, preds[0].Score, preds[1].Score)
}

func TestUpdateValidatesTarget(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	assert.Error(t, m.Update([]int32{0}, -1, 0.1))
	assert.Error(t, m.Update([]int32{0}, 2, 0.1))
	// empty input is a no-op
	assert.NoError(t, m.Update(nil, 0, 0.1))
}

func TestPredictValidation(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	_, err := m.Predict([]int32{0}, 0)
	assert.Error(t, err)

	args := config.DefaultArgs()
	args.Dim = 4
	built, err := args.Build()
	require.NoError(t, err)
	wi := NewMatrix(10, 4)
	wo := NewMatrix(5, 4)
	sg := NewModel(wi, wo, built, 0)
	_, err = sg.Predict([]int32{0}, 1)
	assert.ErrorIs(t, err, ErrNotSupervised)
}

func TestPredictHSMatchesTopClass(t *testing.T) {
	counts := []int64{10, 10, 10, 10}
	m := newTestModel(t, config.LossHS, 4, counts)
	input := []int32{1, 2}
	for i := 0; i < 300; i++ {
		require.NoError(t, m.Update(input, 2, 0.2))
	}
	preds, err := m.Predict(input, 4)
	require.NoError(t, err)
	require.NotEmpty(t, preds)
	assert.Equal(t, int32(2), preds[0].Label)
	// scores are log-probabilities, decreasing
	for i := 1; i < len(preds); i++ {
		assert.LessOrEqual(t, preds[i].Score, preds[i-1].Score)
		assert.LessOrEqual(t, preds[i].Score, float32(0.001))
	}
}

func TestHiddenIsAverage(t *testing.T) {
	m := newTestModel(t, config.LossSoftmax, 2, []int64{1, 1})
	hidden := gomath.NewVector(4)
	m.computeHidden([]int32{3, 7}, hidden)
	for j := 0; j < 4; j++ {
		want := (m.wi.At(3, j) + m.wi.At(7, j)) / 2
		assert.InDelta(t, float64(want), float64(hidden[j]), 1e-6)
	}
}
