// Licensed to sjy-dv under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. sjy-dv licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package core

import (
	"fmt"
	"math/rand"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/gomath"
	"github.com/sjy-dv/jamovec/pkg/queue"
)

const (
	sigmoidTableSize  = 512
	maxSigmoid        = 8
	logTableSize      = 512
	negativeTableSize = 10_000_000
)

// node is one Huffman tree slot; leaves occupy [0, osz), inner nodes
// [osz, 2*osz-1).
type node struct {
	parent int32
	left   int32
	right  int32
	count  int64
	binary bool
}

// Model runs the forward/backward pass for one worker. The input and
// output matrices are shared across workers; everything else (scratch
// vectors, rng, negatives cursor) is worker-local.
type Model struct {
	wi  *Matrix
	wo  *Matrix
	qwi *QMatrix
	qwo *QMatrix

	rng *rand.Rand

	hidden gomath.Vector
	output gomath.Vector
	grad   gomath.Vector

	osz       int
	loss      float32
	nexamples int64

	tSigmoid []float32
	tLog     []float32

	// negative sampling
	negatives []int32
	negpos    int

	// hierarchical softmax
	paths [][]int32
	codes [][]bool
	tree  []node

	model    config.ModelName
	lossName config.LossName
	dim      int
	neg      int
	qout     bool
}

func NewModel(wi, wo *Matrix, args config.Args, seed int64) *Model {
	m := &Model{
		wi:        wi,
		wo:        wo,
		rng:       rand.New(rand.NewSource(seed)),
		hidden:    gomath.NewVector(args.Dim),
		output:    gomath.NewVector(wo.Rows()),
		grad:      gomath.NewVector(args.Dim),
		osz:       wo.Rows(),
		nexamples: 1,
		model:     args.Model,
		lossName:  args.Loss,
		dim:       args.Dim,
		neg:       args.Neg,
		qout:      args.QOut,
	}
	m.initSigmoid()
	m.initLog()
	return m
}

// SetQuantizePointer attaches the quantized matrices; with qout the
// output side switches to the quantized row count.
func (m *Model) SetQuantizePointer(qwi, qwo *QMatrix) *Model {
	m.qwi = qwi
	m.qwo = qwo
	if m.qout && qwo != nil {
		m.osz = qwo.Rows()
		m.output = gomath.NewVector(m.osz)
	}
	return m
}

func (m *Model) IsQuant() bool {
	return m.qwi != nil
}

func (m *Model) Rand() *rand.Rand { return m.rng }

func (m *Model) Input() *Matrix    { return m.wi }
func (m *Model) Output() *Matrix   { return m.wo }
func (m *Model) QInput() *QMatrix  { return m.qwi }
func (m *Model) QOutput() *QMatrix { return m.qwo }

// SetTargetCounts prepares the loss-specific tables from per-class
// counts (labels for supervised, words otherwise).
func (m *Model) SetTargetCounts(counts []int64) error {
	if len(counts) != m.osz {
		return fmt.Errorf("target counts size %d does not match output size %d", len(counts), m.osz)
	}
	switch m.lossName {
	case config.LossNS:
		m.initTableNegatives(counts)
	case config.LossHS:
		m.buildTree(counts)
	}
	return nil
}

// binaryLogistic performs one logistic update against target and
// returns its loss contribution.
func (m *Model) binaryLogistic(target int32, label bool, lr float32) (float32, error) {
	dot, err := m.wo.DotRow(m.hidden, int(target))
	if err != nil {
		return 0, err
	}
	score := m.sigmoid(dot)
	lbl := float32(0)
	if label {
		lbl = 1
	}
	alpha := lr * (lbl - score)
	m.grad.AddScaled(m.wo.Row(int(target)), alpha)
	m.wo.AddRow(m.hidden, int(target), alpha)
	if label {
		return -m.log(score), nil
	}
	return -m.log(1 - score), nil
}

func (m *Model) negativeSampling(target int32, lr float32) (float32, error) {
	m.grad.Zero()
	var loss float32
	for n := 0; n <= m.neg; n++ {
		var l float32
		var err error
		if n == 0 {
			l, err = m.binaryLogistic(target, true, lr)
		} else {
			l, err = m.binaryLogistic(m.getNegative(target), false, lr)
		}
		if err != nil {
			return 0, err
		}
		loss += l
	}
	return loss, nil
}

func (m *Model) hierarchicalSoftmax(target int32, lr float32) (float32, error) {
	m.grad.Zero()
	var loss float32
	code := m.codes[target]
	path := m.paths[target]
	for i := range path {
		l, err := m.binaryLogistic(path[i], code[i], lr)
		if err != nil {
			return 0, err
		}
		loss += l
	}
	return loss, nil
}

// computeOutputSoftmax fills out with softmax probabilities over all
// classes, numerically stabilized by the max subtraction.
func (m *Model) computeOutputSoftmax(hidden, out gomath.Vector) error {
	for i := 0; i < m.osz; i++ {
		var dot float32
		var err error
		if m.IsQuant() && m.qout {
			dot, err = m.qwo.DotRow(hidden, i)
		} else {
			dot, err = m.wo.DotRow(hidden, i)
		}
		if err != nil {
			return err
		}
		out[i] = dot
	}
	max := out[0]
	for i := 1; i < m.osz; i++ {
		max = gomath.Max(max, out[i])
	}
	var z float32
	for i := 0; i < m.osz; i++ {
		out[i] = gomath.Exp(out[i] - max)
		z += out[i]
	}
	for i := 0; i < m.osz; i++ {
		out[i] /= z
	}
	return nil
}

func (m *Model) softmax(target int32, lr float32) (float32, error) {
	m.grad.Zero()
	if err := m.computeOutputSoftmax(m.hidden, m.output); err != nil {
		return 0, err
	}
	for i := 0; i < m.osz; i++ {
		label := float32(0)
		if int32(i) == target {
			label = 1
		}
		alpha := lr * (label - m.output[i])
		m.grad.AddScaled(m.wo.Row(i), alpha)
		m.wo.AddRow(m.hidden, i, alpha)
	}
	return -m.log(m.output[target]), nil
}

// computeHidden averages the (quantized) input rows of the ids.
func (m *Model) computeHidden(input []int32, hidden gomath.Vector) {
	hidden.Zero()
	for _, id := range input {
		if m.IsQuant() {
			m.qwi.AddToVector(hidden, int(id))
		} else {
			hidden.Add(m.wi.Row(int(id)))
		}
	}
	hidden.Scale(1 / float32(len(input)))
}

// Update runs one SGD step: forward over input, loss against target,
// then the gradient scatter back into the input rows. Training only.
func (m *Model) Update(input []int32, target int32, lr float32) error {
	if target < 0 || target >= int32(m.osz) {
		return fmt.Errorf("target %d out of range [0, %d)", target, m.osz)
	}
	if len(input) == 0 {
		return nil
	}
	m.computeHidden(input, m.hidden)
	var l float32
	var err error
	switch m.lossName {
	case config.LossNS:
		l, err = m.negativeSampling(target, lr)
	case config.LossHS:
		l, err = m.hierarchicalSoftmax(target, lr)
	default:
		l, err = m.softmax(target, lr)
	}
	if err != nil {
		return err
	}
	m.loss += l
	m.nexamples++
	if m.model == config.ModelSup {
		m.grad.Scale(1 / float32(len(input)))
	}
	for _, id := range input {
		m.wi.AddRow(m.grad, int(id), 1.0)
	}
	return nil
}

// Loss reports the running average loss of this worker.
func (m *Model) Loss() float32 {
	return m.loss / float32(m.nexamples)
}

// OutputSize is the number of output classes.
func (m *Model) OutputSize() int { return m.osz }

// Predict collects the k most probable classes as (log-probability,
// class) pairs, best first; ties break on the smaller class id. Uses
// the model's own scratch vectors, so it is not safe for concurrent
// callers; use PredictWith for that.
func (m *Model) Predict(input []int32, k int) ([]Prediction, error) {
	return m.PredictWith(input, k, m.hidden, m.output)
}

// PredictWith is Predict over caller-provided scratch vectors (length
// dim and OutputSize respectively).
func (m *Model) PredictWith(input []int32, k int, hidden, out gomath.Vector) ([]Prediction, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	if m.model != config.ModelSup {
		return nil, ErrNotSupervised
	}
	return m.predict(input, k, hidden, out)
}

// Prediction pairs a class id with its log-probability.
type Prediction struct {
	Label int32
	Score float32
}

func (m *Model) predict(input []int32, k int, hidden, out gomath.Vector) ([]Prediction, error) {
	heap := queue.NewTopK(k)
	m.computeHidden(input, hidden)
	if m.lossName == config.LossHS {
		if err := m.dfs(k, int32(2*m.osz-2), 0, heap, hidden); err != nil {
			return nil, err
		}
	} else {
		if err := m.findKBest(k, heap, hidden, out); err != nil {
			return nil, err
		}
	}
	items := heap.Drain()
	res := make([]Prediction, len(items))
	for i, it := range items {
		res[i] = Prediction{Label: it.ID, Score: it.Score}
	}
	return res, nil
}

func (m *Model) findKBest(k int, heap *queue.TopK, hidden, out gomath.Vector) error {
	if err := m.computeOutputSoftmax(hidden, out); err != nil {
		return err
	}
	for i := 0; i < m.osz; i++ {
		score := stdLog(out[i])
		if worst, full := heap.Worst(); full && score < worst {
			continue
		}
		heap.Offer(int32(i), score)
	}
	return nil
}

// dfs walks the Huffman tree accumulating log-probabilities, pruning
// any branch that cannot beat the current k-th best.
func (m *Model) dfs(k int, nodeID int32, score float32, heap *queue.TopK, hidden gomath.Vector) error {
	if worst, full := heap.Worst(); full && score < worst {
		return nil
	}
	nd := m.tree[nodeID]
	if nd.left == -1 && nd.right == -1 {
		heap.Offer(nodeID, score)
		return nil
	}
	var f float32
	var err error
	if m.IsQuant() && m.qout {
		f, err = m.qwo.DotRow(hidden, int(nodeID)-m.osz)
	} else {
		f, err = m.wo.DotRow(hidden, int(nodeID)-m.osz)
	}
	if err != nil {
		return err
	}
	f = 1 / (1 + gomath.Exp(-f))
	if err := m.dfs(k, nd.left, score+stdLog(1-f), heap, hidden); err != nil {
		return err
	}
	return m.dfs(k, nd.right, score+stdLog(f), heap, hidden)
}

// initTableNegatives spreads class ids over a 10M-entry table with
// frequency^0.5 weighting, then shuffles it once.
func (m *Model) initTableNegatives(counts []int64) {
	var z float64
	for _, c := range counts {
		z += sqrtInt(c)
	}
	m.negatives = m.negatives[:0]
	for i, cnt := range counts {
		c := sqrtInt(cnt) * negativeTableSize / z
		for j := 0; float64(j) < c; j++ {
			m.negatives = append(m.negatives, int32(i))
		}
	}
	m.rng.Shuffle(len(m.negatives), func(i, j int) {
		m.negatives[i], m.negatives[j] = m.negatives[j], m.negatives[i]
	})
}

func sqrtInt(c int64) float64 {
	return float64(gomath.Sqrt(float32(c)))
}

// getNegative walks the table circularly, skipping the positive class.
func (m *Model) getNegative(target int32) int32 {
	for {
		negative := m.negatives[m.negpos]
		m.negpos = (m.negpos + 1) % len(m.negatives)
		if negative != target {
			return negative
		}
	}
}

// buildTree constructs the Huffman coding tree over the class counts
// with the classic two-pointer merge: leaf descends over the sorted
// leaves, node ascends over freshly created inner nodes.
func (m *Model) buildTree(counts []int64) {
	total := 2*m.osz - 1
	m.tree = make([]node, total)
	for i := range m.tree {
		m.tree[i] = node{parent: -1, left: -1, right: -1, count: 1e15}
	}
	for i := 0; i < m.osz; i++ {
		m.tree[i].count = counts[i]
	}
	leaf := int32(m.osz - 1)
	nd := int32(m.osz)
	for i := m.osz; i < total; i++ {
		var mini [2]int32
		for j := 0; j < 2; j++ {
			if leaf >= 0 && m.tree[leaf].count < m.tree[nd].count {
				mini[j] = leaf
				leaf--
			} else {
				mini[j] = nd
				nd++
			}
		}
		m.tree[i].left = mini[0]
		m.tree[i].right = mini[1]
		m.tree[i].count = m.tree[mini[0]].count + m.tree[mini[1]].count
		m.tree[mini[0]].parent = int32(i)
		m.tree[mini[1]].parent = int32(i)
		m.tree[mini[1]].binary = true
	}
	m.paths = make([][]int32, 0, m.osz)
	m.codes = make([][]bool, 0, m.osz)
	for i := 0; i < m.osz; i++ {
		var path []int32
		var code []bool
		j := int32(i)
		for m.tree[j].parent != -1 {
			path = append(path, m.tree[j].parent-int32(m.osz))
			code = append(code, m.tree[j].binary)
			j = m.tree[j].parent
		}
		m.paths = append(m.paths, path)
		m.codes = append(m.codes, code)
	}
}

// initSigmoid tabulates sigma over [-maxSigmoid, maxSigmoid].
func (m *Model) initSigmoid() {
	m.tSigmoid = make([]float32, sigmoidTableSize+1)
	for i := 0; i <= sigmoidTableSize; i++ {
		x := float32(i*2*maxSigmoid)/sigmoidTableSize - maxSigmoid
		m.tSigmoid[i] = 1 / (1 + gomath.Exp(-x))
	}
}

func (m *Model) initLog() {
	m.tLog = make([]float32, logTableSize+1)
	for i := 0; i <= logTableSize; i++ {
		x := (float32(i) + 1e-5) / logTableSize
		m.tLog[i] = gomath.Log(x)
	}
}

func (m *Model) log(x float32) float32 {
	if x > 1.0 {
		return 0
	}
	return m.tLog[int64(x*logTableSize)]
}

func stdLog(x float32) float32 {
	return gomath.Log(x + 1e-5)
}

func (m *Model) sigmoid(x float32) float32 {
	if x < -maxSigmoid {
		return 0
	}
	if x > maxSigmoid {
		return 1
	}
	return m.tSigmoid[int64((x+maxSigmoid)*sigmoidTableSize/maxSigmoid/2)]
}
