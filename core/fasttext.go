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
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/ftio"
	"github.com/sjy-dv/jamovec/pkg/gomath"
	"github.com/sjy-dv/jamovec/pkg/queue"
)

const (
	// FileFormatMagic signs every model binary.
	FileFormatMagic int32 = 793_712_314
	// FileFormatVersion is the newest version this build writes and reads.
	FileFormatVersion int32 = 12

	findNNThreshold = 1e-8
	nnCacheSize     = 128
)

// FastText owns the dictionary, the matrices and a model bound to
// them. Public methods do not mutate state (the lazily built vector
// bank aside) and are safe for concurrent readers.
type FastText struct {
	args    config.Args
	dict    *Dictionary
	model   *Model
	version int32

	bankMu sync.Mutex
	bank   *Matrix // precomputed normalized word vectors, evictable

	nnCache *lru.Cache[string, []Neighbor]
}

// Neighbor is one nearest-neighbor answer.
type Neighbor struct {
	Word  string
	Score float32
}

func newFastText(args config.Args, dict *Dictionary, model *Model, version int32) *FastText {
	cache, _ := lru.New[string, []Neighbor](nnCacheSize)
	return &FastText{args: args, dict: dict, model: model, version: version, nnCache: cache}
}

func (ft *FastText) Args() config.Args       { return ft.args }
func (ft *FastText) Dictionary() *Dictionary { return ft.dict }
func (ft *FastText) Model() *Model           { return ft.model }
func (ft *FastText) Version() int32          { return ft.version }

// Train builds a model from a whitespace-tokenized corpus file.
// pretrained may name a .vec file seeding the input matrix.
func Train(ctx context.Context, args config.Args, file, pretrained string) (*FastText, error) {
	dict := NewDictionary(args)
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("input file cannot be opened: %w", err)
	}
	err = dict.ReadFrom(bufio.NewReaderSize(f, 1<<16))
	f.Close()
	if err != nil {
		return nil, err
	}
	if args.Model == config.ModelSup && dict.NLabels() == 0 {
		return nil, fmt.Errorf("no labels found in the training data")
	}
	var input *Matrix
	if pretrained != "" {
		if input, err = loadPretrainedInput(args, dict, pretrained); err != nil {
			return nil, err
		}
	} else {
		input = createInput(args, dict)
	}
	output := createOutput(args, dict)
	trainer, err := NewTrainer(args, file, dict, input, output)
	if err != nil {
		return nil, err
	}
	model, err := trainer.Train(ctx)
	if err != nil {
		return nil, err
	}
	return newFastText(args, dict, model, FileFormatVersion), nil
}

// createInput allocates the (nwords+bucket, dim) matrix initialized
// from U(-1/dim, 1/dim) with the fixed seed the reference uses.
func createInput(args config.Args, dict *Dictionary) *Matrix {
	res := NewMatrix(int(dict.NWords())+args.Bucket, args.Dim)
	res.Uniform(newRand(1), 1/float32(args.Dim))
	return res
}

func createOutput(args config.Args, dict *Dictionary) *Matrix {
	if args.Model == config.ModelSup {
		return NewMatrix(int(dict.NLabels()), args.Dim)
	}
	return NewMatrix(int(dict.NWords()), args.Dim)
}

// WordVector is the mean of the word's subword rows. Out-of-vocabulary
// words fall back to their hashed n-grams alone.
func (ft *FastText) WordVector(word string) gomath.Vector {
	res := gomath.NewVector(ft.args.Dim)
	ngrams := ft.dict.GetSubwordsOf(word)
	for _, id := range ngrams {
		ft.addInputVector(res, id)
	}
	if len(ngrams) > 0 {
		res.Scale(1 / float32(len(ngrams)))
	}
	return res
}

// SentenceVector embeds one line. Supervised models average the line
// representation and return the zero vector for an empty line; word
// models average the normalized word vectors.
func (ft *FastText) SentenceVector(line string) (gomath.Vector, error) {
	res := gomath.NewVector(ft.args.Dim)
	if ft.args.Model == config.ModelSup {
		words, _, err := ft.dict.GetLineString(line)
		if err != nil {
			return nil, err
		}
		if len(words) == 0 {
			return res, nil
		}
		for _, w := range words {
			ft.addInputVector(res, w)
		}
		res.Scale(1 / float32(len(words)))
		return res, nil
	}
	count := 0
	for _, word := range strings.Fields(line) {
		vec := ft.WordVector(word)
		if vec.Norm() > 0 {
			vec.Normalize()
			res.Add(vec)
			count++
		}
	}
	if count > 0 {
		res.Scale(1 / float32(count))
	}
	return res, nil
}

func (ft *FastText) addInputVector(vec gomath.Vector, id int32) {
	if ft.model.IsQuant() {
		ft.model.QInput().AddToVector(vec, int(id))
		return
	}
	vec.Add(ft.model.Input().Row(int(id)))
}

// vectorBank returns the normalized word-vector matrix, building it on
// first use. DropBank evicts it under memory pressure.
func (ft *FastText) vectorBank() *Matrix {
	ft.bankMu.Lock()
	defer ft.bankMu.Unlock()
	if ft.bank != nil {
		return ft.bank
	}
	log.Info().Int32("words", ft.dict.NWords()).Msg("pre-computing word vectors")
	bank := NewMatrix(int(ft.dict.NWords()), ft.args.Dim)
	fill := func(lo, hi int32) {
		for i := lo; i < hi; i++ {
			vec := ft.WordVector(ft.dict.GetWord(i))
			if n := vec.Norm(); n > 0 {
				bank.AddRow(vec, int(i), 1/n)
			}
		}
	}
	if threshold := config.ParallelMatrixThreshold(); threshold > 0 && int(ft.dict.NWords()) > threshold {
		var eg errgroup.Group
		workers := int32(8)
		chunk := (ft.dict.NWords() + workers - 1) / workers
		for w := int32(0); w < workers; w++ {
			lo := w * chunk
			hi := min(lo+chunk, ft.dict.NWords())
			eg.Go(func() error {
				fill(lo, hi)
				return nil
			})
		}
		_ = eg.Wait()
	} else {
		fill(0, ft.dict.NWords())
	}
	ft.bank = bank
	return bank
}

// DropBank releases the precomputed vector bank and the answer cache.
func (ft *FastText) DropBank() {
	ft.bankMu.Lock()
	ft.bank = nil
	ft.bankMu.Unlock()
	ft.nnCache.Purge()
}

func (ft *FastText) findNN(bank *Matrix, query gomath.Vector, k int, ban map[string]bool) ([]Neighbor, error) {
	queryNorm := query.Norm()
	if gomath.Abs(queryNorm) < findNNThreshold {
		queryNorm = 1
	}
	heap := queue.NewTopK(k + len(ban))
	for i := int32(0); i < ft.dict.NWords(); i++ {
		dp, err := bank.DotRow(query, int(i))
		if err != nil {
			return nil, err
		}
		heap.Offer(i, dp/queryNorm)
	}
	res := make([]Neighbor, 0, k)
	for _, item := range heap.Drain() {
		word := ft.dict.GetWord(item.ID)
		if ban[word] {
			continue
		}
		res = append(res, Neighbor{Word: word, Score: item.Score})
		if len(res) == k {
			break
		}
	}
	return res, nil
}

// NN returns the k nearest vocabulary words by cosine similarity,
// never including the query itself. Answers are cached until the bank
// is dropped.
func (ft *FastText) NN(k int, word string) ([]Neighbor, error) {
	if word == "" {
		return nil, fmt.Errorf("empty query word")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	cacheKey := fmt.Sprintf("%d\x00%s", k, word)
	if hit, ok := ft.nnCache.Get(cacheKey); ok {
		return hit, nil
	}
	res, err := ft.findNN(ft.vectorBank(), ft.WordVector(word), k, map[string]bool{word: true})
	if err != nil {
		return nil, err
	}
	ft.nnCache.Add(cacheKey, res)
	return res, nil
}

// Analogies answers a - b + c, excluding the three query words.
func (ft *FastText) Analogies(k int, a, b, c string) ([]Neighbor, error) {
	for _, w := range []string{a, b, c} {
		if w == "" {
			return nil, fmt.Errorf("empty query word")
		}
	}
	if k <= 0 {
		return nil, fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	query := gomath.NewVector(ft.args.Dim)
	query.Add(ft.WordVector(a))
	query.AddScaled(ft.WordVector(b), -1)
	query.Add(ft.WordVector(c))
	return ft.findNN(ft.vectorBank(), query, k, map[string]bool{a: true, b: true, c: true})
}

// NgramVector pairs one subword string with its vector.
type NgramVector struct {
	Ngram  string
	Vector gomath.Vector
}

// NgramVectors lists the word's subword strings with their vectors;
// the word itself comes first (zero vector when out of vocabulary).
func (ft *FastText) NgramVectors(word string) ([]NgramVector, error) {
	if word == "" {
		return nil, fmt.Errorf("empty word")
	}
	ids, substrings := ft.dict.GetSubwordsMap(word)
	res := make([]NgramVector, 0, len(ids))
	for i, id := range ids {
		vec := gomath.NewVector(ft.args.Dim)
		if id >= 0 {
			ft.addInputVector(vec, id)
		}
		res = append(res, NgramVector{Ngram: substrings[i], Vector: vec})
	}
	return res, nil
}

// LabelScore pairs a label with a probability.
type LabelScore struct {
	Label string
	Prob  float32
}

// PredictLine classifies one line into its k most likely labels,
// highest probability first.
func (ft *FastText) PredictLine(line string, k int) ([]LabelScore, error) {
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	words, _, err := ft.dict.GetLineString(line)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, nil
	}
	hidden := gomath.NewVector(ft.args.Dim)
	out := gomath.NewVector(ft.model.OutputSize())
	preds, err := ft.model.PredictWith(words, k, hidden, out)
	if err != nil {
		return nil, err
	}
	return ft.toLabelScores(preds)
}

func (ft *FastText) toLabelScores(preds []Prediction) ([]LabelScore, error) {
	res := make([]LabelScore, 0, len(preds))
	for _, p := range preds {
		label, err := ft.dict.GetLabel(p.Label)
		if err != nil {
			return nil, err
		}
		res = append(res, LabelScore{Label: label, Prob: gomath.Exp(p.Score)})
	}
	return res, nil
}

// Predict streams k-label predictions for every line of in.
func (ft *FastText) Predict(in io.Reader, k int, fn func([]LabelScore) error) error {
	if k <= 0 {
		return fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	reader := ftio.NewSeekableReader(ftio.AsReadSeeker(in))
	hidden := gomath.NewVector(ft.args.Dim)
	out := gomath.NewVector(ft.model.OutputSize())
	var words, labels []int32
	for !reader.End() {
		n, err := ft.dict.GetLineLabeled(reader, &words, &labels)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if len(words) == 0 {
			continue
		}
		preds, err := ft.model.PredictWith(words, k, hidden, out)
		if err != nil {
			return err
		}
		scores, err := ft.toLabelScores(preds)
		if err != nil {
			return err
		}
		if err := fn(scores); err != nil {
			return err
		}
	}
	return nil
}

// TestInfo aggregates evaluation counters.
type TestInfo struct {
	K         int
	Precision float64
	Examples  int
	Labels    int
}

func (ti TestInfo) PrecisionAtK() float64 {
	if ti.Examples == 0 {
		return 0
	}
	return ti.Precision / float64(ti.K*ti.Examples)
}

func (ti TestInfo) RecallAtK() float64 {
	if ti.Labels == 0 {
		return 0
	}
	return ti.Precision / float64(ti.Labels)
}

func (ti TestInfo) String() string {
	return fmt.Sprintf("N\t%d\nP@%d: %.3f\nR@%d: %.3f\nNumber of examples: %d",
		ti.Examples, ti.K, ti.PrecisionAtK(), ti.K, ti.RecallAtK(), ti.Examples)
}

// Test evaluates precision/recall at k over a labeled stream.
func (ft *FastText) Test(in io.Reader, k int) (TestInfo, error) {
	if k <= 0 {
		return TestInfo{}, fmt.Errorf("k needs to be 1 or higher: %d", k)
	}
	info := TestInfo{K: k}
	reader := ftio.NewSeekableReader(ftio.AsReadSeeker(in))
	hidden := gomath.NewVector(ft.args.Dim)
	out := gomath.NewVector(ft.model.OutputSize())
	var words, labels []int32
	for !reader.End() {
		n, err := ft.dict.GetLineLabeled(reader, &words, &labels)
		if err != nil {
			return info, err
		}
		if n == 0 {
			break
		}
		if len(labels) == 0 || len(words) == 0 {
			continue
		}
		preds, err := ft.model.PredictWith(words, k, hidden, out)
		if err != nil {
			return info, err
		}
		for _, p := range preds {
			for _, l := range labels {
				if p.Label == l {
					info.Precision++
					break
				}
			}
		}
		info.Examples++
		info.Labels += len(labels)
	}
	return info, nil
}

// WordSimilarity is the cosine similarity of two word vectors.
func (ft *FastText) WordSimilarity(a, b string) float64 {
	va := ft.WordVector(a)
	vb := ft.WordVector(b)
	if va.Norm() == 0 || vb.Norm() == 0 {
		return 0
	}
	return float64(gomath.Cosine(va, vb))
}

// SentenceSimilarity is the cosine similarity of two sentence vectors.
func (ft *FastText) SentenceSimilarity(a, b string) (float64, error) {
	va, err := ft.SentenceVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := ft.SentenceVector(b)
	if err != nil {
		return 0, err
	}
	if va.Norm() == 0 || vb.Norm() == 0 {
		return 0, nil
	}
	return float64(gomath.Cosine(va, vb)), nil
}

// HwangSentenceSimilarity aligns every word of each sentence with its
// best match on the other side and averages the matched similarities
// over both directions.
func (ft *FastText) HwangSentenceSimilarity(a, b string) float64 {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	if len(aw) == 0 || len(bw) == 0 {
		return 0
	}
	var sims []float64
	direction := func(xs, ys []string) {
		for _, x := range xs {
			best := 0.0
			for _, y := range ys {
				if s := ft.WordSimilarity(x, y); s > best {
					best = s
				}
			}
			sims = append(sims, best)
		}
	}
	direction(aw, bw)
	direction(bw, aw)
	var sum float64
	for _, s := range sims {
		sum += s
	}
	return sum / float64(len(sims))
}

// SaveVectors writes the .vec text bank of all vocabulary words.
func (ft *FastText) SaveVectors(path string) error {
	return ft.writeVectors(path, int(ft.dict.NWords()),
		func(i int) string { return ft.dict.GetWord(int32(i)) },
		func(i int) gomath.Vector { return ft.WordVector(ft.dict.GetWord(int32(i))) })
}

// SaveOutput writes the output-side vectors. Refused on quantized
// models, which no longer carry dense output rows.
func (ft *FastText) SaveOutput(path string) error {
	if ft.model.IsQuant() {
		return fmt.Errorf("saving output is not supported for quantized models")
	}
	n := int(ft.dict.NWords())
	name := func(i int) string { return ft.dict.GetWord(int32(i)) }
	if ft.args.Model == config.ModelSup {
		n = int(ft.dict.NLabels())
		name = func(i int) string {
			label, _ := ft.dict.GetLabel(int32(i))
			return label
		}
	}
	return ft.writeVectors(path, n, name, func(i int) gomath.Vector {
		vec := gomath.NewVector(ft.args.Dim)
		vec.Add(ft.model.Output().Row(i))
		return vec
	})
}

func (ft *FastText) writeVectors(path string, lines int, word func(int) string, vector func(int) gomath.Vector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("can't write to %s: %w", path, err)
	}
	defer f.Close()
	log.Info().Str("path", path).Int("vectors", lines).Msg("saving vectors")
	w := bufio.NewWriterSize(f, 1<<16)
	fmt.Fprintf(w, "%d %d\n", lines, ft.args.Dim)
	for i := 0; i < lines; i++ {
		w.WriteString(word(i))
		for _, v := range vector(i) {
			w.WriteByte(' ')
			w.WriteString(ftio.FormatFloat(v))
		}
		w.WriteByte('\n')
	}
	return w.Flush()
}

// loadPretrainedInput seeds the input matrix from a .vec file; its
// dimensionality must match args.Dim.
func loadPretrainedInput(args config.Args, dict *Dictionary, path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pre-trained vectors file cannot be opened: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("empty pre-trained vectors file")
	}
	var n, dim int
	if _, err := fmt.Sscanf(sc.Text(), "%d %d", &n, &dim); err != nil {
		return nil, fmt.Errorf("wrong pre-trained vectors file: first line should contain 'n dim': %w", err)
	}
	if dim != args.Dim {
		return nil, fmt.Errorf("dimension of pretrained vectors does not match -dim option: found %d, expected %d", dim, args.Dim)
	}
	mat := NewMatrix(n, dim)
	words := make([]string, 0, n)
	for i := 0; i < n && sc.Scan(); i++ {
		fields := strings.Fields(sc.Text())
		if len(fields) < dim+1 {
			return nil, fmt.Errorf("wrong line in pre-trained vectors file: %q", sc.Text())
		}
		words = append(words, fields[0])
		for j := 0; j < dim; j++ {
			v, err := parseFloat(fields[j+1])
			if err != nil {
				return nil, err
			}
			mat.Set(i, j, v)
		}
	}
	res := createInput(args, dict)
	for i, w := range words {
		idx := dict.GetID(w)
		if idx < 0 || idx >= dict.NWords() {
			continue
		}
		copy(res.Row(int(idx)), mat.Row(i))
	}
	return res, nil
}

func parseFloat(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("bad float %q: %w", s, err)
	}
	if math.IsNaN(v) {
		return 0, ErrNaN
	}
	return float32(v), nil
}

// SortLabelScores orders by descending probability, then label.
func SortLabelScores(scores []LabelScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Prob != scores[j].Prob {
			return scores[i].Prob > scores[j].Prob
		}
		return scores[i].Label < scores[j].Label
	})
}
