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
	"io"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/ftio"
)

const (
	BOW = "<"
	EOW = ">"
	EOS = "</s>"

	// MaxVocabSize is the fixed capacity of the open-addressing table.
	MaxVocabSize = 30_000_000
	// MaxLineSize caps tokens consumed per training line.
	MaxLineSize = 1024

	wordNgramsFactor = 116_049_371

	readLogStep = 10_000_000
)

type EntryType byte

const (
	EntryWord EntryType = iota
	EntryLabel
)

func entryTypeFromValue(v byte) (EntryType, error) {
	if v > 1 {
		return 0, fmt.Errorf("unknown entry_type value: %d", v)
	}
	return EntryType(v), nil
}

// Entry is one vocabulary item. Subwords is populated once after
// thresholding: element 0 is the entry's own id, the rest are bucket
// ids in [nwords, nwords+bucket).
type Entry struct {
	Word     string
	Count    int64
	Type     EntryType
	Subwords []int32
}

// Dictionary maps tokens to ids and expands words into subword id
// lists. word2int is an open-addressed table over MaxVocabSize slots;
// only occupied slots are materialized, a missing key is the -1
// sentinel of the reference layout.
type Dictionary struct {
	words    []Entry
	word2int map[uint32]int32
	pdiscard []float32

	size    int32
	nwords  int32
	nlabels int32
	ntokens int64

	pruneIdx     map[int32]int32
	pruneIdxSize int64

	// snapshot of the Args fields the dictionary depends on
	model      config.ModelName
	label      string
	bucket     int
	minn       int
	maxn       int
	wordNgrams int
	t          float64
	mode       config.SubwordMode

	minCount      int
	minCountLabel int
}

func NewDictionary(args config.Args) *Dictionary {
	return &Dictionary{
		word2int:      make(map[uint32]int32),
		pruneIdx:      make(map[int32]int32),
		pruneIdxSize:  -1,
		model:         args.Model,
		label:         args.Label,
		bucket:        args.Bucket,
		minn:          args.Minn,
		maxn:          args.Maxn,
		wordNgrams:    args.WordNgrams,
		t:             args.T,
		mode:          args.SubwordMode,
		minCount:      args.MinCount,
		minCountLabel: args.MinCountLabel,
	}
}

// Hash is the 32-bit FNV-1a over the UTF-8 bytes. Bytes are
// sign-extended before the xor, matching the reference which feeds
// signed chars into uint32 arithmetic.
func Hash(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h = (h ^ uint32(int32(int8(s[i])))) * 16777619
	}
	return h
}

// find locates the slot for w: either the slot holding it or the first
// empty slot of its probe chain.
func (d *Dictionary) find(w string) uint32 {
	return d.findHash(w, Hash(w))
}

func (d *Dictionary) findHash(w string, h uint32) uint32 {
	slot := h % MaxVocabSize
	for {
		id, ok := d.word2int[slot]
		if !ok || d.words[id].Word == w {
			return slot
		}
		slot = (slot + 1) % MaxVocabSize
	}
}

// add records one token occurrence, creating the entry on first sight.
func (d *Dictionary) add(w string) {
	slot := d.find(w)
	d.ntokens++
	if id, ok := d.word2int[slot]; ok {
		d.words[id].Count++
		return
	}
	d.words = append(d.words, Entry{Word: w, Count: 1, Type: d.typeOf(w)})
	d.word2int[slot] = d.size
	d.size++
}

func (d *Dictionary) typeOf(w string) EntryType {
	if strings.HasPrefix(w, d.label) {
		return EntryLabel
	}
	return EntryWord
}

// GetID returns the entry index of w or -1.
func (d *Dictionary) GetID(w string) int32 {
	return d.getIDHash(w, Hash(w))
}

func (d *Dictionary) getIDHash(w string, h uint32) int32 {
	if id, ok := d.word2int[d.findHash(w, h)]; ok {
		return id
	}
	return -1
}

func (d *Dictionary) NWords() int32  { return d.nwords }
func (d *Dictionary) NLabels() int32 { return d.nlabels }
func (d *Dictionary) NTokens() int64 { return d.ntokens }
func (d *Dictionary) Size() int32    { return d.size }

func (d *Dictionary) GetWord(id int32) string {
	if id < 0 || id >= d.size {
		panic(fmt.Sprintf("word id %d out of range [0, %d)", id, d.size))
	}
	return d.words[id].Word
}

func (d *Dictionary) GetType(id int32) EntryType {
	if id < 0 || id >= d.size {
		panic(fmt.Sprintf("entry id %d out of range [0, %d)", id, d.size))
	}
	return d.words[id].Type
}

// GetLabel resolves a label id (0-based within the label block).
func (d *Dictionary) GetLabel(lid int32) (string, error) {
	if lid < 0 || lid >= d.nlabels {
		return "", fmt.Errorf("label id is out of range [0, %d]: %d", d.nlabels, lid)
	}
	return d.words[lid+d.nwords].Word, nil
}

// GetCounts collects entry counts of one type, in entry order.
func (d *Dictionary) GetCounts(t EntryType) []int64 {
	n := d.nwords
	if t == EntryLabel {
		n = d.nlabels
	}
	counts := make([]int64, 0, n)
	for i := range d.words {
		if d.words[i].Type == t {
			counts = append(counts, d.words[i].Count)
		}
	}
	return counts
}

func (d *Dictionary) IsPruned() bool {
	return d.pruneIdxSize >= 0
}

// GetSubwords returns the precomputed subword ids of an in-vocabulary
// word id.
func (d *Dictionary) GetSubwords(id int32) []int32 {
	if id < 0 || id >= d.nwords {
		panic(fmt.Sprintf("word id %d out of range [0, %d)", id, d.nwords))
	}
	return d.words[id].Subwords
}

// GetSubwordsOf computes the subwords for any token. In-vocabulary
// words reuse the precomputed list (which starts with the word's own
// id); out-of-vocabulary words hash their n-grams only.
func (d *Dictionary) GetSubwordsOf(word string) []int32 {
	if id := d.GetID(word); id >= 0 {
		return d.GetSubwords(id)
	}
	var ngrams []int32
	d.computeSubwords(BOW+word+EOW, func(id int32) {
		d.pushHash(&ngrams, id)
	}, nil)
	return ngrams
}

// GetSubwordsMap returns subword ids together with the generating
// strings, the word itself first (-1 when out of vocabulary).
func (d *Dictionary) GetSubwordsMap(word string) ([]int32, []string) {
	ngrams := make([]int32, 0, 8)
	substrings := make([]string, 0, 8)
	if id := d.GetID(word); id >= 0 {
		ngrams = append(ngrams, id)
		substrings = append(substrings, d.words[id].Word)
	} else {
		ngrams = append(ngrams, -1)
		substrings = append(substrings, word)
	}
	d.computeSubwords(BOW+word+EOW, func(id int32) {
		ngrams = append(ngrams, d.nwords+id)
	}, &substrings)
	return ngrams, substrings
}

// pushHash appends a bucket id, remapping through the prune table when
// the dictionary has been pruned.
func (d *Dictionary) pushHash(hashes *[]int32, id int32) {
	if d.pruneIdxSize == 0 || id < 0 {
		return
	}
	if d.pruneIdxSize > 0 {
		mapped, ok := d.pruneIdx[id]
		if !ok {
			return
		}
		id = mapped
	}
	*hashes = append(*hashes, d.nwords+id)
}

// initNgrams fills every entry's subword list. The entry's own id
// always comes first; EOS gets no character n-grams.
func (d *Dictionary) initNgrams() {
	threshold := config.ParallelDictionaryThreshold()
	if threshold > 0 && int(d.size) > threshold {
		var eg errgroup.Group
		workers := 8
		chunk := (int(d.size) + workers - 1) / workers
		for w := 0; w < workers; w++ {
			lo := w * chunk
			hi := lo + chunk
			if hi > int(d.size) {
				hi = int(d.size)
			}
			eg.Go(func() error {
				for i := lo; i < hi; i++ {
					d.initNgramsAt(int32(i))
				}
				return nil
			})
		}
		_ = eg.Wait()
		return
	}
	for i := int32(0); i < d.size; i++ {
		d.initNgramsAt(i)
	}
}

func (d *Dictionary) initNgramsAt(i int32) {
	e := &d.words[i]
	e.Subwords = e.Subwords[:0]
	e.Subwords = append(e.Subwords, i)
	if e.Word == EOS {
		return
	}
	d.computeSubwords(BOW+e.Word+EOW, func(id int32) {
		d.pushHash(&e.Subwords, id)
	}, nil)
}

// initTableDiscard computes the keep probabilities for subsampling.
func (d *Dictionary) initTableDiscard() {
	d.pdiscard = make([]float32, d.size)
	for i := int32(0); i < d.size; i++ {
		f := float64(d.words[i].Count) / float64(d.ntokens)
		d.pdiscard[i] = float32(math.Sqrt(d.t/f) + d.t/f)
	}
}

func (d *Dictionary) discard(id int32, rnd float64) bool {
	if id < 0 || id >= d.nwords {
		panic(fmt.Sprintf("word id %d out of range [0, %d)", id, d.nwords))
	}
	return d.model != config.ModelSup && rnd > float64(d.pdiscard[id])
}

// threshold drops entries below the per-type minimum, orders words
// before labels (descending count within each), and rebuilds word2int.
func (d *Dictionary) threshold(wordMin, labelMin int64) {
	kept := d.words[:0]
	for _, e := range d.words {
		if (e.Type == EntryWord && e.Count < wordMin) || (e.Type == EntryLabel && e.Count < labelMin) {
			continue
		}
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Type != kept[j].Type {
			return kept[i].Type < kept[j].Type
		}
		return kept[i].Count > kept[j].Count
	})
	d.words = kept
	d.word2int = make(map[uint32]int32, len(kept))
	d.size = 0
	d.nwords = 0
	d.nlabels = 0
	for i := range d.words {
		slot := d.find(d.words[i].Word)
		d.word2int[slot] = d.size
		d.size++
		switch d.words[i].Type {
		case EntryWord:
			d.nwords++
		case EntryLabel:
			d.nlabels++
		}
	}
}

// ReadFrom builds the vocabulary from a token stream. The table is
// progressively thresholded whenever it outgrows 75% of MaxVocabSize.
func (d *Dictionary) ReadFrom(r io.Reader) error {
	reader := ftio.NewWordReader(r)
	minThreshold := int64(1)
	for {
		word, err := reader.NextWord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		d.add(word)
		if d.ntokens%readLogStep == 0 {
			log.Debug().Int64("tokens", d.ntokens).Msg("reading vocabulary")
		}
		if float64(d.size) > 0.75*MaxVocabSize {
			minThreshold++
			d.threshold(minThreshold, minThreshold)
		}
	}
	d.threshold(int64(d.minCount), int64(d.minCountLabel))
	d.initTableDiscard()
	d.initNgrams()
	log.Info().
		Int64("tokens", d.ntokens).
		Int32("words", d.nwords).
		Int32("labels", d.nlabels).
		Msg("vocabulary ready")
	if d.size == 0 {
		return ErrEmptyVocabulary
	}
	return nil
}

// GetLineLabeled tokenizes one line for test/predict/supervised
// training: word subwords plus 0-based label ids plus hashed word
// n-grams. Returns the number of tokens consumed.
func (d *Dictionary) GetLineLabeled(in *ftio.SeekableReader, words, labels *[]int32) (int, error) {
	if err := in.Rewind(); err != nil {
		return 0, err
	}
	var wordHashes []int32
	ntokens := 0
	*words = (*words)[:0]
	*labels = (*labels)[:0]
	for {
		token, err := in.NextWord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ntokens, err
		}
		ntokens++
		h := Hash(token)
		wid := d.getIDHash(token, h)
		var t EntryType
		if wid < 0 {
			t = d.typeOf(token)
		} else {
			t = d.GetType(wid)
		}
		if t == EntryWord {
			d.addSubwords(words, token, wid)
			wordHashes = append(wordHashes, int32(h))
		} else if t == EntryLabel && wid >= 0 {
			*labels = append(*labels, wid-d.nwords)
		}
		if token == EOS {
			break
		}
	}
	d.addWordNgrams(words, wordHashes)
	return ntokens, nil
}

// GetLineString tokenizes a plain string through the labeled path.
func (d *Dictionary) GetLineString(line string) ([]int32, []int32, error) {
	in := ftio.NewSeekableReader(strings.NewReader(line + "\n"))
	var words, labels []int32
	if _, err := d.GetLineLabeled(in, &words, &labels); err != nil && err != io.EOF {
		return nil, nil, err
	}
	return words, labels, nil
}

// GetLineTokens tokenizes one line for sg/cbow training: in-vocabulary
// word ids with subsampling applied, capped at MaxLineSize tokens.
func (d *Dictionary) GetLineTokens(in *ftio.SeekableReader, words *[]int32, rng *rand.Rand) (int, error) {
	if err := in.Rewind(); err != nil {
		return 0, err
	}
	ntokens := 0
	*words = (*words)[:0]
	for {
		token, err := in.NextWord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ntokens, err
		}
		wid := d.getIDHash(token, Hash(token))
		if wid < 0 {
			continue
		}
		ntokens++
		if d.GetType(wid) == EntryWord && !d.discard(wid, rng.Float64()) {
			*words = append(*words, wid)
		}
		if ntokens > MaxLineSize || token == EOS {
			break
		}
	}
	return ntokens, nil
}

// addSubwords appends the representation of one token to the line.
func (d *Dictionary) addSubwords(line *[]int32, token string, wid int32) {
	if wid < 0 {
		// out of vocab
		d.computeSubwords(BOW+token+EOW, func(id int32) {
			d.pushHash(line, id)
		}, nil)
		return
	}
	if d.maxn <= 0 {
		// in vocab without subwords
		*line = append(*line, wid)
		return
	}
	*line = append(*line, d.GetSubwords(wid)...)
}

// addWordNgrams rolls a 64-bit hash over windows of up to wordNgrams
// consecutive token hashes. Token hashes enter sign-extended, matching
// the reference arithmetic.
func (d *Dictionary) addWordNgrams(line *[]int32, hashes []int32) {
	if d.wordNgrams <= 1 {
		return
	}
	for i := 0; i < len(hashes); i++ {
		h := uint64(int64(hashes[i]))
		for j := i + 1; j < len(hashes) && j < i+d.wordNgrams; j++ {
			h = h*wordNgramsFactor + uint64(int64(hashes[j]))
			d.pushHash(line, int32(h%uint64(d.bucket)))
		}
	}
}

// Prune rewrites the dictionary to the given id selection (words and
// ngram buckets), compacting word ids and remapping surviving buckets.
// Returns the reordered selection: sorted word ids then ngrams.
func (d *Dictionary) Prune(idx []int32) []int32 {
	var wordIds, ngrams []int32
	for _, id := range idx {
		if id < d.nwords {
			wordIds = append(wordIds, id)
		} else {
			ngrams = append(ngrams, id)
		}
	}
	sort.Slice(wordIds, func(i, j int) bool { return wordIds[i] < wordIds[j] })
	res := append([]int32{}, wordIds...)
	if len(ngrams) > 0 {
		for j, ngram := range ngrams {
			d.pruneIdx[ngram-d.nwords] = int32(j)
		}
		res = append(res, ngrams...)
	}
	d.pruneIdxSize = int64(len(d.pruneIdx))

	keep := roaring.New()
	for _, id := range wordIds {
		keep.Add(uint32(id))
	}
	d.word2int = make(map[uint32]int32, len(wordIds)+int(d.nlabels))
	j := int32(0)
	for i := int32(0); i < int32(len(d.words)); i++ {
		if d.GetType(i) != EntryLabel && !keep.Contains(uint32(i)) {
			continue
		}
		d.words[j] = d.words[i]
		d.word2int[d.find(d.words[j].Word)] = j
		j++
	}
	d.nwords = int32(len(wordIds))
	d.size = d.nwords + d.nlabels
	d.words = d.words[:d.size]
	d.initNgrams()
	return res
}

// Copy deep-copies the dictionary, used when quantization prunes a
// clone while the source model stays intact.
func (d *Dictionary) Copy() *Dictionary {
	res := &Dictionary{
		size:          d.size,
		nwords:        d.nwords,
		nlabels:       d.nlabels,
		ntokens:       d.ntokens,
		pruneIdxSize:  d.pruneIdxSize,
		model:         d.model,
		label:         d.label,
		bucket:        d.bucket,
		minn:          d.minn,
		maxn:          d.maxn,
		wordNgrams:    d.wordNgrams,
		t:             d.t,
		mode:          d.mode,
		minCount:      d.minCount,
		minCountLabel: d.minCountLabel,
	}
	res.words = make([]Entry, len(d.words))
	for i, e := range d.words {
		e.Subwords = append([]int32{}, e.Subwords...)
		res.words[i] = e
	}
	res.word2int = make(map[uint32]int32, len(d.word2int))
	for k, v := range d.word2int {
		res.word2int[k] = v
	}
	res.pruneIdx = make(map[int32]int32, len(d.pruneIdx))
	for k, v := range d.pruneIdx {
		res.pruneIdx[k] = v
	}
	res.pdiscard = append([]float32{}, d.pdiscard...)
	return res
}

// Save writes the dictionary section of the model binary.
func (d *Dictionary) Save(w *ftio.Writer) error {
	if err := w.WriteInt32(d.size); err != nil {
		return err
	}
	if err := w.WriteInt32(d.nwords); err != nil {
		return err
	}
	if err := w.WriteInt32(d.nlabels); err != nil {
		return err
	}
	if err := w.WriteInt64(d.ntokens); err != nil {
		return err
	}
	if err := w.WriteInt64(d.pruneIdxSize); err != nil {
		return err
	}
	for i := range d.words {
		e := &d.words[i]
		if err := w.WriteString(e.Word); err != nil {
			return err
		}
		if err := w.WriteInt64(e.Count); err != nil {
			return err
		}
		if err := w.WriteByte(byte(e.Type)); err != nil {
			return err
		}
	}
	// iteration order of the prune map is not defined; the loader keys
	// by value pairs so any order round-trips
	for k, v := range d.pruneIdx {
		if err := w.WriteInt32(k); err != nil {
			return err
		}
		if err := w.WriteInt32(v); err != nil {
			return err
		}
	}
	return nil
}

// LoadDictionary reads the dictionary section and rebuilds the derived
// tables.
func LoadDictionary(args config.Args, r *ftio.Reader) (*Dictionary, error) {
	d := NewDictionary(args)
	var err error
	if d.size, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if d.nwords, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if d.nlabels, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if d.ntokens, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if d.pruneIdxSize, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	d.words = make([]Entry, 0, d.size)
	d.word2int = make(map[uint32]int32, d.size)
	for i := int32(0); i < d.size; i++ {
		word, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		tb, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		t, err := entryTypeFromValue(tb)
		if err != nil {
			return nil, err
		}
		d.words = append(d.words, Entry{Word: word, Count: count, Type: t})
		d.word2int[d.find(word)] = i
	}
	for i := int64(0); i < d.pruneIdxSize; i++ {
		k, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadInt32()
		if err != nil {
			return nil, err
		}
		d.pruneIdx[k] = v
	}
	d.initTableDiscard()
	d.initNgrams()
	return d, nil
}
