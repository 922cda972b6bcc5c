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
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/ftio"
)

// Trainer drives parallel SGD over a file shard per worker. Workers
// share the input/output matrices with no locks (Hogwild); only the
// global token counter is synchronized.
type Trainer struct {
	args   config.Args
	file   string
	size   int64
	dict   *Dictionary
	input  *Matrix
	output *Matrix

	tokenCount atomic.Int64
	start      time.Time
	sink       Telemetry
}

func NewTrainer(args config.Args, file string, dict *Dictionary, input, output *Matrix) (*Trainer, error) {
	st, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if args.Thread < 1 {
		args.Thread = 1
	}
	return &Trainer{
		args:   args,
		file:   file,
		size:   st.Size(),
		dict:   dict,
		input:  input,
		output: output,
		sink:   NopTelemetry,
	}, nil
}

// SetTelemetry replaces the no-op sink.
func (t *Trainer) SetTelemetry(sink Telemetry) {
	if sink != nil {
		t.sink = sink
	}
}

func (t *Trainer) newModel(seed int64) (*Model, error) {
	m := NewModel(t.input, t.output, t.args, seed)
	var counts []int64
	if t.args.Model == config.ModelSup {
		counts = t.dict.GetCounts(EntryLabel)
	} else {
		counts = t.dict.GetCounts(EntryWord)
	}
	if err := m.SetTargetCounts(counts); err != nil {
		return nil, err
	}
	return m, nil
}

// Train runs the worker pool and returns the finalized model. On
// cancellation the partially trained matrices are discarded by the
// caller; nothing is persisted here.
func (t *Trainer) Train(ctx context.Context) (*Model, error) {
	t.start = time.Now()
	t.tokenCount.Store(0)
	log.Info().
		Int("threads", t.args.Thread).
		Bool("avx2", cpuid.CPU.AVX2()).
		Int64("tokens", t.dict.NTokens()).
		Msg("training start")

	if t.args.Thread <= 1 {
		if err := t.trainWorker(ctx, 0); err != nil {
			return nil, err
		}
	} else {
		eg, gctx := errgroup.WithContext(ctx)
		for id := 0; id < t.args.Thread; id++ {
			id := id
			eg.Go(func() error {
				return t.trainWorker(gctx, id)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}
	return t.newModel(0)
}

func (t *Trainer) trainWorker(ctx context.Context, id int) error {
	f, err := os.Open(t.file)
	if err != nil {
		return err
	}
	defer f.Close()
	in := ftio.NewSeekableReader(f)
	if err := in.Seek(int64(id) * t.size / int64(t.args.Thread)); err != nil {
		return err
	}
	model, err := t.newModel(int64(id))
	if err != nil {
		return err
	}
	epochTokens := int64(t.args.Epoch) * t.dict.NTokens()
	var localTokens int64
	var line, labels []int32
	for t.tokenCount.Load() < epochTokens {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := float64(t.tokenCount.Load()) / float64(epochTokens)
		lr := float32(t.args.LR * (1 - progress))
		lineStart := time.Now()
		switch t.args.Model {
		case config.ModelSup:
			n, err := t.dict.GetLineLabeled(in, &line, &labels)
			if err != nil {
				return err
			}
			localTokens += int64(n)
			if err := t.supervised(model, lr, line, labels); err != nil {
				return err
			}
		case config.ModelCBOW:
			n, err := t.dict.GetLineTokens(in, &line, model.Rand())
			if err != nil {
				return err
			}
			localTokens += int64(n)
			if err := t.cbow(model, lr, line); err != nil {
				return err
			}
		case config.ModelSG:
			n, err := t.dict.GetLineTokens(in, &line, model.Rand())
			if err != nil {
				return err
			}
			localTokens += int64(n)
			if err := t.skipgram(model, lr, line); err != nil {
				return err
			}
		}
		t.sink.Observe("train_line", time.Since(lineStart))
		if localTokens > int64(t.args.LRUpdateRate) {
			t.tokenCount.Add(localTokens)
			localTokens = 0
			if id == 0 {
				t.logProgress(progress, model.Loss())
			}
		}
	}
	if id == 0 {
		t.logProgress(1, model.Loss())
	}
	return nil
}

func (t *Trainer) logProgress(progress float64, loss float32) {
	elapsed := time.Since(t.start).Seconds()
	wst := float64(t.tokenCount.Load()) / elapsed / float64(t.args.Thread)
	lr := t.args.LR * (1 - progress)
	var eta time.Duration
	if progress > 0 {
		eta = time.Duration(elapsed / progress * (1 - progress) / float64(t.args.Thread) * float64(time.Second))
	}
	log.Debug().
		Float64("progress", progress*100).
		Float64("words_sec_thread", wst).
		Float64("lr", lr).
		Float32("loss", loss).
		Dur("eta", eta).
		Msg("training")
}

// supervised updates against one uniformly chosen label of the line.
func (t *Trainer) supervised(model *Model, lr float32, line, labels []int32) error {
	if len(labels) == 0 || len(line) == 0 {
		return nil
	}
	i := model.Rand().Intn(len(labels))
	return model.Update(line, labels[i], lr)
}

// cbow predicts each word from the bag of subwords of a sampled window
// around it.
func (t *Trainer) cbow(model *Model, lr float32, line []int32) error {
	var bow []int32
	for w := range line {
		boundary := 1 + model.Rand().Intn(t.args.WS)
		bow = bow[:0]
		for c := -boundary; c <= boundary; c++ {
			wc := w + c
			if c != 0 && wc >= 0 && wc < len(line) {
				bow = append(bow, t.dict.GetSubwords(line[wc])...)
			}
		}
		if err := model.Update(bow, line[w], lr); err != nil {
			return err
		}
	}
	return nil
}

// skipgram predicts each window word from the subwords of the center.
func (t *Trainer) skipgram(model *Model, lr float32, line []int32) error {
	for w := range line {
		boundary := 1 + model.Rand().Intn(t.args.WS)
		ngrams := t.dict.GetSubwords(line[w])
		for c := -boundary; c <= boundary; c++ {
			wc := w + c
			if c != 0 && wc >= 0 && wc < len(line) {
				if err := model.Update(ngrams, line[wc], lr); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
