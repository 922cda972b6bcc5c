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
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sjy-dv/jamovec/config"
)

// QuantizeOptions carries the quantization settings; LR, Epoch and
// Thread only matter when Retrain names a corpus file.
type QuantizeOptions struct {
	Cutoff  int
	DSub    int
	QNorm   bool
	QOut    bool
	Retrain string
	Epoch   int
	LR      float64
	Thread  int
}

// selectEmbeddings picks the cutoff input rows worth keeping: EOS
// first, then descending L2 norm, ties broken by id. The comparison is
// a total order on purpose; the reference sort predicate was not.
func (ft *FastText) selectEmbeddings(cutoff int) ([]int32, error) {
	norms, err := ft.model.Input().L2NormRow()
	if err != nil {
		return nil, err
	}
	eosID := ft.dict.GetID(EOS)
	idx := make([]int32, ft.model.Input().Rows())
	for i := range idx {
		idx[i] = int32(i)
	}
	sort.Slice(idx, func(a, b int) bool {
		i1, i2 := idx[a], idx[b]
		if i1 == eosID {
			return true
		}
		if i2 == eosID {
			return false
		}
		if norms[i1] != norms[i2] {
			return norms[i1] > norms[i2]
		}
		return i1 < i2
	})
	return idx[:cutoff], nil
}

// Quantize builds a product-quantized copy of a supervised model; the
// receiver is left untouched. With a positive cutoff the input rows
// are pruned to the highest-norm selection first, optionally followed
// by a retraining pass over the original corpus.
func (ft *FastText) Quantize(ctx context.Context, opts QuantizeOptions) (*FastText, error) {
	if ft.model.IsQuant() {
		return nil, ErrAlreadyQuantized
	}
	if ft.args.Model != config.ModelSup {
		return nil, ErrNotSupervised
	}
	qargs := ft.args
	qargs.QOut = opts.QOut
	qargs.QNorm = opts.QNorm
	qargs.DSub = opts.DSub
	qargs.Cutoff = opts.Cutoff

	qdict := ft.dict.Copy()
	output := ft.model.Output().Copy()
	var input *Matrix

	if opts.Cutoff > 0 && opts.Cutoff < ft.model.Input().Rows() {
		selected, err := ft.selectEmbeddings(opts.Cutoff)
		if err != nil {
			return nil, err
		}
		idx := qdict.Prune(selected)
		input = NewMatrix(len(idx), qargs.Dim)
		for i, id := range idx {
			copy(input.Row(i), ft.model.Input().Row(int(id)))
		}
		if opts.Retrain != "" {
			rargs := qargs
			if opts.Epoch > 0 {
				rargs.Epoch = opts.Epoch
			}
			if opts.LR > 0 {
				rargs.LR = opts.LR
			}
			if opts.Thread > 0 {
				rargs.Thread = opts.Thread
			}
			log.Info().Str("file", opts.Retrain).Msg("retraining pruned model")
			trainer, err := NewTrainer(rargs, opts.Retrain, qdict, input, output)
			if err != nil {
				return nil, err
			}
			model, err := trainer.Train(ctx)
			if err != nil {
				return nil, err
			}
			input = model.Input()
			output = model.Output()
		}
	} else {
		input = ft.model.Input().Copy()
	}

	qinput, err := QuantizeMatrix(input, qargs.DSub, qargs.QNorm)
	if err != nil {
		return nil, err
	}
	var qoutput *QMatrix
	if qargs.QOut {
		// the output matrix is narrow, a 2-wide sub-quantizer is enough
		if qoutput, err = QuantizeMatrix(output, 2, qargs.QNorm); err != nil {
			return nil, err
		}
	}
	model := NewModel(input, output, qargs, 0)
	model.SetQuantizePointer(qinput, qoutput)
	if err := model.SetTargetCounts(qdict.GetCounts(EntryLabel)); err != nil {
		return nil, err
	}
	return newFastText(qargs, qdict, model, FileFormatVersion), nil
}
