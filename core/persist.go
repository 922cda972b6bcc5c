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
	"os"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/sjy-dv/jamovec/config"
	"github.com/sjy-dv/jamovec/pkg/ftio"
)

// saveArgs writes the Args header of the model binary.
func saveArgs(w *ftio.Writer, a config.Args) error {
	ints := []int32{
		int32(a.Dim), int32(a.WS), int32(a.Epoch), int32(a.MinCount),
		int32(a.Neg), int32(a.WordNgrams), int32(a.Loss), int32(a.Model),
		int32(a.Bucket), int32(a.Minn), int32(a.Maxn), int32(a.LRUpdateRate),
	}
	for _, v := range ints {
		if err := w.WriteInt32(v); err != nil {
			return err
		}
	}
	return w.WriteFloat64(a.T)
}

// loadArgs reads the Args header; fields absent from the binary keep
// their defaults.
func loadArgs(r *ftio.Reader) (config.Args, error) {
	a := config.DefaultArgs()
	read := func(dst *int) error {
		v, err := r.ReadInt32()
		if err != nil {
			return err
		}
		*dst = int(v)
		return nil
	}
	if err := read(&a.Dim); err != nil {
		return a, err
	}
	if err := read(&a.WS); err != nil {
		return a, err
	}
	if err := read(&a.Epoch); err != nil {
		return a, err
	}
	if err := read(&a.MinCount); err != nil {
		return a, err
	}
	if err := read(&a.Neg); err != nil {
		return a, err
	}
	if err := read(&a.WordNgrams); err != nil {
		return a, err
	}
	lossv, err := r.ReadInt32()
	if err != nil {
		return a, err
	}
	if a.Loss, err = config.LossFromValue(lossv); err != nil {
		return a, err
	}
	modelv, err := r.ReadInt32()
	if err != nil {
		return a, err
	}
	if a.Model, err = config.ModelFromValue(modelv); err != nil {
		return a, err
	}
	if err := read(&a.Bucket); err != nil {
		return a, err
	}
	if err := read(&a.Minn); err != nil {
		return a, err
	}
	if err := read(&a.Maxn); err != nil {
		return a, err
	}
	if err := read(&a.LRUpdateRate); err != nil {
		return a, err
	}
	if a.T, err = r.ReadFloat64(); err != nil {
		return a, err
	}
	return a, nil
}

// SaveModel writes the binary model (.bin, or .ftz when quantized) and
// its metadata sidecar. A flock on path + ".lock" keeps concurrent
// writers from interleaving.
func (ft *FastText) SaveModel(path string) error {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("model file is locked by another writer: %s", path)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(path + ".lock")
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("model file cannot be opened for saving: %w", err)
	}
	defer f.Close()
	log.Info().Str("path", path).Bool("quantized", ft.model.IsQuant()).Msg("saving model")

	w := ftio.NewWriter(f)
	if err := ft.save(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := ft.writeMeta(path); err != nil {
		// the sidecar is advisory, the model itself is already on disk
		log.Warn().Err(err).Msg("metadata sidecar not written")
	}
	return nil
}

func (ft *FastText) save(w *ftio.Writer) error {
	if err := w.WriteInt32(FileFormatMagic); err != nil {
		return err
	}
	if err := w.WriteInt32(FileFormatVersion); err != nil {
		return err
	}
	if err := saveArgs(w, ft.args); err != nil {
		return err
	}
	if err := ft.dict.Save(w); err != nil {
		return err
	}
	quant := ft.model.IsQuant()
	if err := w.WriteBool(quant); err != nil {
		return err
	}
	if quant {
		if err := ft.model.QInput().Save(w); err != nil {
			return err
		}
	} else {
		if err := ft.model.Input().Save(w); err != nil {
			return err
		}
	}
	if err := w.WriteBool(ft.args.QOut); err != nil {
		return err
	}
	if quant && ft.args.QOut {
		return ft.model.QOutput().Save(w)
	}
	return ft.model.Output().Save(w)
}

// LoadModel reads a model binary from disk.
func LoadModel(path string) (*FastText, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model file cannot be opened for loading: %w", err)
	}
	defer f.Close()
	ft, err := loadModel(ftio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if meta, err := readMeta(path); err == nil && meta != nil {
		log.Debug().Str("run_id", meta.RunID).Msg("model metadata loaded")
	}
	return ft, nil
}

// LoadModelFrom reads a model binary from any stream.
func LoadModelFrom(r io.Reader) (*FastText, error) {
	return loadModel(ftio.NewReader(r))
}

func loadModel(r *ftio.Reader) (*FastText, error) {
	magic, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if magic != FileFormatMagic {
		return nil, ErrWrongFormat
	}
	version, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if version > FileFormatVersion {
		return nil, ErrWrongFormat
	}
	args, err := loadArgs(r)
	if err != nil {
		return nil, err
	}
	if version == 11 && args.Model == config.ModelSup {
		// old supervised models carry no char n-grams
		args.Maxn = 0
	}
	dict, err := LoadDictionary(args, r)
	if err != nil {
		return nil, err
	}
	quant, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	var input *Matrix
	var qinput *QMatrix
	if quant {
		if qinput, err = LoadQMatrix(r); err != nil {
			return nil, err
		}
		input = &Matrix{}
	} else {
		if input, err = LoadMatrix(r); err != nil {
			return nil, err
		}
	}
	if !quant && dict.IsPruned() {
		return nil, ErrPrunedModel
	}
	if args.QOut, err = r.ReadBool(); err != nil {
		return nil, err
	}
	var output *Matrix
	var qoutput *QMatrix
	if quant && args.QOut {
		if qoutput, err = LoadQMatrix(r); err != nil {
			return nil, err
		}
		output = &Matrix{}
	} else {
		if output, err = LoadMatrix(r); err != nil {
			return nil, err
		}
	}
	model := NewModel(input, output, args, 0)
	if quant {
		model.SetQuantizePointer(qinput, qoutput)
	}
	var counts []int64
	if args.Model == config.ModelSup {
		counts = dict.GetCounts(EntryLabel)
	} else {
		counts = dict.GetCounts(EntryWord)
	}
	if err := model.SetTargetCounts(counts); err != nil {
		return nil, err
	}
	return newFastText(args, dict, model, version), nil
}
