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

// Package config carries the training and quantization arguments. The
// integer codes of ModelName and LossName are part of the binary model
// format and must not change.
package config

import (
	"fmt"
	"os"
	"strconv"
)

type ModelName int32

const (
	ModelCBOW ModelName = 1
	ModelSG   ModelName = 2
	ModelSup  ModelName = 3
)

func (m ModelName) String() string {
	switch m {
	case ModelCBOW:
		return "cbow"
	case ModelSG:
		return "skipgram"
	case ModelSup:
		return "supervised"
	}
	return fmt.Sprintf("model(%d)", int32(m))
}

func ModelFromValue(v int32) (ModelName, error) {
	switch ModelName(v) {
	case ModelCBOW, ModelSG, ModelSup:
		return ModelName(v), nil
	}
	return 0, fmt.Errorf("unknown model enum value: %d", v)
}

func ModelFromName(s string) (ModelName, error) {
	switch s {
	case "cbow":
		return ModelCBOW, nil
	case "skipgram", "sg":
		return ModelSG, nil
	case "supervised", "sup":
		return ModelSup, nil
	}
	return 0, fmt.Errorf("unknown model name: %s", s)
}

type LossName int32

const (
	LossHS      LossName = 1
	LossNS      LossName = 2
	LossSoftmax LossName = 3
)

func (l LossName) String() string {
	switch l {
	case LossHS:
		return "hs"
	case LossNS:
		return "ns"
	case LossSoftmax:
		return "softmax"
	}
	return fmt.Sprintf("loss(%d)", int32(l))
}

func LossFromValue(v int32) (LossName, error) {
	switch LossName(v) {
	case LossHS, LossNS, LossSoftmax:
		return LossName(v), nil
	}
	return 0, fmt.Errorf("unknown loss enum value: %d", v)
}

func LossFromName(s string) (LossName, error) {
	switch s {
	case "hs":
		return LossHS, nil
	case "ns":
		return LossNS, nil
	case "softmax":
		return LossSoftmax, nil
	}
	return 0, fmt.Errorf("unknown loss name: %s", s)
}

// SubwordMode selects the Korean subword generator. It is a build/run
// knob, never persisted into model files.
type SubwordMode int

const (
	// SubwordClassic is the plain byte n-gram generator.
	SubwordClassic SubwordMode = iota
	// SubwordConsonants additionally hashes the vowel-stripped form of
	// every n-gram.
	SubwordConsonants
	// SubwordSyllableAblation additionally generates n-grams over word
	// variants where one syllable at a time has its vowels removed.
	SubwordSyllableAblation
	// SubwordAllCombination additionally generates n-grams over word
	// variants where one syllable at a time is removed entirely.
	SubwordAllCombination
)

func SubwordModeFromName(s string) (SubwordMode, error) {
	switch s {
	case "", "classic":
		return SubwordClassic, nil
	case "consonants":
		return SubwordConsonants, nil
	case "syllable-ablation":
		return SubwordSyllableAblation, nil
	case "all-combination":
		return SubwordAllCombination, nil
	}
	return 0, fmt.Errorf("unknown subword mode: %s", s)
}

// Args holds every tunable of the engine. Treat a built Args as
// immutable; Build validates and applies the supervised overrides.
type Args struct {
	Model ModelName
	Loss  LossName

	// dictionary
	MinCount      int
	MinCountLabel int
	WordNgrams    int
	Bucket        int
	Minn          int
	Maxn          int
	T             float64
	Label         string
	SubwordMode   SubwordMode

	// training
	LR           float64
	LRUpdateRate int
	Dim          int
	WS           int
	Epoch        int
	Neg          int
	Thread       int

	// quantization
	QOut   bool
	QNorm  bool
	DSub   int
	Cutoff int
}

// DefaultArgs mirrors the reference defaults.
func DefaultArgs() Args {
	return Args{
		Model:         ModelSG,
		Loss:          LossNS,
		MinCount:      1,
		MinCountLabel: 0,
		WordNgrams:    1,
		Bucket:        2_000_000,
		Minn:          6,
		Maxn:          12,
		T:             1e-4,
		Label:         "__label__",
		LR:            0.025,
		LRUpdateRate:  100,
		Dim:           300,
		WS:            5,
		Epoch:         5,
		Neg:           5,
		Thread:        12,
		DSub:          2,
		Cutoff:        0,
	}
}

func requirePositive(v int, name string) error {
	if v > 0 {
		return nil
	}
	return fmt.Errorf("the '%s' must be positive: %d", name, v)
}

func requireNotNegative(v int, name string) error {
	if v >= 0 {
		return nil
	}
	return fmt.Errorf("the '%s' must not be negative: %d", name, v)
}

// Build validates the arguments and applies the model-dependent
// overrides: supervised forces softmax / minCount=1 / no char n-grams /
// lr=0.1, and a configuration with neither word n-grams nor char n-grams
// needs no bucket space at all.
func (a Args) Build() (Args, error) {
	if err := a.validate(); err != nil {
		return Args{}, err
	}
	if a.Model == ModelSup {
		a.Loss = LossSoftmax
		a.MinCount = 1
		a.Minn = 0
		a.Maxn = 0
		a.LR = 0.1
	}
	if a.WordNgrams <= 1 && a.Maxn == 0 {
		a.Bucket = 0
	}
	return a, nil
}

func (a Args) validate() error {
	checks := []error{
		requirePositive(a.Dim, "dim"),
		requirePositive(a.WS, "ws"),
		requirePositive(a.Epoch, "epoch"),
		requirePositive(a.MinCount, "minCount"),
		requireNotNegative(a.MinCountLabel, "minCountLabel"),
		requirePositive(a.Neg, "neg"),
		requirePositive(a.WordNgrams, "wordNgrams"),
		requireNotNegative(a.Bucket, "bucket"),
		requireNotNegative(a.Minn, "minn"),
		requireNotNegative(a.Maxn, "maxn"),
		requirePositive(a.LRUpdateRate, "lrUpdateRate"),
		requireNotNegative(a.Thread, "thread"),
		requirePositive(a.DSub, "dsub"),
		requireNotNegative(a.Cutoff, "cutoff"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if a.LR <= 0 {
		return fmt.Errorf("the 'lr' must be positive: %g", a.LR)
	}
	if a.T <= 0 {
		return fmt.Errorf("the 't' must be positive: %g", a.T)
	}
	return nil
}

func (a Args) String() string {
	return fmt.Sprintf("{model=%s, loss=%s, minCount=%d, minCountLabel=%d, wordNgrams=%d, bucket=%d, "+
		"minn=%d, maxn=%d, t=%g, label='%s', lr=%g, lrUpdateRate=%d, dim=%d, ws=%d, epoch=%d, neg=%d, "+
		"thread=%d, qout=%t, qnorm=%t, dsub=%d, cutoff=%d}",
		a.Model, a.Loss, a.MinCount, a.MinCountLabel, a.WordNgrams, a.Bucket,
		a.Minn, a.Maxn, a.T, a.Label, a.LR, a.LRUpdateRate, a.Dim, a.WS, a.Epoch, a.Neg,
		a.Thread, a.QOut, a.QNorm, a.DSub, a.Cutoff)
}

// Parallel-activation thresholds. Off unless the environment opts in;
// goroutine fan-out inside vector ops rarely pays off at dim <= 300.
func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func ParallelDictionaryThreshold() int { return envInt("JAMOVEC_PARALLEL_DICTIONARY") }
func ParallelMatrixThreshold() int     { return envInt("JAMOVEC_PARALLEL_MATRIX") }
func ParallelVectorThreshold() int     { return envInt("JAMOVEC_PARALLEL_VECTOR") }
