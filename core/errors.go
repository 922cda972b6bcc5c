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

import "errors"

var (
	// ErrWrongFormat signals a bad magic number or an unsupported
	// version in a model file.
	ErrWrongFormat = errors.New("model file has wrong format")

	// ErrEmptyVocabulary is returned when thresholding leaves no entry.
	ErrEmptyVocabulary = errors.New("empty vocabulary, try a smaller -minCount value")

	// ErrNaN reports a NaN inside a matrix reduction; the matrix is
	// corrupted and the operation must not continue.
	ErrNaN = errors.New("encountered NaN")

	// ErrAlreadyQuantized rejects quantizing a quantized model.
	ErrAlreadyQuantized = errors.New("model is already quantized")

	// ErrNotSupervised rejects supervised-only operations.
	ErrNotSupervised = errors.New("model needs to be supervised")

	// ErrUnsupportedOperation marks dense-matrix operations invoked on
	// a quantized matrix.
	ErrUnsupportedOperation = errors.New("operation is not supported on a quantized matrix")

	// ErrPrunedModel is raised when an unquantized input matrix is
	// paired with a pruned dictionary on load.
	ErrPrunedModel = errors.New("invalid model file: pruned dictionary with dense input")

	// ErrMatrixTooSmall rejects product quantization of fewer than 256 rows.
	ErrMatrixTooSmall = errors.New("matrix too small for quantization, must have at least 256 rows")
)
