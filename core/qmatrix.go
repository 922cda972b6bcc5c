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
	"math"

	"github.com/sjy-dv/jamovec/pkg/ftio"
	"github.com/sjy-dv/jamovec/pkg/gomath"
)

// QMatrix is a product-quantized matrix: nsubq code bytes per row plus,
// with qnorm, one code byte per row for the L2 norm handled by a
// one-dimensional quantizer. Rows are never materialized; reads go
// through MulCode/AddCode. Dense mutations are unsupported by design.
type QMatrix struct {
	qnorm     bool
	rows      int
	cols      int
	codesize  int32
	codes     []byte
	normCodes []byte
	pq        *ProductQuantizer
	npq       *ProductQuantizer
}

// QuantizeMatrix compresses mat. With qnorm the rows are normalized
// first and their norms quantized separately, so the reconstruction is
// norm * unit-direction.
func QuantizeMatrix(mat *Matrix, dsub int, qnorm bool) (*QMatrix, error) {
	q := &QMatrix{
		qnorm:    qnorm,
		rows:     mat.Rows(),
		cols:     mat.Cols(),
		codesize: int32(mat.Rows() * ((mat.Cols() + dsub - 1) / dsub)),
	}
	if q.codesize > 0 {
		q.codes = make([]byte, q.codesize)
	}
	q.pq = NewProductQuantizer(q.cols, dsub)

	src := mat
	if qnorm {
		src = mat.Copy()
		norms, err := src.L2NormRow()
		if err != nil {
			return nil, err
		}
		src.DivideRow(norms)
		q.normCodes = make([]byte, q.rows)
		q.npq = NewProductQuantizer(1, 1)
		if err := q.npq.Train(q.rows, norms); err != nil {
			return nil, err
		}
		q.npq.ComputeCodes(norms, q.normCodes, q.rows)
	}
	if err := q.pq.Train(q.rows, src.flat()); err != nil {
		return nil, err
	}
	q.pq.ComputeCodes(src.flat(), q.codes, q.rows)
	return q, nil
}

func (q *QMatrix) Rows() int { return q.rows }
func (q *QMatrix) Cols() int { return q.cols }

func (q *QMatrix) rowNorm(i int) float32 {
	if !q.qnorm {
		return 1
	}
	return q.npq.getCentroids(0, q.normCodes[i])[0]
}

// AddToVector accumulates the decoded row i into x.
func (q *QMatrix) AddToVector(x gomath.Vector, i int) {
	q.pq.AddCode(x, q.codes, i, q.rowNorm(i))
}

// DotRow is the inner product of vec with the decoded row i.
func (q *QMatrix) DotRow(vec gomath.Vector, i int) (float32, error) {
	d := q.pq.MulCode(vec, q.codes, i, q.rowNorm(i))
	if math.IsNaN(float64(d)) {
		return 0, ErrNaN
	}
	return d, nil
}

func (q *QMatrix) Save(w *ftio.Writer) error {
	if err := w.WriteBool(q.qnorm); err != nil {
		return err
	}
	if err := w.WriteInt64(int64(q.rows)); err != nil {
		return err
	}
	if err := w.WriteInt64(int64(q.cols)); err != nil {
		return err
	}
	if err := w.WriteInt32(q.codesize); err != nil {
		return err
	}
	if err := w.WriteBytes(q.codes); err != nil {
		return err
	}
	if err := q.pq.Save(w); err != nil {
		return err
	}
	if !q.qnorm {
		return nil
	}
	if err := w.WriteBytes(q.normCodes); err != nil {
		return err
	}
	return q.npq.Save(w)
}

func LoadQMatrix(r *ftio.Reader) (*QMatrix, error) {
	q := &QMatrix{}
	var err error
	if q.qnorm, err = r.ReadBool(); err != nil {
		return nil, err
	}
	rows, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	cols, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	q.rows = int(rows)
	q.cols = int(cols)
	if q.codesize, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	if q.codes, err = r.ReadBytes(int(q.codesize)); err != nil {
		return nil, err
	}
	if q.pq, err = LoadProductQuantizer(r); err != nil {
		return nil, err
	}
	if q.qnorm {
		if q.normCodes, err = r.ReadBytes(q.rows); err != nil {
			return nil, err
		}
		if q.npq, err = LoadProductQuantizer(r); err != nil {
			return nil, err
		}
	}
	return q, nil
}
