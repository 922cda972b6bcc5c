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
	"math"
	"math/rand"

	"github.com/sjy-dv/jamovec/pkg/ftio"
	"github.com/sjy-dv/jamovec/pkg/gomath"
)

// Matrix is a dense row-major float32 table. During training it is
// written concurrently by every worker without synchronization; SGD
// tolerates the benign races (Hogwild) and the rows settle once the
// workers join.
type Matrix struct {
	rows int
	cols int
	data []float32
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func NewMatrix(m, n int) *Matrix {
	if m <= 0 || n <= 0 {
		panic(fmt.Sprintf("wrong matrix shape: %dx%d", m, n))
	}
	return &Matrix{rows: m, cols: n, data: make([]float32, m*n)}
}

func (m *Matrix) Rows() int { return m.rows }
func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) Row(i int) gomath.Vector {
	return gomath.Vector(m.data[i*m.cols : (i+1)*m.cols])
}

func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.cols+j]
}

func (m *Matrix) Set(i, j int, v float32) {
	m.data[i*m.cols+j] = v
}

func (m *Matrix) Copy() *Matrix {
	res := NewMatrix(m.rows, m.cols)
	copy(res.data, m.data)
	return res
}

func (m *Matrix) flat() []float32 {
	return m.data
}

// Uniform fills the matrix from U(-a, a) in strict row-major order so
// a fixed seed reproduces the same initialization.
func (m *Matrix) Uniform(rng *rand.Rand, a float32) {
	for i := range m.data {
		m.data[i] = -a + 2*a*rng.Float32()
	}
}

// AddRow accumulates a*vec into row i.
func (m *Matrix) AddRow(vec gomath.Vector, i int, a float32) {
	m.Row(i).AddScaled(vec, a)
}

// DotRow is the inner product of row i with vec. A NaN result means
// the matrix is corrupted and is surfaced as ErrNaN.
func (m *Matrix) DotRow(vec gomath.Vector, i int) (float32, error) {
	d := m.Row(i).Dot(vec)
	if math.IsNaN(float64(d)) {
		return 0, ErrNaN
	}
	return d, nil
}

// MultiplyRow scales each row i by scalars[i]; zero scalars leave the
// row untouched.
func (m *Matrix) MultiplyRow(scalars gomath.Vector) {
	for i := 0; i < m.rows && i < len(scalars); i++ {
		if scalars[i] != 0 {
			m.Row(i).Scale(scalars[i])
		}
	}
}

// DivideRow divides each row i by scalars[i]; zero scalars leave the
// row untouched.
func (m *Matrix) DivideRow(scalars gomath.Vector) {
	for i := 0; i < m.rows && i < len(scalars); i++ {
		if scalars[i] != 0 {
			m.Row(i).Scale(1 / scalars[i])
		}
	}
}

// L2NormRow returns the per-row euclidean norms.
func (m *Matrix) L2NormRow() (gomath.Vector, error) {
	norms := gomath.NewVector(m.rows)
	for i := 0; i < m.rows; i++ {
		n := m.Row(i).Norm()
		if math.IsNaN(float64(n)) {
			return nil, ErrNaN
		}
		norms[i] = n
	}
	return norms, nil
}

// Save writes i64 m, i64 n and the row-major payload.
func (m *Matrix) Save(w *ftio.Writer) error {
	if err := w.WriteInt64(int64(m.rows)); err != nil {
		return err
	}
	if err := w.WriteInt64(int64(m.cols)); err != nil {
		return err
	}
	return w.WriteFloat32s(m.data)
}

func LoadMatrix(r *ftio.Reader) (*Matrix, error) {
	rows, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	cols, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}
	res := NewMatrix(int(rows), int(cols))
	if err := r.ReadFloat32s(res.data); err != nil {
		return nil, err
	}
	return res, nil
}
