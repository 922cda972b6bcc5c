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

package gomath

import (
	"math"

	"github.com/viterin/vek/vek32"
)

const MaxFloat = float32(math.MaxFloat32)

// Vector is a dense float32 vector. Most heavy reductions route through
// vek32 which picks AVX2/NEON kernels at runtime.
type Vector []float32

func NewVector(size int) Vector {
	return make(Vector, size)
}

func (v Vector) Zero() {
	for i := range v {
		v[i] = 0
	}
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Scale multiplies every coordinate by a in place.
func (v Vector) Scale(a float32) {
	vek32.MulNumber_Inplace(v, a)
}

// Add accumulates src into v.
func (v Vector) Add(src Vector) {
	vek32.Add_Inplace(v, src)
}

// AddScaled accumulates a*src into v. vek has no fused axpy, the scalar
// loop keeps it allocation free on the training hot path.
func (v Vector) AddScaled(src Vector, a float32) {
	for i, x := range src {
		v[i] += a * x
	}
}

func (v Vector) Dot(other Vector) float32 {
	return vek32.Dot(v, other)
}

func (v Vector) Norm() float32 {
	return vek32.Norm(v)
}

// Normalize divides by the L2 norm. A zero vector stays zero.
func (v Vector) Normalize() {
	n := v.Norm()
	if n > 0 {
		vek32.DivNumber_Inplace(v, n)
	}
}

func Cosine(a, b Vector) float32 {
	return vek32.CosineSimilarity(a, b)
}

func Abs(x float32) float32 {
	return float32(math.Abs(float64(x)))
}

func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

func Log(x float32) float32 {
	return float32(math.Log(float64(x)))
}

func Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

func Min(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func Max(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SquaredL2 is the squared euclidean distance over the first d coordinates.
func SquaredL2(x, y []float32, d int) float32 {
	var dist float32
	for i := 0; i < d; i++ {
		tmp := x[i] - y[i]
		dist += tmp * tmp
	}
	return dist
}
