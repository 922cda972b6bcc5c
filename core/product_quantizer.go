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
	"math/rand"

	"github.com/sjy-dv/jamovec/pkg/ftio"
	"github.com/sjy-dv/jamovec/pkg/gomath"
)

const (
	pqNBits     = 8
	pqKSub      = 1 << pqNBits
	pqMaxPoints = 256 * pqKSub
	pqSeed      = 1234
	pqNIter     = 25
	pqEps       = 1e-7
)

// ProductQuantizer splits dim coordinates into nsubq slices of width
// dsub (lastdsub for the final slice) and learns 256 centroids per
// slice, so each row compresses to nsubq code bytes.
type ProductQuantizer struct {
	dim      int
	nsubq    int
	dsub     int
	lastdsub int

	centroids []float32
	rng       *rand.Rand
}

func NewProductQuantizer(dim, dsub int) *ProductQuantizer {
	pq := &ProductQuantizer{
		dim:       dim,
		nsubq:     dim / dsub,
		dsub:      dsub,
		lastdsub:  dim % dsub,
		centroids: make([]float32, dim*pqKSub),
		rng:       rand.New(rand.NewSource(pqSeed)),
	}
	if pq.lastdsub == 0 {
		pq.lastdsub = dsub
	} else {
		pq.nsubq++
	}
	return pq
}

func (pq *ProductQuantizer) NSubq() int { return pq.nsubq }

// getCentroids returns the centroid block of sub-quantizer m starting
// at code i.
func (pq *ProductQuantizer) getCentroids(m int, i byte) []float32 {
	if m == pq.nsubq-1 {
		return pq.centroids[m*pqKSub*pq.dsub+int(i)*pq.lastdsub:]
	}
	return pq.centroids[(m*pqKSub+int(i))*pq.dsub:]
}

// assignCentroid writes the nearest centroid's code and returns its
// squared distance.
func (pq *ProductQuantizer) assignCentroid(x, c0 []float32, code []byte, d int) float32 {
	dis := gomath.SquaredL2(x, c0, d)
	code[0] = 0
	for j := 1; j < pqKSub; j++ {
		disij := gomath.SquaredL2(x, c0[j*d:], d)
		if disij < dis {
			code[0] = byte(j)
			dis = disij
		}
	}
	return dis
}

func (pq *ProductQuantizer) eStep(x, centroids []float32, codes []byte, d, n int) {
	for i := 0; i < n; i++ {
		pq.assignCentroid(x[i*d:], centroids, codes[i:], d)
	}
}

func (pq *ProductQuantizer) mStep(x0, centroids []float32, codes []byte, d, n int) {
	nelts := make([]int32, pqKSub)
	for i := 0; i < d*pqKSub; i++ {
		centroids[i] = 0
	}
	for i := 0; i < n; i++ {
		k := int(codes[i])
		c := centroids[k*d:]
		xi := x0[i*d:]
		for j := 0; j < d; j++ {
			c[j] += xi[j]
		}
		nelts[k]++
	}
	for k := 0; k < pqKSub; k++ {
		if z := float32(nelts[k]); z != 0 {
			c := centroids[k*d:]
			for j := 0; j < d; j++ {
				c[j] /= z
			}
		}
	}
	// empty-cluster repair: steal a heavy centroid picked by rejection
	// sampling weighted by cluster size, then split the pair apart by
	// an alternating +-eps perturbation
	for k := 0; k < pqKSub; k++ {
		if nelts[k] != 0 {
			continue
		}
		m := 0
		for pq.rng.Float64()*float64(n-pqKSub) >= float64(nelts[m]-1) {
			m = (m + 1) % pqKSub
		}
		copy(centroids[k*d:k*d+d], centroids[m*d:m*d+d])
		for j := 0; j < d; j++ {
			sign := float32((j%2)*2-1) * pqEps
			centroids[k*d+j] += sign
			centroids[m*d+j] -= sign
		}
		nelts[k] = nelts[m] / 2
		nelts[m] -= nelts[k]
	}
}

func (pq *ProductQuantizer) kmeans(x, c []float32, n, d int) {
	perm := pq.rng.Perm(n)
	for i := 0; i < pqKSub; i++ {
		copy(c[i*d:i*d+d], x[perm[i]*d:perm[i]*d+d])
	}
	codes := make([]byte, n)
	for i := 0; i < pqNIter; i++ {
		pq.eStep(x, c, codes, d, n)
		pq.mStep(x, c, codes, d, n)
	}
}

// Train fits every sub-quantizer over up to pqMaxPoints randomly
// permuted rows of data (n rows of width dim).
func (pq *ProductQuantizer) Train(n int, data []float32) error {
	if n < pqKSub {
		return ErrMatrixTooSmall
	}
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	d := pq.dsub
	np := gomath.MinInt(n, pqMaxPoints)
	xslice := make([]float32, np*pq.dsub)
	for m := 0; m < pq.nsubq; m++ {
		if m == pq.nsubq-1 {
			d = pq.lastdsub
		}
		if np != n {
			pq.rng.Shuffle(len(perm), func(i, j int) {
				perm[i], perm[j] = perm[j], perm[i]
			})
		}
		for j := 0; j < np; j++ {
			src := perm[j]*pq.dim + m*pq.dsub
			copy(xslice[j*d:j*d+d], data[src:src+d])
		}
		pq.kmeans(xslice, pq.getCentroids(m, 0), np, d)
	}
	return nil
}

// ComputeCode encodes one row of width dim into nsubq bytes.
func (pq *ProductQuantizer) ComputeCode(x []float32, code []byte) {
	d := pq.dsub
	for m := 0; m < pq.nsubq; m++ {
		if m == pq.nsubq-1 {
			d = pq.lastdsub
		}
		pq.assignCentroid(x[m*pq.dsub:], pq.getCentroids(m, 0), code[m:], d)
	}
}

// ComputeCodes encodes n rows.
func (pq *ProductQuantizer) ComputeCodes(data []float32, codes []byte, n int) {
	for i := 0; i < n; i++ {
		pq.ComputeCode(data[i*pq.dim:], codes[i*pq.nsubq:])
	}
}

// MulCode is alpha * <x, decode(codes[t])> without materializing the
// decoded row.
func (pq *ProductQuantizer) MulCode(x gomath.Vector, codes []byte, t int, alpha float32) float32 {
	var res float32
	d := pq.dsub
	code := codes[pq.nsubq*t:]
	for m := 0; m < pq.nsubq; m++ {
		c := pq.getCentroids(m, code[m])
		if m == pq.nsubq-1 {
			d = pq.lastdsub
		}
		for i := 0; i < d; i++ {
			res += x[m*pq.dsub+i] * c[i]
		}
	}
	return res * alpha
}

// AddCode accumulates alpha * decode(codes[t]) into x.
func (pq *ProductQuantizer) AddCode(x gomath.Vector, codes []byte, t int, alpha float32) {
	d := pq.dsub
	code := codes[pq.nsubq*t:]
	for m := 0; m < pq.nsubq; m++ {
		c := pq.getCentroids(m, code[m])
		if m == pq.nsubq-1 {
			d = pq.lastdsub
		}
		for i := 0; i < d; i++ {
			x[m*pq.dsub+i] += alpha * c[i]
		}
	}
}

func (pq *ProductQuantizer) Save(w *ftio.Writer) error {
	if err := w.WriteInt32(int32(pq.dim)); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(pq.nsubq)); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(pq.dsub)); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(pq.lastdsub)); err != nil {
		return err
	}
	return w.WriteFloat32s(pq.centroids)
}

func LoadProductQuantizer(r *ftio.Reader) (*ProductQuantizer, error) {
	pq := &ProductQuantizer{rng: rand.New(rand.NewSource(pqSeed))}
	var v int32
	var err error
	if v, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	pq.dim = int(v)
	if v, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	pq.nsubq = int(v)
	if v, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	pq.dsub = int(v)
	if v, err = r.ReadInt32(); err != nil {
		return nil, err
	}
	pq.lastdsub = int(v)
	pq.centroids = make([]float32, pq.dim*pqKSub)
	if err := r.ReadFloat32s(pq.centroids); err != nil {
		return nil, err
	}
	return pq, nil
}
