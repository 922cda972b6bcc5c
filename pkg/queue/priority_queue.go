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

package queue

import (
	"container/heap"
	"sort"
)

type Item struct {
	ID    int32
	Score float32
	Index int
}

// TopK keeps the k highest-scoring items. The heap root is the current
// worst candidate so a full queue evicts in O(log k). Equal scores prefer
// the smaller id, which makes result ordering stable.
type TopK struct {
	k     int
	items []*Item
}

func NewTopK(k int) *TopK {
	return &TopK{k: k, items: make([]*Item, 0, k+1)}
}

func (pq TopK) Len() int { return len(pq.items) }

func (pq TopK) Less(i, j int) bool {
	if pq.items[i].Score != pq.items[j].Score {
		return pq.items[i].Score < pq.items[j].Score
	}
	return pq.items[i].ID > pq.items[j].ID
}

func (pq TopK) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].Index = i
	pq.items[j].Index = j
}

func (pq *TopK) Push(x interface{}) {
	n := len(pq.items)
	item := x.(*Item)
	item.Index = n
	pq.items = append(pq.items, item)
}

func (pq *TopK) Pop() interface{} {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.items = old[0 : n-1]
	return item
}

// Worst returns the lowest retained score and true, or (0, false) while
// the queue still has room.
func (pq *TopK) Worst() (float32, bool) {
	if len(pq.items) < pq.k {
		return 0, false
	}
	return pq.items[0].Score, true
}

func (pq *TopK) Full() bool {
	return len(pq.items) >= pq.k
}

// Offer inserts the candidate and evicts the worst item when over capacity.
func (pq *TopK) Offer(id int32, score float32) {
	heap.Push(pq, &Item{ID: id, Score: score})
	if len(pq.items) > pq.k {
		heap.Pop(pq)
	}
}

// Drain empties the queue, best first. Ties break on ascending id.
func (pq *TopK) Drain() []*Item {
	out := make([]*Item, len(pq.items))
	copy(out, pq.items)
	pq.items = pq.items[:0]
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
