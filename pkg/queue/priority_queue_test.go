package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopKKeepsBest(t *testing.T) {
	pq := NewTopK(3)
	for id, score := range map[int32]float32{0: 0.1, 1: 0.9, 2: 0.5, 3: 0.7, 4: 0.2} {
		pq.Offer(id, score)
	}
	items := pq.Drain()
	assert.Len(t, items, 3)
	assert.Equal(t, int32(1), items[0].ID)
	assert.Equal(t, int32(3), items[1].ID)
	assert.Equal(t, int32(2), items[2].ID)
}

func TestTopKTieBreakPrefersSmallerID(t *testing.T) {
	pq := NewTopK(2)
	pq.Offer(5, 1.0)
	pq.Offer(2, 1.0)
	pq.Offer(9, 1.0)
	items := pq.Drain()
	assert.Len(t, items, 2)
	assert.Equal(t, int32(2), items[0].ID)
	assert.Equal(t, int32(5), items[1].ID)
}

func TestWorst(t *testing.T) {
	pq := NewTopK(2)
	_, full := pq.Worst()
	assert.False(t, full)
	pq.Offer(1, 0.3)
	pq.Offer(2, 0.8)
	worst, full := pq.Worst()
	assert.True(t, full)
	assert.Equal(t, float32(0.3), worst)
	pq.Offer(3, 0.9)
	worst, _ = pq.Worst()
	assert.Equal(t, float32(0.8), worst)
}
