package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClipPriceCents(t *testing.T) {
	// Even split.
	assert.Equal(t, int64(200), ClipPriceCents(400, 2, 0))
	assert.Equal(t, int64(200), ClipPriceCents(400, 2, 1))

	// Remainder lands on the first variant so prices sum to the estimate.
	assert.Equal(t, int64(101), ClipPriceCents(401, 4, 0))
	assert.Equal(t, int64(100), ClipPriceCents(401, 4, 3))

	var sum int64
	for i := 0; i < 6; i++ {
		sum += ClipPriceCents(1000, 6, i)
	}
	assert.Equal(t, int64(1000), sum)

	assert.Equal(t, int64(0), ClipPriceCents(400, 0, 0))
}

func TestRefundForClips(t *testing.T) {
	assert.Equal(t, int64(0), RefundForClips(400, 2, nil))
	assert.Equal(t, int64(200), RefundForClips(400, 2, []int{1}))
	assert.Equal(t, int64(400), RefundForClips(400, 2, []int{0, 1}))
	assert.Equal(t, int64(401), RefundForClips(401, 4, []int{0, 1, 2, 3}))
}

func TestValidBatchSize(t *testing.T) {
	for _, n := range []int{2, 4, 6, 8} {
		assert.True(t, ValidBatchSize(n), "size %d", n)
	}
	for _, n := range []int{0, 1, 3, 5, 7, 9, 16} {
		assert.False(t, ValidBatchSize(n), "size %d", n)
	}
}
