package domain

// ClipPriceCents splits a batch's estimated cost evenly across its clips.
// Integer division leaves a remainder on the first variant so the per-clip
// prices always sum back to the estimate.
func ClipPriceCents(estimatedCostCents int64, batchSize, variantIndex int) int64 {
	if batchSize <= 0 {
		return 0
	}
	base := estimatedCostCents / int64(batchSize)
	if variantIndex == 0 {
		return base + estimatedCostCents%int64(batchSize)
	}
	return base
}

// RefundForClips sums the per-clip price of every clip index in refunded.
func RefundForClips(estimatedCostCents int64, batchSize int, refunded []int) int64 {
	var total int64
	for _, i := range refunded {
		total += ClipPriceCents(estimatedCostCents, batchSize, i)
	}
	return total
}

// ValidBatchSize reports whether the requested fan-out is allowed.
func ValidBatchSize(n int) bool { return n == 2 || n == 4 || n == 6 || n == 8 }
