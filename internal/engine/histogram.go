package engine

import "github.com/relgo/dbkernel/internal/storage"

// IntHistogram is an equi-width histogram over [Min, Max] used to estimate
// predicate selectivity without scanning the table at optimization time
// (§4.7).
type IntHistogram struct {
	buckets    []int64
	min, max   int64
	bucketW    int64 // width of each bucket, ceil((max-min+1)/numBuckets)
	ntups      int64
}

// NewIntHistogram builds an empty histogram over [min, max] with
// numBuckets equi-width buckets.
func NewIntHistogram(numBuckets int, min, max int64) *IntHistogram {
	if numBuckets < 1 {
		numBuckets = 1
	}
	width := (max - min + 1 + int64(numBuckets) - 1) / int64(numBuckets)
	if width < 1 {
		width = 1
	}
	return &IntHistogram{
		buckets: make([]int64, numBuckets),
		min:     min,
		max:     max,
		bucketW: width,
	}
}

func (h *IntHistogram) bucketOf(v int64) int {
	idx := int((v - h.min) / h.bucketW)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(h.buckets) {
		idx = len(h.buckets) - 1
	}
	return idx
}

// bucketRight returns the exclusive upper bound of bucket i's range.
func (h *IntHistogram) bucketRight(i int) int64 {
	right := h.min + int64(i+1)*h.bucketW
	if right > h.max+1 {
		right = h.max + 1
	}
	return right
}

// AddValue records one occurrence of v.
func (h *IntHistogram) AddValue(v int64) {
	if v < h.min || v > h.max {
		return
	}
	h.buckets[h.bucketOf(v)]++
	h.ntups++
}

// EstimateSelectivity returns the fraction of tuples expected to satisfy
// "field op v", given the distribution recorded so far.
func (h *IntHistogram) EstimateSelectivity(op storage.Op, v int64) float64 {
	if h.ntups == 0 {
		return 0
	}
	switch op {
	case storage.OpEquals:
		return h.estimateEquals(v)
	case storage.OpGreaterThan:
		return h.estimateGreaterThan(v)
	case storage.OpGreaterThanOrEq:
		return h.estimateGreaterThan(v-1)
	case storage.OpLessThan:
		return 1 - h.estimateGreaterThan(v-1)
	case storage.OpLessThanOrEq:
		return 1 - h.estimateGreaterThan(v)
	case storage.OpNotEquals:
		return 1 - h.estimateEquals(v)
	default:
		return 0
	}
}

func (h *IntHistogram) estimateEquals(v int64) float64 {
	if v < h.min || v > h.max {
		return 0
	}
	b := h.bucketOf(v)
	height := float64(h.buckets[b])
	return (height / float64(h.bucketW)) / float64(h.ntups)
}

func (h *IntHistogram) estimateGreaterThan(v int64) float64 {
	if v < h.min {
		return 1
	}
	if v >= h.max {
		return 0
	}
	b := h.bucketOf(v)
	right := h.bucketRight(b)
	fracInBucket := float64(right-v-1) / float64(h.bucketW)
	sel := fracInBucket * float64(h.buckets[b]) / float64(h.ntups)
	for i := b + 1; i < len(h.buckets); i++ {
		sel += float64(h.buckets[i]) / float64(h.ntups)
	}
	return sel
}
