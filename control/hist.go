// control/hist.go
// Author: momentics <momentics@gmail.com>
//
// Fixed log-bucket latency histogram for queue-wait sampling. Updates are
// lock-free so the wait loop can sample on every pop.

package control

import (
	"math"
	"sync/atomic"
	"time"
)

const histBuckets = 40

// Histogram accumulates latency samples into power-of-two nanosecond
// buckets: bucket i covers [2^i, 2^(i+1)) ns. Bucket 0 also takes 0 ns
// samples and the last bucket takes every sample from 2^39 ns up.
type Histogram struct {
	buckets [histBuckets]atomic.Uint64
	count   atomic.Uint64
	sumNS   atomic.Int64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{}
}

// Update records one sample given in seconds.
func (h *Histogram) Update(seconds float64) {
	if seconds < 0 || math.IsNaN(seconds) {
		return
	}
	ns := int64(seconds * float64(time.Second))
	h.UpdateNS(ns)
}

// UpdateNS records one sample given in nanoseconds.
func (h *Histogram) UpdateNS(ns int64) {
	if ns < 0 {
		return
	}
	idx := 0
	for v := uint64(ns); v > 1 && idx < histBuckets-1; v >>= 1 {
		idx++
	}
	h.buckets[idx].Add(1)
	h.count.Add(1)
	h.sumNS.Add(ns)
}

// Count returns the number of recorded samples.
func (h *Histogram) Count() uint64 { return h.count.Load() }

// MeanNS returns the mean sample in nanoseconds, 0 when empty.
func (h *Histogram) MeanNS() int64 {
	c := h.count.Load()
	if c == 0 {
		return 0
	}
	return h.sumNS.Load() / int64(c)
}

// Snapshot copies the bucket counters.
func (h *Histogram) Snapshot() []uint64 {
	out := make([]uint64, histBuckets)
	for i := range out {
		out[i] = h.buckets[i].Load()
	}
	return out
}
