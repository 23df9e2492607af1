// Package analytics holds the per-minute enrichment functions. Every function
// is pure over finalized window accumulators and per-instrument trailing
// trackers, so each component degrades to nulls independently and can be
// tested without feed timing.
package analytics

import "sort"

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// RollingMedian tracks recent trade sizes across windows so the whale
// threshold adapts to the instrument's liquidity profile.
type RollingMedian struct {
	window int
	sizes  []float64
	next   int
	full   bool
}

// NewRollingMedian creates a tracker over the last window trade sizes.
func NewRollingMedian(window int) *RollingMedian {
	if window < 1 {
		window = 1
	}
	return &RollingMedian{window: window, sizes: make([]float64, window)}
}

// Observe records one trade size.
func (r *RollingMedian) Observe(size float64) {
	r.sizes[r.next] = size
	r.next++
	if r.next == r.window {
		r.next = 0
		r.full = true
	}
}

// Len reports how many sizes the tracker currently holds.
func (r *RollingMedian) Len() int {
	if r.full {
		return r.window
	}
	return r.next
}

// Median returns the median of the retained sizes, or 0 when empty.
func (r *RollingMedian) Median() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	tmp := make([]float64, n)
	copy(tmp, r.sizes[:n])
	sort.Float64s(tmp)
	if n%2 == 1 {
		return tmp[n/2]
	}
	return (tmp[n/2-1] + tmp[n/2]) / 2
}

// IVWindow ranks the current IV against a trailing lookback for the IV
// percentile field.
type IVWindow struct {
	lookback int
	values   []float64
	next     int
	full     bool
}

// NewIVWindow creates a percentile window over lookback observations.
func NewIVWindow(lookback int) *IVWindow {
	if lookback < 1 {
		lookback = 1
	}
	return &IVWindow{lookback: lookback, values: make([]float64, lookback)}
}

// Observe records one per-minute IV value.
func (w *IVWindow) Observe(iv float64) {
	w.values[w.next] = iv
	w.next++
	if w.next == w.lookback {
		w.next = 0
		w.full = true
	}
}

// Len reports the number of retained observations.
func (w *IVWindow) Len() int {
	if w.full {
		return w.lookback
	}
	return w.next
}

// Percentile returns the inclusive rank of iv against the window, in [0,100].
// Returns false when the window is empty.
func (w *IVWindow) Percentile(iv float64) (float64, bool) {
	n := w.Len()
	if n == 0 {
		return 0, false
	}
	rank := 0
	for i := 0; i < n; i++ {
		if w.values[i] <= iv {
			rank++
		}
	}
	return 100 * float64(rank) / float64(n), true
}

// SignAgreement measures directional agreement of price and OI changes over a
// trailing window. The result lies in [-1,1]: +1 when the signs always agree.
type SignAgreement struct {
	window int
	pairs  []int8
	next   int
	full   bool
}

// NewSignAgreement creates a tracker over the last window minutes.
func NewSignAgreement(window int) *SignAgreement {
	if window < 2 {
		window = 2
	}
	return &SignAgreement{window: window, pairs: make([]int8, window)}
}

// Observe records the sign product of one minute's price and OI change.
func (s *SignAgreement) Observe(priceDelta, oiDelta float64) {
	s.pairs[s.next] = int8(sign(priceDelta) * sign(oiDelta))
	s.next++
	if s.next == s.window {
		s.next = 0
		s.full = true
	}
}

// Len reports the number of retained minutes.
func (s *SignAgreement) Len() int {
	if s.full {
		return s.window
	}
	return s.next
}

// Corr returns the mean sign agreement, or false when fewer than two minutes
// have been observed.
func (s *SignAgreement) Corr() (float64, bool) {
	n := s.Len()
	if n < 2 {
		return 0, false
	}
	sum := 0
	for i := 0; i < n; i++ {
		sum += int(s.pairs[i])
	}
	return float64(sum) / float64(n), true
}
