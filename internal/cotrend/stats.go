package cotrend

import (
	"math"
	"sort"
)

// madScale converts a median absolute deviation to a Gaussian sigma.
const madScale = 1.4826

// finite returns the finite values of xs in a new slice.
func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// median returns the median of the finite values of xs, or NaN if there are none.
func median(xs []float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	n := len(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return 0.5 * (v[n/2-1] + v[n/2])
}

// robustSigma returns 1.4826 times the median absolute deviation of the finite
// values of xs about their median.
func robustSigma(xs []float64) float64 {
	m := median(xs)
	if math.IsNaN(m) {
		return math.NaN()
	}
	dev := make([]float64, 0, len(xs))
	for _, v := range xs {
		if isFinite(v) {
			dev = append(dev, math.Abs(v-m))
		}
	}
	return madScale * median(dev)
}

// percentile returns the p-th percentile (0-100) of the finite values of xs,
// interpolating linearly at rank (p/100)*(n-1) of the sorted values. The 0th
// and 100th percentiles are the minimum and maximum.
func percentile(xs []float64, p float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	sort.Float64s(v)
	h := math.Min(math.Max(p, 0), 100) / 100 * float64(len(v)-1)
	lo, hi := int(math.Floor(h)), int(math.Ceil(h))
	return v[lo] + (h-float64(lo))*(v[hi]-v[lo])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
