package cotrend

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// densityFloor bounds log densities so an empty histogram bin does not
// produce -Inf in the posterior.
const densityFloor = 1e-300

// gridStep returns the spacing of an evenly spaced theta grid.
func gridStep(theta []float64) float64 {
	if len(theta) < 2 {
		return 1
	}
	return theta[1] - theta[0]
}

// normalizeDensity scales p in place to unit area on theta. A curve with no
// mass is left untouched and reported as false.
func normalizeDensity(p, theta []float64) bool {
	area := floats.Sum(p) * gridStep(theta)
	if !(area > 0) || math.IsInf(area, 0) {
		return false
	}
	floats.Scale(1/area, p)
	return true
}

// PeakTheta returns the grid value at the first maximum of p.
func PeakTheta(p, theta []float64) float64 {
	if len(p) == 0 {
		return math.NaN()
	}
	return theta[floats.MaxIdx(p)]
}

// Goodness measures how peaked a density is: 1 - H(p)/ln(N), where H is
// the Shannon entropy of p treated as a discrete distribution over its N
// grid points. A flat curve scores 0; all mass in one bin scores 1.
func Goodness(p []float64) float64 {
	n := len(p)
	total := floats.Sum(p)
	if n < 2 || !(total > 0) {
		return 0
	}
	var h float64
	for _, v := range p {
		if v <= 0 {
			continue
		}
		q := v / total
		h -= q * math.Log(q)
	}
	return clamp01(1 - h/math.Log(float64(n)))
}

// Posterior blends prior and conditional pointwise as
// prior^w * conditional^(1-w), renormalized on theta. w = 0 returns a copy
// of the conditional and w = 1 a copy of the prior.
func Posterior(prior, conditional []float64, w float64, theta []float64) []float64 {
	out := make([]float64, len(conditional))
	switch {
	case w <= 0:
		copy(out, conditional)
		return out
	case w >= 1:
		copy(out, prior)
		return out
	}
	for t := range out {
		lp := math.Log(math.Max(prior[t], densityFloor))
		lc := math.Log(math.Max(conditional[t], densityFloor))
		out[t] = w*lp + (1-w)*lc
	}
	top := floats.Max(out)
	for t, v := range out {
		out[t] = math.Exp(v - top)
	}
	normalizeDensity(out, theta)
	return out
}

// gaussianSmooth convolves h with a Gaussian kernel of sigma bins,
// truncated at four sigma.
func gaussianSmooth(h []float64, sigma float64) []float64 {
	if !(sigma > 0) {
		return append([]float64(nil), h...)
	}
	half := int(math.Ceil(4 * sigma))
	kernel := make([]float64, 2*half+1)
	for j := range kernel {
		d := float64(j - half)
		kernel[j] = math.Exp(-0.5 * d * d / (sigma * sigma))
	}
	out := make([]float64, len(h))
	for i, v := range h {
		if v == 0 {
			continue
		}
		for j, kv := range kernel {
			t := i + j - half
			if t < 0 || t >= len(out) {
				continue
			}
			out[t] += v * kv
		}
	}
	return out
}
