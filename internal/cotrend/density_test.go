package cotrend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func gaussianOn(theta []float64, mu, sigma float64) []float64 {
	p := make([]float64, len(theta))
	for i, x := range theta {
		d := (x - mu) / sigma
		p[i] = math.Exp(-0.5 * d * d)
	}
	normalizeDensity(p, theta)
	return p
}

func area(p, theta []float64) float64 {
	return floats.Sum(p) * gridStep(theta)
}

func TestPeakTheta(t *testing.T) {
	theta := []float64{0, 1, 2, 3}
	assert.Equal(t, 2.0, PeakTheta([]float64{0, 1, 3, 2}, theta))
	// ties resolve to the lowest theta
	assert.Equal(t, 1.0, PeakTheta([]float64{0, 3, 3, 1}, theta))
	assert.True(t, math.IsNaN(PeakTheta(nil, nil)))
}

func TestGoodness(t *testing.T) {
	assert.InDelta(t, 0, Goodness([]float64{1, 1, 1, 1}), 1e-12)
	assert.InDelta(t, 1, Goodness([]float64{0, 5, 0, 0}), 1e-12)
	assert.Equal(t, 0.0, Goodness([]float64{0, 0}))
	assert.Equal(t, 0.0, Goodness([]float64{1}))

	theta := floats.Span(make([]float64, 201), -1, 1)
	narrow := Goodness(gaussianOn(theta, 0, 0.02))
	wide := Goodness(gaussianOn(theta, 0, 0.3))
	assert.Greater(t, narrow, wide)
}

func TestPosterior(t *testing.T) {
	theta := floats.Span(make([]float64, 401), -2, 2)
	prior := gaussianOn(theta, -1, 0.2)
	cond := gaussianOn(theta, 1, 0.2)

	assert.Equal(t, cond, Posterior(prior, cond, 0, theta))
	assert.Equal(t, prior, Posterior(prior, cond, 1, theta))
	assert.Equal(t, cond, Posterior(prior, cond, -0.5, theta))

	// With equal widths the geometric blend peaks at the weighted mean.
	for _, w := range []float64{0.25, 0.5, 0.75} {
		post := Posterior(prior, cond, w, theta)
		assert.InDelta(t, 1, area(post, theta), 1e-9)
		assert.InDelta(t, w*-1+(1-w)*1, PeakTheta(post, theta), 0.011, "w=%v", w)
	}

	// A prior of zeros is floored, not propagated as -Inf.
	zeros := make([]float64, len(theta))
	post := Posterior(zeros, cond, 0.5, theta)
	for _, v := range post {
		require.False(t, math.IsNaN(v))
	}
	assert.InDelta(t, 1, PeakTheta(post, theta), 0.011)
}

func TestNormalizeDensity(t *testing.T) {
	theta := []float64{0, 0.5, 1}
	p := []float64{1, 2, 1}
	require.True(t, normalizeDensity(p, theta))
	assert.InDelta(t, 1, area(p, theta), 1e-12)

	empty := []float64{0, 0, 0}
	assert.False(t, normalizeDensity(empty, theta))
	assert.Equal(t, []float64{0, 0, 0}, empty)
}

func TestGaussianSmooth(t *testing.T) {
	h := make([]float64, 41)
	h[20] = 1
	out := gaussianSmooth(h, 2)
	assert.Equal(t, 20, floats.MaxIdx(out))
	assert.InDelta(t, out[18], out[22], 1e-15)
	assert.Zero(t, out[11], "truncated beyond four sigma")

	same := gaussianSmooth(h, 0)
	assert.Equal(t, h, same)
	same[0] = 9
	assert.Zero(t, h[0], "zero sigma returns a copy")
}
