package cotrend

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// minNoise floors a star's noise estimate so a perfectly fitted light curve
// still yields a finite conditional likelihood.
const minNoise = 1e-9

// MapInputs is the read-only data shared by every MAP worker.
type MapInputs struct {
	Settings   Settings
	Population *Population
	Basis      *Basis
	Fit        *FitResult
	Prior      *PriorBuilder
	// NoiseReference is the median fit noise over valid stars.
	NoiseReference float64
}

// NewMapInputs prepares the shared MAP data for a fitted population.
func NewMapInputs(pop *Population, basis *Basis, fit *FitResult, priorMask []bool, s Settings) (*MapInputs, error) {
	if priorMask != nil && len(priorMask) != pop.NStars() {
		return nil, fmt.Errorf("%w: prior mask has %d entries for %d stars", ErrShapeMismatch, len(priorMask), pop.NStars())
	}
	if basis == nil || len(fit.Coefficients) != len(basis.Vectors) {
		return nil, fmt.Errorf("%w: fit and basis disagree on CBV count", ErrShapeMismatch)
	}
	return &MapInputs{
		Settings:       s,
		Population:     pop,
		Basis:          basis,
		Fit:            fit,
		Prior:          NewPriorBuilder(pop, priorMask, s),
		NoiseReference: median(validValues(fit.Noise, pop.Excluded)),
	}, nil
}

// Diagnostic is the per-star MAP record. Every per-CBV slice is indexed by
// CBV id. In LS mode only the conditional curves are filled and the
// posterior peak equals the LS coefficient.
type Diagnostic struct {
	StarIndex int
	StarID    string
	Mode      Mode

	NormalisedVariability float64
	Noise                 float64
	NoiseGoodness         float64

	Theta       [][]float64
	Prior       [][]float64
	Conditional [][]float64
	Posterior   [][]float64

	LSCoefficient []float64
	PriorPeak     []float64
	CondPeak      []float64
	PosteriorPeak []float64

	PriorAvailable         []bool
	PriorGoodness          []float64
	ConditionalGoodness    []float64
	GeneralGoodness        []float64
	PriorVariabilityWeight []float64
	PriorGoodnessWeight    []float64
	PriorWeight            []float64
}

// MeanPriorWeight averages PriorWeight over CBVs.
func (d *Diagnostic) MeanPriorWeight() float64 {
	if len(d.PriorWeight) == 0 {
		return 0
	}
	return floats.Sum(d.PriorWeight) / float64(len(d.PriorWeight))
}

// VariabilityWeight maps normalised variability to a prior weight component:
// x^2/(1+x^2) with x = v/limit. It is 0.5 at the limit and rises toward 1
// for highly variable stars, whose conditional is least trustworthy.
func VariabilityWeight(v, limit float64) float64 {
	if !isFinite(v) || !(limit > 0) {
		return 0.5
	}
	x := v / limit
	return x * x / (1 + x*x)
}

// GoodnessWeight compares how informative the prior is to the star's own
// data: g_prior/(g_prior+general), 0.5 when both are zero.
func GoodnessWeight(priorGoodness, generalGoodness float64) float64 {
	sum := priorGoodness + generalGoodness
	if !(sum > 0) {
		return 0.5
	}
	return clamp01(priorGoodness / sum)
}

// CombineWeights merges the variability and goodness components as
// independent odds: wv*wg / (wv*wg + (1-wv)(1-wg)).
func CombineWeights(wv, wg float64) float64 {
	num := wv * wg
	den := num + (1-wv)*(1-wg)
	if !(den > 0) {
		return 0.5
	}
	return clamp01(num / den)
}

// ConditionalDensity evaluates the likelihood of coefficient k over theta
// with the other coefficients held at their fitted values. The residual
// r = y - sum_{j!=k} c_j v_j gives SSE(t) = A - 2tB + t^2 C and
// log L = -(SSE - SSE_min)/(2 sigma^2).
func ConditionalDensity(y []float64, vectors [][]float64, coeffs []float64, k int, noise float64, theta []float64) []float64 {
	var a, b, c float64
	for t, yt := range y {
		if !isFinite(yt) {
			continue
		}
		r := yt
		for j, vec := range vectors {
			if j != k {
				r -= coeffs[j] * vec[t]
			}
		}
		v := vectors[k][t]
		a += r * r
		b += r * v
		c += v * v
	}

	out := make([]float64, len(theta))
	if c <= negligibleNorm {
		for t := range out {
			out[t] = 1
		}
		normalizeDensity(out, theta)
		return out
	}

	sigma := math.Max(noise, minNoise)
	if !isFinite(sigma) {
		sigma = 1
	}
	minSSE := math.Inf(1)
	for t, th := range theta {
		out[t] = a - 2*th*b + th*th*c
		minSSE = math.Min(minSSE, out[t])
	}
	for t, sse := range out {
		out[t] = math.Exp(-(sse - minSSE) / (2 * sigma * sigma))
	}
	normalizeDensity(out, theta)
	return out
}

// EstimateStar computes the MAP record for star i. It reads only shared
// immutable data, so calls for different stars may run concurrently.
func (m *MapInputs) EstimateStar(i int) (*Diagnostic, error) {
	pop := m.Population
	if i < 0 || i >= pop.NStars() {
		return nil, fmt.Errorf("star index %d out of range", i)
	}
	if !pop.Valid(i) {
		return nil, fmt.Errorf("star %s excluded (%s): %w", pop.IDs[i], pop.Excluded[i], ErrNoValidCadences)
	}
	s := m.Settings
	vectors := m.Basis.Vectors
	nCBVs := len(vectors)
	y := pop.NormalizedFlux[i]
	coeffs := m.Fit.Coefficient(i)
	noise := m.Fit.Noise[i]

	d := &Diagnostic{
		StarIndex:             i,
		StarID:                pop.IDs[i],
		Mode:                  s.Mode,
		NormalisedVariability: pop.NormalisedVariability[i],
		Noise:                 noise,
		NoiseGoodness:         m.noiseGoodness(noise),
		Theta:                 m.Fit.Theta,
		Conditional:           make([][]float64, nCBVs),
		LSCoefficient:         coeffs,
		CondPeak:              make([]float64, nCBVs),
		PosteriorPeak:         make([]float64, nCBVs),
		ConditionalGoodness:   make([]float64, nCBVs),
		GeneralGoodness:       make([]float64, nCBVs),
	}
	for k := 0; k < nCBVs; k++ {
		cond := ConditionalDensity(y, vectors, coeffs, k, noise, m.Fit.Theta[k])
		d.Conditional[k] = cond
		d.CondPeak[k] = PeakTheta(cond, m.Fit.Theta[k])
		d.ConditionalGoodness[k] = Goodness(cond)
		d.GeneralGoodness[k] = d.ConditionalGoodness[k] * d.NoiseGoodness
		d.PosteriorPeak[k] = coeffs[k]
	}
	if s.Mode != ModeMAP {
		return d, nil
	}

	d.Prior = make([][]float64, nCBVs)
	d.Posterior = make([][]float64, nCBVs)
	d.PriorPeak = make([]float64, nCBVs)
	d.PriorAvailable = make([]bool, nCBVs)
	d.PriorGoodness = make([]float64, nCBVs)
	d.PriorVariabilityWeight = make([]float64, nCBVs)
	d.PriorGoodnessWeight = make([]float64, nCBVs)
	d.PriorWeight = make([]float64, nCBVs)

	neighbours, weights := m.Prior.Neighbours(i)
	wv := VariabilityWeight(d.NormalisedVariability, s.PriorNormalisedVariabilityLimit)
	for k := 0; k < nCBVs; k++ {
		theta := m.Fit.Theta[k]
		d.PriorVariabilityWeight[k] = wv

		prior, err := m.Prior.Density(m.Fit.Coefficients[k], neighbours, weights, theta)
		if err != nil && !errors.Is(err, ErrPriorUnavailable) {
			return nil, fmt.Errorf("star %s cbv %d: %w", d.StarID, k, err)
		}
		if err != nil {
			d.PriorPeak[k] = math.NaN()
			d.Posterior[k] = append([]float64(nil), d.Conditional[k]...)
			d.PosteriorPeak[k] = d.CondPeak[k]
			continue
		}
		d.Prior[k] = prior
		d.PriorAvailable[k] = true
		d.PriorPeak[k] = PeakTheta(prior, theta)
		d.PriorGoodness[k] = Goodness(prior)
		d.PriorGoodnessWeight[k] = GoodnessWeight(d.PriorGoodness[k], d.GeneralGoodness[k])
		d.PriorWeight[k] = CombineWeights(wv, d.PriorGoodnessWeight[k])

		post := Posterior(prior, d.Conditional[k], d.PriorWeight[k], theta)
		d.Posterior[k] = post
		d.PosteriorPeak[k] = PeakTheta(post, theta)
	}
	return d, nil
}

func (m *MapInputs) noiseGoodness(noise float64) float64 {
	if !(noise > 0) {
		if noise == 0 {
			return 1
		}
		return 0
	}
	if !(m.NoiseReference > 0) {
		return 1
	}
	return math.Min(1, m.NoiseReference/noise)
}
