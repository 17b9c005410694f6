package cotrend

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// negligibleNorm is the squared norm below which a basis vector is treated as
// absent from a star's usable cadences.
const negligibleNorm = 1e-20

// CoefficientFitter regresses normalized flux onto a CBV set.
type CoefficientFitter struct {
	Method         FitMethod
	ClipSigma      float64 // 0 disables iterative clipping
	ClipIterations int
	ThetaBins      int
	ThetaPadding   float64
}

// FitResult is the population-wide coefficient table and its theta grids.
type FitResult struct {
	Method FitMethod
	// Coefficients[cbv][star]; NaN for stars excluded upstream.
	Coefficients [][]float64
	// Noise is each star's robust residual sigma after the fit.
	Noise []float64
	// Singular marks stars for which at least one coefficient was forced to
	// zero because its column was degenerate.
	Singular []bool
	// Theta[cbv] is the shared evaluation grid for that CBV's densities.
	Theta [][]float64
}

// Coefficient returns the coefficient vector for one star.
func (r *FitResult) Coefficient(star int) []float64 {
	c := make([]float64, len(r.Coefficients))
	for k := range r.Coefficients {
		c[k] = r.Coefficients[k][star]
	}
	return c
}

// Fit regresses every valid star of pop onto basis and builds the theta grids.
// A degenerate design yields zero coefficients for the affected CBVs of that
// star; it never aborts the run.
func (f CoefficientFitter) Fit(pop *Population, basis *Basis) (*FitResult, error) {
	switch f.Method {
	case FitSequential, FitSimultaneous:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFitMethod, f.Method)
	}

	nStars := pop.NStars()
	var vectors [][]float64
	if basis != nil {
		vectors = basis.Vectors
	}
	nCBVs := len(vectors)

	res := &FitResult{
		Method:       f.Method,
		Coefficients: make([][]float64, nCBVs),
		Noise:        make([]float64, nStars),
		Singular:     make([]bool, nStars),
		Theta:        make([][]float64, nCBVs),
	}
	for k := range res.Coefficients {
		res.Coefficients[k] = make([]float64, nStars)
	}

	for i := 0; i < nStars; i++ {
		if !pop.Valid(i) {
			res.Noise[i] = math.NaN()
			for k := range res.Coefficients {
				res.Coefficients[k][i] = math.NaN()
			}
			continue
		}
		y := pop.NormalizedFlux[i]
		if nCBVs > 0 && len(y) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: star %d has %d samples, basis has %d", ErrShapeMismatch, i, len(y), len(vectors[0]))
		}
		coeffs, noise, err := f.FitStar(y, vectors)
		if err != nil && !errors.Is(err, ErrSingularFit) {
			return nil, fmt.Errorf("fit star %s: %w", pop.IDs[i], err)
		}
		res.Singular[i] = err != nil
		res.Noise[i] = noise
		for k, c := range coeffs {
			res.Coefficients[k][i] = c
		}
	}

	for k := range res.Theta {
		res.Theta[k] = f.thetaGrid(res.Coefficients[k])
	}
	return res, nil
}

// FitStar fits one normalized flux series y onto vectors. It returns the
// coefficients, the robust sigma of the final residual and ErrSingularFit
// when any coefficient had to be zeroed.
func (f CoefficientFitter) FitStar(y []float64, vectors [][]float64) ([]float64, float64, error) {
	var usable []int
	for c, v := range y {
		if isFinite(v) {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, math.NaN(), ErrNoValidCadences
	}
	k := len(vectors)
	if k == 0 {
		return nil, robustSigma(y), nil
	}

	active := usable
	var coeffs []float64
	var singular bool
	resid := make([]float64, len(y))
	for iter := 0; ; iter++ {
		coeffs, singular = f.solve(y, vectors, active)
		residual(resid, y, vectors, coeffs, usable)

		if f.ClipSigma <= 0 || iter >= f.ClipIterations {
			break
		}
		sigma := robustSigma(gather(resid, active))
		if !(sigma > 1e-12) {
			break
		}
		center := median(gather(resid, active))
		var kept []int
		for _, c := range usable {
			if math.Abs(resid[c]-center) <= f.ClipSigma*sigma {
				kept = append(kept, c)
			}
		}
		if len(kept) == len(active) || len(kept) < k {
			break
		}
		active = kept
	}

	noise := robustSigma(gather(resid, active))
	if singular {
		return coeffs, noise, ErrSingularFit
	}
	return coeffs, noise, nil
}

func (f CoefficientFitter) solve(y []float64, vectors [][]float64, active []int) ([]float64, bool) {
	if f.Method == FitSimultaneous {
		return solveSimultaneous(y, vectors, active)
	}
	return solveSequential(y, vectors, active)
}

// solveSequential fits CBVs one at a time in id order, each against the
// residual left by the ones before it.
func solveSequential(y []float64, vectors [][]float64, active []int) ([]float64, bool) {
	r := gather(y, active)
	coeffs := make([]float64, len(vectors))
	singular := false
	for k, vec := range vectors {
		v := gather(vec, active)
		vv := floats.Dot(v, v)
		if vv <= negligibleNorm {
			singular = true
			continue
		}
		coeffs[k] = floats.Dot(r, v) / vv
		floats.AddScaled(r, -coeffs[k], v)
	}
	return coeffs, singular
}

// solveSimultaneous solves the joint least-squares problem by QR. Columns
// with negligible norm are dropped first and receive zero; a rank-deficient
// remainder zeroes every coefficient.
func solveSimultaneous(y []float64, vectors [][]float64, active []int) ([]float64, bool) {
	coeffs := make([]float64, len(vectors))
	var cols []int
	for k, vec := range vectors {
		v := gather(vec, active)
		if floats.Dot(v, v) > negligibleNorm {
			cols = append(cols, k)
		}
	}
	singular := len(cols) < len(vectors)
	if len(cols) == 0 {
		return coeffs, singular
	}
	if len(active) < len(cols) {
		return coeffs, true
	}

	x := mat.NewDense(len(active), len(cols), nil)
	for j, k := range cols {
		for r, c := range active {
			x.Set(r, j, vectors[k][c])
		}
	}
	b := mat.NewVecDense(len(active), gather(y, active))

	var qr mat.QR
	qr.Factorize(x)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return coeffs, true
	}
	for j, k := range cols {
		coeffs[k] = sol.AtVec(j)
	}
	return coeffs, singular
}

// residual writes y - sum_k c_k v_k into dst at the given cadences and NaN
// everywhere else.
func residual(dst, y []float64, vectors [][]float64, coeffs []float64, cadences []int) {
	for i := range dst {
		dst[i] = math.NaN()
	}
	for _, c := range cadences {
		r := y[c]
		for k, vec := range vectors {
			r -= coeffs[k] * vec[c]
		}
		dst[c] = r
	}
}

func gather(xs []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, c := range idx {
		out[i] = xs[c]
	}
	return out
}

// thetaGrid spans the finite coefficients at ThetaBins evenly spaced points,
// padded on both sides by ThetaPadding of the span.
func (f CoefficientFitter) thetaGrid(coeffs []float64) []float64 {
	bins := f.ThetaBins
	if bins < 2 {
		bins = 2
	}
	v := finite(coeffs)
	lo, hi := -1.0, 1.0
	if len(v) > 0 {
		lo, hi = floats.Min(v), floats.Max(v)
	}
	pad := f.ThetaPadding * (hi - lo)
	if !(hi > lo) {
		pad = math.Max(math.Abs(hi)*0.1, 1e-6)
	}
	return floats.Span(make([]float64, bins), lo-pad, hi+pad)
}
