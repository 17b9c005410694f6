package cotrend

import (
	"fmt"
)

// CotrendResult is the final output of a run.
type CotrendResult struct {
	Mode Mode
	// Coefficients[cbv][star] are the coefficients that built Correction:
	// the LS table in LS mode, posterior peaks in MAP mode.
	Coefficients [][]float64
	// Correction and Corrected are indexed [star][cadence]. Rows of
	// excluded stars are nil.
	Correction [][]float64
	Corrected  [][]float64
	// Missing lists stars whose MAP estimate failed; they carry their LS
	// coefficients instead.
	Missing []int
}

// LeastSquaresCotrender combines coefficients and basis vectors into the
// additive correction model. It performs no fitting.
type LeastSquaresCotrender struct{}

// Apply returns correction = sum_k coeffs[k]*vectors[k] and
// corrected = normalized - correction for one star.
func (LeastSquaresCotrender) Apply(normalized, coeffs []float64, vectors [][]float64) (correction, corrected []float64, err error) {
	if len(coeffs) != len(vectors) {
		return nil, nil, fmt.Errorf("%w: %d coefficients for %d CBVs", ErrShapeMismatch, len(coeffs), len(vectors))
	}
	correction = make([]float64, len(normalized))
	for k, vec := range vectors {
		if len(vec) != len(normalized) {
			return nil, nil, fmt.Errorf("%w: CBV %d has %d cadences, flux has %d", ErrShapeMismatch, k, len(vec), len(normalized))
		}
		c := coeffs[k]
		for t, v := range vec {
			correction[t] += c * v
		}
	}
	corrected = make([]float64, len(normalized))
	for t, y := range normalized {
		corrected[t] = y - correction[t]
	}
	return correction, corrected, nil
}

// Cotrend applies coefficients[cbv][star] to every valid star of pop.
func (lc LeastSquaresCotrender) Cotrend(pop *Population, basis *Basis, coefficients [][]float64) (*CotrendResult, error) {
	var vectors [][]float64
	if basis != nil {
		vectors = basis.Vectors
	}
	if len(coefficients) != len(vectors) {
		return nil, fmt.Errorf("%w: coefficient table has %d CBVs, basis has %d", ErrShapeMismatch, len(coefficients), len(vectors))
	}
	n := pop.NStars()
	res := &CotrendResult{
		Mode:         ModeLS,
		Coefficients: coefficients,
		Correction:   make([][]float64, n),
		Corrected:    make([][]float64, n),
	}
	coeffs := make([]float64, len(vectors))
	for i := 0; i < n; i++ {
		if !pop.Valid(i) {
			continue
		}
		for k := range coefficients {
			if len(coefficients[k]) != n {
				return nil, fmt.Errorf("%w: CBV %d has %d coefficients for %d stars", ErrShapeMismatch, k, len(coefficients[k]), n)
			}
			coeffs[k] = coefficients[k][i]
		}
		corr, out, err := lc.Apply(pop.NormalizedFlux[i], coeffs, vectors)
		if err != nil {
			return nil, fmt.Errorf("star %s: %w", pop.IDs[i], err)
		}
		res.Correction[i] = corr
		res.Corrected[i] = out
	}
	return res, nil
}
