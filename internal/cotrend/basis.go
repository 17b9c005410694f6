package cotrend

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SNRStatistic maps the descending singular values of the quiet-star matrix
// to one SNR per candidate basis vector. maxN is the retention cap, which a
// statistic may use to locate the noise-dominated part of the spectrum.
type SNRStatistic func(singular []float64, maxN int) []float64

// MedianTailSNR is the default SNR statistic. The noise floor is the median of
// the singular values ranked at or beyond maxN (the smallest singular value
// when there are none), floored at 1e-12 of the largest. Each candidate's SNR
// is its singular value over that floor, so SNR never increases with rank.
func MedianTailSNR(singular []float64, maxN int) []float64 {
	snr := make([]float64, len(singular))
	if len(singular) == 0 || !(singular[0] > 0) {
		return snr
	}
	var floor float64
	if maxN < len(singular) {
		floor = median(singular[maxN:])
	} else {
		floor = singular[len(singular)-1]
	}
	if lo := singular[0] * 1e-12; floor < lo {
		floor = lo
	}
	for k, s := range singular {
		snr[k] = s / floor
	}
	return snr
}

// Basis is the accepted CBV set plus the factorization it came from.
type Basis struct {
	// NCBVs is the number of retained vectors; ids run [0, NCBVs).
	NCBVs int
	// Vectors[id] spans the full cadence axis and is zero outside the
	// cadence mask. Each is sign-normalised so its largest-magnitude sample is
	// positive.
	Vectors [][]float64
	// SNR and SingularValue are indexed by CBV id, in descending SNR order.
	SNR           []float64
	SingularValue []float64

	// Candidate-level view: one entry per right singular vector.
	CandidateSingularValues []float64
	CandidateSNR            []float64
	Retained                []bool

	// QuietStars are the population indices that formed the matrix rows.
	QuietStars []int
	// Columns are the cadence indices that formed the matrix columns.
	Columns []int
	// U and V are the raw thin SVD factors (rows x r and cadences x r),
	// nil when the matrix was empty.
	U, V *mat.Dense
}

// Empty reports whether no basis vector was retained.
func (b *Basis) Empty() bool {
	return b == nil || b.NCBVs == 0
}

// BasisExtractor derives CBVs from the quiet-star subset of a population.
type BasisExtractor struct {
	MaxNCBVs int
	SNRLimit float64
	SNR      SNRStatistic
}

// SelectQuiet returns the indices of stars eligible for basis extraction:
// valid, normalised variability below the limit, catalog magnitude inside
// the band and, when objectMask is non-nil, flagged eligible.
func SelectQuiet(pop *Population, objectMask []bool, s Settings) []int {
	var quiet []int
	for i := 0; i < pop.NStars(); i++ {
		if !pop.Valid(i) {
			continue
		}
		if objectMask != nil && !objectMask[i] {
			continue
		}
		if !(pop.NormalisedVariability[i] < s.NormalisedVariabilityLimit) {
			continue
		}
		mag := pop.Catalog[i].Mag
		if mag < s.CBVMagMin || mag > s.CBVMagMax {
			continue
		}
		quiet = append(quiet, i)
	}
	return quiet
}

// Extract factors the (quiet stars x valid cadences) matrix of normalized
// flux and keeps candidates in descending SNR order until MaxNCBVs is reached
// or SNR drops below SNRLimit. Each row is centred on its mean so the
// residual offset of median normalization does not surface as a constant
// CBV; missing samples enter as zero. An empty quiet set yields an empty
// Basis, not an error.
func (e BasisExtractor) Extract(pop *Population, quiet []int, mask []bool) (*Basis, error) {
	statistic := e.SNR
	if statistic == nil {
		statistic = MedianTailSNR
	}

	var cols []int
	for c, ok := range mask {
		if ok {
			cols = append(cols, c)
		}
	}
	basis := &Basis{
		QuietStars: append([]int(nil), quiet...),
		Columns:    cols,
	}
	if len(quiet) == 0 || len(cols) == 0 {
		return basis, nil
	}

	a := mat.NewDense(len(quiet), len(cols), nil)
	for r, star := range quiet {
		row := pop.NormalizedFlux[star]
		if row == nil {
			return nil, fmt.Errorf("star %d selected for extraction has no normalized flux", star)
		}
		var sum float64
		var n int
		for _, c := range cols {
			if v := row[c]; isFinite(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		for j, c := range cols {
			if v := row[c]; isFinite(v) {
				a.Set(r, j, v-mean)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD of %dx%d quiet-star matrix did not converge", len(quiet), len(cols))
	}
	singular := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	basis.U, basis.V = &u, &v

	snr := statistic(singular, e.MaxNCBVs)
	basis.CandidateSingularValues = singular
	basis.CandidateSNR = snr
	basis.Retained = make([]bool, len(singular))

	order := make([]int, len(singular))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(i, j int) bool { return snr[order[i]] > snr[order[j]] })

	nCadences := len(mask)
	for _, k := range order {
		if basis.NCBVs >= e.MaxNCBVs || snr[k] < e.SNRLimit {
			break
		}
		vec := make([]float64, nCadences)
		for j, c := range cols {
			vec[c] = v.At(j, k)
		}
		if vec[floats.MaxIdx(vec)] < -vec[floats.MinIdx(vec)] {
			floats.Scale(-1, vec)
		}
		basis.Vectors = append(basis.Vectors, vec)
		basis.SNR = append(basis.SNR, snr[k])
		basis.SingularValue = append(basis.SingularValue, singular[k])
		basis.Retained[k] = true
		basis.NCBVs++
	}
	return basis, nil
}
