package cotrend

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PriorBuilder forms the empirical prior for one star from the LS
// coefficients of its nearest catalog neighbours.
type PriorBuilder struct {
	DimWeights  [3]float64
	NNeighbours int
	TrimLow     float64 // percentile, 0-100
	TrimHigh    float64

	catalog    []CatalogEntry
	candidates []int
	scale      [3]float64
}

// NewPriorBuilder indexes the prior candidates of pop: valid stars with
// normalised variability below the extraction limit and, when priorMask is
// non-nil, flagged eligible. Each catalog dimension is scaled by its standard
// deviation over the candidates so DimWeights are unit-free.
func NewPriorBuilder(pop *Population, priorMask []bool, s Settings) *PriorBuilder {
	b := &PriorBuilder{
		DimWeights:  s.DimWeights,
		NNeighbours: s.PriorNNeighbours,
		TrimLow:     s.PriorTrimLow,
		TrimHigh:    s.PriorTrimHigh,
		catalog:     pop.Catalog,
		scale:       [3]float64{1, 1, 1},
	}
	for i := 0; i < pop.NStars(); i++ {
		if !pop.Valid(i) {
			continue
		}
		if priorMask != nil && !priorMask[i] {
			continue
		}
		if !(pop.NormalisedVariability[i] < s.NormalisedVariabilityLimit) {
			continue
		}
		b.candidates = append(b.candidates, i)
	}

	if len(b.candidates) > 1 {
		dims := [3][]float64{}
		for _, j := range b.candidates {
			e := pop.Catalog[j]
			dims[0] = append(dims[0], e.RA)
			dims[1] = append(dims[1], e.Dec)
			dims[2] = append(dims[2], e.Mag)
		}
		for d := range dims {
			if sd := stat.StdDev(dims[d], nil); sd > 0 {
				b.scale[d] = sd
			}
		}
	}
	return b
}

// NCandidates returns how many stars may serve as neighbours.
func (b *PriorBuilder) NCandidates() int {
	return len(b.candidates)
}

// Distance returns the weighted catalog distance between stars i and j.
// RA differences wrap at 360 degrees and shrink with cos(dec) of star i.
func (b *PriorBuilder) Distance(i, j int) float64 {
	a, c := b.catalog[i], b.catalog[j]
	dra := math.Mod(a.RA-c.RA+540, 360) - 180
	dra *= math.Cos(a.Dec * math.Pi / 180)
	deltas := [3]float64{dra, a.Dec - c.Dec, a.Mag - c.Mag}
	var d2 float64
	for d, delta := range deltas {
		x := delta / b.scale[d]
		d2 += b.DimWeights[d] * x * x
	}
	return math.Sqrt(d2)
}

// Neighbours returns up to NNeighbours closest candidates to star i
// (excluding i) and their proximity weights 1/(1+(d/d_med)^2).
func (b *PriorBuilder) Neighbours(i int) ([]int, []float64) {
	type cand struct {
		idx  int
		dist float64
	}
	all := make([]cand, 0, len(b.candidates))
	for _, j := range b.candidates {
		if j == i {
			continue
		}
		all = append(all, cand{j, b.Distance(i, j)})
	}
	sort.SliceStable(all, func(x, y int) bool { return all[x].dist < all[y].dist })
	if len(all) > b.NNeighbours {
		all = all[:b.NNeighbours]
	}

	idx := make([]int, len(all))
	dists := make([]float64, len(all))
	for n, c := range all {
		idx[n] = c.idx
		dists[n] = c.dist
	}
	weights := make([]float64, len(all))
	ref := median(dists)
	for n, d := range dists {
		if ref > 0 {
			x := d / ref
			weights[n] = 1 / (1 + x*x)
		} else {
			weights[n] = 1
		}
	}
	return idx, weights
}

// Density builds the prior density over theta from the neighbours' LS
// coefficients for one CBV. Values outside the TrimLow/TrimHigh percentiles
// are discarded, the rest are binned onto theta with their proximity
// weights and smoothed with a Gaussian of Silverman bandwidth.
func (b *PriorBuilder) Density(coeffs []float64, neighbours []int, weights []float64, theta []float64) ([]float64, error) {
	vals := make([]float64, 0, len(neighbours))
	ws := make([]float64, 0, len(neighbours))
	for n, j := range neighbours {
		if c := coeffs[j]; isFinite(c) {
			vals = append(vals, c)
			ws = append(ws, weights[n])
		}
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: no neighbour coefficients", ErrPriorUnavailable)
	}

	keptV, keptW := trimPercentiles(vals, ws, b.TrimLow, b.TrimHigh)

	step := gridStep(theta)
	hist := make([]float64, len(theta))
	var mass float64
	for n, v := range keptV {
		bin := int(math.Round((v - theta[0]) / step))
		if bin < 0 || bin >= len(hist) {
			continue
		}
		hist[bin] += keptW[n]
		mass += keptW[n]
	}
	if !(mass > 0) {
		return nil, fmt.Errorf("%w: neighbour coefficients fall outside the theta grid", ErrPriorUnavailable)
	}

	sigmaBins := 1.0
	if len(keptV) > 1 {
		_, sd := stat.MeanStdDev(keptV, keptW)
		bw := 1.06 * sd * math.Pow(float64(len(keptV)), -0.2)
		if s := bw / step; s > sigmaBins {
			sigmaBins = s
		}
	}
	density := gaussianSmooth(hist, sigmaBins)
	if !normalizeDensity(density, theta) {
		return nil, fmt.Errorf("%w: empty prior density", ErrPriorUnavailable)
	}
	return density, nil
}

// trimPercentiles keeps the values inside the [low, high] percentile range
// along with their weights.
func trimPercentiles(vals, ws []float64, low, high float64) (keptV, keptW []float64) {
	lo, hi := percentile(vals, low), percentile(vals, high)
	for n, v := range vals {
		if v >= lo && v <= hi {
			keptV = append(keptV, v)
			keptW = append(keptW, ws[n])
		}
	}
	return keptV, keptW
}
