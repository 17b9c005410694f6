package cotrend

import (
	"errors"
	"fmt"
	"math"
)

// Star is one raw light curve as supplied by the loader. Flux is aligned to
// Input.Times; non-finite values are treated as missing.
type Star struct {
	ID   string
	Flux []float64
}

// CatalogEntry is the read-only catalog row for one star.
type CatalogEntry struct {
	ID  string
	RA  float64 // degrees
	Dec float64 // degrees
	Mag float64
}

// Catalog maps star ID to its catalog entry.
type Catalog map[string]CatalogEntry

// Input is everything the external loader supplies for one run.
type Input struct {
	Times   []float64
	Stars   []Star
	Catalog Catalog

	// CadenceMask selects the cadences used by every star. nil means all.
	CadenceMask []bool
	// ObjectMask marks stars eligible for basis extraction. nil means all.
	ObjectMask []bool
	// PriorMask marks stars eligible as MAP prior neighbours. nil means all.
	PriorMask []bool
}

// NCadences returns the length of the cadence axis.
func (in *Input) NCadences() int {
	return len(in.Times)
}

// Mask returns the cadence mask, materialising an all-true mask when unset.
func (in *Input) Mask() []bool {
	if in.CadenceMask != nil {
		return in.CadenceMask
	}
	m := make([]bool, len(in.Times))
	for i := range m {
		m[i] = true
	}
	return m
}

// Validate checks that every array in the input has a consistent shape.
func (in *Input) Validate() error {
	n := len(in.Times)
	if in.CadenceMask != nil && len(in.CadenceMask) != n {
		return fmt.Errorf("%w: cadence mask has %d entries, times has %d", ErrShapeMismatch, len(in.CadenceMask), n)
	}
	for i, s := range in.Stars {
		if len(s.Flux) != n {
			return fmt.Errorf("%w: star %d (%s) has %d flux samples, times has %d", ErrShapeMismatch, i, s.ID, len(s.Flux), n)
		}
	}
	if in.ObjectMask != nil && len(in.ObjectMask) != len(in.Stars) {
		return fmt.Errorf("%w: object mask has %d entries for %d stars", ErrShapeMismatch, len(in.ObjectMask), len(in.Stars))
	}
	if in.PriorMask != nil && len(in.PriorMask) != len(in.Stars) {
		return fmt.Errorf("%w: prior mask has %d entries for %d stars", ErrShapeMismatch, len(in.PriorMask), len(in.Stars))
	}
	return nil
}

// VariabilityStatistic maps a normalized flux series (NaN where missing) to a
// robust scatter value. It must ignore NaN samples and be insensitive to a
// small fraction of outliers.
type VariabilityStatistic func(normalized []float64) float64

// RobustScatter is the default variability statistic: 1.4826 * MAD.
func RobustScatter(normalized []float64) float64 {
	return robustSigma(normalized)
}

// LightCurve is the normalized form of one star.
type LightCurve struct {
	MedianFlux     float64
	NormalizedFlux []float64 // flux/median - 1 on valid cadences, NaN elsewhere
	Variability    float64
}

// Normalize converts a raw flux series into a unit-median, zero-baseline
// series over the masked cadences and computes its variability. The median is
// taken over masked, finite samples only and must be positive.
func Normalize(flux []float64, mask []bool, variability VariabilityStatistic) (LightCurve, error) {
	if len(flux) != len(mask) {
		return LightCurve{}, fmt.Errorf("%w: %d flux samples, %d mask entries", ErrShapeMismatch, len(flux), len(mask))
	}
	if variability == nil {
		variability = RobustScatter
	}

	used := make([]float64, 0, len(flux))
	for i, f := range flux {
		if mask[i] && isFinite(f) {
			used = append(used, f)
		}
	}
	if len(used) == 0 {
		return LightCurve{}, ErrNoValidCadences
	}
	med := median(used)
	if !(med > 0) {
		return LightCurve{}, fmt.Errorf("%w: %g", ErrNonPositiveMedian, med)
	}

	norm := make([]float64, len(flux))
	for i, f := range flux {
		if mask[i] && isFinite(f) {
			norm[i] = f/med - 1
		} else {
			norm[i] = math.NaN()
		}
	}
	return LightCurve{
		MedianFlux:     med,
		NormalizedFlux: norm,
		Variability:    variability(norm),
	}, nil
}

// Population is the Normalizer's output for a whole run. Every slice is
// indexed by star position in the Input. Excluded stars keep their slot with
// a nil NormalizedFlux row and a non-empty Excluded reason.
type Population struct {
	IDs                   []string
	Catalog               []CatalogEntry
	MedianFlux            []float64
	NormalizedFlux        [][]float64
	Variability           []float64
	NormalisedVariability []float64
	Excluded              []ExclusionReason

	// Skipped counts stars with no catalog row.
	Skipped int
}

// Valid reports whether star i survived normalization.
func (p *Population) Valid(i int) bool {
	return p.Excluded[i] == ExcludedNone
}

// NStars returns the number of stars, including excluded ones.
func (p *Population) NStars() int {
	return len(p.IDs)
}

// NValid returns the number of stars that survived normalization.
func (p *Population) NValid() int {
	n := 0
	for i := range p.Excluded {
		if p.Valid(i) {
			n++
		}
	}
	return n
}

// NormalizePopulation normalizes every star of in. Stars with no catalog row
// or an unusable median are excluded, not fatal. NormalisedVariability is
// each star's variability divided by the median over valid stars, so a
// typical star sits near 1.
func NormalizePopulation(in *Input, variability VariabilityStatistic) (*Population, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	mask := in.Mask()
	n := len(in.Stars)
	pop := &Population{
		IDs:                   make([]string, n),
		Catalog:               make([]CatalogEntry, n),
		MedianFlux:            make([]float64, n),
		NormalizedFlux:        make([][]float64, n),
		Variability:           make([]float64, n),
		NormalisedVariability: make([]float64, n),
		Excluded:              make([]ExclusionReason, n),
	}

	for i, s := range in.Stars {
		pop.IDs[i] = s.ID
		pop.MedianFlux[i] = math.NaN()
		pop.Variability[i] = math.NaN()
		pop.NormalisedVariability[i] = math.NaN()

		entry, ok := in.Catalog[s.ID]
		if !ok {
			pop.Excluded[i] = ExcludedMissingCatalog
			pop.Skipped++
			continue
		}
		pop.Catalog[i] = entry

		lc, err := Normalize(s.Flux, mask, variability)
		if err != nil {
			if errors.Is(err, ErrNoValidCadences) {
				pop.Excluded[i] = ExcludedNoCadences
			} else {
				pop.Excluded[i] = ExcludedBadMedian
			}
			continue
		}
		pop.MedianFlux[i] = lc.MedianFlux
		pop.NormalizedFlux[i] = lc.NormalizedFlux
		pop.Variability[i] = lc.Variability
	}

	ref := median(validValues(pop.Variability, pop.Excluded))
	for i := range pop.Variability {
		if !pop.Valid(i) {
			continue
		}
		if ref > 0 {
			pop.NormalisedVariability[i] = pop.Variability[i] / ref
		} else {
			pop.NormalisedVariability[i] = pop.Variability[i]
		}
	}
	return pop, nil
}

func validValues(xs []float64, excluded []ExclusionReason) []float64 {
	out := make([]float64, 0, len(xs))
	for i, v := range xs {
		if excluded[i] == ExcludedNone {
			out = append(out, v)
		}
	}
	return out
}
