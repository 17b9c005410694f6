package cotrend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// testVectors returns two unit-norm, mutually orthogonal, zero-mean vectors
// and a third that overlaps the first.
func testVectors(n int) [][]float64 {
	vs := make([][]float64, 3)
	for k := range vs {
		vs[k] = make([]float64, n)
	}
	for c := 0; c < n; c++ {
		x := 2 * math.Pi * float64(c) / float64(n)
		vs[0][c] = math.Sin(x)
		vs[1][c] = math.Cos(x)
		vs[2][c] = math.Sin(x) + math.Sin(2*x)
	}
	for _, v := range vs {
		floats.Scale(1/floats.Norm(v, 2), v)
	}
	return vs
}

func combine(vectors [][]float64, coeffs []float64) []float64 {
	y := make([]float64, len(vectors[0]))
	for k, v := range vectors {
		floats.AddScaled(y, coeffs[k], v)
	}
	return y
}

func TestFitStar_ExactRecovery(t *testing.T) {
	vs := testVectors(64)
	want := []float64{0.3, -0.2, 0.05}
	y := combine(vs, want)
	y[10] = math.NaN()

	f := CoefficientFitter{Method: FitSimultaneous}
	got, noise, err := f.FitStar(y, vs)
	require.NoError(t, err)
	for k := range want {
		assert.InDelta(t, want[k], got[k], 1e-10, "cbv %d", k)
	}
	assert.InDelta(t, 0, noise, 1e-10)

	_, corrected, err := LeastSquaresCotrender{}.Apply(y, got, vs)
	require.NoError(t, err)
	for c, v := range corrected {
		if c == 10 {
			assert.True(t, math.IsNaN(v))
			continue
		}
		assert.InDelta(t, 0, v, 1e-10, "cadence %d", c)
	}
}

func TestFitStar_SequentialMatchesSimultaneousWhenOrthogonal(t *testing.T) {
	vs := testVectors(64)[:2]
	y := combine(vs, []float64{0.7, 0.1})
	for c := range y {
		y[c] += 1e-3 * math.Sin(float64(c)*1.7)
	}

	seq, _, err := CoefficientFitter{Method: FitSequential}.FitStar(y, vs)
	require.NoError(t, err)
	sim, _, err := CoefficientFitter{Method: FitSimultaneous}.FitStar(y, vs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, sim, seq, 1e-12)
}

func TestFitStar_SequentialOrder(t *testing.T) {
	vs := testVectors(64)
	// Only the first vector is present. Fitting in id order assigns the
	// shared component to it and leaves nothing for the third.
	y := combine(vs, []float64{0.5, 0, 0})
	got, _, err := CoefficientFitter{Method: FitSequential}.FitStar(y, vs)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got[0], 1e-12)
	assert.InDelta(t, 0, got[2], 1e-12)
}

func TestFitStar_Singular(t *testing.T) {
	vs := testVectors(32)[:2]
	dead := make([]float64, 32)
	dead[0] = 1
	vs = append(vs, dead)

	y := combine(vs[:2], []float64{0.4, 0.2})
	y[0] = math.NaN()

	for _, m := range []FitMethod{FitSequential, FitSimultaneous} {
		t.Run(string(m), func(t *testing.T) {
			got, _, err := CoefficientFitter{Method: m}.FitStar(y, vs)
			assert.ErrorIs(t, err, ErrSingularFit)
			require.Len(t, got, 3)
			assert.InDelta(t, 0.4, got[0], 1e-10)
			assert.InDelta(t, 0.2, got[1], 1e-10)
			assert.Zero(t, got[2])
		})
	}
}

func TestFitStar_Clipping(t *testing.T) {
	vs := testVectors(100)[:1]
	y := combine(vs, []float64{0.5})
	for c := range y {
		y[c] += 1e-4 * math.Cos(float64(c)*2.3)
	}
	y[25] += 5 // a cosmic ray on the peak of the sine

	raw, _, err := CoefficientFitter{Method: FitSequential}.FitStar(y, vs)
	require.NoError(t, err)
	clipped, noise, err := CoefficientFitter{Method: FitSequential, ClipSigma: 5, ClipIterations: 3}.FitStar(y, vs)
	require.NoError(t, err)

	assert.Greater(t, math.Abs(raw[0]-0.5), 0.1)
	assert.InDelta(t, 0.5, clipped[0], 1e-3)
	assert.Less(t, noise, 1e-3)
}

func TestFitStar_Edges(t *testing.T) {
	f := CoefficientFitter{Method: FitSequential}
	_, _, err := f.FitStar([]float64{math.NaN()}, testVectors(1))
	assert.ErrorIs(t, err, ErrNoValidCadences)

	coeffs, noise, err := f.FitStar([]float64{-1, 0, 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, coeffs)
	assert.InDelta(t, 1.4826, noise, 1e-12)
}

func TestCoefficientFitter_Fit(t *testing.T) {
	vs := testVectors(40)[:2]
	want := [][]float64{{0.1, -0.3}, {0.2, 0.05}, {0, 0}}
	pop := &Population{
		IDs:            []string{"a", "b", "c", "x"},
		NormalizedFlux: [][]float64{combine(vs, want[0]), combine(vs, want[1]), combine(vs, want[2]), nil},
		Excluded:       []ExclusionReason{ExcludedNone, ExcludedNone, ExcludedNone, ExcludedBadMedian},
	}
	basis := &Basis{NCBVs: 2, Vectors: vs}
	f := CoefficientFitter{Method: FitSimultaneous, ThetaBins: 11, ThetaPadding: 0.1}

	res, err := f.Fit(pop, basis)
	require.NoError(t, err)
	require.Len(t, res.Coefficients, 2)
	for i := range want {
		assert.InDeltaSlice(t, want[i], res.Coefficient(i), 1e-10, "star %d", i)
	}
	assert.True(t, math.IsNaN(res.Coefficients[0][3]))
	assert.True(t, math.IsNaN(res.Noise[3]))

	// theta[0] spans [0, 0.2] padded by 0.02 on each side.
	require.Len(t, res.Theta[0], 11)
	assert.InDelta(t, -0.02, res.Theta[0][0], 1e-10)
	assert.InDelta(t, 0.22, res.Theta[0][10], 1e-10)
	assert.InDelta(t, -0.335, res.Theta[1][0], 1e-10)
	assert.InDelta(t, 0.085, res.Theta[1][10], 1e-10)
}

func TestCoefficientFitter_FitErrors(t *testing.T) {
	pop := &Population{
		IDs:            []string{"a"},
		NormalizedFlux: [][]float64{{1, 2, 3}},
		Excluded:       []ExclusionReason{ExcludedNone},
	}
	_, err := CoefficientFitter{Method: "ridge"}.Fit(pop, nil)
	assert.ErrorIs(t, err, ErrUnknownFitMethod)

	_, err = CoefficientFitter{Method: FitSequential}.Fit(pop, &Basis{NCBVs: 1, Vectors: testVectors(5)[:1]})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	res, err := CoefficientFitter{Method: FitSequential, ThetaBins: 3}.Fit(pop, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Coefficients)
}

func TestThetaGrid_Degenerate(t *testing.T) {
	f := CoefficientFitter{ThetaBins: 5, ThetaPadding: 0.1}

	grid := f.thetaGrid([]float64{2, 2, math.NaN()})
	assert.InDelta(t, 1.8, grid[0], 1e-12)
	assert.InDelta(t, 2.2, grid[4], 1e-12)

	grid = f.thetaGrid(nil)
	assert.InDelta(t, -1.2, grid[0], 1e-12)
	assert.InDelta(t, 1.2, grid[4], 1e-12)
}
