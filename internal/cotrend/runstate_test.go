package cotrend

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// denseEqual compares gonum matrices by value; cmp cannot see their
// unexported storage.
var denseEqual = cmp.Comparer(func(a, b *mat.Dense) bool {
	if a == nil || b == nil {
		return a == b
	}
	return mat.Equal(a, b)
})

func TestPhase(t *testing.T) {
	var s *RunState
	assert.Equal(t, PhaseNone, s.Phase())

	s = &RunState{}
	assert.Equal(t, PhaseNone, s.Phase())
	s.Normalized = &Population{}
	assert.Equal(t, PhaseNormalized, s.Phase())
	s.Basis = &Basis{}
	assert.Equal(t, PhaseBasis, s.Phase())
	s.Fit = &FitResult{}
	assert.Equal(t, PhaseFit, s.Phase())
	s.Cotrend = &CotrendResult{}
	assert.Equal(t, PhaseCotrend, s.Phase())
}

func TestParsePhase(t *testing.T) {
	for _, p := range []Phase{PhaseNone, PhaseNormalized, PhaseBasis, PhaseFit, PhaseCotrend} {
		got, err := ParsePhase(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePhase("done")
	assert.Error(t, err)
	assert.Equal(t, "phase(9)", Phase(9).String())
}

func TestRunState_Next(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &RunState{RunID: "r", CreatedAt: at, UpdatedAt: at}
	n := s.next(at.Add(time.Hour))
	n.Normalized = &Population{}

	assert.Equal(t, PhaseNone, s.Phase(), "original untouched")
	assert.Equal(t, at, s.UpdatedAt)
	assert.Equal(t, "r", n.RunID)
	assert.Equal(t, at.Add(time.Hour), n.UpdatedAt)
}

func TestRunState_EncodeRoundTrip(t *testing.T) {
	fx := fitField(t)
	cot, err := LeastSquaresCotrender{}.Cotrend(fx.pop, fx.basis, fx.fit.Coefficients)
	require.NoError(t, err)

	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	want := &RunState{
		RunID:       "00000000-0000-0000-0000-000000000001",
		Key:         "field",
		Version:     "dev (unknown)",
		Settings:    fx.s.String(),
		CreatedAt:   at,
		UpdatedAt:   at,
		NStars:      fx.pop.NStars(),
		NCadences:   len(fx.in.Times),
		CadenceMask: fx.in.Mask(),
		Normalized:  fx.pop,
		Basis:       fx.basis,
		Fit:         fx.fit,
		Cotrend:     cot,
	}
	blob, err := want.Encode()
	require.NoError(t, err)

	got, err := DecodeRunState(blob)
	require.NoError(t, err)
	assert.Equal(t, PhaseCotrend, got.Phase())
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs(), cmpopts.EquateEmpty(), denseEqual); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeRunState([]byte("not gzip"))
	assert.Error(t, err)
}

func TestDiagnostic_EncodeRoundTrip(t *testing.T) {
	fx := fitField(t)
	m, err := NewMapInputs(fx.pop, fx.basis, fx.fit, nil, fx.s)
	require.NoError(t, err)
	want, err := m.EstimateStar(12)
	require.NoError(t, err)

	blob, err := EncodeDiagnostic(want)
	require.NoError(t, err)
	got, err := DecodeDiagnostic(blob)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmpopts.EquateNaNs(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = DecodeDiagnostic(nil)
	assert.Error(t, err)
}
