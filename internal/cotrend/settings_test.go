package cotrend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cotrend/internal/config"
)

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.EmptyCotrendConfig()
	mode := config.ModeLS
	bins := 77
	cfg.CBVMode = &mode
	cfg.ThetaBins = &bins
	cfg.DimWeights = []float64{2, 3, 4}

	s := SettingsFromConfig(cfg)
	assert.Equal(t, ModeLS, s.Mode)
	assert.Equal(t, 77, s.ThetaBins)
	assert.Equal(t, [3]float64{2, 3, 4}, s.DimWeights)
	assert.Equal(t, FitSequential, s.FitMethod)
	assert.Equal(t, 8, s.MaxNCBVs)
	require.NoError(t, s.Validate(PhaseNone))

	assert.Contains(t, s.String(), "mode=LS")
	assert.Contains(t, s.String(), "fit=sequential")
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   error
	}{
		{"fit method", func(s *Settings) { s.FitMethod = "ridge" }, ErrUnknownFitMethod},
		{"mode", func(s *Settings) { s.Mode = "PDC" }, ErrUnknownMode},
		{"pool", func(s *Settings) { s.PoolSize = 0 }, ErrInvalidSettings},
		{"max cbvs", func(s *Settings) { s.MaxNCBVs = -1 }, ErrInvalidSettings},
		{"bins", func(s *Settings) { s.ThetaBins = 1 }, ErrInvalidSettings},
		{"variability", func(s *Settings) { s.PriorNormalisedVariabilityLimit = 0 }, ErrInvalidSettings},
		{"neighbours", func(s *Settings) { s.PriorNNeighbours = 0 }, ErrInvalidSettings},
		{"trim", func(s *Settings) { s.PriorTrimLow, s.PriorTrimHigh = 50, 50 }, ErrInvalidSettings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate(PhaseFit)
			assert.ErrorIs(t, err, tt.want)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, PhaseFit, cfgErr.Phase)
			assert.Contains(t, err.Error(), "fit: ")
		})
	}
}

func TestSettings_DefaultStatistics(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, []float64{4, 2, 1}, s.snr()([]float64{4, 2, 1}, 3))
	assert.InDelta(t, 1.4826, s.variability()([]float64{-1, 0, 1}), 1e-12)

	s.Variability = func([]float64) float64 { return 7 }
	s.SNR = func(sv []float64, _ int) []float64 { return sv }
	assert.Equal(t, 7.0, s.variability()(nil))
	assert.Equal(t, []float64{3}, s.snr()([]float64{3}, 0))
}
