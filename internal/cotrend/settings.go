package cotrend

import (
	"fmt"

	"github.com/banshee-data/cotrend/internal/config"
)

// FitMethod selects how per-star coefficients are regressed.
type FitMethod string

const (
	FitSequential   FitMethod = config.FitMethodSequential
	FitSimultaneous FitMethod = config.FitMethodSimultaneous
)

// Mode selects how the final coefficients are chosen.
type Mode string

const (
	ModeLS  Mode = config.ModeLS
	ModeMAP Mode = config.ModeMAP
)

// Settings holds every engine parameter for a run. Build one with
// DefaultSettings or SettingsFromConfig.
type Settings struct {
	PoolSize int

	MaxNCBVs                   int
	CBVSNRLimit                float64
	NormalisedVariabilityLimit float64
	CBVMagMin, CBVMagMax       float64

	FitMethod         FitMethod
	FitClipSigma      float64
	FitClipIterations int
	ThetaBins         int
	ThetaPadding      float64

	Mode                            Mode
	PriorNormalisedVariabilityLimit float64
	DimWeights                      [3]float64
	PriorNNeighbours                int
	PriorTrimLow, PriorTrimHigh     float64
	StoreMAPDiagnostics             bool

	// Pluggable statistics; nil selects the defaults.
	SNR         SNRStatistic
	Variability VariabilityStatistic
}

// DefaultSettings returns settings loaded from an empty configuration.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.EmptyCotrendConfig())
}

// SettingsFromConfig builds Settings from a loaded CotrendConfig.
func SettingsFromConfig(cfg *config.CotrendConfig) Settings {
	w := cfg.GetDimWeights()
	return Settings{
		PoolSize:                        cfg.GetPoolSize(),
		MaxNCBVs:                        cfg.GetMaxNCBVs(),
		CBVSNRLimit:                     cfg.GetCBVSNRLimit(),
		NormalisedVariabilityLimit:      cfg.GetNormalisedVariabilityLimit(),
		CBVMagMin:                       cfg.GetCBVMagMin(),
		CBVMagMax:                       cfg.GetCBVMagMax(),
		FitMethod:                       FitMethod(cfg.GetCBVFitMethod()),
		FitClipSigma:                    cfg.GetFitClipSigma(),
		FitClipIterations:               cfg.GetFitClipIterations(),
		ThetaBins:                       cfg.GetThetaBins(),
		ThetaPadding:                    cfg.GetThetaPadding(),
		Mode:                            Mode(cfg.GetCBVMode()),
		PriorNormalisedVariabilityLimit: cfg.GetPriorNormalisedVariabilityLimit(),
		DimWeights:                      [3]float64{w[0], w[1], w[2]},
		PriorNNeighbours:                cfg.GetPriorNNeighbours(),
		PriorTrimLow:                    cfg.GetPriorTrimLow(),
		PriorTrimHigh:                   cfg.GetPriorTrimHigh(),
		StoreMAPDiagnostics:             cfg.GetStoreMAPDiagnostics(),
	}
}

// Validate reports the first structural problem with s, tagged with phase.
func (s Settings) Validate(phase Phase) error {
	switch s.FitMethod {
	case FitSequential, FitSimultaneous:
	default:
		return configErrorf(phase, ErrUnknownFitMethod, "%q", s.FitMethod)
	}
	switch s.Mode {
	case ModeLS, ModeMAP:
	default:
		return configErrorf(phase, ErrUnknownMode, "%q", s.Mode)
	}
	if s.PoolSize < 1 {
		return configErrorf(phase, ErrInvalidSettings, "pool size %d", s.PoolSize)
	}
	if s.MaxNCBVs < 0 {
		return configErrorf(phase, ErrInvalidSettings, "max_n_cbvs %d", s.MaxNCBVs)
	}
	if s.ThetaBins < 2 {
		return configErrorf(phase, ErrInvalidSettings, "theta bins %d", s.ThetaBins)
	}
	if s.NormalisedVariabilityLimit <= 0 || s.PriorNormalisedVariabilityLimit <= 0 {
		return configErrorf(phase, ErrInvalidSettings, "variability limits must be positive")
	}
	if s.PriorNNeighbours < 1 {
		return configErrorf(phase, ErrInvalidSettings, "prior neighbours %d", s.PriorNNeighbours)
	}
	if s.PriorTrimLow < 0 || s.PriorTrimHigh > 100 || s.PriorTrimLow >= s.PriorTrimHigh {
		return configErrorf(phase, ErrInvalidSettings, "trim percentiles %v/%v", s.PriorTrimLow, s.PriorTrimHigh)
	}
	return nil
}

func (s Settings) snr() SNRStatistic {
	if s.SNR != nil {
		return s.SNR
	}
	return MedianTailSNR
}

func (s Settings) variability() VariabilityStatistic {
	if s.Variability != nil {
		return s.Variability
	}
	return RobustScatter
}

func (s Settings) String() string {
	return fmt.Sprintf("fit=%s mode=%s max_n_cbvs=%d snr_limit=%.2f var_limit=%.2f prior_var_limit=%.2f pool=%d",
		s.FitMethod, s.Mode, s.MaxNCBVs, s.CBVSNRLimit, s.NormalisedVariabilityLimit,
		s.PriorNormalisedVariabilityLimit, s.PoolSize)
}
