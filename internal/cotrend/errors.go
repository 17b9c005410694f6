package cotrend

import (
	"errors"
	"fmt"
)

// Per-star and per-CBV conditions. These exclude one star (or one CBV of one
// star) from a phase and are never fatal to a run.
var (
	ErrNonPositiveMedian = errors.New("median flux is not positive")
	ErrNoValidCadences   = errors.New("no valid cadences")
	ErrSingularFit       = errors.New("design matrix is singular")
	ErrPriorUnavailable  = errors.New("prior unavailable")
)

// Structural conditions. Any of these aborts the phase that detects it.
var (
	ErrShapeMismatch    = errors.New("array shape mismatch")
	ErrUnknownFitMethod = errors.New("unknown fit method")
	ErrUnknownMode      = errors.New("unknown cotrend mode")
	ErrNoCBVs           = errors.New("MAP mode requires at least one CBV")
	ErrInvalidSettings  = errors.New("invalid settings")
)

// ConfigError marks a fatal configuration or shape error raised at the start
// of a phase.
type ConfigError struct {
	Phase Phase
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(phase Phase, sentinel error, format string, args ...interface{}) error {
	return &ConfigError{Phase: phase, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// ExclusionReason records why a star was dropped from downstream phases.
type ExclusionReason string

const (
	ExcludedNone           ExclusionReason = ""
	ExcludedMissingCatalog ExclusionReason = "missing_catalog"
	ExcludedBadMedian      ExclusionReason = "bad_median"
	ExcludedNoCadences     ExclusionReason = "no_valid_cadences"
)
