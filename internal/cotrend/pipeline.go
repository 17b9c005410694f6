package cotrend

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/cotrend/internal/monitoring"
	"github.com/banshee-data/cotrend/internal/timeutil"
	"github.com/banshee-data/cotrend/internal/version"
)

// Pipeline runs the four phases in order, checkpointing after each one.
type Pipeline struct {
	Settings    Settings
	Checkpoints CheckpointStore // optional
	Diagnostics DiagnosticStore // optional
	Clock       timeutil.Clock
	// StopAfter ends Run once the named phase has been checkpointed.
	// PhaseNone runs to completion.
	StopAfter Phase

	logf func(format string, v ...interface{})
}

// NewPipeline returns a pipeline with a real clock and the [Pipeline] logger.
func NewPipeline(s Settings, checkpoints CheckpointStore, diagnostics DiagnosticStore) *Pipeline {
	return &Pipeline{
		Settings:    s,
		Checkpoints: checkpoints,
		Diagnostics: diagnostics,
		Clock:       timeutil.RealClock{},
		logf:        monitoring.Component("Pipeline"),
	}
}

func (p *Pipeline) log(format string, v ...interface{}) {
	if p.logf == nil {
		p.logf = monitoring.Component("Pipeline")
	}
	p.logf(format, v...)
}

func (p *Pipeline) clock() timeutil.Clock {
	if p.Clock == nil {
		p.Clock = timeutil.RealClock{}
	}
	return p.Clock
}

// Run executes the pipeline for key against in. A checkpoint stored under key
// is resumed from its last completed phase, so calling Run again after an
// interruption produces the same result as an uninterrupted run.
func (p *Pipeline) Run(ctx context.Context, key string, in *Input) (*RunState, error) {
	if err := p.Settings.Validate(PhaseNone); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, &ConfigError{Phase: PhaseNormalized, Err: err}
	}

	state, err := p.resume(ctx, key, in)
	if err != nil {
		return nil, err
	}

	for state.Phase() < PhaseCotrend {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		phase := state.Phase() + 1
		start := p.clock().Now()
		next, err := p.runPhase(ctx, phase, state, in)
		if err != nil {
			return state, err
		}
		state = next
		p.log("phase %s done in %v", phase, p.clock().Since(start))

		if p.Checkpoints != nil {
			if err := p.Checkpoints.SaveCheckpoint(ctx, key, state); err != nil {
				return state, fmt.Errorf("checkpoint %s: %w", phase, err)
			}
		}
		if p.StopAfter != PhaseNone && phase >= p.StopAfter {
			p.log("stopping after phase %s", phase)
			return state, nil
		}
	}
	return state, nil
}

func (p *Pipeline) resume(ctx context.Context, key string, in *Input) (*RunState, error) {
	if p.Checkpoints != nil {
		state, err := p.Checkpoints.LoadCheckpoint(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %q: %w", key, err)
		}
		if state != nil {
			if state.NStars != len(in.Stars) || state.NCadences != in.NCadences() {
				return nil, configErrorf(state.Phase(), ErrShapeMismatch,
					"checkpoint %q has %d stars x %d cadences, input has %d x %d",
					key, state.NStars, state.NCadences, len(in.Stars), in.NCadences())
			}
			if state.Settings != p.Settings.String() {
				p.log("checkpoint %q was written with different settings (%s)", key, state.Settings)
			}
			p.log("resuming run %s from phase %s", state.RunID, state.Phase())
			return state, nil
		}
	}
	at := p.clock().Now()
	return &RunState{
		RunID:       uuid.New().String(),
		Key:         key,
		Version:     version.String(),
		Settings:    p.Settings.String(),
		CreatedAt:   at,
		UpdatedAt:   at,
		NStars:      len(in.Stars),
		NCadences:   in.NCadences(),
		CadenceMask: append([]bool(nil), in.Mask()...),
	}, nil
}

func (p *Pipeline) runPhase(ctx context.Context, phase Phase, state *RunState, in *Input) (*RunState, error) {
	switch phase {
	case PhaseNormalized:
		return p.normalize(state, in)
	case PhaseBasis:
		return p.extract(state, in)
	case PhaseFit:
		return p.fit(state)
	case PhaseCotrend:
		return p.cotrend(ctx, state, in)
	}
	return nil, fmt.Errorf("no such phase %s", phase)
}

func (p *Pipeline) normalize(state *RunState, in *Input) (*RunState, error) {
	pop, err := NormalizePopulation(in, p.Settings.variability())
	if err != nil {
		return nil, &ConfigError{Phase: PhaseNormalized, Err: err}
	}
	p.log("normalized %d/%d stars (%d without catalog entry)", pop.NValid(), pop.NStars(), pop.Skipped)
	next := state.next(p.clock().Now())
	next.Normalized = pop
	return next, nil
}

func (p *Pipeline) extract(state *RunState, in *Input) (*RunState, error) {
	s := p.Settings
	quiet := SelectQuiet(state.Normalized, in.ObjectMask, s)
	extractor := BasisExtractor{MaxNCBVs: s.MaxNCBVs, SNRLimit: s.CBVSNRLimit, SNR: s.snr()}
	basis, err := extractor.Extract(state.Normalized, quiet, state.CadenceMask)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", PhaseBasis, err)
	}
	p.log("extracted %d CBVs from %d quiet stars (snr %v)", basis.NCBVs, len(quiet), basis.SNR)
	next := state.next(p.clock().Now())
	next.Basis = basis
	return next, nil
}

func (p *Pipeline) fit(state *RunState) (*RunState, error) {
	s := p.Settings
	fitter := CoefficientFitter{
		Method:         s.FitMethod,
		ClipSigma:      s.FitClipSigma,
		ClipIterations: s.FitClipIterations,
		ThetaBins:      s.ThetaBins,
		ThetaPadding:   s.ThetaPadding,
	}
	res, err := fitter.Fit(state.Normalized, state.Basis)
	if err != nil {
		return nil, &ConfigError{Phase: PhaseFit, Err: err}
	}
	singular := 0
	for _, b := range res.Singular {
		if b {
			singular++
		}
	}
	if singular > 0 {
		p.log("%d stars had degenerate CBV columns; affected coefficients set to zero", singular)
	}
	next := state.next(p.clock().Now())
	next.Fit = res
	return next, nil
}

func (p *Pipeline) cotrend(ctx context.Context, state *RunState, in *Input) (*RunState, error) {
	s := p.Settings
	pop, basis, fit := state.Normalized, state.Basis, state.Fit

	if s.Mode == ModeMAP && basis.Empty() {
		return nil, configErrorf(PhaseCotrend, ErrNoCBVs, "no CBV passed the SNR limit")
	}

	coefficients := fit.Coefficients
	var missing []int
	runPool := s.Mode == ModeMAP || (s.StoreMAPDiagnostics && p.Diagnostics != nil && !basis.Empty())
	if runPool {
		inputs, err := NewMapInputs(pop, basis, fit, in.PriorMask, s)
		if err != nil {
			return nil, &ConfigError{Phase: PhaseCotrend, Err: err}
		}
		est := &MapEstimator{
			Inputs: inputs,
			RunID:  state.RunID,
			Logf:   monitoring.Component("MapEstimator"),
		}
		if s.StoreMAPDiagnostics {
			est.Store = p.Diagnostics
		}
		out, err := est.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", PhaseCotrend, err)
		}
		p.log("MAP: %d computed, %d reused, %d missing, %d store errors",
			out.Computed, out.Reused, len(out.Missing), out.StoreErrors)
		if s.Mode == ModeMAP {
			coefficients = out.Coefficients
			missing = out.Missing
		}
	}

	res, err := LeastSquaresCotrender{}.Cotrend(pop, basis, coefficients)
	if err != nil {
		return nil, &ConfigError{Phase: PhaseCotrend, Err: err}
	}
	res.Mode = s.Mode
	res.Missing = missing
	next := state.next(p.clock().Now())
	next.Cotrend = res
	return next, nil
}
