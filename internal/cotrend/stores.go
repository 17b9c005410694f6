package cotrend

import "context"

// CheckpointStore persists RunState between phases. LoadCheckpoint returns
// (nil, nil) when no checkpoint exists for key.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, key string, state *RunState) error
	LoadCheckpoint(ctx context.Context, key string) (*RunState, error)
}

// DiagnosticStore persists MAP records one star at a time so a partially
// completed MAP phase can resume.
type DiagnosticStore interface {
	SaveDiagnostic(ctx context.Context, runID string, d *Diagnostic) error
	LoadDiagnostic(ctx context.Context, runID, starID string) (*Diagnostic, error)
	// PosteriorPeaks returns the stored posterior peaks for run, keyed by
	// star ID. Only records written in mode are returned.
	PosteriorPeaks(ctx context.Context, runID string, mode Mode) (map[string][]float64, error)
}
