package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/cotrend/internal/cotrend"
	"github.com/banshee-data/cotrend/internal/timeutil"
)

// ErrDiagnosticNotFound is returned by LoadDiagnostic for an unknown star.
var ErrDiagnosticNotFound = errors.New("diagnostic not found")

var _ cotrend.DiagnosticStore = (*DiagnosticStore)(nil)

// DiagnosticStore persists MAP records keyed by (run ID, star ID). The full
// record is a gzip-compressed gob blob; the mode, posterior peaks and mean
// prior weight are duplicated into plain columns for resume and reporting.
type DiagnosticStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewDiagnosticStore creates a new DiagnosticStore. A nil clock uses the
// real clock.
func NewDiagnosticStore(db *sql.DB, clock timeutil.Clock) *DiagnosticStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DiagnosticStore{db: db, clock: clock}
}

// SaveDiagnostic writes or replaces the record for d.StarID.
func (s *DiagnosticStore) SaveDiagnostic(ctx context.Context, runID string, d *cotrend.Diagnostic) error {
	blob, err := cotrend.EncodeDiagnostic(d)
	if err != nil {
		return fmt.Errorf("encode diagnostic: %w", err)
	}
	peaks, err := json.Marshal(nanToNull(d.PosteriorPeak))
	if err != nil {
		return fmt.Errorf("marshal posterior peaks: %w", err)
	}
	created := s.clock.Now().UnixNano()
	return retryOnBusy(s.clock, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cotrend_map_diagnostics (
				run_id, star_id, mode, posterior_peaks_json, prior_weight, record_blob, created_at_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, star_id) DO UPDATE SET
				mode = excluded.mode,
				posterior_peaks_json = excluded.posterior_peaks_json,
				prior_weight = excluded.prior_weight,
				record_blob = excluded.record_blob,
				created_at_ns = excluded.created_at_ns`,
			runID, d.StarID, string(d.Mode), string(peaks), d.MeanPriorWeight(), blob, created,
		)
		return err
	})
}

// LoadDiagnostic returns the full record for one star.
func (s *DiagnosticStore) LoadDiagnostic(ctx context.Context, runID, starID string) (*cotrend.Diagnostic, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT record_blob FROM cotrend_map_diagnostics
		WHERE run_id = ? AND star_id = ?`, runID, starID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s star %s", ErrDiagnosticNotFound, runID, starID)
	}
	if err != nil {
		return nil, fmt.Errorf("query diagnostic: %w", err)
	}
	return cotrend.DecodeDiagnostic(blob)
}

// PosteriorPeaks returns the stored posterior peaks of every star in run
// whose record was written in mode. Records whose peaks contain a null are
// skipped so the star is recomputed.
func (s *DiagnosticStore) PosteriorPeaks(ctx context.Context, runID string, mode cotrend.Mode) (map[string][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT star_id, posterior_peaks_json FROM cotrend_map_diagnostics
		WHERE run_id = ? AND mode = ?`, runID, string(mode))
	if err != nil {
		return nil, fmt.Errorf("query posterior peaks: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float64)
	for rows.Next() {
		var star, raw string
		if err := rows.Scan(&star, &raw); err != nil {
			return nil, fmt.Errorf("scan posterior peaks: %w", err)
		}
		var peaks []*float64
		if err := json.Unmarshal([]byte(raw), &peaks); err != nil {
			return nil, fmt.Errorf("star %s: decode posterior peaks: %w", star, err)
		}
		vals, ok := nullToValues(peaks)
		if !ok {
			continue
		}
		out[star] = vals
	}
	return out, rows.Err()
}

// MeanPriorWeights returns the mean prior weight per star for run.
func (s *DiagnosticStore) MeanPriorWeights(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT star_id, prior_weight FROM cotrend_map_diagnostics
		WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query prior weights: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var star string
		var w float64
		if err := rows.Scan(&star, &w); err != nil {
			return nil, fmt.Errorf("scan prior weight: %w", err)
		}
		out[star] = w
	}
	return out, rows.Err()
}

// DeleteRun removes every record of run.
func (s *DiagnosticStore) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(s.clock, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cotrend_map_diagnostics WHERE run_id = ?`, runID)
		return err
	})
}

// JSON has no NaN, so non-finite peaks are stored as null.
func nanToNull(xs []float64) []*float64 {
	out := make([]*float64, len(xs))
	for i := range xs {
		if !math.IsNaN(xs[i]) && !math.IsInf(xs[i], 0) {
			v := xs[i]
			out[i] = &v
		}
	}
	return out
}

func nullToValues(xs []*float64) ([]float64, bool) {
	out := make([]float64, len(xs))
	for i, p := range xs {
		if p == nil {
			return nil, false
		}
		out[i] = *p
	}
	return out, true
}
