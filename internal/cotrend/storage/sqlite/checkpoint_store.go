package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cotrend/internal/cotrend"
	"github.com/banshee-data/cotrend/internal/timeutil"
)

var _ cotrend.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore persists one RunState per run key as a gzip-compressed
// gob blob.
type CheckpointStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewCheckpointStore creates a new CheckpointStore. A nil clock uses the
// real clock.
func NewCheckpointStore(db *sql.DB, clock timeutil.Clock) *CheckpointStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &CheckpointStore{db: db, clock: clock}
}

// CheckpointInfo describes a stored checkpoint without decoding its blob.
type CheckpointInfo struct {
	RunKey    string
	RunID     string
	Phase     string
	Version   string
	UpdatedAt time.Time
	BlobBytes int
}

// SaveCheckpoint replaces the checkpoint stored under key.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, key string, state *cotrend.RunState) error {
	blob, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	return retryOnBusy(s.clock, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cotrend_checkpoints (run_key, run_id, phase, state_blob, version, updated_at_ns)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_key) DO UPDATE SET
				run_id = excluded.run_id,
				phase = excluded.phase,
				state_blob = excluded.state_blob,
				version = excluded.version,
				updated_at_ns = excluded.updated_at_ns`,
			key, state.RunID, state.Phase().String(), blob, state.Version, state.UpdatedAt.UnixNano(),
		)
		return err
	})
}

// LoadCheckpoint returns the checkpoint stored under key, or nil when there
// is none.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, key string) (*cotrend.RunState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_blob FROM cotrend_checkpoints WHERE run_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	state, err := cotrend.DecodeRunState(blob)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %q: %w", key, err)
	}
	return state, nil
}

// RunID returns the run ID checkpointed under key without decoding the
// state blob. ok is false when there is no checkpoint.
func (s *CheckpointStore) RunID(ctx context.Context, key string) (runID string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT run_id FROM cotrend_checkpoints WHERE run_key = ?`, key).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query run id: %w", err)
	}
	return runID, true, nil
}

// DeleteCheckpoint removes the checkpoint stored under key, if any.
func (s *CheckpointStore) DeleteCheckpoint(ctx context.Context, key string) error {
	return retryOnBusy(s.clock, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM cotrend_checkpoints WHERE run_key = ?`, key)
		return err
	})
}

// List returns every stored checkpoint, most recently updated first.
func (s *CheckpointStore) List(ctx context.Context) ([]CheckpointInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_key, run_id, phase, version, updated_at_ns, length(state_blob)
		FROM cotrend_checkpoints
		ORDER BY updated_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		var updated int64
		if err := rows.Scan(&info.RunKey, &info.RunID, &info.Phase, &info.Version, &updated, &info.BlobBytes); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}
