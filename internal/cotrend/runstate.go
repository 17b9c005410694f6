package cotrend

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"time"
)

// Phase identifies how far a run has progressed.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseNormalized
	PhaseBasis
	PhaseFit
	PhaseCotrend
)

var phaseNames = map[Phase]string{
	PhaseNone:       "none",
	PhaseNormalized: "normalized",
	PhaseBasis:      "basis",
	PhaseFit:        "fit",
	PhaseCotrend:    "cotrend",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase maps a phase name back to its Phase.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return p, nil
		}
	}
	return PhaseNone, fmt.Errorf("unknown phase %q", name)
}

// RunState is the checkpointable state of one run. Each phase returns a new
// RunState with one more field populated; a populated field is never
// rewritten. Phase is derived from which fields are present.
type RunState struct {
	RunID     string
	Key       string
	Version   string
	Settings  string
	CreatedAt time.Time
	UpdatedAt time.Time

	NStars      int
	NCadences   int
	CadenceMask []bool

	Normalized *Population
	Basis      *Basis
	Fit        *FitResult
	Cotrend    *CotrendResult
}

// Phase returns the last completed phase.
func (s *RunState) Phase() Phase {
	switch {
	case s == nil || s.Normalized == nil:
		return PhaseNone
	case s.Basis == nil:
		return PhaseNormalized
	case s.Fit == nil:
		return PhaseBasis
	case s.Cotrend == nil:
		return PhaseFit
	default:
		return PhaseCotrend
	}
}

func (s *RunState) next(at time.Time) *RunState {
	n := *s
	n.UpdatedAt = at
	return &n
}

// Encode serialises s as gzip-compressed gob.
func (s *RunState) Encode() ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gw).Encode(s); err != nil {
		gw.Close()
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRunState reverses Encode.
func DecodeRunState(blob []byte) (*RunState, error) {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	var s RunState
	if err := gob.NewDecoder(gr).Decode(&s); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &s, nil
}

// EncodeDiagnostic serialises a MAP record as gzip-compressed gob.
func EncodeDiagnostic(d *Diagnostic) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gw).Encode(d); err != nil {
		gw.Close()
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDiagnostic reverses EncodeDiagnostic.
func DecodeDiagnostic(blob []byte) (*Diagnostic, error) {
	gr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	var d Diagnostic
	if err := gob.NewDecoder(gr).Decode(&d); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &d, nil
}
