package photometry

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/cotrend/internal/cotrend"
	"github.com/banshee-data/cotrend/internal/fsutil"
	"github.com/banshee-data/cotrend/internal/security"
)

// Output file names written by Writer.
const (
	CorrectedFile    = "corrected.csv"
	CorrectionFile   = "correction.csv"
	CoefficientsFile = "coefficients.csv"
	CBVFile          = "cbvs.csv"
)

// Writer writes run results as CSV under Dir.
type Writer struct {
	FS  fsutil.FileSystem
	Dir string
}

// NewWriter returns a Writer over the OS filesystem.
func NewWriter(dir string) *Writer {
	return &Writer{FS: fsutil.OSFileSystem{}, Dir: dir}
}

// WriteResults writes the corrected flux, correction model, coefficient
// table and CBVs of a completed run and returns the paths written. Star rows
// follow input order; excluded stars and masked cadences are written as NaN.
func (w *Writer) WriteResults(state *cotrend.RunState) ([]string, error) {
	if state.Phase() < cotrend.PhaseCotrend {
		return nil, fmt.Errorf("run %s has only reached phase %s", state.RunID, state.Phase())
	}
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", w.Dir, err)
	}
	pop, res := state.Normalized, state.Cotrend

	writers := []struct {
		name  string
		write func(*csv.Writer) error
	}{
		{CorrectedFile, func(cw *csv.Writer) error { return writeSeries(cw, pop, res.Corrected, state.NCadences) }},
		{CorrectionFile, func(cw *csv.Writer) error { return writeSeries(cw, pop, res.Correction, state.NCadences) }},
		{CoefficientsFile, func(cw *csv.Writer) error { return writeCoefficients(cw, pop, res) }},
		{CBVFile, func(cw *csv.Writer) error { return writeCBVs(cw, state.Basis) }},
	}

	var paths []string
	for _, wr := range writers {
		path := filepath.Join(w.Dir, wr.name)
		if err := w.writeFile(path, wr.write); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// DiagnosticPath returns the file a star's diagnostic dump is written to.
func (w *Writer) DiagnosticPath(starID string) string {
	return filepath.Join(w.Dir, "diagnostic_"+security.SanitizeFilename(starID)+".csv")
}

// WriteDiagnostic dumps one MAP record as long-format CSV:
// cbv,theta,prior,conditional,posterior.
func (w *Writer) WriteDiagnostic(d *cotrend.Diagnostic) (string, error) {
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", w.Dir, err)
	}
	path := w.DiagnosticPath(d.StarID)
	err := w.writeFile(path, func(cw *csv.Writer) error {
		if err := cw.Write([]string{"cbv", "theta", "prior", "conditional", "posterior"}); err != nil {
			return err
		}
		for k, theta := range d.Theta {
			for t, th := range theta {
				row := []string{
					strconv.Itoa(k),
					formatFloat(th),
					formatFloat(curveAt(d.Prior, k, t)),
					formatFloat(curveAt(d.Conditional, k, t)),
					formatFloat(curveAt(d.Posterior, k, t)),
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return path, err
}

func (w *Writer) writeFile(path string, write func(*csv.Writer) error) (err error) {
	f, err := w.FS.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	cw := csv.NewWriter(f)
	if err := write(cw); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeSeries(cw *csv.Writer, pop *cotrend.Population, rows [][]float64, nCadences int) error {
	header := make([]string, nCadences+1)
	header[0] = "star_id"
	for c := 0; c < nCadences; c++ {
		header[c+1] = "c" + strconv.Itoa(c)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, nCadences+1)
	for i, id := range pop.IDs {
		rec[0] = id
		for c := 0; c < nCadences; c++ {
			v := "NaN"
			if rows[i] != nil {
				v = formatFloat(rows[i][c])
			}
			rec[c+1] = v
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeCoefficients(cw *csv.Writer, pop *cotrend.Population, res *cotrend.CotrendResult) error {
	header := []string{"star_id"}
	for k := range res.Coefficients {
		header = append(header, "cbv_"+strconv.Itoa(k))
	}
	header = append(header, "mode", "map_missing", "excluded")
	if err := cw.Write(header); err != nil {
		return err
	}
	missing := make(map[int]bool, len(res.Missing))
	for _, i := range res.Missing {
		missing[i] = true
	}
	for i, id := range pop.IDs {
		rec := []string{id}
		for k := range res.Coefficients {
			rec = append(rec, formatFloat(res.Coefficients[k][i]))
		}
		rec = append(rec, string(res.Mode), strconv.FormatBool(missing[i]), string(pop.Excluded[i]))
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func writeCBVs(cw *csv.Writer, basis *cotrend.Basis) error {
	if err := cw.Write([]string{"cbv", "snr", "singular_value", "values"}); err != nil {
		return err
	}
	if basis == nil {
		return nil
	}
	for k, vec := range basis.Vectors {
		rec := []string{strconv.Itoa(k), formatFloat(basis.SNR[k]), formatFloat(basis.SingularValue[k])}
		for _, v := range vec {
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

func curveAt(curves [][]float64, k, t int) float64 {
	if k >= len(curves) || t >= len(curves[k]) {
		return 0
	}
	return curves[k][t]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
