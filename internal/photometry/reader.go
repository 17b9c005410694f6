// Package photometry reads run inputs from CSV files and writes cotrending
// results back out. The engine never builds file paths; this package does.
package photometry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/cotrend/internal/config"
	"github.com/banshee-data/cotrend/internal/cotrend"
	"github.com/banshee-data/cotrend/internal/fsutil"
	"github.com/banshee-data/cotrend/internal/monitoring"
	"github.com/banshee-data/cotrend/internal/security"
)

var logf = monitoring.Component("Photometry")

// Files names the input files relative to the loader root. Empty mask names
// leave the corresponding mask unset.
type Files struct {
	Times       string
	Flux        string
	Catalog     string
	CadenceMask string
	ObjectMask  string
	PriorMask   string
}

// FilesFromConfig reads the file names from cfg.
func FilesFromConfig(cfg *config.CotrendConfig) Files {
	return Files{
		Times:       cfg.GetTimesFile(),
		Flux:        cfg.GetFluxFile(),
		Catalog:     cfg.GetCatalogFile(),
		CadenceMask: cfg.GetCadenceMaskFile(),
		ObjectMask:  cfg.GetObjectsMaskFile(),
		PriorMask:   cfg.GetPriorMaskFile(),
	}
}

// Loader assembles a cotrend.Input from CSV files under Root.
type Loader struct {
	FS   fsutil.FileSystem
	Root string
	// CheckPath rejects resolved paths outside Root. nil skips the check,
	// which only in-memory test filesystems need.
	CheckPath func(path, root string) error
}

// NewLoader returns a Loader over the OS filesystem that refuses paths
// escaping root.
func NewLoader(root string) *Loader {
	return &Loader{
		FS:        fsutil.OSFileSystem{},
		Root:      root,
		CheckPath: security.ValidatePathWithinDirectory,
	}
}

// Load reads every configured file and returns the run input. Stars listed
// in a star mask but absent from the flux file are ignored; stars absent from
// a star mask are ineligible.
func (l *Loader) Load(files Files) (*cotrend.Input, error) {
	in := &cotrend.Input{}
	var err error

	if in.Times, err = readWith(l, files.Times, ReadTimes); err != nil {
		return nil, err
	}
	if in.Stars, err = readWith(l, files.Flux, ReadFluxes); err != nil {
		return nil, err
	}
	if in.Catalog, err = readWith(l, files.Catalog, ReadCatalog); err != nil {
		return nil, err
	}
	if files.CadenceMask != "" {
		if in.CadenceMask, err = readWith(l, files.CadenceMask, ReadCadenceMask); err != nil {
			return nil, err
		}
	}
	if files.ObjectMask != "" {
		m, err := readWith(l, files.ObjectMask, ReadStarMask)
		if err != nil {
			return nil, err
		}
		in.ObjectMask = alignMask(in.Stars, m)
	}
	if files.PriorMask != "" {
		m, err := readWith(l, files.PriorMask, ReadStarMask)
		if err != nil {
			return nil, err
		}
		in.PriorMask = alignMask(in.Stars, m)
	}

	logf("loaded %d stars x %d cadences, %d catalog rows", len(in.Stars), len(in.Times), len(in.Catalog))
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func (l *Loader) resolve(name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.Root, name)
	}
	if l.CheckPath != nil {
		if err := l.CheckPath(path, l.Root); err != nil {
			return "", err
		}
	}
	return path, nil
}

func readWith[T any](l *Loader, name string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	path, err := l.resolve(name)
	if err != nil {
		return zero, err
	}
	f, err := l.FS.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func alignMask(stars []cotrend.Star, m map[string]bool) []bool {
	out := make([]bool, len(stars))
	for i, s := range stars {
		out[i] = m[s.ID]
	}
	return out
}

// readRecords returns every CSV record after the header. The header must
// start with wantFirst.
func readRecords(r io.Reader, wantFirst string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file")
	}
	if err != nil {
		return nil, err
	}
	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), wantFirst) {
		return nil, fmt.Errorf("header must start with %q, got %q", wantFirst, strings.Join(header, ","))
	}
	return cr.ReadAll()
}

// parseFloat accepts the empty string as missing.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// ReadTimes parses a one-column "time" file.
func ReadTimes(r io.Reader) ([]float64, error) {
	recs, err := readRecords(r, "time")
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(recs))
	for i, rec := range recs {
		if out[i], err = parseFloat(rec[0]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return out, nil
}

// ReadFluxes parses a wide file: star_id followed by one column per cadence.
// Empty cells and "NaN" are missing samples.
func ReadFluxes(r io.Reader) ([]cotrend.Star, error) {
	recs, err := readRecords(r, "star_id")
	if err != nil {
		return nil, err
	}
	stars := make([]cotrend.Star, len(recs))
	seen := make(map[string]bool, len(recs))
	for i, rec := range recs {
		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, fmt.Errorf("row %d: empty star_id", i+2)
		}
		if seen[id] {
			return nil, fmt.Errorf("row %d: duplicate star_id %q", i+2, id)
		}
		seen[id] = true
		flux := make([]float64, len(rec)-1)
		for c, cell := range rec[1:] {
			if flux[c], err = parseFloat(cell); err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+2, c+2, err)
			}
		}
		stars[i] = cotrend.Star{ID: id, Flux: flux}
	}
	return stars, nil
}

// ReadCatalog parses star_id,ra,dec,mag rows.
func ReadCatalog(r io.Reader) (cotrend.Catalog, error) {
	recs, err := readRecords(r, "star_id")
	if err != nil {
		return nil, err
	}
	cat := make(cotrend.Catalog, len(recs))
	for i, rec := range recs {
		if len(rec) < 4 {
			return nil, fmt.Errorf("row %d: want 4 columns, got %d", i+2, len(rec))
		}
		var vals [3]float64
		for j := range vals {
			if vals[j], err = strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+2, err)
			}
		}
		id := strings.TrimSpace(rec[0])
		cat[id] = cotrend.CatalogEntry{ID: id, RA: vals[0], Dec: vals[1], Mag: vals[2]}
	}
	return cat, nil
}

// ReadCadenceMask parses a one-column "use" file aligned with the times.
func ReadCadenceMask(r io.Reader) ([]bool, error) {
	recs, err := readRecords(r, "use")
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(recs))
	for i, rec := range recs {
		if out[i], err = parseBool(rec[0]); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return out, nil
}

// ReadStarMask parses star_id,eligible rows.
func ReadStarMask(r io.Reader) (map[string]bool, error) {
	recs, err := readRecords(r, "star_id")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(recs))
	for i, rec := range recs {
		if len(rec) < 2 {
			return nil, fmt.Errorf("row %d: want 2 columns, got %d", i+2, len(rec))
		}
		ok, err := parseBool(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out[strings.TrimSpace(rec[0])] = ok
	}
	return out, nil
}
