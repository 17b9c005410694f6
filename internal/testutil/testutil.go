// Package testutil provides shared test utilities and fixtures.
//
// FieldOptions/NewField build a synthetic star field: every star shares a
// few common-mode trends with its own coefficients plus white noise, and a
// subset carries an intrinsic sinusoidal signal.
package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// FieldOptions controls NewField.
type FieldOptions struct {
	NStars    int
	NCadences int
	NTrends   int
	NVariable int     // the first NVariable stars get an intrinsic sinusoid
	Noise     float64 // white noise sigma in normalized units
	Amplitude float64 // intrinsic signal amplitude in normalized units
	Baseline  float64 // median flux level
	Seed      uint64
}

// DefaultFieldOptions is a 500x500 field with 3 trends and 20 variables.
func DefaultFieldOptions() FieldOptions {
	return FieldOptions{
		NStars:    500,
		NCadences: 500,
		NTrends:   3,
		NVariable: 20,
		Noise:     1e-3,
		Amplitude: 0.1,
		Baseline:  1000,
		Seed:      1,
	}
}

// Field is a generated star field. Flux rows are raw (un-normalized) flux.
type Field struct {
	Times []float64
	IDs   []string
	Flux  [][]float64
	RA    []float64
	Dec   []float64
	Mag   []float64

	// Trends[k] is zero-mean with unit RMS; Coefficients[k][star] is the
	// amplitude injected into each star's normalized flux.
	Trends       [][]float64
	Coefficients [][]float64
	Variable     []bool
}

// gradients give each trend its own RA/Dec dependence so the coefficient
// columns are not collinear.
var gradients = [][2]float64{{0.05, 0.03}, {-0.06, 0.04}, {0.03, -0.07}}

// NewField generates a deterministic field from opts.
func NewField(opts FieldOptions) *Field {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	f := &Field{
		Times:        make([]float64, opts.NCadences),
		IDs:          make([]string, opts.NStars),
		Flux:         make([][]float64, opts.NStars),
		RA:           make([]float64, opts.NStars),
		Dec:          make([]float64, opts.NStars),
		Mag:          make([]float64, opts.NStars),
		Trends:       make([][]float64, opts.NTrends),
		Coefficients: make([][]float64, opts.NTrends),
		Variable:     make([]bool, opts.NStars),
	}
	for c := range f.Times {
		f.Times[c] = 1000 + float64(c)/48
	}
	baseline := float64(opts.NCadences) / 48

	for k := range f.Trends {
		f.Trends[k] = trend(k, opts.NCadences)
		f.Coefficients[k] = make([]float64, opts.NStars)
	}

	for i := 0; i < opts.NStars; i++ {
		f.IDs[i] = fmt.Sprintf("star-%04d", i)
		f.RA[i] = 40 + 10*rng.Float64()
		f.Dec[i] = -20 + 10*rng.Float64()
		f.Mag[i] = 8 + 4*rng.Float64()
		f.Variable[i] = i < opts.NVariable

		// Coefficients vary smoothly across the field plus scatter, so
		// catalog neighbours share similar systematics.
		for k := range f.Coefficients {
			g := gradients[k%len(gradients)]
			base := 0.01 * float64(k+1) * (1 + g[0]*(f.RA[i]-45) + g[1]*(f.Dec[i]+15))
			f.Coefficients[k][i] = base * (1 + 0.2*rng.NormFloat64())
		}

		// Two to five full cycles over the baseline, so every variable star
		// shows its whole amplitude however short the field is.
		period := baseline / (2 + 3*rng.Float64())
		phase := 2 * math.Pi * rng.Float64()
		row := make([]float64, opts.NCadences)
		for c := range row {
			y := opts.Noise * rng.NormFloat64()
			for k := range f.Trends {
				y += f.Coefficients[k][i] * f.Trends[k][c]
			}
			if f.Variable[i] {
				y += opts.Amplitude * math.Sin(2*math.Pi*(f.Times[c]-f.Times[0])/period+phase)
			}
			row[c] = opts.Baseline * (1 + y)
		}
		f.Flux[i] = row
	}
	return f
}

// trend returns the k-th common-mode shape, zero-mean with unit RMS.
func trend(k, n int) []float64 {
	out := make([]float64, n)
	for c := range out {
		x := float64(c) / float64(n-1)
		switch k % 3 {
		case 0:
			out[c] = x - 0.5
		case 1:
			out[c] = math.Exp(-x*6) - 0.5*math.Cos(2*math.Pi*x)
		default:
			out[c] = math.Sin(5*math.Pi*x) * (1 + x)
		}
		out[c] += 0.1 * float64(k/3) * math.Cos(float64(k)*x*math.Pi)
	}
	var mean, sq float64
	for _, v := range out {
		mean += v
	}
	mean /= float64(n)
	for c := range out {
		out[c] -= mean
		sq += out[c] * out[c]
	}
	rms := math.Sqrt(sq / float64(n))
	for c := range out {
		out[c] /= rms
	}
	return out
}

// WriteCSV writes the field as times.csv, fluxes.csv and catalog.csv under
// dir, the default file names of a cotrend config.
func (f *Field) WriteCSV(dir string) error {
	var times strings.Builder
	times.WriteString("time\n")
	for _, t := range f.Times {
		times.WriteString(strconv.FormatFloat(t, 'g', -1, 64) + "\n")
	}

	var flux strings.Builder
	flux.WriteString("star_id")
	for c := range f.Times {
		fmt.Fprintf(&flux, ",c%d", c)
	}
	flux.WriteString("\n")
	for i, row := range f.Flux {
		flux.WriteString(f.IDs[i])
		for _, v := range row {
			flux.WriteString("," + strconv.FormatFloat(v, 'g', -1, 64))
		}
		flux.WriteString("\n")
	}

	var cat strings.Builder
	cat.WriteString("star_id,ra,dec,mag\n")
	for i, id := range f.IDs {
		fmt.Fprintf(&cat, "%s,%s,%s,%s\n", id,
			strconv.FormatFloat(f.RA[i], 'g', -1, 64),
			strconv.FormatFloat(f.Dec[i], 'g', -1, 64),
			strconv.FormatFloat(f.Mag[i], 'g', -1, 64))
	}

	for name, body := range map[string]string{
		"times.csv":   times.String(),
		"fluxes.csv":  flux.String(),
		"catalog.csv": cat.String(),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
