package cotrend

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MapEstimator runs EstimateStar for every valid star on a bounded worker
// pool. Each worker writes only its own star's slot; the results are
// assembled after all workers finish.
type MapEstimator struct {
	Inputs *MapInputs
	// Store, when set, receives every record and supplies records from an
	// earlier interrupted attempt of the same run in the same mode.
	Store DiagnosticStore
	RunID string
	Logf  func(format string, v ...interface{})
}

// MapOutcome summarises a pool run.
type MapOutcome struct {
	// Coefficients[cbv][star] holds the posterior peaks, with LS values for
	// excluded and missing stars.
	Coefficients [][]float64
	Missing      []int
	Reused       int
	Computed     int
	StoreErrors  int
}

// Run estimates every valid star. Per-star failures, including panics, mark
// the star missing and never abort the pool. Cancelling ctx stops scheduling
// new stars and returns ctx.Err().
func (e *MapEstimator) Run(ctx context.Context) (*MapOutcome, error) {
	in := e.Inputs
	pop := in.Population
	n := pop.NStars()
	nCBVs := len(in.Basis.Vectors)
	logf := e.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	var stored map[string][]float64
	if e.Store != nil {
		var err error
		stored, err = e.Store.PosteriorPeaks(ctx, e.RunID, in.Settings.Mode)
		if err != nil {
			return nil, fmt.Errorf("load stored diagnostics: %w", err)
		}
	}

	peaks := make([][]float64, n)
	var reused int
	var pending []int
	for i := 0; i < n; i++ {
		if !pop.Valid(i) {
			continue
		}
		if p, ok := stored[pop.IDs[i]]; ok && len(p) == nCBVs {
			peaks[i] = p
			reused++
			continue
		}
		pending = append(pending, i)
	}
	if reused > 0 {
		logf("reusing %d stored MAP records for run %s", reused, e.RunID)
	}

	poolSize := in.Settings.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(poolSize)

	var done, storeErrors atomic.Int64
	step := int64(len(pending)/10 + 1)
	for _, i := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p, err := e.estimate(gctx, i)
			if err != nil {
				logf("star %s: MAP estimate failed, keeping LS coefficients: %v", pop.IDs[i], err)
			} else {
				peaks[i] = p.peaks
				if p.storeErr != nil {
					storeErrors.Add(1)
					logf("star %s: store diagnostic: %v", pop.IDs[i], p.storeErr)
				}
			}
			if c := done.Add(1); c%step == 0 {
				logf("MAP progress %d/%d", c, len(pending))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &MapOutcome{
		Coefficients: make([][]float64, nCBVs),
		Reused:       reused,
		StoreErrors:  int(storeErrors.Load()),
	}
	for k := range out.Coefficients {
		out.Coefficients[k] = append([]float64(nil), in.Fit.Coefficients[k]...)
	}
	for i := 0; i < n; i++ {
		if !pop.Valid(i) {
			continue
		}
		if peaks[i] == nil {
			out.Missing = append(out.Missing, i)
			continue
		}
		for k := range out.Coefficients {
			out.Coefficients[k][i] = peaks[i][k]
		}
	}
	out.Computed = len(pending) - len(out.Missing)
	return out, nil
}

type estimate struct {
	peaks    []float64
	storeErr error
}

func (e *MapEstimator) estimate(ctx context.Context, i int) (res estimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	d, err := e.Inputs.EstimateStar(i)
	if err != nil {
		return res, err
	}
	res.peaks = d.PosteriorPeak
	if e.Store != nil {
		res.storeErr = e.Store.SaveDiagnostic(ctx, e.RunID, d)
	}
	return res, nil
}
