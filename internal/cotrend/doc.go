// Package cotrend implements the Cotrending Basis Vector (CBV) engine.
//
// A run moves a population of light curves through four phases, each of
// which populates one field of RunState and is checkpointed on completion:
//
//	Normalize   raw flux -> unit-median, zero-baseline flux + variability
//	Extract     quiet stars -> SVD -> SNR-ranked basis vectors (CBVs)
//	Fit         every star -> per-CBV least-squares coefficients + theta grids
//	Cotrend     LS coefficients, or MAP estimates blending each star's
//	            likelihood with a catalog-neighbour prior -> correction
//
// File formats, catalog import and job staging live outside this package;
// callers hand in an Input and read results from the returned RunState.
package cotrend
