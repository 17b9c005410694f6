package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// Fit methods and cotrend modes recognised by the engine.
const (
	FitMethodSequential   = "sequential"
	FitMethodSimultaneous = "simultaneous"

	ModeLS  = "LS"
	ModeMAP = "MAP"
)

// CotrendConfig represents the root configuration for one cotrending run.
// Keys are flat so the same schema can be written as JSON or TOML. Every
// field is a pointer: a key omitted from the file keeps its default, which
// the Get* accessors supply.
type CotrendConfig struct {
	// Run identity and data locations
	RunKey          *string `json:"run_key,omitempty" toml:"run_key,omitempty"`
	Root            *string `json:"root,omitempty" toml:"root,omitempty"`
	DatabasePath    *string `json:"database_path,omitempty" toml:"database_path,omitempty"`
	TimesFile       *string `json:"times_file,omitempty" toml:"times_file,omitempty"`
	FluxFile        *string `json:"flux_file,omitempty" toml:"flux_file,omitempty"`
	CatalogFile     *string `json:"catalog_file,omitempty" toml:"catalog_file,omitempty"`
	CadenceMaskFile *string `json:"cadence_mask_file,omitempty" toml:"cadence_mask_file,omitempty"`
	ObjectsMaskFile *string `json:"objects_mask_file,omitempty" toml:"objects_mask_file,omitempty"`
	PriorMaskFile   *string `json:"prior_mask_file,omitempty" toml:"prior_mask_file,omitempty"`
	OutputDir       *string `json:"output_dir,omitempty" toml:"output_dir,omitempty"`

	// Worker pool
	PoolSize *int `json:"pool_size,omitempty" toml:"pool_size,omitempty"`

	// Basis extraction
	MaxNCBVs                   *int     `json:"max_n_cbvs,omitempty" toml:"max_n_cbvs,omitempty"`
	CBVSNRLimit                *float64 `json:"cbv_snr_limit,omitempty" toml:"cbv_snr_limit,omitempty"`
	NormalisedVariabilityLimit *float64 `json:"normalised_variability_limit,omitempty" toml:"normalised_variability_limit,omitempty"`
	CBVMagMin                  *float64 `json:"cbv_mag_min,omitempty" toml:"cbv_mag_min,omitempty"`
	CBVMagMax                  *float64 `json:"cbv_mag_max,omitempty" toml:"cbv_mag_max,omitempty"`

	// Coefficient fitting
	CBVFitMethod      *string  `json:"cbv_fit_method,omitempty" toml:"cbv_fit_method,omitempty"`
	FitClipSigma      *float64 `json:"fit_clip_sigma,omitempty" toml:"fit_clip_sigma,omitempty"`
	FitClipIterations *int     `json:"fit_clip_iterations,omitempty" toml:"fit_clip_iterations,omitempty"`
	ThetaBins         *int     `json:"theta_bins,omitempty" toml:"theta_bins,omitempty"`
	ThetaPadding      *float64 `json:"theta_padding,omitempty" toml:"theta_padding,omitempty"`

	// Cotrending / MAP
	CBVMode                         *string   `json:"cbv_mode,omitempty" toml:"cbv_mode,omitempty"`
	PriorNormalisedVariabilityLimit *float64  `json:"prior_normalised_variability_limit,omitempty" toml:"prior_normalised_variability_limit,omitempty"`
	DimWeights                      []float64 `json:"dim_weights,omitempty" toml:"dim_weights,omitempty"`
	PriorNNeighbours                *int      `json:"prior_n_neighbours,omitempty" toml:"prior_n_neighbours,omitempty"`
	PriorTrimLow                    *float64  `json:"prior_trim_low,omitempty" toml:"prior_trim_low,omitempty"`
	PriorTrimHigh                   *float64  `json:"prior_trim_high,omitempty" toml:"prior_trim_high,omitempty"`
	StoreMAPDiagnostics             *bool     `json:"store_map_diagnostics,omitempty" toml:"store_map_diagnostics,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyCotrendConfig returns a CotrendConfig with all fields unset.
func EmptyCotrendConfig() *CotrendConfig {
	return &CotrendConfig{}
}

// Resolved returns a copy of c with every field explicitly set to its
// effective value, defaults included.
func (c *CotrendConfig) Resolved() *CotrendConfig {
	return &CotrendConfig{
		RunKey:                          ptrString(c.GetRunKey()),
		Root:                            ptrString(c.GetRoot()),
		DatabasePath:                    ptrString(c.GetDatabasePath()),
		TimesFile:                       ptrString(c.GetTimesFile()),
		FluxFile:                        ptrString(c.GetFluxFile()),
		CatalogFile:                     ptrString(c.GetCatalogFile()),
		CadenceMaskFile:                 ptrString(c.GetCadenceMaskFile()),
		ObjectsMaskFile:                 ptrString(c.GetObjectsMaskFile()),
		PriorMaskFile:                   ptrString(c.GetPriorMaskFile()),
		OutputDir:                       ptrString(c.GetOutputDir()),
		PoolSize:                        ptrInt(c.GetPoolSize()),
		MaxNCBVs:                        ptrInt(c.GetMaxNCBVs()),
		CBVSNRLimit:                     ptrFloat64(c.GetCBVSNRLimit()),
		NormalisedVariabilityLimit:      ptrFloat64(c.GetNormalisedVariabilityLimit()),
		CBVMagMin:                       ptrFloat64(c.GetCBVMagMin()),
		CBVMagMax:                       ptrFloat64(c.GetCBVMagMax()),
		CBVFitMethod:                    ptrString(c.GetCBVFitMethod()),
		FitClipSigma:                    ptrFloat64(c.GetFitClipSigma()),
		FitClipIterations:               ptrInt(c.GetFitClipIterations()),
		ThetaBins:                       ptrInt(c.GetThetaBins()),
		ThetaPadding:                    ptrFloat64(c.GetThetaPadding()),
		CBVMode:                         ptrString(c.GetCBVMode()),
		PriorNormalisedVariabilityLimit: ptrFloat64(c.GetPriorNormalisedVariabilityLimit()),
		DimWeights:                      c.GetDimWeights(),
		PriorNNeighbours:                ptrInt(c.GetPriorNNeighbours()),
		PriorTrimLow:                    ptrFloat64(c.GetPriorTrimLow()),
		PriorTrimHigh:                   ptrFloat64(c.GetPriorTrimHigh()),
		StoreMAPDiagnostics:             ptrBool(c.GetStoreMAPDiagnostics()),
	}
}

// LoadCotrendConfig loads a CotrendConfig from a .json or .toml file.
// The file must be under 1MB. Fields omitted from the file retain their
// default values, so partial configs are safe.
func LoadCotrendConfig(path string) (*CotrendConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCotrendConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// EncodeTOML writes the config as TOML. Unset fields are omitted.
func (c *CotrendConfig) EncodeTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks that the configuration values are valid.
func (c *CotrendConfig) Validate() error {
	switch m := c.GetCBVFitMethod(); m {
	case FitMethodSequential, FitMethodSimultaneous:
	default:
		return fmt.Errorf("cbv_fit_method must be %q or %q, got %q", FitMethodSequential, FitMethodSimultaneous, m)
	}
	switch m := c.GetCBVMode(); m {
	case ModeLS, ModeMAP:
	default:
		return fmt.Errorf("cbv_mode must be %q or %q, got %q", ModeLS, ModeMAP, m)
	}

	if c.PoolSize != nil && *c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", *c.PoolSize)
	}
	if c.MaxNCBVs != nil && *c.MaxNCBVs < 0 {
		return fmt.Errorf("max_n_cbvs must be non-negative, got %d", *c.MaxNCBVs)
	}
	if c.CBVSNRLimit != nil && *c.CBVSNRLimit < 0 {
		return fmt.Errorf("cbv_snr_limit must be non-negative, got %f", *c.CBVSNRLimit)
	}
	if c.NormalisedVariabilityLimit != nil && *c.NormalisedVariabilityLimit <= 0 {
		return fmt.Errorf("normalised_variability_limit must be positive, got %f", *c.NormalisedVariabilityLimit)
	}
	if c.PriorNormalisedVariabilityLimit != nil && *c.PriorNormalisedVariabilityLimit <= 0 {
		return fmt.Errorf("prior_normalised_variability_limit must be positive, got %f", *c.PriorNormalisedVariabilityLimit)
	}
	if c.GetCBVMagMin() > c.GetCBVMagMax() {
		return fmt.Errorf("cbv_mag_min (%f) must not exceed cbv_mag_max (%f)", c.GetCBVMagMin(), c.GetCBVMagMax())
	}
	if c.DimWeights != nil {
		if len(c.DimWeights) != 3 {
			return fmt.Errorf("dim_weights must have 3 entries (ra, dec, mag), got %d", len(c.DimWeights))
		}
		for i, w := range c.DimWeights {
			if w < 0 {
				return fmt.Errorf("dim_weights[%d] must be non-negative, got %f", i, w)
			}
		}
	}
	if c.ThetaBins != nil && *c.ThetaBins < 2 {
		return fmt.Errorf("theta_bins must be at least 2, got %d", *c.ThetaBins)
	}
	if c.ThetaPadding != nil && *c.ThetaPadding < 0 {
		return fmt.Errorf("theta_padding must be non-negative, got %f", *c.ThetaPadding)
	}
	if c.PriorNNeighbours != nil && *c.PriorNNeighbours < 1 {
		return fmt.Errorf("prior_n_neighbours must be at least 1, got %d", *c.PriorNNeighbours)
	}
	lo, hi := c.GetPriorTrimLow(), c.GetPriorTrimHigh()
	if lo < 0 || hi > 100 || lo >= hi {
		return fmt.Errorf("prior trim percentiles must satisfy 0 <= low < high <= 100, got %f, %f", lo, hi)
	}
	if c.FitClipSigma != nil && *c.FitClipSigma < 0 {
		return fmt.Errorf("fit_clip_sigma must be non-negative, got %f", *c.FitClipSigma)
	}
	if c.FitClipIterations != nil && *c.FitClipIterations < 0 {
		return fmt.Errorf("fit_clip_iterations must be non-negative, got %d", *c.FitClipIterations)
	}
	return nil
}

// DataPath resolves a data file name against Root. Absolute names and an
// empty name are returned unchanged.
func (c *CotrendConfig) DataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.GetRoot(), name)
}

// GetRunKey returns the run_key value or the default.
func (c *CotrendConfig) GetRunKey() string {
	if c.RunKey == nil || *c.RunKey == "" {
		return "default"
	}
	return *c.RunKey
}

// GetRoot returns the root value or the default.
func (c *CotrendConfig) GetRoot() string {
	if c.Root == nil || *c.Root == "" {
		return "."
	}
	return *c.Root
}

// GetDatabasePath returns the database_path value or the default.
func (c *CotrendConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "cotrend.db"
	}
	return *c.DatabasePath
}

// GetTimesFile returns the times_file value or the default.
func (c *CotrendConfig) GetTimesFile() string {
	if c.TimesFile == nil {
		return "times.csv"
	}
	return *c.TimesFile
}

// GetFluxFile returns the flux_file value or the default.
func (c *CotrendConfig) GetFluxFile() string {
	if c.FluxFile == nil {
		return "fluxes.csv"
	}
	return *c.FluxFile
}

// GetCatalogFile returns the catalog_file value or the default.
func (c *CotrendConfig) GetCatalogFile() string {
	if c.CatalogFile == nil {
		return "catalog.csv"
	}
	return *c.CatalogFile
}

// GetCadenceMaskFile returns the cadence_mask_file value or the default.
// An empty name means every cadence is valid.
func (c *CotrendConfig) GetCadenceMaskFile() string {
	if c.CadenceMaskFile == nil {
		return ""
	}
	return *c.CadenceMaskFile
}

// GetObjectsMaskFile returns the objects_mask_file value; empty means no mask.
func (c *CotrendConfig) GetObjectsMaskFile() string {
	if c.ObjectsMaskFile == nil {
		return ""
	}
	return *c.ObjectsMaskFile
}

// GetPriorMaskFile returns the prior_mask_file value; empty means no mask.
func (c *CotrendConfig) GetPriorMaskFile() string {
	if c.PriorMaskFile == nil {
		return ""
	}
	return *c.PriorMaskFile
}

// GetOutputDir returns the output_dir value or the default.
func (c *CotrendConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "output"
	}
	return *c.OutputDir
}

// GetPoolSize returns the pool_size value or the number of CPUs.
func (c *CotrendConfig) GetPoolSize() int {
	if c.PoolSize == nil {
		return runtime.NumCPU()
	}
	return *c.PoolSize
}

// GetMaxNCBVs returns the max_n_cbvs value or the default.
func (c *CotrendConfig) GetMaxNCBVs() int {
	if c.MaxNCBVs == nil {
		return 8
	}
	return *c.MaxNCBVs
}

// GetCBVSNRLimit returns the cbv_snr_limit value or the default.
func (c *CotrendConfig) GetCBVSNRLimit() float64 {
	if c.CBVSNRLimit == nil {
		return 5.0
	}
	return *c.CBVSNRLimit
}

// GetNormalisedVariabilityLimit returns the normalised_variability_limit value or the default.
func (c *CotrendConfig) GetNormalisedVariabilityLimit() float64 {
	if c.NormalisedVariabilityLimit == nil {
		return 1.3
	}
	return *c.NormalisedVariabilityLimit
}

// GetCBVMagMin returns the cbv_mag_min value or the default.
func (c *CotrendConfig) GetCBVMagMin() float64 {
	if c.CBVMagMin == nil {
		return 8.0
	}
	return *c.CBVMagMin
}

// GetCBVMagMax returns the cbv_mag_max value or the default.
func (c *CotrendConfig) GetCBVMagMax() float64 {
	if c.CBVMagMax == nil {
		return 12.0
	}
	return *c.CBVMagMax
}

// GetCBVFitMethod returns the cbv_fit_method value or the default.
func (c *CotrendConfig) GetCBVFitMethod() string {
	if c.CBVFitMethod == nil || *c.CBVFitMethod == "" {
		return FitMethodSequential
	}
	return *c.CBVFitMethod
}

// GetFitClipSigma returns the fit_clip_sigma value or the default.
// Zero disables clipping.
func (c *CotrendConfig) GetFitClipSigma() float64 {
	if c.FitClipSigma == nil {
		return 5.0
	}
	return *c.FitClipSigma
}

// GetFitClipIterations returns the fit_clip_iterations value or the default.
func (c *CotrendConfig) GetFitClipIterations() int {
	if c.FitClipIterations == nil {
		return 3
	}
	return *c.FitClipIterations
}

// GetThetaBins returns the theta_bins value or the default.
func (c *CotrendConfig) GetThetaBins() int {
	if c.ThetaBins == nil {
		return 500
	}
	return *c.ThetaBins
}

// GetThetaPadding returns the theta_padding value or the default.
func (c *CotrendConfig) GetThetaPadding() float64 {
	if c.ThetaPadding == nil {
		return 0.1
	}
	return *c.ThetaPadding
}

// GetCBVMode returns the cbv_mode value or the default.
func (c *CotrendConfig) GetCBVMode() string {
	if c.CBVMode == nil || *c.CBVMode == "" {
		return ModeMAP
	}
	return *c.CBVMode
}

// GetPriorNormalisedVariabilityLimit returns the prior_normalised_variability_limit value or the default.
func (c *CotrendConfig) GetPriorNormalisedVariabilityLimit() float64 {
	if c.PriorNormalisedVariabilityLimit == nil {
		return 1.3
	}
	return *c.PriorNormalisedVariabilityLimit
}

// GetDimWeights returns a copy of dim_weights or the default (ra, dec, mag).
func (c *CotrendConfig) GetDimWeights() []float64 {
	if len(c.DimWeights) != 3 {
		return []float64{1, 1, 2}
	}
	return append([]float64(nil), c.DimWeights...)
}

// GetPriorNNeighbours returns the prior_n_neighbours value or the default.
func (c *CotrendConfig) GetPriorNNeighbours() int {
	if c.PriorNNeighbours == nil {
		return 40
	}
	return *c.PriorNNeighbours
}

// GetPriorTrimLow returns the prior_trim_low percentile or the default.
func (c *CotrendConfig) GetPriorTrimLow() float64 {
	if c.PriorTrimLow == nil {
		return 2
	}
	return *c.PriorTrimLow
}

// GetPriorTrimHigh returns the prior_trim_high percentile or the default.
func (c *CotrendConfig) GetPriorTrimHigh() float64 {
	if c.PriorTrimHigh == nil {
		return 98
	}
	return *c.PriorTrimHigh
}

// GetStoreMAPDiagnostics returns the store_map_diagnostics value or the default.
func (c *CotrendConfig) GetStoreMAPDiagnostics() bool {
	if c.StoreMAPDiagnostics == nil {
		return true
	}
	return *c.StoreMAPDiagnostics
}
