package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestResolvedDefaults(t *testing.T) {
	cfg := EmptyCotrendConfig().Resolved()

	if cfg.MaxNCBVs == nil || *cfg.MaxNCBVs != 8 {
		t.Errorf("Expected MaxNCBVs 8, got %v", cfg.MaxNCBVs)
	}
	if cfg.CBVFitMethod == nil || *cfg.CBVFitMethod != FitMethodSequential {
		t.Errorf("Expected CBVFitMethod sequential, got %v", cfg.CBVFitMethod)
	}
	if cfg.CBVMode == nil || *cfg.CBVMode != ModeMAP {
		t.Errorf("Expected CBVMode MAP, got %v", cfg.CBVMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}

	empty := EmptyCotrendConfig()
	if empty.GetCBVSNRLimit() != 5.0 {
		t.Errorf("GetCBVSNRLimit() = %f, want 5", empty.GetCBVSNRLimit())
	}
	if empty.GetNormalisedVariabilityLimit() != 1.3 {
		t.Errorf("GetNormalisedVariabilityLimit() = %f, want 1.3", empty.GetNormalisedVariabilityLimit())
	}
	if empty.GetPoolSize() != runtime.NumCPU() {
		t.Errorf("GetPoolSize() = %d, want %d", empty.GetPoolSize(), runtime.NumCPU())
	}
	w := empty.GetDimWeights()
	if len(w) != 3 || w[0] != 1 || w[1] != 1 || w[2] != 2 {
		t.Errorf("GetDimWeights() = %v, want [1 1 2]", w)
	}
	if empty.GetCBVMagMin() != 8 || empty.GetCBVMagMax() != 12 {
		t.Errorf("magnitude band = [%f, %f], want [8, 12]", empty.GetCBVMagMin(), empty.GetCBVMagMax())
	}
}

func TestResolvedKeepsSetValues(t *testing.T) {
	cfg := EmptyCotrendConfig()
	cfg.RunKey = ptrString("S05")
	cfg.ThetaBins = ptrInt(50)
	cfg.StoreMAPDiagnostics = ptrBool(false)
	cfg.DimWeights = []float64{1, 2, 3}

	r := cfg.Resolved()
	if *r.RunKey != "S05" || *r.ThetaBins != 50 || *r.StoreMAPDiagnostics {
		t.Errorf("Resolved() lost set values: %+v", r)
	}
	if *r.CBVMode != ModeMAP || *r.ObjectsMaskFile != "" {
		t.Errorf("Resolved() did not fill defaults: %+v", r)
	}
	r.DimWeights[0] = 99
	if cfg.DimWeights[0] != 1 {
		t.Errorf("Resolved() must not alias DimWeights")
	}
}

func TestEncodeTOMLRoundTrip(t *testing.T) {
	cfg := EmptyCotrendConfig()
	cfg.RunKey = ptrString("S05_1-1")
	cfg.ObjectsMaskFile = ptrString("objects.csv")
	cfg.ThetaBins = ptrInt(50)
	cfg.DimWeights = []float64{1, 1, 3}

	var buf bytes.Buffer
	if err := cfg.Resolved().EncodeTOML(&buf); err != nil {
		t.Fatalf("EncodeTOML failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "cotrend.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := LoadCotrendConfig(path)
	if err != nil {
		t.Fatalf("LoadCotrendConfig failed: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(cfg.Resolved(), got.Resolved()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDimWeightsReturnsCopy(t *testing.T) {
	cfg := &CotrendConfig{DimWeights: []float64{1, 2, 3}}
	w := cfg.GetDimWeights()
	w[0] = 99
	if cfg.DimWeights[0] != 1 {
		t.Errorf("GetDimWeights must not alias the config slice")
	}
}

func TestLoadCotrendConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cotrend.json")

	testJSON := `{
  "run_key": "S05_1-1",
  "max_n_cbvs": 4,
  "cbv_snr_limit": 3.5,
  "cbv_fit_method": "simultaneous",
  "cbv_mode": "LS",
  "dim_weights": [1, 1, 3],
  "pool_size": 2
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadCotrendConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetRunKey() != "S05_1-1" {
		t.Errorf("GetRunKey() = %q", cfg.GetRunKey())
	}
	if cfg.GetMaxNCBVs() != 4 {
		t.Errorf("GetMaxNCBVs() = %d, want 4", cfg.GetMaxNCBVs())
	}
	if cfg.GetCBVSNRLimit() != 3.5 {
		t.Errorf("GetCBVSNRLimit() = %f, want 3.5", cfg.GetCBVSNRLimit())
	}
	if cfg.GetCBVFitMethod() != FitMethodSimultaneous {
		t.Errorf("GetCBVFitMethod() = %q", cfg.GetCBVFitMethod())
	}
	if cfg.GetCBVMode() != ModeLS {
		t.Errorf("GetCBVMode() = %q", cfg.GetCBVMode())
	}
	if w := cfg.GetDimWeights(); w[2] != 3 {
		t.Errorf("GetDimWeights() = %v", w)
	}
	// Omitted keys keep defaults
	if cfg.GetThetaBins() != 500 {
		t.Errorf("GetThetaBins() = %d, want default 500", cfg.GetThetaBins())
	}
}

func TestLoadCotrendConfigTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "cotrend.toml")

	testTOML := `# config for sector S05
run_key = "S05_2-3"
root = "/data/S05_2-3"
pool_size = 6
max_n_cbvs = 8
cbv_snr_limit = 5
cbv_fit_method = "sequential"
cbv_mode = "MAP"
normalised_variability_limit = 1.3
dim_weights = [1.0, 1.0, 2.0]
`
	if err := os.WriteFile(configPath, []byte(testTOML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadCotrendConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetRunKey() != "S05_2-3" {
		t.Errorf("GetRunKey() = %q", cfg.GetRunKey())
	}
	if cfg.GetPoolSize() != 6 {
		t.Errorf("GetPoolSize() = %d, want 6", cfg.GetPoolSize())
	}
	if got := cfg.DataPath("fluxes.csv"); got != filepath.Join("/data/S05_2-3", "fluxes.csv") {
		t.Errorf("DataPath() = %q", got)
	}
	if got := cfg.DataPath("/abs/mask.csv"); got != "/abs/mask.csv" {
		t.Errorf("DataPath() should leave absolute paths alone, got %q", got)
	}
}

func TestLoadCotrendConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadCotrendConfig("/nonexistent/path/to/config.json"); err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}

	yamlPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("max_n_cbvs: 3"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCotrendConfig(yamlPath); err == nil {
		t.Error("Expected error for unsupported extension, got nil")
	}

	badPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"max_n_cbvs": "eight"`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCotrendConfig(badPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}

	invalidPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(invalidPath, []byte(`{"cbv_mode": "PDC"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCotrendConfig(invalidPath); err == nil {
		t.Error("Expected validation error for unknown mode, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *CotrendConfig
		wantErr bool
	}{
		{name: "defaults", cfg: EmptyCotrendConfig().Resolved()},
		{name: "empty config is valid", cfg: &CotrendConfig{}},
		{name: "unknown fit method", cfg: &CotrendConfig{CBVFitMethod: ptrString("joint")}, wantErr: true},
		{name: "unknown mode", cfg: &CotrendConfig{CBVMode: ptrString("map")}, wantErr: true},
		{name: "zero pool", cfg: &CotrendConfig{PoolSize: ptrInt(0)}, wantErr: true},
		{name: "negative max cbvs", cfg: &CotrendConfig{MaxNCBVs: ptrInt(-1)}, wantErr: true},
		{name: "zero variability limit", cfg: &CotrendConfig{NormalisedVariabilityLimit: ptrFloat64(0)}, wantErr: true},
		{name: "inverted magnitude band", cfg: &CotrendConfig{CBVMagMin: ptrFloat64(13), CBVMagMax: ptrFloat64(9)}, wantErr: true},
		{name: "two dim weights", cfg: &CotrendConfig{DimWeights: []float64{1, 1}}, wantErr: true},
		{name: "negative dim weight", cfg: &CotrendConfig{DimWeights: []float64{1, -1, 2}}, wantErr: true},
		{name: "one theta bin", cfg: &CotrendConfig{ThetaBins: ptrInt(1)}, wantErr: true},
		{name: "inverted trim", cfg: &CotrendConfig{PriorTrimLow: ptrFloat64(60), PriorTrimHigh: ptrFloat64(40)}, wantErr: true},
		{name: "negative clip sigma", cfg: &CotrendConfig{FitClipSigma: ptrFloat64(-3)}, wantErr: true},
		{name: "clipping disabled", cfg: &CotrendConfig{FitClipSigma: ptrFloat64(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
