package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Calibration.Standard != "Si" {
		t.Errorf("Expected standard Si, got %s", cfg.Calibration.Standard)
	}
	if cfg.CDI.Beta != 1.15 || cfg.CDI.Iterations != 1000 || cfg.CDI.Modulus != "complex" {
		t.Errorf("Expected difference map defaults, got %+v", cfg.CDI)
	}
	if cfg.DPC.Rows != 121 || cfg.DPC.Energy != 19.5 {
		t.Errorf("Expected DPC defaults, got %+v", cfg.DPC)
	}
	if cfg.XSVS.TimebinNum != 2 {
		t.Errorf("Expected time bin ratio 2, got %d", cfg.XSVS.TimebinNum)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid defaults, got %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CDI.Iterations != DefaultConfig().CDI.Iterations {
		t.Errorf("Expected defaults for a missing file, got %+v", cfg.CDI)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
cdi:
  iterations: 50
  modulus: real
dpc:
  roi: [0, 0, 10, 10]
  badPixels:
    - [3, 4]
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CDI.Iterations != 50 || cfg.CDI.Modulus != "real" {
		t.Errorf("Expected overridden CDI settings, got %+v", cfg.CDI)
	}
	// untouched keys keep their defaults
	if cfg.CDI.Beta != 1.15 {
		t.Errorf("Expected default beta, got %v", cfg.CDI.Beta)
	}
	if len(cfg.DPC.ROI) != 4 || len(cfg.DPC.BadPixels) != 1 || cfg.DPC.BadPixels[0] != [2]int{3, 4} {
		t.Errorf("Unexpected DPC settings %+v", cfg.DPC)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"syntax.yaml": "cdi: [unterminated\n",
		"roi.yaml":    "dpc:\n  roi: [1, 2, 3]\n",
		"rings.yaml":  "xsvs:\n  numRings: 0\n",
	}
	for name, content := range tests {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Calibration.PhiSteps != DefaultConfig().Calibration.PhiSteps {
		t.Errorf("Expected %d phi steps, got %d", DefaultConfig().Calibration.PhiSteps, cfg.Calibration.PhiSteps)
	}
}
