// Package config provides configuration loading and management for xraykit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"xraykit/pkg/calibration"
	"xraykit/pkg/cdi"
	"xraykit/pkg/dpc"
	"xraykit/pkg/xsvs"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Calibration parameters for powder ring images
	Calibration struct {
		// Standard is the name of the calibration material, e.g. Si or CeO2
		Standard string `yaml:"standard"`

		// Wavelength of the beam in Angstroms
		Wavelength float64 `yaml:"wavelength"`

		// PixelSize is the (height, width) of a detector pixel in mm
		PixelSize [2]float64 `yaml:"pixelSize"`

		// Center is the estimated (row, col) beam center; zero uses the
		// image center
		Center [2]float64 `yaml:"center"`

		// PhiSteps is the number of angular sector boundaries
		PhiSteps int `yaml:"phiSteps"`

		// Bins is the number of radial bins of the ring profile
		Bins int `yaml:"bins"`

		// MinRadius and MaxRadius bound the ring search in mm
		MinRadius float64 `yaml:"minRadius"`
		MaxRadius float64 `yaml:"maxRadius"`

		// Window is the half width, in bins, of the peak search
		Window int `yaml:"window"`

		// Threshold is the minimum ring height
		Threshold float64 `yaml:"threshold"`

		// MaxPeaks is the number of rings used
		MaxPeaks int `yaml:"maxPeaks"`
	} `yaml:"calibration"`

	// DPC scan parameters
	DPC struct {
		// Rows and Cols describe the scan grid
		Rows int `yaml:"rows"`
		Cols int `yaml:"cols"`

		// Energy of the beam in keV
		Energy float64 `yaml:"energy"`

		// PixelSize of the detector in um
		PixelSize float64 `yaml:"pixelSize"`

		// FocusToDet is the focus to detector distance in um
		FocusToDet float64 `yaml:"focusToDet"`

		// DX and DY are the scan steps
		DX float64 `yaml:"dx"`
		DY float64 `yaml:"dy"`

		// Pad is the padding factor of the phase integration
		Pad int `yaml:"pad"`

		// W weights the y gradient
		W float64 `yaml:"w"`

		// ROI is an optional (row0, col0, row1, col1) detector area
		ROI []int `yaml:"roi"`

		// BadPixels lists (row, col) pixels to ignore
		BadPixels [][2]int `yaml:"badPixels"`
	} `yaml:"dpc"`

	// CDI reconstruction parameters
	CDI struct {
		// Beta is the difference map feedback parameter
		Beta float64 `yaml:"beta"`

		// StartAvg is the fraction of iterations before averaging starts
		StartAvg float64 `yaml:"startAvg"`

		// Modulus is complex or real
		Modulus string `yaml:"modulus"`

		// Shrinkwrap enables support refinement
		Shrinkwrap bool `yaml:"shrinkwrap"`

		SwSigma     float64 `yaml:"swSigma"`
		SwThreshold float64 `yaml:"swThreshold"`
		SwStart     float64 `yaml:"swStart"`
		SwEnd       float64 `yaml:"swEnd"`
		SwStep      int     `yaml:"swStep"`

		// Iterations of the difference map
		Iterations int `yaml:"iterations"`

		// SupportRadius is the half width of the initial box support
		SupportRadius int `yaml:"supportRadius"`

		// Seed of the random starting phases
		Seed int64 `yaml:"seed"`

		// SnapshotStep is the interval at which intermediate objects are
		// saved when Output.SaveIntermediaryResults is set
		SnapshotStep int `yaml:"snapshotStep"`
	} `yaml:"cdi"`

	// XSVS parameters
	XSVS struct {
		// TimebinNum is the ratio between consecutive integration times
		TimebinNum int `yaml:"timebinNum"`

		// NumberOfImg caps the longest integration time; zero uses the
		// number of frames
		NumberOfImg int `yaml:"numberOfImg"`

		// MaxCts is the largest photon count histogrammed; zero uses the
		// brightest pixel
		MaxCts int `yaml:"maxCts"`

		// Ring ROIs around Center in pixels
		Center      [2]float64 `yaml:"center"`
		InnerRadius float64    `yaml:"innerRadius"`
		Width       float64    `yaml:"width"`
		Spacing     float64    `yaml:"spacing"`
		NumRings    int        `yaml:"numRings"`
	} `yaml:"xsvs"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default calibration parameters
	refine := calibration.DefaultRefineOptions()
	cfg.Calibration.Standard = "Si"
	cfg.Calibration.Wavelength = 0.1839
	cfg.Calibration.PixelSize = [2]float64{0.2, 0.2}
	cfg.Calibration.PhiSteps = 20
	cfg.Calibration.Bins = refine.NX
	cfg.Calibration.MinRadius = refine.MinX
	cfg.Calibration.MaxRadius = refine.MaxX
	cfg.Calibration.Window = refine.Window
	cfg.Calibration.Threshold = refine.Threshold
	cfg.Calibration.MaxPeaks = refine.MaxPeaks

	// Set default DPC parameters
	p := dpc.DefaultParams()
	cfg.DPC.Rows = p.Rows
	cfg.DPC.Cols = p.Cols
	cfg.DPC.Energy = p.Energy
	cfg.DPC.PixelSize = p.PixelSize
	cfg.DPC.FocusToDet = p.FocusToDet
	cfg.DPC.DX = p.DX
	cfg.DPC.DY = p.DY
	cfg.DPC.Pad = p.Pad
	cfg.DPC.W = p.W

	// Set default CDI parameters
	o := cdi.DefaultOptions()
	cfg.CDI.Beta = o.Beta
	cfg.CDI.StartAvg = o.StartAvg
	cfg.CDI.Modulus = o.Modulus
	cfg.CDI.Shrinkwrap = o.Shrinkwrap
	cfg.CDI.SwSigma = o.SwSigma
	cfg.CDI.SwThreshold = o.SwThreshold
	cfg.CDI.SwStart = o.SwStart
	cfg.CDI.SwEnd = o.SwEnd
	cfg.CDI.SwStep = o.SwStep
	cfg.CDI.Iterations = o.Iterations
	cfg.CDI.SupportRadius = 16
	cfg.CDI.Seed = 1
	cfg.CDI.SnapshotStep = 100

	// Set default XSVS parameters
	x := xsvs.DefaultOptions()
	cfg.XSVS.TimebinNum = x.TimebinNum
	cfg.XSVS.NumberOfImg = x.NumberOfImg
	cfg.XSVS.InnerRadius = 5
	cfg.XSVS.Width = 5
	cfg.XSVS.Spacing = 0
	cfg.XSVS.NumRings = 3

	// Set default output parameters
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks settings that cannot be expressed in YAML types
func (c *Config) Validate() error {
	if n := len(c.DPC.ROI); n != 0 && n != 4 {
		return fmt.Errorf("dpc roi needs 4 values (row0, col0, row1, col1), got %d", n)
	}
	if c.CDI.SupportRadius < 1 {
		return fmt.Errorf("cdi supportRadius must be positive, got %d", c.CDI.SupportRadius)
	}
	if c.XSVS.NumRings < 1 {
		return fmt.Errorf("xsvs numRings must be positive, got %d", c.XSVS.NumRings)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
