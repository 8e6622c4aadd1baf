package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical translator defaults file.
const DefaultConfigPath = "config/translator.defaults.json"

// Built-in defaults used by the Get* methods when a field is unset.
const (
	DefaultFilterAlgorithm = "ConvexHull"
	DefaultSwitchTimeSecs  = 10.0
	DefaultTickFrequencyHz = 1e6
	DefaultWrapBits        = 32

	DefaultKalmanSigmaOffset          = 1e-6
	DefaultKalmanSigmaSkew            = 1e-7
	DefaultKalmanSigmaInitOffset      = 1e-3
	DefaultKalmanSigmaInitSkew        = 1e-4
	DefaultKalmanMeasurementSigma     = 1e-3
	DefaultKalmanOutlierThresholdSecs = 0.1
)

// knownFilterAlgorithms holds the normalised selector names the translator
// understands.
var knownFilterAlgorithms = map[string]bool{
	"none":       true,
	"convexhull": true,
	"kalman":     true,
}

// NormalizeFilterAlgorithm lower-cases s and strips '_', '-' and spaces so
// "convex_hull" and "ConvexHull" compare equal.
func NormalizeFilterAlgorithm(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
}

// TranslatorConfig holds the parameters a host configuration system hands
// to a device time translator. All fields are optional; the Get* methods
// fill in defaults. The same schema is accepted as JSON or YAML.
type TranslatorConfig struct {
	// Filter selection
	FilterAlgorithm *string  `json:"filter_algorithm,omitempty" yaml:"filter_algorithm,omitempty"`
	SwitchTimeSecs  *float64 `json:"switch_time_secs,omitempty" yaml:"switch_time_secs,omitempty"`

	// Device counter
	TickFrequencyHz *float64 `json:"tick_frequency_hz,omitempty" yaml:"tick_frequency_hz,omitempty"`
	WrapBits        *uint    `json:"wrap_bits,omitempty" yaml:"wrap_bits,omitempty"`
	WrapModulus     *uint64  `json:"wrap_modulus,omitempty" yaml:"wrap_modulus,omitempty"` // overrides wrap_bits

	// Kalman filter params (optional)
	KalmanSigmaOffset          *float64 `json:"kalman_sigma_offset,omitempty" yaml:"kalman_sigma_offset,omitempty"`
	KalmanSigmaSkew            *float64 `json:"kalman_sigma_skew,omitempty" yaml:"kalman_sigma_skew,omitempty"`
	KalmanSigmaInitOffset      *float64 `json:"kalman_sigma_init_offset,omitempty" yaml:"kalman_sigma_init_offset,omitempty"`
	KalmanSigmaInitSkew        *float64 `json:"kalman_sigma_init_skew,omitempty" yaml:"kalman_sigma_init_skew,omitempty"`
	KalmanMeasurementSigma     *float64 `json:"kalman_measurement_sigma,omitempty" yaml:"kalman_measurement_sigma,omitempty"`
	KalmanOutlierThresholdSecs *float64 `json:"kalman_outlier_threshold_secs,omitempty" yaml:"kalman_outlier_threshold_secs,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint(v uint) *uint          { return &v }

// EmptyTranslatorConfig returns a TranslatorConfig with all fields set to nil.
func EmptyTranslatorConfig() *TranslatorConfig {
	return &TranslatorConfig{}
}

// DefaultTranslatorConfig returns a config with every field set to its
// built-in default.
func DefaultTranslatorConfig() *TranslatorConfig {
	return &TranslatorConfig{
		FilterAlgorithm:            ptrString(DefaultFilterAlgorithm),
		SwitchTimeSecs:             ptrFloat64(DefaultSwitchTimeSecs),
		TickFrequencyHz:            ptrFloat64(DefaultTickFrequencyHz),
		WrapBits:                   ptrUint(DefaultWrapBits),
		KalmanSigmaOffset:          ptrFloat64(DefaultKalmanSigmaOffset),
		KalmanSigmaSkew:            ptrFloat64(DefaultKalmanSigmaSkew),
		KalmanSigmaInitOffset:      ptrFloat64(DefaultKalmanSigmaInitOffset),
		KalmanSigmaInitSkew:        ptrFloat64(DefaultKalmanSigmaInitSkew),
		KalmanMeasurementSigma:     ptrFloat64(DefaultKalmanMeasurementSigma),
		KalmanOutlierThresholdSecs: ptrFloat64(DefaultKalmanOutlierThresholdSecs),
	}
}

// LoadTranslatorConfig loads a TranslatorConfig from a JSON or YAML file,
// chosen by extension (.json, .yaml, .yml). Fields omitted from the file
// fall back to defaults through the Get* methods, so partial configs are
// safe.
func LoadTranslatorConfig(path string) (*TranslatorConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg, err := ParseTranslatorConfig(data, ext)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseTranslatorConfig decodes data as JSON (ext ".json") or YAML (".yaml",
// ".yml") and validates the result.
func ParseTranslatorConfig(data []byte, ext string) (*TranslatorConfig, error) {
	cfg := EmptyTranslatorConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TranslatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ or deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTranslatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TranslatorConfig) Validate() error {
	if c.FilterAlgorithm != nil {
		if !knownFilterAlgorithms[NormalizeFilterAlgorithm(*c.FilterAlgorithm)] {
			return fmt.Errorf("unknown filter_algorithm %q (want None, ConvexHull or Kalman)", *c.FilterAlgorithm)
		}
	}

	if c.SwitchTimeSecs != nil {
		if *c.SwitchTimeSecs < 0 || math.IsNaN(*c.SwitchTimeSecs) || math.IsInf(*c.SwitchTimeSecs, 0) {
			return fmt.Errorf("switch_time_secs must be a finite non-negative number, got %v", *c.SwitchTimeSecs)
		}
	}

	if c.TickFrequencyHz != nil {
		if !(*c.TickFrequencyHz > 0) || math.IsInf(*c.TickFrequencyHz, 0) {
			return fmt.Errorf("tick_frequency_hz must be positive, got %v", *c.TickFrequencyHz)
		}
	}

	if c.WrapBits != nil {
		if *c.WrapBits < 1 || *c.WrapBits > 63 {
			return fmt.Errorf("wrap_bits must be between 1 and 63, got %d", *c.WrapBits)
		}
	}

	if c.WrapModulus != nil && *c.WrapModulus == 0 {
		return fmt.Errorf("wrap_modulus must be positive")
	}

	for name, v := range map[string]*float64{
		"kalman_sigma_offset":      c.KalmanSigmaOffset,
		"kalman_sigma_skew":        c.KalmanSigmaSkew,
		"kalman_sigma_init_offset": c.KalmanSigmaInitOffset,
		"kalman_sigma_init_skew":   c.KalmanSigmaInitSkew,
		"kalman_measurement_sigma": c.KalmanMeasurementSigma,
	} {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %v", name, *v)
		}
	}

	if c.KalmanOutlierThresholdSecs != nil && !(*c.KalmanOutlierThresholdSecs >= 0) {
		return fmt.Errorf("kalman_outlier_threshold_secs must be non-negative, got %v", *c.KalmanOutlierThresholdSecs)
	}

	return nil
}

// GetFilterAlgorithm returns the filter_algorithm value or the default.
func (c *TranslatorConfig) GetFilterAlgorithm() string {
	if c.FilterAlgorithm == nil || *c.FilterAlgorithm == "" {
		return DefaultFilterAlgorithm
	}
	return *c.FilterAlgorithm
}

// GetSwitchTimeSecs returns the switch_time_secs value or the default.
func (c *TranslatorConfig) GetSwitchTimeSecs() float64 {
	if c.SwitchTimeSecs == nil {
		return DefaultSwitchTimeSecs
	}
	return *c.SwitchTimeSecs
}

// GetTickFrequencyHz returns the tick_frequency_hz value or the default.
func (c *TranslatorConfig) GetTickFrequencyHz() float64 {
	if c.TickFrequencyHz == nil {
		return DefaultTickFrequencyHz
	}
	return *c.TickFrequencyHz
}

// GetWrapBits returns the wrap_bits value or the default.
func (c *TranslatorConfig) GetWrapBits() uint {
	if c.WrapBits == nil {
		return DefaultWrapBits
	}
	return *c.WrapBits
}

// GetWrapModulus returns wrap_modulus, or 0 when unset (use wrap_bits).
func (c *TranslatorConfig) GetWrapModulus() uint64 {
	if c.WrapModulus == nil {
		return 0
	}
	return *c.WrapModulus
}

// GetKalmanSigmaOffset returns the kalman_sigma_offset value or the default.
func (c *TranslatorConfig) GetKalmanSigmaOffset() float64 {
	if c.KalmanSigmaOffset == nil {
		return DefaultKalmanSigmaOffset
	}
	return *c.KalmanSigmaOffset
}

// GetKalmanSigmaSkew returns the kalman_sigma_skew value or the default.
func (c *TranslatorConfig) GetKalmanSigmaSkew() float64 {
	if c.KalmanSigmaSkew == nil {
		return DefaultKalmanSigmaSkew
	}
	return *c.KalmanSigmaSkew
}

// GetKalmanSigmaInitOffset returns the kalman_sigma_init_offset value or the default.
func (c *TranslatorConfig) GetKalmanSigmaInitOffset() float64 {
	if c.KalmanSigmaInitOffset == nil {
		return DefaultKalmanSigmaInitOffset
	}
	return *c.KalmanSigmaInitOffset
}

// GetKalmanSigmaInitSkew returns the kalman_sigma_init_skew value or the default.
func (c *TranslatorConfig) GetKalmanSigmaInitSkew() float64 {
	if c.KalmanSigmaInitSkew == nil {
		return DefaultKalmanSigmaInitSkew
	}
	return *c.KalmanSigmaInitSkew
}

// GetKalmanMeasurementSigma returns the kalman_measurement_sigma value or the default.
func (c *TranslatorConfig) GetKalmanMeasurementSigma() float64 {
	if c.KalmanMeasurementSigma == nil {
		return DefaultKalmanMeasurementSigma
	}
	return *c.KalmanMeasurementSigma
}

// GetKalmanOutlierThresholdSecs returns the kalman_outlier_threshold_secs value or the default.
func (c *TranslatorConfig) GetKalmanOutlierThresholdSecs() float64 {
	if c.KalmanOutlierThresholdSecs == nil {
		return DefaultKalmanOutlierThresholdSecs
	}
	return *c.KalmanOutlierThresholdSecs
}
