package devicetime

import (
	"fmt"
	"math"

	"github.com/banshee-data/devicetime/internal/config"
)

// Config selects and tunes the translator's filter.
type Config struct {
	FilterAlgorithm FilterAlgorithm
	// SwitchTimeSecs is the host-time span of samples a filter needs
	// before the translator reports itself ready.
	SwitchTimeSecs float64
	Kalman         KalmanParameters
}

// DefaultConfig returns the built-in defaults: ConvexHull, ready after
// 10 s of samples.
func DefaultConfig() Config {
	return Config{
		FilterAlgorithm: FilterConvexHull,
		SwitchTimeSecs:  config.DefaultSwitchTimeSecs,
		Kalman:          DefaultKalmanParameters(),
	}
}

// WithFilterAlgorithm returns a copy of c using algo.
func (c Config) WithFilterAlgorithm(algo FilterAlgorithm) Config {
	c.FilterAlgorithm = algo
	return c
}

// WithSwitchTimeSecs returns a copy of c with the given readiness span.
func (c Config) WithSwitchTimeSecs(secs float64) Config {
	c.SwitchTimeSecs = secs
	return c
}

// Validate reports the first invalid field, wrapped in
// ErrInvalidConfiguration. Kalman parameters are checked whatever the
// algorithm, since a later switch may activate them.
func (c Config) Validate() error {
	if !c.FilterAlgorithm.Valid() {
		return fmt.Errorf("%w: unknown filter algorithm %d", ErrInvalidConfiguration, int(c.FilterAlgorithm))
	}
	if c.SwitchTimeSecs < 0 || math.IsNaN(c.SwitchTimeSecs) || math.IsInf(c.SwitchTimeSecs, 0) {
		return fmt.Errorf("%w: switch_time_secs must be a finite non-negative number, got %v", ErrInvalidConfiguration, c.SwitchTimeSecs)
	}
	return c.Kalman.Validate()
}

// withDefaults fills an unset Kalman block so callers that only care about
// algorithm and switch time can leave it zero.
func (c Config) withDefaults() Config {
	if c.Kalman == (KalmanParameters{}) {
		c.Kalman = DefaultKalmanParameters()
	}
	return c
}

// ConfigFromTuning builds a Config from a loaded TranslatorConfig. Use this
// where the configuration file has already been read.
func ConfigFromTuning(cfg *config.TranslatorConfig) (Config, error) {
	algo, err := ParseFilterAlgorithm(cfg.GetFilterAlgorithm())
	if err != nil {
		return Config{}, err
	}
	c := Config{
		FilterAlgorithm: algo,
		SwitchTimeSecs:  cfg.GetSwitchTimeSecs(),
		Kalman: KalmanParameters{
			SigmaOffset:          cfg.GetKalmanSigmaOffset(),
			SigmaSkew:            cfg.GetKalmanSigmaSkew(),
			SigmaInitOffset:      cfg.GetKalmanSigmaInitOffset(),
			SigmaInitSkew:        cfg.GetKalmanSigmaInitSkew(),
			MeasurementSigma:     cfg.GetKalmanMeasurementSigma(),
			OutlierThresholdSecs: cfg.GetKalmanOutlierThresholdSecs(),
		},
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WrappingClockParametersFromTuning builds the device counter description
// from a loaded TranslatorConfig. A wrap_modulus takes precedence over
// wrap_bits.
func WrappingClockParametersFromTuning(cfg *config.TranslatorConfig) (WrappingClockParameters, error) {
	if m := cfg.GetWrapModulus(); m > 0 {
		return NewWrappingClockParameters(m, cfg.GetTickFrequencyHz())
	}
	return NewWrappingClockParametersBits(cfg.GetWrapBits(), cfg.GetTickFrequencyHz())
}
