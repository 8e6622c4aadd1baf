package devicetime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/devicetime/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, FilterConvexHull, cfg.FilterAlgorithm)
	assert.Equal(t, 10.0, cfg.SwitchTimeSecs)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	algo := "kalman"
	switchTime := 3.0
	sigma := 2e-3
	tc := &config.TranslatorConfig{
		FilterAlgorithm:        &algo,
		SwitchTimeSecs:         &switchTime,
		KalmanMeasurementSigma: &sigma,
	}

	cfg, err := ConfigFromTuning(tc)
	require.NoError(t, err)
	assert.Equal(t, FilterKalman, cfg.FilterAlgorithm)
	assert.Equal(t, 3.0, cfg.SwitchTimeSecs)
	assert.Equal(t, 2e-3, cfg.Kalman.MeasurementSigma)
	assert.Equal(t, DefaultKalmanParameters().SigmaSkew, cfg.Kalman.SigmaSkew)
}

func TestConfigFromTuning_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = ConfigFromTuning(config.EmptyTranslatorConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigFromTuning_Invalid(t *testing.T) {
	t.Parallel()

	bad := "median"
	_, err := ConfigFromTuning(&config.TranslatorConfig{FilterAlgorithm: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	neg := -2.0
	_, err = ConfigFromTuning(&config.TranslatorConfig{SwitchTimeSecs: &neg})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestWrappingClockParametersFromTuning(t *testing.T) {
	t.Parallel()

	p, err := WrappingClockParametersFromTuning(config.EmptyTranslatorConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<32, p.WrapModulus)
	assert.Equal(t, 1e6, p.TickFrequencyHz)

	bits := uint(12)
	modulus := uint64(4_000_000_000)
	hz := 40e6
	p, err = WrappingClockParametersFromTuning(&config.TranslatorConfig{WrapBits: &bits, WrapModulus: &modulus, TickFrequencyHz: &hz})
	require.NoError(t, err)
	assert.Equal(t, modulus, p.WrapModulus, "modulus wins over bits")
	assert.Equal(t, hz, p.TickFrequencyHz)

	p, err = WrappingClockParametersFromTuning(&config.TranslatorConfig{WrapBits: &bits})
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), p.WrapModulus)
}
