package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTranslatorConfig(t *testing.T) {
	cfg := DefaultTranslatorConfig()

	if cfg.FilterAlgorithm == nil || *cfg.FilterAlgorithm != "ConvexHull" {
		t.Errorf("Expected FilterAlgorithm ConvexHull, got %v", cfg.FilterAlgorithm)
	}
	if cfg.SwitchTimeSecs == nil || *cfg.SwitchTimeSecs != 10 {
		t.Errorf("Expected SwitchTimeSecs 10, got %v", cfg.SwitchTimeSecs)
	}
	if cfg.GetWrapBits() != 32 {
		t.Errorf("GetWrapBits() = %d, want 32", cfg.GetWrapBits())
	}
	if cfg.GetWrapModulus() != 0 {
		t.Errorf("GetWrapModulus() = %d, want 0", cfg.GetWrapModulus())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEmptyTranslatorConfig_GettersFallBack(t *testing.T) {
	cfg := EmptyTranslatorConfig()

	assert.Equal(t, DefaultFilterAlgorithm, cfg.GetFilterAlgorithm())
	assert.Equal(t, DefaultSwitchTimeSecs, cfg.GetSwitchTimeSecs())
	assert.Equal(t, DefaultTickFrequencyHz, cfg.GetTickFrequencyHz())
	assert.Equal(t, uint(DefaultWrapBits), cfg.GetWrapBits())
	assert.Equal(t, uint64(0), cfg.GetWrapModulus())
	assert.Equal(t, DefaultKalmanSigmaOffset, cfg.GetKalmanSigmaOffset())
	assert.Equal(t, DefaultKalmanSigmaSkew, cfg.GetKalmanSigmaSkew())
	assert.Equal(t, DefaultKalmanSigmaInitOffset, cfg.GetKalmanSigmaInitOffset())
	assert.Equal(t, DefaultKalmanSigmaInitSkew, cfg.GetKalmanSigmaInitSkew())
	assert.Equal(t, DefaultKalmanMeasurementSigma, cfg.GetKalmanMeasurementSigma())
	assert.Equal(t, DefaultKalmanOutlierThresholdSecs, cfg.GetKalmanOutlierThresholdSecs())
	assert.NoError(t, cfg.Validate())
}

func TestLoadTranslatorConfig_JSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "translator.json")

	testJSON := `{
  "filter_algorithm": "kalman",
  "switch_time_secs": 2.5,
  "tick_frequency_hz": 40000000,
  "wrap_modulus": 4000000000,
  "kalman_measurement_sigma": 0.0005
}`
	require.NoError(t, os.WriteFile(configPath, []byte(testJSON), 0644))

	cfg, err := LoadTranslatorConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "kalman", cfg.GetFilterAlgorithm())
	assert.Equal(t, 2.5, cfg.GetSwitchTimeSecs())
	assert.Equal(t, 40e6, cfg.GetTickFrequencyHz())
	assert.Equal(t, uint64(4000000000), cfg.GetWrapModulus())
	assert.Equal(t, 0.0005, cfg.GetKalmanMeasurementSigma())
	// Omitted fields fall back.
	assert.Equal(t, DefaultKalmanSigmaSkew, cfg.GetKalmanSigmaSkew())
}

func TestLoadTranslatorConfig_YAML(t *testing.T) {
	tmpDir := t.TempDir()

	for _, ext := range []string{".yaml", ".yml"} {
		configPath := filepath.Join(tmpDir, "translator"+ext)
		testYAML := "filter_algorithm: None\nswitch_time_secs: 0\nwrap_bits: 16\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testYAML), 0644))

		cfg, err := LoadTranslatorConfig(configPath)
		require.NoError(t, err, ext)
		assert.Equal(t, "None", cfg.GetFilterAlgorithm())
		assert.Equal(t, 0.0, cfg.GetSwitchTimeSecs())
		assert.Equal(t, uint(16), cfg.GetWrapBits())
	}
}

func TestLoadTranslatorConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"bad extension", write("translator.txt", "{}"), "extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "failed to stat"},
		{"bad json", write("bad.json", "{not json"), "failed to parse config JSON"},
		{"bad yaml", write("bad.yaml", "filter_algorithm: [unterminated"), "failed to parse config YAML"},
		{"unknown algorithm", write("algo.json", `{"filter_algorithm": "median"}`), "unknown filter_algorithm"},
		{"negative switch time", write("switch.json", `{"switch_time_secs": -1}`), "switch_time_secs"},
		{"zero tick frequency", write("hz.json", `{"tick_frequency_hz": 0}`), "tick_frequency_hz"},
		{"wrap bits too wide", write("bits.json", `{"wrap_bits": 64}`), "wrap_bits"},
		{"zero modulus", write("mod.json", `{"wrap_modulus": 0}`), "wrap_modulus"},
		{"non-positive sigma", write("sigma.json", `{"kalman_sigma_skew": 0}`), "kalman_sigma_skew"},
		{"negative outlier threshold", write("outlier.json", `{"kalman_outlier_threshold_secs": -0.5}`), "kalman_outlier_threshold_secs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTranslatorConfig(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadTranslatorConfig_TooLarge(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "huge.json")
	body := `{"filter_algorithm": "None", "pad": "` + strings.Repeat("x", 1024*1024) + `"}`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0644))

	_, err := LoadTranslatorConfig(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestNormalizeFilterAlgorithm(t *testing.T) {
	tests := map[string]string{
		"ConvexHull":  "convexhull",
		"convex_hull": "convexhull",
		"Convex-Hull": "convexhull",
		"KALMAN":      "kalman",
		" none ":      "none",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeFilterAlgorithm(in), in)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	require.NotNil(t, cfg)

	// The canonical file mirrors the built-in defaults.
	def := DefaultTranslatorConfig()
	assert.Equal(t, def.GetFilterAlgorithm(), cfg.GetFilterAlgorithm())
	assert.Equal(t, def.GetSwitchTimeSecs(), cfg.GetSwitchTimeSecs())
	assert.Equal(t, def.GetTickFrequencyHz(), cfg.GetTickFrequencyHz())
	assert.Equal(t, def.GetWrapBits(), cfg.GetWrapBits())
	assert.Equal(t, def.GetKalmanSigmaOffset(), cfg.GetKalmanSigmaOffset())
	assert.Equal(t, def.GetKalmanOutlierThresholdSecs(), cfg.GetKalmanOutlierThresholdSecs())
}
