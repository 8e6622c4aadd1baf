package devicetime

import (
	"fmt"

	"github.com/banshee-data/devicetime/internal/monitoring"
)

// Translator maps unwrapped device stamps onto host time through exactly
// one active ClockFilter. It never touches the unwrapper that produced the
// stamps, so switching filters keeps the wrap history intact.
type Translator struct {
	clock  ClockParameters
	cfg    Config
	filter ClockFilter

	firstSampleTime float64
	hasSample       bool
}

// NewTranslator validates clock and cfg and returns a translator with an
// empty filter of the configured kind.
func NewTranslator(clock ClockParameters, cfg Config) (*Translator, error) {
	if _, err := NewClockParameters(clock.TickFrequencyHz); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Translator{
		clock:  clock,
		cfg:    cfg,
		filter: newFilter(cfg.FilterAlgorithm, cfg),
	}, nil
}

// Update feeds one event to the filter and returns its host time estimate.
// offset is added to receiveTime before the filter sees it; pass 0 when
// there is nothing to correct.
func (t *Translator) Update(stamp UnwrappedStamp, receiveTime, offset float64) float64 {
	return t.updateSeconds(stamp.Seconds(t.clock), receiveTime, offset)
}

func (t *Translator) updateSeconds(deviceTime, receiveTime, offset float64) float64 {
	s := Sample{
		DeviceTime:    deviceTime,
		HostTime:      receiveTime + offset,
		AppliedOffset: offset,
	}
	estimate := t.filter.Update(s)
	if !t.hasSample {
		t.firstSampleTime = s.HostTime
		t.hasSample = true
	}
	return estimate
}

// Translate estimates the host time of stamp from the current model. It
// answers even when the translator is not ready; gate on
// IsReadyToTranslate before trusting the result.
func (t *Translator) Translate(stamp UnwrappedStamp) float64 {
	return t.filter.Translate(stamp.Seconds(t.clock))
}

// IsReadyToTranslate reports whether the active filter has seen at least
// SwitchTimeSecs of samples (or, for FilterNone, any sample).
func (t *Translator) IsReadyToTranslate() bool {
	return t.hasSample && t.filter.IsReady()
}

// CurrentFilterAlgorithm returns the kind of the active filter.
func (t *Translator) CurrentFilterAlgorithm() FilterAlgorithm {
	return t.cfg.FilterAlgorithm
}

// SwitchTimeSecs returns the configured readiness span.
func (t *Translator) SwitchTimeSecs() float64 {
	return t.cfg.SwitchTimeSecs
}

// Config returns the active configuration.
func (t *Translator) Config() Config {
	return t.cfg
}

// Clock returns the device clock parameters used for tick conversion.
func (t *Translator) Clock() ClockParameters {
	return t.clock
}

// FirstSampleTime returns the corrected host time of the first sample seen
// by the active filter.
func (t *Translator) FirstSampleTime() (float64, bool) {
	return t.firstSampleTime, t.hasSample
}

// Estimate returns the active filter's current model.
func (t *Translator) Estimate() Estimate {
	return t.filter.Estimate()
}

// SetFilterAlgorithm switches to algo. Selecting the active algorithm is a
// no-op; any other valid choice discards the current filter and starts a
// fresh one with no samples, so readiness drops until SwitchTimeSecs of
// new samples accrue.
func (t *Translator) SetFilterAlgorithm(algo FilterAlgorithm) error {
	if !algo.Valid() {
		return fmt.Errorf("%w: unknown filter algorithm %d", ErrInvalidConfiguration, int(algo))
	}
	if algo == t.cfg.FilterAlgorithm {
		return nil
	}
	t.replaceFilter(t.cfg.WithFilterAlgorithm(algo))
	return nil
}

// ApplyConfiguration installs cfg atomically: either every field is applied
// or, on a validation error, nothing changes.
//
// A different algorithm, or different Kalman parameters while Kalman is
// active, replaces the filter. A switch time change alone is applied to
// the live filter, so a larger threshold can withdraw readiness.
func (t *Translator) ApplyConfiguration(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	rebuild := cfg.FilterAlgorithm != t.cfg.FilterAlgorithm ||
		(cfg.FilterAlgorithm == FilterKalman && cfg.Kalman != t.cfg.Kalman)
	if rebuild {
		t.replaceFilter(cfg)
		return nil
	}
	if cfg.SwitchTimeSecs != t.cfg.SwitchTimeSecs {
		monitoring.Logf("device time: switch time %.3fs -> %.3fs", t.cfg.SwitchTimeSecs, cfg.SwitchTimeSecs)
		t.filter.setSwitchTime(cfg.SwitchTimeSecs)
	}
	t.cfg = cfg
	return nil
}

func (t *Translator) replaceFilter(cfg Config) {
	monitoring.Logf("device time: switching filter %s -> %s", t.cfg.FilterAlgorithm, cfg.FilterAlgorithm)
	t.filter = newFilter(cfg.FilterAlgorithm, cfg)
	t.cfg = cfg
	t.firstSampleTime = 0
	t.hasSample = false
}
