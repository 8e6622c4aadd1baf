package devicetime

import (
	"fmt"
	"strings"
)

// FilterAlgorithm selects how device time is mapped onto host time.
type FilterAlgorithm int

const (
	// FilterNone trusts the device clock: host = device + applied offset.
	FilterNone FilterAlgorithm = iota
	// FilterConvexHull fits the lower convex hull of the samples, assuming
	// transport delay can only make a sample look late.
	FilterConvexHull
	// FilterKalman smooths offset and skew with a two-state Kalman filter.
	FilterKalman
)

var filterAlgorithmNames = map[FilterAlgorithm]string{
	FilterNone:       "None",
	FilterConvexHull: "ConvexHull",
	FilterKalman:     "Kalman",
}

// String returns the canonical name of the algorithm.
func (a FilterAlgorithm) String() string {
	if name, ok := filterAlgorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("FilterAlgorithm(%d)", int(a))
}

// Valid reports whether a is a known algorithm.
func (a FilterAlgorithm) Valid() bool {
	_, ok := filterAlgorithmNames[a]
	return ok
}

// ParseFilterAlgorithm accepts the canonical names case-insensitively, with
// optional '_' or '-' separators ("convex_hull", "ConvexHull", "kalman").
func ParseFilterAlgorithm(s string) (FilterAlgorithm, error) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for algo, name := range filterAlgorithmNames {
		if strings.ToLower(name) == key {
			return algo, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown filter algorithm %q", ErrInvalidConfiguration, s)
}

// FilterAlgorithms lists the known algorithms in selector order.
func FilterAlgorithms() []FilterAlgorithm {
	return []FilterAlgorithm{FilterNone, FilterConvexHull, FilterKalman}
}

// Sample is one (device, host) observation handed to a filter. HostTime
// already includes AppliedOffset.
type Sample struct {
	DeviceTime    float64
	HostTime      float64
	AppliedOffset float64
}

// Estimate is the affine model a filter currently holds:
// host ≈ device + Offset + Skew*(device - Reference).
// Skew is the rate error, so the drift factor of host against device
// time is 1 + Skew.
type Estimate struct {
	Reference float64
	Offset    float64
	Skew      float64
	Samples   int
}

// At evaluates the estimate at deviceTime.
func (e Estimate) At(deviceTime float64) float64 {
	return deviceTime + e.Offset + e.Skew*(deviceTime-e.Reference)
}

// Drift returns host seconds elapsed per device second.
func (e Estimate) Drift() float64 {
	return 1 + e.Skew
}

// ClockFilter estimates host time from device time.
//
// Update consumes a sample and returns the estimate for its device time.
// Translate evaluates the current model without changing it. Before the
// first Update both return the device time unchanged.
type ClockFilter interface {
	Update(s Sample) float64
	Translate(deviceTime float64) float64
	IsReady() bool
	Estimate() Estimate
	Algorithm() FilterAlgorithm

	setSwitchTime(secs float64)
}

func newFilter(algo FilterAlgorithm, cfg Config) ClockFilter {
	switch algo {
	case FilterConvexHull:
		return newConvexHullFilter(cfg.SwitchTimeSecs)
	case FilterKalman:
		return newKalmanFilter(cfg.SwitchTimeSecs, cfg.Kalman)
	default:
		return &noneFilter{}
	}
}

// sampleSpan tracks the host-time span of accepted samples for readiness.
type sampleSpan struct {
	switchTime float64
	first      float64
	last       float64
	count      int
}

func (s *sampleSpan) accept(hostTime float64) {
	switch {
	case s.count == 0:
		s.first, s.last = hostTime, hostTime
	case hostTime < s.first:
		s.first = hostTime
	case hostTime > s.last:
		s.last = hostTime
	}
	s.count++
}

func (s *sampleSpan) ready() bool {
	return s.count > 0 && s.last-s.first >= s.switchTime
}

// noneFilter passes device time through, shifted by the caller's offset.
type noneFilter struct {
	offset  float64
	samples int
}

func (f *noneFilter) Update(s Sample) float64 {
	f.offset = s.AppliedOffset
	f.samples++
	return s.DeviceTime + f.offset
}

func (f *noneFilter) Translate(deviceTime float64) float64 {
	return deviceTime + f.offset
}

func (f *noneFilter) IsReady() bool { return f.samples > 0 }

func (f *noneFilter) Estimate() Estimate {
	return Estimate{Offset: f.offset, Samples: f.samples}
}

func (f *noneFilter) Algorithm() FilterAlgorithm { return FilterNone }

func (f *noneFilter) setSwitchTime(float64) {}
