package devicetime

import (
	"fmt"
	"math"
)

// MaxWrapBits is the widest counter NewWrappingClockParametersBits accepts.
// A 64-bit counter never wraps in practice; use PassThroughUnwrapper for it.
const MaxWrapBits = 63

// ClockParameters describes the tick rate of a device clock.
type ClockParameters struct {
	TickFrequencyHz float64
}

// NewClockParameters validates hz and returns the parameters.
func NewClockParameters(hz float64) (ClockParameters, error) {
	if !(hz > 0) || math.IsInf(hz, 0) {
		return ClockParameters{}, fmt.Errorf("%w: tick frequency must be positive and finite, got %v", ErrInvalidConfiguration, hz)
	}
	return ClockParameters{TickFrequencyHz: hz}, nil
}

// TicksToSeconds converts an unbounded tick count into device seconds.
// Whole seconds and the remainder are converted separately so large tick
// counts keep sub-tick precision.
func (p ClockParameters) TicksToSeconds(ticks uint64) float64 {
	if p.TickFrequencyHz >= 1 && p.TickFrequencyHz == math.Trunc(p.TickFrequencyHz) && p.TickFrequencyHz <= math.MaxUint64/2 {
		hz := uint64(p.TickFrequencyHz)
		whole := ticks / hz
		rem := ticks % hz
		return float64(whole) + float64(rem)/p.TickFrequencyHz
	}
	return float64(ticks) / p.TickFrequencyHz
}

// WrappingClockParameters describes a device counter that wraps to zero
// after WrapModulus ticks.
type WrappingClockParameters struct {
	ClockParameters
	WrapModulus uint64
}

// NewWrappingClockParameters validates the modulus and tick rate.
func NewWrappingClockParameters(wrapModulus uint64, hz float64) (WrappingClockParameters, error) {
	cp, err := NewClockParameters(hz)
	if err != nil {
		return WrappingClockParameters{}, err
	}
	if wrapModulus == 0 {
		return WrappingClockParameters{}, fmt.Errorf("%w: wrap modulus must be positive", ErrInvalidConfiguration)
	}
	return WrappingClockParameters{ClockParameters: cp, WrapModulus: wrapModulus}, nil
}

// NewWrappingClockParametersBits builds parameters for a counter that is
// bits wide, i.e. wraps after 2^bits ticks.
func NewWrappingClockParametersBits(bits uint, hz float64) (WrappingClockParameters, error) {
	if bits == 0 || bits > MaxWrapBits {
		return WrappingClockParameters{}, fmt.Errorf("%w: wrap bits must be in [1, %d], got %d", ErrInvalidConfiguration, MaxWrapBits, bits)
	}
	return NewWrappingClockParameters(uint64(1)<<bits, hz)
}

// TransmitDelaySeconds returns the device-side time from an event stamp to
// its transmit stamp. The two counters unwrap independently, so the pair
// can straddle a wrap; the difference is taken modulo the wrap period.
func (p WrappingClockParameters) TransmitDelaySeconds(eventRaw, transmitRaw uint64) float64 {
	m := p.WrapModulus
	delay := (transmitRaw%m + m - eventRaw%m) % m
	return p.TicksToSeconds(delay)
}

// UnwrappedStamp is a device timestamp after wrap compensation.
// Ticks = WrapCount*modulus + Raw.
type UnwrappedStamp struct {
	WrapCount uint64
	Raw       uint64
	Ticks     uint64
}

// Seconds converts the stamp into device seconds.
func (s UnwrappedStamp) Seconds(p ClockParameters) float64 {
	return p.TicksToSeconds(s.Ticks)
}
