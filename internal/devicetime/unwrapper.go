package devicetime

import (
	"github.com/banshee-data/devicetime/internal/monitoring"
)

// Unwrapper turns raw device stamps into unbounded tick counts.
//
// Implementations are stateful and must be fed every event stamp exactly
// once, in event order, at least once per wrap period. A missed period or
// a reordered call corrupts the wrap count permanently; the device cannot
// tell, so this is a caller contract rather than a checked condition.
type Unwrapper interface {
	ToUnwrapped(raw uint64) UnwrappedStamp
	Clock() ClockParameters
}

// EventOnlyUnwrapper tracks wraps of a single device counter.
type EventOnlyUnwrapper struct {
	params    WrappingClockParameters
	wrapCount uint64
	last      uint64
	seeded    bool
	anomalies uint64
}

// NewEventOnlyUnwrapper returns an unwrapper for one counter with the given
// parameters.
func NewEventOnlyUnwrapper(params WrappingClockParameters) *EventOnlyUnwrapper {
	return &EventOnlyUnwrapper{params: params}
}

// ToUnwrapped records raw and returns its unwrapped stamp. Any value
// smaller than the previous one is taken as exactly one wrap. Steps that
// look implausible (a short backwards jump, a repeated value, a value
// outside the modulus) are counted and logged but processed by the same
// rule, since there is no reliable way to correct them.
func (u *EventOnlyUnwrapper) ToUnwrapped(raw uint64) UnwrappedStamp {
	m := u.params.WrapModulus
	if raw >= m {
		u.anomalies++
		monitoring.Warnf("device stamp %d outside wrap modulus %d", raw, m)
	}
	if u.seeded {
		switch {
		case raw < u.last:
			u.wrapCount++
			// A genuine wrap moves forward by (m - last + raw) ticks; when
			// that is more than half a period the device probably went
			// backwards instead.
			if u.last < m && m-u.last+raw > m/2 {
				u.anomalies++
				monitoring.Warnf("device stamp regressed from %d to %d; assuming wrap %d", u.last, raw, u.wrapCount)
			}
		case raw == u.last:
			u.anomalies++
			monitoring.Warnf("device stamp %d repeated", raw)
		}
	}
	u.last = raw
	u.seeded = true
	return UnwrappedStamp{
		WrapCount: u.wrapCount,
		Raw:       raw,
		Ticks:     u.wrapCount*m + raw,
	}
}

// Clock returns the tick rate of the counter.
func (u *EventOnlyUnwrapper) Clock() ClockParameters {
	return u.params.ClockParameters
}

// Parameters returns the full wrapping parameters.
func (u *EventOnlyUnwrapper) Parameters() WrappingClockParameters {
	return u.params
}

// WrapCount returns the number of wraps seen so far.
func (u *EventOnlyUnwrapper) WrapCount() uint64 {
	return u.wrapCount
}

// Anomalies returns how many suspicious stamps have been flagged.
func (u *EventOnlyUnwrapper) Anomalies() uint64 {
	return u.anomalies
}

// EventAndTransmitUnwrapper tracks two counters per event: the event stamp
// and the stamp at which the device transmitted the event. They share
// parameters but wrap independently.
type EventAndTransmitUnwrapper struct {
	event    *EventOnlyUnwrapper
	transmit *EventOnlyUnwrapper
}

// NewEventAndTransmitUnwrapper returns a dual-stamp unwrapper.
func NewEventAndTransmitUnwrapper(params WrappingClockParameters) *EventAndTransmitUnwrapper {
	return &EventAndTransmitUnwrapper{
		event:    NewEventOnlyUnwrapper(params),
		transmit: NewEventOnlyUnwrapper(params),
	}
}

// ToUnwrapped unwraps an event stamp.
func (u *EventAndTransmitUnwrapper) ToUnwrapped(raw uint64) UnwrappedStamp {
	return u.event.ToUnwrapped(raw)
}

// ToUnwrappedTransmit unwraps a transmit stamp.
func (u *EventAndTransmitUnwrapper) ToUnwrappedTransmit(raw uint64) UnwrappedStamp {
	return u.transmit.ToUnwrapped(raw)
}

// Clock returns the tick rate shared by both counters.
func (u *EventAndTransmitUnwrapper) Clock() ClockParameters {
	return u.event.Clock()
}

// Event exposes the event counter state.
func (u *EventAndTransmitUnwrapper) Event() *EventOnlyUnwrapper { return u.event }

// Transmit exposes the transmit counter state.
func (u *EventAndTransmitUnwrapper) Transmit() *EventOnlyUnwrapper { return u.transmit }

// PassThroughUnwrapper is used when the device already reports an
// unbounded counter.
type PassThroughUnwrapper struct {
	params ClockParameters
}

// NewPassThroughUnwrapper returns an identity unwrapper.
func NewPassThroughUnwrapper(params ClockParameters) PassThroughUnwrapper {
	return PassThroughUnwrapper{params: params}
}

// ToUnwrapped returns raw unchanged with a zero wrap count.
func (u PassThroughUnwrapper) ToUnwrapped(raw uint64) UnwrappedStamp {
	return UnwrappedStamp{Raw: raw, Ticks: raw}
}

// Clock returns the tick rate.
func (u PassThroughUnwrapper) Clock() ClockParameters {
	return u.params
}
