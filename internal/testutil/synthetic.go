package testutil

import (
	"math"
	"math/rand"
)

// SyntheticStamp is one event as a device and a host would have seen it.
type SyntheticStamp struct {
	Raw         uint64  // wrapped event counter as reported by the device
	TransmitRaw uint64  // wrapped transmit counter
	Ticks       uint64  // unwrapped event ticks
	DeviceTime  float64 // Ticks in device seconds
	HostTime    float64 // true host time of the event
	ReceiveTime float64 // host time the event was received
}

// SyntheticDevice generates stamps from a drifting device clock read over
// a link whose delay is never negative.
type SyntheticDevice struct {
	// Configuration
	TickFrequencyHz   float64 // device counter rate
	WrapModulus       uint64  // counter wraps after this many ticks
	StartTicks        uint64  // unwrapped counter value of the first event
	HostStart         float64 // host time of device tick zero
	Skew              float64 // host seconds per device second, minus one
	BaseDelaySecs     float64 // fixed link delay
	JitterSecs        float64 // uniform extra delay in [0, JitterSecs)
	TransmitDelaySecs float64 // device-side time between event and transmission
	OutlierRate       float64 // probability of an additional OutlierSecs delay
	OutlierSecs       float64

	// Internal state
	rng *rand.Rand
}

// NewSyntheticDevice returns a 1 MHz, 32-bit device running 50 ppm fast
// against the host with up to 2 ms of jitter. seed makes runs repeatable.
func NewSyntheticDevice(seed int64) *SyntheticDevice {
	return &SyntheticDevice{
		TickFrequencyHz: 1e6,
		WrapModulus:     1 << 32,
		HostStart:       1000,
		Skew:            50e-6,
		BaseDelaySecs:   0.5e-3,
		JitterSecs:      2e-3,
		OutlierSecs:     0.5,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// Generate returns n events spaced periodSecs apart in device time.
func (d *SyntheticDevice) Generate(n int, periodSecs float64) []SyntheticStamp {
	out := make([]SyntheticStamp, n)
	step := math.Round(periodSecs * d.TickFrequencyHz)
	txTicks := uint64(math.Round(d.TransmitDelaySecs * d.TickFrequencyHz))
	for i := range out {
		ticks := d.StartTicks + uint64(float64(i)*step)
		device := float64(ticks) / d.TickFrequencyHz
		host := d.HostStart + device*(1+d.Skew)

		delay := d.BaseDelaySecs + d.TransmitDelaySecs
		if d.JitterSecs > 0 {
			delay += d.rng.Float64() * d.JitterSecs
		}
		if d.OutlierRate > 0 && d.rng.Float64() < d.OutlierRate {
			delay += d.OutlierSecs
		}

		out[i] = SyntheticStamp{
			Raw:         ticks % d.WrapModulus,
			TransmitRaw: (ticks + txTicks) % d.WrapModulus,
			Ticks:       ticks,
			DeviceTime:  device,
			HostTime:    host,
			ReceiveTime: host + delay,
		}
	}
	return out
}

// TrueHostTime returns the exact host time of an unwrapped device tick.
func (d *SyntheticDevice) TrueHostTime(ticks uint64) float64 {
	return d.HostStart + float64(ticks)/d.TickFrequencyHz*(1+d.Skew)
}
