package devicetime

import (
	"github.com/banshee-data/devicetime/internal/monitoring"
)

// hullPoint is a sample in offset space relative to the first sample:
// x = device - origin, y = (host - device) - originOffset.
type hullPoint struct {
	x float64
	y float64
}

// cross returns the z component of (a-o)×(b-o). Positive means o→a→b turns
// counter-clockwise, which is what the lower hull keeps.
func cross(o, a, b hullPoint) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// convexHullFilter maintains the lower convex hull of (device, offset)
// points. Transport delay only ever adds to the apparent offset, so the
// lowest supporting line is the least biased model the data allows.
//
// Working in offset space (host - device) rather than raw host time is a
// shear of the plane: it keeps the hull, but keeps the coordinates small.
type convexHullFilter struct {
	span sampleSpan

	origin       float64
	originOffset float64
	hull         []hullPoint
}

func newConvexHullFilter(switchTime float64) *convexHullFilter {
	return &convexHullFilter{span: sampleSpan{switchTime: switchTime}}
}

func (f *convexHullFilter) Update(s Sample) float64 {
	if len(f.hull) == 0 {
		f.origin = s.DeviceTime
		f.originOffset = s.HostTime - s.DeviceTime
		f.hull = append(f.hull, hullPoint{})
		f.span.accept(s.HostTime)
		return f.Translate(s.DeviceTime)
	}

	p := hullPoint{
		x: s.DeviceTime - f.origin,
		y: (s.HostTime - s.DeviceTime) - f.originOffset,
	}
	last := f.hull[len(f.hull)-1]
	switch {
	case p.x < last.x:
		monitoring.Warnf("convex hull: dropping out-of-order sample at device time %.9f (last %.9f)", s.DeviceTime, last.x+f.origin)
		return f.Translate(s.DeviceTime)
	case p.x == last.x:
		if p.y >= last.y {
			f.span.accept(s.HostTime)
			return f.Translate(s.DeviceTime)
		}
		// Same device time, smaller delay: the new point supersedes the old.
		f.hull = f.hull[:len(f.hull)-1]
	}

	for n := len(f.hull); n >= 2 && cross(f.hull[n-2], f.hull[n-1], p) <= 0; n = len(f.hull) {
		f.hull = f.hull[:n-1]
	}
	f.hull = append(f.hull, p)
	f.span.accept(s.HostTime)

	monitoring.Verbosef("convex hull: %d vertices after sample at device time %.9f", len(f.hull), s.DeviceTime)
	return f.Translate(s.DeviceTime)
}

// edge returns the newest hull vertex and the slope of the edge ending in
// it. A single vertex has slope zero, i.e. equal clock rates.
func (f *convexHullFilter) edge() (hullPoint, float64) {
	n := len(f.hull)
	b := f.hull[n-1]
	if n < 2 {
		return b, 0
	}
	a := f.hull[n-2]
	return b, (b.y - a.y) / (b.x - a.x)
}

func (f *convexHullFilter) Translate(deviceTime float64) float64 {
	if len(f.hull) == 0 {
		return deviceTime
	}
	b, slope := f.edge()
	x := deviceTime - f.origin
	return deviceTime + f.originOffset + b.y + slope*(x-b.x)
}

func (f *convexHullFilter) IsReady() bool { return f.span.ready() }

func (f *convexHullFilter) Estimate() Estimate {
	if len(f.hull) == 0 {
		return Estimate{}
	}
	b, slope := f.edge()
	return Estimate{
		Reference: f.origin + b.x,
		Offset:    f.originOffset + b.y,
		Skew:      slope,
		Samples:   f.span.count,
	}
}

func (f *convexHullFilter) Algorithm() FilterAlgorithm { return FilterConvexHull }

func (f *convexHullFilter) setSwitchTime(secs float64) { f.span.switchTime = secs }

// vertices returns a copy of the hull in absolute (device, host) terms.
func (f *convexHullFilter) vertices() []Sample {
	out := make([]Sample, len(f.hull))
	for i, p := range f.hull {
		d := f.origin + p.x
		out[i] = Sample{DeviceTime: d, HostTime: d + f.originOffset + p.y}
	}
	return out
}
