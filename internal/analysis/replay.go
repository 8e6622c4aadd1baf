// Package analysis replays recorded device stamps through the device time
// translator and summarises how each clock filter tracked the host clock.
package analysis

import (
	"errors"
	"fmt"

	"github.com/banshee-data/devicetime/internal/devicetime"
	"github.com/banshee-data/devicetime/internal/monitoring"
	"github.com/banshee-data/devicetime/internal/stamplog"
)

// Input is one recorded session and the translator settings to replay it
// with. Config.FilterAlgorithm is overridden per replay.
type Input struct {
	Records []stamplog.Record
	Params  devicetime.WrappingClockParameters
	Config  devicetime.Config

	// UseTransmit subtracts the on-device transmit delay from each receive
	// time. Every record must then carry a transmit stamp.
	UseTransmit bool
	// PassThrough treats event ticks as an unbounded counter.
	PassThrough bool
}

// Point is the translator's view of one replayed event.
type Point struct {
	Seq        int     `json:"seq"`
	DeviceTime float64 `json:"device_time"`
	// Measured is the host time handed to the filter: receive time plus
	// offset, less any transmit delay.
	Measured float64 `json:"measured"`
	Estimate float64 `json:"estimate"`
	Residual float64 `json:"residual"`
	Ready    bool    `json:"ready"`
}

// Result summarises a replay under one filter algorithm.
type Result struct {
	Algorithm string  `json:"algorithm"`
	Points    []Point `json:"points"`
	Stats     Stats   `json:"stats"`
	// ReadyAfter is the measured host time from the first sample until
	// the translator first reported ready; nil if it never did.
	ReadyAfter    *float64            `json:"ready_after_secs,omitempty"`
	FinalEstimate devicetime.Estimate `json:"final_estimate"`
	Anomalies     uint64              `json:"anomalies"`
}

// ErrMissingTransmit is returned when UseTransmit is set but a record has
// no transmit stamp.
var ErrMissingTransmit = errors.New("record has no transmit stamp")

// replayer is the part of the translator compositions a replay drives.
type replayer interface {
	step(rec stamplog.Record) (stamp devicetime.UnwrappedStamp, measured, estimate float64)
	translator() *devicetime.Translator
	anomalies() uint64
}

type eventReplayer struct {
	ut *devicetime.UnwrapperAndTranslator
	u  *devicetime.EventOnlyUnwrapper
}

func (r *eventReplayer) step(rec stamplog.Record) (devicetime.UnwrappedStamp, float64, float64) {
	stamp := r.ut.UnwrapEventStamp(rec.EventTicks)
	return stamp, rec.ReceiveTime + rec.Offset, r.ut.UpdateStamp(stamp, rec.ReceiveTime, rec.Offset)
}

func (r *eventReplayer) translator() *devicetime.Translator { return r.ut.Translator() }
func (r *eventReplayer) anomalies() uint64                  { return r.u.Anomalies() }

type transmitReplayer struct {
	ut     *devicetime.UnwrapperAndTranslatorWithTransmitTime
	params devicetime.WrappingClockParameters
}

func (r *transmitReplayer) step(rec stamplog.Record) (devicetime.UnwrappedStamp, float64, float64) {
	event := r.ut.UnwrapEventStamp(rec.EventTicks)
	transmit := r.ut.UnwrapTransmitStamp(rec.TransmitTicks)
	delay := r.params.TransmitDelaySeconds(event.Raw, transmit.Raw)
	estimate := r.ut.UpdateStamps(event, transmit, rec.ReceiveTime, rec.Offset)
	return event, rec.ReceiveTime + rec.Offset - delay, estimate
}

func (r *transmitReplayer) translator() *devicetime.Translator { return r.ut.Translator() }
func (r *transmitReplayer) anomalies() uint64 {
	u := r.ut.Unwrapper()
	return u.Event().Anomalies() + u.Transmit().Anomalies()
}

type passThroughReplayer struct {
	ut *devicetime.UnwrappedDeviceTimeTranslator
}

func (r *passThroughReplayer) step(rec stamplog.Record) (devicetime.UnwrappedStamp, float64, float64) {
	stamp := r.ut.UnwrapEventStamp(rec.EventTicks)
	return stamp, rec.ReceiveTime + rec.Offset, r.ut.UpdateStamp(stamp, rec.ReceiveTime, rec.Offset)
}

func (r *passThroughReplayer) translator() *devicetime.Translator { return r.ut.Translator() }
func (r *passThroughReplayer) anomalies() uint64                  { return 0 }

func newReplayer(in Input, cfg devicetime.Config) (replayer, error) {
	switch {
	case in.PassThrough:
		ut, err := devicetime.NewUnwrappedDeviceTimeTranslator(in.Params.ClockParameters, cfg)
		if err != nil {
			return nil, err
		}
		return &passThroughReplayer{ut: ut}, nil
	case in.UseTransmit:
		ut, err := devicetime.NewUnwrapperAndTranslatorWithTransmitTime(in.Params, cfg)
		if err != nil {
			return nil, err
		}
		return &transmitReplayer{ut: ut, params: in.Params}, nil
	default:
		u := devicetime.NewEventOnlyUnwrapper(in.Params)
		ut, err := devicetime.NewUnwrapperAndTranslator(u, cfg)
		if err != nil {
			return nil, err
		}
		return &eventReplayer{ut: ut, u: u}, nil
	}
}

// Replay runs every record through a fresh translator using algo.
func Replay(in Input, algo devicetime.FilterAlgorithm) (*Result, error) {
	if len(in.Records) == 0 {
		return nil, stamplog.ErrNoRecords
	}
	if in.UseTransmit && !in.PassThrough && !stamplog.AllHaveTransmit(in.Records) {
		return nil, ErrMissingTransmit
	}
	r, err := newReplayer(in, in.Config.WithFilterAlgorithm(algo))
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}
	clock := r.translator().Clock()

	res := &Result{
		Algorithm: algo.String(),
		Points:    make([]Point, 0, len(in.Records)),
	}
	var firstMeasured float64
	for i, rec := range in.Records {
		stamp, measured, estimate := r.step(rec)
		if i == 0 {
			firstMeasured = measured
		}
		ready := r.translator().IsReadyToTranslate()
		if ready && res.ReadyAfter == nil {
			after := measured - firstMeasured
			res.ReadyAfter = &after
		}
		res.Points = append(res.Points, Point{
			Seq:        i,
			DeviceTime: stamp.Seconds(clock),
			Measured:   measured,
			Estimate:   estimate,
			Residual:   measured - estimate,
			Ready:      ready,
		})
	}
	res.FinalEstimate = r.translator().Estimate()
	res.Anomalies = r.anomalies()
	res.Stats = ComputeStats(res.Points)

	monitoring.Verbosef("replay %s: %d samples, %d ready, %d anomalies",
		res.Algorithm, len(res.Points), res.Stats.Samples, res.Anomalies)
	return res, nil
}

// ReplayAll replays in under each algorithm, in order.
func ReplayAll(in Input, algos []devicetime.FilterAlgorithm) ([]*Result, error) {
	results := make([]*Result, 0, len(algos))
	for _, algo := range algos {
		res, err := Replay(in, algo)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", algo, err)
		}
		results = append(results, res)
	}
	return results, nil
}
