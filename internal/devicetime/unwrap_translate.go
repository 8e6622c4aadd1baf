package devicetime

import (
	"github.com/banshee-data/devicetime/internal/timeutil"
)

// UnwrapperAndTranslator chains an Unwrapper and a Translator behind one
// entry point. The unwrapper is injected and owned by the composition;
// filter switches never reset it.
type UnwrapperAndTranslator struct {
	unwrapper  Unwrapper
	translator *Translator
	hostClock  timeutil.Clock
}

// NewUnwrapperAndTranslator pairs u with a new Translator using u's clock.
func NewUnwrapperAndTranslator(u Unwrapper, cfg Config) (*UnwrapperAndTranslator, error) {
	tr, err := NewTranslator(u.Clock(), cfg)
	if err != nil {
		return nil, err
	}
	return &UnwrapperAndTranslator{
		unwrapper:  u,
		translator: tr,
		hostClock:  timeutil.RealClock{},
	}, nil
}

// NewDefaultUnwrapperAndTranslator is the common case: one wrapping event
// counter per event.
func NewDefaultUnwrapperAndTranslator(params WrappingClockParameters, cfg Config) (*UnwrapperAndTranslator, error) {
	return NewUnwrapperAndTranslator(NewEventOnlyUnwrapper(params), cfg)
}

// SetHostClock replaces the clock UpdateNow reads receive times from.
func (ut *UnwrapperAndTranslator) SetHostClock(c timeutil.Clock) {
	ut.hostClock = c
}

// Update unwraps eventStamp and feeds it to the translator.
//
// Every event must pass through Update or UnwrapEventStamp exactly once,
// in device order. A stamp fed out of order looks like a wrap and makes
// device time leap forward by a whole period.
func (ut *UnwrapperAndTranslator) Update(eventStamp uint64, receiveTime, offset float64) float64 {
	return ut.UpdateStamp(ut.unwrapper.ToUnwrapped(eventStamp), receiveTime, offset)
}

// UpdateStamp feeds a stamp already unwrapped with UnwrapEventStamp.
func (ut *UnwrapperAndTranslator) UpdateStamp(stamp UnwrappedStamp, receiveTime, offset float64) float64 {
	return ut.translator.Update(stamp, receiveTime, offset)
}

// UpdateNow is Update with the receive time taken from the host clock.
func (ut *UnwrapperAndTranslator) UpdateNow(eventStamp uint64, offset float64) float64 {
	return ut.Update(eventStamp, timeutil.HostSeconds(ut.hostClock.Now()), offset)
}

// UnwrapEventStamp unwraps an event stamp without updating the filter, for
// callers that translate later. The same ordering contract as Update
// applies.
func (ut *UnwrapperAndTranslator) UnwrapEventStamp(eventStamp uint64) UnwrappedStamp {
	return ut.unwrapper.ToUnwrapped(eventStamp)
}

// Translate estimates the host time of an already unwrapped stamp.
func (ut *UnwrapperAndTranslator) Translate(stamp UnwrappedStamp) float64 {
	return ut.translator.Translate(stamp)
}

// IsReadyToTranslate delegates to the translator.
func (ut *UnwrapperAndTranslator) IsReadyToTranslate() bool {
	return ut.translator.IsReadyToTranslate()
}

// CurrentFilterAlgorithm delegates to the translator.
func (ut *UnwrapperAndTranslator) CurrentFilterAlgorithm() FilterAlgorithm {
	return ut.translator.CurrentFilterAlgorithm()
}

// SetFilterAlgorithm delegates to the translator; the unwrapper is untouched.
func (ut *UnwrapperAndTranslator) SetFilterAlgorithm(algo FilterAlgorithm) error {
	return ut.translator.SetFilterAlgorithm(algo)
}

// ApplyConfiguration delegates to the translator.
func (ut *UnwrapperAndTranslator) ApplyConfiguration(cfg Config) error {
	return ut.translator.ApplyConfiguration(cfg)
}

// Translator exposes the underlying translator.
func (ut *UnwrapperAndTranslator) Translator() *Translator { return ut.translator }

// Unwrapper exposes the underlying unwrapper.
func (ut *UnwrapperAndTranslator) Unwrapper() Unwrapper { return ut.unwrapper }

// UnwrapperAndTranslatorWithTransmitTime handles devices that stamp both
// the event and the moment they transmitted it. The event stamp is the
// filter's time axis; the on-device delay between the two is subtracted
// from the receive time, the same way an offset is applied.
type UnwrapperAndTranslatorWithTransmitTime struct {
	core      *UnwrapperAndTranslator
	unwrapper *EventAndTransmitUnwrapper
}

// NewUnwrapperAndTranslatorWithTransmitTime returns a dual-stamp composition.
func NewUnwrapperAndTranslatorWithTransmitTime(params WrappingClockParameters, cfg Config) (*UnwrapperAndTranslatorWithTransmitTime, error) {
	u := NewEventAndTransmitUnwrapper(params)
	core, err := NewUnwrapperAndTranslator(u, cfg)
	if err != nil {
		return nil, err
	}
	return &UnwrapperAndTranslatorWithTransmitTime{core: core, unwrapper: u}, nil
}

// Update unwraps both stamps and feeds the event to the translator with
// receiveTime corrected by the transmit delay and offset.
func (ut *UnwrapperAndTranslatorWithTransmitTime) Update(eventStamp, transmitStamp uint64, receiveTime, offset float64) float64 {
	event := ut.unwrapper.ToUnwrapped(eventStamp)
	transmit := ut.unwrapper.ToUnwrappedTransmit(transmitStamp)
	return ut.UpdateStamps(event, transmit, receiveTime, offset)
}

// UpdateStamps is Update for stamps already unwrapped with UnwrapEventStamp
// and UnwrapTransmitStamp.
func (ut *UnwrapperAndTranslatorWithTransmitTime) UpdateStamps(event, transmit UnwrappedStamp, receiveTime, offset float64) float64 {
	return ut.core.translator.Update(event, receiveTime, offset-ut.transmitDelay(event, transmit))
}

func (ut *UnwrapperAndTranslatorWithTransmitTime) transmitDelay(event, transmit UnwrappedStamp) float64 {
	return ut.unwrapper.event.params.TransmitDelaySeconds(event.Raw, transmit.Raw)
}

// UnwrapEventStamp unwraps an event stamp only.
func (ut *UnwrapperAndTranslatorWithTransmitTime) UnwrapEventStamp(eventStamp uint64) UnwrappedStamp {
	return ut.unwrapper.ToUnwrapped(eventStamp)
}

// UnwrapTransmitStamp unwraps a transmit stamp only.
func (ut *UnwrapperAndTranslatorWithTransmitTime) UnwrapTransmitStamp(transmitStamp uint64) UnwrappedStamp {
	return ut.unwrapper.ToUnwrappedTransmit(transmitStamp)
}

// Translate estimates the host time of an unwrapped event stamp.
func (ut *UnwrapperAndTranslatorWithTransmitTime) Translate(stamp UnwrappedStamp) float64 {
	return ut.core.Translate(stamp)
}

// IsReadyToTranslate delegates to the translator.
func (ut *UnwrapperAndTranslatorWithTransmitTime) IsReadyToTranslate() bool {
	return ut.core.IsReadyToTranslate()
}

// CurrentFilterAlgorithm delegates to the translator.
func (ut *UnwrapperAndTranslatorWithTransmitTime) CurrentFilterAlgorithm() FilterAlgorithm {
	return ut.core.CurrentFilterAlgorithm()
}

// SetFilterAlgorithm delegates to the translator.
func (ut *UnwrapperAndTranslatorWithTransmitTime) SetFilterAlgorithm(algo FilterAlgorithm) error {
	return ut.core.SetFilterAlgorithm(algo)
}

// ApplyConfiguration delegates to the translator.
func (ut *UnwrapperAndTranslatorWithTransmitTime) ApplyConfiguration(cfg Config) error {
	return ut.core.ApplyConfiguration(cfg)
}

// Translator exposes the underlying translator.
func (ut *UnwrapperAndTranslatorWithTransmitTime) Translator() *Translator {
	return ut.core.translator
}

// Unwrapper exposes both counters.
func (ut *UnwrapperAndTranslatorWithTransmitTime) Unwrapper() *EventAndTransmitUnwrapper {
	return ut.unwrapper
}

// UnwrappedDeviceTimeTranslator is for devices whose counter never wraps.
type UnwrappedDeviceTimeTranslator struct {
	*UnwrapperAndTranslator
}

// NewUnwrappedDeviceTimeTranslator returns a pass-through composition.
func NewUnwrappedDeviceTimeTranslator(params ClockParameters, cfg Config) (*UnwrappedDeviceTimeTranslator, error) {
	ut, err := NewUnwrapperAndTranslator(NewPassThroughUnwrapper(params), cfg)
	if err != nil {
		return nil, err
	}
	return &UnwrappedDeviceTimeTranslator{UnwrapperAndTranslator: ut}, nil
}

// TranslateTicks estimates the host time of a raw unbounded tick count.
// Pass-through unwrapping is stateless, so this is safe at any time.
func (t *UnwrappedDeviceTimeTranslator) TranslateTicks(ticks uint64) float64 {
	return t.Translate(t.unwrapper.ToUnwrapped(ticks))
}
