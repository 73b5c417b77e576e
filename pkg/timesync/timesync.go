// Package timesync reconstructs a monotonic, host-anchored microsecond
// timeline from a wrap-prone device clock.
//
// The device reports ticks at an unknown-to-client resolution
// (base_clock_divisor ticks per µs; raw ticks are divided by it) and
// can wrap at 32 bits. Frame
// timestamps ("event" stream) and control-plane clock reads ("timer"
// stream) get independent wrap-extension state so a burst of one never
// perturbs the other's wrap detection.
package timesync

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// Defaults matching the device's 32-bit free-running tick counter.
const (
	DefaultWrapMask uint64 = 0xFFFFFFFF
	DefaultWrapStep uint64 = 0x100000000
)

var errNonPositiveDelta = errors.New("timesync: non-positive device clock delta")

// wrapExtend tracks one independently-wrapping tick stream.
type wrapExtend struct {
	msb       uint64
	lastLower uint64
	hasLast   bool
}

// extend folds a possibly-wrapped raw tick value into the running
// extended (non-wrapping) tick count. A newly observed lower part that
// falls below the previous one by more than half the wrap step is
// taken as a wrap and bumps the MSB by one step.
func (w *wrapExtend) extend(raw, wrapMask, wrapStep uint64) uint64 {
	lower := raw & wrapMask
	if w.hasLast && w.lastLower > lower && (w.lastLower-lower) > wrapStep/2 {
		w.msb += wrapStep
	}
	w.hasLast = true
	w.lastLower = lower
	return w.msb + lower
}

// resync discards wrap-detection history and rebuilds it from an
// authoritative full-width clock read (e.g. READ_CLOCK_REPLY, which is
// already a 64-bit value with no wrap ambiguity of its own).
func (w *wrapExtend) resync(full, wrapMask uint64) {
	w.msb = full &^ wrapMask
	w.lastLower = full & wrapMask
	w.hasLast = true
}

// Synchroniser holds a channel's timestamp reconstruction state: last
// driver/host timestamps, the drift factor between them, independent
// wrap-extension counters for the timer and event tick streams, the
// host-epoch offset, and the wrap mask/step governing both counters.
type Synchroniser struct {
	log *log.Entry

	baseClockDivisor uint32
	wrapMask         uint64
	wrapStep         uint64

	timerMSB wrapExtend
	eventMSB wrapExtend

	synchOffsetUs     int64
	driftFactor       float64
	lastHostTsUs      int64
	lastDriverTsUs    int64
	initialAdjustDone bool
}

// Option configures a Synchroniser at construction time.
type Option func(*Synchroniser)

// WithWrapParams overrides the default 32-bit wrap mask/step, e.g. for
// a device family reporting a narrower free-running counter.
func WithWrapParams(wrapMask, wrapStep uint64) Option {
	return func(s *Synchroniser) {
		s.wrapMask = wrapMask
		s.wrapStep = wrapStep
	}
}

// New builds a Synchroniser for a channel whose device clock runs at
// baseClockDivisor ticks per microsecond (the value returned in
// OPEN_REPLY); raw ticks are divided by it to get microseconds.
func New(baseClockDivisor uint32, opts ...Option) *Synchroniser {
	if baseClockDivisor == 0 {
		baseClockDivisor = 1
	}
	s := &Synchroniser{
		log:              log.WithField("component", "timesync"),
		baseClockDivisor: baseClockDivisor,
		wrapMask:         DefaultWrapMask,
		wrapStep:         DefaultWrapStep,
		driftFactor:      1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnchorAtOpen records host wall-clock time (microseconds since the
// Unix epoch, or any consistent host-time origin) at the moment the
// OPEN reply is received. Every subsequent frame timestamp is
// expressed relative to this anchor, since the device clock itself
// always starts counting from zero.
func (s *Synchroniser) AnchorAtOpen(hostNowUs int64) {
	s.synchOffsetUs = hostNowUs
	s.driftFactor = 1.0
	s.initialAdjustDone = false
	s.timerMSB = wrapExtend{}
	s.eventMSB = wrapExtend{}
	s.lastHostTsUs = hostNowUs
	s.lastDriverTsUs = 0
}

// StampEvent converts a raw device-clock tick value from the "event"
// stream (RX/TX-ack frame timestamps) into a host-anchored, drift
// compensated microsecond timestamp.
func (s *Synchroniser) StampEvent(rawTicks uint64) uint64 {
	extended := s.eventMSB.extend(rawTicks, s.wrapMask, s.wrapStep)
	deviceUs := extended / uint64(s.baseClockDivisor)
	hostUs := s.synchOffsetUs + int64(float64(deviceUs)*s.driftFactor)
	if hostUs < 0 {
		return 0
	}
	return uint64(hostUs)
}

// OnReadTimeoutCheck resynthesises wrap-extension state for both
// streams from a fresh, authoritative full-width clock read. Call this
// when RX traffic has been idle long enough that an un-noticed wrap is
// possible (the device's 32-bit microsecond counter wraps in roughly
// 71 minutes).
func (s *Synchroniser) OnReadTimeoutCheck(fullDeviceTicks uint64) {
	s.timerMSB.resync(fullDeviceTicks, s.wrapMask)
	s.eventMSB.resync(fullDeviceTicks, s.wrapMask)
}

// AdjustDrift folds a control-plane clock read (READ_CLOCK_REPLY) into
// the running drift factor. rawTimerTicks is the device's reported
// clock value (timer stream); hostNowUs is the host wall-clock time at
// which the reply was observed. maxAdjustUs caps how much a single
// adjustment may change the predicted timestamp over the interval
// since the previous read, so drift correction cannot introduce a
// visible jump.
//
// The very first call after AnchorAtOpen only establishes the
// baseline; it never itself failed, since there is nothing yet to
// compare against.
func (s *Synchroniser) AdjustDrift(rawTimerTicks uint64, hostNowUs int64, maxAdjustUs int64) error {
	extended := s.timerMSB.extend(rawTimerTicks, s.wrapMask, s.wrapStep)
	deviceUs := int64(extended / uint64(s.baseClockDivisor))

	if !s.initialAdjustDone {
		s.lastHostTsUs = hostNowUs
		s.lastDriverTsUs = deviceUs
		s.driftFactor = 1.0
		s.initialAdjustDone = true
		return nil
	}

	hostDelta := hostNowUs - s.lastHostTsUs
	if hostDelta < 0 {
		// System clock stepped backwards: clamp to zero and leave the
		// drift factor untouched rather than divide by a negative delta.
		s.log.Warn("host clock went backwards during drift adjustment, ignoring sample")
		s.lastHostTsUs = hostNowUs
		s.lastDriverTsUs = deviceUs
		return nil
	}

	deviceDelta := deviceUs - s.lastDriverTsUs
	if deviceDelta <= 0 {
		return errNonPositiveDelta
	}

	proposed := float64(hostDelta) / float64(deviceDelta)
	step := proposed - s.driftFactor
	if maxAdjustUs > 0 {
		maxStep := float64(maxAdjustUs) / float64(deviceDelta)
		if step > maxStep {
			step = maxStep
		} else if step < -maxStep {
			step = -maxStep
		}
	}
	s.driftFactor += step
	s.lastHostTsUs = hostNowUs
	s.lastDriverTsUs = deviceUs
	return nil
}

// DriftFactor returns the current host/device clock ratio, for
// diagnostics.
func (s *Synchroniser) DriftFactor() float64 {
	return s.driftFactor
}
