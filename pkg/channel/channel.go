// Package channel implements the public Channel Engine: the
// Closed/Open/BusOn state machine, bit-timing selection, and the
// send/readWait/getBusLoad surface applications actually call.
// It composes the ring buffer, timestamp synchroniser, frame
// reassembler and TX tracker components into one coherent channel,
// sitting between a raw transport and application-visible frames with
// its own mutex-protected subscriber/callback table.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quadcan/canlink"
	"github.com/quadcan/canlink/pkg/protocol"
	"github.com/quadcan/canlink/pkg/reassembly"
	"github.com/quadcan/canlink/pkg/ringbuffer"
	"github.com/quadcan/canlink/pkg/timesync"
	"github.com/quadcan/canlink/pkg/txtracker"
	"github.com/quadcan/canlink/pkg/usbtransport"
)

// State is the channel's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateBusOn
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateBusOn:
		return "bus-on"
	default:
		return "unknown"
	}
}

const (
	defaultRXCapacity = 2048
	defaultTXCapacity = 1024
	maxStandardID     = 0x7FF
)

// Channel is one CAN channel on an adapter. Callers obtain one through
// Device.Channel; the zero value is not usable.
type Channel struct {
	log     *log.Entry
	index   uint8
	transport usbtransport.Transport

	controlID uint32 // atomic counter for synchronous command transaction ids

	txMu sync.Mutex
	tx   *txtracker.Tracker

	rxMu   sync.Mutex
	rx     *ringbuffer.Ring
	rxWake chan struct{}
	reasm  *reassembly.Reassembler

	stateMu          sync.Mutex
	state            State
	fdMode           bool
	fdNonISO         bool
	maxOutstandingTx uint32
	baseClockDivisor uint32
	currentBitrate   int
	currentDataRate  int
	lastErrorText    string

	clock *timesync.Synchroniser

	cbMu       sync.Mutex
	cbMask     EventMask
	cb         EventCallback

	loadMu       sync.Mutex
	loadSince    time.Time
	loadBits     uint64

	serialNumber    uint32
	productCode     uint32
	firmwareVersion string
}

// Frame is an RX-side record: a fully decoded frame with its
// host-anchored timestamp, as delivered by ReadWait.
type Frame = canlink.Frame

func newChannel(index uint8, transport usbtransport.Transport) *Channel {
	return &Channel{
		log:       log.WithField("channel", index),
		index:     index,
		transport: transport,
		rx:        ringbuffer.New(defaultRXCapacity),
		rxWake:    make(chan struct{}),
		reasm:     reassembly.New(),
		clock:     timesync.New(1),
	}
}

func (c *Channel) nextControlID() uint8 {
	return uint8(atomic.AddUint32(&c.controlID, 1) & 0x7F)
}

func (c *Channel) setLastError(msg string) {
	c.stateMu.Lock()
	c.lastErrorText = msg
	c.stateMu.Unlock()
}

// LastError returns the most recent human-readable failure message.
func (c *Channel) LastError() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastErrorText
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func hostNowUs() int64 {
	return time.Now().UnixMicro()
}

// Open moves Closed->Open: issues the OPEN command and populates the
// operating parameters from OPEN_REPLY. Any other starting state fails
// with canlink.ErrAlreadyOpen.
func (c *Channel) Open(flags canlink.OpenFlags) error {
	c.stateMu.Lock()
	if c.state != StateClosed {
		c.stateMu.Unlock()
		return canlink.ErrAlreadyOpen
	}
	c.stateMu.Unlock()

	if flags&canlink.OpenSharedMode != 0 {
		return canlink.ErrSharedModeUnsupported
	}

	fdMode := flags&canlink.OpenCanFD != 0
	fdNonISO := flags&canlink.OpenCanFDNonISO != 0

	req := protocol.OpenRequest{
		Channel:          c.index,
		BaseClockDivisor: 1,
		FDMode:           fdMode,
		FDNonISO:         fdNonISO,
	}
	reply, err := c.sendControlCommand(protocol.CmdOpen, req.Encode())
	if err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	openReply, err := protocol.DecodeOpenReply(reply.Payload)
	if err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}

	c.stateMu.Lock()
	c.fdMode = fdMode
	c.fdNonISO = fdNonISO
	c.maxOutstandingTx = openReply.MaxPendingTx
	c.baseClockDivisor = openReply.BaseClockDivisor
	c.state = StateOpen
	c.stateMu.Unlock()

	c.txMu.Lock()
	c.tx = txtracker.New(openReply.MaxPendingTx, defaultTXCapacity)
	c.txMu.Unlock()

	c.clock = timesync.New(openReply.BaseClockDivisor)
	c.clock.AnchorAtOpen(hostNowUs())

	return nil
}

// Close moves Open or BusOn back to Closed, performing BusOff first if
// needed. Close is idempotent after its first success.
func (c *Channel) Close() error {
	c.stateMu.Lock()
	state := c.state
	c.stateMu.Unlock()

	if state == StateClosed {
		return nil
	}
	if state == StateBusOn {
		if err := c.BusOff(); err != nil {
			return err
		}
	}

	_, err := c.sendControlCommand(protocol.CmdClose, []byte{c.index})
	if err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}

	c.stateMu.Lock()
	c.state = StateClosed
	c.fdMode = false
	c.stateMu.Unlock()

	c.cbMu.Lock()
	c.cb = nil
	c.cbMask = 0
	c.cbMu.Unlock()

	c.rxMu.Lock()
	c.rx.Clear()
	c.reasm.Reset()
	c.rxMu.Unlock()

	return nil
}

// BusOn moves Open->BusOn.
func (c *Channel) BusOn() error {
	if c.State() != StateOpen {
		return canlink.NewOpError(canlink.StateError, "busOn requires an open channel")
	}
	if _, err := c.sendControlCommand(protocol.CmdBusOn, []byte{c.index}); err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	c.stateMu.Lock()
	c.state = StateBusOn
	c.stateMu.Unlock()
	c.dispatchEvent(Event{Type: EventBusState})
	return nil
}

// BusOff moves BusOn->Open.
func (c *Channel) BusOff() error {
	if c.State() != StateBusOn {
		return canlink.NewOpError(canlink.StateError, "busOff requires a bus-on channel")
	}
	if _, err := c.sendControlCommand(protocol.CmdBusOff, []byte{c.index}); err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	c.stateMu.Lock()
	c.state = StateOpen
	c.stateMu.Unlock()
	c.dispatchEvent(Event{Type: EventBusState})
	return nil
}

// SetBusParameters configures the arbitration-phase bitrate. Legal
// only while Open. Channels with index >= 4 reject 1 Mbit/s.
// sample_point and sjw are accepted but ignored: the device is driven
// from the enumerated timing table, not derived values.
func (c *Channel) SetBusParameters(bitrate int, _ float64, _ int) error {
	if c.State() != StateOpen {
		return canlink.NewOpError(canlink.StateError, "setBusParameters requires an open channel")
	}
	timing, ok := protocol.LookupArbitrationTiming(bitrate)
	if !ok {
		return canlink.ErrUnsupportedBitrate
	}
	if timing.HighSpeedOnly && c.index >= 4 {
		return canlink.NewOpError(canlink.InvalidParam, "1Mbit bitrate is not supported on this channel")
	}
	cmd := timing.BitTimingCommand(c.index)
	if _, err := c.sendControlCommand(protocol.CmdSetBitTiming, cmd.Encode()); err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	c.stateMu.Lock()
	c.currentBitrate = bitrate
	c.stateMu.Unlock()
	return nil
}

// SetBusParametersFd configures the CAN-FD data-phase bitrate.
func (c *Channel) SetBusParametersFd(dataBitrate int, _ float64, _ int) error {
	if c.State() != StateOpen {
		return canlink.NewOpError(canlink.StateError, "setBusParametersFd requires an open channel")
	}
	timing, ok := protocol.LookupDataTiming(dataBitrate)
	if !ok {
		return canlink.ErrUnsupportedBitrate
	}
	cmd := timing.DataBitTimingCommand(c.index)
	if _, err := c.sendControlCommand(protocol.CmdSetDataBitTiming, cmd.Encode()); err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	c.stateMu.Lock()
	c.currentDataRate = dataBitrate
	c.stateMu.Unlock()
	return nil
}

// SetDriverMode configures the controller's output mode. Only Silent
// and Normal are accepted.
func (c *Channel) SetDriverMode(mode canlink.DriverMode) error {
	var opMode protocol.OpMode
	switch mode {
	case canlink.DriverSilent:
		opMode = protocol.OpModeSilent
	case canlink.DriverNormal:
		c.stateMu.Lock()
		fd := c.fdMode
		c.stateMu.Unlock()
		if fd {
			opMode = protocol.OpModeNormalCANFD
		} else {
			opMode = protocol.OpModeNormalCAN20
		}
	default:
		return canlink.NewOpError(canlink.InvalidParam, fmt.Sprintf("unsupported driver mode: %d", mode))
	}
	_, err := c.sendControlCommand(protocol.CmdSetOpMode, []byte{c.index, byte(opMode)})
	if err != nil {
		c.setLastError(err.Error())
		return canlink.NewOpError(canlink.SendError, err.Error())
	}
	return nil
}

// SetEventCallback registers fn to be invoked on internal transport
// threads for every event type selected by mask. fn must not block
// and must tolerate reentrant calls.
func (c *Channel) SetEventCallback(mask EventMask, fn EventCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.cbMask = mask
	c.cb = fn
}

func (c *Channel) dispatchEvent(ev Event) {
	c.cbMu.Lock()
	mask, fn := c.cbMask, c.cb
	c.cbMu.Unlock()
	if fn != nil && mask&ev.Type != 0 {
		fn(ev)
	}
}

// GetCapabilities reports this channel's capability bitmask.
func (c *Channel) GetCapabilities() canlink.Capability {
	c.stateMu.Lock()
	fd := c.fdMode
	c.stateMu.Unlock()
	caps := canlink.CapExtendedCAN | canlink.CapErrorFrames | canlink.CapBusStats
	if fd {
		caps |= canlink.CapCanFD
	}
	return caps
}

// GetDeviceClock returns the device's current clock, in host-anchored
// microseconds, via a synchronous READ_CLOCK round trip.
func (c *Channel) GetDeviceClock() (uint64, error) {
	reply, err := c.sendControlCommand(protocol.CmdReadClock, []byte{c.index})
	if err != nil {
		return 0, canlink.NewOpError(canlink.SendError, err.Error())
	}
	clockReply, err := protocol.DecodeReadClockReply(reply.Payload)
	if err != nil {
		return 0, canlink.NewOpError(canlink.SendError, err.Error())
	}
	c.clock.OnReadTimeoutCheck(clockReply.ClockValue)
	if err := c.clock.AdjustDrift(clockReply.ClockValue, hostNowUs(), 0); err != nil {
		c.log.WithError(err).Debug("drift adjustment skipped")
	}
	return c.clock.StampEvent(clockReply.ClockValue), nil
}

// GetSerialNumber, GetProductCode and GetFirmwareVersion report the
// channel's identity fields. Nothing sets them, Open included, so they
// return zero and the empty string.
func (c *Channel) GetSerialNumber() uint32     { return c.serialNumber }
func (c *Channel) GetProductCode() uint32      { return c.productCode }
func (c *Channel) GetFirmwareVersion() string  { return c.firmwareVersion }

// GetBusLoad returns the percentage of bus bandwidth observed since
// the previous call, clamped to 100.
func (c *Channel) GetBusLoad() float64 {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	now := time.Now()
	if c.loadSince.IsZero() {
		c.loadSince = now
		c.loadBits = 0
		return 0
	}
	elapsed := now.Sub(c.loadSince).Seconds()
	c.stateMu.Lock()
	bitrate := c.currentBitrate
	c.stateMu.Unlock()
	if elapsed <= 0 || bitrate <= 0 {
		return 0
	}
	load := float64(c.loadBits) * 100 / (float64(bitrate) * elapsed)
	c.loadSince = now
	c.loadBits = 0
	if load > 100 {
		load = 100
	}
	return load
}

func (c *Channel) accountBusLoad(extended bool, dlc uint8) {
	headerBits := 44
	if extended {
		headerBits = 63
	}
	c.loadMu.Lock()
	c.loadBits += uint64(headerBits) + 8*uint64(dlc)
	c.loadMu.Unlock()
}

// sendControlCommand issues a synchronous command and blocks for its
// reply: every command that changes channel state is a round trip, not
// a fire-and-forget write.
func (c *Channel) sendControlCommand(cmdID protocol.CommandID, payload []byte) (usbtransport.Message, error) {
	msg := usbtransport.Message{
		Header: protocol.Header{
			CmdID:         cmdID,
			TransactionID: c.nextControlID(),
			Channel:       c.index,
		},
		Payload: payload,
	}
	return c.transport.SendAndWait(msg, 500*time.Millisecond)
}
