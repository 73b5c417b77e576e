// Package canlink implements the per-channel CAN/CAN-FD engine that
// drives a USB-attached multi-channel CAN interface adapter: frame
// reassembly, transmit tracking, timestamp synchronisation and the
// channel state machine. The USB bulk transport itself lives in
// pkg/usbtransport and is treated as an external collaborator.
package canlink

// Frame flag bits, as reported to and accepted from clients. Values
// match the vendor wire protocol bit-for-bit so no translation table is
// needed between pkg/protocol and the public API.
const (
	FlagRTR               uint32 = 0x1
	FlagStandard          uint32 = 0x2
	FlagExtended          uint32 = 0x4
	FlagErrorFrame        uint32 = 0x20
	FlagErrorHWOverrun    uint32 = 0x200
	FlagTxMsgAcknowledge  uint32 = 0x40
	FlagCanFdFrame        uint32 = 0x010000
	FlagCanFdBrs          uint32 = 0x020000
	FlagCanFdEsi          uint32 = 0x040000
)

// Bus status chip bits, carried in STATUS events and surfaced on RX
// records with one of the Flag* bits above.
const (
	BusStatusErrorActive  uint32 = 0x01
	BusStatusErrorWarning uint32 = 0x02
	BusStatusErrorPassive uint32 = 0x04
	BusStatusBusOff       uint32 = 0x08
)

// MaxPayload is the largest CAN-FD payload the engine moves end to end.
const MaxPayload = 64

// Frame is an RX frame record as delivered to ReadWait, and also the
// shape used internally for pending TX entries and TX-ack events.
//
// TimestampUs is a continuous, monotonic microsecond timeline anchored
// to host wall-clock time at channel open (see pkg/timesync); it is
// not a raw device tick count.
type Frame struct {
	TimestampUs uint64
	ID          uint32
	Flags       uint32
	DLC         uint8
	Data        [MaxPayload]byte
}

// Payload returns the frame's data truncated to its DLC.
func (f *Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxPayload {
		n = MaxPayload
	}
	return f.Data[:n]
}

// IsFD reports whether the frame carries the CAN-FD flag.
func (f *Frame) IsFD() bool {
	return f.Flags&FlagCanFdFrame != 0
}
