package protocol

import "encoding/binary"

// OpenRequest is CmdOpen's payload.
type OpenRequest struct {
	Channel          uint8
	BaseClockDivisor uint32
	FDMode           bool
	FDNonISO         bool
}

func (r OpenRequest) Encode() []byte {
	buf := make([]byte, 6)
	buf[0] = r.Channel
	binary.LittleEndian.PutUint32(buf[1:5], r.BaseClockDivisor)
	buf[5] = boolToByte(r.FDMode) | boolToByte(r.FDNonISO)<<1
	return buf
}

// OpenReply is CmdOpenReply's payload.
type OpenReply struct {
	MaxPendingTx     uint32
	ClockStartRef    uint32
	BaseClockDivisor uint32
}

func DecodeOpenReply(buf []byte) (OpenReply, error) {
	if len(buf) < 12 {
		return OpenReply{}, ErrShortBuffer
	}
	return OpenReply{
		MaxPendingTx:     binary.LittleEndian.Uint32(buf[0:4]),
		ClockStartRef:    binary.LittleEndian.Uint32(buf[4:8]),
		BaseClockDivisor: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// SetBitTimingRequest is SET_BIT_TIMING's payload: the arbitration-phase
// timing tuple. It carries no transmitter delay compensation fields —
// those belong to the data-phase command only.
type SetBitTimingRequest struct {
	Channel uint8
	BRP     uint16
	TSeg1   uint16
	TSeg2   uint16
	SJW     uint16
	Cancks  uint16
	Cicfg1  uint16
	Cicfg2  uint16
}

func (b SetBitTimingRequest) Encode() []byte {
	buf := make([]byte, 15)
	buf[0] = b.Channel
	binary.LittleEndian.PutUint16(buf[1:3], b.BRP)
	binary.LittleEndian.PutUint16(buf[3:5], b.TSeg1)
	binary.LittleEndian.PutUint16(buf[5:7], b.TSeg2)
	binary.LittleEndian.PutUint16(buf[7:9], b.SJW)
	binary.LittleEndian.PutUint16(buf[9:11], b.Cancks)
	binary.LittleEndian.PutUint16(buf[11:13], b.Cicfg1)
	binary.LittleEndian.PutUint16(buf[13:15], b.Cicfg2)
	return buf
}

// SetDataBitTimingRequest is SET_DATA_BIT_TIMING's payload: the CAN-FD
// data-phase timing tuple plus its transmitter delay compensation
// fields. It carries no cancks/cicfg fields — those belong to the
// arbitration-phase command only.
type SetDataBitTimingRequest struct {
	Channel       uint8
	BRP           uint16
	TSeg1         uint16
	TSeg2         uint16
	SJW           uint16
	TdcOffset     uint16
	TdcValue      uint16
	TdcSSPModeOff uint8
}

func (b SetDataBitTimingRequest) Encode() []byte {
	buf := make([]byte, 14)
	buf[0] = b.Channel
	binary.LittleEndian.PutUint16(buf[1:3], b.BRP)
	binary.LittleEndian.PutUint16(buf[3:5], b.TSeg1)
	binary.LittleEndian.PutUint16(buf[5:7], b.TSeg2)
	binary.LittleEndian.PutUint16(buf[7:9], b.SJW)
	binary.LittleEndian.PutUint16(buf[9:11], b.TdcOffset)
	binary.LittleEndian.PutUint16(buf[11:13], b.TdcValue)
	buf[13] = b.TdcSSPModeOff
	return buf
}

// OpMode is SET_OP_MODE's payload; only Silent and NormalCAN20/FD are
// ever legal to send — Off/SelfReception are rejected by the channel
// state machine before a request reaches this point.
type OpMode uint8

const (
	OpModeSilent OpMode = iota
	OpModeNormalCAN20
	OpModeNormalCANFD
)

// ReadClockReply is CmdReadClockReply's payload: a full-width,
// wrap-unambiguous device clock reading plus the tick divisor.
type ReadClockReply struct {
	ClockValue uint64
	Divisor    uint32
}

func DecodeReadClockReply(buf []byte) (ReadClockReply, error) {
	if len(buf) < 12 {
		return ReadClockReply{}, ErrShortBuffer
	}
	return ReadClockReply{
		ClockValue: binary.LittleEndian.Uint64(buf[0:8]),
		Divisor:    binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// TxCAN20Request is CmdTxCAN20's payload: a complete classic CAN frame
// needs no fragmentation.
type TxCAN20Request struct {
	Channel uint8
	ID      uint32
	Flags   uint32
	DLC     uint8
	Data    [8]byte
}

func (r TxCAN20Request) Encode() []byte {
	buf := make([]byte, 18)
	buf[0] = r.Channel
	binary.LittleEndian.PutUint32(buf[1:5], r.ID)
	binary.LittleEndian.PutUint32(buf[5:9], r.Flags)
	buf[9] = r.DLC
	copy(buf[10:18], r.Data[:])
	return buf
}

// TxAck is TX_ACK's payload.
type TxAck struct {
	Channel      uint8
	TransID      uint8
	Flags        uint32
	TimestampLo  uint32
	TimestampHi  uint32
}

func DecodeTxAck(buf []byte) (TxAck, error) {
	if len(buf) < 14 {
		return TxAck{}, ErrShortBuffer
	}
	return TxAck{
		Channel:     buf[0],
		TransID:     buf[1],
		Flags:       binary.LittleEndian.Uint32(buf[2:6]),
		TimestampLo: binary.LittleEndian.Uint32(buf[6:10]),
		TimestampHi: binary.LittleEndian.Uint32(buf[10:14]),
	}, nil
}

// RxCAN20 is RX_CAN20's payload.
type RxCAN20 struct {
	Channel     uint8
	ID          uint32
	Flags       uint32
	DLC         uint8
	Data        [8]byte
	TimestampLo uint32
	TimestampHi uint32
}

func DecodeRxCAN20(buf []byte) (RxCAN20, error) {
	if len(buf) < 26 {
		return RxCAN20{}, ErrShortBuffer
	}
	var out RxCAN20
	out.Channel = buf[0]
	out.ID = binary.LittleEndian.Uint32(buf[1:5])
	out.Flags = binary.LittleEndian.Uint32(buf[5:9])
	out.DLC = buf[9]
	copy(out.Data[:], buf[10:18])
	out.TimestampLo = binary.LittleEndian.Uint32(buf[18:22])
	out.TimestampHi = binary.LittleEndian.Uint32(buf[22:26])
	return out, nil
}

// Status is STATUS's payload: the device's chip-level bus state.
type Status struct {
	Channel    uint8
	BusStatus  uint32
}

func DecodeStatus(buf []byte) (Status, error) {
	if len(buf) < 5 {
		return Status{}, ErrShortBuffer
	}
	return Status{
		Channel:   buf[0],
		BusStatus: binary.LittleEndian.Uint32(buf[1:5]),
	}, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
