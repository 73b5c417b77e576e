// Package protocol implements the vendor USB command/response wire
// format: an 8-byte header shared by every command and event,
// fixed-shape payloads, and the bit-timing tables the device expects
// for SET_BIT_TIMING / SET_DATA_BIT_TIMING.
//
// Encoding is little-endian via encoding/binary throughout, with no
// reflection.
package protocol

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// CommandID identifies the payload that follows a Header.
type CommandID uint8

const (
	CmdOpen CommandID = iota + 1
	CmdOpenReply
	CmdClose
	CmdBusOn
	CmdBusOff
	CmdSetBitTiming
	CmdSetDataBitTiming
	CmdSetOpMode
	CmdReadClock
	CmdReadClockReply
	CmdTxCAN20
	CmdTxCANFDP1
	CmdTxCANFDP2
	CmdTxCANFDP3
	CmdTxAck
	CmdRxCAN20
	CmdRxCANFDP1
	CmdRxCANFDP2
	CmdRxCANFDP3
	CmdStatus
)

// HeaderSize is the fixed 8-byte envelope every command and event
// carries ahead of its payload.
const HeaderSize = 8

// Header is the wire-level envelope shared by every command/event.
type Header struct {
	CmdID         CommandID
	TransactionID uint8
	Channel       uint8
	Reserved      uint8
	TimestampLo   uint32
}

// ErrShortBuffer is returned by decode helpers given fewer bytes than
// the structure they decode requires.
var ErrShortBuffer = errors.New("protocol: short buffer")

// EncodeHeader writes h into the first HeaderSize bytes of buf.
func EncodeHeader(buf []byte, h Header) error {
	if len(buf) < HeaderSize {
		return ErrShortBuffer
	}
	buf[0] = byte(h.CmdID)
	buf[1] = h.TransactionID
	buf[2] = h.Channel
	buf[3] = h.Reserved
	binary.LittleEndian.PutUint32(buf[4:8], h.TimestampLo)
	return nil
}

// DecodeHeader reads a Header from the first HeaderSize bytes of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortBuffer
	}
	return Header{
		CmdID:         CommandID(buf[0]),
		TransactionID: buf[1],
		Channel:       buf[2],
		Reserved:      buf[3],
		TimestampLo:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// CAN ID masking constants, reused from the kernel SocketCAN ABI
// (golang.org/x/sys/unix) since this wire format's id encoding follows
// the same standard/extended/RTR/error-frame bit layout.
const (
	IDMaskStandard = unix.CAN_SFF_MASK
	IDMaskExtended = unix.CAN_EFF_MASK
)
