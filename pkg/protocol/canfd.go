package protocol

import "encoding/binary"

// CAN-FD frames that don't fit in one command are split across up to
// three fragment packets sharing one transaction id. TxCANFDP1Request/
// P2/P3 are the host->device fragment requests; RxCANFDP1/P2/P3 are
// their device->host counterparts.

// TxCANFDP1Request is the first (and, for short frames, only)
// fragment of an outgoing CAN-FD frame: it alone carries id/flags/dlc.
type TxCANFDP1Request struct {
	Channel uint8
	ID      uint32
	Flags   uint32
	DLC     uint8
	Data    [18]byte
}

func (r TxCANFDP1Request) Encode() []byte {
	buf := make([]byte, 28)
	buf[0] = r.Channel
	binary.LittleEndian.PutUint32(buf[1:5], r.ID)
	binary.LittleEndian.PutUint32(buf[5:9], r.Flags)
	buf[9] = r.DLC
	copy(buf[10:28], r.Data[:])
	return buf
}

// TxCANFDP2Request is a continuation fragment.
type TxCANFDP2Request struct {
	Channel uint8
	Data    [28]byte
}

func (r TxCANFDP2Request) Encode() []byte {
	buf := make([]byte, 29)
	buf[0] = r.Channel
	copy(buf[1:29], r.Data[:])
	return buf
}

// TxCANFDP3Request is the final continuation fragment.
type TxCANFDP3Request struct {
	Channel uint8
	Data    [18]byte
}

func (r TxCANFDP3Request) Encode() []byte {
	buf := make([]byte, 19)
	buf[0] = r.Channel
	copy(buf[1:19], r.Data[:])
	return buf
}

// RxCANFDP1 is the device->host first fragment: id, flags, dlc and a
// 32-bit device timestamp, plus up to 18 payload bytes.
type RxCANFDP1 struct {
	Channel      uint8
	ID           uint32
	Flags        uint32
	DLC          uint8
	TimestampRaw uint32
	Data         [18]byte
}

func DecodeRxCANFDP1(buf []byte) (RxCANFDP1, error) {
	if len(buf) < 32 {
		return RxCANFDP1{}, ErrShortBuffer
	}
	var out RxCANFDP1
	out.Channel = buf[0]
	out.ID = binary.LittleEndian.Uint32(buf[1:5])
	out.Flags = binary.LittleEndian.Uint32(buf[5:9])
	out.DLC = buf[9]
	out.TimestampRaw = binary.LittleEndian.Uint32(buf[10:14])
	copy(out.Data[:], buf[14:32])
	return out, nil
}

// RxCANFDP2 is a continuation fragment.
type RxCANFDP2 struct {
	Data [28]byte
}

func DecodeRxCANFDP2(buf []byte) (RxCANFDP2, error) {
	if len(buf) < 28 {
		return RxCANFDP2{}, ErrShortBuffer
	}
	var out RxCANFDP2
	copy(out.Data[:], buf[:28])
	return out, nil
}

// RxCANFDP3 is the final continuation fragment.
type RxCANFDP3 struct {
	Data [18]byte
}

func DecodeRxCANFDP3(buf []byte) (RxCANFDP3, error) {
	if len(buf) < 18 {
		return RxCANFDP3{}, ErrShortBuffer
	}
	var out RxCANFDP3
	copy(out.Data[:], buf[:18])
	return out, nil
}
