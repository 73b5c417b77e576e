package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{CmdID: CmdTxAck, TransactionID: 5, Channel: 2, TimestampLo: 0xDEADBEEF}
	buf := make([]byte, HeaderSize)
	require.NoError(t, EncodeHeader(buf, h))

	got, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 4))
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestDecodeOpenReply(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x20
	buf[4] = 0x01
	buf[8] = 0x0A
	reply, err := DecodeOpenReply(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20), reply.MaxPendingTx)
	assert.Equal(t, uint32(0x01), reply.ClockStartRef)
	assert.Equal(t, uint32(0x0A), reply.BaseClockDivisor)
}

func TestTxCAN20RequestEncodeLength(t *testing.T) {
	req := TxCAN20Request{Channel: 1, ID: 0x123, DLC: 8}
	buf := req.Encode()
	assert.Len(t, buf, 18)
	assert.Equal(t, uint8(1), buf[0])
}

func TestArbitrationTableCoversAllTenBitrates(t *testing.T) {
	rates := []int{10000, 33333, 50000, 62000, 83000, 83333, 100000, 125000, 250000, 500000, 1000000}
	for _, r := range rates {
		_, ok := LookupArbitrationTiming(r)
		assert.True(t, ok, "missing arbitration entry for %d", r)
	}
	_, ok := LookupArbitrationTiming(123456)
	assert.False(t, ok)
}

func TestArbitration1MbitIsHighSpeedOnly(t *testing.T) {
	timing, ok := LookupArbitrationTiming(1000000)
	require.True(t, ok)
	assert.True(t, timing.HighSpeedOnly)
}

func TestDataTimingTableCoversElevenBitrates(t *testing.T) {
	rates := []int{500000, 833000, 1000000, 1500000, 2000000, 3000000, 4000000, 5000000, 6700000, 8000000, 10000000}
	for _, r := range rates {
		_, ok := LookupDataTiming(r)
		assert.True(t, ok, "missing data timing entry for %d", r)
	}
}

func TestDataBitTimingCommandCarriesSSPFields(t *testing.T) {
	timing, ok := LookupDataTiming(500000)
	require.True(t, ok)
	cmd := timing.DataBitTimingCommand(3)
	assert.Equal(t, uint8(3), cmd.Channel)
	assert.Equal(t, uint16(31), cmd.TdcOffset)
	assert.Equal(t, uint8(1), cmd.TdcSSPModeOff)

	buf := cmd.Encode()
	require.Len(t, buf, 14)
	assert.Equal(t, uint8(3), buf[0])
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[1:3]))  // BRP
	assert.Equal(t, uint16(30), binary.LittleEndian.Uint16(buf[3:5])) // TSeg1
	assert.Equal(t, uint16(31), binary.LittleEndian.Uint16(buf[9:11])) // TdcOffset
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[11:13])) // TdcValue
	assert.Equal(t, uint8(1), buf[13])                                 // TdcSSPModeOff
}

func TestSetBitTimingRequestEncodeOmitsTdcFields(t *testing.T) {
	timing, ok := LookupArbitrationTiming(500000)
	require.True(t, ok)
	cmd := timing.BitTimingCommand(1)

	buf := cmd.Encode()
	require.Len(t, buf, 15)
	assert.Equal(t, uint8(1), buf[0])
	assert.Equal(t, uint16(62), binary.LittleEndian.Uint16(buf[3:5])) // TSeg1
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[9:11])) // Cancks
	assert.Equal(t, uint16(0x0006), binary.LittleEndian.Uint16(buf[11:13])) // Cicfg1
	assert.Equal(t, uint16(0x01A1), binary.LittleEndian.Uint16(buf[13:15])) // Cicfg2
}

func TestDecodeTxAck(t *testing.T) {
	buf := make([]byte, 14)
	buf[0] = 2
	buf[1] = 9
	buf[2] = 0x40
	ack, err := DecodeTxAck(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), ack.Channel)
	assert.Equal(t, uint8(9), ack.TransID)
	assert.Equal(t, uint32(0x40), ack.Flags)
}
