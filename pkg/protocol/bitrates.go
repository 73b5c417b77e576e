package protocol

// Arbitration-phase and CAN-FD data-phase bit-timing tables,
// reproduced bit-for-bit from the source device firmware's bitrate
// switch statements. Values are opaque register fields; they are not
// meant to be derived, only looked up.

// ArbitrationTiming holds one entry of the arbitration-phase table
// (SET_BIT_TIMING).
type ArbitrationTiming struct {
	BRP, TSeg1, TSeg2, SJW   uint16
	Cancks, Cicfg1, Cicfg2   uint16
	// HighSpeedOnly marks bitrates the device only supports on
	// channels 0-3 (internal clock limitation on later channels).
	HighSpeedOnly bool
}

// arbitrationTable is keyed by bit/s. 83000 and 83333 intentionally
// map to identical entries: the firmware treats them identically.
var arbitrationTable = map[int]ArbitrationTiming{
	1000000: {BRP: 0, TSeg1: 30, TSeg2: 7, SJW: 7, Cancks: 1, Cicfg1: 0x0002, Cicfg2: 0x02A0, HighSpeedOnly: true},
	500000:  {BRP: 0, TSeg1: 62, TSeg2: 15, SJW: 15, Cancks: 1, Cicfg1: 0x0006, Cicfg2: 0x01A1},
	250000:  {BRP: 0, TSeg1: 126, TSeg2: 31, SJW: 31, Cancks: 1, Cicfg1: 0x000D, Cicfg2: 0x01A1},
	125000:  {BRP: 0, TSeg1: 254, TSeg2: 63, SJW: 63, Cancks: 1, Cicfg1: 0x001B, Cicfg2: 0x01A1},
	100000:  {BRP: 14, TSeg1: 16, TSeg2: 7, SJW: 0, Cancks: 1, Cicfg1: 0x0022, Cicfg2: 0x01A1},
	83333:   {BRP: 18, TSeg1: 16, TSeg2: 6, SJW: 0, Cancks: 1, Cicfg1: 0x0029, Cicfg2: 0x01A1},
	83000:   {BRP: 18, TSeg1: 16, TSeg2: 6, SJW: 0, Cancks: 1, Cicfg1: 0x0029, Cicfg2: 0x01A1},
	62000:   {BRP: 26, TSeg1: 15, TSeg2: 6, SJW: 3, Cancks: 1, Cicfg1: 0x002E, Cicfg2: 0x02A9},
	50000:   {BRP: 30, TSeg1: 16, TSeg2: 7, SJW: 0, Cancks: 1, Cicfg1: 0x0031, Cicfg2: 0x01B3},
	33333:   {BRP: 46, TSeg1: 16, TSeg2: 7, SJW: 0, Cancks: 1, Cicfg1: 0x003D, Cicfg2: 0x04BA},
	10000:   {BRP: 156, TSeg1: 16, TSeg2: 7, SJW: 0, Cancks: 0, Cicfg1: 0x00FF, Cicfg2: 0x07BF},
}

// DataTiming holds one entry of the CAN-FD data-phase table
// (SET_DATA_BIT_TIMING): arbitration fields plus transmitter delay
// compensation (secondary sample point) parameters.
type DataTiming struct {
	BRP, TSeg1, TSeg2, SJW uint16
	TdcOffset, TdcValue    uint16
	TdcSSPModeOff          uint8
}

var dataTimingTable = map[int]DataTiming{
	1000000:  {BRP: 0, TSeg1: 30, TSeg2: 7, SJW: 7, TdcOffset: 31, TdcValue: 0},
	2000000:  {BRP: 0, TSeg1: 14, TSeg2: 3, SJW: 3, TdcOffset: 15, TdcValue: 0},
	3000000:  {BRP: 0, TSeg1: 8, TSeg2: 2, SJW: 2, TdcOffset: 9, TdcValue: 0},
	4000000:  {BRP: 0, TSeg1: 6, TSeg2: 1, SJW: 1, TdcOffset: 7, TdcValue: 0},
	5000000:  {BRP: 0, TSeg1: 4, TSeg2: 1, SJW: 1, TdcOffset: 5, TdcValue: 0},
	6700000:  {BRP: 0, TSeg1: 3, TSeg2: 0, SJW: 0, TdcOffset: 4, TdcValue: 0},
	8000000:  {BRP: 0, TSeg1: 2, TSeg2: 0, SJW: 0, TdcOffset: 3, TdcValue: 1},
	10000000: {BRP: 0, TSeg1: 1, TSeg2: 0, SJW: 0, TdcOffset: 2, TdcValue: 0},
	500000:   {BRP: 1, TSeg1: 30, TSeg2: 7, SJW: 7, TdcOffset: 31, TdcValue: 0, TdcSSPModeOff: 1},
	833000:   {BRP: 1, TSeg1: 17, TSeg2: 4, SJW: 4, TdcOffset: 18, TdcValue: 0, TdcSSPModeOff: 1},
	1500000:  {BRP: 0, TSeg1: 18, TSeg2: 5, SJW: 5, TdcOffset: 19, TdcValue: 0},
}

// LookupArbitrationTiming returns the register values for an
// arbitration-phase bitrate, and false if the bitrate isn't supported.
func LookupArbitrationTiming(bitrate int) (ArbitrationTiming, bool) {
	t, ok := arbitrationTable[bitrate]
	return t, ok
}

// LookupDataTiming returns the register values for a CAN-FD
// data-phase bitrate, and false if the bitrate isn't supported.
func LookupDataTiming(bitrate int) (DataTiming, bool) {
	t, ok := dataTimingTable[bitrate]
	return t, ok
}

// BitTimingCommand builds the SET_BIT_TIMING payload for an
// arbitration bitrate on a given channel. HighSpeedOnly bitrates on
// channels >= 4 are rejected by the caller before this is reached: the
// clock domain on those channels cannot realise 1 Mbit/s.
func (t ArbitrationTiming) BitTimingCommand(channel uint8) SetBitTimingRequest {
	return SetBitTimingRequest{
		Channel: channel,
		BRP:     t.BRP,
		TSeg1:   t.TSeg1,
		TSeg2:   t.TSeg2,
		SJW:     t.SJW,
		Cancks:  t.Cancks,
		Cicfg1:  t.Cicfg1,
		Cicfg2:  t.Cicfg2,
	}
}

// DataBitTimingCommand builds the SET_DATA_BIT_TIMING payload for a
// CAN-FD data-phase bitrate on a given channel.
func (t DataTiming) DataBitTimingCommand(channel uint8) SetDataBitTimingRequest {
	return SetDataBitTimingRequest{
		Channel:       channel,
		BRP:           t.BRP,
		TSeg1:         t.TSeg1,
		TSeg2:         t.TSeg2,
		SJW:           t.SJW,
		TdcOffset:     t.TdcOffset,
		TdcValue:      t.TdcValue,
		TdcSSPModeOff: t.TdcSSPModeOff,
	}
}
