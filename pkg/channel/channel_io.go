package channel

import (
	"time"

	"github.com/quadcan/canlink"
	"github.com/quadcan/canlink/pkg/protocol"
	"github.com/quadcan/canlink/pkg/reassembly"
	"github.com/quadcan/canlink/pkg/txtracker"
	"github.com/quadcan/canlink/pkg/usbtransport"
)

var fdPayloadLengths = map[uint8]bool{12: true, 16: true, 20: true, 24: true, 32: true, 48: true, 64: true}

func validDLC(dlc uint8, fdMode bool) bool {
	if dlc <= 8 {
		return true
	}
	return fdMode && fdPayloadLengths[dlc]
}

// Send validates and transmits a frame. Exactly one of
// Standard/Extended must be set in flags; dlc must be 0-8, or one of
// {12,16,20,24,32,48,64} on an FD-mode channel. timeoutMs follows
// readWait's convention: -1 waits forever, 0 fails immediately when
// the in-flight cap is reached.
func (c *Channel) Send(id uint32, flags uint32, dlc uint8, payload []byte, timeoutMs int) error {
	hasStd := flags&canlink.FlagStandard != 0
	hasExt := flags&canlink.FlagExtended != 0
	if hasStd == hasExt {
		return canlink.NewOpError(canlink.InvalidParam, "exactly one of Standard/Extended must be set")
	}
	if hasStd && id > maxStandardID {
		return canlink.NewOpError(canlink.InvalidParam, "id exceeds 11-bit standard range")
	}
	if hasExt && id > protocol.IDMaskExtended {
		return canlink.NewOpError(canlink.InvalidParam, "id exceeds 29-bit extended range")
	}

	c.stateMu.Lock()
	fdMode := c.fdMode
	state := c.state
	c.stateMu.Unlock()
	if state != StateBusOn {
		return canlink.NewOpError(canlink.StateError, "send requires a bus-on channel")
	}
	if !validDLC(dlc, fdMode) {
		return canlink.NewOpError(canlink.InvalidParam, "invalid dlc for this channel's mode")
	}

	transID, err := c.tx.Reserve(timeoutMs)
	if err != nil {
		return canlink.NewOpError(canlink.TransmitBufferOverflow, err.Error())
	}

	// Commit before writing to the transport, not after: a TX_ACK can
	// arrive (and on the loopback sim, does arrive synchronously)
	// before transmitFragments returns, so MatchAck needs the entry in
	// place already. Rollback tolerates being called either way.
	var snapshot [64]byte
	copy(snapshot[:], payload)
	c.tx.Commit(txtracker.Entry{
		TransID: transID,
		ID:      id,
		Flags:   flags,
		DLC:     dlc,
		Payload: snapshot,
	})

	if sendErr := c.transmitFragments(transID, id, flags, dlc, payload); sendErr != nil {
		c.tx.Rollback(transID)
		return canlink.NewOpError(canlink.SendError, sendErr.Error())
	}
	return nil
}

func (c *Channel) transmitFragments(transID uint8, id, flags uint32, dlc uint8, payload []byte) error {
	header := func(cmdID protocol.CommandID) protocol.Header {
		return protocol.Header{CmdID: cmdID, TransactionID: transID, Channel: c.index}
	}

	if dlc <= 8 && flags&canlink.FlagCanFdFrame == 0 {
		req := protocol.TxCAN20Request{Channel: c.index, ID: id, Flags: flags, DLC: dlc}
		copy(req.Data[:], payload)
		return c.transport.Send(usbtransport.Message{Header: header(protocol.CmdTxCAN20), Payload: req.Encode()})
	}

	p1 := protocol.TxCANFDP1Request{Channel: c.index, ID: id, Flags: flags, DLC: dlc}
	n := copy(p1.Data[:], payload)
	if err := c.transport.Send(usbtransport.Message{Header: header(protocol.CmdTxCANFDP1), Payload: p1.Encode()}); err != nil {
		return err
	}
	if int(dlc) <= n {
		return nil
	}

	rest := payload[n:]
	var p2 protocol.TxCANFDP2Request
	p2.Channel = c.index
	n2 := copy(p2.Data[:], rest)
	if err := c.transport.Send(usbtransport.Message{Header: header(protocol.CmdTxCANFDP2), Payload: p2.Encode()}); err != nil {
		return err
	}
	if n2 >= len(rest) {
		return nil
	}

	rest = rest[n2:]
	var p3 protocol.TxCANFDP3Request
	p3.Channel = c.index
	copy(p3.Data[:], rest)
	return c.transport.Send(usbtransport.Message{Header: header(protocol.CmdTxCANFDP3), Payload: p3.Encode()})
}

// ReadWait blocks until a frame is available in the RX ring or
// timeoutMs elapses (-1 waits forever, 0 polls once).
func (c *Channel) ReadWait(timeoutMs int) (canlink.Frame, error) {
	c.rxMu.Lock()
	for {
		if frame, ok := c.rx.Read(); ok {
			c.rxMu.Unlock()
			return frame, nil
		}
		if timeoutMs == 0 {
			c.rxMu.Unlock()
			return canlink.Frame{}, canlink.NewOpError(canlink.Timeout, "no frame available")
		}
		wake := c.rxWake
		c.rxMu.Unlock()

		if timeoutMs < 0 {
			<-wake
		} else {
			select {
			case <-wake:
			case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
				c.rxMu.Lock()
				frame, ok := c.rx.Read()
				c.rxMu.Unlock()
				if ok {
					return frame, nil
				}
				return canlink.Frame{}, canlink.NewOpError(canlink.Timeout, "readWait timed out")
			}
		}
		c.rxMu.Lock()
	}
}

func (c *Channel) pushRX(frame canlink.Frame) {
	c.rxMu.Lock()
	if !c.rx.WriteRecord(frame) {
		c.log.Warn("RX ring full, dropping frame")
	}
	close(c.rxWake)
	c.rxWake = make(chan struct{})
	c.rxMu.Unlock()
}

// handleInbound classifies an inbound message as RX-fragment | TX-ack
// | status and routes it accordingly. Device.dispatch, the transport's
// sole Subscribe handler, calls it from the USB read thread for every
// message addressed to this channel that wasn't claimed as a
// synchronous reply.
func (c *Channel) handleInbound(msg usbtransport.Message) {
	switch msg.Header.CmdID {
	case protocol.CmdRxCAN20:
		c.handleRxCAN20(msg.Payload)
	case protocol.CmdRxCANFDP1:
		c.handleRxFDFragment(func() (reassembly.Frame, bool) {
			p1, err := protocol.DecodeRxCANFDP1(msg.Payload)
			if err != nil {
				c.log.WithError(err).Warn("malformed RX_CANFD_P1")
				return reassembly.Frame{}, false
			}
			return c.reasm.FeedP1(reassembly.P1{
				ID: p1.ID, Flags: p1.Flags, DLC: p1.DLC,
				TimestampRaw: p1.TimestampRaw, Data: p1.Data[:],
			})
		})
	case protocol.CmdRxCANFDP2:
		c.handleRxFDFragment(func() (reassembly.Frame, bool) {
			p2, err := protocol.DecodeRxCANFDP2(msg.Payload)
			if err != nil {
				c.log.WithError(err).Warn("malformed RX_CANFD_P2")
				return reassembly.Frame{}, false
			}
			return c.reasm.FeedP2(reassembly.P2{Data: p2.Data[:]})
		})
	case protocol.CmdRxCANFDP3:
		c.handleRxFDFragment(func() (reassembly.Frame, bool) {
			p3, err := protocol.DecodeRxCANFDP3(msg.Payload)
			if err != nil {
				c.log.WithError(err).Warn("malformed RX_CANFD_P3")
				return reassembly.Frame{}, false
			}
			return c.reasm.FeedP3(reassembly.P3{Data: p3.Data[:]})
		})
	case protocol.CmdTxAck:
		c.handleTxAck(msg.Payload)
	case protocol.CmdStatus:
		status, err := protocol.DecodeStatus(msg.Payload)
		if err != nil {
			c.log.WithError(err).Warn("malformed STATUS")
			return
		}
		c.dispatchEvent(Event{Type: EventStatus, Status: status})
	}
}

func (c *Channel) handleRxCAN20(payload []byte) {
	rx, err := protocol.DecodeRxCAN20(payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed RX_CAN20")
		return
	}
	raw := uint64(rx.TimestampHi)<<32 | uint64(rx.TimestampLo)
	frame := canlink.Frame{
		TimestampUs: c.clock.StampEvent(raw),
		ID:          rx.ID,
		Flags:       rx.Flags,
		DLC:         rx.DLC,
	}
	copy(frame.Data[:], rx.Data[:])
	c.pushRX(frame)
	c.accountBusLoad(rx.Flags&canlink.FlagExtended != 0, rx.DLC)
	c.dispatchEvent(Event{Type: EventRX, Frame: frame})
}

func (c *Channel) handleRxFDFragment(feed func() (reassembly.Frame, bool)) {
	c.rxMu.Lock()
	reassembled, ok := feed()
	c.rxMu.Unlock()
	if !ok {
		return
	}
	c.stateMu.Lock()
	fd := c.fdMode
	c.stateMu.Unlock()
	flags := reassembled.Flags
	if !fd {
		flags &^= canlink.FlagCanFdFrame | canlink.FlagCanFdBrs | canlink.FlagCanFdEsi
		c.log.Warn("dropping FD flags on RX fragment received while channel is not in FD mode")
	}
	frame := canlink.Frame{
		TimestampUs: c.clock.StampEvent(uint64(reassembled.TimestampRaw)),
		ID:          reassembled.ID,
		Flags:       flags,
		DLC:         reassembled.DLC,
	}
	copy(frame.Data[:], reassembled.Data)
	c.pushRX(frame)
	c.accountBusLoad(reassembled.Flags&canlink.FlagExtended != 0, reassembled.DLC)
	c.dispatchEvent(Event{Type: EventRX, Frame: frame})
}

func (c *Channel) handleTxAck(payload []byte) {
	ack, err := protocol.DecodeTxAck(payload)
	if err != nil {
		c.log.WithError(err).Warn("malformed TX_ACK")
		return
	}

	entry, ok := c.tx.MatchAck(ack.TransID)
	if !ok {
		c.log.WithField("trans_id", ack.TransID).Debug("TX_ACK with no matching outstanding entry")
		return
	}

	if ack.Flags&canlink.FlagErrorFrame != 0 {
		dropped := c.tx.Flush()
		c.log.WithField("dropped", len(dropped)).Warn("TX_ACK carried error flag, flushing TX ring")
		c.dispatchEvent(Event{Type: EventError})
		return
	}

	raw := uint64(ack.TimestampHi)<<32 | uint64(ack.TimestampLo)
	frame := canlink.Frame{
		TimestampUs: c.clock.StampEvent(raw),
		ID:          entry.ID,
		Flags:       entry.Flags | canlink.FlagTxMsgAcknowledge,
		DLC:         entry.DLC,
		Data:        entry.Payload,
	}
	c.pushRX(frame)
	c.dispatchEvent(Event{Type: EventTxAck, Frame: frame})
}
