package usbtransport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadcan/canlink/pkg/protocol"
)

func echoDevice(msg Message, push func(Message)) {
	push(Message{
		Header: protocol.Header{
			CmdID:         protocol.CmdOpenReply,
			TransactionID: msg.Header.TransactionID,
			Channel:       msg.Header.Channel,
		},
		Payload: []byte{0xAA},
	})
}

func TestSendAndWaitCorrelatesByTransactionID(t *testing.T) {
	sim := NewSim(echoDevice)
	defer sim.Close()

	reply, err := sim.SendAndWait(Message{Header: protocol.Header{
		CmdID:         protocol.CmdOpen,
		TransactionID: 7,
	}}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdOpenReply, reply.Header.CmdID)
	assert.Equal(t, uint8(7), reply.Header.TransactionID)
}

func TestSendAndWaitTimesOutWithoutReply(t *testing.T) {
	sim := NewSim(func(msg Message, push func(Message)) {})
	defer sim.Close()

	_, err := sim.SendAndWait(Message{Header: protocol.Header{TransactionID: 1}}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrReplyTimeout)
}

func TestSubscribeReceivesUnsolicitedEvents(t *testing.T) {
	sim := NewSim(nil)
	defer sim.Close()

	received := make(chan Message, 1)
	sim.Subscribe(func(m Message) { received <- m })

	sim.InjectEvent(Message{Header: protocol.Header{CmdID: protocol.CmdStatus, TransactionID: 0}})

	select {
	case m := <-received:
		assert.Equal(t, protocol.CmdStatus, m.Header.CmdID)
	case <-time.After(time.Second):
		t.Fatal("did not receive injected event")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	sim := NewSim(echoDevice)
	require.NoError(t, sim.Close())
	err := sim.Send(Message{})
	assert.ErrorIs(t, err, ErrClosed)
}
