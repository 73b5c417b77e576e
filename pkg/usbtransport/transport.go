// Package usbtransport is the boundary between the channel engine and
// the physical (or simulated) USB link: it frames raw bytes into
// protocol.Header + payload records, correlates synchronous
// command/reply pairs by transaction id, and fans out everything else
// (RX fragments, TX acks, status) to subscribers.
//
// Two backends are provided: gousbtransport, a real bulk-endpoint
// transport built on github.com/google/gousb, and simtransport, an
// in-process loopback used by engine tests that have no hardware to
// talk to.
package usbtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quadcan/canlink/pkg/protocol"
)

// ErrClosed is returned by Send/SendAndWait once the transport has
// been closed.
var ErrClosed = errors.New("usbtransport: closed")

// ErrReplyTimeout is returned by SendAndWait when no reply with the
// expected transaction id arrived before the deadline.
var ErrReplyTimeout = errors.New("usbtransport: reply timeout")

// Message is a decoded command/event: an envelope header plus its
// fixed payload bytes.
type Message struct {
	Header  protocol.Header
	Payload []byte
}

// Handler receives every inbound Message that SendAndWait did not
// consume as a correlated reply (i.e. every unsolicited event: RX
// fragments, TX_ACK, STATUS).
type Handler func(Message)

// Transport is the boundary the channel engine programs against; both
// backends implement it.
type Transport interface {
	// Send writes msg and does not wait for any reply.
	Send(msg Message) error
	// SendAndWait writes msg and blocks for a reply carrying the same
	// transaction id, up to timeout.
	SendAndWait(msg Message, timeout time.Duration) (Message, error)
	// Subscribe registers h to receive every inbound message not
	// claimed by a pending SendAndWait. Only one subscriber is
	// supported, matching one engine owning the device.
	Subscribe(h Handler)
	Close() error
}

// correlator is the transaction-id-keyed pending-reply table shared by
// both backends: reader goroutines call dispatch on every inbound
// message, and SendAndWait callers call await before writing.
type correlator struct {
	mu      sync.Mutex
	pending map[uint8]chan Message
	handler Handler
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint8]chan Message)}
}

func (c *correlator) subscribe(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// await registers transID as awaited before the caller writes its
// request, so a reply arriving immediately after the write can never
// race ahead of the registration.
func (c *correlator) await(transID uint8) chan Message {
	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[transID] = ch
	c.mu.Unlock()
	return ch
}

func (c *correlator) cancelAwait(transID uint8) {
	c.mu.Lock()
	delete(c.pending, transID)
	c.mu.Unlock()
}

// dispatch routes an inbound message either to its waiting
// SendAndWait caller or to the subscribed handler.
func (c *correlator) dispatch(msg Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.Header.TransactionID]
	if ok {
		delete(c.pending, msg.Header.TransactionID)
	}
	handler := c.handler
	c.mu.Unlock()

	if ok {
		ch <- msg
		return
	}
	if handler != nil {
		handler(msg)
	}
}

func (c *correlator) waitFor(ctx context.Context, ch chan Message, transID uint8) (Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		c.cancelAwait(transID)
		return Message{}, fmt.Errorf("%w: transaction %d", ErrReplyTimeout, transID)
	}
}
