package usbtransport

import (
	"context"
	"sync"
	"time"
)

// DeviceHandler simulates the firmware side of the link: it receives
// every Message the engine writes and may push zero or more Messages
// back (a reply, device-initiated events, or both). It runs
// synchronously on the writer's goroutine.
type DeviceHandler func(msg Message, push func(Message))

// Sim is an in-process loopback Transport with no real USB underneath,
// standing in for hardware in engine tests. Both ends live in the
// same process, so there is no network hop to simulate.
type Sim struct {
	corr *correlator

	mu     sync.Mutex
	closed bool
	device DeviceHandler
}

// NewSim builds a Sim whose simulated device behavior is device.
func NewSim(device DeviceHandler) *Sim {
	return &Sim{corr: newCorrelator(), device: device}
}

func (s *Sim) Send(msg Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	device := s.device
	s.mu.Unlock()

	if device != nil {
		device(msg, s.corr.dispatch)
	}
	return nil
}

func (s *Sim) SendAndWait(msg Message, timeout time.Duration) (Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, ErrClosed
	}
	device := s.device
	s.mu.Unlock()

	ch := s.corr.await(msg.Header.TransactionID)
	if device != nil {
		device(msg, s.corr.dispatch)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.corr.waitFor(ctx, ch, msg.Header.TransactionID)
}

func (s *Sim) Subscribe(h Handler) {
	s.corr.subscribe(h)
}

// InjectEvent delivers a device-initiated message (an unsolicited RX
// fragment, TX_ACK, or STATUS) as if the simulated firmware had pushed
// it, without any prior Send. Tests use this to drive RX/ack paths.
func (s *Sim) InjectEvent(msg Message) {
	s.corr.dispatch(msg)
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
