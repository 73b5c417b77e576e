//go:build !mips && !mipsle

// gousb links against libusb via cgo, which the MIPS/MIPSLE toolchains
// this library also targets cannot cross-compile; same constraint the
// donor device driver this is grounded on carries.
package usbtransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"

	"github.com/quadcan/canlink/pkg/protocol"
)

// USB bulk endpoint addresses for the adapter family this library
// targets.
const (
	bulkEndpointOut = 0x02
	bulkEndpointIn  = 0x82
)

// USBTransport is the real hardware Transport, grounded on
// _examples/guiperry-HASHER/internal/driver/device/usb_device.go's
// gousb bulk-transfer pattern (context, config, claim interface,
// open endpoints) but addressing a CAN adapter's command/event
// endpoints instead of an ASIC's task/nonce endpoints.
type USBTransport struct {
	log  *log.Entry
	corr *correlator

	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint

	mu       sync.Mutex
	closed   bool
	stopRead chan struct{}
	readDone chan struct{}
}

// Open opens the adapter identified by vid/pid and starts the
// background read loop that feeds inbound messages to the correlator.
func Open(vid, pid gousb.ID) (*USBTransport, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open device: %w", err)
	}
	if device == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: no device matching VID:0x%04x PID:0x%04x", vid, pid)
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: set config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: claim interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(bulkEndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open OUT endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(bulkEndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open IN endpoint: %w", err)
	}

	t := &USBTransport{
		log:      log.WithField("component", "usbtransport"),
		corr:     newCorrelator(),
		ctx:      ctx,
		device:   device,
		config:   config,
		intf:     intf,
		epOut:    epOut,
		epIn:     epIn,
		stopRead: make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *USBTransport) readLoop() {
	defer close(t.readDone)
	buf := make([]byte, 512)
	for {
		select {
		case <-t.stopRead:
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		n, err := t.epIn.ReadContext(readCtx, buf)
		cancel()
		if err != nil {
			continue // timeout is the steady-state case; keep polling
		}
		if n < 8 {
			t.log.WithField("n", n).Warn("short USB read, dropping")
			continue
		}
		header, err := protocol.DecodeHeader(buf[:n])
		if err != nil {
			t.log.WithError(err).Warn("malformed command header")
			continue
		}
		payload := make([]byte, n-8)
		copy(payload, buf[8:n])
		t.corr.dispatch(Message{Header: header, Payload: payload})
	}
}

func (t *USBTransport) Send(msg Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	buf := encodeMessage(msg)
	if _, err := t.epOut.Write(buf); err != nil {
		return fmt.Errorf("usbtransport: write: %w", err)
	}
	return nil
}

func (t *USBTransport) SendAndWait(msg Message, timeout time.Duration) (Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Message{}, ErrClosed
	}
	t.mu.Unlock()

	ch := t.corr.await(msg.Header.TransactionID)
	if err := t.Send(msg); err != nil {
		t.corr.cancelAwait(msg.Header.TransactionID)
		return Message{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.corr.waitFor(ctx, ch, msg.Header.TransactionID)
}

func (t *USBTransport) Subscribe(h Handler) {
	t.corr.subscribe(h)
}

func encodeMessage(msg Message) []byte {
	buf := make([]byte, protocol.HeaderSize+len(msg.Payload))
	_ = protocol.EncodeHeader(buf, msg.Header)
	copy(buf[protocol.HeaderSize:], msg.Payload)
	return buf
}

func (t *USBTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopRead)
	<-t.readDone

	t.intf.Close()
	t.config.Close()
	t.device.Close()
	t.ctx.Close()
	return nil
}
