package channel

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quadcan/canlink"
	"github.com/quadcan/canlink/pkg/profile"
	"github.com/quadcan/canlink/pkg/usbtransport"
)

// Device owns a single USB transport shared by every channel on one
// adapter. It is the one registered usbtransport.Handler, and it fans
// inbound messages out to the channel named by the message's Channel
// byte, since usbtransport.Transport.Subscribe only ever accepts one
// handler.
type Device struct {
	transport usbtransport.Transport

	mu       sync.Mutex
	channels map[uint8]*Channel
}

// NewDevice wraps transport and installs the device's dispatch
// function as the transport's sole subscriber.
func NewDevice(transport usbtransport.Transport) *Device {
	d := &Device{
		transport: transport,
		channels:  make(map[uint8]*Channel),
	}
	transport.Subscribe(d.dispatch)
	return d
}

func (d *Device) dispatch(msg usbtransport.Message) {
	d.mu.Lock()
	ch, ok := d.channels[msg.Header.Channel]
	d.mu.Unlock()
	if !ok {
		log.WithField("channel", msg.Header.Channel).Debug("inbound message for unopened channel, dropping")
		return
	}
	ch.handleInbound(msg)
}

// Channel returns the Channel for index, creating it on first use.
// The returned Channel starts Closed; callers must call Open
// themselves.
func (d *Device) Channel(index uint8) *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[index]; ok {
		return ch
	}
	ch := newChannel(index, d.transport)
	d.channels[index] = ch
	return ch
}

// OpenProfile opens every channel named in p, applying its bitrate
// (and, for FD channels, data bitrate) and driver mode. It stops and
// returns the first error, leaving already-opened channels open so
// the caller can decide whether to unwind them.
func (d *Device) OpenProfile(p *profile.Profile) ([]*Channel, error) {
	opened := make([]*Channel, 0, len(p.Channels))
	for _, spec := range p.Channels {
		ch := d.Channel(spec.Index)

		flags := openFlagsFor(spec)
		if err := ch.Open(flags); err != nil {
			return opened, fmt.Errorf("open channel %d: %w", spec.Index, err)
		}

		if err := ch.SetBusParameters(spec.Bitrate, 0, 0); err != nil {
			return opened, fmt.Errorf("set bus parameters on channel %d: %w", spec.Index, err)
		}
		if spec.FD && spec.DataBitrate > 0 {
			if err := ch.SetBusParametersFd(spec.DataBitrate, 0, 0); err != nil {
				return opened, fmt.Errorf("set FD bus parameters on channel %d: %w", spec.Index, err)
			}
		}
		if mode, ok := driverModeFor(spec.DriverMode); ok {
			if err := ch.SetDriverMode(mode); err != nil {
				return opened, fmt.Errorf("set driver mode on channel %d: %w", spec.Index, err)
			}
		}

		opened = append(opened, ch)
	}
	return opened, nil
}

func openFlagsFor(spec profile.Channel) canlink.OpenFlags {
	var flags canlink.OpenFlags
	if spec.FD {
		flags |= canlink.OpenCanFD
	}
	return flags
}

func driverModeFor(mode string) (canlink.DriverMode, bool) {
	switch strings.ToLower(mode) {
	case "silent":
		return canlink.DriverSilent, true
	case "normal", "":
		return canlink.DriverNormal, true
	default:
		return 0, false
	}
}

// Close closes every channel the device has ever handed out, then
// closes the underlying transport.
func (d *Device) Close() error {
	d.mu.Lock()
	channels := make([]*Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		channels = append(channels, ch)
	}
	d.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			log.WithError(err).WithField("channel", ch.index).Warn("error closing channel")
		}
	}
	return d.transport.Close()
}
