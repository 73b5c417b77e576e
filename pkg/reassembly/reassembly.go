// Package reassembly joins CAN-FD fragment packets (P1/P2/P3) back
// into whole frames, running a small fragment/resync state machine. It
// owns no thread of its own: callers drive it inline from the USB read
// path.
package reassembly

import log "github.com/sirupsen/logrus"

// Completion thresholds: dlc<=18 needs only P1, dlc<=46 needs P1+P2,
// anything larger needs all three fragments.
const (
	maxDLCForP1Only = 18
	maxDLCForP1P2   = 46
)

// P1 is the first fragment of a CAN-FD frame: it alone carries the
// frame's id, flags and 32-bit device timestamp, and (for short
// frames) the complete payload.
type P1 struct {
	ID        uint32
	Flags     uint32
	TimestampRaw uint32
	DLC       uint8
	Data      []byte // up to 18 bytes
}

// P2 and P3 are pure continuation payloads; they carry no framing
// metadata of their own.
type P2 struct {
	Data []byte // up to 28 bytes
}

type P3 struct {
	Data []byte // up to 18 bytes
}

// Frame is a fully reassembled CAN-FD frame, ready for timestamping
// and delivery into the RX ring.
type Frame struct {
	ID           uint32
	Flags        uint32
	TimestampRaw uint32
	DLC          uint8
	Data         []byte
}

type state int

const (
	stateIdle state = iota
	stateAwaitP2
	stateAwaitP3
)

// Reassembler holds the in-progress fragment state for a single
// channel's FD receive stream. It is not safe for concurrent use; the
// owning channel serialises access under its rx mutex.
type Reassembler struct {
	log *log.Entry

	st       state
	buffered P1
	p2       P2
}

// New returns a Reassembler starting in the Idle state.
func New() *Reassembler {
	return &Reassembler{
		log: log.WithField("component", "reassembly"),
		st:  stateIdle,
	}
}

// Reset discards any in-progress fragment state and returns to Idle.
// Channel Close calls this so a stale partial frame never survives
// into the next open session; bus-off does not call it.
func (r *Reassembler) Reset() {
	r.st = stateIdle
	r.buffered = P1{}
	r.p2 = P2{}
}

// FeedP1 processes a first-fragment packet. It returns a complete
// Frame and ok=true when dlc<=18 made P1 self-sufficient; otherwise it
// buffers p1 and waits for more fragments.
func (r *Reassembler) FeedP1(p1 P1) (Frame, bool) {
	if r.st != stateIdle {
		r.log.WithField("dlc", r.buffered.DLC).Debug("discarding in-progress FD fragment on new P1")
	}
	if p1.DLC <= maxDLCForP1Only {
		r.st = stateIdle
		return frameFromP1(p1), true
	}
	r.buffered = p1
	r.p2 = P2{}
	r.st = stateAwaitP2
	return Frame{}, false
}

// FeedP2 processes a continuation packet. In Idle state an unexpected
// P2 is a resync: discarded, no frame emitted. In AwaitP2, a
// dlc<=46 frame completes here; a larger one moves on to AwaitP3. In
// AwaitP3, an out-of-order P2 resets to Idle.
func (r *Reassembler) FeedP2(p2 P2) (Frame, bool) {
	switch r.st {
	case stateIdle:
		r.log.Debug("discarding unexpected P2 fragment with no pending P1")
		return Frame{}, false
	case stateAwaitP3:
		r.log.Debug("discarding pending FD fragment on out-of-order P2")
		r.Reset()
		return Frame{}, false
	case stateAwaitP2:
		if r.buffered.DLC <= maxDLCForP1P2 {
			frame := frameFromP1(r.buffered)
			frame.Data = append(frame.Data, p2.Data...)
			if len(frame.Data) > int(frame.DLC) {
				frame.Data = frame.Data[:frame.DLC]
			}
			r.st = stateIdle
			return frame, true
		}
		r.p2 = p2
		r.st = stateAwaitP3
		return Frame{}, false
	}
	return Frame{}, false
}

// FeedP3 processes the final continuation packet, completing a frame
// whose dlc exceeded 46. A P3 seen outside AwaitP3 is a resync.
func (r *Reassembler) FeedP3(p3 P3) (Frame, bool) {
	if r.st != stateAwaitP3 {
		r.log.Debug("discarding unexpected P3 fragment")
		r.Reset()
		return Frame{}, false
	}
	frame := frameFromP1(r.buffered)
	frame.Data = append(frame.Data, r.p2.Data...)
	frame.Data = append(frame.Data, p3.Data...)
	if len(frame.Data) > int(frame.DLC) {
		frame.Data = frame.Data[:frame.DLC]
	}
	r.Reset()
	return frame, true
}

func frameFromP1(p1 P1) Frame {
	data := make([]byte, 0, int(p1.DLC))
	data = append(data, p1.Data...)
	if len(data) > int(p1.DLC) {
		data = data[:p1.DLC]
	}
	return Frame{
		ID:           p1.ID,
		Flags:        p1.Flags,
		TimestampRaw: p1.TimestampRaw,
		DLC:          p1.DLC,
		Data:         data,
	}
}
