package channel

import (
	"github.com/quadcan/canlink"
	"github.com/quadcan/canlink/pkg/protocol"
)

// EventMask selects which event types wake a registered EventCallback
// passed to SetEventCallback.
type EventMask uint32

const (
	EventRX EventMask = 1 << iota
	EventTxAck
	EventStatus
	EventError
	EventBusState
)

// Event is delivered to a registered EventCallback. At most one of
// Frame/Status/Err is populated, selected by Type: EventRX and
// EventTxAck carry Frame, EventStatus carries Status, and EventError
// and EventBusState events carry none of them.
type Event struct {
	Type   EventMask
	Frame  canlink.Frame
	Status protocol.Status
	Err    error
}

// EventCallback is invoked on an internal transport goroutine; it must
// be reentrancy-tolerant and must not block.
type EventCallback func(Event)
