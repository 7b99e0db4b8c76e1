package operator

import "crewdash/internal/event"

// Stream is one device's outbound event stream, regardless of
// transport (SSE, websocket). Send returns an error when delivery to
// this device failed; the operator reacts by evicting the device.
type Stream interface {
	Send(ev event.Event) error
	Close()
}

// Broadcast delivers one event to every device on a session's roster,
// best effort, isolating failures per recipient.
type Broadcast func(ev event.Event)
