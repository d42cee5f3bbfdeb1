package cbus

import "fmt"

// EventKind identifies the type of a decoded bus event.
type EventKind int

// Event kinds produced by the codec.
const (
	// EventGroupState is a group level report (monitored or polled).
	EventGroupState EventKind = iota

	// EventNetworkAck acknowledges a select-network command.
	EventNetworkAck

	// EventApplicationAck acknowledges a select-application command.
	EventApplicationAck

	// EventMonitorAck acknowledges an enable-monitoring command.
	EventMonitorAck
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventGroupState:
		return "group_state"
	case EventNetworkAck:
		return "network_ack"
	case EventApplicationAck:
		return "application_ack"
	case EventMonitorAck:
		return "monitor_ack"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a decoded protocol occurrence.
//
// Events are transient: produced by the codec from one response line and
// consumed exactly once by the state store. Application, Group and Level
// are only meaningful for EventGroupState.
type Event struct {
	Kind        EventKind
	Application int
	Group       int
	Level       int

	// On is derived: true iff Level > 0.
	On bool
}
