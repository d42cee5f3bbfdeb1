package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicScheme builds and parses the device-level topic hierarchy:
//
//	{root}/{direction}/{network}/{application}/{group}/{field}
//
// direction is "read" for bridge-published state and "write" for
// hub-issued commands. Two wildcard forms exist on the write side:
//
//	{root}/write/{network}/{application}//getall   full state refresh
//	{root}/write/{network}///gettree               topology request
type TopicScheme struct {
	Root        string
	Network     int
	Application int
}

// topicSegments is the fixed depth of every device-level topic.
const topicSegments = 6

// CommandKind classifies a parsed write topic.
type CommandKind int

// Write topic kinds.
const (
	CommandSwitch CommandKind = iota
	CommandRamp
	CommandGetAll
	CommandGetTree
)

// String returns a human-readable kind name for logging.
func (k CommandKind) String() string {
	switch k {
	case CommandSwitch:
		return "switch"
	case CommandRamp:
		return "ramp"
	case CommandGetAll:
		return "getall"
	case CommandGetTree:
		return "gettree"
	default:
		return "unknown"
	}
}

// WriteCommand is the result of parsing an inbound write topic.
// Group is meaningful only for switch and ramp commands.
type WriteCommand struct {
	Kind  CommandKind
	Group int
}

// ReadState returns the on/off state topic for a group.
//
// Example: cbus/read/254/56/21/state
func (s TopicScheme) ReadState(group int) string {
	return fmt.Sprintf("%s/read/%d/%d/%d/state", s.Root, s.Network, s.Application, group)
}

// ReadLevel returns the brightness level topic for a group.
//
// Example: cbus/read/254/56/21/level
func (s TopicScheme) ReadLevel(group int) string {
	return fmt.Sprintf("%s/read/%d/%d/%d/level", s.Root, s.Network, s.Application, group)
}

// Descriptor returns the retained device-descriptor topic for a group.
//
// Example: cbus/read/254/56/21/descriptor
func (s TopicScheme) Descriptor(group int) string {
	return fmt.Sprintf("%s/read/%d/%d/%d/descriptor", s.Root, s.Network, s.Application, group)
}

// Tree returns the topology topic answered on gettree requests.
//
// Example: cbus/read/254///tree
func (s TopicScheme) Tree() string {
	return fmt.Sprintf("%s/read/%d///tree", s.Root, s.Network)
}

// WriteWildcard returns the subscription pattern covering every write
// topic under this scheme.
//
// Pattern: cbus/write/#
func (s TopicScheme) WriteWildcard() string {
	return fmt.Sprintf("%s/write/#", s.Root)
}

// ParseWriteTopic parses an inbound write topic into a command.
//
// Topics for other roots, networks or applications return
// ErrTopicMismatch so the caller can drop them silently (several
// bridges may share one broker). Structurally invalid topics return
// ErrUnknownTopic.
//
// Parameters:
//   - topic: Full topic the message arrived on
//
// Returns:
//   - WriteCommand: Parsed command kind and target group
//   - error: ErrTopicMismatch, ErrUnknownTopic or ErrInvalidField
func (s TopicScheme) ParseWriteTopic(topic string) (WriteCommand, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicSegments {
		return WriteCommand{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	if parts[0] != s.Root || parts[1] != "write" {
		return WriteCommand{}, fmt.Errorf("%w: %q", ErrTopicMismatch, topic)
	}

	network, err := strconv.Atoi(parts[2])
	if err != nil || network != s.Network {
		return WriteCommand{}, fmt.Errorf("%w: network %q", ErrTopicMismatch, parts[2])
	}

	// Topology request leaves application and group empty.
	if parts[5] == "gettree" {
		if parts[3] != "" || parts[4] != "" {
			return WriteCommand{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
		}
		return WriteCommand{Kind: CommandGetTree}, nil
	}

	application, err := strconv.Atoi(parts[3])
	if err != nil || application != s.Application {
		return WriteCommand{}, fmt.Errorf("%w: application %q", ErrTopicMismatch, parts[3])
	}

	// Full-refresh request leaves group empty.
	if parts[5] == "getall" {
		if parts[4] != "" {
			return WriteCommand{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
		}
		return WriteCommand{Kind: CommandGetAll}, nil
	}

	group, err := strconv.Atoi(parts[4])
	if err != nil || group < 0 || group > 255 {
		return WriteCommand{}, fmt.Errorf("%w: group %q", ErrUnknownTopic, parts[4])
	}

	switch parts[5] {
	case "switch":
		return WriteCommand{Kind: CommandSwitch, Group: group}, nil
	case "ramp":
		return WriteCommand{Kind: CommandRamp, Group: group}, nil
	default:
		return WriteCommand{}, fmt.Errorf("%w: %q", ErrInvalidField, parts[5])
	}
}
