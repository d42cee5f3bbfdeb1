package cbus

import (
	"fmt"
	"strconv"
	"strings"
)

// Line protocol command characters.
//
// The bus speaks a compact ASCII line protocol, CRLF terminated. Addresses
// and levels are two uppercase hex digits. The same leading characters are
// used both for commands and for the acknowledgements the interface echoes
// back, so decode dispatches on the first character plus line length.
const (
	// cmdReset clears the interface to a known state.
	cmdReset = "|||"

	// cmdSelectNetwork prefixes the 2-digit hex network id.
	cmdSelectNetwork = `\`

	// cmdSelectApplication prefixes the 2-digit hex application id.
	// Also the prefix for set-level commands (longer form).
	cmdSelectApplication = "@"

	// cmdMonitor enables unsolicited group-state reporting.
	// Also the prefix for group-state responses and level queries.
	cmdMonitor = "g"

	// cmdStatus requests a status report for the selected application.
	cmdStatus = "z"

	// groupStateMinLen is the minimum length of a group-state line:
	// "g" + AA + GG + LL.
	groupStateMinLen = 7
)

// Codec translates between the bus line protocol and typed events.
//
// The codec is configured with the network and application ids it speaks
// for; group-state lines for any other application are rejected with
// ErrApplicationMismatch and must be discarded by the caller.
//
// Thread Safety:
//   - Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	// Network is the C-Bus network id (0-255).
	Network int

	// Application is the C-Bus application id (0-255), typically 56 (lighting).
	Application int
}

// hexByte formats a value as exactly two uppercase hex digits.
func hexByte(v int) string {
	return fmt.Sprintf("%02X", v)
}

// parseHexByte parses exactly two hex digits into 0-255.
func parseHexByte(s string) (int, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedLine, s)
	}
	return int(v), nil
}

// checkByteRange validates that all values fit in one protocol byte.
func checkByteRange(values ...int) error {
	for _, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: %d", ErrAddressRange, v)
		}
	}
	return nil
}

// EncodeReset returns the interface reset command.
func (c Codec) EncodeReset() string {
	return cmdReset
}

// EncodeSelectNetwork returns the select-network command for the
// configured network.
//
// Example: network 254 encodes as `\FE`.
func (c Codec) EncodeSelectNetwork() string {
	return cmdSelectNetwork + hexByte(c.Network)
}

// EncodeSelectApplication returns the select-application command for the
// configured application.
//
// Example: application 56 encodes as `@38`.
func (c Codec) EncodeSelectApplication() string {
	return cmdSelectApplication + hexByte(c.Application)
}

// EncodeEnableMonitoring returns the enable-monitoring command.
// After this, the interface reports group-state lines unsolicited.
func (c Codec) EncodeEnableMonitoring() string {
	return cmdMonitor
}

// EncodeStatusQuery returns the status query command for the selected
// application.
func (c Codec) EncodeStatusQuery() string {
	return cmdStatus
}

// EncodeSetLevel builds a set-level command.
//
// Parameters:
//   - group: Target group address (0-255)
//   - level: Brightness level (0-255, 0 = off)
//
// Returns:
//   - string: Command line, e.g. "@381500" for group 21 level 0
//   - error: ErrAddressRange if a value does not fit in one byte
func (c Codec) EncodeSetLevel(group, level int) (string, error) {
	if err := checkByteRange(group, level); err != nil {
		return "", err
	}
	return cmdSelectApplication + hexByte(c.Application) + hexByte(group) + hexByte(level), nil
}

// EncodeRamp builds a set-level command with a ramp time.
//
// The trailing byte selects the interface's ramp rate; the device fades
// from its current level to the target over that time.
//
// Parameters:
//   - group: Target group address (0-255)
//   - level: Target level (0-255)
//   - ramp: Ramp-time byte (0-255, interface specific encoding)
//
// Returns:
//   - string: Command line, e.g. "@3815FF04"
//   - error: ErrAddressRange if a value does not fit in one byte
func (c Codec) EncodeRamp(group, level, ramp int) (string, error) {
	if err := checkByteRange(group, level, ramp); err != nil {
		return "", err
	}
	return cmdSelectApplication + hexByte(c.Application) + hexByte(group) + hexByte(level) + hexByte(ramp), nil
}

// EncodeLevelQuery builds a level query for a single group.
//
// The interface answers with a group-state line for that group.
//
// Parameters:
//   - group: Group address to query (0-255)
//
// Returns:
//   - string: Command line, e.g. "g3815"
//   - error: ErrAddressRange if the group does not fit in one byte
func (c Codec) EncodeLevelQuery(group int) (string, error) {
	if err := checkByteRange(group); err != nil {
		return "", err
	}
	return cmdMonitor + hexByte(c.Application) + hexByte(group), nil
}

// EncodeGroupState builds a group-state response line.
//
// The live bridge never sends these; they are what the bus sends us.
// Exposed for round-trip verification and for test fixtures.
func (c Codec) EncodeGroupState(application, group, level int) (string, error) {
	if err := checkByteRange(application, group, level); err != nil {
		return "", err
	}
	return cmdMonitor + hexByte(application) + hexByte(group) + hexByte(level), nil
}

// Decode parses one response line into a typed event.
//
// Dispatch is on the first character:
//   - `\` is a network ack
//   - `@` is an application ack
//   - `g` with length >= 7 is a group-state report; shorter `g` lines
//     acknowledge the enable-monitoring command
//
// Group-state lines are only accepted when their application id matches
// the configured application; otherwise ErrApplicationMismatch is
// returned and the caller discards the line.
//
// Decode failures are local by design: the caller logs at debug level and
// drops the line. A single garbled line must never take the link down.
//
// Parameters:
//   - line: One response line with the CRLF terminator already stripped
//
// Returns:
//   - Event: The decoded event
//   - error: ErrEmptyLine, ErrMalformedLine or ErrApplicationMismatch
func (c Codec) Decode(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, ErrEmptyLine
	}

	switch line[0] {
	case '\\':
		return Event{Kind: EventNetworkAck}, nil

	case '@':
		return Event{Kind: EventApplicationAck}, nil

	case 'g':
		if len(line) < groupStateMinLen {
			return Event{Kind: EventMonitorAck}, nil
		}
		return c.decodeGroupState(line)

	default:
		return Event{}, fmt.Errorf("%w: unrecognised line %q", ErrMalformedLine, line)
	}
}

// decodeGroupState parses a "gAAGGLL" line.
func (c Codec) decodeGroupState(line string) (Event, error) {
	application, err := parseHexByte(line[1:3])
	if err != nil {
		return Event{}, err
	}

	if application != c.Application {
		return Event{}, fmt.Errorf("%w: got %d, configured %d",
			ErrApplicationMismatch, application, c.Application)
	}

	group, err := parseHexByte(line[3:5])
	if err != nil {
		return Event{}, err
	}

	level, err := parseHexByte(line[5:7])
	if err != nil {
		return Event{}, err
	}

	return Event{
		Kind:        EventGroupState,
		Application: application,
		Group:       group,
		Level:       level,
		On:          level > 0,
	}, nil
}
