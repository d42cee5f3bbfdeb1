package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Level bounds and the default ramp rate code used when a ramp payload
// does not specify one.
const (
	maxLevel        = 255
	defaultRampRate = 4
)

// structuredCommand is the JSON dialect some entity platforms send.
// Any one of the three fields is enough to derive a level.
type structuredCommand struct {
	State      *string `json:"state,omitempty"`
	Brightness *int    `json:"brightness,omitempty"`
	Level      *int    `json:"level,omitempty"`
}

// statePayload is the structured outbound dialect published alongside
// the plain ON/OFF and decimal forms.
type statePayload struct {
	State      string `json:"state"`
	Brightness int    `json:"brightness"`
	Group      int    `json:"group"`
}

// ParseLevelPayload derives a target level from a command payload.
//
// Accepted dialects, tried in order:
//   - boolean words: "ON" (255) and "OFF" (0), case-insensitive
//   - a decimal number, clamped to [0,255]
//   - JSON {"state":...} / {"brightness":...} / {"level":...}
//
// Returns:
//   - int: Target level in [0,255]
//   - error: ErrInvalidPayload if no dialect matched
func ParseLevelPayload(payload []byte) (int, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	switch strings.ToUpper(text) {
	case "ON", "TRUE":
		return maxLevel, nil
	case "OFF", "FALSE":
		return 0, nil
	}

	if n, err := strconv.Atoi(text); err == nil {
		return clampLevel(n), nil
	}

	if strings.HasPrefix(text, "{") {
		return parseStructured(payload)
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
}

// ParseRampPayload derives a target level and ramp rate code from a
// ramp command payload.
//
// In addition to every dialect ParseLevelPayload accepts, the form
// "level,rate" carries an explicit rate code. Payloads without a rate
// use defaultRampRate.
//
// Returns:
//   - int: Target level in [0,255]
//   - int: Ramp rate code in [0,255]
//   - error: ErrInvalidPayload if no dialect matched
func ParseRampPayload(payload []byte) (level, rate int, err error) {
	text := strings.TrimSpace(string(payload))

	// The "level,rate" form; JSON payloads also contain commas, so
	// leave those to ParseLevelPayload.
	if before, after, found := strings.Cut(text, ","); found && !strings.HasPrefix(text, "{") {
		l, lerr := strconv.Atoi(strings.TrimSpace(before))
		r, rerr := strconv.Atoi(strings.TrimSpace(after))
		if lerr != nil || rerr != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
		}
		return clampLevel(l), clampLevel(r), nil
	}

	level, err = ParseLevelPayload(payload)
	if err != nil {
		return 0, 0, err
	}
	return level, defaultRampRate, nil
}

// parseStructured handles the JSON command dialect. Precedence:
// level, then brightness, then state.
func parseStructured(payload []byte) (int, error) {
	var cmd structuredCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch {
	case cmd.Level != nil:
		return clampLevel(*cmd.Level), nil
	case cmd.Brightness != nil:
		return clampLevel(*cmd.Brightness), nil
	case cmd.State != nil:
		switch strings.ToUpper(*cmd.State) {
		case "ON", "TRUE":
			return maxLevel, nil
		case "OFF", "FALSE":
			return 0, nil
		}
	}

	return 0, fmt.Errorf("%w: no usable field", ErrInvalidPayload)
}

// FormatOnOff renders the plain state payload.
func FormatOnOff(on bool) []byte {
	if on {
		return []byte("ON")
	}
	return []byte("OFF")
}

// FormatLevel renders the plain level payload.
func FormatLevel(level int) []byte {
	return []byte(strconv.Itoa(level))
}

// FormatState renders the structured state payload
// {"state","brightness","group"} for platforms expecting that dialect.
func FormatState(group, level int, on bool) ([]byte, error) {
	p := statePayload{
		State:      string(FormatOnOff(on)),
		Brightness: level,
		Group:      group,
	}
	return json.Marshal(p)
}

func clampLevel(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxLevel {
		return maxLevel
	}
	return n
}
