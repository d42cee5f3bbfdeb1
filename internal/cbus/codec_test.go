package cbus

import (
	"errors"
	"testing"
)

func testCodec() Codec {
	return Codec{Network: 254, Application: 56}
}

func TestCodec_EncodeCommands(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"reset", c.EncodeReset(), "|||"},
		{"select network", c.EncodeSelectNetwork(), `\FE`},
		{"select application", c.EncodeSelectApplication(), "@38"},
		{"enable monitoring", c.EncodeEnableMonitoring(), "g"},
		{"status query", c.EncodeStatusQuery(), "z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestCodec_EncodeSetLevel(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name    string
		group   int
		level   int
		want    string
		wantErr bool
	}{
		{
			name:  "group 21 level 0",
			group: 21,
			level: 0,
			want:  "@381500",
		},
		{
			name:  "group 21 level 255",
			group: 21,
			level: 255,
			want:  "@3815FF",
		},
		{
			name:  "group 0 level 1",
			group: 0,
			level: 1,
			want:  "@380001",
		},
		{
			name:    "group out of range",
			group:   256,
			level:   0,
			wantErr: true,
		},
		{
			name:    "negative level",
			group:   21,
			level:   -1,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.EncodeSetLevel(tt.group, tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeSetLevel() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("EncodeSetLevel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodec_EncodeRamp(t *testing.T) {
	c := testCodec()

	got, err := c.EncodeRamp(21, 255, 4)
	if err != nil {
		t.Fatalf("EncodeRamp() error = %v", err)
	}
	if got != "@3815FF04" {
		t.Errorf("EncodeRamp() = %q, want %q", got, "@3815FF04")
	}

	if _, err := c.EncodeRamp(21, 255, 300); !errors.Is(err, ErrAddressRange) {
		t.Errorf("EncodeRamp() with bad ramp error = %v, want ErrAddressRange", err)
	}
}

func TestCodec_EncodeLevelQuery(t *testing.T) {
	c := testCodec()

	got, err := c.EncodeLevelQuery(21)
	if err != nil {
		t.Fatalf("EncodeLevelQuery() error = %v", err)
	}
	if got != "g3815" {
		t.Errorf("EncodeLevelQuery() = %q, want %q", got, "g3815")
	}
}

func TestCodec_Decode(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name    string
		line    string
		want    Event
		wantErr error
	}{
		{
			name: "group state on",
			line: "g381564",
			want: Event{Kind: EventGroupState, Application: 56, Group: 21, Level: 100, On: true},
		},
		{
			name: "group state off",
			line: "g381500",
			want: Event{Kind: EventGroupState, Application: 56, Group: 21, Level: 0, On: false},
		},
		{
			name: "group state full",
			line: "g38FFFF",
			want: Event{Kind: EventGroupState, Application: 56, Group: 255, Level: 255, On: true},
		},
		{
			name: "network ack",
			line: `\FE`,
			want: Event{Kind: EventNetworkAck},
		},
		{
			name: "application ack",
			line: "@38",
			want: Event{Kind: EventApplicationAck},
		},
		{
			name: "monitor ack short g line",
			line: "g38",
			want: Event{Kind: EventMonitorAck},
		},
		{
			name: "trailing CR stripped",
			line: "g381564\r",
			want: Event{Kind: EventGroupState, Application: 56, Group: 21, Level: 100, On: true},
		},
		{
			name:    "wrong application",
			line:    "g391564",
			wantErr: ErrApplicationMismatch,
		},
		{
			name:    "malformed hex",
			line:    "g38XY64",
			wantErr: ErrMalformedLine,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: ErrEmptyLine,
		},
		{
			name:    "unrecognised prefix",
			line:    "?junk",
			wantErr: ErrMalformedLine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.line)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode(%q) error = %v, want %v", tt.line, err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("Decode(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

// Round trip: every level and group encodes to a line that decodes back
// to the same values with On derived from the level.
func TestCodec_GroupStateRoundTrip(t *testing.T) {
	c := testCodec()

	for _, group := range []int{0, 1, 21, 127, 255} {
		for _, level := range []int{0, 1, 100, 254, 255} {
			line, err := c.EncodeGroupState(c.Application, group, level)
			if err != nil {
				t.Fatalf("EncodeGroupState(%d, %d) error = %v", group, level, err)
			}

			event, err := c.Decode(line)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", line, err)
			}

			if event.Group != group || event.Level != level {
				t.Errorf("round trip (%d, %d) = (%d, %d)", group, level, event.Group, event.Level)
			}
			if event.On != (level > 0) {
				t.Errorf("On = %v for level %d", event.On, level)
			}
		}
	}
}
