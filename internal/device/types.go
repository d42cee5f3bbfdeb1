package device

// Kind classifies what a C-Bus group controls. It determines how the
// hub presents the device (entity class) and which commands make sense
// for it.
type Kind string

// Kind constants.
const (
	KindLight        Kind = "light"
	KindFan          Kind = "fan"
	KindSwitch       Kind = "switch"
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindCover        Kind = "cover"
)

// AllKinds returns all valid kind values.
func AllKinds() []Kind {
	return []Kind{
		KindLight, KindFan, KindSwitch,
		KindSensor, KindBinarySensor, KindCover,
	}
}

// ValidKind reports whether k is a recognised kind.
func ValidKind(k Kind) bool {
	for _, v := range AllKinds() {
		if v == k {
			return true
		}
	}
	return false
}

// Descriptor is the resolved identity of one C-Bus group address.
//
// Descriptors come from three places, in order of precedence:
//
//  1. explicit fields on a configured device entry
//  2. the template the entry names, for fields the entry leaves empty
//  3. runtime discovery, when an unconfigured group first reports
type Descriptor struct {
	// Group is the C-Bus group address (0-255).
	Group int `json:"group"`

	// Name is the human-readable label shown by the hub.
	Name string `json:"name"`

	// Kind classifies the device for hub presentation.
	Kind Kind `json:"kind"`

	// Dimmable reports whether the output accepts intermediate levels.
	// Non-dimmable devices are presented as plain switches.
	Dimmable bool `json:"dimmable"`

	// Area is an optional room or zone label.
	Area string `json:"area,omitempty"`

	// Discovered marks descriptors created at runtime rather than from
	// configuration. Discovered entries use conservative defaults until
	// an operator confirms them.
	Discovered bool `json:"discovered"`
}

// Template is a named preset of descriptor defaults. Device entries
// reference a template by name; explicit entry fields win over the
// template's values.
type Template struct {
	Name     string
	Kind     Kind
	Dimmable bool
	Area     string
}
