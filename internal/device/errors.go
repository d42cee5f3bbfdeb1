package device

import "errors"

// Registry and probe errors.
var (
	// ErrDeviceNotFound indicates no descriptor exists for the group.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrTemplateNotFound indicates a device entry names a template
	// that is not defined.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrGroupRange indicates a group address outside 0-255.
	ErrGroupRange = errors.New("group address out of range")

	// ErrInvalidKind indicates a device or template names a kind outside
	// the recognised set.
	ErrInvalidKind = errors.New("invalid device kind")

	// ErrProbeInconclusive indicates the dimmability probe could not
	// read back a level and made no determination.
	ErrProbeInconclusive = errors.New("probe inconclusive")
)
