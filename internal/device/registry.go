package device

import (
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Entry is one configured device before template resolution.
//
// Empty fields fall back to the named template, then to built-in
// defaults. Dimmable is a pointer so "explicitly false" can be told
// apart from "not set".
type Entry struct {
	Group    int
	Name     string
	Kind     Kind
	Dimmable *bool
	Area     string
	Template string
}

// Registry maps group addresses to resolved descriptors.
//
// Configured entries are resolved against templates once at
// construction. Unconfigured groups that report on the bus are added
// at runtime via Discover with conservative defaults.
//
// All public methods are thread-safe.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[int]*Descriptor
	templates   map[string]Template
	discovered  int
	logger      Logger
}

// NewRegistry builds a registry from configured entries and templates.
//
// Template resolution is shallow: each empty entry field takes the
// template's value for that field; explicit entry fields always win.
// An entry naming an undefined template is an error.
//
// Parameters:
//   - entries: Statically configured devices
//   - templates: Named presets referenced by entries
//
// Returns:
//   - *Registry: Registry with all entries resolved
//   - error: ErrGroupRange, ErrInvalidKind or ErrTemplateNotFound on bad
//     configuration
func NewRegistry(entries []Entry, templates []Template) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[int]*Descriptor, len(entries)),
		templates:   make(map[string]Template, len(templates)),
		logger:      noopLogger{},
	}

	for _, t := range templates {
		if t.Kind != "" && !ValidKind(t.Kind) {
			return nil, fmt.Errorf("%w: %q (template %q)", ErrInvalidKind, t.Kind, t.Name)
		}
		r.templates[t.Name] = t
	}

	for _, e := range entries {
		desc, err := r.resolve(e)
		if err != nil {
			return nil, err
		}
		r.descriptors[e.Group] = desc
	}

	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// resolve merges one entry with its template and fills defaults.
func (r *Registry) resolve(e Entry) (*Descriptor, error) {
	if e.Group < 0 || e.Group > 255 {
		return nil, fmt.Errorf("%w: group %d", ErrGroupRange, e.Group)
	}
	if e.Kind != "" && !ValidKind(e.Kind) {
		return nil, fmt.Errorf("%w: %q (group %d)", ErrInvalidKind, e.Kind, e.Group)
	}

	desc := &Descriptor{
		Group:    e.Group,
		Name:     e.Name,
		Kind:     e.Kind,
		Area:     e.Area,
		Dimmable: true,
	}
	if e.Dimmable != nil {
		desc.Dimmable = *e.Dimmable
	}

	if e.Template != "" {
		tmpl, ok := r.templates[e.Template]
		if !ok {
			return nil, fmt.Errorf("%w: %q (group %d)", ErrTemplateNotFound, e.Template, e.Group)
		}
		if desc.Name == "" && tmpl.Name != "" {
			desc.Name = tmpl.Name
		}
		if desc.Kind == "" {
			desc.Kind = tmpl.Kind
		}
		if desc.Area == "" {
			desc.Area = tmpl.Area
		}
		if e.Dimmable == nil {
			desc.Dimmable = tmpl.Dimmable
		}
	}

	if desc.Name == "" {
		desc.Name = defaultName(e.Group)
	}
	if desc.Kind == "" {
		desc.Kind = KindLight
	}

	return desc, nil
}

// Resolve returns the descriptor for a group, creating one through
// discovery if the group is not yet known.
//
// This is the lookup the bridge uses when a bus event arrives: every
// reporting group gets a descriptor, configured or not.
func (r *Registry) Resolve(group int) Descriptor {
	r.mu.RLock()
	desc, ok := r.descriptors[group]
	r.mu.RUnlock()

	if ok {
		return *desc
	}
	return r.Discover(group)
}

// Discover registers a runtime-discovered group.
//
// Discovered devices default to a dimmable light named after the group
// address. If the group was registered concurrently, the existing
// descriptor is returned instead.
func (r *Registry) Discover(group int) Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc, ok := r.descriptors[group]; ok {
		return *desc
	}

	desc := &Descriptor{
		Group:      group,
		Name:       defaultName(group),
		Kind:       KindLight,
		Dimmable:   true,
		Discovered: true,
	}
	r.descriptors[group] = desc
	r.discovered++

	r.logger.Info("discovered unconfigured group", "group", group, "name", desc.Name)
	return *desc
}

// Get returns the descriptor for a group without triggering discovery.
//
// Returns:
//   - Descriptor: Copy of the stored descriptor
//   - error: ErrDeviceNotFound if the group is unknown
func (r *Registry) Get(group int) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.descriptors[group]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: group %d", ErrDeviceNotFound, group)
	}
	return *desc, nil
}

// SetDimmable records a probe or operator decision about dimmability.
// Unknown groups are ignored.
func (r *Registry) SetDimmable(group int, dimmable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc, ok := r.descriptors[group]; ok {
		desc.Dimmable = dimmable
	}
}

// All returns copies of every descriptor, ordered by group address.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// Count returns the number of known descriptors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// DiscoveredCount returns how many descriptors came from runtime
// discovery rather than configuration.
func (r *Registry) DiscoveredCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discovered
}

// defaultName labels an unconfigured group.
func defaultName(group int) string {
	return fmt.Sprintf("Device %d", group)
}
