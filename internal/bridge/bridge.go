package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fawkner/cbus-bridge/internal/device"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/mqtt"
	"github.com/fawkner/cbus-bridge/internal/state"
)

// hubCommandTimeout bounds how long a single inbound command may spend
// queueing its bus write.
const hubCommandTimeout = 10 * time.Second

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Publisher is the broker surface the bridge needs. The mqtt.Client
// satisfies it; tests substitute a recorder.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// StateController is the state store surface the bridge drives.
type StateController interface {
	ApplyHubCommand(ctx context.Context, group, level int) error
	ApplyHubRamp(ctx context.Context, group, level, ramp int) error
	GetAll() []state.DeviceState
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	MessagesRx    uint64
	MessagesTx    uint64
	ParseErrors   uint64
	PublishErrors uint64
	Announced     int
}

// Config holds dispatcher settings.
type Config struct {
	Scheme TopicScheme

	// QoS for all publishes and the write subscription.
	QoS byte

	// Structured switches the state topic payload from plain "ON"/"OFF"
	// to the JSON {state,brightness,group} dialect. The level topic is
	// always plain decimal.
	Structured bool
}

// Bridge glues the state store to the broker.
//
// Inbound, it subscribes to the write topics and forwards parsed
// commands to the store. Outbound, it implements state.Notifier:
// every accepted state change is published to the group's read
// topics, preceded by a retained descriptor announcement the first
// time a group is seen.
type Bridge struct {
	cfg       Config
	publisher Publisher
	states    StateController
	registry  *device.Registry

	announceMu sync.Mutex
	announced  map[int]bool

	messagesRx    atomic.Uint64
	messagesTx    atomic.Uint64
	parseErrors   atomic.Uint64
	publishErrors atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// Bridge implements state.Notifier.
var _ state.Notifier = (*Bridge)(nil)

// New creates a dispatcher. Start must be called to begin receiving
// commands.
func New(cfg Config, publisher Publisher, states StateController, registry *device.Registry) *Bridge {
	return &Bridge{
		cfg:       cfg,
		publisher: publisher,
		states:    states,
		registry:  registry,
		announced: make(map[int]bool),
	}
}

// SetLogger sets the logger used by the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = logger
}

// Start subscribes to the write-side wildcard. Returns the
// subscription error, if any; message handling is asynchronous from
// then on.
func (b *Bridge) Start() error {
	return b.publisher.Subscribe(b.cfg.Scheme.WriteWildcard(), b.cfg.QoS, b.handleMessage)
}

// handleMessage parses one inbound write message and dispatches it.
//
// Topic mismatches (other bridges on the same broker) are dropped
// silently. Parse failures are counted and logged, never escalated.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	b.messagesRx.Add(1)

	cmd, err := b.cfg.Scheme.ParseWriteTopic(topic)
	if err != nil {
		if errors.Is(err, ErrTopicMismatch) {
			return nil
		}
		b.parseErrors.Add(1)
		b.logDebug("dropping unparseable topic", "topic", topic, "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), hubCommandTimeout)
	defer cancel()

	switch cmd.Kind {
	case CommandSwitch:
		level, err := ParseLevelPayload(payload)
		if err != nil {
			b.parseErrors.Add(1)
			b.logDebug("dropping bad switch payload", "topic", topic, "error", err)
			return nil
		}
		if err := b.states.ApplyHubCommand(ctx, cmd.Group, level); err != nil {
			b.logWarn("hub command failed", "group", cmd.Group, "level", level, "error", err)
		}

	case CommandRamp:
		level, rate, err := ParseRampPayload(payload)
		if err != nil {
			b.parseErrors.Add(1)
			b.logDebug("dropping bad ramp payload", "topic", topic, "error", err)
			return nil
		}
		if err := b.states.ApplyHubRamp(ctx, cmd.Group, level, rate); err != nil {
			b.logWarn("hub ramp failed", "group", cmd.Group, "level", level, "error", err)
		}

	case CommandGetAll:
		b.publishAll()

	case CommandGetTree:
		b.publishTree()
	}

	return nil
}

// NotifyStateChanged publishes one accepted state change.
//
// The first change seen for a group also publishes its descriptor,
// retained, so hub platforms that start later still learn the device.
func (b *Bridge) NotifyStateChanged(st state.DeviceState) {
	b.announceIfNeeded(st.Group)
	b.publishState(st)
}

// publishState writes the state and level topics for one device.
func (b *Bridge) publishState(st state.DeviceState) {
	scheme := b.cfg.Scheme

	statePayload := FormatOnOff(st.On)
	if b.cfg.Structured {
		p, err := FormatState(st.Group, st.Level, st.On)
		if err != nil {
			b.publishErrors.Add(1)
			b.logError("state payload marshal failed", "group", st.Group, "error", err)
			return
		}
		statePayload = p
	}

	b.publish(scheme.ReadState(st.Group), statePayload, true)
	b.publish(scheme.ReadLevel(st.Group), FormatLevel(st.Level), true)
}

// announceIfNeeded publishes the retained descriptor for a group the
// first time the bridge sees it.
func (b *Bridge) announceIfNeeded(group int) {
	b.announceMu.Lock()
	if b.announced[group] {
		b.announceMu.Unlock()
		return
	}
	b.announced[group] = true
	b.announceMu.Unlock()

	desc := b.registry.Resolve(group)
	payload, err := json.Marshal(desc)
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("descriptor marshal failed", "group", group, "error", err)
		return
	}

	b.publish(b.cfg.Scheme.Descriptor(group), payload, true)
	b.logInfo("announced device", "group", group, "name", desc.Name)
}

// publishAll republishes the current snapshot of every tracked device.
// Answers getall requests.
func (b *Bridge) publishAll() {
	states := b.states.GetAll()
	for _, st := range states {
		b.announceIfNeeded(st.Group)
		b.publishState(st)
	}
	b.logDebug("published full refresh", "devices", len(states))
}

// treePayload is the gettree response shape.
type treePayload struct {
	Network     int          `json:"network"`
	Application int          `json:"application"`
	Devices     []treeDevice `json:"devices"`
}

type treeDevice struct {
	device.Descriptor
	Level int  `json:"level"`
	On    bool `json:"on"`
}

// publishTree answers a gettree request with the known-device tree:
// every registry descriptor plus its current level where tracked.
func (b *Bridge) publishTree() {
	levels := make(map[int]state.DeviceState)
	for _, st := range b.states.GetAll() {
		levels[st.Group] = st
	}

	tree := treePayload{
		Network:     b.cfg.Scheme.Network,
		Application: b.cfg.Scheme.Application,
	}
	for _, desc := range b.registry.All() {
		td := treeDevice{Descriptor: desc}
		if st, ok := levels[desc.Group]; ok {
			td.Level = st.Level
			td.On = st.On
		}
		tree.Devices = append(tree.Devices, td)
	}

	payload, err := json.Marshal(tree)
	if err != nil {
		b.publishErrors.Add(1)
		b.logError("tree marshal failed", "error", err)
		return
	}

	b.publish(b.cfg.Scheme.Tree(), payload, false)
	b.logDebug("published device tree", "devices", len(tree.Devices))
}

// publish wraps Publisher.Publish with counting and error logging.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.publisher.Publish(topic, payload, b.cfg.QoS, retained); err != nil {
		b.publishErrors.Add(1)
		b.logWarn("publish failed", "topic", topic, "error", err)
		return
	}
	b.messagesTx.Add(1)
}

// Stats returns a snapshot of dispatcher counters.
func (b *Bridge) Stats() Stats {
	b.announceMu.Lock()
	announced := len(b.announced)
	b.announceMu.Unlock()

	return Stats{
		MessagesRx:    b.messagesRx.Load(),
		MessagesTx:    b.messagesTx.Load(),
		ParseErrors:   b.parseErrors.Load(),
		PublishErrors: b.publishErrors.Load(),
		Announced:     announced,
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, keysAndValues...)
	}
}
