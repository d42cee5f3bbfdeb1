package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fawkner/cbus-bridge/internal/cbus"
	"github.com/fawkner/cbus-bridge/internal/device"
	"github.com/fawkner/cbus-bridge/internal/infrastructure/mqtt"
	"github.com/fawkner/cbus-bridge/internal/state"
)

// defaultHealthInterval is how often the heartbeat publishes.
const defaultHealthInterval = 30 * time.Second

// Health status values carried in the status payload.
const (
	HealthOnline   = "online"
	HealthDegraded = "degraded"
	HealthStopping = "stopping"
)

// HealthPublisher is the broker surface the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// BusStatus provides bus connection state and counters.
// The cbus.Client satisfies it.
type BusStatus interface {
	IsConnected() bool
	Stats() cbus.Stats
}

// StoreStats provides state table counters.
type StoreStats interface {
	Stats() state.Stats
}

// statusMessage is the retained payload on the bridge status topic.
// The LWT overwrites it with "offline" when the bridge dies.
type statusMessage struct {
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// statsMessage is the periodic payload on the bridge stats topic.
type statsMessage struct {
	UptimeSeconds   int64  `json:"uptime_seconds"`
	DevicesTracked  int    `json:"devices_tracked"`
	DevicesKnown    int    `json:"devices_known"`
	Discovered      int    `json:"discovered"`
	Conflicts       uint64 `json:"conflicts"`
	Evictions       uint64 `json:"evictions"`
	PollsIssued     uint64 `json:"polls_issued"`
	CommandFailures uint64 `json:"command_failures"`
	BusLinesRx      uint64 `json:"bus_lines_rx"`
	BusCommandsTx   uint64 `json:"bus_commands_tx"`
	BusReconnects   uint64 `json:"bus_reconnects"`
	BusDecodeErrors uint64 `json:"bus_decode_errors"`
	MessagesRx      uint64 `json:"messages_rx"`
	MessagesTx      uint64 `json:"messages_tx"`
	ParseErrors     uint64 `json:"parse_errors"`
	PublishErrors   uint64 `json:"publish_errors"`
}

// fields flattens the message for the telemetry sink, mirroring the
// JSON field names.
func (m statsMessage) fields() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds":    m.UptimeSeconds,
		"devices_tracked":   m.DevicesTracked,
		"devices_known":     m.DevicesKnown,
		"discovered":        m.Discovered,
		"conflicts":         m.Conflicts,
		"evictions":         m.Evictions,
		"polls_issued":      m.PollsIssued,
		"command_failures":  m.CommandFailures,
		"bus_lines_rx":      m.BusLinesRx,
		"bus_commands_tx":   m.BusCommandsTx,
		"bus_reconnects":    m.BusReconnects,
		"bus_decode_errors": m.BusDecodeErrors,
		"messages_rx":       m.MessagesRx,
		"messages_tx":       m.MessagesTx,
		"parse_errors":      m.ParseErrors,
		"publish_errors":    m.PublishErrors,
	}
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	// Topics names the status and stats topics.
	Topics mqtt.Topics

	Publisher HealthPublisher
	Bus       BusStatus
	Store     StoreStats
	Bridge    *Bridge
	Registry  *device.Registry

	// StatsSink, when set, receives the same counters that go out on
	// the stats topic. Used to mirror the heartbeat into the
	// time-series store.
	StatsSink func(fields map[string]interface{})
}

// HealthReporter publishes periodic bridge liveness and statistics.
//
// The status topic carries a retained online/degraded payload the LWT
// later overwrites; the stats topic carries counters from every
// component. Reporting is independent of device state traffic.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	loggerMu sync.RWMutex
	logger   Logger
}

// NewHealthReporter creates a reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval == 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	defer h.loggerMu.Unlock()
	h.logger = logger
}

// Start begins periodic reporting until ctx is cancelled or Stop is
// called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop halts reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Best effort, the LWT covers us if this fails.
		_ = h.publishStatus(HealthStopping, "shutting down")
	})
}

// PublishNow publishes status and stats immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	if err := h.publishStatus(status, reason); err != nil {
		return err
	}
	return h.publishStats()
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("initial health publish failed", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("health publish failed", err)
			}
		}
	}
}

// determineStatus evaluates overall bridge health. A lost bus
// connection degrades the bridge but does not mark it offline; only
// the LWT does that.
func (h *HealthReporter) determineStatus() (status, reason string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "broker disconnected"
	}
	if h.cfg.Bus == nil || !h.cfg.Bus.IsConnected() {
		return HealthDegraded, "bus disconnected"
	}
	return HealthOnline, ""
}

func (h *HealthReporter) publishStatus(status, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	msg := statusMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.BridgeStatus(), payload, 1, true)
}

func (h *HealthReporter) publishStats() error {
	if h.cfg.Publisher == nil {
		return nil
	}

	msg := statsMessage{
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	if h.cfg.Store != nil {
		s := h.cfg.Store.Stats()
		msg.DevicesTracked = s.DevicesTracked
		msg.Conflicts = s.Conflicts
		msg.Evictions = s.Evictions
		msg.PollsIssued = s.PollsIssued
		msg.CommandFailures = s.CommandFailures
	}
	if h.cfg.Bus != nil {
		s := h.cfg.Bus.Stats()
		msg.BusLinesRx = s.LinesRx
		msg.BusCommandsTx = s.CommandsTx
		msg.BusReconnects = s.ReconnectsTotal
		msg.BusDecodeErrors = s.DecodeErrors
	}
	if h.cfg.Bridge != nil {
		s := h.cfg.Bridge.Stats()
		msg.MessagesRx = s.MessagesRx
		msg.MessagesTx = s.MessagesTx
		msg.ParseErrors = s.ParseErrors
		msg.PublishErrors = s.PublishErrors
	}
	if h.cfg.Registry != nil {
		msg.DevicesKnown = h.cfg.Registry.Count()
		msg.Discovered = h.cfg.Registry.DiscoveredCount()
	}

	if h.cfg.StatsSink != nil {
		h.cfg.StatsSink(msg.fields())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.BridgeStats(), payload, 0, false)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
