package cbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for bus communication.
const (
	// defaultReadTimeout is the timeout for individual read operations.
	// Short enough that the receive loop notices shutdown promptly.
	defaultReadTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// defaultCommandSpacing is the minimum gap between outbound commands.
	// The bus is slow; back-to-back commands get lost.
	defaultCommandSpacing = 50 * time.Millisecond

	// eventQueueSize bounds the decoded-event channel. When the consumer
	// falls behind, events are dropped and counted rather than blocking
	// the receive loop.
	eventQueueSize = 256

	// commandQueueSize bounds the outbound command queue.
	commandQueueSize = 64

	// initAckTimeout is how long to wait for each init-sequence ack.
	initAckTimeout = 2 * time.Second
)

// ClientConfig holds bus client configuration.
type ClientConfig struct {
	// Transport selects and parameterises the connection.
	Transport TransportConfig

	// Network is the C-Bus network id. Default 254.
	Network int

	// Application is the C-Bus application id. Default 56 (lighting).
	Application int

	// ReadTimeout is the timeout for read operations. Default: 5 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// ConnectRetries is how many additional attempts the initial
	// connection makes before Connect gives up. Reconnection after an
	// established link drops is unbounded regardless. Default: 0
	// (single attempt).
	ConnectRetries int

	// CommandSpacing is the minimum gap between outbound commands.
	// Default: 50 milliseconds.
	CommandSpacing time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	LinesRx         uint64
	CommandsTx      uint64
	EventsDropped   uint64 // Events dropped due to full event queue
	DecodeErrors    uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Commander is the command surface the state store drives.
// This allows mocking the bus client in tests.
type Commander interface {
	SetLevel(ctx context.Context, group, level int) error
	Ramp(ctx context.Context, group, level, ramp int) error
	QueryLevel(ctx context.Context, group int) error
	QueryStatus(ctx context.Context) error
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Commander.
var _ Commander = (*Client)(nil)

// Client owns the bus transport and codec.
//
// It runs two goroutines: a receive loop that decodes response lines into
// a bounded event channel, and a send loop that serializes outbound
// commands with a minimum inter-command gap so two callers never
// interleave partial lines on the wire.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//
// Auto-Reconnection:
//   - When the connection is lost, the client automatically reconnects
//     with exponential backoff and replays the init sequence.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg       ClientConfig
	transport Transport
	codec     Codec

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Decoded events for the single consumer (the state store).
	events chan Event

	// Outbound command queue; drained by the send loop.
	commands chan string

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesRx         atomic.Uint64
	commandsTx      atomic.Uint64
	eventsDropped   atomic.Uint64
	decodeErrors    atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Connect opens the configured transport and starts the client.
//
// After connecting it runs the init sequence (reset, select network,
// select application, enable monitoring) and starts the receive and send
// loops.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Client configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If connection or the init sequence fails
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	transport, err := NewTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	return ConnectWithTransport(ctx, cfg, transport)
}

// ConnectWithTransport is Connect with a caller-supplied transport.
// Used by tests to substitute a fake bus.
func ConnectWithTransport(ctx context.Context, cfg ClientConfig, transport Transport) (*Client, error) {
	// Apply defaults
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.CommandSpacing == 0 {
		cfg.CommandSpacing = defaultCommandSpacing
	}

	client := &Client{
		cfg:       cfg,
		transport: transport,
		codec:     Codec{Network: cfg.Network, Application: cfg.Application},
		events:    make(chan Event, eventQueueSize),
		commands:  make(chan string, commandQueueSize),
		done:      newCloseOnce(),
	}
	client.lastActivity.Store(time.Now().Unix())

	if err := client.connectWithRetries(ctx); err != nil {
		return nil, err
	}

	// Start receive loop
	client.wg.Add(1)
	go client.receiveLoop()

	// Start send loop
	client.wg.Add(1)
	go client.sendLoop()

	return client, nil
}

// connectWithRetries opens the transport and runs the init sequence,
// making up to cfg.ConnectRetries additional attempts before giving up.
// Startup failures must surface promptly; the unbounded backoff loop is
// reserved for reconnection after a working link drops.
func (c *Client) connectWithRetries(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			c.logInfo("retrying initial connection", "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
			case <-time.After(c.cfg.ReconnectInterval):
			}
		}

		if err := c.transport.Connect(ctx); err != nil {
			lastErr = err
			continue
		}

		if err := c.initSequence(); err != nil {
			c.transport.Close() //nolint:errcheck // Best effort cleanup on error path
			lastErr = fmt.Errorf("%w: init sequence: %w", ErrConnectionFailed, err)
			continue
		}

		return nil
	}

	return lastErr
}

// initSequence puts the interface into monitored mode.
//
// Order matters: reset, select network, select application, enable
// monitoring. Each command is followed by a short wait so the interface
// can echo its ack; acks are not matched strictly because some firmware
// revisions swallow them after a reset.
func (c *Client) initSequence() error {
	steps := []string{
		c.codec.EncodeReset(),
		c.codec.EncodeSelectNetwork(),
		c.codec.EncodeSelectApplication(),
		c.codec.EncodeEnableMonitoring(),
	}

	for _, cmd := range steps {
		if err := c.transport.WriteLine(cmd); err != nil {
			return fmt.Errorf("write %q: %w", cmd, err)
		}
		c.commandsTx.Add(1)

		// Drain any ack without insisting on one.
		if line, err := c.transport.ReadLine(initAckTimeout); err == nil {
			c.linesRx.Add(1)
			c.logDebug("init ack", "command", cmd, "response", line)
		}

		time.Sleep(c.cfg.CommandSpacing)
	}

	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Events returns the channel of decoded bus events.
//
// The channel is bounded; when the consumer falls behind, new events are
// dropped and counted in Stats().EventsDropped. Intended for a single
// consumer.
func (c *Client) Events() <-chan Event {
	return c.events
}

// receiveLoop continuously reads and decodes response lines.
// On connection loss, it automatically attempts reconnection with
// exponential backoff.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		line, err := c.transport.ReadLine(c.cfg.ReadTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue // Quiet bus, keep listening
			}

			if c.isClosed() {
				return
			}

			c.logError("read failed", err)
			c.errorsTotal.Add(1)

			if !c.reconnect() {
				return // Shutdown during reconnection
			}
			continue
		}

		c.handleLine(line)
	}
}

// handleLine decodes one response line and queues the resulting event.
func (c *Client) handleLine(line string) {
	c.linesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	event, err := c.codec.Decode(line)
	if err != nil {
		// Decode failures are local: log and drop.
		c.logDebug("dropping undecodable line", "line", line, "error", err)
		c.decodeErrors.Add(1)
		return
	}

	select {
	case c.events <- event:
		// Queued successfully
	default:
		// Queue full, drop event to prevent blocking the receive loop
		c.logError("event queue full, dropping event", nil)
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// sendLoop drains the outbound queue, enforcing the inter-command gap.
func (c *Client) sendLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case cmd := <-c.commands:
			if err := c.transport.WriteLine(cmd); err != nil {
				c.logError("command write failed", err)
				c.errorsTotal.Add(1)
				continue
			}
			c.commandsTx.Add(1)
			c.lastActivity.Store(time.Now().Unix())

			select {
			case <-c.done.Done():
				return
			case <-time.After(c.cfg.CommandSpacing):
			}
		}
	}
}

// enqueue places a command on the outbound queue.
func (c *Client) enqueue(ctx context.Context, cmd string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandFailed, ctx.Err())
	case <-c.done.Done():
		return ErrNotConnected
	case c.commands <- cmd:
		return nil
	default:
		c.errorsTotal.Add(1)
		return ErrCommandQueueFull
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. Returns true if reconnection succeeded, false if shutdown was
// signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		c.transport.Close() //nolint:errcheck // Best effort

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Transport.Timeout)
		err := c.transport.Connect(ctx)
		cancel()
		if err == nil {
			err = c.initSequence()
			if err != nil {
				c.transport.Close() //nolint:errcheck // Best effort
			}
		}

		if err != nil {
			c.logError("reconnect failed", err)
			c.errorsTotal.Add(1)

			select {
			case <-c.done.Done():
				return false
			case <-time.After(backoff):
			}

			// Exponential backoff with cap
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}

		c.reconnectCount.Store(0)
		c.reconnectsTotal.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully shuts the client down.
//
// It signals both loops to stop and closes the transport. Safe to call
// multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	// Closing the transport unblocks any pending read
	c.transport.Close() //nolint:errcheck // Best effort

	c.wg.Wait()

	c.logInfo("bus client closed")
	return nil
}

// SetLevel queues a set-level command for a group.
//
// Parameters:
//   - ctx: Context for cancellation
//   - group: Target group address (0-255)
//   - level: Brightness level (0-255, 0 = off)
//
// Returns:
//   - error: If encoding fails, the client is disconnected, or the
//     outbound queue is full
func (c *Client) SetLevel(ctx context.Context, group, level int) error {
	cmd, err := c.codec.EncodeSetLevel(group, level)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, cmd)
}

// Ramp queues a set-level command with a ramp time.
//
// Parameters:
//   - ctx: Context for cancellation
//   - group: Target group address (0-255)
//   - level: Target level (0-255)
//   - ramp: Ramp-time byte (0-255)
func (c *Client) Ramp(ctx context.Context, group, level, ramp int) error {
	cmd, err := c.codec.EncodeRamp(group, level, ramp)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, cmd)
}

// QueryLevel queues a level query for a single group.
// The answer arrives as an EventGroupState on Events().
func (c *Client) QueryLevel(ctx context.Context, group int) error {
	cmd, err := c.codec.EncodeLevelQuery(group)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, cmd)
}

// QueryStatus queues a status query for the selected application.
func (c *Client) QueryStatus(ctx context.Context) error {
	return c.enqueue(ctx, c.codec.EncodeStatusQuery())
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the transport holds an open connection.
func (c *Client) IsConnected() bool {
	return !c.isClosed() && c.transport.IsConnected()
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		LinesRx:         c.linesRx.Load(),
		CommandsTx:      c.commandsTx.Load(),
		EventsDropped:   c.eventsDropped.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck verifies the connection is alive.
//
// Note: This only checks connection state. For active verification,
// queue a status query and watch for group-state events.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
