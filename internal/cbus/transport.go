package cbus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport constants.
const (
	// defaultTimeout bounds connects, reads and writes.
	defaultTimeout = 5 * time.Second

	// serialBaudRate is fixed by the PCI hardware.
	serialBaudRate = 9600

	// lineTerminator ends every outgoing command.
	lineTerminator = "\r\n"
)

// Transport owns exactly one connection to the bus interface and provides
// line-level read/write primitives.
//
// Implementations do not retry internally; retry policy belongs to the
// owning client. Close is best-effort and never returns an error for an
// already-closed transport.
type Transport interface {
	// Connect opens the transport. Returns ErrConnectionFailed (wrapped
	// with the address) on timeout or refusal.
	Connect(ctx context.Context) error

	// Close releases the connection. Best-effort; always clears the
	// connected flag.
	Close() error

	// WriteLine sends one ASCII command line, appending CRLF, and flushes
	// before returning. Fails with ErrNotConnected when closed.
	WriteLine(line string) error

	// ReadLine returns the next complete line with its terminator
	// stripped, or ("", ErrReadTimeout) if none arrives within timeout.
	ReadLine(timeout time.Duration) (string, error)

	// IsConnected reports whether the transport currently holds an open
	// connection.
	IsConnected() bool
}

// TransportConfig selects and parameterises the transport.
type TransportConfig struct {
	// Interface is "tcp" for a CNI, "serial" or "pci" for a local PCI.
	Interface string

	// Host and Port locate the CNI for TCP.
	Host string
	Port int

	// SerialDevice is the serial port path for serial/pci.
	SerialDevice string

	// Timeout bounds connect, read and write operations. Default: 5s.
	Timeout time.Duration
}

// NewTransport builds the transport selected by cfg.Interface.
//
// Returns:
//   - Transport: Unconnected transport; call Connect before use
//   - error: ErrUnsupportedInterface for unknown interface types
func NewTransport(cfg TransportConfig) (Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	switch strings.ToLower(cfg.Interface) {
	case "tcp":
		return &tcpTransport{cfg: cfg}, nil
	case "serial", "pci":
		return &serialTransport{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedInterface, cfg.Interface)
	}
}

// tcpTransport reaches the bus through a CNI over TCP.
type tcpTransport struct {
	cfg TransportConfig

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
}

func (t *tcpTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	address := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, address, err)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.connected = true
	return nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close() //nolint:errcheck // Best effort
		t.conn = nil
	}
	t.reader = nil
	t.connected = false
	return nil
}

func (t *tcpTransport) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.cfg.Timeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrCommandFailed, err)
	}

	if _, err := t.conn.Write([]byte(line + lineTerminator)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrCommandFailed, err)
	}

	return nil
}

func (t *tcpTransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	conn := t.conn
	reader := t.reader
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return "", ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrReadTimeout
		}
		return "", fmt.Errorf("read: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// serialTransport reaches the bus through a PCI on a local serial port.
// The PCI speaks 9600 baud, 8 data bits, no parity, one stop bit.
type serialTransport struct {
	cfg TransportConfig

	mu        sync.Mutex
	port      serial.Port
	connected bool

	// partial buffers bytes of an incomplete line between ReadLine
	// calls. ReadLine has a single caller (the client receive loop), so
	// partial is not guarded by mu.
	partial []byte
}

func (t *serialTransport) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: serialBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(t.cfg.SerialDevice, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrConnectionFailed, t.cfg.SerialDevice, err)
	}

	t.port = port
	t.partial = nil
	t.connected = true
	return nil
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		t.port.Close() //nolint:errcheck // Best effort
		t.port = nil
	}
	t.connected = false
	return nil
}

func (t *serialTransport) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.port == nil {
		return ErrNotConnected
	}

	if _, err := t.port.Write([]byte(line + lineTerminator)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrCommandFailed, err)
	}

	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("%w: drain: %w", ErrCommandFailed, err)
	}

	return nil
}

func (t *serialTransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	port := t.port
	connected := t.connected
	t.mu.Unlock()

	if !connected || port == nil {
		return "", ErrNotConnected
	}

	// go.bug.st/serial signals a read timeout as a (0, nil) read, not an
	// error. The port is read directly and the deadline enforced here: a
	// buffered reader would retry the empty reads long past the timeout
	// and then wedge on its sticky no-progress error.
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 64)
	for {
		if idx := bytes.IndexByte(t.partial, '\n'); idx >= 0 {
			line := strings.TrimSuffix(string(t.partial[:idx]), "\r")
			t.partial = t.partial[idx+1:]
			return line, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrReadTimeout
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("set read timeout: %w", err)
		}

		n, err := port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return "", ErrReadTimeout
		}
		t.partial = append(t.partial, buf[:n]...)
	}
}

func (t *serialTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
