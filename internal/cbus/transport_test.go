package cbus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"
)

// startBusServer runs a minimal line-echo server standing in for a CNI.
// Received lines are sent to the returned channel; lines sent to the
// write channel are delivered to the client.
func startBusServer(t *testing.T) (addr *net.TCPAddr, received chan string, send chan string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	received = make(chan string, 16)
	send = make(chan string, 16)

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			reader := bufio.NewReader(conn)
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				received <- strings.TrimRight(line, "\r\n")
			}
		}()

		for line := range send {
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				return
			}
		}
	}()

	return listener.Addr().(*net.TCPAddr), received, send
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name      string
		iface     string
		wantErr   bool
		wantError error
	}{
		{name: "tcp", iface: "tcp"},
		{name: "serial", iface: "serial"},
		{name: "pci is serial", iface: "pci"},
		{name: "case insensitive", iface: "TCP"},
		{name: "unknown", iface: "modem", wantErr: true, wantError: ErrUnsupportedInterface},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransport(TransportConfig{Interface: tt.iface})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTransport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantError != nil && !errors.Is(err, tt.wantError) {
				t.Errorf("NewTransport() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestTCPTransport_WriteAndRead(t *testing.T) {
	addr, received, send := startBusServer(t)

	transport, err := NewTransport(TransportConfig{
		Interface: "tcp",
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	if !transport.IsConnected() {
		t.Fatal("expected transport to report connected")
	}

	// Outbound: line arrives with CRLF stripped by the server reader
	if err := transport.WriteLine("@381564"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}

	select {
	case line := <-received:
		if line != "@381564" {
			t.Errorf("server received %q, want %q", line, "@381564")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the line")
	}

	// Inbound
	send <- "g381564"
	line, err := transport.ReadLine(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if line != "g381564" {
		t.Errorf("ReadLine() = %q, want %q", line, "g381564")
	}
}

func TestTCPTransport_ReadTimeout(t *testing.T) {
	addr, _, _ := startBusServer(t)

	transport, err := NewTransport(TransportConfig{
		Interface: "tcp",
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer transport.Close()

	_, err = transport.ReadLine(50 * time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("ReadLine() error = %v, want ErrReadTimeout", err)
	}
}

func TestTCPTransport_ConnectRefused(t *testing.T) {
	// Grab a port that nothing is listening on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	transport, err := NewTransport(TransportConfig{
		Interface: "tcp",
		Host:      "127.0.0.1",
		Port:      port,
		Timeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	err = transport.Connect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}

	if !strings.Contains(err.Error(), "127.0.0.1") {
		t.Errorf("Connect() error %q should name the address", err)
	}
}

func TestTCPTransport_WriteAfterClose(t *testing.T) {
	addr, _, _ := startBusServer(t)

	transport, err := NewTransport(TransportConfig{
		Interface: "tcp",
		Host:      "127.0.0.1",
		Port:      addr.Port,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewTransport() error = %v", err)
	}

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if transport.IsConnected() {
		t.Error("expected transport to report disconnected after Close")
	}

	if err := transport.WriteLine("@381500"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("WriteLine() after close error = %v, want ErrNotConnected", err)
	}

	// Close is idempotent
	if err := transport.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// fakeSerialPort scripts reads the way go.bug.st/serial delivers them:
// data in arbitrary chunks, and a timeout as a (0, nil) read.
type fakeSerialPort struct {
	chunks [][]byte
	reads  int
}

func (p *fakeSerialPort) Read(b []byte) (int, error) {
	p.reads++
	if len(p.chunks) == 0 {
		return 0, nil
	}
	chunk := p.chunks[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.chunks[0] = chunk[n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakeSerialPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakeSerialPort) SetMode(*serial.Mode) error { return nil }

func (p *fakeSerialPort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakeSerialPort) Drain() error { return nil }

func (p *fakeSerialPort) ResetInputBuffer() error { return nil }

func (p *fakeSerialPort) ResetOutputBuffer() error { return nil }

func (p *fakeSerialPort) SetDTR(bool) error { return nil }

func (p *fakeSerialPort) SetRTS(bool) error { return nil }

func (p *fakeSerialPort) Break(time.Duration) error { return nil }

func (p *fakeSerialPort) Close() error { return nil }
func (p *fakeSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func newFakeSerialTransport(chunks ...[]byte) (*serialTransport, *fakeSerialPort) {
	port := &fakeSerialPort{chunks: chunks}
	transport := &serialTransport{
		cfg:       TransportConfig{Interface: "serial", SerialDevice: "/dev/null", Timeout: time.Second},
		port:      port,
		connected: true,
	}
	return transport, port
}

func TestSerialTransport_ReadLine_QuietPortTimesOut(t *testing.T) {
	transport, port := newFakeSerialTransport()

	start := time.Now()
	_, err := transport.ReadLine(20 * time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("ReadLine() error = %v, want ErrReadTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("ReadLine() blocked %v past its timeout", elapsed)
	}

	// One empty read surfaces the timeout; the loop must not spin
	// retrying empty reads.
	if port.reads != 1 {
		t.Errorf("quiet-port ReadLine() issued %d reads, want 1", port.reads)
	}

	// The next call behaves the same rather than failing with a stuck
	// error from the first timeout.
	if _, err := transport.ReadLine(20 * time.Millisecond); !errors.Is(err, ErrReadTimeout) {
		t.Errorf("second ReadLine() error = %v, want ErrReadTimeout", err)
	}
}

func TestSerialTransport_ReadLine_ReassemblesChunks(t *testing.T) {
	transport, _ := newFakeSerialTransport(
		[]byte("g38"),
		[]byte("1564\r\ng3816"),
		[]byte("00\r\n"),
	)

	line, err := transport.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("ReadLine() error = %v", err)
	}
	if line != "g381564" {
		t.Errorf("ReadLine() = %q, want %q", line, "g381564")
	}

	// The second line was split across the buffer boundary.
	line, err = transport.ReadLine(time.Second)
	if err != nil {
		t.Fatalf("second ReadLine() error = %v", err)
	}
	if line != "g381600" {
		t.Errorf("second ReadLine() = %q, want %q", line, "g381600")
	}
}

func TestSerialTransport_ReadLine_NotConnected(t *testing.T) {
	transport := &serialTransport{cfg: TransportConfig{Interface: "serial"}}

	if _, err := transport.ReadLine(time.Second); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadLine() error = %v, want ErrNotConnected", err)
	}
}
