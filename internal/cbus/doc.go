// Package cbus provides connectivity to a C-Bus network.
//
// The bus is reached through either a CNI (network gateway, TCP) or a PCI
// (serial gateway, 9600 8N1); both speak the same CRLF-terminated ASCII
// line protocol with hex-encoded addresses and levels.
//
// Architecture:
//
//	Transport  - one connection, line-level read/write with timeouts
//	Codec      - line protocol encode/decode into typed events
//	Client     - init sequence, receive loop, serialized command queue,
//	             auto-reconnect with exponential backoff
//
// The client exposes decoded events on a single bounded channel consumed
// by the state store, and accepts commands through the Commander
// interface. Decode failures never take the link down: garbled lines are
// logged at debug level and dropped.
//
// Usage:
//
//	client, err := cbus.Connect(ctx, cbus.ClientConfig{
//	    Transport:   cbus.TransportConfig{Interface: "tcp", Host: "192.168.1.50", Port: 10001},
//	    Network:     254,
//	    Application: 56,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for event := range client.Events() {
//	    // feed the state store
//	}
package cbus
