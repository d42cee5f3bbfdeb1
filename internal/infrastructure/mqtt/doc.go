// Package mqtt provides MQTT connectivity for the C-Bus bridge.
//
// This package wraps paho.mqtt.golang with:
//   - Connection management with automatic reconnection
//   - Last Will and Testament on {root}/bridge/status
//   - Subscription tracking and restoration after reconnect
//   - Panic recovery around message handlers
//   - Payload size limits and QoS validation
//
// The topic root is configurable (default "cbus"); per-group read/write
// topics are built by the bridge dispatcher, not here.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.Subscribe(client.Topics().AllWrite(), 1, handler)
package mqtt
