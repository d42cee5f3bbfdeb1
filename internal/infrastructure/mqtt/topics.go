package mqtt

import "fmt"

// Topics builds topic strings under the configured topic root.
//
// Device-level topics (read/write per group) are owned by the bridge
// dispatcher; this builder covers only the infrastructure-level topics
// the client itself publishes to.
//
// Example:
//
//	topics := mqtt.Topics{Root: "cbus"}
//	topics.BridgeStatus() // "cbus/bridge/status"
type Topics struct {
	// Root is the first topic segment, e.g. "cbus".
	Root string
}

// BridgeStatus returns the bridge availability topic.
// Used for the LWT, the online/offline announcements and the heartbeat.
//
// Example: cbus/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.Root)
}

// BridgeStats returns the topic for periodic bridge statistics.
//
// Example: cbus/bridge/stats
func (t Topics) BridgeStats() string {
	return fmt.Sprintf("%s/bridge/stats", t.Root)
}

// AllRead returns a pattern matching every read-side topic the bridge
// publishes. Useful for diagnostics subscribers.
//
// Pattern: cbus/read/#
func (t Topics) AllRead() string {
	return fmt.Sprintf("%s/read/#", t.Root)
}

// AllWrite returns a pattern matching every write-side topic the bridge
// listens on.
//
// Pattern: cbus/write/#
func (t Topics) AllWrite() string {
	return fmt.Sprintf("%s/write/#", t.Root)
}
