// Package bridge glues the state store to the MQTT hub side.
//
// The Bridge subscribes to the write-topic hierarchy, parses tolerant
// command payloads and forwards them to the store; as the store's
// Notifier it publishes every accepted state change back out, with a
// retained descriptor announcement the first time a group appears.
// getall and gettree requests answer with the full snapshot and the
// known-device tree.
//
// The HealthReporter publishes bridge liveness and counters on a
// fixed interval, independent of state traffic.
package bridge
