// Package influxdb provides optional time-series telemetry for the bridge.
//
// When enabled, the bridge writes one point per accepted group level
// change (measurement "group_level", tagged by network/application/group
// and change source) and periodic counter snapshots ("bridge_stats").
//
// Writes are non-blocking and batched; failures are reported through an
// error callback and never affect bridge operation.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off, carry on
//	}
package influxdb
