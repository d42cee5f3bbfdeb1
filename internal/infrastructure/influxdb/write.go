package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteGroupLevel writes a group level change to InfluxDB.
//
// This is the primary telemetry point for the bridge: one point per
// accepted state change, tagged by address and change source.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - network: C-Bus network id
//   - application: C-Bus application id
//   - group: C-Bus group address
//   - level: Brightness level 0-255
//   - source: Origin of the change ("bus", "hub" or "poll")
//
// Example:
//
//	client.WriteGroupLevel(254, 56, 21, 255, "bus")
func (c *Client) WriteGroupLevel(network, application, group, level int, source string) {
	if !c.IsConnected() {
		return
	}

	on := 0
	if level > 0 {
		on = 1
	}

	point := write.NewPoint(
		"group_level",
		map[string]string{
			"network":     strconv.Itoa(network),
			"application": strconv.Itoa(application),
			"group":       strconv.Itoa(group),
			"source":      source,
		},
		map[string]interface{}{
			"level": level,
			"on":    on,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBridgeStats writes a snapshot of bridge counters.
//
// Published alongside the heartbeat so dashboards can graph throughput
// and error rates over time.
//
// Parameters:
//   - fields: Counter name to value (e.g. "lines_rx", "commands_tx")
func (c *Client) WriteBridgeStats(fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bridge_stats",
		map[string]string{},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
