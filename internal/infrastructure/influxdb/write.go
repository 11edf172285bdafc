package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/grainwatch/granary-core/internal/telemetry"
)

// WriteReading queues one reading for the next batch flush.
// Implements telemetry.PointWriter. A closed client drops the point.
func (c *Client) WriteReading(r telemetry.Reading) {
	if !c.IsConnected() {
		return
	}

	point := influxdb2.NewPoint(
		"reading",
		map[string]string{
			"device_id": r.DeviceID,
			"status":    string(r.Status),
		},
		map[string]any{
			"temperature": r.Temperature,
			"humidity":    r.Humidity,
			"gas_level":   r.GasLevel,
		},
		r.RecordedAt,
	)
	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records command queue depth per lifecycle state as a
// gauge point, keyed to the sample time.
func (c *Client) WriteQueueDepth(counts map[string]int, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]any, len(counts))
	for status, count := range counts {
		fields[status] = count
	}
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(influxdb2.NewPoint("command_queue", nil, fields, at))
}
