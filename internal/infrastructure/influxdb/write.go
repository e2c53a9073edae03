package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMeasurement queues one kit reading as a point in the
// "measurements" series, tagged by kit serial, peripheral and message
// kind (RAW or REDUCED). The quantity tag is added only when the
// measurement resolved a declared physical quantity. Non-blocking.
func (c *Client) WriteMeasurement(kitSerial, peripheral, kind, quantity string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"kit":        kitSerial,
		"peripheral": peripheral,
		"kind":       kind,
	}
	if quantity != "" {
		tags["quantity"] = quantity
	}

	c.writeAPI.WritePoint(write.NewPoint("measurements", tags,
		map[string]any{"value": value}, at))
}

// WriteKitStatus queues a connection state change for a kit (1 up, 0
// down) in the "kit_status" series, for uptime dashboards.
func (c *Client) WriteKitStatus(kitSerial string, connected bool) {
	if !c.IsConnected() {
		return
	}

	up := 0.0
	if connected {
		up = 1.0
	}

	c.writeAPI.WritePoint(write.NewPoint("kit_status",
		map[string]string{"kit": kitSerial},
		map[string]any{"connected": up}, time.Now()))
}
