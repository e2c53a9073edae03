package mqtt

// MeasurementMirror forwards measurement fan-out frames to per-kit broker
// topics. It satisfies the stream registry's Mirror interface.
//
// Forwarding is fire-and-forget with QoS 0: the broker mirror is an
// observer of the fan-out, never a dependency of it, so a slow or
// disconnected broker must not delay the publish path.
type MeasurementMirror struct {
	client *Client
	logger Logger
}

// NewMeasurementMirror wraps an MQTT client as a fan-out mirror.
func NewMeasurementMirror(client *Client, logger Logger) *MeasurementMirror {
	return &MeasurementMirror{client: client, logger: logger}
}

// Forward publishes a measurement frame to the kit's mirror topic.
func (m *MeasurementMirror) Forward(kitSerial, kind string, payload []byte) {
	topic := Topics{}.KitMeasurements(kitSerial, kind)
	if err := m.client.Publish(topic, payload, 0, false); err != nil {
		if m.logger != nil {
			m.logger.Warn("measurement mirror publish failed",
				"topic", topic, "error", err)
		}
	}
}
