package mqtt

import "fmt"

// Topic prefixes for the Verdant broker mirror.
//
// Measurement fan-out is mirrored to the broker under a per-kit hierarchy:
// verdant/kits/{serial}/measurements/{kind}. External consumers (multi-node
// fan-out, data pipelines) subscribe there instead of holding a websocket.
const (
	// TopicPrefix is the base for all Verdant topics.
	TopicPrefix = "verdant"

	// TopicPrefixKits is the base for per-kit topics.
	TopicPrefixKits = "verdant/kits"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "verdant/system"
)

// Topics provides builders for Verdant MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.KitMeasurements("k-greenhouse-1", "REDUCED")
//	// Returns: "verdant/kits/k-greenhouse-1/measurements/REDUCED"
type Topics struct{}

// KitMeasurements returns the fan-out mirror topic for a kit's measurements
// of the given kind (RAW or REDUCED).
//
// Example: verdant/kits/k-greenhouse-1/measurements/RAW
func (Topics) KitMeasurements(serial, kind string) string {
	return fmt.Sprintf("%s/%s/measurements/%s", TopicPrefixKits, serial, kind)
}

// KitStatus returns the topic for a kit's connection status.
//
// Example: verdant/kits/k-greenhouse-1/status
func (Topics) KitStatus(serial string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixKits, serial)
}

// SystemStatus returns the core service status topic (also used as LWT).
//
// Example: verdant/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllKitMeasurements returns a pattern matching every kit's measurement
// mirror of any kind.
//
// Pattern: verdant/kits/+/measurements/+
func (Topics) AllKitMeasurements() string {
	return fmt.Sprintf("%s/+/measurements/+", TopicPrefixKits)
}

// KitAllMeasurements returns a pattern matching one kit's measurements of
// any kind.
//
// Pattern: verdant/kits/k-greenhouse-1/measurements/+
func (Topics) KitAllMeasurements(serial string) string {
	return fmt.Sprintf("%s/%s/measurements/+", TopicPrefixKits, serial)
}

// AllKitStatuses returns a pattern matching every kit's status topic.
//
// Pattern: verdant/kits/+/status
func (Topics) AllKitStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixKits)
}

// AllTopics returns a pattern matching all Verdant topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: verdant/#
func (Topics) AllTopics() string {
	return "verdant/#"
}
