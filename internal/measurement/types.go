package measurement

import "time"

// Kind distinguishes the two message-layer measurement kinds.
type Kind string

const (
	// KindRaw is an ephemeral reading: fanned out to subscribers, never persisted.
	KindRaw Kind = "RAW"

	// KindReduced is an aggregated reading: persisted, then fanned out.
	KindReduced Kind = "REDUCED"
)

// ParseKind maps the wire measurement_type value to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindRaw:
		return KindRaw, true
	case KindReduced:
		return KindReduced, true
	default:
		return "", false
	}
}

// Measurement is a single sensor reading attributed to a kit peripheral.
// QuantityTypeID and ExperimentID are optional: a reading whose declared
// quantity/unit pair matches none of the peripheral definition's types is
// stored untyped, and a reading taken outside an open experiment carries
// no experiment reference. Measurements are never mutated after creation.
type Measurement struct {
	ID             string `json:"id"`
	KitID          string `json:"kit_id"`
	PeripheralID   string `json:"peripheral_id"`
	QuantityTypeID string `json:"quantity_type_id,omitempty"`
	ExperimentID   string `json:"experiment_id,omitempty"`

	// PhysicalQuantity and PhysicalUnit echo what the device declared,
	// whether or not it resolved to a registered quantity type.
	PhysicalQuantity string `json:"physical_quantity,omitempty"`
	PhysicalUnit     string `json:"physical_unit,omitempty"`

	Value      float64   `json:"value"`
	MeasuredAt time.Time `json:"measured_at"`
}
