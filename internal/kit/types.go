package kit

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// serialPattern defines the valid format for kit serials:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var serialPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxSerialLength is the maximum allowed serial length.
const maxSerialLength = 64

// IsValidSerial checks if a kit serial meets format requirements.
// Serials double as the kit's login name and appear in MQTT topics,
// so the character set is deliberately narrow.
func IsValidSerial(serial string) bool {
	return len(serial) <= maxSerialLength && serialPattern.MatchString(serial)
}

// GenerateID returns a new unique identifier for kit-domain entities.
func GenerateID() string {
	return uuid.NewString()
}

// Kit represents a registered plant-monitoring station.
type Kit struct {
	ID          string   `json:"id"`
	Serial      string   `json:"serial"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`

	// SecretHash is the Argon2id hash of the kit's device secret.
	SecretHash string `json:"-"` // never serialised

	// PublicDashboard makes the kit's live measurement stream visible to
	// anyone, including anonymous viewers.
	PublicDashboard bool `json:"privacy_public_dashboard"`

	// ShowOnMap lists the kit on the public map.
	ShowOnMap bool `json:"privacy_show_on_map"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the Kit.
// Pointer fields are re-allocated so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (k *Kit) DeepCopy() *Kit {
	if k == nil {
		return nil
	}
	cpy := *k
	if k.Latitude != nil {
		lat := *k.Latitude
		cpy.Latitude = &lat
	}
	if k.Longitude != nil {
		lon := *k.Longitude
		cpy.Longitude = &lon
	}
	return &cpy
}

// QuantityType classifies the scientific meaning of a measurement:
// a physical quantity together with the unit it is expressed in.
type QuantityType struct {
	ID               string `json:"id"`
	PhysicalQuantity string `json:"physical_quantity"`
	PhysicalUnit     string `json:"physical_unit"`
	UnitSymbol       string `json:"unit_symbol,omitempty"`
}

// PeripheralDefinition is a device-class description shared by peripherals
// of the same make. It declares the quantity types instances may report;
// declared types are advisory, not exhaustive.
type PeripheralDefinition struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Brand     string `json:"brand,omitempty"`
	Model     string `json:"model,omitempty"`
	ClassName string `json:"class_name"`

	// QuantityTypes declared by this definition. Populated by repository
	// lookups that join the declaration table.
	QuantityTypes []QuantityType `json:"quantity_types,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Peripheral is a sensor attached to exactly one kit.
type Peripheral struct {
	ID           string     `json:"id"`
	KitID        string     `json:"kit_id"`
	DefinitionID string     `json:"definition_id"`
	Name         string     `json:"name"`
	Active       bool       `json:"active"`
	AddedAt      time.Time  `json:"added_at"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`

	// Definition is the resolved peripheral definition, populated by
	// repository lookups that need the declared quantity types.
	Definition *PeripheralDefinition `json:"definition,omitempty"`
}

// DeepCopy returns an independent copy of the Peripheral, including its
// resolved definition and declared quantity types.
func (p *Peripheral) DeepCopy() *Peripheral {
	if p == nil {
		return nil
	}
	cpy := *p
	if p.RemovedAt != nil {
		rm := *p.RemovedAt
		cpy.RemovedAt = &rm
	}
	if p.Definition != nil {
		def := *p.Definition
		if p.Definition.QuantityTypes != nil {
			def.QuantityTypes = make([]QuantityType, len(p.Definition.QuantityTypes))
			copy(def.QuantityTypes, p.Definition.QuantityTypes)
		}
		cpy.Definition = &def
	}
	return &cpy
}

// Experiment is a bounded observation period on a kit. A measurement taken
// while an experiment is open is tagged with the experiment id.
type Experiment struct {
	ID        string     `json:"id"`
	KitID     string     `json:"kit_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Open reports whether the experiment has not yet ended.
func (e *Experiment) Open() bool {
	return e.EndedAt == nil
}

// Membership links a person to a kit.
type Membership struct {
	UserID   string    `json:"user_id"`
	KitID    string    `json:"kit_id"`
	LinkedAt time.Time `json:"linked_at"`
}
