package measurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verdantlab/verdant-core/internal/kit"
)

// RawMeasurement is the measurement object of an inbound publish payload.
// Value is a pointer so a missing field is distinguishable from 0.
type RawMeasurement struct {
	Peripheral       string   `json:"peripheral"`
	PhysicalQuantity string   `json:"physical_quantity,omitempty"`
	PhysicalUnit     string   `json:"physical_unit,omitempty"`
	Value            *float64 `json:"value"`
}

// PublishPayload is the payload of a measurements-publish message.
type PublishPayload struct {
	MeasurementType string         `json:"measurement_type"`
	Measurement     RawMeasurement `json:"measurement"`
}

// ExperimentLookup resolves the currently open experiment for a kit,
// returning nil when none is open.
type ExperimentLookup interface {
	OpenExperiment(ctx context.Context, kitID string) (*kit.Experiment, error)
}

// Normalizer validates inbound publish payloads against a kit's registered
// peripherals and produces fully formed measurements.
type Normalizer struct {
	experiments ExperimentLookup
	now         func() time.Time
}

// NewNormalizer creates a normalizer. The experiment lookup may be nil,
// in which case measurements are never tagged with an experiment.
func NewNormalizer(experiments ExperimentLookup) *Normalizer {
	return &Normalizer{experiments: experiments, now: time.Now}
}

// Normalize validates a publish payload against the kit snapshot and
// returns a complete measurement plus its message kind.
//
// Validation is all-or-nothing: on failure a typed error is returned and
// no measurement. A declared physical quantity/unit pair that matches none
// of the peripheral definition's quantity types is not an error — the
// measurement is accepted untyped, since declared types are advisory.
func (n *Normalizer) Normalize(ctx context.Context, snap *kit.Snapshot, p PublishPayload) (*Measurement, Kind, error) {
	kind, ok := ParseKind(p.MeasurementType)
	if !ok {
		return nil, "", fmt.Errorf("%w: measurement_type must be RAW or REDUCED", ErrMalformedPayload)
	}
	if p.Measurement.Peripheral == "" {
		return nil, "", fmt.Errorf("%w: missing peripheral", ErrMalformedPayload)
	}
	if p.Measurement.Value == nil {
		return nil, "", fmt.Errorf("%w: missing value", ErrMalformedPayload)
	}
	if snap == nil || snap.Kit == nil {
		return nil, "", ErrUnknownKit
	}

	per := snap.PeripheralByName(p.Measurement.Peripheral)
	if per == nil || !per.Active {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownPeripheral, p.Measurement.Peripheral)
	}

	m := &Measurement{
		ID:               kit.GenerateID(),
		KitID:            snap.Kit.ID,
		PeripheralID:     per.ID,
		PhysicalQuantity: p.Measurement.PhysicalQuantity,
		PhysicalUnit:     p.Measurement.PhysicalUnit,
		Value:            *p.Measurement.Value,
		MeasuredAt:       n.now().UTC(),
	}

	if qt := resolveQuantityType(per, p.Measurement.PhysicalQuantity, p.Measurement.PhysicalUnit); qt != nil {
		m.QuantityTypeID = qt.ID
	}

	if n.experiments != nil {
		exp, err := n.experiments.OpenExperiment(ctx, snap.Kit.ID)
		switch {
		case errors.Is(err, kit.ErrExperimentNotFound):
			// no open experiment, leave unset
		case err != nil:
			return nil, "", fmt.Errorf("looking up open experiment: %w", err)
		case exp != nil && exp.Open():
			m.ExperimentID = exp.ID
		}
	}

	return m, kind, nil
}

// resolveQuantityType matches a declared quantity/unit pair against the
// peripheral definition's declared quantity types. Returns nil when the
// pair is absent or unregistered.
func resolveQuantityType(per *kit.Peripheral, quantity, unit string) *kit.QuantityType {
	if quantity == "" || unit == "" || per.Definition == nil {
		return nil
	}
	for i := range per.Definition.QuantityTypes {
		qt := &per.Definition.QuantityTypes[i]
		if qt.PhysicalQuantity == quantity && qt.PhysicalUnit == unit {
			return qt
		}
	}
	return nil
}
