package kit

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidSerial(t *testing.T) {
	tests := []struct {
		name   string
		serial string
		want   bool
	}{
		{"simple", "kit-001", true},
		{"alphanumeric", "Greenhouse42", true},
		{"dots and underscores", "lab.bench_3", true},
		{"single character", "k", true},
		{"max length", strings.Repeat("a", 64), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"space", "kit 001", false},
		{"slash", "kit/001", false},
		{"mqtt wildcard", "kit#", false},
		{"plus wildcard", "kit+1", false},
		{"unicode", "kït-001", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidSerial(tt.serial); got != tt.want {
				t.Errorf("IsValidSerial(%q) = %v, want %v", tt.serial, got, tt.want)
			}
		})
	}
}

func TestKitDeepCopy(t *testing.T) {
	lat, lon := 52.37, 4.89
	original := &Kit{
		ID:        "kit-id",
		Serial:    "kit-001",
		Name:      "Balcony",
		Latitude:  &lat,
		Longitude: &lon,
	}

	cpy := original.DeepCopy()
	*cpy.Latitude = 0
	cpy.Name = "Renamed"

	if *original.Latitude != 52.37 {
		t.Errorf("original latitude = %v after modifying copy, want 52.37", *original.Latitude)
	}
	if original.Name != "Balcony" {
		t.Errorf("original name = %q after modifying copy, want %q", original.Name, "Balcony")
	}

	var nilKit *Kit
	if nilKit.DeepCopy() != nil {
		t.Error("DeepCopy() of nil kit should be nil")
	}
}

func TestPeripheralDeepCopy(t *testing.T) {
	removed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	original := &Peripheral{
		ID:        "p-1",
		Name:      "soil-probe",
		RemovedAt: &removed,
		Definition: &PeripheralDefinition{
			ID:   "def-1",
			Name: "Soil Probe",
			QuantityTypes: []QuantityType{
				{ID: "qt-1", PhysicalQuantity: "Temperature", PhysicalUnit: "Celsius"},
			},
		},
	}

	cpy := original.DeepCopy()
	cpy.Definition.QuantityTypes[0].PhysicalUnit = "Kelvin"
	*cpy.RemovedAt = removed.Add(time.Hour)

	if original.Definition.QuantityTypes[0].PhysicalUnit != "Celsius" {
		t.Error("modifying copied quantity types leaked into the original")
	}
	if !original.RemovedAt.Equal(removed) {
		t.Error("modifying copied removal time leaked into the original")
	}
}

func TestExperimentOpen(t *testing.T) {
	ended := time.Now().UTC()
	open := &Experiment{ID: "e-1", StartedAt: ended.Add(-time.Hour)}
	closed := &Experiment{ID: "e-2", StartedAt: ended.Add(-time.Hour), EndedAt: &ended}

	if !open.Open() {
		t.Error("experiment without ended_at should be open")
	}
	if closed.Open() {
		t.Error("experiment with ended_at should not be open")
	}
}
