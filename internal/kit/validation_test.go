package kit

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	lat, lon := 52.37, 4.89
	badLat, badLon := 91.0, 181.0

	tests := []struct {
		name    string
		kit     Kit
		wantErr error
	}{
		{
			name: "valid minimal",
			kit:  Kit{Serial: "kit-001", Name: "Balcony"},
		},
		{
			name: "valid with coordinates",
			kit:  Kit{Serial: "kit-001", Name: "Balcony", Latitude: &lat, Longitude: &lon},
		},
		{
			name:    "invalid serial",
			kit:     Kit{Serial: "kit 001", Name: "Balcony"},
			wantErr: ErrInvalidSerial,
		},
		{
			name:    "empty name",
			kit:     Kit{Serial: "kit-001"},
			wantErr: ErrInvalidName,
		},
		{
			name:    "name too long",
			kit:     Kit{Serial: "kit-001", Name: strings.Repeat("n", 101)},
			wantErr: ErrInvalidName,
		},
		{
			name:    "description too long",
			kit:     Kit{Serial: "kit-001", Name: "Balcony", Description: strings.Repeat("d", 5001)},
			wantErr: ErrInvalidName,
		},
		{
			name:    "latitude without longitude",
			kit:     Kit{Serial: "kit-001", Name: "Balcony", Latitude: &lat},
			wantErr: ErrInvalidName,
		},
		{
			name:    "latitude out of range",
			kit:     Kit{Serial: "kit-001", Name: "Balcony", Latitude: &badLat, Longitude: &lon},
			wantErr: ErrInvalidName,
		},
		{
			name:    "longitude out of range",
			kit:     Kit{Serial: "kit-001", Name: "Balcony", Latitude: &lat, Longitude: &badLon},
			wantErr: ErrInvalidName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.kit)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
