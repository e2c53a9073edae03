package kit

import (
	"fmt"
	"math"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxDescriptionLength = 5000
)

// Validate checks a kit for structural errors before persistence.
func Validate(k *Kit) error {
	if !IsValidSerial(k.Serial) {
		return fmt.Errorf("%w: %q", ErrInvalidSerial, k.Serial)
	}

	if k.Name == "" || len(k.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidName, maxNameLength)
	}

	if len(k.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidName, maxDescriptionLength)
	}

	if err := validateCoordinates(k.Latitude, k.Longitude); err != nil {
		return err
	}

	return nil
}

// validateCoordinates checks optional latitude/longitude bounds.
// Both must be set together or not at all.
func validateCoordinates(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return fmt.Errorf("%w: latitude and longitude must be set together", ErrInvalidName)
	}
	if lat == nil {
		return nil
	}
	if math.Abs(*lat) > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidName)
	}
	if math.Abs(*lon) > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidName)
	}
	return nil
}
