package kit

import "errors"

// Domain errors for the kit package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, kit.ErrKitNotFound) {
//	    // handle not found case
//	}
var (
	// ErrKitNotFound is returned when a kit id or serial does not exist.
	ErrKitNotFound = errors.New("kit: not found")

	// ErrKitExists is returned when creating a kit with a serial that already exists.
	ErrKitExists = errors.New("kit: already exists")

	// ErrInvalidSerial is returned when a kit serial fails format validation.
	ErrInvalidSerial = errors.New("kit: invalid serial")

	// ErrInvalidName is returned when a kit name is empty or too long.
	ErrInvalidName = errors.New("kit: invalid name")

	// ErrPeripheralNotFound is returned when a peripheral does not exist on the kit.
	ErrPeripheralNotFound = errors.New("kit: peripheral not found")

	// ErrPeripheralExists is returned when adding a peripheral whose name is
	// already taken on the same kit.
	ErrPeripheralExists = errors.New("kit: peripheral already exists")

	// ErrDefinitionNotFound is returned when a peripheral definition does not exist.
	ErrDefinitionNotFound = errors.New("kit: peripheral definition not found")

	// ErrQuantityTypeNotFound is returned when a quantity type does not exist.
	ErrQuantityTypeNotFound = errors.New("kit: quantity type not found")

	// ErrMembershipExists is returned when linking a user already linked to the kit.
	ErrMembershipExists = errors.New("kit: membership already exists")

	// ErrMembershipNotFound is returned when unlinking a user not linked to the kit.
	ErrMembershipNotFound = errors.New("kit: membership not found")

	// ErrExperimentNotFound is returned when an experiment does not exist.
	ErrExperimentNotFound = errors.New("kit: experiment not found")
)
