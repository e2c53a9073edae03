package measurement

import "errors"

// Sentinel errors for measurement validation and persistence. Validation
// errors are reported to the publishing device in-band; they never close
// the connection.
var (
	ErrMalformedPayload  = errors.New("measurement: malformed payload")
	ErrUnknownPeripheral = errors.New("measurement: unknown or inactive peripheral")
	ErrUnknownKit        = errors.New("measurement: unknown kit")
	ErrNotFound          = errors.New("measurement: not found")
)
