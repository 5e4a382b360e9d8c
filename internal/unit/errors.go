package unit

import "errors"

// Domain errors for the unit engine.
var (
	// ErrUnitNotFound is returned for operations against an unknown unit id.
	ErrUnitNotFound = errors.New("unit: not registered")

	// ErrUnitRemoved is returned when a queued write outlives its unit.
	ErrUnitRemoved = errors.New("unit: removed while operation pending")

	// ErrWriteBlocked is returned when a write targets a point the device
	// has permanently denied.
	ErrWriteBlocked = errors.New("unit: writes to this point are blocked after a device denial")

	// ErrValidation marks caller input rejected before any network I/O.
	ErrValidation = errors.New("unit: validation failed")

	// ErrRegistryClosed is returned for operations after Close.
	ErrRegistryClosed = errors.New("unit: registry closed")
)
