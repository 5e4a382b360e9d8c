package bacip

import "errors"

// Client errors.
var (
	// errMalformedFrame marks frames that fail BVLC/NPDU/APDU parsing.
	errMalformedFrame = errors.New("bacip: malformed frame")

	// ErrClientClosed is returned by operations after Close.
	ErrClientClosed = errors.New("bacip: client closed")

	// ErrTooManyInFlight is returned when all 256 invoke ids are in use.
	ErrTooManyInFlight = errors.New("bacip: too many in-flight transactions")
)
