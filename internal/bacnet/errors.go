package bacnet

import (
	"context"
	"errors"
	"regexp"
	"strconv"
)

// Domain errors for the point-protocol boundary.
var (
	// ErrTimeout is returned when a read or write transaction times out.
	ErrTimeout = errors.New("bacnet: transaction timed out")

	// ErrManagerClosed is returned when requesting a transport after Close.
	ErrManagerClosed = errors.New("bacnet: transport manager closed")

	// ErrNoResponse is returned when the device answered nothing usable.
	ErrNoResponse = errors.New("bacnet: no response from device")
)

// Protocol error codes carried in the "Code:<n>" error-text convention.
//
// The sets below were determined against real units; the device's error
// surface is only partially documented.
const (
	// CodeWriteAccessDenied marks points the unit refuses to ever accept
	// writes on. Further writes to such a point are pointless.
	CodeWriteAccessDenied = 40

	// CodeSecurityDenied is an alternative permanent rejection observed
	// on locked configuration points.
	CodeSecurityDenied = 25

	// CodeValuePending means the write was accepted server-side but the
	// new value only becomes observable on a later read.
	CodeValuePending = 32
)

// errCodePattern matches the protocol's "Code:<n>" error-text convention.
var errCodePattern = regexp.MustCompile(`Code:(\d+)`)

// ErrorCode extracts the protocol error code from an error, if present.
//
// Returns:
//   - int: The numeric code
//   - bool: Whether a code was found
func ErrorCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	m := errCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

// IsAccessDenied reports whether the error is a permanent write rejection.
// Writes to the point should be suppressed unless the point is allow-listed.
func IsAccessDenied(err error) bool {
	code, ok := ErrorCode(err)
	if !ok {
		return false
	}
	return code == CodeWriteAccessDenied || code == CodeSecurityDenied
}

// IsSoftAccept reports whether the error means "accepted, confirm on next
// read". The write should be recorded provisionally and reconciled against
// the next poll.
func IsSoftAccept(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeValuePending
}

// IsTimeout reports whether the error is a transaction timeout, either the
// transport's own or a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
