package bacnet

import "fmt"

// ObjectType identifies the kind of point a unit exposes.
//
// Values follow the standard object-type numbering so refs can be encoded
// directly into object identifiers on the wire.
type ObjectType uint16

// Object types used by the supported unit family.
const (
	ObjectAnalogInput  ObjectType = 0
	ObjectAnalogValue  ObjectType = 2
	ObjectBinaryValue  ObjectType = 5
	ObjectMultiState   ObjectType = 19
	ObjectPositiveInt  ObjectType = 48
	objectTypeUnknown  ObjectType = 0xFFFF
	maxObjectInstance             = 0x3FFFFF // 22-bit instance space
)

// String returns the conventional short name for the object type.
func (t ObjectType) String() string {
	switch t {
	case ObjectAnalogInput:
		return "AI"
	case ObjectAnalogValue:
		return "AV"
	case ObjectBinaryValue:
		return "BV"
	case ObjectMultiState:
		return "MSV"
	case ObjectPositiveInt:
		return "PIV"
	default:
		return fmt.Sprintf("OT(%d)", uint16(t))
	}
}

// ObjectRef addresses one point on a unit as a (type, instance) pair.
//
// ObjectRef is a value type and the sole addressing unit for all reads and
// writes. Using a struct rather than a formatted string keeps map keys
// unambiguous and makes switches over known points exhaustive.
type ObjectRef struct {
	Type     ObjectType
	Instance uint32
}

// NewRef constructs an ObjectRef.
func NewRef(t ObjectType, instance uint32) ObjectRef {
	return ObjectRef{Type: t, Instance: instance}
}

// Valid reports whether the ref addresses a representable object.
func (r ObjectRef) Valid() bool {
	return r.Type != objectTypeUnknown && r.Instance <= maxObjectInstance
}

// String formats the ref for logs and error messages only.
// It must never be used as a map key; use the ObjectRef value directly.
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.Instance)
}

// Priority is the command priority attached to a write.
//
// Two values are used: the standard priority for ordinary writes and an
// elevated vendor-app priority for the writes the vendor's own mobile app
// issues (filter reset/interval, fan-profile legs). The split is
// empirically required for interoperability; do not unify them.
type Priority uint8

// Write priorities observed against real units.
const (
	// PriorityNone lets the device apply its default relinquish behaviour.
	PriorityNone Priority = 0

	// PriorityStandard is used for ordinary setpoint and mode writes.
	PriorityStandard Priority = 16

	// PriorityVendorApp matches the vendor mobile app's elevated priority.
	PriorityVendorApp Priority = 13
)
