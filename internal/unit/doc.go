// Package unit is the communication engine for ventilation units: one
// state machine per registered unit covering the poll loop, the ordered
// write queue, mode arbitration, derived settings and availability
// tracking with automatic rediscovery.
//
// # Lifecycle
//
// A unit comes alive when its first sink registers and dies when its
// last sink unregisters. While alive it is polled on a fixed interval;
// three consecutive poll failures mark it unavailable and start a
// rediscovery loop that re-locates the unit by serial on the local
// network. A single successful poll restores availability.
//
// # Write Discipline
//
// Every mutating operation is appended to the unit's write queue, which
// admits exactly one in-flight protocol transaction at a time and
// preserves submission order. Writes short-circuit when the device
// already holds the desired value, record soft-accepted values for
// read-back confirmation on the next poll, and permanently suppress
// points the device denies (except a small allow-list that is retried
// on every call).
//
// # Mode
//
// The unit's many overlapping raw signals (operation mode, ventilation
// mode, comfort button, RF input, fireplace and rapid flags) are
// arbitrated into one closed Mode. The precedence was determined against
// real units and is preserved exactly; see Arbitrate.
package unit
