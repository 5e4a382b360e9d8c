// Package bacip is a compact BACnet/IP client covering exactly the two
// services the unit engine needs: ReadPropertyMultiple for polling and
// WriteProperty for commands, both against present-value.
//
// One Client owns one UDP socket and multiplexes transactions over it by
// invoke id. A background receive loop correlates replies to waiting
// callers; each transaction is bounded by its caller's context plus the
// client's own request timeout.
//
// The Factory function adapts a Client to the bacnet.Factory contract so
// the composition root can hand it to bacnet.NewManager.
package bacip
