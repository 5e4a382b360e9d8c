// Package discovery finds ventilation units on the local network using
// the vendor's proprietary UDP multicast protocol.
//
// A sweep sends a burst of fixed-layout 104-byte requests to the request
// group on every eligible interface and collects replies from the reply
// group until a deadline. Replies are semi-structured text; parsing is
// tolerant and keys on the serial number, which doubles as the unit's
// stable identity across IP changes.
//
// Discovery is used twice: at startup to seed an empty registry, and
// periodically to re-locate units that stopped answering (DHCP moved
// them). Both paths go through Discover.
package discovery
