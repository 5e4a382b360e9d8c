// Package bacnet defines the point-protocol boundary for Vent Logic Core.
//
// A unit exposes its state as points, each addressed by an ObjectRef
// (type, instance) value pair. The unit engine reads and writes points
// exclusively through the Transport interface; the concrete BACnet/IP
// client lives in the bacip subpackage and is injected at the composition
// root via a Factory.
//
// # Transport Sharing
//
// One Transport instance is shared per local UDP port. The Manager
// memoizes creation so two units configured for the same port never bind
// the socket twice:
//
//	mgr := bacnet.NewManager(bacip.Factory(logger))
//	t, err := mgr.Transport(47808)
//
// # Error Classification
//
// Device rejections carry a "Code:<n>" convention in their error text.
// ErrorCode, IsAccessDenied, IsSoftAccept and IsTimeout classify them into
// the engine's failure taxonomy (permanent-denied, soft-pending, timeout).
package bacnet
