// Package mqtt provides the MQTT client for Vent Logic Core.
//
// This package wraps eclipse/paho.mqtt.golang with connection management,
// automatic reconnection, subscription restoration, and the Vent Logic
// topic hierarchy.
//
// # Topic Hierarchy
//
// All topics use the flat scheme ventlogic/{category}/{unit_id}[/{suffix}]:
//
//	ventlogic/state/{unit}/{capability}    retained capability values
//	ventlogic/availability/{unit}          retained online/offline state
//	ventlogic/command/{unit}/{capability}  inbound control commands
//	ventlogic/settings/{unit}              reconciled settings batches
//	ventlogic/discovery                    discovered unit announcements
//	ventlogic/system/status                daemon online/offline (LWT)
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package mqtt
