package bacip

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

// BVLC (BACnet Virtual Link Control) constants for Annex J IP framing.
const (
	bvlcType = 0x81

	// bvlcOriginalUnicast wraps an NPDU sent directly to one device.
	bvlcOriginalUnicast = 0x0A

	// bvlcHeaderSize is type(1) + function(1) + length(2).
	bvlcHeaderSize = 4
)

// NPDU constants.
const (
	npduVersion = 0x01

	// npduExpectingReply is set on confirmed requests.
	npduExpectingReply = 0x04

	// Control bits indicating embedded routing addresses that must be
	// skipped when parsing received frames.
	npduHasDestination = 0x20
	npduHasSource      = 0x08
)

// APDU PDU types (high nibble of the first APDU byte).
const (
	pduConfirmedRequest = 0x00
	pduSimpleAck        = 0x20
	pduComplexAck       = 0x30
	pduError            = 0x50
	pduReject           = 0x60
	pduAbort            = 0x70
)

// Confirmed service choices used by the client.
const (
	serviceReadPropertyMultiple = 0x0E
	serviceWriteProperty        = 0x0F
)

// maxAPDUAccept encodes "up to 1476 octets" in the max-segments/max-APDU byte.
const maxAPDUAccept = 0x05

// propPresentValue is the property identifier read and written everywhere.
const propPresentValue = 0x55

// encodeObjectID packs an ObjectRef into the 4-byte wire object identifier.
func encodeObjectID(ref bacnet.ObjectRef) uint32 {
	return uint32(ref.Type)<<22 | (ref.Instance & 0x3FFFFF)
}

// decodeObjectID unpacks a 4-byte wire object identifier.
func decodeObjectID(v uint32) bacnet.ObjectRef {
	return bacnet.ObjectRef{
		Type:     bacnet.ObjectType(v >> 22),
		Instance: v & 0x3FFFFF,
	}
}

// wrapNPDU prepends BVLC + NPDU framing to an APDU.
func wrapNPDU(apdu []byte) []byte {
	total := bvlcHeaderSize + 2 + len(apdu)
	buf := make([]byte, 0, total)
	buf = append(buf, bvlcType, bvlcOriginalUnicast)
	buf = binary.BigEndian.AppendUint16(buf, uint16(total)) //nolint:gosec // bounded by small APDU sizes
	buf = append(buf, npduVersion, npduExpectingReply)
	return append(buf, apdu...)
}

// encodeReadPropertyMultiple builds a confirmed ReadPropertyMultiple request
// asking for the present value of every ref, wrapped in BVLC/NPDU framing.
func encodeReadPropertyMultiple(invokeID byte, refs []bacnet.ObjectRef) []byte {
	apdu := []byte{pduConfirmedRequest, maxAPDUAccept, invokeID, serviceReadPropertyMultiple}
	for _, ref := range refs {
		// objectIdentifier [0]
		apdu = append(apdu, 0x0C)
		apdu = binary.BigEndian.AppendUint32(apdu, encodeObjectID(ref))
		// listOfPropertyReferences [1]: propertyIdentifier [0] = present-value
		apdu = append(apdu, 0x1E, 0x09, propPresentValue, 0x1F)
	}
	return wrapNPDU(apdu)
}

// encodeWriteProperty builds a confirmed WriteProperty request for the
// present value of one ref, wrapped in BVLC/NPDU framing.
//
// The application tag of the value follows the object type: analog points
// carry reals, multi-state and positive-integer points carry unsigneds,
// binary points carry enumerateds.
func encodeWriteProperty(invokeID byte, ref bacnet.ObjectRef, value float64, priority bacnet.Priority) []byte {
	apdu := []byte{pduConfirmedRequest, maxAPDUAccept, invokeID, serviceWriteProperty}

	// objectIdentifier [0]
	apdu = append(apdu, 0x0C)
	apdu = binary.BigEndian.AppendUint32(apdu, encodeObjectID(ref))

	// propertyIdentifier [1] = present-value
	apdu = append(apdu, 0x19, propPresentValue)

	// propertyValue [3] opening / application-tagged value / closing
	apdu = append(apdu, 0x3E)
	apdu = appendAppValue(apdu, ref, value)
	apdu = append(apdu, 0x3F)

	// priority [4] (omitted when zero; device applies its default)
	if priority != bacnet.PriorityNone {
		apdu = append(apdu, 0x49, byte(priority))
	}

	return wrapNPDU(apdu)
}

// appendAppValue appends the application-tagged encoding of value for the
// ref's object type.
func appendAppValue(buf []byte, ref bacnet.ObjectRef, value float64) []byte {
	switch ref.Type {
	case bacnet.ObjectBinaryValue:
		// Enumerated 0/1
		v := byte(0)
		if value != 0 {
			v = 1
		}
		return append(buf, 0x91, v)
	case bacnet.ObjectMultiState, bacnet.ObjectPositiveInt:
		// Unsigned, minimal-length octets with the length in the tag nibble
		v := uint32(value)
		switch {
		case v <= 0xFF:
			return append(buf, 0x21, byte(v))
		case v <= 0xFFFF:
			buf = append(buf, 0x22)
			return binary.BigEndian.AppendUint16(buf, uint16(v))
		case v <= 0xFFFFFF:
			return append(buf, 0x23, byte(v>>16), byte(v>>8), byte(v))
		default:
			buf = append(buf, 0x24)
			return binary.BigEndian.AppendUint32(buf, v)
		}
	default:
		// Real
		buf = append(buf, 0x44)
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(value)))
	}
}

// stripNPDU removes the BVLC header and NPDU (including any routing
// addresses) from a received frame, returning the APDU.
func stripNPDU(data []byte) ([]byte, error) {
	if len(data) < bvlcHeaderSize+2 {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", errMalformedFrame, len(data))
	}
	if data[0] != bvlcType {
		return nil, fmt.Errorf("%w: not a BVLC frame (0x%02X)", errMalformedFrame, data[0])
	}
	declared := int(binary.BigEndian.Uint16(data[2:4]))
	if declared != len(data) {
		return nil, fmt.Errorf("%w: length mismatch (declared %d, got %d)", errMalformedFrame, declared, len(data))
	}

	off := bvlcHeaderSize
	if data[off] != npduVersion {
		return nil, fmt.Errorf("%w: unsupported NPDU version 0x%02X", errMalformedFrame, data[off])
	}
	control := data[off+1]
	off += 2

	// Skip routed destination address: DNET(2) + DLEN(1) + DADR(dlen)
	if control&npduHasDestination != 0 {
		if len(data) < off+3 {
			return nil, fmt.Errorf("%w: truncated destination address", errMalformedFrame)
		}
		dlen := int(data[off+2])
		off += 3 + dlen
	}
	// Skip routed source address: SNET(2) + SLEN(1) + SADR(slen)
	if control&npduHasSource != 0 {
		if len(data) < off+3 {
			return nil, fmt.Errorf("%w: truncated source address", errMalformedFrame)
		}
		slen := int(data[off+2])
		off += 3 + slen
	}
	// Hop count trails the destination address
	if control&npduHasDestination != 0 {
		off++
	}

	if off >= len(data) {
		return nil, fmt.Errorf("%w: empty APDU", errMalformedFrame)
	}
	return data[off:], nil
}

// readResult is one point's outcome inside a ReadPropertyMultiple ack.
type readResult struct {
	ref   bacnet.ObjectRef
	value float64
	ok    bool
}

// parseReadAck extracts per-point present values from a ReadPropertyMultiple
// ComplexACK service payload (everything after the service-choice byte).
//
// Points that answered with a propertyAccessError are returned with ok=false
// rather than failing the whole poll.
func parseReadAck(payload []byte) ([]readResult, error) {
	var (
		results []readResult
		current bacnet.ObjectRef
		i       int
	)

	for i < len(payload) {
		switch tag := payload[i]; tag {
		case 0x0C: // objectIdentifier [0]
			if i+5 > len(payload) {
				return nil, fmt.Errorf("%w: truncated object identifier", errMalformedFrame)
			}
			current = decodeObjectID(binary.BigEndian.Uint32(payload[i+1 : i+5]))
			i += 5
		case 0x1E, 0x1F: // listOfResults open/close [1]
			i++
		case 0x29: // propertyIdentifier [2], single octet
			i += 2
		case 0x4E: // propertyValue [4] opening
			value, n, err := parseAppValue(payload[i+1:])
			if err != nil {
				return nil, err
			}
			i += 1 + n
			if i >= len(payload) || payload[i] != 0x4F {
				return nil, fmt.Errorf("%w: missing property value closing tag", errMalformedFrame)
			}
			i++
			results = append(results, readResult{ref: current, value: value, ok: true})
		case 0x5E: // propertyAccessError [5] opening: class + code enumerateds
			j := i + 1
			for j < len(payload) && payload[j] != 0x5F {
				j++
			}
			if j >= len(payload) {
				return nil, fmt.Errorf("%w: unterminated property access error", errMalformedFrame)
			}
			i = j + 1
			results = append(results, readResult{ref: current, ok: false})
		default:
			return nil, fmt.Errorf("%w: unexpected tag 0x%02X at offset %d", errMalformedFrame, tag, i)
		}
	}

	return results, nil
}

// parseAppValue decodes one application-tagged value, returning the value
// and the number of bytes consumed.
func parseAppValue(data []byte) (float64, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty value", errMalformedFrame)
	}

	tag := data[0]
	tagNumber := tag >> 4
	length := int(tag & 0x07)

	switch tagNumber {
	case 0x1: // Boolean: value lives in the length field
		return float64(tag & 0x01), 1, nil
	case 0x2, 0x3: // Unsigned / Signed integer
		if len(data) < 1+length || length == 0 || length > 4 {
			return 0, 0, fmt.Errorf("%w: bad integer length %d", errMalformedFrame, length)
		}
		var v uint64
		for _, b := range data[1 : 1+length] {
			v = v<<8 | uint64(b)
		}
		return float64(v), 1 + length, nil
	case 0x4: // Real
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("%w: truncated real", errMalformedFrame)
		}
		bits := binary.BigEndian.Uint32(data[1:5])
		return float64(math.Float32frombits(bits)), 5, nil
	case 0x9: // Enumerated
		if len(data) < 1+length || length == 0 || length > 4 {
			return 0, 0, fmt.Errorf("%w: bad enumerated length %d", errMalformedFrame, length)
		}
		var v uint64
		for _, b := range data[1 : 1+length] {
			v = v<<8 | uint64(b)
		}
		return float64(v), 1 + length, nil
	default:
		return 0, 0, fmt.Errorf("%w: unsupported application tag %d", errMalformedFrame, tagNumber)
	}
}

// parseErrorPDU extracts the error class and code from an Error PDU service
// payload (the two enumerateds after the service-choice byte).
func parseErrorPDU(payload []byte) (class, code int, err error) {
	// Expected shape: 0x91 <class> 0x91 <code>, possibly wrapped in a
	// constructed error [0] on some stacks.
	var values []int
	for i := 0; i+1 < len(payload); i++ {
		if payload[i] == 0x91 {
			values = append(values, int(payload[i+1]))
			i++
		}
	}
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("%w: malformed error PDU", errMalformedFrame)
	}
	return values[0], values[1], nil
}
