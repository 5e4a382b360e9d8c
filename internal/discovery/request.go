package discovery

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Wire constants for the vendor discovery protocol, captured from the
// mobile app's traffic. Units only answer requests that match this frame
// byte for byte, so the builder fails loudly on any size drift.
const (
	// requestGroup is the multicast group discovery requests are sent to.
	requestGroup = "239.192.80.20"

	// requestPort is the UDP port the units listen on for discovery.
	requestPort = 26801

	// replyGroup is the multicast group units answer on.
	replyGroup = "239.192.80.21"

	// replyPort is the UDP port replies arrive on.
	replyPort = 26802

	// requestSize is the exact size of a valid discovery request.
	requestSize = 104

	// clientPrefix identifies the requester in the client-identity field.
	// Units ignore requests whose identity does not start with this.
	clientPrefix = "ABTMobile:"

	// queryAll asks every unit on the segment to answer.
	queryAll = "?Devices=All"
)

// Field tags inside the request body.
const (
	fieldClientIdentity = 2
	fieldQuery          = 3
)

// fieldMarker opens every tagged field.
const fieldMarker = 0x01

// buildDiscoverRequest assembles one discovery request frame.
//
// Layout, as captured (every byte fixed except the token):
//
//	header(4) | frame length u32 LE | "Discover"(8) | 4 zero bytes |
//	marker(4) | marker(4) |
//	field tag 2: client identity "ABTMobile:<uuid-v4>" (46 bytes) |
//	field tag 3: query "?Devices=All" (12 bytes) |
//	2 trailing zero bytes
//
// Each field is marker(1), two zeros, tag(1), three zeros, payload
// length(1), then the ASCII payload. The uuid token makes every burst
// unique so stale replies from a previous run can be told apart.
//
// Returns:
//   - []byte: The 104-byte frame
//   - string: The identity token embedded in the frame
//   - error: If the assembled frame is not exactly 104 bytes
func buildDiscoverRequest() ([]byte, string, error) {
	token := clientPrefix + uuid.NewString()

	buf := make([]byte, 0, requestSize)
	buf = append(buf, 0x00, 0x01, 0x00, 0x02)
	buf = binary.LittleEndian.AppendUint32(buf, requestSize)
	buf = append(buf, "Discover"...)
	buf = append(buf, 0x00, 0x00, 0x00, 0x00)
	buf = append(buf, 0x10, 0x00, 0x00, 0x00)
	buf = append(buf, 0x02, 0x00, 0x00, 0x00)
	buf = appendField(buf, fieldClientIdentity, token)
	buf = appendField(buf, fieldQuery, queryAll)
	buf = append(buf, 0x00, 0x00)

	if len(buf) != requestSize {
		return nil, "", fmt.Errorf("assembled discovery request is %d bytes, must be exactly %d", len(buf), requestSize)
	}
	return buf, token, nil
}

// appendField appends one tagged field: marker, two zeros, tag, three
// zeros, single-byte payload length, payload.
func appendField(buf []byte, tag byte, payload string) []byte {
	buf = append(buf, fieldMarker, 0x00, 0x00, tag, 0x00, 0x00, 0x00, byte(len(payload)))
	return append(buf, payload...)
}
