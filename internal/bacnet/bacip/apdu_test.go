package bacip

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/nerrad567/vent-logic-core/internal/bacnet"
)

func TestObjectIDRoundTrip(t *testing.T) {
	refs := []bacnet.ObjectRef{
		bacnet.NewRef(bacnet.ObjectAnalogValue, 12),
		bacnet.NewRef(bacnet.ObjectMultiState, 42),
		bacnet.NewRef(bacnet.ObjectBinaryValue, 50),
		bacnet.NewRef(bacnet.ObjectPositiveInt, 0x3FFFFF),
	}
	for _, ref := range refs {
		if got := decodeObjectID(encodeObjectID(ref)); got != ref {
			t.Errorf("round trip %v = %v", ref, got)
		}
	}
}

func TestEncodeWritePropertyFraming(t *testing.T) {
	ref := bacnet.NewRef(bacnet.ObjectAnalogValue, 12)
	frame := encodeWriteProperty(7, ref, 21.5, bacnet.PriorityStandard)

	if frame[0] != bvlcType || frame[1] != bvlcOriginalUnicast {
		t.Fatalf("bad BVLC header % X", frame[:2])
	}
	if declared := int(binary.BigEndian.Uint16(frame[2:4])); declared != len(frame) {
		t.Errorf("declared length %d, frame is %d bytes", declared, len(frame))
	}

	apdu, err := stripNPDU(frame)
	if err != nil {
		t.Fatalf("stripNPDU() error = %v", err)
	}
	if apdu[0] != pduConfirmedRequest {
		t.Errorf("PDU type = 0x%02X, want confirmed request", apdu[0])
	}
	if apdu[2] != 7 {
		t.Errorf("invoke id = %d, want 7", apdu[2])
	}
	if apdu[3] != serviceWriteProperty {
		t.Errorf("service = 0x%02X, want WriteProperty", apdu[3])
	}

	// Trailing priority context tag
	if apdu[len(apdu)-2] != 0x49 || apdu[len(apdu)-1] != byte(bacnet.PriorityStandard) {
		t.Errorf("priority tag = % X, want 49 10", apdu[len(apdu)-2:])
	}
}

func TestEncodeWritePropertyValueTags(t *testing.T) {
	tests := []struct {
		name    string
		ref     bacnet.ObjectRef
		value   float64
		wantTag byte
	}{
		{"analog real", bacnet.NewRef(bacnet.ObjectAnalogValue, 1), 19.0, 0x44},
		{"multi-state unsigned", bacnet.NewRef(bacnet.ObjectMultiState, 1), 3, 0x21},
		{"positive-int unsigned", bacnet.NewRef(bacnet.ObjectPositiveInt, 1), 30, 0x21},
		{"binary enumerated", bacnet.NewRef(bacnet.ObjectBinaryValue, 1), 1, 0x91},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeWriteProperty(1, tt.ref, tt.value, bacnet.PriorityNone)
			apdu, err := stripNPDU(frame)
			if err != nil {
				t.Fatalf("stripNPDU() error = %v", err)
			}

			// Value sits between opening tag 0x3E and closing tag 0x3F.
			open := -1
			for i, b := range apdu {
				if b == 0x3E {
					open = i
					break
				}
			}
			if open < 0 {
				t.Fatal("no opening tag in APDU")
			}
			if apdu[open+1] != tt.wantTag {
				t.Errorf("value tag = 0x%02X, want 0x%02X", apdu[open+1], tt.wantTag)
			}
			// No priority tag when PriorityNone
			if apdu[len(apdu)-1] != 0x3F {
				t.Errorf("APDU should end at closing tag, got 0x%02X", apdu[len(apdu)-1])
			}
		})
	}
}

func TestEncodeWritePropertyWideUnsigned(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantBytes []byte
	}{
		{"one octet", 30, []byte{0x21, 0x1E}},
		{"two octets", 360, []byte{0x22, 0x01, 0x68}},
		{"two octets max", 65535, []byte{0x22, 0xFF, 0xFF}},
		{"three octets", 0x012345, []byte{0x23, 0x01, 0x23, 0x45}},
	}

	ref := bacnet.NewRef(bacnet.ObjectPositiveInt, 53)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeWriteProperty(1, ref, tt.value, bacnet.PriorityVendorApp)
			apdu, err := stripNPDU(frame)
			if err != nil {
				t.Fatalf("stripNPDU() error = %v", err)
			}

			open := -1
			for i, b := range apdu {
				if b == 0x3E {
					open = i
					break
				}
			}
			if open < 0 {
				t.Fatal("no opening tag in APDU")
			}
			got := apdu[open+1 : open+1+len(tt.wantBytes)]
			for i := range tt.wantBytes {
				if got[i] != tt.wantBytes[i] {
					t.Fatalf("encoded value = % X, want % X", got, tt.wantBytes)
				}
			}
			if apdu[open+1+len(tt.wantBytes)] != 0x3F {
				t.Errorf("value not followed by closing tag: % X", apdu[open+1:])
			}

			// The read-side decoder must see the same value back.
			decoded, _, err := parseAppValue(apdu[open+1:])
			if err != nil {
				t.Fatalf("parseAppValue() error = %v", err)
			}
			if decoded != tt.value {
				t.Errorf("decoded %v, want %v", decoded, tt.value)
			}
		})
	}
}

func TestStripNPDUWithSourceAddress(t *testing.T) {
	// Frame routed through a device that stamps its source address:
	// control has the source bit, SNET=0x0001, SLEN=1, SADR=0x05.
	apdu := []byte{pduSimpleAck, 0x09, serviceWriteProperty}
	body := []byte{npduVersion, npduHasSource, 0x00, 0x01, 0x01, 0x05}
	body = append(body, apdu...)
	frame := []byte{bvlcType, bvlcOriginalUnicast, 0x00, byte(4 + len(body))}
	frame = append(frame, body...)

	got, err := stripNPDU(frame)
	if err != nil {
		t.Fatalf("stripNPDU() error = %v", err)
	}
	if len(got) != len(apdu) || got[0] != pduSimpleAck || got[1] != 0x09 {
		t.Errorf("stripNPDU() = % X, want % X", got, apdu)
	}
}

func TestStripNPDURejectsGarbage(t *testing.T) {
	tests := [][]byte{
		nil,
		{0x81},
		{0x42, 0x0A, 0x00, 0x06, 0x01, 0x00},       // wrong BVLC type
		{0x81, 0x0A, 0x00, 0x20, 0x01, 0x00},       // declared length lies
		{0x81, 0x0A, 0x00, 0x06, 0x02, 0x00},       // unknown NPDU version
		{0x81, 0x0A, 0x00, 0x06, 0x01, 0x00},       // no APDU at all
	}
	for _, frame := range tests {
		if _, err := stripNPDU(frame); !errors.Is(err, errMalformedFrame) {
			t.Errorf("stripNPDU(% X) error = %v, want malformed", frame, err)
		}
	}
}

// buildReadAck assembles a ReadPropertyMultiple ack payload by hand.
func buildReadAck(entries []func() []byte) []byte {
	var out []byte
	for _, e := range entries {
		out = append(out, e()...)
	}
	return out
}

func ackValue(ref bacnet.ObjectRef, valueBytes []byte) func() []byte {
	return func() []byte {
		out := []byte{0x0C}
		out = binary.BigEndian.AppendUint32(out, encodeObjectID(ref))
		out = append(out, 0x1E, 0x29, propPresentValue, 0x4E)
		out = append(out, valueBytes...)
		return append(out, 0x4F, 0x1F)
	}
}

func ackError(ref bacnet.ObjectRef) func() []byte {
	return func() []byte {
		out := []byte{0x0C}
		out = binary.BigEndian.AppendUint32(out, encodeObjectID(ref))
		// property access error: class=property(2), code=write-access-denied(40)
		return append(out, 0x1E, 0x29, propPresentValue, 0x5E, 0x91, 0x02, 0x91, 0x28, 0x5F, 0x1F)
	}
}

func realBytes(v float32) []byte {
	out := []byte{0x44}
	return binary.BigEndian.AppendUint32(out, math.Float32bits(v))
}

func TestParseReadAck(t *testing.T) {
	msv := bacnet.NewRef(bacnet.ObjectMultiState, 42)
	av := bacnet.NewRef(bacnet.ObjectAnalogValue, 12)
	bv := bacnet.NewRef(bacnet.ObjectBinaryValue, 50)
	locked := bacnet.NewRef(bacnet.ObjectAnalogValue, 99)

	payload := buildReadAck([]func() []byte{
		ackValue(msv, []byte{0x21, 0x03}),
		ackValue(av, realBytes(19.5)),
		ackValue(bv, []byte{0x91, 0x01}),
		ackError(locked),
	})

	results, err := parseReadAck(payload)
	if err != nil {
		t.Fatalf("parseReadAck() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	want := map[bacnet.ObjectRef]float64{msv: 3, av: 19.5, bv: 1}
	for _, r := range results {
		if r.ref == locked {
			if r.ok {
				t.Error("access-errored point should report ok=false")
			}
			continue
		}
		if !r.ok {
			t.Errorf("%v should report ok=true", r.ref)
			continue
		}
		if r.value != want[r.ref] {
			t.Errorf("%v = %v, want %v", r.ref, r.value, want[r.ref])
		}
	}
}

func TestParseReadAckRejectsUnknownTag(t *testing.T) {
	if _, err := parseReadAck([]byte{0xAB, 0xCD}); !errors.Is(err, errMalformedFrame) {
		t.Errorf("error = %v, want malformed", err)
	}
}

func TestParseAppValue(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"unsigned one octet", []byte{0x21, 0x04}, 4},
		{"unsigned two octets", []byte{0x22, 0x11, 0x10}, 4368},
		{"enumerated", []byte{0x91, 0x01}, 1},
		{"boolean true", []byte{0x11}, 1},
		{"boolean false", []byte{0x10}, 0},
		{"real", realBytes(21.5), 21.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := parseAppValue(tt.data)
			if err != nil {
				t.Fatalf("parseAppValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
			if n != len(tt.data) {
				t.Errorf("consumed %d bytes, want %d", n, len(tt.data))
			}
		})
	}
}

func TestParseErrorPDU(t *testing.T) {
	class, code, err := parseErrorPDU([]byte{0x91, 0x02, 0x91, 0x28})
	if err != nil {
		t.Fatalf("parseErrorPDU() error = %v", err)
	}
	if class != 2 || code != 40 {
		t.Errorf("class=%d code=%d, want 2/40", class, code)
	}

	if _, _, err := parseErrorPDU([]byte{0x91, 0x02}); err == nil {
		t.Error("single enumerated should be rejected")
	}
}
