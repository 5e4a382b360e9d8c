package discovery

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// defaultDevicePort is assumed when a reply names an IP without a port.
const defaultDevicePort = 47808

// eligibleFamilyPrefix is the serial prefix of the unit family this
// engine speaks to. Other families answer discovery too but use a
// different point map, so they are skipped.
const eligibleFamilyPrefix = "80"

// DiscoveredUnit is one unit parsed out of a discovery reply.
type DiscoveredUnit struct {
	// Name is the human-readable unit name, may be empty.
	Name string

	// Serial is the serial as printed on the unit, e.g. "800131-000001".
	Serial string

	// SerialNormalized is the serial with separators stripped; used as
	// the deduplication and registry key.
	SerialNormalized string

	// IP and Port are the unit's point-protocol endpoint.
	IP   string
	Port int

	// MAC is the unit's hardware address if the reply carried one.
	MAC string

	// Firmware is the firmware version if the reply carried one.
	Firmware string
}

var (
	serialPattern   = regexp.MustCompile(`\b(\d{6}-\d{6})\b`)
	endpointPattern = regexp.MustCompile(`\b((?:\d{1,3}\.){3}\d{1,3}):(\d{1,5})\b`)
	bareIPPattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	macPattern      = regexp.MustCompile(`\b([0-9A-Fa-f]{2}(?::[0-9A-Fa-f]{2}){5})\b`)
	firmwarePattern = regexp.MustCompile(`(?i)\b(?:fw|firmware|ver(?:sion)?)[:=\s]*v?(\d+(?:\.\d+)+)`)
	namePattern     = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// ParseReply extracts a unit from one raw discovery reply.
//
// Replies are a loose mix of binary framing and ASCII key/value text, so
// parsing scrubs everything non-printable to whitespace and works on the
// surviving tokens. Returns nil when the reply carries no serial or the
// serial belongs to an unsupported unit family.
//
// Parameters:
//   - data: Raw reply bytes
//   - sender: Source address of the reply, used as the endpoint fallback
func ParseReply(data []byte, sender net.IP) *DiscoveredUnit {
	text := sanitize(data)

	serial := serialPattern.FindString(text)
	if serial == "" || !strings.HasPrefix(serial, eligibleFamilyPrefix) {
		return nil
	}

	unit := &DiscoveredUnit{
		Serial:           serial,
		SerialNormalized: strings.ReplaceAll(serial, "-", ""),
		Port:             defaultDevicePort,
	}

	// Endpoint: explicit ip:port wins, then a bare IP, then the sender.
	if m := endpointPattern.FindStringSubmatch(text); m != nil {
		unit.IP = m[1]
		if port, err := strconv.Atoi(m[2]); err == nil && port > 0 && port < 65536 {
			unit.Port = port
		}
	} else if ip := bareIPPattern.FindString(text); ip != "" {
		unit.IP = ip
	} else if sender != nil {
		unit.IP = sender.String()
	} else {
		return nil
	}

	if m := macPattern.FindStringSubmatch(text); m != nil {
		unit.MAC = strings.ToUpper(m[1])
	}
	if m := firmwarePattern.FindStringSubmatch(text); m != nil {
		unit.Firmware = m[1]
	}
	unit.Name = pickName(text, serial)

	return unit
}

// sanitize maps every byte outside printable ASCII to a space so the
// regular expressions see clean token boundaries.
func sanitize(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b >= 0x20 && b < 0x7F {
			out[i] = b
		} else {
			out[i] = ' '
		}
	}
	return string(out)
}

// nameLabels are field labels and status words seen in replies that
// never qualify as a unit name.
var nameLabels = map[string]struct{}{
	"device": {}, "devices": {}, "unit": {}, "units": {},
	"serial": {}, "serialnumber": {}, "bacnet": {}, "firmware": {},
	"version": {}, "name": {}, "status": {}, "online": {}, "offline": {},
	"address": {}, "port": {},
}

// pickName chooses the unit name from the reply's tokens: a token with an
// underscore wins (names set through the app are underscore-delimited),
// otherwise the first alphanumeric token of four or more characters
// carrying at least one letter. Label words, status words and the serial
// itself never qualify.
func pickName(text, serial string) string {
	var fallback string
	for _, tok := range strings.Fields(text) {
		if !namePattern.MatchString(tok) || len(tok) < 4 {
			continue
		}
		if strings.Contains(tok, serial) || tok == strings.ReplaceAll(serial, "-", "") {
			continue
		}
		if _, label := nameLabels[strings.ToLower(tok)]; label {
			continue
		}
		if strings.Contains(tok, "_") {
			return tok
		}
		if fallback == "" && hasLetter(tok) {
			fallback = tok
		}
	}
	return fallback
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
