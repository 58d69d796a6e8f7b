package device

import (
	"errors"
	"strconv"
	"strings"
)

// batchMajorVersion is the first art API major version that serves
// thumbnails over the TLS batch socket.
const batchMajorVersion = 4

var errVersionFormat = errors.New("device: malformed api version")

// ParseMajorVersion returns the leading integer of a dotted version string:
// "2.03" is 2 and "4.3.4.0" is 4.
func ParseMajorVersion(v string) (int, error) {
	v = strings.TrimSpace(v)
	head, _, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(head)
	if err != nil || major < 0 {
		return 0, errVersionFormat
	}
	return major, nil
}

// protocolVersion is the detected art API version of one transport.
type protocolVersion struct {
	raw   string
	known bool
	batch bool
}

// detectedVersion classifies a version string. The bool is false when the
// string could not be parsed; the current shape is assumed then because
// every firmware old enough to need the legacy shape reports a clean number.
func detectedVersion(raw string) (protocolVersion, bool) {
	major, err := ParseMajorVersion(raw)
	if err != nil {
		return protocolVersion{raw: raw, known: true, batch: true}, false
	}
	return protocolVersion{raw: raw, known: true, batch: major >= batchMajorVersion}, true
}
