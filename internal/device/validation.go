package device

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// Validation constants.
const (
	maxHostnameLength    = 253
	maxDisplayNameLength = 100
	hostnameLabelPattern = `^[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`
)

var hostnameLabelRegex = regexp.MustCompile(hostnameLabelPattern)

// NormalizeAddress trims the address and checks it is a bare IP address or
// an RFC 1123 hostname. Ports, schemes and paths are rejected.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	if ip, err := netip.ParseAddr(address); err == nil {
		if ip.IsUnspecified() || ip.IsMulticast() {
			return "", fmt.Errorf("%w: %q is not a unicast address", ErrInvalidAddress, address)
		}
		return ip.String(), nil
	}

	if len(address) > maxHostnameLength {
		return "", fmt.Errorf("%w: hostname longer than %d characters", ErrInvalidAddress, maxHostnameLength)
	}
	labels := strings.Split(strings.TrimSuffix(address, "."), ".")
	allNumeric := true
	for _, label := range labels {
		if !hostnameLabelRegex.MatchString(label) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
		}
		if strings.Trim(label, "0123456789") != "" {
			allNumeric = false
		}
	}
	// "10.0.0.300" parses as labels but is a mistyped IP.
	if allNumeric {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return strings.ToLower(address), nil
}

// normalizeDisplayName falls back to the address when no name is given.
func normalizeDisplayName(name, address string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return address
	}
	if r := []rune(name); len(r) > maxDisplayNameLength {
		name = string(r[:maxDisplayNameLength])
	}
	return name
}
