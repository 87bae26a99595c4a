package device

import (
	"fmt"
	"strings"
)

// CanonicalMAC normalizes a MAC address to uppercase hex pairs joined by
// colons. Devices report their address with varying separators, and bus
// topics carry it underscore-separated; all forms normalize identically
// before any lookup or storage.
func CanonicalMAC(mac string) (string, error) {
	hex := strings.ToUpper(strings.NewReplacer(":", "", "-", "", "_", "", ".", "").Replace(mac))
	if len(hex) != 12 {
		return "", fmt.Errorf("invalid MAC address %q", mac)
	}
	for _, c := range hex {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", fmt.Errorf("invalid MAC address %q", mac)
		}
	}
	pairs := make([]string, 6)
	for i := range pairs {
		pairs[i] = hex[2*i : 2*i+2]
	}
	return strings.Join(pairs, ":"), nil
}

// TopicMAC converts a canonical MAC into the underscore-separated form used
// in bus topic segments.
func TopicMAC(canonical string) string {
	return strings.ReplaceAll(canonical, ":", "_")
}
