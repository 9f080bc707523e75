package checks

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const maxHostnameLength = 253

func normalizeHostname(target string) (string, error) {
	host := strings.TrimSpace(target)
	if host == "" {
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	if looksNumeric(host) {
		return "", fmt.Errorf("%w: %q is not an IP address", ErrInvalidAddress, target)
	}

	if len(host) > maxHostnameLength {
		return "", fmt.Errorf("%w: hostname too long", ErrInvalidAddress)
	}

	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if !validLabel(label) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, target)
		}
	}

	return host, nil
}

func looksNumeric(host string) bool {
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' && r != ':' {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

func formatMilliseconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1f ms", float64(d.Microseconds())/1000.0)
}
