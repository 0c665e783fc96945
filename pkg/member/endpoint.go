package member

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// ErrNoAddress means the member carries no address to reach its agent at.
var ErrNoAddress = errors.New("no address known for member")

// NormalizeHostPort cuts the http:// https:// prefixes from the input address
// and adds a default port when none is present.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}
	addr = strings.TrimRight(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(strings.Trim(addr, "[]"), defPort)
}

// BaseURL resolves the agent base URL for m. Port precedence: an explicit port
// inside Address, then m.Port, then defaultPort. A scheme inside Address wins
// over scheme.
func BaseURL(m Member, scheme string, defaultPort int) (string, error) {
	addr := strings.TrimSpace(m.Address)
	if addr == "" {
		return "", ErrNoAddress
	}
	if scheme == "" {
		scheme = "http"
	}
	switch {
	case strings.HasPrefix(addr, "https://"):
		scheme = "https"
	case strings.HasPrefix(addr, "http://"):
		scheme = "http"
	}

	port := defaultPort
	if m.Port > 0 {
		port = m.Port
	}
	return scheme + "://" + NormalizeHostPort(addr, strconv.Itoa(port)), nil
}
