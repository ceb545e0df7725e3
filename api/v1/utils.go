package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Headers some reverse proxies use instead of X-Forwarded-For.
var proxyAddrHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// forwardedAddr is the address a hit is attributed to: the first
// X-Forwarded-For entry, else the connection address. Private and loopback
// addresses are kept as sent so ignore lists and fingerprints see the real
// caller.
func forwardedAddr(c *fiber.Ctx) string {
	first, _, _ := strings.Cut(c.Get(fiber.HeaderXForwardedFor), ",")
	if addr, ok := parseAddr(first); ok {
		return addr.String()
	}
	if addr, ok := parseAddr(c.Context().RemoteAddr().String()); ok {
		return addr.String()
	}
	return c.IP()
}

// publicAddr returns the first routable address among the forwarding
// headers and the connection, preferring IPv4. It is only used for
// geolocation and is empty when every candidate is private.
func publicAddr(c *fiber.Ctx) string {
	candidates := strings.Split(c.Get(fiber.HeaderXForwardedFor), ",")
	for _, header := range proxyAddrHeaders {
		candidates = append(candidates, c.Get(header))
	}
	candidates = append(candidates, forwardedFor(c.Get(fiber.HeaderForwarded))...)
	candidates = append(candidates, c.Context().RemoteAddr().String())

	var v6 string
	for _, raw := range candidates {
		addr, ok := parseAddr(raw)
		if !ok || !isPublic(addr) {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
		if v6 == "" {
			v6 = addr.String()
		}
	}
	return v6
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsUnspecified() &&
		!addr.IsMulticast()
}

// parseAddr accepts a bare address, host:port, [v6]:port or a quoted form,
// dropping any zone. IPv4-mapped IPv6 addresses are unmapped.
func parseAddr(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), `"`)
	if clean == "" {
		return netip.Addr{}, false
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().WithZone("").Unmap(), true
	}

	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if zone := strings.IndexByte(clean, '%'); zone != -1 {
		clean = clean[:zone]
	}
	addr, err := netip.ParseAddr(clean)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// forwardedFor extracts the for= values of an RFC 7239 Forwarded header.
func forwardedFor(header string) []string {
	var out []string
	for _, entry := range strings.Split(header, ",") {
		for _, pair := range strings.Split(entry, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && strings.EqualFold(key, "for") {
				out = append(out, value)
			}
		}
	}
	return out
}

// generateETag creates a strong ETag from content using SHA-256
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}
