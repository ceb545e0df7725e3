package visitors

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Fingerprint derives a fallback visitor identity from the user agent and IP
// address for when cookies are unavailable. It is a 32-bit string hash of
// "ua-ip" rendered in base 36, matching the identifiers stored by earlier
// snippet versions.
func Fingerprint(userAgent, ipAddress string) string {
	combined := fmt.Sprintf("%s-%s", userAgent, ipAddress)

	var hash int32
	for _, unit := range utf16.Encode([]rune(combined)) {
		hash = (hash << 5) - hash + int32(unit)
	}

	n := int64(hash)
	if n < 0 {
		n = -n
	}
	return strconv.FormatInt(n, 36)
}

// SessionKey is the composite identity stored on every hit.
type SessionKey struct {
	VisitorID   string
	SessionID   string
	Fingerprint string
}

const sessionKeySeparator = ":"

// String encodes the key as "visitor:session:fingerprint".
func (k SessionKey) String() string {
	return strings.Join([]string{k.VisitorID, k.SessionID, k.Fingerprint}, sessionKeySeparator)
}

// ParseSessionKey decodes a stored session string. Strings that predate the
// composite format are treated as a bare session id.
func ParseSessionKey(raw string) SessionKey {
	parts := strings.Split(raw, sessionKeySeparator)
	if len(parts) != 3 {
		return SessionKey{SessionID: raw}
	}
	return SessionKey{VisitorID: parts[0], SessionID: parts[1], Fingerprint: parts[2]}
}

// VisitorKey is the identity used for distinct visitor counts: the
// fingerprint, falling back to the visitor id and then the raw session.
func (k SessionKey) VisitorKey() string {
	switch {
	case k.Fingerprint != "":
		return k.Fingerprint
	case k.VisitorID != "":
		return k.VisitorID
	default:
		return k.SessionID
	}
}
