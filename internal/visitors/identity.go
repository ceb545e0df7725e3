package visitors

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cookie names written by the tracking snippet and the count endpoint.
const (
	VisitorCookie    = "_pwa_visitor_id"
	FirstVisitCookie = "_pwa_first_visit"
	SessionCookie    = "_pwa_session_id"
)

// Cookie lifetimes
const (
	VisitorCookieTTL    = 730 * 24 * time.Hour
	FirstVisitCookieTTL = 30 * time.Minute
	SessionCookieTTL    = 30 * time.Minute
)

// Hints are the identity values a client reported with a hit.
type Hints struct {
	VisitorID  string
	SessionID  string
	FirstVisit *bool
}

// Identity is the resolved visitor state for one hit.
type Identity struct {
	VisitorID  string
	SessionID  string
	FirstVisit bool
}

// Cookie is a cookie the caller should set on its response.
type Cookie struct {
	Name   string
	Value  string
	MaxAge time.Duration
}

// NewID mints a random visitor or session id.
func NewID() string {
	return uuid.NewString()
}

// ResolveIdentity combines client hints with the cookies already present and
// returns the identity for this hit plus the cookies to refresh. Hints win
// over cookies; missing ids are minted with newID. A freshly minted visitor is
// a first visit unless the client said otherwise. Separators are stripped from
// client supplied ids so they cannot split a SessionKey.
func ResolveIdentity(hints Hints, cookies map[string]string, newID func() string) (Identity, []Cookie) {
	var id Identity
	minted := false

	visitorHint, visitorCookie := cleanID(hints.VisitorID), cleanID(cookies[VisitorCookie])
	sessionHint, sessionCookie := cleanID(hints.SessionID), cleanID(cookies[SessionCookie])

	switch {
	case visitorHint != "":
		id.VisitorID = visitorHint
	case visitorCookie != "":
		id.VisitorID = visitorCookie
	default:
		id.VisitorID = newID()
		minted = true
	}

	switch {
	case sessionHint != "":
		id.SessionID = sessionHint
	case sessionCookie != "":
		id.SessionID = sessionCookie
	default:
		id.SessionID = newID()
	}

	switch {
	case hints.FirstVisit != nil:
		id.FirstVisit = *hints.FirstVisit
	case cookies[FirstVisitCookie] != "":
		id.FirstVisit = true
	default:
		id.FirstVisit = minted
	}

	out := []Cookie{
		{Name: VisitorCookie, Value: id.VisitorID, MaxAge: VisitorCookieTTL},
		{Name: SessionCookie, Value: id.SessionID, MaxAge: SessionCookieTTL},
	}
	if minted && id.FirstVisit {
		out = append(out, Cookie{Name: FirstVisitCookie, Value: "1", MaxAge: FirstVisitCookieTTL})
	}
	return id, out
}

func cleanID(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), sessionKeySeparator, "")
}
