package referrers

import (
	"net/url"
	"strings"
)

// Traffic categories
const (
	CategoryDirect   = "direct"
	CategorySearch   = "search"
	CategorySocial   = "social"
	CategoryReferral = "referral"
	CategoryUnknown  = "unknown"
)

// DirectRef is the ref value stored for hits without a referrer.
const DirectRef = "direct"

type knownReferrer struct {
	name     string
	category string
}

// Hostname fragments matched by substring, as in "google.com" matching
// "www.google.com" and "google.com.au".
var searchEngines = []string{
	"google.com",
	"bing.com",
	"yahoo.com",
	"duckduckgo.com",
	"baidu.com",
	"yandex.com",
	"ask.com",
}

var socialNetworks = []string{
	"facebook.com",
	"twitter.com",
	"instagram.com",
	"linkedin.com",
	"youtube.com",
	"tiktok.com",
	"reddit.com",
	"pinterest.com",
}

// Common referrer hostnames mapped to friendly display names
var knownReferrers = map[string]knownReferrer{
	"google.com":           {"Google", CategorySearch},
	"google.co.uk":         {"Google", CategorySearch},
	"google.de":            {"Google", CategorySearch},
	"bing.com":             {"Bing", CategorySearch},
	"duckduckgo.com":       {"DuckDuckGo", CategorySearch},
	"yahoo.com":            {"Yahoo", CategorySearch},
	"baidu.com":            {"Baidu", CategorySearch},
	"yandex.com":           {"Yandex", CategorySearch},
	"yandex.ru":            {"Yandex", CategorySearch},
	"ecosia.org":           {"Ecosia", CategorySearch},
	"ask.com":              {"Ask", CategorySearch},
	"x.com":                {"X/Twitter", CategorySocial},
	"twitter.com":          {"X/Twitter", CategorySocial},
	"t.co":                 {"X/Twitter", CategorySocial},
	"facebook.com":         {"Facebook", CategorySocial},
	"l.facebook.com":       {"Facebook", CategorySocial},
	"instagram.com":        {"Instagram", CategorySocial},
	"linkedin.com":         {"LinkedIn", CategorySocial},
	"lnkd.in":              {"LinkedIn", CategorySocial},
	"tiktok.com":           {"TikTok", CategorySocial},
	"pinterest.com":        {"Pinterest", CategorySocial},
	"reddit.com":           {"Reddit", CategorySocial},
	"youtube.com":          {"YouTube", CategorySocial},
	"youtu.be":             {"YouTube", CategorySocial},
	"news.ycombinator.com": {"Hacker News", CategoryReferral},
	"github.com":           {"GitHub", CategoryReferral},
	"stackoverflow.com":    {"Stack Overflow", CategoryReferral},
	"mail.google.com":      {"Gmail", CategoryReferral},
}

// Classification is a referrer normalised for storage.
type Classification struct {
	Ref      string
	Scheme   string
	Category string
}

// Categorize classifies a raw referrer. An empty referrer is direct traffic;
// a referrer that is not an absolute URL is unknown.
func Categorize(raw string) Classification {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Classification{Ref: DirectRef, Category: CategoryDirect}
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Classification{Ref: raw, Category: CategoryUnknown}
	}

	host := strings.ToLower(parsed.Hostname())
	category := CategoryReferral
	switch {
	case containsAny(host, searchEngines):
		category = CategorySearch
	case containsAny(host, socialNetworks):
		category = CategorySocial
	}

	return Classification{
		Ref:      raw,
		Scheme:   strings.ToLower(parsed.Scheme),
		Category: category,
	}
}

func containsAny(host string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(host, fragment) {
			return true
		}
	}
	return false
}

// FriendlyName returns a human-friendly name for a stored ref: the known
// name of its host, or the host without "www." capitalised.
func FriendlyName(ref string) string {
	if ref == DirectRef || ref == "" {
		return "Direct"
	}

	hostname := ref
	if parsed, err := url.Parse(ref); err == nil && parsed.Host != "" {
		hostname = parsed.Hostname()
	}
	hostname = strings.ToLower(hostname)

	if known, ok := knownReferrers[hostname]; ok {
		return known.name
	}

	if strings.HasPrefix(hostname, "www.") {
		withoutWWW := hostname[4:]
		if known, ok := knownReferrers[withoutWWW]; ok {
			return known.name
		}
		hostname = withoutWWW
	}

	for domain, known := range knownReferrers {
		if strings.HasSuffix(hostname, "."+domain) {
			return known.name
		}
	}

	return capitalizeFirst(hostname)
}

// capitalizeFirst capitalizes the first letter of a string
func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
