package v1

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/pkg/geoip"
	"pocketwebanalytics/internal/visitors"
)

// DiagnosticHeader carries the reason a tracking request was not stored.
const DiagnosticHeader = "X-PocketWebAnalytics"

// Pixel is the 1x1 transparent GIF answered to every tracking request.
var Pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x01, 0x00,
	0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x0a, 0x00, 0x01,
	0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02,
	0x4c, 0x01, 0x00, 0x3b,
}

// Headers set by an edge proxy that already geolocated the client.
const (
	headerProxyCountry     = "X-Vercel-IP-Country"
	headerProxyRegion      = "X-Vercel-IP-Region"
	headerProxyCountryName = "X-Vercel-IP-Country-Name"
	headerProxyRegionName  = "X-Vercel-IP-Region-Name"
)

// CountParams are the tracking parameters sent by the snippet, in the query
// string or a JSON body.
type CountParams struct {
	Path       string `json:"p" query:"p"`
	Referrer   string `json:"r" query:"r"`
	Title      string `json:"t" query:"t"`
	Event      string `json:"e" query:"e"`
	Size       string `json:"s" query:"s"`
	Bot        string `json:"b" query:"b"`
	Query      string `json:"q" query:"q"`
	SessionID  string `json:"sid" query:"sid"`
	VisitorID  string `json:"vid" query:"vid"`
	FirstVisit string `json:"fv" query:"fv"`
}

var errInvalidBody = errors.New("invalid request body")

// CountAction records one hit and always answers with the tracking pixel.
func CountAction(ctx *cartridge.Context) error {
	// Decode and bot value errors are reported by the collector so crawlers
	// are dropped before any of them surfaces.
	params, decodeErr := parseCountParams(ctx.Ctx)

	identity, cookies := visitors.ResolveIdentity(visitors.Hints{
		VisitorID:  params.VisitorID,
		SessionID:  params.SessionID,
		FirstVisit: parseFlag(params.FirstVisit),
	}, map[string]string{
		visitors.VisitorCookie:    ctx.Cookies(visitors.VisitorCookie),
		visitors.SessionCookie:    ctx.Cookies(visitors.SessionCookie),
		visitors.FirstVisitCookie: ctx.Cookies(visitors.FirstVisitCookie),
	}, visitors.NewID)

	input := &hits.Input{
		Path:           params.Path,
		Referrer:       params.Referrer,
		Title:          params.Title,
		Event:          isTrue(params.Event),
		Size:           params.Size,
		Bot:            params.Bot,
		Query:          params.Query,
		VisitorID:      identity.VisitorID,
		SessionID:      identity.SessionID,
		FirstVisit:     identity.FirstVisit,
		Host:           ctx.Hostname(),
		UserAgent:      ctx.Get(fiber.HeaderUserAgent),
		RemoteAddr:     forwardedAddr(ctx.Ctx),
		GeoAddr:        publicAddr(ctx.Ctx),
		AcceptLanguage: ctx.Get(fiber.HeaderAcceptLanguage),
		DecodeErr:      decodeErr,
		ProxyLocation:  proxyLocation(ctx.Ctx),
		Timestamp:      time.Now().UTC(),
	}

	collector := hits.NewCollector(ctx.DB(), ctx.Logger)
	if _, err := collector.Collect(ctx.UserContext(), input); err != nil {
		var rejection *hits.RejectionError
		if errors.As(err, &rejection) {
			ctx.Logger.Debug("Hit not stored",
				slog.String("reason", rejection.Reason),
				slog.Int("status", rejection.Status))
			return sendPixel(ctx.Ctx, rejection.Status, rejection.Reason)
		}
		ctx.Logger.Error("Failed to collect hit", slog.Any("error", err))
		return sendPixel(ctx.Ctx, http.StatusBadRequest, "Error: "+err.Error())
	}

	setIdentityCookies(ctx.Ctx, cookies)
	return sendPixel(ctx.Ctx, http.StatusOK, "")
}

// parseCountParams always returns the values it could read, along with an
// error when part of the request was malformed.
func parseCountParams(c *fiber.Ctx) (*CountParams, error) {
	var params CountParams
	if err := c.QueryParser(&params); err != nil {
		return &params, errInvalidBody
	}

	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 &&
		strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		var body map[string]any
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return &params, errInvalidBody
		}
		overlayBody(&params, body)
	}
	return &params, nil
}

// overlayBody copies JSON body values over the query values. Numbers and
// booleans are accepted where the snippet sends strings.
func overlayBody(params *CountParams, body map[string]any) {
	fields := map[string]*string{
		"p":   &params.Path,
		"r":   &params.Referrer,
		"t":   &params.Title,
		"e":   &params.Event,
		"s":   &params.Size,
		"b":   &params.Bot,
		"q":   &params.Query,
		"sid": &params.SessionID,
		"vid": &params.VisitorID,
		"fv":  &params.FirstVisit,
	}
	for key, dst := range fields {
		value, ok := body[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			*dst = v
		case float64:
			*dst = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			*dst = strconv.FormatBool(v)
		default:
			*dst = fmt.Sprint(v)
		}
	}
}

func isTrue(raw string) bool {
	return raw == "true" || raw == "1"
}

// parseFlag returns nil when the client did not send the flag.
func parseFlag(raw string) *bool {
	switch raw {
	case "1", "true":
		v := true
		return &v
	case "0", "false":
		v := false
		return &v
	}
	return nil
}

func proxyLocation(c *fiber.Ctx) geoip.Location {
	return geoip.Location{
		Country:     strings.ToUpper(c.Get(headerProxyCountry)),
		Region:      strings.ToUpper(c.Get(headerProxyRegion)),
		CountryName: unescapeHeader(c.Get(headerProxyCountryName)),
		RegionName:  unescapeHeader(c.Get(headerProxyRegionName)),
	}
}

// unescapeHeader decodes the percent-encoding some proxies apply to
// non-ASCII names.
func unescapeHeader(value string) string {
	if decoded, err := url.QueryUnescape(value); err == nil {
		return decoded
	}
	return value
}

func setIdentityCookies(c *fiber.Ctx, cookies []visitors.Cookie) {
	secure := config.GetConfig().IsProduction()
	for _, cookie := range cookies {
		c.Cookie(&fiber.Cookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     "/",
			MaxAge:   int(cookie.MaxAge / time.Second),
			Secure:   secure,
			HTTPOnly: false,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
}

// sendPixel answers with the GIF. A non-empty reason marks the hit as not
// stored.
func sendPixel(c *fiber.Ctx, status int, reason string) error {
	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store")
	if reason != "" {
		c.Set(DiagnosticHeader, reason)
	} else {
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
		c.Set("Cross-Origin-Resource-Policy", "cross-origin")
	}
	return c.Status(status).Send(Pixel)
}
