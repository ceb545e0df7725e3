package hits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/dimensions"
	"pocketwebanalytics/internal/metrics"
	"pocketwebanalytics/internal/pkg/geoip"
	"pocketwebanalytics/internal/pkg/referrers"
	"pocketwebanalytics/internal/pkg/user_agent"
	"pocketwebanalytics/internal/settings"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/visitors"
)

// Outcome labels for the hits counter
const (
	OutcomeStored   = "stored"
	OutcomeBot      = "bot"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Input is one tracking request as received by the count endpoint.
type Input struct {
	Path     string
	Referrer string
	Title    string
	Event    bool
	Size     string
	// Bot is the raw client reported automation code, validated after the
	// server-side bot check.
	Bot        string
	Query      string
	VisitorID  string
	SessionID  string
	FirstVisit bool

	Host           string
	UserAgent      string
	RemoteAddr     string
	AcceptLanguage string

	// GeoAddr is the public address used for geolocation. RemoteAddr is
	// looked up when it is empty.
	GeoAddr string

	// DecodeErr is set when the request parameters could not be decoded.
	DecodeErr error

	// ProxyLocation is the location injected by an edge proxy, if any.
	ProxyLocation geoip.Location

	Timestamp time.Time
}

// Result describes a handled tracking request. Hit is nil when nothing was
// stored.
type Result struct {
	Hit     *Hit
	Outcome string
}

// GeoLookupFunc resolves an IP address to a location.
type GeoLookupFunc func(ctx context.Context, ip string) (geoip.Location, error)

// Collector turns tracking requests into hit rows.
type Collector struct {
	db         *gorm.DB
	logger     *slog.Logger
	lookup     GeoLookupFunc
	geoTimeout time.Duration
}

// NewCollector creates a Collector backed by the GeoLite2 database.
func NewCollector(db *gorm.DB, logger *slog.Logger) *Collector {
	return &Collector{
		db:         db,
		logger:     logger,
		lookup:     geoip.Lookup,
		geoTimeout: config.GetConfig().GetGeoLookupTimeout(),
	}
}

// WithGeoLookup replaces the IP geolocation function.
func (c *Collector) WithGeoLookup(lookup GeoLookupFunc) *Collector {
	c.lookup = lookup
	return c
}

// Collect runs a tracking request through bot detection, site resolution,
// filtering, enrichment and dimension resolution, then stores one hit.
// Requests that are not stored return a *RejectionError, except server
// detected bots which succeed without a hit so they cannot tell they were
// filtered.
func (c *Collector) Collect(ctx context.Context, in *Input) (*Result, error) {
	result, err := c.collect(ctx, in)

	outcome := OutcomeFailed
	var rejection *RejectionError
	switch {
	case err == nil:
		outcome = result.Outcome
	case errors.As(err, &rejection):
		outcome = rejection.outcome
	}
	metrics.HitsTotal.WithLabelValues(outcome).Inc()

	return result, err
}

func (c *Collector) collect(ctx context.Context, in *Input) (*Result, error) {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	if user_agent.IsBot(in.UserAgent) {
		c.logger.Debug("Dropping hit from bot user agent", slog.String("user_agent", in.UserAgent))
		return &Result{Outcome: OutcomeBot}, nil
	}

	if in.DecodeErr != nil {
		return nil, invalidRequest(in.DecodeErr)
	}

	site, err := sites.GetActiveByCode(c.db, sites.CodeForHost(in.Host))
	if err != nil {
		var notFound *sites.SiteNotFoundError
		if errors.As(err, &notFound) {
			return nil, siteNotFound()
		}
		return nil, storeError(err)
	}

	if ip, ignored := site.Settings.IgnoredIP(in.RemoteAddr); ignored {
		return nil, ignoredIP(ip)
	}
	if excluded, err := settings.IsIPExcluded(in.RemoteAddr); err != nil {
		c.logger.Error("Error checking IP exclusion", slog.Any("error", err))
	} else if excluded {
		return nil, ignoredIP(in.RemoteAddr)
	}

	bot, err := ParseBotCode(in.Bot)
	if err != nil {
		return nil, err
	}

	path := in.Path
	if path == "" {
		path = "/"
	}
	if len(path) > MaxPathLength {
		return nil, pathTooLong(len(path))
	}

	hit := &Hit{
		SiteID:          site.ID,
		Bot:             bot,
		UserAgentHeader: in.UserAgent,
		RemoteAddr:      in.RemoteAddr,
		CreatedAt:       in.Timestamp,
	}

	if site.Settings.Collects(sites.CollectLocation) {
		hit.Location = c.resolveLocation(ctx, in)
	}
	if site.Settings.Collects(sites.CollectLanguage) {
		hit.Language = PrimaryLanguage(in.AcceptLanguage)
	}

	fingerprint := visitors.Fingerprint(in.UserAgent, in.RemoteAddr)
	hit.Session = visitors.SessionKey{
		VisitorID:   in.VisitorID,
		SessionID:   in.SessionID,
		Fingerprint: fingerprint,
	}.String()
	hit.FirstVisit = in.FirstVisit && IsFirstVisit(c.db, c.logger, site.ID, fingerprint, in.RemoteAddr, in.Timestamp)

	if err := c.resolveDimensions(hit, in, path); err != nil {
		c.logger.Error("Failed to resolve hit dimensions",
			slog.String("site", site.Code),
			slog.Any("error", err))
		return nil, storeError(err)
	}

	err = sqlite.PerformWrite(c.logger, c.db, func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(hit).Error
	})
	if err != nil {
		c.logger.Error("Failed to store hit", slog.String("site", site.Code), slog.Any("error", err))
		return nil, storeError(fmt.Errorf("failed to store hit: %w", err))
	}

	if site.FirstHitAt == nil {
		if err := sites.MarkReceivedData(c.db, site.ID, hit.CreatedAt); err != nil {
			c.logger.Warn("Failed to mark site as receiving data", slog.Any("error", err))
		}
	}

	return &Result{Hit: hit, Outcome: OutcomeStored}, nil
}

type optionalDimension struct {
	name string
	dim  dimensions.Dimension
	dst  **uint
}

// resolveDimensions maps the request's descriptive values to dimension ids.
// The path is mandatory; the others are dropped from the hit when they
// cannot be resolved.
func (c *Collector) resolveDimensions(hit *Hit, in *Input, path string) error {
	pathRow := &dimensions.Path{SiteID: hit.SiteID, Path: path, Title: in.Title, Event: in.Event}
	pathID, err := dimensions.ResolvePath(c.db, pathRow)
	if err != nil {
		return err
	}
	hit.PathID = pathID

	ua := user_agent.ParseUserAgent(in.UserAgent)
	classification := referrers.Categorize(in.Referrer)

	optional := []optionalDimension{
		{"ref", &dimensions.Ref{Ref: classification.Ref, RefScheme: classification.Scheme, Category: classification.Category}, &hit.RefID},
		{"browser", &dimensions.Browser{Name: ua.Browser, Version: ua.BrowserVersion}, &hit.BrowserID},
		{"system", &dimensions.System{Name: ua.OS, Version: ua.OSVersion}, &hit.SystemID},
		{"size", ParseSize(in.Size), &hit.SizeID},
	}
	if campaign := ParseCampaign(hit.SiteID, in.Query); campaign != nil {
		optional = append(optional, optionalDimension{"campaign", campaign, &hit.CampaignID})
	}

	for _, o := range optional {
		id, err := dimensions.Resolve(c.db, o.dim)
		if err != nil {
			c.logger.Warn("Skipping unresolved dimension",
				slog.String("dimension", o.name),
				slog.Any("error", err))
			continue
		}
		*o.dst = &id
	}
	return nil
}

// resolveLocation prefers proxy supplied headers and falls back to the
// GeoLite2 database within the configured timeout. Failures yield "".
func (c *Collector) resolveLocation(ctx context.Context, in *Input) string {
	loc := in.ProxyLocation
	if loc.IsZero() && c.lookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, c.geoTimeout)
		defer cancel()

		addr := in.GeoAddr
		if addr == "" {
			addr = in.RemoteAddr
		}

		var err error
		loc, err = c.lookup(lookupCtx, addr)
		if err != nil {
			c.logger.Debug("IP geolocation failed", slog.String("ip", addr), slog.Any("error", err))
			return ""
		}
	}
	if loc.IsZero() {
		return ""
	}

	if loc.CountryName == "" {
		loc.CountryName = geoip.CountryName(loc.Country)
	}

	row := &dimensions.Location{
		ISO31662:    loc.ISO31662(),
		Country:     loc.Country,
		Region:      loc.Region,
		CountryName: loc.CountryName,
		RegionName:  loc.RegionName,
	}
	if _, err := dimensions.Resolve(c.db, row); err != nil {
		c.logger.Warn("Failed to store location", slog.String("location", row.ISO31662), slog.Any("error", err))
	}
	return row.ISO31662
}
