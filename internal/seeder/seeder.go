// Package seeder fills a database with realistic sample traffic by replaying
// visitor journeys through the hit collector.
package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/users"
)

// DefaultSiteCodes are the sites created by Run.
var DefaultSiteCodes = []string{"demo", "blog"}

const (
	adminEmail    = "admin@example.com"
	adminPassword = "password"
)

var journeyTemplates = [][]string{
	{"/", "/about", "/contact"},
	{"/", "/features", "/pricing", "/signup"},
	{"/", "/blog", "/blog/article-1", "/signup"},
	{"/pricing", "/features", "/signup"},
	{"/", "/products", "/products/widget-a", "/products/gadget-b", "/pricing"},
	{"/", "/docs", "/docs/getting-started", "/docs/api-reference"},
	{"/", "/blog", "/blog/article-1", "/blog/article-2"},
	{"/", "/signup"},
	{"/blog/article-1", "/about", "/pricing", "/signup"},
}

var goalEvents = []string{"newsletter-signup", "demo-requested", "download-started", "trial-started"}

var screenSizes = []string{"1920,1080,1", "1440,900,2", "390,844,3", "768,1024,2", "1366,768,1"}

// Seeder generates sample hits.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	HitCount  int
	// Days spreads the hits over the given number of past days.
	Days int
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, hitCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		HitCount:  hitCount,
		Days:      30,
	}
}

// Run ensures the admin user and default sites exist and splits the hit
// count between the sites.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("hits", s.HitCount))

	if err := s.seedUser(); err != nil {
		return fmt.Errorf("failed to seed user: %w", err)
	}

	perSite := max(s.HitCount/len(DefaultSiteCodes), 1)
	for _, code := range DefaultSiteCodes {
		site, err := s.ensureSite(code)
		if err != nil {
			return err
		}
		if _, err := s.generate(ctx, site, perSite); err != nil {
			return fmt.Errorf("failed to generate data for %s: %w", code, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedSite generates the full hit count for one existing site and returns
// the number of hits stored.
func (s *Seeder) SeedSite(ctx context.Context, code string) (int, error) {
	site, err := sites.GetActiveByCode(s.DBManager.GetConnection(), code)
	if err != nil {
		return 0, err
	}
	return s.generate(ctx, site, s.HitCount)
}

func (s *Seeder) seedUser() error {
	db := s.DBManager.GetConnection()
	_, err := users.FindByEmail(db, adminEmail)
	if err == nil {
		s.Logger.Info("Admin user already exists", slog.String("email", adminEmail))
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check for existing user: %w", err)
	}

	s.Logger.Info("Creating admin user", slog.String("email", adminEmail))
	return users.CreateAdminUser(db, adminEmail, adminPassword)
}

func (s *Seeder) ensureSite(code string) (*sites.Site, error) {
	db := s.DBManager.GetConnection()
	site, err := sites.GetActiveByCode(db, code)
	if err == nil {
		return site, nil
	}
	var notFound *sites.SiteNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	site = &sites.Site{
		Code:     code,
		Settings: sites.Settings{Collect: []string{sites.CollectLocation, sites.CollectLanguage}},
	}
	if err := sites.Create(db, s.Logger, site); err != nil {
		return nil, fmt.Errorf("failed to create site %s: %w", code, err)
	}
	s.Logger.Info("Site created", slog.String("code", code))
	return site, nil
}

// generate replays visitor sessions until target hits were attempted.
func (s *Seeder) generate(ctx context.Context, site *sites.Site, target int) (int, error) {
	collector := hits.NewCollector(s.DBManager.GetConnection(), s.Logger)
	ipPool := generateIPPool(100)
	userAgents := getUserAgents()
	referrers := getReferrers()
	host := site.Code + ".example.com"
	days := max(s.Days, 1)

	returning := map[string]string{}
	stored, attempted := 0, 0

	for attempted < target {
		if err := ctx.Err(); err != nil {
			return stored, err
		}

		journey := journeyTemplates[rand.IntN(len(journeyTemplates))]
		ip := ipPool[rand.IntN(len(ipPool))]
		ua := userAgents[rand.IntN(len(userAgents))]
		referrer := referrers[rand.IntN(len(referrers))]
		size := screenSizes[rand.IntN(len(screenSizes))]

		visitorID, seen := returning[ip]
		if !seen {
			visitorID = uuid.NewString()
			returning[ip] = visitorID
		}
		sessionID := uuid.NewString()

		at := time.Now().UTC().Add(-time.Duration(rand.IntN(days*24*60*60)) * time.Second)
		for i, path := range journey {
			if i > 0 {
				at = at.Add(time.Duration(rand.IntN(110)+10) * time.Second)
			}
			in := &hits.Input{
				Path:           path,
				Title:          titleFor(path),
				Size:           size,
				VisitorID:      visitorID,
				SessionID:      sessionID,
				FirstVisit:     !seen && i == 0,
				Host:           host,
				UserAgent:      ua,
				RemoteAddr:     ip,
				AcceptLanguage: "en-US,en;q=0.9",
				Timestamp:      at,
			}
			if i == 0 {
				in.Referrer = referrer
				in.Query = utmQuery()
			}
			if s.collect(ctx, collector, in) {
				stored++
			}
			attempted++
		}

		if rand.Float64() < 0.2 {
			in := &hits.Input{
				Path:       goalEvents[rand.IntN(len(goalEvents))],
				Event:      true,
				VisitorID:  visitorID,
				SessionID:  sessionID,
				Host:       host,
				UserAgent:  ua,
				RemoteAddr: ip,
				Timestamp:  at.Add(time.Minute),
			}
			if s.collect(ctx, collector, in) {
				stored++
			}
			attempted++
		}
	}

	s.Logger.Info("Generated hits for site",
		slog.String("site", site.Code),
		slog.Int("attempted", attempted),
		slog.Int("stored", stored))
	return stored, nil
}

func (s *Seeder) collect(ctx context.Context, collector *hits.Collector, in *hits.Input) bool {
	result, err := collector.Collect(ctx, in)
	if err != nil {
		s.Logger.Error("Failed to collect hit during seeding", slog.Any("error", err))
		return false
	}
	return result.Hit != nil
}

func titleFor(path string) string {
	if path == "/" {
		return "Home"
	}
	return "Page " + path
}

// generateIPPool creates a pool of unique IPv4 addresses
func generateIPPool(count int) []string {
	seen := make(map[string]bool)
	var ips []string
	for len(ips) < count {
		ip := fmt.Sprintf("%d.%d.%d.%d", rand.IntN(223)+1, rand.IntN(256), rand.IntN(256), rand.IntN(254)+1)
		if !seen[ip] {
			seen[ip] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

// getUserAgents returns common user agents; the crawlers exercise bot
// filtering.
func getUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_1_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Mobile/15E148 Safari/605.1",
		"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0",
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
	}
}

func getReferrers() []string {
	return []string{
		"",
		"https://www.google.com/",
		"https://www.bing.com/",
		"https://duckduckgo.com/",
		"https://www.facebook.com/",
		"https://twitter.com/",
		"https://news.ycombinator.com/",
		"https://github.com/",
		"https://some-other-website.com/blog/post",
	}
}

// utmQuery returns campaign parameters for about one in five landings.
func utmQuery() string {
	if rand.IntN(10) < 8 {
		return ""
	}
	params := url.Values{}
	params.Set("utm_source", []string{"google", "newsletter", "twitter", "linkedin"}[rand.IntN(4)])
	params.Set("utm_medium", []string{"cpc", "social", "email"}[rand.IntN(3)])
	params.Set("utm_campaign", []string{"spring_sale", "product_launch", "q4_promo"}[rand.IntN(3)])
	if rand.IntN(2) == 0 {
		params.Set("utm_content", "header_link")
	}
	return "?" + params.Encode()
}
