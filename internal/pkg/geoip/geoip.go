package geoip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"

	"pocketwebanalytics/internal/config"
)

var (
	geoDB     *geoip2.Reader
	once      sync.Once
	mu        sync.RWMutex
	logger    *slog.Logger
	countries = gountries.New()
)

// Location is the geographic origin of a hit.
type Location struct {
	Country     string
	Region      string
	CountryName string
	RegionName  string
}

// ISO31662 combines country and region as "CC-RR", or the bare country code
// when no region is known.
func (l Location) ISO31662() string {
	if l.Region != "" {
		return fmt.Sprintf("%s-%s", l.Country, l.Region)
	}
	return l.Country
}

// IsZero reports whether no country was resolved.
func (l Location) IsZero() bool {
	return l.Country == ""
}

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 database.
// Returns nil if the database is not configured or not found (GeoIP is optional).
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); err != nil {
		if logger != nil {
			logger.Info("GeoLite2 database not available - IP geolocation disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized", slog.String("path", cfg.GeoDBPath))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// ReloadGeoDB reloads the GeoLite2 database from disk.
func ReloadGeoDB() {
	mu.Lock()
	defer mu.Unlock()

	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = InitGeoDB()
}

// Lookup resolves an IP address against the GeoLite2 database. It returns
// early with ctx's error when the deadline passes first, and a zero Location
// when the database is unavailable or the address is unknown.
func Lookup(ctx context.Context, ipAddress string) (Location, error) {
	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return Location{}, nil
	}

	reader := GetGeoDB()
	if reader == nil {
		return Location{}, nil
	}

	type result struct {
		loc Location
		err error
	}
	done := make(chan result, 1)

	go func() {
		record, err := reader.City(ip)
		if err != nil {
			done <- result{err: fmt.Errorf("geoip lookup failed: %w", err)}
			return
		}
		loc := Location{
			Country:     record.Country.IsoCode,
			CountryName: record.Country.Names["en"],
		}
		if len(record.Subdivisions) > 0 {
			loc.Region = record.Subdivisions[0].IsoCode
			loc.RegionName = record.Subdivisions[0].Names["en"]
		}
		done <- result{loc: loc}
	}()

	select {
	case r := <-done:
		return r.loc, r.err
	case <-ctx.Done():
		return Location{}, ctx.Err()
	}
}

// CountryName returns the common English name for an ISO 3166-1 alpha-2
// code, or the code itself when unknown.
func CountryName(code string) string {
	if code == "" {
		return ""
	}
	country, err := countries.FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return strings.ToUpper(code)
	}
	return country.Name.Common
}
