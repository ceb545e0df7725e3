// Package stats shapes hits and rollups into dashboard summaries.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"gorm.io/gorm"

	"pocketwebanalytics/internal/metrics"
)

// Data sources reported in the metadata
const (
	SourceRealtime   = "realtime"
	SourceAggregated = "aggregated"
)

const (
	topPagesLimit     = 10
	topReferrersLimit = 10
	topBrowsersLimit  = 5
	topSystemsLimit   = 5

	defaultRange       = 7 * 24 * time.Hour
	aggregationLagTime = time.Hour
)

// Params select what the dashboard shows.
type Params struct {
	SiteID         uint
	Start          time.Time
	End            time.Time
	Path           string
	Campaign       string
	Limit          int
	Realtime       bool
	UseAggregation bool
	Now            time.Time
}

// Summary holds the headline numbers.
type Summary struct {
	TotalHits      int    `json:"total_hits"`
	UniqueVisitors int    `json:"unique_visitors"`
	Sessions       int    `json:"sessions"`
	FirstVisits    int    `json:"first_visits"`
	BounceRate     string `json:"bounce_rate"`
}

// Entry is one row of a ranked breakdown.
type Entry struct {
	Name       string `json:"name"`
	Hits       int    `json:"hits"`
	Percentage string `json:"percentage"`
}

// Point is one bucket of the chart series.
type Point struct {
	Date string `json:"date"`
	Hits int    `json:"hits"`
}

// Metadata describes how the result was produced.
type Metadata struct {
	Period     string `json:"period"`
	DataSource string `json:"data_source"`
	SampleSize int    `json:"sample_size"`
}

// Result is the dashboard payload.
type Result struct {
	Summary      Summary  `json:"summary"`
	TopPages     []Entry  `json:"top_pages"`
	TopReferrers []Entry  `json:"top_referrers"`
	TopBrowsers  []Entry  `json:"top_browsers"`
	TopSystems   []Entry  `json:"top_systems"`
	ChartData    []Point  `json:"chart_data"`
	Metadata     Metadata `json:"metadata"`
}

// Normalize fills defaults: the last 7 days, and a sample of realtimeLimit
// or aggregatedLimit rows.
func (p *Params) Normalize(realtimeLimit, aggregatedLimit int) {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	p.Now = p.Now.UTC()
	if p.End.IsZero() {
		p.End = p.Now
	}
	if p.Start.IsZero() {
		p.Start = p.End.Add(-defaultRange)
	}
	p.Start, p.End = p.Start.UTC(), p.End.UTC()
	if p.Limit <= 0 {
		p.Limit = aggregatedLimit
		if p.Realtime {
			p.Limit = realtimeLimit
		}
	}
}

// UsesAggregation reports whether rollups can answer the query: they must be
// requested, the query must not be realtime or campaign filtered, and the
// range must end before the newest, still incomplete hour.
func (p *Params) UsesAggregation() bool {
	return p.UseAggregation && !p.Realtime && p.Campaign == "" &&
		p.End.Before(p.Now.Add(-aggregationLagTime))
}

// Query answers a dashboard request. A failing rollup query falls back to
// raw hits; the fallback is logged and counted.
func Query(ctx context.Context, db *gorm.DB, logger *slog.Logger, p Params) (*Result, error) {
	if p.UsesAggregation() {
		result, err := queryAggregated(ctx, db, p)
		if err == nil {
			return result, nil
		}
		metrics.StatsFallbacks.Inc()
		logger.Warn("Aggregated stats failed, falling back to realtime",
			slog.Uint64("site_id", uint64(p.SiteID)),
			slog.Any("error", err))
	}
	return queryRealtime(ctx, db, p)
}

func period(p Params) string {
	return fmt.Sprintf("%s to %s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

func percentage(count, total int) string {
	if total <= 0 {
		return "0.0"
	}
	return fmt.Sprintf("%.1f", float64(count)/float64(total)*100)
}

func bounceRate(firstVisits, sessions int) string {
	if sessions <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", int(math.Round(float64(firstVisits)/float64(sessions)*100)))
}

// rank sorts counts by hits, then name, and keeps the first limit entries.
func rank(counts map[string]int, total, limit int) []Entry {
	entries := make([]Entry, 0, len(counts))
	for name, hits := range counts {
		entries = append(entries, Entry{Name: name, Hits: hits})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Hits != entries[j].Hits {
			return entries[i].Hits > entries[j].Hits
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Percentage = percentage(entries[i].Hits, total)
	}
	return entries
}

func series(daily map[string]int) []Point {
	points := make([]Point, 0, len(daily))
	for date, hits := range daily {
		points = append(points, Point{Date: date, Hits: hits})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points
}
