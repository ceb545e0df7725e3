package stats

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/pkg/referrers"
	"pocketwebanalytics/internal/visitors"
)

const directLabel = "Direct"

// queryRealtime shapes the newest Limit raw hits of the range.
func queryRealtime(ctx context.Context, db *gorm.DB, p Params) (*Result, error) {
	q := db.WithContext(ctx).Model(&hits.Hit{}).
		Where("hits.site_id = ? AND hits.created_at >= ? AND hits.created_at <= ?", p.SiteID, p.Start, p.End)
	if p.Path != "" {
		q = q.Joins("JOIN paths ON paths.id = hits.path_id").Where("paths.path = ?", p.Path)
	}
	if p.Campaign != "" {
		q = q.Joins("JOIN campaigns ON campaigns.id = hits.campaign_id").Where("campaigns.name = ?", p.Campaign)
	}
	for _, assoc := range hits.Preloaded() {
		q = q.Preload(assoc)
	}

	var sample []hits.Hit
	if err := q.Order("hits.created_at DESC").Order("hits.id DESC").Limit(p.Limit).Find(&sample).Error; err != nil {
		return nil, fmt.Errorf("failed to load hits: %w", err)
	}

	return summarize(sample, p), nil
}

func summarize(sample []hits.Hit, p Params) *Result {
	total := len(sample)
	pages := map[string]int{}
	refs := map[string]int{}
	browsers := map[string]int{}
	systems := map[string]int{}
	daily := map[string]int{}
	sessions := map[string]struct{}{}
	visitorKeys := map[string]struct{}{}
	firstVisits := 0

	for _, h := range sample {
		pages[h.Path.Path]++

		ref := directLabel
		if h.Ref != nil && h.Ref.Ref != "" {
			ref = referrers.FriendlyName(h.Ref.Ref)
		}
		refs[ref]++

		if h.Browser != nil && h.Browser.Name != "" {
			browsers[h.Browser.Name]++
		}
		if h.System != nil && h.System.Name != "" {
			systems[h.System.Name]++
		}

		daily[h.CreatedAt.UTC().Format("2006-01-02")]++

		if h.Session != "" {
			sessions[h.Session] = struct{}{}
			visitorKeys[visitors.ParseSessionKey(h.Session).VisitorKey()] = struct{}{}
		}
		if h.FirstVisit {
			firstVisits++
		}
	}

	return &Result{
		Summary: Summary{
			TotalHits:      total,
			UniqueVisitors: len(visitorKeys),
			Sessions:       len(sessions),
			FirstVisits:    firstVisits,
			BounceRate:     bounceRate(firstVisits, len(sessions)),
		},
		TopPages:     rank(pages, total, topPagesLimit),
		TopReferrers: rank(refs, total, topReferrersLimit),
		TopBrowsers:  rank(browsers, total, topBrowsersLimit),
		TopSystems:   rank(systems, total, topSystemsLimit),
		ChartData:    series(daily),
		Metadata: Metadata{
			Period:     period(p),
			DataSource: SourceRealtime,
			SampleSize: total,
		},
	}
}
