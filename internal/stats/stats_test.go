package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/stats"
	"pocketwebanalytics/internal/testsupport"
)

func TestParamsNormalize(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("defaults to the last seven days", func(t *testing.T) {
		p := stats.Params{Now: now}
		p.Normalize(20, 50)
		assert.Equal(t, now, p.End)
		assert.Equal(t, now.Add(-7*24*time.Hour), p.Start)
		assert.Equal(t, 50, p.Limit)
	})

	t.Run("realtime uses the smaller sample", func(t *testing.T) {
		p := stats.Params{Now: now, Realtime: true}
		p.Normalize(20, 50)
		assert.Equal(t, 20, p.Limit)
	})

	t.Run("explicit limit is kept", func(t *testing.T) {
		p := stats.Params{Now: now, Limit: 5}
		p.Normalize(20, 50)
		assert.Equal(t, 5, p.Limit)
	})
}

func TestParamsUsesAggregation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		params stats.Params
		want   bool
	}{
		{"closed range", stats.Params{UseAggregation: true, End: now.Add(-2 * time.Hour)}, true},
		{"range reaching now", stats.Params{UseAggregation: true, End: now}, false},
		{"realtime requested", stats.Params{UseAggregation: true, Realtime: true, End: now.Add(-48 * time.Hour)}, false},
		{"aggregation disabled", stats.Params{End: now.Add(-48 * time.Hour)}, false},
		{"campaign filter", stats.Params{UseAggregation: true, Campaign: "spring", End: now.Add(-48 * time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.params
			p.Now = now
			assert.Equal(t, tt.want, p.UsesAggregation())
		})
	}
}

func TestQueryRealtime(t *testing.T) {
	dbManager, logger, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", FirstVisit: true, CreatedAt: base})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", Referrer: "https://www.google.com/", CreatedAt: base.Add(time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/about", Session: "v2:s2:f2", CreatedAt: base.Add(25 * time.Hour)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/about", Session: "v3:s3:f3", CreatedAt: base.Add(-30 * 24 * time.Hour)})

	p := stats.Params{
		SiteID:   site.ID,
		Start:    base.Add(-time.Hour),
		End:      base.Add(48 * time.Hour),
		Realtime: true,
		Now:      base.Add(48 * time.Hour),
	}
	p.Normalize(20, 50)

	result, err := stats.Query(context.Background(), db, logger, p)
	require.NoError(t, err)

	assert.Equal(t, stats.SourceRealtime, result.Metadata.DataSource)
	assert.Equal(t, 3, result.Metadata.SampleSize)
	assert.Equal(t, "2026-03-09 to 2026-03-11", result.Metadata.Period)

	assert.Equal(t, 3, result.Summary.TotalHits)
	assert.Equal(t, 2, result.Summary.Sessions)
	assert.Equal(t, 2, result.Summary.UniqueVisitors)
	assert.Equal(t, 1, result.Summary.FirstVisits)
	assert.Equal(t, "50%", result.Summary.BounceRate)

	require.Len(t, result.TopPages, 2)
	assert.Equal(t, stats.Entry{Name: "/", Hits: 2, Percentage: "66.7"}, result.TopPages[0])
	assert.Equal(t, stats.Entry{Name: "/about", Hits: 1, Percentage: "33.3"}, result.TopPages[1])

	require.Len(t, result.TopReferrers, 2)
	assert.Equal(t, "Direct", result.TopReferrers[0].Name)
	assert.Equal(t, "Google", result.TopReferrers[1].Name)

	assert.Equal(t, []stats.Point{
		{Date: "2026-03-09", Hits: 2},
		{Date: "2026-03-10", Hits: 1},
	}, result.ChartData)
}

func TestQueryRealtimePathFilterAndLimit(t *testing.T) {
	dbManager, logger, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/pricing", Session: "v:s:f", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v:s:f", CreatedAt: base})

	p := stats.Params{SiteID: site.ID, Start: base.Add(-time.Hour), End: base.Add(time.Hour), Path: "/pricing", Limit: 3, Realtime: true, Now: base.Add(time.Hour)}
	p.Normalize(20, 50)

	result, err := stats.Query(context.Background(), db, logger, p)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Summary.TotalHits)
	require.Len(t, result.TopPages, 1)
	assert.Equal(t, "/pricing", result.TopPages[0].Name)
	assert.Equal(t, "100.0", result.TopPages[0].Percentage)
}

func TestQueryAggregated(t *testing.T) {
	dbManager, logger, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", FirstVisit: true, CreatedAt: day.Add(9 * time.Hour)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", Referrer: "https://news.ycombinator.com/", CreatedAt: day.Add(9*time.Hour + time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/docs", Session: "v2:s2:f2", FirstVisit: true, CreatedAt: day.Add(14 * time.Hour)})

	now := day.Add(72 * time.Hour)
	_, err := aggregation.New(db, logger, config.GetConfig()).Run(context.Background(), aggregation.Options{Mode: aggregation.ModeFull, Now: now})
	require.NoError(t, err)

	p := stats.Params{SiteID: site.ID, Start: day, End: day.Add(24*time.Hour - time.Second), UseAggregation: true, Now: now}
	p.Normalize(20, 50)
	require.True(t, p.UsesAggregation())

	result, err := stats.Query(context.Background(), db, logger, p)
	require.NoError(t, err)

	assert.Equal(t, stats.SourceAggregated, result.Metadata.DataSource)
	assert.Equal(t, 3, result.Summary.TotalHits)
	assert.Equal(t, 2, result.Summary.FirstVisits)
	assert.Equal(t, 2, result.Summary.Sessions)
	assert.Equal(t, "100%", result.Summary.BounceRate)

	require.Len(t, result.TopPages, 2)
	assert.Equal(t, "/", result.TopPages[0].Name)
	assert.Equal(t, 2, result.TopPages[0].Hits)

	names := make([]string, 0, len(result.TopReferrers))
	for _, ref := range result.TopReferrers {
		names = append(names, ref.Name)
	}
	assert.Contains(t, names, "Hacker News")
	assert.Contains(t, names, "Direct")

	assert.Equal(t, []stats.Point{{Date: "2026-03-08", Hits: 3}}, result.ChartData)
	assert.Empty(t, result.TopBrowsers)
	assert.Empty(t, result.TopSystems)
}

func TestQueryFallsBackWhenRollupsFail(t *testing.T) {
	dbManager, logger, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", CreatedAt: day.Add(time.Hour)})
	require.NoError(t, db.Exec("DROP TABLE hit_stats").Error)

	p := stats.Params{SiteID: site.ID, Start: day, End: day.Add(12 * time.Hour), UseAggregation: true, Now: day.Add(72 * time.Hour)}
	p.Normalize(20, 50)

	result, err := stats.Query(context.Background(), db, logger, p)
	require.NoError(t, err)
	assert.Equal(t, stats.SourceRealtime, result.Metadata.DataSource)
	assert.Equal(t, 1, result.Summary.TotalHits)
}
