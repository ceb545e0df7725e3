package aggregation_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/sites"
	"pocketwebanalytics/internal/testsupport"
)

func newAggregator(db *gorm.DB, batchSize int) *aggregation.Aggregator {
	cfg := &config.Config{
		AggregationBatchSize: batchSize,
		HourlyLookbackHours:  2,
		DailyLookbackDays:    2,
	}
	return aggregation.New(db, testsupport.GetLogger(), cfg)
}

func hourlyRows(t *testing.T, db *gorm.DB, siteID uint) []aggregation.HitCount {
	t.Helper()
	var rows []aggregation.HitCount
	require.NoError(t, db.Where("site_id = ?", siteID).Order("hour ASC, path_id ASC").Find(&rows).Error)
	return rows
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    aggregation.Mode
		wantErr bool
	}{
		{"", aggregation.ModeIncremental, false},
		{"incremental", aggregation.ModeIncremental, false},
		{"daily", aggregation.ModeDaily, false},
		{"full", aggregation.ModeFull, false},
		{"weekly", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := aggregation.ParseMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, aggregation.ErrInvalidMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunHourlyRollup(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", CreatedAt: base.Add(5 * time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", CreatedAt: base.Add(10 * time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v2:s2:f2", Referrer: "https://news.ycombinator.com/", CreatedAt: base.Add(50 * time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", CreatedAt: base.Add(70 * time.Minute)})

	// A batch size smaller than the hit count forces several scans.
	agg := newAggregator(db, 2)
	report, err := agg.Run(context.Background(), aggregation.Options{
		Mode:   aggregation.ModeFull,
		SiteID: site.ID,
		Now:    base.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, report.Sites, 2)
	assert.Equal(t, aggregation.JobHourly, report.Sites[0].Job)
	assert.Equal(t, 4, report.Sites[0].RecordsProcessed)
	assert.Zero(t, report.GroupsFailed())
	assert.True(t, report.Sites[0].LastHitAt.Equal(base.Add(70*time.Minute)))

	rows := hourlyRows(t, db, site.ID)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Hour.Equal(base))
	assert.Equal(t, 3, rows[0].Total)
	assert.Equal(t, 2, rows[0].Sessions)
	assert.True(t, rows[1].Hour.Equal(base.Add(time.Hour)))
	assert.Equal(t, 1, rows[1].Total)

	var refs []aggregation.RefCount
	require.NoError(t, db.Where("site_id = ?", site.ID).Find(&refs).Error)
	// Direct and referred hits in the first hour, direct in the second.
	assert.Len(t, refs, 3)
	var direct int
	for _, r := range refs {
		if r.RefID == 0 {
			direct += r.Total
		}
	}
	assert.Equal(t, 3, direct)
}

func TestRunIsIdempotent(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/pricing", Session: "v1:s1:f1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	agg := newAggregator(db, 100)
	opts := aggregation.Options{Mode: aggregation.ModeFull, SiteID: site.ID, Now: base.Add(48 * time.Hour)}

	_, err := agg.Run(context.Background(), opts)
	require.NoError(t, err)
	first := hourlyRows(t, db, site.ID)

	_, err = agg.Run(context.Background(), opts)
	require.NoError(t, err)
	second := hourlyRows(t, db, site.ID)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Total, second[i].Total)
	}

	var daily int64
	require.NoError(t, db.Model(&aggregation.HitStat{}).Where("site_id = ?", site.ID).Count(&daily).Error)
	assert.Equal(t, int64(1), daily)
}

func TestRunDailyRollup(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	day := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", FirstVisit: true, CreatedAt: day.Add(9 * time.Hour)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s1:f1", CreatedAt: day.Add(9*time.Hour + time.Minute)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v1:s9:f1", CreatedAt: day.Add(20 * time.Hour)})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v2:s2:f2", FirstVisit: true, CreatedAt: day.Add(21 * time.Hour)})
	// Today is outside the daily window.
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", Session: "v3:s3:f3", CreatedAt: day.Add(26 * time.Hour)})

	agg := newAggregator(db, 100)
	report, err := agg.Run(context.Background(), aggregation.Options{
		Mode:   aggregation.ModeDaily,
		SiteID: site.ID,
		Now:    day.Add(30 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, report.Sites, 1)
	assert.Equal(t, aggregation.JobDaily, report.Sites[0].Job)
	assert.Equal(t, 4, report.Sites[0].RecordsProcessed)

	var stats []aggregation.HitStat
	require.NoError(t, db.Where("site_id = ?", site.ID).Find(&stats).Error)
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Day.Equal(day))
	assert.Equal(t, aggregation.DailyStats{
		TotalHits:       4,
		UniqueVisitors:  2,
		Sessions:        3,
		FirstVisits:     2,
		ReturningVisits: 2,
	}, stats[0].Stats)
}

func TestRunIncrementalWatermark(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()

	now := time.Date(2026, 3, 9, 12, 30, 0, 0, time.UTC)
	old := now.Add(-6 * time.Hour)
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", CreatedAt: old})
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{Path: "/", CreatedAt: now.Add(-30 * time.Minute)})

	agg := newAggregator(db, 100)

	t.Run("without a watermark only the lookback is scanned", func(t *testing.T) {
		report, err := agg.Run(context.Background(), aggregation.Options{SiteID: site.ID, Now: now})
		require.NoError(t, err)
		require.Len(t, report.Sites, 1)
		assert.Equal(t, 1, report.Sites[0].RecordsProcessed)
		assert.Equal(t, now.Add(-2*time.Hour).Truncate(time.Hour), report.Sites[0].From)

		marks, err := aggregation.Watermarks(db, site.ID)
		require.NoError(t, err)
		require.Len(t, marks, 1)
		assert.True(t, marks[0].LastHitAt.Equal(now.Add(-30*time.Minute)))
	})

	t.Run("an older watermark widens the window", func(t *testing.T) {
		require.NoError(t, db.Model(&aggregation.Watermark{}).
			Where("site_id = ? AND job = ?", site.ID, aggregation.JobHourly).
			Update("last_hit_at", old.Add(-time.Minute)).Error)

		report, err := agg.Run(context.Background(), aggregation.Options{SiteID: site.ID, Now: now})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Sites[0].RecordsProcessed)

		marks, err := aggregation.Watermarks(db, site.ID)
		require.NoError(t, err)
		require.Len(t, marks, 1)
		assert.True(t, marks[0].LastHitAt.Equal(now.Add(-30*time.Minute)))
	})

	t.Run("an empty window never moves the watermark back", func(t *testing.T) {
		_, err := agg.Run(context.Background(), aggregation.Options{SiteID: site.ID, Now: now.Add(10 * time.Hour)})
		require.NoError(t, err)

		marks, err := aggregation.Watermarks(db, site.ID)
		require.NoError(t, err)
		require.Len(t, marks, 1)
		assert.True(t, marks[0].LastHitAt.Equal(now.Add(-30*time.Minute)))
	})
}

func TestRunTargets(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	blog := testsupport.CreateTestSite(t, db, "blog", sites.Settings{})
	shop := testsupport.CreateTestSite(t, db, "shop", sites.Settings{})
	off := testsupport.CreateTestSite(t, db, "off", sites.Settings{})
	require.NoError(t, db.Model(&off).Update("state", sites.StateDisabled).Error)

	agg := newAggregator(db, 100)

	t.Run("every active site", func(t *testing.T) {
		report, err := agg.Run(context.Background(), aggregation.Options{Mode: aggregation.ModeDaily})
		require.NoError(t, err)
		var ids []uint
		for _, s := range report.Sites {
			ids = append(ids, s.SiteID)
		}
		assert.Equal(t, []uint{blog.ID, shop.ID}, ids)
	})

	t.Run("unknown site", func(t *testing.T) {
		_, err := agg.Run(context.Background(), aggregation.Options{SiteID: 999})
		var notFound *sites.SiteNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := agg.Run(context.Background(), aggregation.Options{Mode: "weekly"})
		assert.ErrorIs(t, err, aggregation.ErrInvalidMode)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := agg.Run(ctx, aggregation.Options{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRunWritesReportLine(t *testing.T) {
	dbManager, _, site := testsupport.SetupTestDBManagerWithSite(t, "blog")
	db := dbManager.GetConnection()
	testsupport.CreateTestHit(t, db, site.ID, testsupport.TestHit{CreatedAt: time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)})

	var buf bytes.Buffer
	agg := newAggregator(db, 100).WithReportLog(&buf)
	_, err := agg.Run(context.Background(), aggregation.Options{
		Mode: aggregation.ModeFull,
		Now:  time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var decoded aggregation.Report
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, aggregation.ModeFull, decoded.Mode)
	assert.Equal(t, 2, decoded.RecordsProcessed())
}
