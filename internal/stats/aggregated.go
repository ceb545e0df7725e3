package stats

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/pkg/async"
	"pocketwebanalytics/internal/pkg/referrers"
)

const (
	taskPages = "pages"
	taskRefs  = "refs"
	taskDaily = "daily"
)

var rollupPool = async.NewPool(3)

type countRow struct {
	Name string
	Hits int
}

type dailyRow struct {
	Day   time.Time
	Stats aggregation.DailyStats
}

// queryAggregated answers from hit_counts, ref_counts and hit_stats. The three
// reads run concurrently; any failure fails the whole query.
func queryAggregated(ctx context.Context, db *gorm.DB, p Params) (*Result, error) {
	db = db.WithContext(ctx)
	fromHour := p.Start.Truncate(time.Hour)
	fromDay := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, time.UTC)

	tasks := []async.Task{
		{Name: taskPages, Execute: func(ctx context.Context) (any, error) {
			var rows []countRow
			q := db.Table("hit_counts").
				Select("paths.path AS name, SUM(hit_counts.total) AS hits").
				Joins("JOIN paths ON paths.id = hit_counts.path_id").
				Where("hit_counts.site_id = ? AND hit_counts.hour >= ? AND hit_counts.hour <= ?", p.SiteID, fromHour, p.End)
			if p.Path != "" {
				q = q.Where("paths.path = ?", p.Path)
			}
			err := q.Group("paths.path").Order("hits DESC").Limit(p.Limit).Scan(&rows).Error
			return rows, err
		}},
		{Name: taskRefs, Execute: func(ctx context.Context) (any, error) {
			var rows []countRow
			q := db.Table("ref_counts").
				Select("COALESCE(refs.ref, '') AS name, SUM(ref_counts.total) AS hits").
				Joins("LEFT JOIN refs ON refs.id = ref_counts.ref_id").
				Where("ref_counts.site_id = ? AND ref_counts.hour >= ? AND ref_counts.hour <= ?", p.SiteID, fromHour, p.End)
			if p.Path != "" {
				q = q.Joins("JOIN paths ON paths.id = ref_counts.path_id").Where("paths.path = ?", p.Path)
			}
			err := q.Group("refs.ref").Order("hits DESC").Limit(p.Limit).Scan(&rows).Error
			return rows, err
		}},
		{Name: taskDaily, Execute: func(ctx context.Context) (any, error) {
			var rows []dailyRow
			q := db.Table("hit_stats").
				Select("hit_stats.day AS day, hit_stats.stats AS stats").
				Where("hit_stats.site_id = ? AND hit_stats.day >= ? AND hit_stats.day <= ?", p.SiteID, fromDay, p.End)
			if p.Path != "" {
				q = q.Joins("JOIN paths ON paths.id = hit_stats.path_id").Where("paths.path = ?", p.Path)
			}
			err := q.Order("hit_stats.day ASC").Scan(&rows).Error
			return rows, err
		}},
	}

	results := rollupPool.Execute(ctx, tasks)
	for _, task := range tasks {
		res, ok := results[task.Name]
		if !ok {
			return nil, fmt.Errorf("rollup query %s did not run: %w", task.Name, ctx.Err())
		}
		if res.Err != nil {
			return nil, fmt.Errorf("rollup query %s failed: %w", task.Name, res.Err)
		}
	}

	pageRows := results[taskPages].Data.([]countRow)
	refRows := results[taskRefs].Data.([]countRow)
	dayRows := results[taskDaily].Data.([]dailyRow)

	var summary Summary
	daily := map[string]int{}
	for _, row := range dayRows {
		summary.TotalHits += row.Stats.TotalHits
		summary.UniqueVisitors += row.Stats.UniqueVisitors
		summary.Sessions += row.Stats.Sessions
		summary.FirstVisits += row.Stats.FirstVisits
		daily[row.Day.UTC().Format("2006-01-02")] += row.Stats.TotalHits
	}
	summary.BounceRate = bounceRate(summary.FirstVisits, summary.Sessions)

	pages := map[string]int{}
	for _, row := range pageRows {
		pages[row.Name] += row.Hits
	}
	refs := map[string]int{}
	for _, row := range refRows {
		refs[referrers.FriendlyName(row.Name)] += row.Hits
	}

	total := summary.TotalHits
	if total == 0 {
		for _, hits := range pages {
			total += hits
		}
	}

	return &Result{
		Summary:      summary,
		TopPages:     rank(pages, total, topPagesLimit),
		TopReferrers: rank(refs, total, topReferrersLimit),
		TopBrowsers:  []Entry{},
		TopSystems:   []Entry{},
		ChartData:    series(daily),
		Metadata: Metadata{
			Period:     period(p),
			DataSource: SourceAggregated,
			SampleSize: len(pageRows) + len(refRows) + len(dayRows),
		},
	}, nil
}
