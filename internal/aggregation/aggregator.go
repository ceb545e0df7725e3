// Package aggregation rolls hits up into hourly and daily tables.
//
// Every run recomputes whole buckets and overwrites the stored rows, so
// running the same window twice leaves the rollups unchanged. A per-site,
// per-job watermark records the newest hit aggregated; incremental runs start
// at the older of the watermark and the configured lookback.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/metrics"
	"pocketwebanalytics/internal/sites"
)

// Mode selects which jobs run and over which window.
type Mode string

// Run modes
const (
	ModeIncremental Mode = "incremental"
	ModeDaily       Mode = "daily"
	ModeFull        Mode = "full"
)

// ErrInvalidMode is returned for an unknown run mode.
var ErrInvalidMode = errors.New("invalid aggregation mode")

// ParseMode validates a mode name; the empty string means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeDaily:
		return ModeDaily, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidMode, s)
}

// Options select what a run aggregates.
type Options struct {
	Mode Mode
	// SiteID restricts the run to one site; zero means every active site.
	SiteID uint
	// Now overrides the clock.
	Now time.Time
}

// Aggregator runs the rollup jobs.
type Aggregator struct {
	db                *gorm.DB
	logger            *slog.Logger
	batchSize         int
	limiter           *rate.Limiter
	hourlyLookback    time.Duration
	dailyLookbackDays int
	reportLog         io.Writer
}

// siteLocks serialises runs per site across every Aggregator in the process.
var siteLocks sync.Map

// New creates an Aggregator configured from cfg.
func New(db *gorm.DB, logger *slog.Logger, cfg *config.Config) *Aggregator {
	limit := rate.Inf
	if cfg.AggregationBatchesPerSec > 0 {
		limit = rate.Limit(cfg.AggregationBatchesPerSec)
	}

	return &Aggregator{
		db:                db,
		logger:            logger,
		batchSize:         cfg.AggregationBatchSize,
		limiter:           rate.NewLimiter(limit, 1),
		hourlyLookback:    time.Duration(cfg.HourlyLookbackHours) * time.Hour,
		dailyLookbackDays: cfg.DailyLookbackDays,
	}
}

// WithReportLog sets a writer receiving one JSON line per finished run.
func (a *Aggregator) WithReportLog(w io.Writer) *Aggregator {
	a.reportLog = w
	return a
}

// Run aggregates the selected sites. Per-group failures are logged and
// counted in the report; only a failure to list sites, or cancellation,
// returns an error.
func (a *Aggregator) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	targets, err := a.targets(opts.SiteID)
	if err != nil {
		metrics.AggregationRuns.WithLabelValues(string(opts.Mode), "error").Inc()
		return nil, err
	}

	report := &Report{Mode: opts.Mode, StartedAt: now}
	for _, site := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sites = append(report.Sites, a.runSite(ctx, site, opts.Mode, now)...)
	}
	report.FinishedAt = time.Now().UTC()

	result := "success"
	if report.GroupsFailed() > 0 {
		result = "partial"
	}
	metrics.AggregationRuns.WithLabelValues(string(opts.Mode), result).Inc()

	a.logger.Info("Aggregation finished",
		slog.String("mode", string(opts.Mode)),
		slog.Int("sites", len(targets)),
		slog.Int("records", report.RecordsProcessed()),
		slog.Int("groups", report.GroupsAttempted()),
		slog.Int("failed", report.GroupsFailed()))
	a.writeReport(report)

	return report, nil
}

func (a *Aggregator) targets(siteID uint) ([]sites.Site, error) {
	if siteID != 0 {
		site, err := sites.GetByID(a.db, siteID)
		if err != nil {
			return nil, err
		}
		return []sites.Site{*site}, nil
	}
	return sites.ListActive(a.db)
}

func siteLock(siteID uint) *sync.Mutex {
	lock, _ := siteLocks.LoadOrStore(siteID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (a *Aggregator) runSite(ctx context.Context, site sites.Site, mode Mode, now time.Time) []SiteReport {
	lock := siteLock(site.ID)
	lock.Lock()
	defer lock.Unlock()

	var reports []SiteReport
	switch mode {
	case ModeIncremental:
		from := a.hourlyStart(site.ID, now)
		reports = append(reports, a.runJob(ctx, site, JobHourly, from, now))
	case ModeDaily:
		from, to := a.dailyWindow(site.ID, now)
		reports = append(reports, a.runJob(ctx, site, JobDaily, from, to))
	case ModeFull:
		reports = append(reports,
			a.runJob(ctx, site, JobHourly, time.Time{}, now),
			a.runJob(ctx, site, JobDaily, time.Time{}, now),
		)
	}
	return reports
}

func (a *Aggregator) hourlyStart(siteID uint, now time.Time) time.Time {
	from := now.Add(-a.hourlyLookback).Truncate(time.Hour)
	if wm, ok := a.watermark(siteID, JobHourly); ok && wm.LastHitAt.Before(from) {
		from = wm.LastHitAt.UTC().Truncate(time.Hour)
	}
	return from
}

func (a *Aggregator) dailyWindow(siteID uint, now time.Time) (time.Time, time.Time) {
	to := startOfDay(now)
	from := to.AddDate(0, 0, -a.dailyLookbackDays)
	if wm, ok := a.watermark(siteID, JobDaily); ok && wm.LastHitAt.Before(from) {
		from = startOfDay(wm.LastHitAt)
	}
	return from, to
}

func (a *Aggregator) runJob(ctx context.Context, site sites.Site, job string, from, to time.Time) SiteReport {
	rep := SiteReport{SiteID: site.ID, Code: site.Code, Job: job, From: from, To: to}

	var (
		groups groupWriter
		err    error
	)
	switch job {
	case JobHourly:
		hourly := newHourlyGroups(site.ID)
		err = a.scan(ctx, site.ID, from, to, func(batch []hitRow) { hourly.add(batch) }, &rep)
		groups = hourly
	case JobDaily:
		daily := newDailyGroups(site.ID)
		err = a.scan(ctx, site.ID, from, to, func(batch []hitRow) { daily.add(batch) }, &rep)
		groups = daily
	}
	metrics.AggregationRecords.WithLabelValues(job).Add(float64(rep.RecordsProcessed))
	if err != nil {
		a.logger.Error("Failed to scan hits for aggregation",
			slog.String("site", site.Code),
			slog.String("job", job),
			slog.Any("error", err))
		rep.Error = err.Error()
		return rep
	}

	now := time.Now().UTC()
	for _, write := range groups.writes() {
		if ctx.Err() != nil {
			rep.Error = ctx.Err().Error()
			return rep
		}
		rep.GroupsAttempted++
		if err := write(a.db, now); err != nil {
			rep.GroupsFailed++
			metrics.AggregationGroups.WithLabelValues(job, "error").Inc()
			a.logger.Warn("Failed to upsert rollup group",
				slog.String("site", site.Code),
				slog.String("job", job),
				slog.Any("error", err))
			continue
		}
		metrics.AggregationGroups.WithLabelValues(job, "success").Inc()
	}

	if rep.GroupsFailed == 0 {
		if err := a.advanceWatermark(site.ID, job, rep.LastHitAt, now); err != nil {
			a.logger.Warn("Failed to advance aggregation watermark",
				slog.String("site", site.Code),
				slog.String("job", job),
				slog.Any("error", err))
		}
	}
	return rep
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// hitRow is the projection of a hit read by the jobs.
type hitRow struct {
	ID         uint
	PathID     uint
	RefID      *uint
	Session    string
	FirstVisit bool
	Event      bool
	CreatedAt  time.Time
}

// scan reads the site's hits in [from, to) in id order, batchSize rows at a
// time, pacing batches through the limiter.
func (a *Aggregator) scan(ctx context.Context, siteID uint, from, to time.Time, fn func([]hitRow), rep *SiteReport) error {
	var lastID uint
	for {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}

		var batch []hitRow
		err := a.db.WithContext(ctx).
			Table("hits").
			Select("hits.id AS id, hits.path_id AS path_id, hits.ref_id AS ref_id, hits.session AS session, "+
				"hits.first_visit AS first_visit, paths.event AS event, hits.created_at AS created_at").
			Joins("JOIN paths ON paths.id = hits.path_id").
			Where("hits.site_id = ? AND hits.created_at >= ? AND hits.created_at < ? AND hits.id > ?",
				siteID, from, to, lastID).
			Order("hits.id ASC").
			Limit(a.batchSize).
			Scan(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to read hits: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, row := range batch {
			if row.CreatedAt.After(rep.LastHitAt) {
				rep.LastHitAt = row.CreatedAt.UTC()
			}
		}
		rep.RecordsProcessed += len(batch)
		fn(batch)

		lastID = batch[len(batch)-1].ID
		if len(batch) < a.batchSize {
			return nil
		}
	}
}

func (a *Aggregator) watermark(siteID uint, job string) (*Watermark, bool) {
	var wm Watermark
	err := a.db.Where("site_id = ? AND job = ?", siteID, job).First(&wm).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			a.logger.Warn("Failed to read aggregation watermark", slog.Any("error", err))
		}
		return nil, false
	}
	if wm.LastHitAt.IsZero() {
		return nil, false
	}
	return &wm, true
}

// advanceWatermark moves the watermark forward to lastHitAt; it never moves
// it back.
func (a *Aggregator) advanceWatermark(siteID uint, job string, lastHitAt, now time.Time) error {
	return a.db.Exec(`
		INSERT INTO aggregation_watermarks (site_id, job, last_hit_at, last_run_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (site_id, job) DO UPDATE SET
			last_hit_at = CASE WHEN excluded.last_hit_at > aggregation_watermarks.last_hit_at
				THEN excluded.last_hit_at ELSE aggregation_watermarks.last_hit_at END,
			last_run_at = excluded.last_run_at
	`, siteID, job, lastHitAt, now).Error
}

// Watermarks lists the stored watermarks, optionally for one site.
func Watermarks(db *gorm.DB, siteID uint) ([]Watermark, error) {
	query := db.Order("site_id ASC, job ASC")
	if siteID != 0 {
		query = query.Where("site_id = ?", siteID)
	}
	var list []Watermark
	if err := query.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	return list, nil
}
