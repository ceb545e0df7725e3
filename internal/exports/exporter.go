package exports

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/hits"
	"pocketwebanalytics/internal/metrics"
	"pocketwebanalytics/internal/pkg/async"
)

const readBatchSize = 500

// Request describes an export to generate.
type Request struct {
	SiteID           uint
	Format           string
	DateFrom         *time.Time
	DateTo           *time.Time
	IncludeCampaigns bool
}

// Exporter creates export rows and generates their files in the background.
type Exporter struct {
	db     *gorm.DB
	logger *slog.Logger
	dir    string
	queue  *async.Queue
}

// NewExporter creates an Exporter writing into dir. With a nil queue files
// are generated synchronously by Start.
func NewExporter(db *gorm.DB, logger *slog.Logger, dir string, queue *async.Queue) *Exporter {
	return &Exporter{db: db, logger: logger, dir: dir, queue: queue}
}

// Start records a processing export and schedules its generation.
func (e *Exporter) Start(req Request) (*Export, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if !ValidFormat(req.Format) {
		return nil, ErrInvalidFormat
	}

	exp := &Export{
		SiteID:           req.SiteID,
		Format:           req.Format,
		Status:           StatusProcessing,
		DateFrom:         req.DateFrom,
		DateTo:           req.DateTo,
		IncludeCampaigns: req.IncludeCampaigns,
	}
	err := sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		return tx.Create(exp).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create export: %w", err)
	}

	job := func() {
		if err := e.Generate(context.Background(), exp); err != nil {
			e.logger.Error("Export failed", slog.Uint64("export_id", uint64(exp.ID)), slog.Any("error", err))
		}
	}
	if e.queue == nil {
		job()
		return exp, nil
	}
	if err := e.queue.Submit(job); err != nil {
		e.finish(exp, err)
		return exp, nil
	}
	return exp, nil
}

// FilePath is where an export's file lives.
func (e *Exporter) FilePath(exp *Export) string {
	return filepath.Join(e.dir, exp.Filename)
}

// Generate writes the export's file and marks the row completed, or error
// when writing fails.
func (e *Exporter) Generate(ctx context.Context, exp *Export) error {
	exp.Filename = fmt.Sprintf("analytics_export_%s_%d.%s", exp.CreatedAt.UTC().Format("2006-01-02"), exp.ID, exp.Format)

	numRows, size, err := e.writeFile(ctx, exp)
	exp.NumRows = numRows
	exp.Size = size
	e.finish(exp, err)
	return err
}

func (e *Exporter) writeFile(ctx context.Context, exp *Export) (int, int64, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("failed to create exports directory: %w", err)
	}

	f, err := os.Create(e.FilePath(exp))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	counter := &countingWriter{w: f}
	buf := bufio.NewWriter(counter)

	var enc encoder
	switch exp.Format {
	case FormatJSON:
		total, err := e.count(exp)
		if err != nil {
			return 0, 0, err
		}
		enc = newJSONEncoder(buf, exp, total)
	default:
		enc = newCSVEncoder(buf, exp.IncludeCampaigns)
	}

	if err := enc.begin(); err != nil {
		return 0, 0, err
	}
	numRows := 0
	var batch []hits.Hit
	err = e.query(exp).FindInBatches(&batch, readBatchSize, func(tx *gorm.DB, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range batch {
			if err := enc.record(newRecord(&batch[i], exp.IncludeCampaigns)); err != nil {
				return err
			}
			numRows++
		}
		return nil
	}).Error
	if err != nil {
		return numRows, 0, fmt.Errorf("failed to read hits: %w", err)
	}
	if err := enc.end(); err != nil {
		return numRows, 0, err
	}
	if err := buf.Flush(); err != nil {
		return numRows, 0, fmt.Errorf("failed to write export: %w", err)
	}
	return numRows, counter.n, nil
}

func (e *Exporter) query(exp *Export) *gorm.DB {
	q := e.db.Model(&hits.Hit{}).Where("site_id = ?", exp.SiteID)
	if exp.DateFrom != nil {
		q = q.Where("created_at >= ?", exp.DateFrom.UTC())
	}
	if exp.DateTo != nil {
		q = q.Where("created_at <= ?", exp.DateTo.UTC())
	}
	for _, assoc := range hits.Preloaded() {
		q = q.Preload(assoc)
	}
	return q
}

func (e *Exporter) count(exp *Export) (int, error) {
	var n int64
	q := e.db.Model(&hits.Hit{}).Where("site_id = ?", exp.SiteID)
	if exp.DateFrom != nil {
		q = q.Where("created_at >= ?", exp.DateFrom.UTC())
	}
	if exp.DateTo != nil {
		q = q.Where("created_at <= ?", exp.DateTo.UTC())
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count hits: %w", err)
	}
	return int(n), nil
}

func (e *Exporter) finish(exp *Export, genErr error) {
	now := time.Now().UTC()
	exp.FinishedAt = &now
	exp.Status = StatusCompleted
	exp.Error = ""
	if genErr != nil {
		exp.Status = StatusError
		exp.Error = genErr.Error()
	}
	metrics.ExportsTotal.WithLabelValues(exp.Status).Inc()

	err := sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		return tx.Model(&Export{}).Where("id = ?", exp.ID).Updates(map[string]any{
			"status":      exp.Status,
			"error":       exp.Error,
			"num_rows":    exp.NumRows,
			"size":        exp.Size,
			"filename":    exp.Filename,
			"finished_at": now,
		}).Error
	})
	if err != nil {
		e.logger.Error("Failed to update export", slog.Uint64("export_id", uint64(exp.ID)), slog.Any("error", err))
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Purge deletes finished exports created before cutoff together with their
// files. Exports still processing are left alone.
func (e *Exporter) Purge(cutoff time.Time) (int, error) {
	var stale []Export
	err := e.db.Where("created_at < ? AND status <> ?", cutoff.UTC(), StatusProcessing).
		Order("id ASC").
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale exports: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]uint, 0, len(stale))
	for i := range stale {
		if stale[i].Filename != "" {
			if err := os.Remove(e.FilePath(&stale[i])); err != nil && !errors.Is(err, fs.ErrNotExist) {
				e.logger.Warn("Failed to remove export file",
					slog.Uint64("export_id", uint64(stale[i].ID)),
					slog.Any("error", err))
				continue
			}
		}
		ids = append(ids, stale[i].ID)
	}

	err = sqlite.PerformWrite(e.logger, e.db, func(tx *gorm.DB) error {
		return tx.Where("id IN ?", ids).Delete(&Export{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale exports: %w", err)
	}
	return len(ids), nil
}
