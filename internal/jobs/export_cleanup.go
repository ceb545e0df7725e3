package jobs

import (
	"context"
	"log/slog"
	"time"

	"pocketwebanalytics/internal/config"
	"pocketwebanalytics/internal/exports"
)

// ExportCleanupJob deletes finished exports past the retention period.
type ExportCleanupJob struct {
	dbManager ConnectionProvider
	logger    *slog.Logger
	cfg       *config.Config
	now       func() time.Time
}

func NewExportCleanupJob(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) *ExportCleanupJob {
	return &ExportCleanupJob{dbManager: dbManager, logger: logger, cfg: cfg, now: time.Now}
}

func (j *ExportCleanupJob) Name() string { return "export_cleanup" }

// Run removes exports older than the retention period. A non-positive
// retention keeps everything.
func (j *ExportCleanupJob) Run(ctx context.Context) error {
	retentionDays := j.cfg.ExportRetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -retentionDays)

	exporter := exports.NewExporter(j.dbManager.GetConnection(), j.logger, j.cfg.ExportsDirectory(), nil)
	deleted, err := exporter.Purge(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("Cleaned up old exports",
			slog.Int("deleted_count", deleted),
			slog.Int("retention_days", retentionDays))
	}
	return nil
}
