package jobs

import (
	"context"
	"io"
	"log/slog"

	"pocketwebanalytics/internal/aggregation"
	"pocketwebanalytics/internal/config"
)

// AggregationJob runs one aggregation mode over every active site.
type AggregationJob struct {
	dbManager ConnectionProvider
	logger    *slog.Logger
	cfg       *config.Config
	mode      aggregation.Mode
	reportLog io.Writer
}

// NewAggregationJobs returns the incremental hourly job and the daily job.
// Both append their reports to the shared aggregation log.
func NewAggregationJobs(dbManager ConnectionProvider, logger *slog.Logger, cfg *config.Config) (*AggregationJob, *AggregationJob) {
	reportLog := aggregation.NewReportLog(cfg)
	hourly := &AggregationJob{dbManager: dbManager, logger: logger, cfg: cfg, mode: aggregation.ModeIncremental, reportLog: reportLog}
	daily := &AggregationJob{dbManager: dbManager, logger: logger, cfg: cfg, mode: aggregation.ModeDaily, reportLog: reportLog}
	return hourly, daily
}

func (j *AggregationJob) Name() string {
	return "aggregation_" + string(j.mode)
}

func (j *AggregationJob) Run(ctx context.Context) error {
	agg := aggregation.New(j.dbManager.GetConnection(), j.logger, j.cfg)
	if j.reportLog != nil {
		agg = agg.WithReportLog(j.reportLog)
	}
	_, err := agg.Run(ctx, aggregation.Options{Mode: j.mode})
	return err
}
