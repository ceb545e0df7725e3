package aggregation

import (
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/natefinch/lumberjack.v2"

	"pocketwebanalytics/internal/config"
)

// SiteReport summarises one job over one site.
type SiteReport struct {
	SiteID           uint      `json:"site_id"`
	Code             string    `json:"code"`
	Job              string    `json:"job"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	RecordsProcessed int       `json:"records_processed"`
	GroupsAttempted  int       `json:"groups_attempted"`
	GroupsFailed     int       `json:"groups_failed"`
	LastHitAt        time.Time `json:"last_hit_at"`
	Error            string    `json:"error,omitempty"`
}

// Report summarises a run.
type Report struct {
	Mode       Mode         `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Sites      []SiteReport `json:"sites"`
}

// RecordsProcessed is the number of hits scanned across all sites.
func (r *Report) RecordsProcessed() int {
	n := 0
	for _, s := range r.Sites {
		n += s.RecordsProcessed
	}
	return n
}

// GroupsAttempted is the number of rollup rows written or tried.
func (r *Report) GroupsAttempted() int {
	n := 0
	for _, s := range r.Sites {
		n += s.GroupsAttempted
	}
	return n
}

// GroupsFailed is the number of rollup rows that could not be written.
func (r *Report) GroupsFailed() int {
	n := 0
	for _, s := range r.Sites {
		n += s.GroupsFailed
	}
	return n
}

// NewReportLog returns a rotating writer for aggregation reports in the logs
// directory.
func NewReportLog(cfg *config.Config) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.GetLogDirectory(), "aggregation.log"),
		MaxSize:    cfg.GetLogMaxSizeMB(),
		MaxBackups: cfg.GetLogMaxBackups(),
		MaxAge:     cfg.GetLogMaxAgeDays(),
		Compress:   true,
	}
}

func (a *Aggregator) writeReport(report *Report) {
	if a.reportLog == nil {
		return
	}
	line, err := json.Marshal(report)
	if err != nil {
		a.logger.Warn("Failed to encode aggregation report", slog.Any("error", err))
		return
	}
	line = append(line, '\n')
	if _, err := a.reportLog.Write(line); err != nil {
		a.logger.Warn("Failed to write aggregation report", slog.Any("error", err))
	}
}
