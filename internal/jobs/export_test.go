package jobs

import (
	"log/slog"
	"time"
)

var InstallMMDB = installMMDB

func NewBareScheduler(logger *slog.Logger) *Scheduler {
	return newScheduler(logger)
}

func (s *Scheduler) ExecuteJobSafely(job Job) {
	s.executeJobSafely(job)
}

func (j *GeoLiteUpdaterJob) SetDownloadURL(url string) {
	j.downloadURL = url
}

func (j *ExportCleanupJob) SetNow(now func() time.Time) {
	j.now = now
}
