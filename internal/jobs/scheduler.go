// Package jobs runs the scheduled background work: aggregation, export
// retention and GeoLite refreshes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"pocketwebanalytics/internal/config"
)

// ConnectionProvider hands out the shared database connection.
type ConnectionProvider interface {
	GetConnection() *gorm.DB
}

// Job is one unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. It implements
// cartridge.BackgroundWorker.
type Scheduler struct {
	logger  *slog.Logger
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries []entry

	mu      sync.Mutex
	running map[string]bool
	started bool
}

type entry struct {
	spec string
	job  Job
}

// NewScheduler creates the scheduler with the application's jobs.
func NewScheduler(dbManager ConnectionProvider, logger *slog.Logger) (*Scheduler, error) {
	cfg := config.GetConfig()
	s := newScheduler(logger)

	hourly, daily := NewAggregationJobs(dbManager, logger, cfg)
	schedules := []entry{
		{cfg.HourlyAggregationSchedule, hourly},
		{cfg.DailyAggregationSchedule, daily},
		{cfg.ExportCleanupSchedule, NewExportCleanupJob(dbManager, logger, cfg)},
		{cfg.GeoLiteUpdateSchedule, NewGeoLiteUpdaterJob(dbManager, logger, cfg)},
	}
	for _, e := range schedules {
		if err := s.Add(e.spec, e.job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func newScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Add schedules job on a standard five-field cron spec. An empty spec leaves
// the job unscheduled.
func (s *Scheduler) Add(spec string, job Job) error {
	if spec == "" {
		s.logger.Info("Job disabled", slog.String("job", job.Name()))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.executeJobSafely(job) }); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, job.Name(), err)
	}
	s.entries = append(s.entries, entry{spec: spec, job: job})
	return nil
}

// executeJobSafely runs a job unless a previous run of it is still going,
// recovering any panic.
func (s *Scheduler) executeJobSafely(job Job) {
	name := job.Name()

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Debug("Skipping job execution - previous run still going", slog.String("job", name))
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", name),
				slog.Any("panic", r))
		}

		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", name), slog.Any("error", err))
	}
}

// Start begins running the scheduled jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.cron.Start()
	s.started = true
	for _, e := range s.entries {
		s.logger.Info("Scheduled background job",
			slog.String("job", e.job.Name()),
			slog.String("schedule", e.spec))
	}
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	s.logger.Info("Background jobs stopped")
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
