// Package scheduler runs the tracking pipeline on a fixed daily
// timetable, typically once in the morning and once in the evening.
package scheduler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"cian-tracker/internal/config"

	"github.com/robfig/cron/v3"
)

// Job is the unit of work the scheduler triggers.
type Job func() error

// Scheduler fires the tracking job at the configured run times.
type Scheduler struct {
	cron      *cron.Cron
	config    config.SchedulerConfig
	job       Job
	mutex     sync.Mutex
	isRunning bool
	running   bool
	lastRun   time.Time
	lastErr   error
}

// NewScheduler creates a scheduler for the given job. The configured
// timezone controls when the HH:MM run times fire; it falls back to
// the host timezone when the location cannot be loaded.
func NewScheduler(cfg config.SchedulerConfig, job Job) *Scheduler {
	opts := []cron.Option{}
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			opts = append(opts, cron.WithLocation(loc))
		} else {
			log.Printf("[Scheduler] unknown timezone %q, using local time: %v", cfg.Timezone, err)
		}
	}

	return &Scheduler{
		cron:   cron.New(opts...),
		config: cfg,
		job:    job,
	}
}

// Start registers the configured run times and starts the cron loop.
func (s *Scheduler) Start() error {
	if !s.config.Enabled {
		log.Println("[Scheduler] scheduled runs are disabled in configuration")
		return nil
	}

	for _, runTime := range s.config.RunTimes {
		spec, err := cronSpec(runTime)
		if err != nil {
			return fmt.Errorf("invalid run time %q: %w", runTime, err)
		}

		if _, err := s.cron.AddFunc(spec, func() {
			log.Println("[Scheduler] starting scheduled run")
			if err := s.run(); err != nil {
				log.Printf("[Scheduler] scheduled run failed: %v", err)
			} else {
				log.Println("[Scheduler] scheduled run completed")
			}
		}); err != nil {
			return fmt.Errorf("schedule %q: %w", runTime, err)
		}

		log.Printf("[Scheduler] scheduled daily run at %s (cron: %s)", runTime, spec)
	}

	s.cron.Start()
	s.isRunning = true
	return nil
}

// Stop stops the cron loop. A run already in progress finishes.
func (s *Scheduler) Stop() {
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
		log.Println("[Scheduler] stopped")
	}
}

// RunNow triggers the job immediately, outside the timetable.
func (s *Scheduler) RunNow() error {
	log.Println("[Scheduler] manual trigger")
	return s.run()
}

// run executes the job, refusing to overlap with a run in progress.
func (s *Scheduler) run() error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return fmt.Errorf("a run is already in progress")
	}
	s.running = true
	s.mutex.Unlock()

	err := s.job()

	s.mutex.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.lastErr = err
	s.mutex.Unlock()

	return err
}

// Status reports the last run time and error, and whether a run is
// currently in progress.
func (s *Scheduler) Status() (lastRun time.Time, running bool, lastErr error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastRun, s.running, s.lastErr
}

// cronSpec converts an HH:MM run time to a daily cron specification.
// Example: "09:00" -> "0 9 * * *".
func cronSpec(timeStr string) (string, error) {
	var hour, minute int
	n, err := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if err != nil || n != 2 {
		return "", fmt.Errorf("expected HH:MM format")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("time out of range")
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
