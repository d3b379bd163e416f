package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/common"
	"github.com/AyanbekDos/smeta-2/internal/interfaces"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// jobEntry represents a registered periodic job
type jobEntry struct {
	name      string
	schedule  string
	handler   func()
	cronID    cron.EntryID
	lastRun   *time.Time
	isRunning bool
}

// Service is the process-wide owner of delayed and periodic callbacks
type Service struct {
	cron   *cron.Cron
	logger arbor.ILogger

	mu        sync.Mutex // Protects every field below
	jobs      map[string]*jobEntry
	timers    map[uint64]*time.Timer
	nextTimer uint64
	running   bool
	stopped   bool
	inFlight  sync.WaitGroup
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		timers: make(map[uint64]*time.Timer),
	}
}

// After runs fn once after d on its own goroutine. Panics are recovered.
// The returned func cancels the callback and reports whether it was prevented.
func (s *Service) After(d time.Duration, name string, fn func()) interfaces.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn().Str("timer", name).Msg("Scheduler stopped, delayed callback dropped")
		return func() bool { return false }
	}

	s.nextTimer++
	id := s.nextTimer

	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if _, ok := s.timers[id]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.inFlight.Add(1)
		s.mu.Unlock()

		defer s.inFlight.Done()
		defer common.RecoverGoroutine(s.logger, name)

		s.logger.Debug().Str("timer", name).Msg("Delayed callback fired")
		fn()
	})

	s.logger.Debug().
		Str("timer", name).
		Dur("delay", d).
		Msg("Delayed callback scheduled")

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		timer, ok := s.timers[id]
		if !ok {
			return false
		}
		delete(s.timers, id)
		return timer.Stop()
	}
}

// Every registers fn on a cron schedule (standard 5-field or @every descriptors)
func (s *Service) Every(schedule string, name string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  fn,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins running periodic jobs
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.stopped {
		return
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop halts periodic jobs, drops pending delayed callbacks and waits for
// callbacks that already started
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	dropped := 0
	for id, timer := range s.timers {
		if timer.Stop() {
			dropped++
		}
		delete(s.timers, id)
	}
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.inFlight.Wait()

	s.logger.Info().Int("dropped_timers", dropped).Msg("Scheduler stopped")
}

// IsRunning reports whether periodic jobs are active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PendingTimers returns the number of armed delayed callbacks
func (s *Service) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// TriggerJob runs a registered job immediately in the background
func (s *Service) TriggerJob(name string) error {
	s.mu.Lock()
	_, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	common.SafeGo(s.logger, "trigger:"+name, func() {
		s.executeJob(name)
	})
	return nil
}

// executeJob runs a job handler, skipping the run if the previous one is still active
func (s *Service) executeJob(name string) {
	s.mu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	if entry.isRunning {
		s.mu.Unlock()
		s.logger.Debug().Str("job_name", name).Msg("Job still running, skipping this run")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.mu.Unlock()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job execution")
		}

		completed := time.Now()
		s.mu.Lock()
		entry.isRunning = false
		entry.lastRun = &completed
		s.mu.Unlock()
	}()

	handler()

	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", time.Since(started)).
		Msg("Job execution completed")
}
