package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/vpnradius/backend/internal/logstore"
)

const loggerName = "scheduler"

// A run more overdue than this is skipped instead of executed late.
const misfireGrace = 60 * time.Second

type job struct {
	name     string
	interval time.Duration
	fn       func() error
	nextRun  time.Time
}

// Scheduler runs all registered jobs on one worker goroutine. Serial
// execution means a job can never overlap itself or any other job, which
// the flush and cleanup jobs rely on for ordering. A slow job delays the
// others; overdue runs are coalesced into a single run, and runs missed by
// more than the misfire grace are skipped.
type Scheduler struct {
	logs *logstore.Store

	mu       sync.Mutex
	jobs     []*job
	started  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(logs *logstore.Store) *Scheduler {
	return &Scheduler{
		logs:     logs,
		stopChan: make(chan struct{}),
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn func() error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}
	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches the worker. Each job first fires one interval from now.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	now := time.Now()
	for _, j := range s.jobs {
		j.nextRun = now.Add(j.interval)
	}

	s.logs.Infof(loggerName, "starting with %d jobs", len(s.jobs))
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next := s.nextDue()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(next))

		select {
		case <-s.stopChan:
			return
		case <-timer.C:
			s.runDue(time.Now())
		}
	}
}

func (s *Scheduler) nextDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := time.Now().Add(time.Hour)
	for _, j := range s.jobs {
		if j.nextRun.Before(next) {
			next = j.nextRun
		}
	}
	return next
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.nextRun.After(now) {
			due = append(due, j)
			overdue := now.Sub(j.nextRun)
			// Coalesce: however many runs were missed, schedule exactly
			// one next run from now.
			j.nextRun = now.Add(j.interval)
			if overdue > misfireGrace {
				s.logs.Warnf(loggerName, "job %s missed its window by %s, skipping run", j.name, overdue.Round(time.Second))
				due = due[:len(due)-1]
			}
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		start := time.Now()
		if err := j.fn(); err != nil {
			s.logs.Errorf(loggerName, "job %s failed: %v", j.name, err)
		} else {
			s.logs.Debugf(loggerName, "job %s completed in %s", j.name, time.Since(start).Round(time.Millisecond))
		}
	}
}

// Stop halts the worker and waits for any running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logs.Infof(loggerName, "stopped")
}
