// Package scheduler runs send jobs at a point in time, on an interval, or on
// a cron expression, with state persisted so jobs survive restarts.
package scheduler

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/bravo1goingdark/mailpool/database"
	"github.com/bravo1goingdark/mailpool/logger"
)

// pollInterval bounds how late a due job can fire.
const pollInterval = 500 * time.Millisecond

// Handler executes one due job.
type Handler func(database.Job) error

// Scheduler provides durable job scheduling backed by a JobStore.
type Scheduler struct {
	db      *database.JobStore
	log     logger.Logger
	handler Handler

	mu   sync.Mutex
	jobs map[string]database.Job

	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs a scheduler, warms its cache from the store and starts the
// dispatch loop. The handler runs for every due job.
func New(db *database.JobStore, log logger.Logger, handler Handler) *Scheduler {
	s := &Scheduler{
		db:      db,
		log:     log,
		handler: handler,
		jobs:    make(map[string]database.Job),
		quit:    make(chan struct{}),
	}
	if jobs, err := db.LoadJobs(); err == nil {
		for _, j := range jobs {
			if j.Status == "pending" || j.Status == "running" {
				j.Status = "pending"
				s.jobs[j.ID] = j
			}
		}
	} else {
		log.Warnf("could not warm job cache: %v", err)
	}

	s.wg.Add(1)
	go s.dispatchLoop()
	return s
}

func newJobID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Int())
}

// ScheduleAt runs payload once at the given time.
func (s *Scheduler) ScheduleAt(runAt time.Time, payload json.RawMessage) (string, error) {
	return s.add(database.Job{RunAt: runAt, Payload: payload})
}

// ScheduleEvery runs payload repeatedly at a fixed interval, starting one
// interval from now.
func (s *Scheduler) ScheduleEvery(interval time.Duration, payload json.RawMessage) (string, error) {
	if interval <= 0 {
		return "", errors.New("interval must be positive")
	}
	return s.add(database.Job{RunAt: time.Now().Add(interval), Interval: interval, Payload: payload})
}

// ScheduleCron runs payload on a cron expression.
func (s *Scheduler) ScheduleCron(expr string, payload json.RawMessage) (string, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid cron expression %q", expr)
	}
	return s.add(database.Job{RunAt: sched.Next(time.Now()), CronExpr: expr, Payload: payload})
}

func (s *Scheduler) add(job database.Job) (string, error) {
	now := time.Now()
	job.ID = newJobID()
	job.Status = "pending"
	job.CreatedAt = now
	job.UpdatedAt = now
	job.NextRunAt = job.RunAt

	if err := s.db.SaveJob(&job); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	s.log.Infof("scheduled job %s for %s", job.ID, job.RunAt.Format(time.RFC3339))
	return job.ID, nil
}

// Cancel removes a job by ID.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	_, known := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if !known {
		return errors.Errorf("unknown job %s", id)
	}
	return s.db.DeleteJob(id)
}

// List returns all live jobs.
func (s *Scheduler) List() []database.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Close stops the dispatch loop and waits for running handlers.
func (s *Scheduler) Close() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case now := <-ticker.C:
			s.runDue(now)
		}
	}
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	var due []database.Job
	for id, j := range s.jobs {
		if j.Status == "pending" && !j.NextRunAt.After(now) {
			j.Status = "running"
			s.jobs[id] = j
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(job)
		}()
	}
}

func (s *Scheduler) runJob(job database.Job) {
	err := s.handler(job)
	if err != nil {
		s.log.Errorf("job %s failed: %v", job.ID, err)
	} else {
		s.log.Infof("job %s completed", job.ID)
	}

	now := time.Now()
	job.LastRunAt = now
	job.UpdatedAt = now

	next, recurring := s.nextRun(job, now)
	s.mu.Lock()
	if recurring {
		job.Status = "pending"
		job.NextRunAt = next
		s.jobs[job.ID] = job
	} else {
		if err != nil {
			job.Status = "failed"
		} else {
			job.Status = "done"
		}
		delete(s.jobs, job.ID)
	}
	s.mu.Unlock()

	if recurring {
		if err := s.db.SaveJob(&job); err != nil {
			s.log.Errorf("could not persist job %s: %v", job.ID, err)
		}
	} else if err := s.db.DeleteJob(job.ID); err != nil {
		s.log.Errorf("could not delete job %s: %v", job.ID, err)
	}
}

func (s *Scheduler) nextRun(job database.Job, now time.Time) (time.Time, bool) {
	switch {
	case job.CronExpr != "":
		sched, err := cron.ParseStandard(job.CronExpr)
		if err != nil {
			s.log.Errorf("job %s has invalid cron expression %q", job.ID, job.CronExpr)
			return time.Time{}, false
		}
		return sched.Next(now), true
	case job.Interval > 0:
		return now.Add(job.Interval), true
	}
	return time.Time{}, false
}
