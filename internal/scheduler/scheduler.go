// Package scheduler implements the in-process time-based dispatcher
// (spec C14): one-shot and recurring (5-field cron + IANA timezone) jobs,
// durable re-registration on startup, and a state machine that guarantees
// at most one firing per instant per job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

type State string

const (
	StateScheduled State = "scheduled"
	StateFiring    State = "firing"
	StateExhausted State = "exhausted"
)

// Kind distinguishes one-shot reminders from recurring cron jobs.
type Kind string

const (
	KindOneShot   Kind = "one_shot"
	KindRecurring Kind = "recurring"
)

// Job is a durable scheduled dispatch.
type Job struct {
	ID         uuid.UUID
	Principal  string
	Kind       Kind
	CronExpr   string    // recurring only; may carry a "CRON_TZ=Zone " prefix
	FireAt     time.Time // one-shot only
	Payload    string
	State      State
	LastFired  time.Time
}

// DispatchFunc delivers a due job's payload to its principal through the
// same egress path and rate limiter user replies use.
type DispatchFunc func(ctx context.Context, job Job) error

// Store persists job registrations; DeleteCronJob/SaveCronJob etc. in
// internal/repository satisfy a narrower version of this depending on the
// caller's wiring, so Scheduler depends on this minimal interface instead.
type Store interface {
	Save(ctx context.Context, job Job) error
	ListActive(ctx context.Context) ([]Job, error)
	MarkInactive(ctx context.Context, id uuid.UUID) error
}

// Scheduler polls registered jobs on a fixed tick and dispatches the ones
// that have come due. One firing per instant per job is guaranteed by
// only ever considering a job's single next-tick at a time.
type Scheduler struct {
	store    Store
	dispatch DispatchFunc
	tick     time.Duration

	cron gronx.Gronx

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func New(store Store, dispatch DispatchFunc, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{store: store, dispatch: dispatch, tick: tick, cron: gronx.New(), jobs: make(map[uuid.UUID]*Job)}
}

// Start re-registers every durable active job verbatim, then runs the
// poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	existing, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list active jobs: %w", err)
	}
	s.mu.Lock()
	for i := range existing {
		j := existing[i]
		s.jobs[j.ID] = &j
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.pollOnce(ctx, now)
		}
	}
}

// Register validates and adds a new job, persisting it before returning.
func (s *Scheduler) Register(ctx context.Context, job Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Kind == KindRecurring {
		if !s.cron.IsValid(job.CronExpr) {
			return fmt.Errorf("scheduler: invalid cron expression %q", job.CronExpr)
		}
	}
	job.State = StateScheduled
	if err := s.store.Save(ctx, job); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[job.ID] = &job
	s.mu.Unlock()
	return nil
}

// Delete marks a job inactive and stops considering it for dispatch.
func (s *Scheduler) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	return s.store.MarkInactive(ctx, id)
}

func (s *Scheduler) pollOnce(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0)
	for _, j := range s.jobs {
		if j.State == StateExhausted {
			continue
		}
		if s.isDue(j, now) {
			j.State = StateFiring
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fire(ctx, j, now)
	}
}

func (s *Scheduler) isDue(j *Job, now time.Time) bool {
	switch j.Kind {
	case KindOneShot:
		return !j.FireAt.After(now) && j.LastFired.IsZero()
	case KindRecurring:
		due, err := s.cron.IsDue(j.CronExpr, now)
		if err != nil {
			slog.Error("scheduler: cron evaluation failed", "job", j.ID, "error", err)
			return false
		}
		// Guard against firing twice within the same minute tick.
		return due && now.Truncate(time.Minute).After(j.LastFired.Truncate(time.Minute))
	default:
		return false
	}
}

func (s *Scheduler) fire(ctx context.Context, j *Job, now time.Time) {
	err := s.dispatch(ctx, *j)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Error("scheduler: dispatch failed", "job", j.ID, "error", err)
		j.State = StateScheduled
		return
	}
	j.LastFired = now
	if j.Kind == KindOneShot {
		j.State = StateExhausted
		delete(s.jobs, j.ID)
		if merr := s.store.MarkInactive(ctx, j.ID); merr != nil {
			slog.Error("scheduler: mark inactive failed", "job", j.ID, "error", merr)
		}
		return
	}
	j.State = StateScheduled
}
