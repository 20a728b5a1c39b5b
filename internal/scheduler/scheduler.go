// Package scheduler provides scheduling for the bot.
//
// It runs recurring maintenance jobs through cron expressions and manages
// one-shot follow-up tasks that can be cancelled before they fire. Every
// scheduled follow-up is an explicit record: callers can enumerate and cancel
// what is pending instead of racing anonymous timers.
package scheduler

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conecta2tel/conectabot/internal/store"
	"github.com/conecta2tel/conectabot/internal/util"
)

// Journal persists pending one-shot tasks so follow-up reminders survive a
// restart. Satisfied by store.Store.
type Journal interface {
	SaveFollowUp(f store.FollowUp) error
	DeleteFollowUp(id string) error
}

// Task is a handle to a scheduled one-shot follow-up.
type Task struct {
	ID    string
	Kind  string
	RunAt time.Time
}

type pendingTask struct {
	task   Task
	cancel func() bool
}

// Scheduler runs cron maintenance jobs and cancellable one-shot tasks.
type Scheduler struct {
	cron *cron.Cron

	journal Journal

	mu      sync.Mutex
	pending map[string]*pendingTask

	// afterFunc is swapped in tests for deterministic firing. It must return
	// a stop function reporting whether the task had not yet fired.
	afterFunc func(d time.Duration, fn func()) func() bool
	now       func() time.Time
	newID     func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithAfterFunc injects the timer constructor used for one-shot tasks.
func WithAfterFunc(f func(d time.Duration, fn func()) func() bool) Option {
	return func(s *Scheduler) { s.afterFunc = f }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithJournal records every one-shot task in the journal while it is
// pending, so the caller can restore unfired follow-ups after a restart.
func WithJournal(j Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// NewScheduler creates and starts a scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()

	s := &Scheduler{
		cron:    c,
		pending: make(map[string]*pendingTask),
		afterFunc: func(d time.Duration, fn func()) func() bool {
			t := time.AfterFunc(d, fn)
			return t.Stop
		},
		now:   time.Now,
		newID: util.GenerateTaskID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob schedules a recurring task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Schedule registers a one-shot task that fires after delay. Recipient and
// payload describe the outbound nudge for the journal, so the task can be
// restored after a restart without involving the flow that scheduled it.
// The returned handle's ID cancels it. The callback receives the task id so
// it can clean up its own record.
func (s *Scheduler) Schedule(kind, recipient, payload string, delay time.Duration, fn func(taskID string)) Task {
	id := s.newID()
	now := s.now()
	task := Task{ID: id, Kind: kind, RunAt: now.Add(delay)}

	if s.journal != nil {
		err := s.journal.SaveFollowUp(store.FollowUp{
			ID:        id,
			Recipient: recipient,
			Kind:      kind,
			Payload:   payload,
			RunAt:     task.RunAt,
			CreatedAt: now,
		})
		if err != nil {
			slog.Warn("Scheduler Schedule journal write failed", "task_id", id, "kind", kind, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cancel := s.afterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		s.forgetJournal(id)
		fn(id)
	})
	s.pending[id] = &pendingTask{task: task, cancel: cancel}
	slog.Debug("Scheduler Schedule registered task", "task_id", id, "kind", kind, "run_at", task.RunAt)
	return task
}

// Cancel stops a pending task. It reports whether the task was still pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	stopped := p.cancel()
	s.forgetJournal(id)
	slog.Debug("Scheduler Cancel", "task_id", id, "stopped", stopped)
	return stopped
}

func (s *Scheduler) forgetJournal(id string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.DeleteFollowUp(id); err != nil {
		slog.Warn("Scheduler journal delete failed", "task_id", id, "error", err)
	}
}

// CancelKind cancels every pending task of the given kind for convenience
// when a conversation moves on. Returns the number cancelled.
func (s *Scheduler) CancelKind(kind string) int {
	s.mu.Lock()
	var ids []string
	for id, p := range s.pending {
		if p.task.Kind == kind {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		if s.Cancel(id) {
			n++
		}
	}
	return n
}

// Pending lists the not-yet-fired tasks ordered by run time.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

// Stop stops the cron scheduler, waits for running jobs and cancels every
// pending one-shot task. Journal records are left in place so the tasks can
// be restored on the next start.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	pending := make([]*pendingTask, 0, len(s.pending))
	for _, p := range s.pending {
		pending = append(pending, p)
	}
	s.pending = make(map[string]*pendingTask)
	s.mu.Unlock()

	for _, p := range pending {
		p.cancel()
	}
	slog.Debug("Scheduler Stop completed", "cancelled", len(pending))
}
