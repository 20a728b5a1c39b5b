package scheduler

import (
	"testing"
	"time"

	"github.com/conecta2tel/conectabot/internal/store"
)

// manualTimers collects scheduled callbacks so tests fire them explicitly.
type manualTimers struct {
	fns []func()
}

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) func() bool {
	idx := len(m.fns)
	m.fns = append(m.fns, fn)
	fired := false
	return func() bool {
		if fired || m.fns[idx] == nil {
			return false
		}
		m.fns[idx] = nil
		return true
	}
}

func (m *manualTimers) fire(i int) {
	if fn := m.fns[i]; fn != nil {
		m.fns[i] = nil
		fn()
	}
}

func newTestScheduler(t *testing.T, timers *manualTimers) *Scheduler {
	t.Helper()
	s := NewScheduler(WithAfterFunc(timers.afterFunc))
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleAndFire(t *testing.T) {
	timers := &manualTimers{}
	s := newTestScheduler(t, timers)

	var gotID string
	task := s.Schedule("inactivity", "573001112233", "sigues ahi?", 10*time.Minute, func(id string) { gotID = id })

	if pending := s.Pending(); len(pending) != 1 || pending[0].ID != task.ID {
		t.Fatalf("pending = %+v", pending)
	}

	timers.fire(0)
	if gotID != task.ID {
		t.Errorf("callback id = %q, want %q", gotID, task.ID)
	}
	if pending := s.Pending(); len(pending) != 0 {
		t.Errorf("fired task must leave the pending set, got %+v", pending)
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	timers := &manualTimers{}
	s := newTestScheduler(t, timers)

	fired := false
	task := s.Schedule("inactivity", "573001112233", "sigues ahi?", 10*time.Minute, func(string) { fired = true })

	if !s.Cancel(task.ID) {
		t.Fatal("cancel of a pending task must report true")
	}
	if s.Cancel(task.ID) {
		t.Error("second cancel must report false")
	}
	if fired {
		t.Error("cancelled task must not fire")
	}
	if len(s.Pending()) != 0 {
		t.Error("cancelled task must leave the pending set")
	}
}

func TestCancelKind(t *testing.T) {
	timers := &manualTimers{}
	s := newTestScheduler(t, timers)

	s.Schedule("inactivity", "573001112233", "", time.Minute, func(string) {})
	s.Schedule("inactivity", "573001112233", "", 2*time.Minute, func(string) {})
	s.Schedule("expiry_warning", "573001112233", "", time.Minute, func(string) {})

	if n := s.CancelKind("inactivity"); n != 2 {
		t.Errorf("cancelled = %d, want 2", n)
	}
	pending := s.Pending()
	if len(pending) != 1 || pending[0].Kind != "expiry_warning" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestPendingOrderedByRunAt(t *testing.T) {
	timers := &manualTimers{}
	s := newTestScheduler(t, timers)

	s.Schedule("b", "573001112233", "", 2*time.Hour, func(string) {})
	s.Schedule("a", "573001112233", "", time.Hour, func(string) {})

	pending := s.Pending()
	if len(pending) != 2 || pending[0].Kind != "a" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestJournalTracksPendingTasks(t *testing.T) {
	timers := &manualTimers{}
	st := store.NewInMemoryStore()
	s := NewScheduler(WithAfterFunc(timers.afterFunc), WithJournal(st))
	t.Cleanup(s.Stop)

	task := s.Schedule("handover_reminder:573001112233", "573001112233", "seguimos contigo", 10*time.Minute, func(string) {})

	pending, err := st.ListPendingFollowUps()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("journaled follow-ups = %d, want 1", len(pending))
	}
	f := pending[0]
	if f.ID != task.ID || f.Recipient != "573001112233" || f.Payload != "seguimos contigo" {
		t.Errorf("unexpected journal record %+v", f)
	}
	if !f.RunAt.Equal(task.RunAt) {
		t.Errorf("RunAt = %v, want %v", f.RunAt, task.RunAt)
	}

	timers.fire(0)
	if pending, _ = st.ListPendingFollowUps(); len(pending) != 0 {
		t.Errorf("fired task must leave the journal, got %+v", pending)
	}
}

func TestJournalClearedOnCancel(t *testing.T) {
	timers := &manualTimers{}
	st := store.NewInMemoryStore()
	s := NewScheduler(WithAfterFunc(timers.afterFunc), WithJournal(st))
	t.Cleanup(s.Stop)

	task := s.Schedule("handover_reminder:573001112233", "573001112233", "seguimos contigo", 10*time.Minute, func(string) {})
	s.Cancel(task.ID)

	if pending, _ := st.ListPendingFollowUps(); len(pending) != 0 {
		t.Errorf("cancelled task must leave the journal, got %+v", pending)
	}
}

func TestJournalSurvivesStop(t *testing.T) {
	timers := &manualTimers{}
	st := store.NewInMemoryStore()
	s := NewScheduler(WithAfterFunc(timers.afterFunc), WithJournal(st))

	s.Schedule("handover_reminder:573001112233", "573001112233", "seguimos contigo", 10*time.Minute, func(string) {})
	s.Stop()

	// Shutdown is not cancellation: the record must stay so the next start
	// can restore the reminder.
	if pending, _ := st.ListPendingFollowUps(); len(pending) != 1 {
		t.Errorf("journal after Stop = %+v, want the pending record kept", pending)
	}
}

func TestAddJobRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Fatal("invalid cron expression must be rejected")
	}
	if err := s.AddJob("*/5 * * * *", func() {}); err != nil {
		t.Fatalf("valid cron expression rejected: %v", err)
	}
}
