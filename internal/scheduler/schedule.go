package scheduler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"

	"github.com/pulsecoach/pulse-coach-app/internal/notify"
)

// DefaultGraceWindow is how long a due scheduled workout waits for
// confirmation before it is marked skipped.
const DefaultGraceWindow = 10 * time.Minute

// PendingSession is a scheduled workout that has come due and awaits an
// explicit start confirmation.
type PendingSession struct {
	ID        string
	PlanName  string
	DueAt     time.Time
	ExpiresAt time.Time
}

// Schedule fires WorkoutReady notifications from cron entries. A due
// workout is never auto-started: the operator confirms within the grace
// window or the entry is counted as skipped.
type Schedule struct {
	logger   *log.Logger
	notifier notify.Notifier
	grace    time.Duration
	cron     *cron.Cron
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]PendingSession
	skipped int
}

func NewSchedule(logger *log.Logger, notifier notify.Notifier, grace time.Duration) *Schedule {
	if logger == nil {
		panic("scheduler.Schedule: logger cannot be nil")
	}
	if notifier == nil {
		panic("scheduler.Schedule: notifier cannot be nil")
	}
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Schedule{
		logger:   logger,
		notifier: notifier,
		grace:    grace,
		cron:     cron.New(),
		now:      time.Now,
		pending:  make(map[string]PendingSession),
	}
}

// Add registers a cron entry (robfig spec, seconds field included) for the
// named plan.
func (s *Schedule) Add(spec, planName string) error {
	if planName == "" {
		return fmt.Errorf("schedule: plan name cannot be empty")
	}
	if err := s.cron.AddFunc(spec, func() { s.fire(planName) }); err != nil {
		return fmt.Errorf("schedule: bad cron spec %q: %w", spec, err)
	}
	s.logger.Printf("Schedule: %q registered with spec %q", planName, spec)
	return nil
}

// Start begins cron evaluation.
func (s *Schedule) Start() {
	s.cron.Start()
}

// Stop halts cron evaluation. Pending entries survive until they expire.
func (s *Schedule) Stop() {
	s.cron.Stop()
}

// fire records a pending session and emits WorkoutReady.
func (s *Schedule) fire(planName string) {
	now := s.now()
	p := PendingSession{
		ID:        uuid.NewString(),
		PlanName:  planName,
		DueAt:     now,
		ExpiresAt: now.Add(s.grace),
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.pending[p.ID] = p
	s.mu.Unlock()

	s.logger.Printf("Schedule: %q due, awaiting confirmation until %s", planName, p.ExpiresAt.Format(time.Kitchen))
	if err := s.notifier.Notify(notify.Event{Type: notify.TypeWorkoutReady, PlanName: planName}); err != nil {
		s.logger.Printf("Schedule: WorkoutReady notification failed: %v", err)
	}
}

// Confirm claims the pending session for planName if one is still inside
// its grace window.
func (s *Schedule) Confirm(planName string) (PendingSession, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	for id, p := range s.pending {
		if p.PlanName == planName {
			delete(s.pending, id)
			return p, true
		}
	}
	return PendingSession{}, false
}

// Pending lists unexpired pending sessions.
func (s *Schedule) Pending() []PendingSession {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)

	out := make([]PendingSession, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// SkippedCount reports how many due workouts expired unconfirmed.
func (s *Schedule) SkippedCount() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	return s.skipped
}

// pruneLocked marks expired entries skipped. Caller must hold mu.
func (s *Schedule) pruneLocked(now time.Time) {
	for id, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, id)
			s.skipped++
			s.logger.Printf("Schedule: %q expired unconfirmed, marked skipped", p.PlanName)
		}
	}
}
