// Package reminders sends SMS reminders for upcoming therapy sessions on a
// cron schedule.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/store"
)

// Defaults for the reminder job.
const (
	DefaultSchedule = "*/15 * * * *"
	DefaultLeadTime = 24 * time.Hour
)

// Service finds sessions starting within the lead time and texts the client
// once per session.
type Service struct {
	store    store.Store
	sender   Sender
	leadTime time.Duration
	now      func() time.Time
	location *time.Location
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLeadTime sets how far ahead sessions are considered.
func WithLeadTime(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.leadTime = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone used in message text.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// NewService creates a reminder service.
func NewService(st store.Store, sender Sender, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		sender:   sender,
		leadTime: DefaultLeadTime,
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Message renders the reminder text for a session.
func (s *Service) Message(client models.Client, sess models.Session) string {
	at := sess.ScheduledAt.In(s.location)
	return fmt.Sprintf("Hi %s, this is a reminder of your %s session on %s at %s (%d min). Reply to this message if you need to reschedule.",
		firstName(client.Name), sessionLabel(sess.Type), at.Format("Mon Jan 2"), at.Format("3:04 PM"), sess.DurationMinutes)
}

// RunOnce sends reminders for every eligible session and returns how many
// were sent. A failed send is logged and retried on the next run.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	sessions, err := s.store.ListSessions(ctx, models.SessionFilter{From: now, To: now.Add(s.leadTime)})
	if err != nil {
		return 0, fmt.Errorf("list upcoming sessions: %w", err)
	}

	sent := 0
	var errs []error
	for _, sess := range sessions {
		if sess.Status != models.SessionStatusScheduled {
			continue
		}
		already, err := s.store.ReminderSent(ctx, sess.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if already {
			continue
		}
		client, err := s.store.GetClient(ctx, sess.ClientID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		if client.Phone == "" || client.Status != models.ClientStatusActive {
			continue
		}
		if err := s.sender.SendSMS(ctx, client.Phone, s.Message(client, sess)); err != nil {
			slog.Warn("Service.RunOnce: reminder send failed", "session_id", sess.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := s.store.MarkReminderSent(ctx, sess.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	slog.Debug("Service.RunOnce: reminders processed", "candidates", len(sessions), "sent", sent)
	return sent, errors.Join(errs...)
}

// Schedule registers RunOnce on the scheduler with the given cron expression.
func (s *Service) Schedule(sched *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultSchedule
	}
	return sched.AddJob("session-reminders", expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if n, err := s.RunOnce(ctx); err != nil {
			slog.Error("Service.Schedule: reminder run finished with errors", "sent", n, "error", err)
		} else if n > 0 {
			slog.Info("Service.Schedule: reminders sent", "sent", n)
		}
	})
}

func firstName(name string) string {
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}

func sessionLabel(t string) string {
	if t == "" {
		return "therapy"
	}
	return t
}
