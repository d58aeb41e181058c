package sweep

import (
	"context"
	"time"

	"donnabot/internal/eventbus"
	"donnabot/internal/metrics"
	"donnabot/internal/storage"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

// tick is the cadence entry point. It takes one instant from the clock
// and evaluates the whole pass against it; a pass still running when the
// next minute arrives makes the new tick a recorded no-op.
func (s *Service) tick(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Warn("tick skipped, previous run still in flight")
		s.sink.TickSkipped()
		s.statMu.Lock()
		s.stats.SkippedTicks++
		s.statMu.Unlock()
		return
	}
	defer s.inFlight.Store(false)

	s.sink.TickStarted()
	rep, err := s.run(ctx, s.clk.Now())

	s.record(rep)
	s.sink.TickCompleted(rep.Duration, rep.Users, rep.Fired, err)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventTick, Time: rep.At, Data: rep})
	}
}

// run executes one sweep pass against now.
func (s *Service) run(ctx context.Context, now time.Time) (TickReport, error) {
	rep := TickReport{At: now}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		// Nothing to iterate; the next minute gets a fresh attempt.
		s.log.Error("user enumeration failed, ending tick", logx.Err(err))
		rep.Err = err.Error()
		rep.Duration = s.clk.Now().Sub(now)
		return rep, err
	}
	rep.Users = len(users)

	for _, u := range users {
		if ctx.Err() != nil {
			s.log.Debug("tick interrupted", logx.Err(ctx.Err()))
			break
		}
		fired, ok := s.sweepUser(ctx, now, u)
		if !ok {
			rep.SkippedUsers++
			continue
		}
		rep.Fired += fired
	}

	rep.Duration = s.clk.Now().Sub(now)
	if rep.Fired > 0 || rep.SkippedUsers > 0 {
		s.log.Info("tick done",
			logx.Int("users", rep.Users),
			logx.Int("fired", rep.Fired),
			logx.Int("skipped_users", rep.SkippedUsers),
			logx.Dur("took", rep.Duration))
	}
	return rep, nil
}

// sweepUser evaluates one user's reminders against now projected into
// the user's timezone. ok is false when the reminder read failed.
func (s *Service) sweepUser(ctx context.Context, now time.Time, u storage.User) (fired int, ok bool) {
	local := now.In(s.locationFor(u.Timezone))
	localTime := local.Format("15:04")
	localDay := local.Weekday().String()

	rems, err := s.store.ListReminders(ctx, u.ID)
	if err != nil {
		s.log.Warn("reminder read failed, skipping user",
			logx.Int64("user_id", u.ID), logx.Err(err))
		s.sink.UserSkipped()
		return 0, false
	}

	for _, r := range rems {
		if !matches(r, localTime, localDay) {
			continue
		}
		n := kit.Notification{
			Kind:   "reminder",
			Target: targetFor(u),
			Text:   "⏰ " + r.Text,
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("delivery rejected",
				logx.Int64("user_id", u.ID),
				logx.String("reminder_id", r.ID),
				logx.Err(err))
			s.sink.DeliveryOutcome(metrics.OutcomeFailed)
			continue
		}
		fired++
	}
	return fired, true
}

// matches reports whether r is due at the given local wall clock. Exact
// string equality on canonical forms; malformed rows never match.
func matches(r storage.Reminder, localTime, localDay string) bool {
	if r.Time != localTime {
		return false
	}
	switch r.Frequency {
	case storage.Daily:
		return true
	case storage.Weekly:
		return r.Day == localDay
	default:
		return false
	}
}

func targetFor(u storage.User) kit.ChatTarget {
	chatID := u.ChatID
	if chatID == 0 {
		// Private chats share the user id.
		chatID = u.ID
	}
	return kit.ChatTarget{ChatID: chatID}
}
