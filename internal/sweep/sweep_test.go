package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"donnabot/internal/storage"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

type fakeStore struct {
	mu        sync.Mutex
	users     []storage.User
	reminders map[int64][]storage.Reminder

	usersErr error
	remErr   map[int64]error

	// onListReminders runs before each per-user read; used to simulate
	// slow reads moving the wall clock mid-tick.
	onListReminders func()
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]storage.User, error) {
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return f.users, nil
}

func (f *fakeStore) ListReminders(ctx context.Context, userID int64) ([]storage.Reminder, error) {
	if f.onListReminders != nil {
		f.onListReminders()
	}
	if err := f.remErr[userID]; err != nil {
		return nil, err
	}
	return f.reminders[userID], nil
}

type recNotifier struct {
	mu     sync.Mutex
	sent   []kit.Notification
	reject func(n kit.Notification) error
}

func (r *recNotifier) Notify(ctx context.Context, n kit.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil {
		if err := r.reject(n); err != nil {
			return err
		}
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recNotifier) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Text)
	}
	return out
}

// fakeAt returns a fake clock pinned to the given instant.
func fakeAt(t time.Time) clock.FakeClock {
	fc := clock.NewFake()
	fc.Add(t.Sub(fc.Now()))
	return fc
}

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func newSweep(st *fakeStore, nf *recNotifier, clk clock.Clock) *Service {
	return New(Config{Enabled: true}, Deps{
		Store:    st,
		Notifier: nf,
		Clock:    clk,
	}, logx.Nop())
}

func daily(id string, userID int64, text, at string) storage.Reminder {
	return storage.Reminder{ID: id, UserID: userID, Text: text, Frequency: storage.Daily, Time: at}
}

func weekly(id string, userID int64, text, at, day string) storage.Reminder {
	return storage.Reminder{ID: id, UserID: userID, Text: text, Frequency: storage.Weekly, Time: at, Day: day}
}

// 2026-06-15 is a Monday; America/New_York is UTC-4 in June.
func TestRunTimezoneMatching(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		tz       string
		reminder storage.Reminder
		now      time.Time
		want     int
	}{
		{
			name:     "daily fires at local time",
			tz:       "America/New_York",
			reminder: daily("r1", 7, "standup", "09:00"),
			now:      utc(2026, time.June, 15, 13, 0),
			want:     1,
		},
		{
			name:     "daily does not fire one minute later",
			tz:       "America/New_York",
			reminder: daily("r1", 7, "standup", "09:00"),
			now:      utc(2026, time.June, 15, 13, 1),
			want:     0,
		},
		{
			name:     "weekly needs the matching local weekday",
			tz:       "America/New_York",
			reminder: weekly("r1", 7, "report", "09:00", "Monday"),
			now:      utc(2026, time.June, 16, 13, 0), // local Tuesday
			want:     0,
		},
		{
			name:     "weekly fires on its weekday",
			tz:       "America/New_York",
			reminder: weekly("r1", 7, "report", "08:00", "Monday"),
			now:      utc(2026, time.June, 15, 12, 0), // local Monday 08:00
			want:     1,
		},
		{
			name:     "missing timezone means UTC",
			tz:       "",
			reminder: daily("r1", 7, "standup", "13:00"),
			now:      utc(2026, time.June, 15, 13, 0),
			want:     1,
		},
		{
			name:     "unknown timezone falls back to UTC",
			tz:       "Mars/Olympus_Mons",
			reminder: daily("r1", 7, "standup", "13:00"),
			now:      utc(2026, time.June, 15, 13, 0),
			want:     1,
		},
		{
			name:     "daily matches regardless of weekday",
			tz:       "America/New_York",
			reminder: daily("r1", 7, "standup", "09:00"),
			now:      utc(2026, time.June, 16, 13, 0), // Tuesday
			want:     1,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := &fakeStore{
				users:     []storage.User{{ID: 7, ChatID: 7, Timezone: tc.tz}},
				reminders: map[int64][]storage.Reminder{7: {tc.reminder}},
			}
			nf := &recNotifier{}
			s := newSweep(st, nf, fakeAt(tc.now))

			rep, err := s.run(context.Background(), tc.now)
			if err != nil {
				t.Fatalf("run() error = %v", err)
			}
			if rep.Fired != tc.want {
				t.Fatalf("rep.Fired = %d, want %d", rep.Fired, tc.want)
			}
			if got := len(nf.sent); got != tc.want {
				t.Fatalf("notifications = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRunFiresAtMostOncePerReminderPerTick(t *testing.T) {
	t.Parallel()

	now := utc(2026, time.June, 15, 13, 0)
	st := &fakeStore{
		users: []storage.User{{ID: 7, ChatID: 7, Timezone: "America/New_York"}},
		reminders: map[int64][]storage.Reminder{7: {
			daily("r1", 7, "standup", "09:00"),
			daily("r2", 7, "coffee", "09:00"),
			daily("r3", 7, "later", "10:00"),
		}},
	}
	nf := &recNotifier{}
	s := newSweep(st, nf, fakeAt(now))

	rep, err := s.run(context.Background(), now)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if rep.Fired != 2 {
		t.Fatalf("rep.Fired = %d, want 2", rep.Fired)
	}
	want := []string{"⏰ standup", "⏰ coffee"}
	got := nf.texts()
	if len(got) != len(want) {
		t.Fatalf("texts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("texts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunIsolatesUserReadFailures(t *testing.T) {
	t.Parallel()

	now := utc(2026, time.June, 15, 13, 0)
	st := &fakeStore{
		users: []storage.User{
			{ID: 1, ChatID: 1},
			{ID: 2, ChatID: 2},
			{ID: 3, ChatID: 3},
		},
		reminders: map[int64][]storage.Reminder{
			1: {daily("a", 1, "first", "13:00")},
			3: {daily("c", 3, "third", "13:00")},
		},
		remErr: map[int64]error{2: errors.New("row corrupt")},
	}
	nf := &recNotifier{}
	s := newSweep(st, nf, fakeAt(now))

	rep, err := s.run(context.Background(), now)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if rep.SkippedUsers != 1 {
		t.Fatalf("rep.SkippedUsers = %d, want 1", rep.SkippedUsers)
	}
	if rep.Fired != 2 {
		t.Fatalf("rep.Fired = %d, want 2", rep.Fired)
	}
}

func TestRunIsolatesDeliveryFailures(t *testing.T) {
	t.Parallel()

	now := utc(2026, time.June, 15, 13, 0)
	st := &fakeStore{
		users: []storage.User{{ID: 7, ChatID: 7}},
		reminders: map[int64][]storage.Reminder{7: {
			daily("r1", 7, "breaks", "13:00"),
			daily("r2", 7, "works", "13:00"),
		}},
	}
	nf := &recNotifier{
		reject: func(n kit.Notification) error {
			if n.Text == "⏰ breaks" {
				return errors.New("queue full")
			}
			return nil
		},
	}
	s := newSweep(st, nf, fakeAt(now))

	rep, err := s.run(context.Background(), now)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if rep.Fired != 1 {
		t.Fatalf("rep.Fired = %d, want 1", rep.Fired)
	}
	if got := nf.texts(); len(got) != 1 || got[0] != "⏰ works" {
		t.Fatalf("texts = %v, want [⏰ works]", got)
	}
}

func TestRunEndsTickWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	now := utc(2026, time.June, 15, 13, 0)
	st := &fakeStore{usersErr: errors.New("database locked")}
	nf := &recNotifier{}
	s := newSweep(st, nf, fakeAt(now))

	rep, err := s.run(context.Background(), now)
	if err == nil {
		t.Fatal("run() error = nil, want store error")
	}
	if rep.Err == "" {
		t.Fatal("rep.Err is empty, want store error text")
	}
	if len(nf.sent) != 0 {
		t.Fatalf("notifications = %d, want 0", len(nf.sent))
	}
}

func TestRunUsesOneInstantForWholeTick(t *testing.T) {
	t.Parallel()

	// Both users are due at the captured instant. The slow store moves
	// the clock past the minute between reads; the second user must
	// still be evaluated against the original instant.
	now := utc(2026, time.June, 15, 13, 0)
	fc := fakeAt(now)
	st := &fakeStore{
		users: []storage.User{{ID: 1, ChatID: 1}, {ID: 2, ChatID: 2}},
		reminders: map[int64][]storage.Reminder{
			1: {daily("a", 1, "one", "13:00")},
			2: {daily("b", 2, "two", "13:00")},
		},
		onListReminders: func() { fc.Add(90 * time.Second) },
	}
	nf := &recNotifier{}
	s := newSweep(st, nf, fc)

	rep, err := s.run(context.Background(), now)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if rep.Fired != 2 {
		t.Fatalf("rep.Fired = %d, want 2", rep.Fired)
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		r         storage.Reminder
		localTime string
		localDay  string
		want      bool
	}{
		{"daily exact", daily("r", 1, "x", "09:00"), "09:00", "Monday", true},
		{"daily off by a minute", daily("r", 1, "x", "09:00"), "09:01", "Monday", false},
		{"weekly day and time", weekly("r", 1, "x", "09:00", "Monday"), "09:00", "Monday", true},
		{"weekly wrong day", weekly("r", 1, "x", "09:00", "Monday"), "09:00", "Tuesday", false},
		{"weekly wrong time", weekly("r", 1, "x", "09:00", "Monday"), "09:01", "Monday", false},
		{"unknown frequency never matches", storage.Reminder{Frequency: "hourly", Time: "09:00"}, "09:00", "Monday", false},
		{"weekly with empty day never matches", storage.Reminder{Frequency: storage.Weekly, Time: "09:00"}, "09:00", "Monday", false},
		{"non-canonical stored time never matches", storage.Reminder{Frequency: storage.Daily, Time: "9:00"}, "09:00", "Monday", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := matches(tc.r, tc.localTime, tc.localDay); got != tc.want {
				t.Fatalf("matches(%+v, %q, %q) = %v, want %v", tc.r, tc.localTime, tc.localDay, got, tc.want)
			}
		})
	}
}
