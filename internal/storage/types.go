package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

var (
	ErrBadFrequency = errors.New("frequency must be daily or weekly")
	ErrBadTime      = errors.New("time must be HH:MM (24h)")
	ErrBadWeekday   = errors.New("day must be a weekday name")
	ErrDayForbidden = errors.New("day is only valid for weekly reminders")
	ErrDayRequired  = errors.New("weekly reminders need a day")
	ErrEmptyText    = errors.New("text must not be empty")
)

// Frequency of a reminder.
type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

// User is a person the bot talks to. Timezone is an IANA name; empty
// means UTC. ChatID is the private chat used as notification target.
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Task struct {
	ID        string
	UserID    int64
	Text      string
	Done      bool
	CreatedAt time.Time
	DoneAt    time.Time // zero when open
}

// Reminder fires at Time (user-local, minute precision) every day, or
// every week on Day when Frequency is weekly. Day holds the full English
// weekday name ("Monday".."Sunday") and is empty for daily reminders.
type Reminder struct {
	ID        string
	UserID    int64
	Text      string
	Frequency Frequency
	Time      string
	Day       string
	CreatedAt time.Time
}

type Note struct {
	ID        string
	UserID    int64
	Text      string
	CreatedAt time.Time
}

// HabitEntry is one "did it today" mark. LoggedOn is the user-local
// calendar date in ISO form (YYYY-MM-DD); one entry per habit per date.
type HabitEntry struct {
	ID        string
	UserID    int64
	Habit     string
	LoggedOn  string
	CreatedAt time.Time
}

// HabitSummary aggregates one habit for list rendering.
type HabitSummary struct {
	Habit  string
	Count  int
	LastOn string
}

type Idea struct {
	ID        string
	UserID    int64
	Text      string
	CreatedAt time.Time
}

// AuditEntry records one executed command. Kept compact and
// schema-stable.
type AuditEntry struct {
	At       time.Time
	ActorID  int64
	Username string
	ChatID   int64
	Command  string
	OK       bool
	Error    string
	TookMS   int64
}

var weekdayNames = map[string]string{
	"monday": "Monday", "mon": "Monday",
	"tuesday": "Tuesday", "tue": "Tuesday", "tues": "Tuesday",
	"wednesday": "Wednesday", "wed": "Wednesday",
	"thursday": "Thursday", "thu": "Thursday", "thur": "Thursday", "thurs": "Thursday",
	"friday": "Friday", "fri": "Friday",
	"saturday": "Saturday", "sat": "Saturday",
	"sunday": "Sunday", "sun": "Sunday",
}

// NormalizeWeekday maps user input ("mon", "Monday", "MONDAY") to the
// canonical full name. Returns ErrBadWeekday for anything else.
func NormalizeWeekday(s string) (string, error) {
	name, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", ErrBadWeekday
	}
	return name, nil
}

// NormalizeTimeOfDay parses "H:MM" / "HH:MM" into canonical zero-padded
// 24h "HH:MM". Seconds are not accepted; reminders are minute precision.
func NormalizeTimeOfDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", ErrBadTime
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return "", ErrBadTime
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return "", ErrBadTime
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// ValidateReminder normalizes r in place and reports the first contract
// violation. Called by the store on write.
func ValidateReminder(r *Reminder) error {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return ErrEmptyText
	}

	switch r.Frequency {
	case Daily:
		if strings.TrimSpace(r.Day) != "" {
			return ErrDayForbidden
		}
		r.Day = ""
	case Weekly:
		if strings.TrimSpace(r.Day) == "" {
			return ErrDayRequired
		}
		day, err := NormalizeWeekday(r.Day)
		if err != nil {
			return err
		}
		r.Day = day
	default:
		return ErrBadFrequency
	}

	t, err := NormalizeTimeOfDay(r.Time)
	if err != nil {
		return err
	}
	r.Time = t
	return nil
}
