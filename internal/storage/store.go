package storage

import (
	"context"
	"time"

	"donnabot/pkg/logx"
)

// Store is the persistence API. Background services consume narrow
// subsets of it through their own interfaces; the command layer uses it
// in full.
type Store interface {
	UpsertUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, bool, error)
	ListUsers(ctx context.Context) ([]User, error)
	SetTimezone(ctx context.Context, userID int64, tz string) error

	AddTask(ctx context.Context, t Task) (Task, error)
	ListTasks(ctx context.Context, userID int64, includeDone bool) ([]Task, error)
	CompleteTask(ctx context.Context, userID int64, id string, at time.Time) (bool, error)
	DeleteTask(ctx context.Context, userID int64, id string) (bool, error)

	AddReminder(ctx context.Context, r Reminder) (Reminder, error)
	ListReminders(ctx context.Context, userID int64) ([]Reminder, error)
	DeleteReminder(ctx context.Context, userID int64, id string) (bool, error)

	AddNote(ctx context.Context, n Note) (Note, error)
	ListNotes(ctx context.Context, userID int64) ([]Note, error)
	DeleteNote(ctx context.Context, userID int64, id string) (bool, error)

	LogHabit(ctx context.Context, e HabitEntry) (logged bool, err error)
	ListHabitSummaries(ctx context.Context, userID int64) ([]HabitSummary, error)
	ListHabitDays(ctx context.Context, userID int64, habit string, limit int) ([]string, error)

	AddIdea(ctx context.Context, i Idea) (Idea, error)
	ListIdeas(ctx context.Context, userID int64) ([]Idea, error)
	DeleteIdea(ctx context.Context, userID int64, id string) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the SQLite store and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
