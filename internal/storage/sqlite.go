package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"donnabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite wants a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) (User, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	// Timezone is deliberately not part of the update set; it only
	// changes through SetTimezone. Callback updates carry no username,
	// so an empty one must not erase what we already know.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, chat_id, username, timezone, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat_id=excluded.chat_id,
		   username=CASE WHEN excluded.username IS NOT NULL AND excluded.username != ''
		                 THEN excluded.username ELSE users.username END,
		   updated_at=excluded.updated_at`,
		u.ID, u.ChatID, nullStr(u.Username), u.Timezone,
		fmtTime(u.CreatedAt), fmtTime(now),
	)
	if err != nil {
		return User{}, err
	}
	stored, _, err := s.GetUser(ctx, u.ID)
	return stored, err
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (User, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, timezone, created_at, updated_at
		 FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, username, timezone, created_at, updated_at
		 FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetTimezone(ctx context.Context, userID int64, tz string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET timezone = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(tz), fmtTime(time.Now().UTC()), userID)
	return err
}

// ---- tasks ----

func (s *sqliteStore) AddTask(ctx context.Context, t Task) (Task, error) {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return Task{}, ErrEmptyText
	}
	fillID(&t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, user_id, text, done, created_at, done_at)
		 VALUES(?,?,?,0,?,NULL)`,
		t.ID, t.UserID, t.Text, fmtTime(t.CreatedAt))
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) ListTasks(ctx context.Context, userID int64, includeDone bool) ([]Task, error) {
	q := `SELECT id, user_id, text, done, created_at, done_at
	      FROM tasks WHERE user_id = ?`
	if !includeDone {
		q += ` AND done = 0`
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t      Task
			done   int
			ca     string
			doneAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Text, &done, &ca, &doneAt); err != nil {
			return nil, err
		}
		t.Done = done != 0
		t.CreatedAt = parseTime(ca)
		if doneAt.Valid {
			t.DoneAt = parseTime(doneAt.String)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompleteTask(ctx context.Context, userID int64, id string, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET done = 1, done_at = ? WHERE user_id = ? AND id = ? AND done = 0`,
		fmtTime(at), userID, id)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, userID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// ---- reminders ----

func (s *sqliteStore) AddReminder(ctx context.Context, r Reminder) (Reminder, error) {
	if err := ValidateReminder(&r); err != nil {
		return Reminder{}, err
	}
	fillID(&r.ID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, user_id, text, frequency, at_time, day, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.Text, string(r.Frequency), r.Time, nullStr(r.Day), fmtTime(r.CreatedAt))
	if err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func (s *sqliteStore) ListReminders(ctx context.Context, userID int64) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, frequency, at_time, day, created_at
		 FROM reminders WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r    Reminder
			freq string
			day  sql.NullString
			ca   string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &freq, &r.Time, &day, &ca); err != nil {
			return nil, err
		}
		r.Frequency = Frequency(freq)
		r.Day = day.String
		r.CreatedAt = parseTime(ca)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, userID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// ---- notes ----

func (s *sqliteStore) AddNote(ctx context.Context, n Note) (Note, error) {
	n.Text = strings.TrimSpace(n.Text)
	if n.Text == "" {
		return Note{}, ErrEmptyText
	}
	fillID(&n.ID)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes(id, user_id, text, created_at) VALUES(?,?,?,?)`,
		n.ID, n.UserID, n.Text, fmtTime(n.CreatedAt))
	if err != nil {
		return Note{}, err
	}
	return n, nil
}

func (s *sqliteStore) ListNotes(ctx context.Context, userID int64) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, created_at
		 FROM notes WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			n  Note
			ca string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &ca); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(ca)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteNote(ctx context.Context, userID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// ---- habits ----

func (s *sqliteStore) LogHabit(ctx context.Context, e HabitEntry) (bool, error) {
	e.Habit = strings.ToLower(strings.TrimSpace(e.Habit))
	if e.Habit == "" {
		return false, ErrEmptyText
	}
	fillID(&e.ID)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO habit_logs(id, user_id, habit, logged_on, created_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, habit, logged_on) DO NOTHING`,
		e.ID, e.UserID, e.Habit, e.LoggedOn, fmtTime(e.CreatedAt))
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

func (s *sqliteStore) ListHabitSummaries(ctx context.Context, userID int64) ([]HabitSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT habit, COUNT(*), MAX(logged_on)
		 FROM habit_logs WHERE user_id = ? GROUP BY habit ORDER BY habit`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HabitSummary
	for rows.Next() {
		var h HabitSummary
		if err := rows.Scan(&h.Habit, &h.Count, &h.LastOn); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListHabitDays(ctx context.Context, userID int64, habit string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 60
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT logged_on FROM habit_logs
		 WHERE user_id = ? AND habit = ?
		 ORDER BY logged_on DESC LIMIT ?`,
		userID, strings.ToLower(strings.TrimSpace(habit)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- ideas ----

func (s *sqliteStore) AddIdea(ctx context.Context, i Idea) (Idea, error) {
	i.Text = strings.TrimSpace(i.Text)
	if i.Text == "" {
		return Idea{}, ErrEmptyText
	}
	fillID(&i.ID)
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ideas(id, user_id, text, created_at) VALUES(?,?,?,?)`,
		i.ID, i.UserID, i.Text, fmtTime(i.CreatedAt))
	if err != nil {
		return Idea{}, err
	}
	return i, nil
}

func (s *sqliteStore) ListIdeas(ctx context.Context, userID int64) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, created_at
		 FROM ideas WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Idea
	for rows.Next() {
		var (
			i  Idea
			ca string
		)
		if err := rows.Scan(&i.ID, &i.UserID, &i.Text, &ca); err != nil {
			return nil, err
		}
		i.CreatedAt = parseTime(ca)
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteIdea(ctx context.Context, userID int64, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ideas WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, err
	}
	return affected(res), nil
}

// ---- audit / dedup ----

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, username, chat_id, command, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		fmtTime(e.At), e.ActorID, nullStr(e.Username), e.ChatID,
		e.Command, boolInt(e.OK), nullStr(e.Error), e.TookMS)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli())
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneDedup(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneDedup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u        User
		username sql.NullString
		ca, ua   string
	)
	if err := r.Scan(&u.ID, &u.ChatID, &username, &u.Timezone, &ca, &ua); err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.CreatedAt = parseTime(ca)
	u.UpdatedAt = parseTime(ua)
	return u, nil
}

func fillID(id *string) {
	if strings.TrimSpace(*id) == "" {
		*id = uuid.NewString()
	}
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
