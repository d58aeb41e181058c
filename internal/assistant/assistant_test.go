package assistant

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

// memStore keeps per-user records in memory, mirroring how the SQLite
// store fills ids and orders lists by insertion. Methods the assistant
// never touches panic through the embedded nil interface.
type memStore struct {
	storage.Store

	mu        sync.Mutex
	seq       int
	tasks     []storage.Task
	reminders []storage.Reminder
	notes     []storage.Note
	ideas     []storage.Idea
	habits    []storage.HabitEntry
	tzByUser  map[int64]string
}

func newMemStore() *memStore {
	return &memStore{tzByUser: map[int64]string{}}
}

func (m *memStore) nextID() string {
	m.seq++
	return "id-" + strconv.Itoa(m.seq)
}

func (m *memStore) AddTask(ctx context.Context, t storage.Task) (storage.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.nextID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tasks = append(m.tasks, t)
	return t, nil
}

func (m *memStore) ListTasks(ctx context.Context, userID int64, includeDone bool) ([]storage.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if !includeDone && t.Done {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) CompleteTask(ctx context.Context, userID int64, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].UserID == userID && m.tasks[i].ID == id && !m.tasks[i].Done {
			m.tasks[i].Done = true
			m.tasks[i].DoneAt = at
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteTask(ctx context.Context, userID int64, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].UserID == userID && m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddReminder(ctx context.Context, r storage.Reminder) (storage.Reminder, error) {
	if err := storage.ValidateReminder(&r); err != nil {
		return storage.Reminder{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID()
	m.reminders = append(m.reminders, r)
	return r, nil
}

func (m *memStore) ListReminders(ctx context.Context, userID int64) ([]storage.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Reminder
	for _, r := range m.reminders {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) DeleteReminder(ctx context.Context, userID int64, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reminders {
		if m.reminders[i].UserID == userID && m.reminders[i].ID == id {
			m.reminders = append(m.reminders[:i], m.reminders[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddNote(ctx context.Context, n storage.Note) (storage.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.notes = append(m.notes, n)
	return n, nil
}

func (m *memStore) ListNotes(ctx context.Context, userID int64) ([]storage.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Note
	for _, n := range m.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) AddIdea(ctx context.Context, i storage.Idea) (storage.Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i.ID = m.nextID()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	m.ideas = append(m.ideas, i)
	return i, nil
}

func (m *memStore) ListIdeas(ctx context.Context, userID int64) ([]storage.Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Idea
	for _, i := range m.ideas {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *memStore) LogHabit(ctx context.Context, e storage.HabitEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.habits {
		if h.UserID == e.UserID && h.Habit == e.Habit && h.LoggedOn == e.LoggedOn {
			return false, nil
		}
	}
	e.ID = m.nextID()
	m.habits = append(m.habits, e)
	return true, nil
}

func (m *memStore) ListHabitSummaries(ctx context.Context, userID int64) ([]storage.HabitSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := map[string]*storage.HabitSummary{}
	order := []string{}
	for _, h := range m.habits {
		if h.UserID != userID {
			continue
		}
		s, ok := byName[h.Habit]
		if !ok {
			s = &storage.HabitSummary{Habit: h.Habit}
			byName[h.Habit] = s
			order = append(order, h.Habit)
		}
		s.Count++
		if h.LoggedOn > s.LastOn {
			s.LastOn = h.LoggedOn
		}
	}
	out := make([]storage.HabitSummary, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out, nil
}

func (m *memStore) ListHabitDays(ctx context.Context, userID int64, habit string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for i := len(m.habits) - 1; i >= 0 && len(out) < limit; i-- {
		h := m.habits[i]
		if h.UserID == userID && h.Habit == habit {
			out = append(out, h.LoggedOn)
		}
	}
	return out, nil
}

func (m *memStore) SetTimezone(ctx context.Context, userID int64, tz string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tzByUser[userID] = tz
	return nil
}

// sendRec captures one outbound message.
type sendRec struct {
	text string
	opt  *kit.SendOptions
}

type recAdapter struct {
	mu    sync.Mutex
	sends []sendRec
	edits []sendRec
}

func (r *recAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (r *recAdapter) Stop(ctx context.Context) error                         { return nil }

func (r *recAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sendRec{text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.sends)}, nil
}

func (r *recAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, sendRec{text: text, opt: opt})
	return nil
}

func (r *recAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return nil
}

func (r *recAdapter) last(t *testing.T) sendRec {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sends) == 0 {
		t.Fatal("nothing was sent")
	}
	return r.sends[len(r.sends)-1]
}

func (r *recAdapter) lastEdit(t *testing.T) sendRec {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.edits) == 0 {
		t.Fatal("nothing was edited")
	}
	return r.edits[len(r.edits)-1]
}

func testAssistant(st storage.Store) *Assistant {
	return New(Deps{Store: st}, "test", logx.Nop())
}

func testReq(ad kit.Adapter, st storage.Store, args ...string) *commands.Request {
	return &commands.Request{
		Chat:    kit.ChatTarget{ChatID: 100},
		FromID:  7,
		From:    storage.User{ID: 7, ChatID: 100},
		Args:    args,
		Flags:   map[string]string{},
		Bools:   map[string]bool{},
		Adapter: ad,
		Store:   st,
		Logger:  logx.Nop(),
	}
}
