package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"donnabot/internal/storage"
)

func TestParseRemindSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want storage.Reminder
		err  error
	}{
		{
			name: "daily",
			args: []string{"09:00", "standup"},
			want: storage.Reminder{Frequency: storage.Daily, Time: "09:00", Text: "standup"},
		},
		{
			name: "daily multiword",
			args: []string{"7:5", "drink", "water"},
			want: storage.Reminder{Frequency: storage.Daily, Time: "07:05", Text: "drink water"},
		},
		{
			name: "weekly full name",
			args: []string{"18:30", "friday", "weekly review"},
			want: storage.Reminder{Frequency: storage.Weekly, Time: "18:30", Day: "Friday", Text: "weekly review"},
		},
		{
			name: "weekly abbreviation",
			args: []string{"08:00", "mon", "plan the week"},
			want: storage.Reminder{Frequency: storage.Weekly, Time: "08:00", Day: "Monday", Text: "plan the week"},
		},
		{
			name: "quoted leading weekday stays daily",
			args: []string{"10:00", "monday blues playlist"},
			want: storage.Reminder{Frequency: storage.Daily, Time: "10:00", Text: "monday blues playlist"},
		},
		{
			name: "bad time",
			args: []string{"25:00", "oops"},
			err:  storage.ErrBadTime,
		},
		{
			name: "weekday but no text",
			args: []string{"09:00", "monday"},
			err:  storage.ErrEmptyText,
		},
		{
			name: "too few args",
			args: []string{"09:00"},
			err:  errAny,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseRemindSpec(7, tc.args)
			if tc.err != nil {
				if err == nil {
					t.Fatalf("parseRemindSpec(%v) succeeded, want error", tc.args)
				}
				if tc.err != errAny && !errors.Is(err, tc.err) {
					t.Fatalf("err = %v, want %v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRemindSpec(%v) error: %v", tc.args, err)
			}
			if got.UserID != 7 {
				t.Fatalf("UserID = %d", got.UserID)
			}
			if got.Frequency != tc.want.Frequency || got.Time != tc.want.Time ||
				got.Day != tc.want.Day || got.Text != tc.want.Text {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

// errAny marks table rows where any error is acceptable.
var errAny = errors.New("any error")

func TestRemindAddAndList(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	ad := &recAdapter{}
	a := testAssistant(st)

	req := testReq(ad, st, "09:00", "standup")
	if err := a.cmdRemindAdd(context.Background(), req); err != nil {
		t.Fatalf("cmdRemindAdd: %v", err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "every day at 09:00") {
		t.Fatalf("confirmation = %q", got)
	}

	req = testReq(ad, st, "18:00", "fri", "review")
	if err := a.cmdRemindAdd(context.Background(), req); err != nil {
		t.Fatalf("cmdRemindAdd weekly: %v", err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "every Friday at 18:00") {
		t.Fatalf("confirmation = %q", got)
	}

	req = testReq(ad, st)
	if err := a.cmdRemindList(context.Background(), req); err != nil {
		t.Fatalf("cmdRemindList: %v", err)
	}
	got := ad.last(t).text
	for _, want := range []string{"Reminders", "09:00", "standup", "Friday", "review"} {
		if !strings.Contains(got, want) {
			t.Fatalf("list missing %q:\n%s", want, got)
		}
	}
}

func TestRemindAddRejectsBadInput(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	ad := &recAdapter{}
	a := testAssistant(st)

	req := testReq(ad, st, "9am", "standup")
	if err := a.cmdRemindAdd(context.Background(), req); err != nil {
		t.Fatalf("bad input should reply, not fail: %v", err)
	}
	if got := ad.last(t).text; !strings.Contains(got, "HH:MM") {
		t.Fatalf("reply = %q, want time format hint", got)
	}
	if rs, _ := st.ListReminders(context.Background(), 7); len(rs) != 0 {
		t.Fatalf("reminder was stored despite bad input: %+v", rs)
	}
}

func TestRemindDelSendsConfirm(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	ad := &recAdapter{}
	a := testAssistant(st)

	if err := a.cmdRemindAdd(context.Background(), testReq(ad, st, "09:00", "standup")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := testReq(ad, st, "1")
	if err := a.cmdRemindDel(context.Background(), req); err != nil {
		t.Fatalf("cmdRemindDel: %v", err)
	}
	last := ad.last(t)
	if !strings.Contains(last.text, "Delete this?") {
		t.Fatalf("prompt = %q", last.text)
	}
	if last.opt == nil || last.opt.ReplyMarkup == nil {
		t.Fatal("confirm prompt has no inline keyboard")
	}
}
