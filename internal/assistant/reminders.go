package assistant

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	"donnabot/pkg/tgui"
)

func (a *Assistant) reminderCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "remind",
			Aliases:     []string{"r"},
			Description: "list your reminders",
			Usage:       "/remind",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdRemindList,
		},
		{
			Route:       "remind add",
			Description: "add a daily or weekly reminder",
			Usage:       "/remind add <HH:MM> [weekday] <text>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdRemindAdd,
		},
		{
			Route:       "remind del",
			Description: "delete a reminder",
			Usage:       "/remind del <number>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdRemindDel,
		},
	}
}

func (a *Assistant) cmdRemindList(ctx context.Context, req *commands.Request) error {
	rs, err := req.Store.ListReminders(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list reminders", err)
	}
	if len(rs) == 0 {
		return reply(ctx, req, "no reminders yet, add one with /remind add <HH:MM> [weekday] <text>")
	}

	tz := req.From.Timezone
	if tz == "" {
		tz = "UTC"
	}

	b := tgui.New().Title("⏰", "Reminders")
	for i, r := range rs {
		when := "daily"
		if r.Frequency == storage.Weekly {
			when = r.Day
		}
		b.RawLine(tgui.JoinH(" ",
			tgui.B(strconv.Itoa(i+1)+"."),
			tgui.Code(r.Time),
			tgui.Esc(when),
			tgui.Raw("—"),
			tgui.Esc(r.Text),
		).String())
	}
	b.Blank().RawLine(tgui.I("Times are in your timezone (" + tz + "), see /tz.").String())
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// parseRemindSpec turns "/remind add" positionals into a reminder.
// Shape: <HH:MM> [weekday] <text...>. A leading weekday token makes it
// weekly; quote the text if it genuinely starts with a weekday word.
func parseRemindSpec(userID int64, args []string) (storage.Reminder, error) {
	if len(args) < 2 {
		return storage.Reminder{}, errors.New("usage: /remind add <HH:MM> [weekday] <text>")
	}

	at, err := storage.NormalizeTimeOfDay(args[0])
	if err != nil {
		return storage.Reminder{}, err
	}

	rest := args[1:]
	r := storage.Reminder{UserID: userID, Frequency: storage.Daily, Time: at}
	if day, derr := storage.NormalizeWeekday(rest[0]); derr == nil {
		r.Frequency = storage.Weekly
		r.Day = day
		rest = rest[1:]
	}
	r.Text = strings.TrimSpace(strings.Join(rest, " "))

	if err := storage.ValidateReminder(&r); err != nil {
		return storage.Reminder{}, err
	}
	return r, nil
}

func (a *Assistant) cmdRemindAdd(ctx context.Context, req *commands.Request) error {
	r, err := parseRemindSpec(req.FromID, req.Args)
	if err != nil {
		return reply(ctx, req, err.Error())
	}
	saved, err := req.Store.AddReminder(ctx, r)
	if err != nil {
		return storeFail(ctx, req, "add reminder", err)
	}

	when := "every day"
	if saved.Frequency == storage.Weekly {
		when = "every " + saved.Day
	}
	lines := []string{"reminder saved: " + when + " at " + saved.Time + " — " + saved.Text}
	if a.sweep != nil && !a.sweep.Enabled() {
		lines = append(lines, "note: reminder delivery is currently disabled")
	}
	return reply(ctx, req, strings.Join(lines, "\n"))
}

func (a *Assistant) cmdRemindDel(ctx context.Context, req *commands.Request) error {
	n, ok := argIndex(req.Args)
	if !ok {
		return reply(ctx, req, "which one? usage: /remind del <number>")
	}
	rs, err := req.Store.ListReminders(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list reminders", err)
	}
	if n > len(rs) {
		return reply(ctx, req, "no such reminder, check /remind")
	}
	r := rs[n-1]
	preview := r.Time + " " + tgui.TruncRunes(r.Text, 50)
	return confirmDelete(ctx, req, "remind", preview, r.ID)
}
