package assistant

import (
	"context"
	"strconv"
	"strings"
	"time"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	"donnabot/pkg/tgui"
)

func (a *Assistant) habitCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "habit",
			Description: "show habit summaries",
			Usage:       "/habit",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdHabitList,
		},
		{
			Route:       "habit log",
			Description: "mark a habit done for today",
			Usage:       "/habit log <name>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdHabitLog,
		},
		{
			Route:       "habit days",
			Description: "show recent days for a habit",
			Usage:       "/habit days <name> [--limit N]",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdHabitDays,
		},
	}
}

func (a *Assistant) cmdHabitList(ctx context.Context, req *commands.Request) error {
	sums, err := req.Store.ListHabitSummaries(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list habits", err)
	}
	if len(sums) == 0 {
		return reply(ctx, req, "no habits tracked yet, start with /habit log <name>")
	}

	b := tgui.New().Title("🔁", "Habits")
	for _, s := range sums {
		times := "once"
		if s.Count != 1 {
			times = strconv.Itoa(s.Count) + " times"
		}
		b.RawLine(tgui.JoinH(" ",
			tgui.B(s.Habit),
			tgui.Esc("logged "+times+","),
			tgui.Esc("last on "+s.LastOn),
		).String())
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *Assistant) cmdHabitLog(ctx context.Context, req *commands.Request) error {
	name := strings.ToLower(joinedText(req.Args))
	if name == "" {
		return reply(ctx, req, "which habit? usage: /habit log <name>")
	}

	// "Today" is the user's local calendar day, same rules as reminder
	// delivery.
	loc := locationOf(req.From.Timezone)
	day := time.Now().In(loc).Format("2006-01-02")

	logged, err := req.Store.LogHabit(ctx, storage.HabitEntry{
		UserID:   req.FromID,
		Habit:    name,
		LoggedOn: day,
	})
	if err != nil {
		return storeFail(ctx, req, "log habit", err)
	}
	if !logged {
		return reply(ctx, req, "already logged "+name+" today 👍")
	}
	return reply(ctx, req, "logged "+name+" for "+day+" ✅")
}

func (a *Assistant) cmdHabitDays(ctx context.Context, req *commands.Request) error {
	name := strings.ToLower(joinedText(req.Args))
	if name == "" {
		return reply(ctx, req, "which habit? usage: /habit days <name>")
	}
	limit := 14
	if v, err := strconv.Atoi(req.Flags["limit"]); err == nil && v > 0 && v <= 90 {
		limit = v
	}

	days, err := req.Store.ListHabitDays(ctx, req.FromID, name, limit)
	if err != nil {
		return storeFail(ctx, req, "list habit days", err)
	}
	if len(days) == 0 {
		return reply(ctx, req, "no entries for "+name+" yet")
	}

	b := tgui.New().
		Title("🔁", name).
		Line(strings.Join(days, ", "))
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
