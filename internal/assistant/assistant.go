// Package assistant implements Donna's productivity features: tasks,
// recurring reminders, notes, habit tracking and parked ideas, all
// scoped per user and backed by the document store.
package assistant

import (
	"context"
	"time"

	"donnabot/internal/commands"
	"donnabot/internal/notifier"
	"donnabot/internal/runtime/supervisor"
	"donnabot/internal/storage"
	"donnabot/internal/sweep"
	"donnabot/pkg/logx"
	"donnabot/pkg/tgui"
)

// Deps are the collaborators the handlers read from. Sweep, Notifier
// and Supers are only consulted by /status and may be nil in tests.
type Deps struct {
	Store    storage.Store
	Sweep    *sweep.Service
	Notifier *notifier.Service
	Supers   *supervisor.Registry
}

type Assistant struct {
	store  storage.Store
	sweep  *sweep.Service
	notif  *notifier.Service
	supers *supervisor.Registry
	log    logx.Logger

	version   string
	startedAt time.Time
}

func New(deps Deps, version string, log logx.Logger) *Assistant {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Assistant{
		store:     deps.Store,
		sweep:     deps.Sweep,
		notif:     deps.Notifier,
		supers:    deps.Supers,
		log:       log.With(logx.String("comp", "assistant")),
		version:   version,
		startedAt: time.Now(),
	}
}

// Commands returns every routable command the assistant offers.
func (a *Assistant) Commands() []commands.Command {
	out := []commands.Command{
		{
			Route:       "start",
			Description: "introduction and quick start",
			Usage:       "/start",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdStart,
		},
	}
	out = append(out, a.taskCommands()...)
	out = append(out, a.reminderCommands()...)
	out = append(out, a.noteCommands()...)
	out = append(out, a.habitCommands()...)
	out = append(out, a.ideaCommands()...)
	out = append(out, a.settingsCommands()...)
	out = append(out, a.statusCommands()...)
	return out
}

// Callbacks returns the inline-button routes for confirm flows.
func (a *Assistant) Callbacks() []commands.CallbackRoute {
	return a.deleteCallbacks()
}

func (a *Assistant) cmdStart(ctx context.Context, req *commands.Request) error {
	msg := tgui.New().
		Title("👋", "Hi, I'm Donna").
		Line("I keep track of the small stuff so you don't have to.").
		Blank().
		Bullets(
			"/task add <text> to capture a todo",
			"/remind add <HH:MM> [weekday] <text> for recurring nudges",
			"/note add <text> for things worth keeping",
			"/habit log <name> to mark a daily habit",
			"/idea add <text> to park a thought",
			"/tz <zone> so reminders arrive on your clock",
		).
		Blank().
		RawLine(tgui.I("Type /help for the full list.").String()).
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}
