package assistant

import (
	"context"
	"strconv"
	"time"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	"donnabot/pkg/tgui"
)

func (a *Assistant) taskCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "task",
			Aliases:     []string{"t"},
			Description: "list your tasks",
			Usage:       "/task [--all]",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdTaskList,
		},
		{
			Route:       "task add",
			Description: "add a task",
			Usage:       "/task add <text>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdTaskAdd,
		},
		{
			Route:       "task done",
			Description: "mark a task as done",
			Usage:       "/task done <number>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdTaskDone,
		},
		{
			Route:       "task del",
			Description: "delete a task",
			Usage:       "/task del <number>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdTaskDel,
		},
	}
}

func (a *Assistant) cmdTaskList(ctx context.Context, req *commands.Request) error {
	includeDone := req.Bools["all"]
	tasks, err := req.Store.ListTasks(ctx, req.FromID, includeDone)
	if err != nil {
		return storeFail(ctx, req, "list tasks", err)
	}
	if len(tasks) == 0 {
		if includeDone {
			return reply(ctx, req, "no tasks yet, add one with /task add <text>")
		}
		return reply(ctx, req, "no open tasks 🎉 add one with /task add <text>")
	}

	b := tgui.New().Title("📋", "Tasks")
	for i, t := range tasks {
		row := tgui.JoinH(" ",
			tgui.B(strconv.Itoa(i+1)+"."),
			tgui.Esc(t.Text),
			tgui.I("("+reltime(t.CreatedAt)+")"),
		)
		if t.Done {
			row = tgui.JoinH(" ", tgui.Raw("✅"), row)
		}
		b.RawLine(row.String())
	}
	if !includeDone {
		b.Blank().RawLine(tgui.I("Add --all to include finished tasks.").String())
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *Assistant) cmdTaskAdd(ctx context.Context, req *commands.Request) error {
	text := joinedText(req.Args)
	if text == "" {
		return reply(ctx, req, "what should I add? usage: /task add <text>")
	}
	t, err := req.Store.AddTask(ctx, storage.Task{UserID: req.FromID, Text: text})
	if err != nil {
		return storeFail(ctx, req, "add task", err)
	}
	return reply(ctx, req, "added: "+t.Text)
}

func (a *Assistant) cmdTaskDone(ctx context.Context, req *commands.Request) error {
	n, ok := argIndex(req.Args)
	if !ok {
		return reply(ctx, req, "which one? usage: /task done <number>")
	}
	tasks, err := req.Store.ListTasks(ctx, req.FromID, false)
	if err != nil {
		return storeFail(ctx, req, "list tasks", err)
	}
	if n > len(tasks) {
		return reply(ctx, req, "no such task, check /task")
	}
	t := tasks[n-1]
	found, err := req.Store.CompleteTask(ctx, req.FromID, t.ID, time.Now().UTC())
	if err != nil {
		return storeFail(ctx, req, "complete task", err)
	}
	if !found {
		return reply(ctx, req, "that task is already gone")
	}
	return reply(ctx, req, "done ✅ "+t.Text)
}

func (a *Assistant) cmdTaskDel(ctx context.Context, req *commands.Request) error {
	n, ok := argIndex(req.Args)
	if !ok {
		return reply(ctx, req, "which one? usage: /task del <number>")
	}
	tasks, err := req.Store.ListTasks(ctx, req.FromID, true)
	if err != nil {
		return storeFail(ctx, req, "list tasks", err)
	}
	if n > len(tasks) {
		return reply(ctx, req, "no such task, check /task --all")
	}
	t := tasks[n-1]
	return confirmDelete(ctx, req, "task", tgui.TruncRunes(t.Text, 60), t.ID)
}
