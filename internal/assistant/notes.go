package assistant

import (
	"context"
	"strconv"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	"donnabot/pkg/tgui"
)

func (a *Assistant) noteCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "note",
			Aliases:     []string{"n"},
			Description: "list your notes",
			Usage:       "/note [--page N]",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdNoteList,
		},
		{
			Route:       "note add",
			Description: "keep a note",
			Usage:       "/note add <text>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdNoteAdd,
		},
		{
			Route:       "note del",
			Description: "delete a note",
			Usage:       "/note del <number>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdNoteDel,
		},
	}
}

func (a *Assistant) cmdNoteList(ctx context.Context, req *commands.Request) error {
	notes, err := req.Store.ListNotes(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list notes", err)
	}
	if len(notes) == 0 {
		return reply(ctx, req, "no notes yet, add one with /note add <text>")
	}

	page := 0
	if p, perr := strconv.Atoi(req.Flags["page"]); perr == nil && p > 1 {
		page = p - 1
	}
	sub, page, size, from, _, hasPrev, hasNext := tgui.PaginateSlice(notes, page, listPageSize)

	b := tgui.New().Title("🗒", "Notes")
	for i, n := range sub {
		b.RawLine(tgui.JoinH(" ",
			tgui.B(strconv.Itoa(from+i+1)+"."),
			tgui.Esc(tgui.TruncRunes(n.Text, 120)),
			tgui.I("("+reltime(n.CreatedAt)+")"),
		).String())
	}
	if hasPrev || hasNext {
		b.Blank().RawLine(tgui.I(tgui.PageLabel(page, size, len(notes))).String())
		if hasNext {
			b.RawLine(tgui.I("Next: /note --page " + strconv.Itoa(page+2)).String())
		}
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *Assistant) cmdNoteAdd(ctx context.Context, req *commands.Request) error {
	text := joinedText(req.Args)
	if text == "" {
		return reply(ctx, req, "what should I keep? usage: /note add <text>")
	}
	n, err := req.Store.AddNote(ctx, storage.Note{UserID: req.FromID, Text: text})
	if err != nil {
		return storeFail(ctx, req, "add note", err)
	}
	return reply(ctx, req, "noted: "+tgui.TruncRunes(n.Text, 80))
}

func (a *Assistant) cmdNoteDel(ctx context.Context, req *commands.Request) error {
	n, ok := argIndex(req.Args)
	if !ok {
		return reply(ctx, req, "which one? usage: /note del <number>")
	}
	notes, err := req.Store.ListNotes(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list notes", err)
	}
	if n > len(notes) {
		return reply(ctx, req, "no such note, check /note")
	}
	target := notes[n-1]
	return confirmDelete(ctx, req, "note", tgui.TruncRunes(target.Text, 60), target.ID)
}
