package assistant

import (
	"context"
	"strconv"

	"donnabot/internal/commands"
	"donnabot/internal/storage"
	"donnabot/pkg/tgui"
)

func (a *Assistant) ideaCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "idea",
			Description: "list parked ideas",
			Usage:       "/idea",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdIdeaList,
		},
		{
			Route:       "idea add",
			Description: "park an idea for later",
			Usage:       "/idea add <text>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdIdeaAdd,
		},
		{
			Route:       "idea del",
			Description: "drop an idea",
			Usage:       "/idea del <number>",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdIdeaDel,
		},
	}
}

func (a *Assistant) cmdIdeaList(ctx context.Context, req *commands.Request) error {
	ideas, err := req.Store.ListIdeas(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list ideas", err)
	}
	if len(ideas) == 0 {
		return reply(ctx, req, "no parked ideas, drop one in with /idea add <text>")
	}

	b := tgui.New().Title("💡", "Ideas")
	for i, it := range ideas {
		b.RawLine(tgui.JoinH(" ",
			tgui.B(strconv.Itoa(i+1)+"."),
			tgui.Esc(tgui.TruncRunes(it.Text, 100)),
			tgui.I("("+reltime(it.CreatedAt)+")"),
		).String())
	}
	_, err = b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (a *Assistant) cmdIdeaAdd(ctx context.Context, req *commands.Request) error {
	text := joinedText(req.Args)
	if text == "" {
		return reply(ctx, req, "what's the idea? usage: /idea add <text>")
	}
	it, err := req.Store.AddIdea(ctx, storage.Idea{UserID: req.FromID, Text: text})
	if err != nil {
		return storeFail(ctx, req, "add idea", err)
	}
	return reply(ctx, req, "parked 💡 "+tgui.TruncRunes(it.Text, 80))
}

func (a *Assistant) cmdIdeaDel(ctx context.Context, req *commands.Request) error {
	n, ok := argIndex(req.Args)
	if !ok {
		return reply(ctx, req, "which one? usage: /idea del <number>")
	}
	ideas, err := req.Store.ListIdeas(ctx, req.FromID)
	if err != nil {
		return storeFail(ctx, req, "list ideas", err)
	}
	if n > len(ideas) {
		return reply(ctx, req, "no such idea, check /idea")
	}
	it := ideas[n-1]
	return confirmDelete(ctx, req, "idea", tgui.TruncRunes(it.Text, 60), it.ID)
}
