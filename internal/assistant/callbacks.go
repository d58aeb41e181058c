package assistant

import (
	"context"

	"donnabot/internal/commands"
)

// deleteCallbacks wires the confirm-delete buttons. Payloads carry
// record ids and every delete is scoped to the tapping user, so these
// are safe to open up beyond the owner list.
func (a *Assistant) deleteCallbacks() []commands.CallbackRoute {
	return []commands.CallbackRoute{
		{
			Scope:       "task",
			Action:      "del",
			Description: "confirm task deletion",
			Access:      commands.CallbackAccessEveryone,
			Handle: func(ctx context.Context, req *commands.Request, payload string) error {
				ok, err := req.Store.DeleteTask(ctx, req.FromID, payload)
				return a.finishDelete(ctx, req, "task", ok, err)
			},
		},
		{
			Scope:       "remind",
			Action:      "del",
			Description: "confirm reminder deletion",
			Access:      commands.CallbackAccessEveryone,
			Handle: func(ctx context.Context, req *commands.Request, payload string) error {
				ok, err := req.Store.DeleteReminder(ctx, req.FromID, payload)
				return a.finishDelete(ctx, req, "reminder", ok, err)
			},
		},
		{
			Scope:       "note",
			Action:      "del",
			Description: "confirm note deletion",
			Access:      commands.CallbackAccessEveryone,
			Handle: func(ctx context.Context, req *commands.Request, payload string) error {
				ok, err := req.Store.DeleteNote(ctx, req.FromID, payload)
				return a.finishDelete(ctx, req, "note", ok, err)
			},
		},
		{
			Scope:       "idea",
			Action:      "del",
			Description: "confirm idea deletion",
			Access:      commands.CallbackAccessEveryone,
			Handle: func(ctx context.Context, req *commands.Request, payload string) error {
				ok, err := req.Store.DeleteIdea(ctx, req.FromID, payload)
				return a.finishDelete(ctx, req, "idea", ok, err)
			},
		},
		{
			Scope:       "ui",
			Action:      "cancel",
			Description: "dismiss a prompt",
			Access:      commands.CallbackAccessEveryone,
			Handle: func(ctx context.Context, req *commands.Request, payload string) error {
				return editCallbackMessage(ctx, req, "cancelled")
			},
		},
	}
}

func (a *Assistant) finishDelete(ctx context.Context, req *commands.Request, kind string, ok bool, err error) error {
	if err != nil {
		_ = editCallbackMessage(ctx, req, "storage hiccup, please try again")
		return err
	}
	if !ok {
		return editCallbackMessage(ctx, req, kind+" was already gone")
	}
	return editCallbackMessage(ctx, req, "🗑 "+kind+" deleted")
}
