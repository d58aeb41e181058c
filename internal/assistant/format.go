package assistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"donnabot/internal/commands"
	kit "donnabot/internal/transport"
	"donnabot/pkg/tgui"
)

const listPageSize = 10

// reltime renders "3 days ago" style timestamps for list rows.
func reltime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// locationOf resolves a stored timezone, falling back to UTC the same
// way reminder delivery does.
func locationOf(tz string) *time.Location {
	if strings.TrimSpace(tz) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// argIndex parses the leading 1-based list index of a command.
func argIndex(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// joinedText rebuilds free text from positional args.
func joinedText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func reply(ctx context.Context, req *commands.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

// storeFail tells the user something went wrong and surfaces the error
// to the request log and audit trail.
func storeFail(ctx context.Context, req *commands.Request, op string, err error) error {
	_, _ = req.Adapter.SendText(ctx, req.Chat, "storage hiccup, please try again", nil)
	return fmt.Errorf("%s: %w", op, err)
}

// confirmDelete sends a two-button prompt whose Delete button carries
// the record id, so the callback stays valid even if the list moves.
func confirmDelete(ctx context.Context, req *commands.Request, scope, preview, id string) error {
	data := tgui.Data(scope, "del", id)
	if err := tgui.CheckData(data); err != nil {
		return err
	}
	kb := tgui.ConfirmInline(tgui.Btn("🗑 Delete", data), tgui.CancelBtn())
	msg := tgui.New().
		RawLine(tgui.JoinH(" ", tgui.B("Delete this?"), tgui.Esc(preview)).String()).
		Inline(kb).
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// editCallbackMessage rewrites the message the tapped button hangs off.
func editCallbackMessage(ctx context.Context, req *commands.Request, text string) error {
	cb := req.Update.Callback
	if cb == nil || cb.MessageID == 0 {
		return reply(ctx, req, text)
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return req.Adapter.EditText(ctx, ref, text, nil)
}
