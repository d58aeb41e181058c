package assistant

import (
	"context"
	"strings"
	"time"

	"donnabot/internal/commands"
)

func (a *Assistant) settingsCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "tz",
			Description: "show or set your timezone",
			Usage:       "/tz [zone], e.g. /tz Europe/Berlin",
			Access:      commands.AccessEveryone,
			Handle:      a.cmdTimezone,
		},
	}
}

func (a *Assistant) cmdTimezone(ctx context.Context, req *commands.Request) error {
	if len(req.Args) == 0 {
		tz := req.From.Timezone
		if tz == "" {
			return reply(ctx, req, "your timezone: UTC (default)\nset one with /tz <zone>, e.g. /tz Asia/Jakarta")
		}
		now := time.Now().In(locationOf(tz)).Format("15:04")
		return reply(ctx, req, "your timezone: "+tz+" (local time "+now+")")
	}

	zone := strings.TrimSpace(req.Args[0])
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return reply(ctx, req, "unknown timezone "+zone+", use an IANA name like Europe/Berlin or Asia/Jakarta")
	}
	// Store the canonical spelling the user gave; LoadLocation accepted it.
	if err := req.Store.SetTimezone(ctx, req.FromID, zone); err != nil {
		return storeFail(ctx, req, "set timezone", err)
	}
	now := time.Now().In(loc).Format("15:04")
	return reply(ctx, req, "timezone set to "+zone+" (local time "+now+")\nreminders will fire on this clock")
}
