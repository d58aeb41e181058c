package assistant

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"donnabot/internal/commands"
	"donnabot/pkg/tgui"
)

func (a *Assistant) statusCommands() []commands.Command {
	return []commands.Command{
		{
			Route:       "status",
			Description: "runtime status",
			Usage:       "/status",
			Access:      commands.AccessOwnerOnly,
			Timeout:     10 * time.Second,
			Handle:      a.cmdStatus,
		},
	}
}

func (a *Assistant) cmdStatus(ctx context.Context, req *commands.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	b := tgui.New().Title("🤖", "Donna status")
	b.KV("version", a.version)
	b.KV("uptime", reltime(a.startedAt))
	b.KV("go", runtime.Version())
	b.KV("goroutines", fmt.Sprintf("%d", runtime.NumGoroutine()))
	b.KV("heap", humanize.IBytes(m.HeapInuse))

	if a.sweep != nil {
		s := a.sweep.Snapshot()
		b.Blank().Section("Reminder sweep")
		if !s.Enabled {
			b.Line("disabled")
		} else if s.TotalTicks == 0 {
			b.Line("enabled, no tick yet")
		} else {
			b.KV("last tick", reltime(s.LastTickAt))
			b.KV("ticks", fmt.Sprintf("%d (%d skipped)", s.TotalTicks, s.SkippedTicks))
			b.KV("fired", fmt.Sprintf("%d last, %d total", s.LastFired, s.TotalFired))
			if s.LastError != "" {
				b.KV("last error", s.LastError)
			}
		}
	}

	if a.notif != nil {
		b.Blank().Section("Delivery")
		if !a.notif.Enabled() {
			b.Line("disabled")
		} else {
			b.KV("queued", fmt.Sprintf("%d", a.notif.QueueLen()))
			b.KV("recent", fmt.Sprintf("%d sent", len(a.notif.Snapshot())))
		}
	}

	if a.supers != nil {
		snaps := a.supers.Snapshots()
		if len(snaps) > 0 {
			b.Blank().Section("Workers")
			names := make([]string, 0, len(snaps))
			for n := range snaps {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				snap := snaps[n]
				restarts := uint64(0)
				for _, t := range snap.Tasks {
					restarts += t.Restarts
				}
				v := fmt.Sprintf("%d active, %d restarts", snap.Counters.Active, restarts)
				if snap.FirstError != "" {
					v += ", error: " + tgui.TruncRunes(snap.FirstError, 60)
				}
				b.KV(n, v)
			}
		}
	}

	_, err := b.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}
