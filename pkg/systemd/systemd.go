// Package systemd talks sd_notify to the service manager. Every helper
// degrades to a no-op when the process is not running under a systemd
// unit with NotifyAccess, so callers never need to branch on it.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady signals that startup has finished. Returns false when not
// supervised by systemd.
func NotifyReady() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// NotifyStopping signals that shutdown has begun.
func NotifyStopping() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return ok
}

// WatchdogInterval returns the keepalive period to use when the unit
// has WatchdogSec set: half the configured window. Zero means the
// watchdog is off.
func WatchdogInterval() time.Duration {
	window, err := daemon.SdWatchdogEnabled(false)
	if err != nil || window <= 0 {
		return 0
	}
	return window / 2
}

// KeepAlive pings the watchdog every interval until ctx is done.
func KeepAlive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
