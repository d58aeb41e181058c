// Package app assembles the bot: configuration, logging, storage,
// transport, the delivery pipeline, the reminder sweep, the ops HTTP
// surface and the command layer, with an explicit start/stop lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"donnabot/internal/assistant"
	"donnabot/internal/commands"
	"donnabot/internal/config"
	"donnabot/internal/eventbus"
	"donnabot/internal/metrics"
	"donnabot/internal/notifier"
	"donnabot/internal/observability/ops"
	"donnabot/internal/runtime/supervisor"
	"donnabot/internal/storage"
	"donnabot/internal/sweep"
	kit "donnabot/internal/transport"
	"donnabot/internal/transport/telegram"
	"donnabot/pkg/logx"
	"donnabot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	swp     *sweep.Service
	opsrv   *ops.Service
	cmdm    *commands.Manager
	asst    *assistant.Assistant
	supers  *supervisor.Registry

	sup     *supervisor.Supervisor
	updates chan kit.Update
	ready   atomic.Bool
	version string
}

// New loads the config and builds every service wired but not yet
// running.
func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The adapter exists before the log service because it doubles as
	// the chat log forwarder.
	bootLog := logx.NewConsole(cfg.Logging.Level)
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logxConfig(cfg), adapter)
	appLog := log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	bus := eventbus.New()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewPrometheusSink(registry)

	notif := notifier.New(notifierConfig(cfg), notifier.Deps{
		Adapter: adapter,
		Bus:     bus,
		Dedup:   store,
		Metrics: sink,
	}, log)

	swp := sweep.New(sweep.Config{Enabled: cfg.SweepEnabled()}, sweep.Deps{
		Store:    store,
		Notifier: notif,
		Metrics:  sink,
		Bus:      bus,
	}, log)

	a := &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     appLog,
		bus:     bus,
		store:   store,
		adapter: adapter,
		notif:   notif,
		swp:     swp,
		supers:  supervisor.NewRegistry(),
		updates: make(chan kit.Update, 256),
		version: version,
	}

	a.opsrv = ops.New(opsConfig(cfg), ops.Deps{
		Gatherer: registry,
		Ready:    a.ready.Load,
	}, log)

	a.cmdm = commands.NewManager(commands.Deps{
		Adapter: adapter,
		Store:   store,
		Supers:  a.supers,
	}, cfg.Telegram.OwnerUserIDs, log)

	a.asst = assistant.New(assistant.Deps{
		Store:    store,
		Sweep:    swp,
		Notifier: notif,
		Supers:   a.supers,
	}, version, log)

	return a, nil
}

// Done is closed when the run context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	a.supers.Set("app", a.sup)

	// Reject bad edits before they are committed and published.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.supers.Set("telegram", a.adapter.Supervisor())

	if err := a.notif.Start(a.sup.Context()); err != nil {
		return err
	}
	a.supers.Set("notifier", a.notif.Supervisor())

	if err := a.swp.Start(a.sup.Context()); err != nil {
		return err
	}

	a.opsrv.Start(a.sup.Context())

	// Registering after adapter start lets the menu sync run supervised.
	a.cmdm.SetRegistry(a.asst.Commands(), a.asst.Callbacks())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("events.log", a.eventLogLoop)

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.KeepAlive(c, iv)
		})
		a.log.Info("systemd watchdog keepalive on", logx.Dur("interval", iv))
	}

	a.ready.Store(true)
	a.log.Info("app started", logx.String("version", a.version))
	return nil
}

// reloadLoop applies committed config changes to running services.
// Bursts are coalesced; only the newest config wins.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
		coalesce:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break coalesce
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reloaded, no effective changes")
		return
	}

	a.logs.Apply(logxConfig(cfg))
	if chatID, err := cfg.GroupLogChatID(); err == nil {
		// Zero clears a previously set target.
		a.logs.SetChatTarget(chatID)
	}

	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)

	prevNotif := a.notif.Enabled()
	a.notif.Apply(notifierConfig(cfg))
	if prevNotif && !a.notif.Enabled() {
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.notif.Stop(stopCtx)
		cancel()
	} else if !prevNotif && a.notif.Enabled() {
		a.log.Info("notifier enabled via config")
		if err := a.notif.Start(ctx); err != nil {
			a.log.Warn("notifier restart failed", logx.Err(err))
		}
	}

	a.swp.Apply(sweep.Config{Enabled: cfg.SweepEnabled()})
	a.opsrv.Reconfigure(ctx, opsConfig(cfg))

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// eventLogLoop surfaces delivery problems in the log without coupling
// the notifier to the app.
func (a *App) eventLogLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case notifier.EventFailed, notifier.EventDropped:
				d, _ := e.Data.(notifier.DeliveryEvent)
				a.log.Warn("delivery problem",
					logx.String("event", e.Type),
					logx.String("kind", d.Kind),
					logx.Int64("chat", d.ChatID),
					logx.String("cause", d.Error))
			default:
				a.log.Trace("event", logx.String("type", e.Type))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.ready.Store(false)
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall the
	// whole stop. A step that overruns is logged and left behind.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step done", logx.String("name", name), logx.Dur("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name),
				logx.Dur("elapsed", time.Since(start)))
			// Leak signal: observe when, or whether, it finishes.
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name),
					logx.Err(err),
					logx.Dur("took", time.Since(start)))
			}()
		}
	}

	step("sweep", 2*time.Second, a.swp.Stop)
	step("notifier", 3*time.Second, a.notif.Stop)
	step("ops", 2*time.Second, func(c context.Context) error { a.opsrv.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// Config mapping. Validation happened before commit, so duration parse
// errors here only fall back to zero values.

func logxConfig(cfg *config.Config) logx.Config {
	chatID, _ := cfg.GroupLogChatID()
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChatID:     chatID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true}
	}
	retryBase, _ := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	retryMaxDelay, _ := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	dedupWindow, _ := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

func opsConfig(cfg *config.Config) ops.Config {
	o := cfg.Ops
	if o == nil {
		return ops.Config{}
	}
	readTimeout, _ := config.ParseDurationField("ops.read_timeout", o.ReadTimeout)
	writeTimeout, _ := config.ParseDurationField("ops.write_timeout", o.WriteTimeout)
	idleTimeout, _ := config.ParseDurationField("ops.idle_timeout", o.IdleTimeout)
	return ops.Config{
		Enabled:              o.Enabled,
		Addr:                 o.Addr,
		Token:                o.Token,
		AllowInsecure:        o.AllowInsecure,
		Pprof:                o.Pprof,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
		MemProfileRate:       o.MemProfileRate,
	}
}
