package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"donnabot/internal/eventbus"
	"donnabot/internal/metrics"
	"donnabot/internal/storage"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

type Config struct {
	Enabled bool
}

// Store is the slice of the document store the sweep reads.
type Store interface {
	ListUsers(ctx context.Context) ([]storage.User, error)
	ListReminders(ctx context.Context, userID int64) ([]storage.Reminder, error)
}

// Notifier accepts a notification for asynchronous delivery.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Deps are the injected collaborators. Clock defaults to the real clock,
// Metrics to a nop sink.
type Deps struct {
	Store    Store
	Notifier Notifier
	Clock    clock.Clock
	Metrics  metrics.Sink
	Bus      eventbus.Bus
}

// EventTick is published on the bus after every completed tick.
const EventTick = "sweep.tick"

// TickReport is the bus payload and the per-tick result.
type TickReport struct {
	At           time.Time     `json:"at"`
	Duration     time.Duration `json:"duration"`
	Users        int           `json:"users"`
	SkippedUsers int           `json:"skipped_users"`
	Fired        int           `json:"fired"`
	Err          string        `json:"err,omitempty"`
}

// Snapshot is a point-in-time view for status rendering.
type Snapshot struct {
	Enabled      bool          `json:"enabled"`
	LastTickAt   time.Time     `json:"last_tick_at"`
	LastDuration time.Duration `json:"last_duration"`
	LastUsers    int           `json:"last_users"`
	LastFired    int           `json:"last_fired"`
	LastError    string        `json:"last_error,omitempty"`
	TotalTicks   uint64        `json:"total_ticks"`
	TotalFired   uint64        `json:"total_fired"`
	SkippedTicks uint64        `json:"skipped_ticks"`
}

type Service struct {
	log      logx.Logger
	store    Store
	notifier Notifier
	clk      clock.Clock
	sink     metrics.Sink
	bus      eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	started bool
	cron    *cron.Cron
	runCtx  context.Context
	cancel  context.CancelFunc
	locs    map[string]*time.Location

	inFlight atomic.Bool

	statMu sync.Mutex
	stats  Snapshot
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log.With(logx.String("comp", "sweep")),
		store:    deps.Store,
		notifier: deps.Notifier,
		clk:      deps.Clock,
		sink:     deps.Metrics,
		bus:      deps.Bus,
		cfg:      cfg,
		locs:     map[string]*time.Location{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates runtime settings. A disabled sweep keeps its cadence but
// turns every tick into a no-op, so re-enabling needs no restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	changed := s.cfg.Enabled != cfg.Enabled
	s.cfg = cfg
	s.mu.Unlock()
	if changed {
		s.log.Info("sweep toggled", logx.Bool("enabled", cfg.Enabled))
	}
}

// Start begins the minute cadence. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.store == nil || s.notifier == nil {
		return errors.New("sweep: store and notifier are required")
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc("* * * * *", func() { s.tick(s.runCtx) }); err != nil {
		s.cancel()
		return err
	}
	c.Start()

	s.cron = c
	s.started = true
	s.log.Info("sweep started")
	return nil
}

// Stop halts the cadence and waits for an in-flight tick, bounded by ctx.
// Idempotent.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	c := s.cron
	s.cron = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		drained := c.Stop()
		select {
		case <-drained.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Info("sweep stopped")
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.statMu.Lock()
	snap := s.stats
	s.statMu.Unlock()
	snap.Enabled = s.Enabled()
	return snap
}

func (s *Service) locationFor(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc, ok := s.locs[tz]; ok {
		return loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("unknown timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		loc = time.UTC
	}
	s.locs[tz] = loc
	return loc
}

func (s *Service) record(rep TickReport) {
	s.statMu.Lock()
	s.stats.LastTickAt = rep.At
	s.stats.LastDuration = rep.Duration
	s.stats.LastUsers = rep.Users
	s.stats.LastFired = rep.Fired
	s.stats.LastError = rep.Err
	s.stats.TotalTicks++
	s.stats.TotalFired += uint64(rep.Fired)
	s.statMu.Unlock()
}
