package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"donnabot/internal/eventbus"
	"donnabot/internal/metrics"
	"donnabot/internal/runtime/supervisor"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

// DedupStore persists suppress-until windows so dedup survives a
// restart. Satisfied by storage.Store.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Deps are the notifier's collaborators. Adapter is required; the rest
// are optional.
type Deps struct {
	Adapter kit.Adapter
	Bus     eventbus.Bus
	Dedup   DedupStore
	Metrics metrics.Sink
}

type job struct {
	n kit.Notification
	// key is computed at enqueue time so workers stay cheap.
	key string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is the async delivery pipeline: bounded queue, worker pool,
// rate limit, retry, dedup. Safe for concurrent use.
type Service struct {
	log     logx.Logger
	adapter kit.Adapter
	bus     eventbus.Bus
	dstore  DedupStore
	metrics metrics.Sink

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	queue     chan job
	persistCh chan dedupWrite
	sup       *supervisor.Supervisor
	stopDone  chan struct{} // non-nil while a stop is draining

	// sendWG spans each Notify call so Stop can close channels only
	// after in-flight enqueues have finished.
	sendWG sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time // key -> suppress until

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		adapter: deps.Adapter,
		bus:     deps.Bus,
		dstore:  deps.Dedup,
		metrics: deps.Metrics,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config and rate limit live. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Burst equals the per-second rate so short spikes drain quickly.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	if s.adapter == nil {
		return errors.New("notifier: adapter is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		// A previous stop is still draining; wait it out.
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Debug("notifier disabled")
		return nil
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.dstore != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	pch := s.persistCh
	s.mu.Unlock()

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.persistLoop(c, pch)
		}, supervisor.WithPublishFirstError(true))
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			return s.workerLoop(c, q)
		}, supervisor.WithPublishFirstError(true))
	}

	s.log.Info("notifier started",
		logx.Int("workers", workers),
		logx.Int("queue", cap(q)))
	return nil
}

// Stop blocks new notifies and drains queued jobs until ctx expires,
// then force-cancels the workers. Idempotent.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	pch := s.persistCh
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Drain asynchronously so the caller can time out without leaking
	// half-stopped state.
	go func() {
		defer close(done)
		s.sendWG.Wait()
		if pch != nil {
			func() {
				defer func() { _ = recover() }()
				close(pch)
			}()
		}
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("notifier stopped")
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		return ctx.Err()
	}
}

// Notify enqueues a notification for async delivery. It returns
// ErrQueueFull when the queue has no room, and nil when the push was
// suppressed by the dedup window.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	persist := s.cfg.PersistDedup
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && key != "" {
		if !s.dedupAllow(ctx, key, window, maxEntries, persist, pch) {
			s.metrics.DeliveryOutcome(metrics.OutcomeDeduped)
			s.publish(EventDeduped, n, key, "")
			return nil
		}
	}

	s.publish(EventQueued, n, key, "")
	select {
	case q <- job{n: n, key: key}:
		s.metrics.QueueDepth(len(q))
		return nil
	default:
		s.metrics.DeliveryOutcome(metrics.OutcomeDropped)
		s.publish(EventDropped, n, key, ErrQueueFull.Error())
		s.log.Warn("notification dropped, queue full",
			logx.String("kind", n.Kind),
			logx.Int64("chat", n.Target.ChatID))
		return ErrQueueFull
	}
}

// Snapshot returns recently delivered texts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// QueueLen reports how many jobs are waiting for a worker.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	return len(q)
}

// Supervisor exposes worker stats for /status. Nil when not running.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.metrics.QueueDepth(len(q))
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := priorityPrefix(j.n.Priority) + j.n.Text
	if text == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.adapter.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil {
			s.appendHistory(text)
			s.metrics.DeliveryOutcome(metrics.OutcomeSent)
			s.publish(EventSent, j.n, j.key, "")
			return
		}
		lastErr = err
		s.log.Debug("send failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("of", attempts))

		if attempt == attempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	s.publish(EventFailed, j.n, j.key, lastErr.Error())
	s.log.Warn("delivery failed, giving up",
		logx.String("kind", j.n.Kind),
		logx.Int64("chat", j.n.Target.ChatID),
		logx.Int("attempts", attempts),
		logx.Err(lastErr))
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case w, ok := <-ch:
			if !ok {
				return nil
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.dstore.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, persist bool, pch chan dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// Cross-restart check, best effort and tightly bounded.
	if persist && s.dstore != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.dstore.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Still over cap after pruning: evict earliest-expiring entries.
	for maxEntries > 0 && len(s.dedup) > maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, u := range s.dedup {
			if oldestKey == "" || u.Before(oldest) {
				oldestKey, oldest = k, u
			}
		}
		delete(s.dedup, oldestKey)
	}
	s.dmu.Unlock()

	if persist && s.dstore != nil && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

func (s *Service) appendHistory(text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, n kit.Notification, key, errText string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: DeliveryEvent{
		Kind:     n.Kind,
		ChatID:   n.Target.ChatID,
		ThreadID: n.Target.ThreadID,
		Key:      key,
		At:       now,
		Error:    errText,
	}})
}

func priorityPrefix(p int) string {
	switch {
	case p >= 9:
		return "\U0001F6A8 " // rotating light
	case p >= 7:
		return "⚠️ " // warning sign
	default:
		return ""
	}
}

// dedupKey hashes the parts that make two pushes "the same". Untagged
// notifications are never deduped.
func dedupKey(n kit.Notification) string {
	if n.Kind == "" {
		return ""
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d:%d:%d|%s", n.Kind, n.Target.ChatID, n.Target.ThreadID, n.Priority, n.Text)
	return strconv.FormatUint(h.Sum64(), 16)
}

// retryDelay returns the wait before attempt+1, exponential from
// RetryBase with 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
