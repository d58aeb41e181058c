package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"donnabot/internal/eventbus"
	"donnabot/internal/metrics"
	kit "donnabot/internal/transport"
	"donnabot/pkg/logx"
)

// fakeAdapter records sends. When gate is non-nil every send first
// waits for the gate to close, which lets tests hold a worker busy.
type fakeAdapter struct {
	gate     chan struct{}
	entered  chan struct{}
	calls    chan string
	mu       sync.Mutex
	sent     []string
	failures int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		calls:   make(chan string, 64),
		entered: make(chan struct{}, 64),
	}
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case a.entered <- struct{}{}:
	default:
	}
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return kit.MessageRef{}, errors.New("send rejected")
	}
	a.sent = append(a.sent, text)
	select {
	case a.calls <- text:
	default:
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (a *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (a *fakeAdapter) sentTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func waitSend(t *testing.T, a *fakeAdapter) string {
	t.Helper()
	select {
	case text := <-a.calls:
		return text
	case <-time.After(3 * time.Second):
		t.Fatalf("no send within 3s")
		return ""
	}
}

// recSink counts delivery outcomes.
type recSink struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes map[string]int
}

func newRecSink() *recSink { return &recSink{outcomes: map[string]int{}} }

func (r *recSink) DeliveryOutcome(outcome string) {
	r.mu.Lock()
	r.outcomes[outcome]++
	r.mu.Unlock()
}

func (r *recSink) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func fastCfg() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func note(text string) kit.Notification {
	return kit.Notification{Kind: "reminder", Target: kit.ChatTarget{ChatID: 7}, Text: text}
}

func TestNotifyDeliversThroughQueue(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(fastCfg(), Deps{Adapter: ad, Bus: bus}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), note("water the plants")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := waitSend(t, ad); got != "water the plants" {
		t.Fatalf("sent %q, want %q", got, "water the plants")
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == EventSent {
				de, ok := e.Data.(DeliveryEvent)
				if !ok {
					t.Fatalf("event data = %T, want DeliveryEvent", e.Data)
				}
				if de.Kind != "reminder" || de.ChatID != 7 {
					t.Fatalf("sent event = %+v", de)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no %s event", EventSent)
		}
	}
}

func TestNotifyPrefixesHighPriority(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	s := New(fastCfg(), Deps{Adapter: ad}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	n := note("disk almost full")
	n.Kind = "ops"
	n.Priority = 9
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got, want := waitSend(t, ad), "\U0001F6A8 disk almost full"; got != want {
		t.Fatalf("sent %q, want %q", got, want)
	}
}

func TestNotifyQueueFullDrops(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	ad.gate = make(chan struct{})
	sink := newRecSink()

	cfg := fastCfg()
	cfg.QueueSize = 1
	s := New(cfg, Deps{Adapter: ad, Metrics: sink}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), note("first")); err != nil {
		t.Fatalf("Notify first: %v", err)
	}
	// Wait until the worker holds "first" at the gate so the queue
	// state is deterministic.
	select {
	case <-ad.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("worker never picked up the job")
	}

	if err := s.Notify(context.Background(), note("second")); err != nil {
		t.Fatalf("Notify second: %v", err)
	}
	if err := s.Notify(context.Background(), note("third")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Notify third = %v, want ErrQueueFull", err)
	}
	if got := sink.count(metrics.OutcomeDropped); got != 1 {
		t.Fatalf("dropped count = %d, want 1", got)
	}

	close(ad.gate)
	waitSend(t, ad)
	waitSend(t, ad)
	if got := ad.sentTexts(); len(got) != 2 {
		t.Fatalf("sent %v, want first and second only", got)
	}
}

func TestNotifyDedupWindowSuppresses(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	sink := newRecSink()
	cfg := fastCfg()
	cfg.DedupWindow = time.Hour
	s := New(cfg, Deps{Adapter: ad, Metrics: sink}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), note("same text")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	// Duplicate inside the window is accepted but suppressed.
	if err := s.Notify(context.Background(), note("same text")); err != nil {
		t.Fatalf("duplicate Notify: %v", err)
	}
	if err := s.Notify(context.Background(), note("other text")); err != nil {
		t.Fatalf("Notify other: %v", err)
	}

	first := waitSend(t, ad)
	second := waitSend(t, ad)
	if first != "same text" || second != "other text" {
		t.Fatalf("sent %q then %q, want suppressed duplicate", first, second)
	}
	if got := sink.count(metrics.OutcomeDeduped); got != 1 {
		t.Fatalf("deduped count = %d, want 1", got)
	}
}

func TestDeliverRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	ad.failures = 2
	cfg := fastCfg()
	cfg.RetryMax = 3
	s := New(cfg, Deps{Adapter: ad}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), note("flaky send")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := waitSend(t, ad); got != "flaky send" {
		t.Fatalf("sent %q after retries", got)
	}
	if got := ad.sentTexts(); len(got) != 1 {
		t.Fatalf("sent %d times, want 1", len(got))
	}
}

func TestDeliverGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	ad.failures = 10
	sink := newRecSink()
	cfg := fastCfg()
	cfg.RetryMax = 1
	s := New(cfg, Deps{Adapter: ad, Metrics: sink}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Notify(context.Background(), note("doomed")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sink.count(metrics.OutcomeFailed); got != 1 {
		t.Fatalf("failed count = %d, want 1", got)
	}
	if got := ad.sentTexts(); len(got) != 0 {
		t.Fatalf("sent %v, want nothing", got)
	}
}

func TestStopDrainsQueuedJobs(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	s := New(fastCfg(), Deps{Adapter: ad}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, text := range []string{"one", "two", "three"} {
		if err := s.Notify(context.Background(), note(text)); err != nil {
			t.Fatalf("Notify %s: %v", text, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ad.sentTexts(); len(got) != 3 {
		t.Fatalf("sent %v, want all three drained", got)
	}

	if err := s.Notify(context.Background(), note("late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop = %v, want ErrStopped", err)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()

	cfg := fastCfg()
	cfg.Enabled = false
	s := New(cfg, Deps{Adapter: newFakeAdapter()}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Notify(context.Background(), note("x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
}

func TestDedupKeyShape(t *testing.T) {
	t.Parallel()

	a := note("same")
	b := note("same")
	if dedupKey(a) != dedupKey(b) {
		t.Fatalf("identical notifications hash differently")
	}
	b.Kind = "ops"
	if dedupKey(a) == dedupKey(b) {
		t.Fatalf("kind is not part of the key")
	}
	b = note("same")
	b.Target.ChatID = 8
	if dedupKey(a) == dedupKey(b) {
		t.Fatalf("chat id is not part of the key")
	}
	if dedupKey(kit.Notification{Text: "untagged"}) != "" {
		t.Fatalf("untagged notification got a dedup key")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("retryDelay(%d) = %v, outside [0, %v]", attempt, d, cfg.RetryMaxDelay)
		}
	}
}
