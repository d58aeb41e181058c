package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"donnabot/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42], "group_log": "", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "min_level": "", "rate_per_sec": 0}},
  "storage": {"path": "./donna.db"}
}`

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "donna.json", minimalJSON)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q, want %q", cfg.Telegram.Token, "123:abc")
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v, want [42]", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Storage.Path != "./donna.db" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if !cfg.SweepEnabled() {
		t.Fatal("SweepEnabled() = false with sweep section omitted, want true")
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() did not return the loaded config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 77]
  group_log: "-1001234"
  poll_timeout: 2m
logging:
  level: debug
  console: true
  file: {enabled: true, path: /tmp/donna.log}
  chat: {enabled: true, min_level: warn, rate_per_sec: 1}
storage:
  path: /var/lib/donna/donna.db
  busy_timeout: 5s
sweep:
  enabled: false
notifier:
  enabled: true
  workers: 4
  retry_base: 750ms
`
	p := writeFile(t, t.TempDir(), "donna.yaml", body)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.PollTimeout != "2m" {
		t.Fatalf("poll_timeout = %q, want %q", cfg.Telegram.PollTimeout, "2m")
	}
	if cfg.SweepEnabled() {
		t.Fatal("SweepEnabled() = true, want false")
	}
	if cfg.Notifier == nil || cfg.Notifier.Workers != 4 || cfg.Notifier.RetryBase != "750ms" {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	id, err := cfg.GroupLogChatID()
	if err != nil || id != -1001234 {
		t.Fatalf("GroupLogChatID() = %d, %v", id, err)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "donna.json",
		`{"telegram": {"token": "x", "bot_name": "donna"}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("Parse accepted an unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "donna.json", `{} {"extra": true}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("Parse accepted trailing data")
	}
}

func TestSweepEnabledResolution(t *testing.T) {
	t.Parallel()
	f := false
	tr := true
	cases := []struct {
		name string
		cfg  *Config
		want bool
	}{
		{"nil config", nil, true},
		{"no section", &Config{}, true},
		{"section without field", &Config{Sweep: &SweepConfig{}}, true},
		{"explicit false", &Config{Sweep: &SweepConfig{Enabled: &f}}, false},
		{"explicit true", &Config{Sweep: &SweepConfig{Enabled: &tr}}, true},
	}
	for _, tc := range cases {
		if got := tc.cfg.SweepEnabled(); got != tc.want {
			t.Errorf("%s: SweepEnabled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "123:abc", PollTimeout: "10s"},
			Storage:  StorageConfig{Path: "./donna.db", BusyTimeout: "5s"},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "10 minutes" }, "poll_timeout"},
		{"negative poll timeout", func(c *Config) { c.Telegram.PollTimeout = "-5s" }, "poll_timeout"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@donnalog" }, "group_log"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }, "busy_timeout"},
		{"negative notifier workers", func(c *Config) { c.Notifier = &NotifierConfig{Workers: -1} }, "notifier.workers"},
		{"bad notifier retry base", func(c *Config) { c.Notifier = &NotifierConfig{RetryBase: "fast"} }, "retry_base"},
		{"bad ops read timeout", func(c *Config) { c.Ops = &OpsConfig{ReadTimeout: "later"} }, "read_timeout"},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "750ms"); err != nil || d != 750*time.Millisecond {
		t.Fatalf("750ms: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "sometime"); err == nil {
		t.Fatal("garbage duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 9*time.Second); err != nil || d != 9*time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", 9*time.Second); err != nil || d != 2*time.Second {
		t.Fatalf("explicit: got %v, %v", d, err)
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{}
	second := &Config{Telegram: TelegramConfig{Token: "t"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("slow subscriber did not receive the newest config")
		}
	default:
		t.Fatal("no config delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Publishing after Unsubscribe must not panic.
	m.publish(&Config{})
}

func TestHashConfigStable(t *testing.T) {
	t.Parallel()
	a := &Config{Telegram: TelegramConfig{Token: "x", PollTimeout: "10s"}}
	b := &Config{Telegram: TelegramConfig{Token: "x", PollTimeout: "10s"}}
	c := &Config{Telegram: TelegramConfig{Token: "y", PollTimeout: "10s"}}
	if hashConfig(a) != hashConfig(b) {
		t.Fatal("equal configs hash differently")
	}
	if hashConfig(a) == hashConfig(c) {
		t.Fatal("different configs hash the same")
	}
	if hashConfig(nil) != 0 {
		t.Fatal("nil config should hash to 0")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram: TelegramConfig{Token: "x", OwnerUserIDs: []int64{1}, PollTimeout: "10s"},
		Storage:  StorageConfig{Path: "a.db"},
	}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "x", OwnerUserIDs: []int64{1, 2}, PollTimeout: "10s"},
		Storage:  StorageConfig{Path: "a.db"},
		Notifier: &NotifierConfig{Enabled: true, Workers: 4},
	}

	changed, attrs := SummarizeChange(oldCfg, newCfg)
	want := []string{"notifier", "telegram"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs for a real change")
	}

	if changed, _ := SummarizeChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("no-op change reported sections: %v", changed)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "donna.json", minimalJSON)

	m := NewManager(p)
	m.SetLogger(logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		return cfg.Validate()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = m.Watch(ctx)
	}()
	sub := m.Subscribe(2)

	// Give the watcher a moment to arm before the first edit.
	time.Sleep(300 * time.Millisecond)

	// An invalid edit must not be committed or published.
	writeFile(t, dir, "donna.json", `{"telegram": {"token": ""}, "logging": {}, "storage": {"path": ""}}`)
	time.Sleep(700 * time.Millisecond)

	// A valid edit lands as the next published config.
	good := strings.Replace(minimalJSON, "10s", "30s", 1)
	writeFile(t, dir, "donna.json", good)

	select {
	case cfg := <-sub:
		if cfg.Telegram.PollTimeout != "30s" {
			t.Fatalf("published poll_timeout = %q, want %q (a rejected config leaked through?)",
				cfg.Telegram.PollTimeout, "30s")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reload published")
	}
	if got := m.Get().Telegram.PollTimeout; got != "30s" {
		t.Fatalf("Get() poll_timeout = %q, want %q", got, "30s")
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
