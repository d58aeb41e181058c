package tgui

import (
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"", 5, ""},
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated here", 5, "trunc…"},
		{"héllo wörld", 5, "héllo…"},
		{"anything", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestData(t *testing.T) {
	t.Parallel()

	if got := Data("task", "del", "abc"); got != "task:del:abc" {
		t.Fatalf("Data = %q", got)
	}
	if got := Data("ui", "cancel", ""); got != "ui:cancel" {
		t.Fatalf("Data without payload = %q", got)
	}
}

func TestCheckData(t *testing.T) {
	t.Parallel()

	if err := CheckData(Data("task", "del", "0b3d9a2e-8a7f-4c1e-b2aa-001122334455")); err != nil {
		t.Fatalf("uuid payload should fit: %v", err)
	}
	if err := CheckData(strings.Repeat("x", MaxCallbackDataLen+1)); err != ErrCallbackDataTooLong {
		t.Fatalf("err = %v, want ErrCallbackDataTooLong", err)
	}
}

func TestPaginateSlice(t *testing.T) {
	t.Parallel()

	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	sub, page, size, from, to, hasPrev, hasNext := PaginateSlice(items, 1, 10)
	if page != 1 || size != 10 || from != 10 || to != 20 {
		t.Fatalf("page meta = %d %d %d %d", page, size, from, to)
	}
	if len(sub) != 10 || sub[0] != 10 {
		t.Fatalf("sub = %v", sub)
	}
	if !hasPrev || !hasNext {
		t.Fatalf("hasPrev=%v hasNext=%v", hasPrev, hasNext)
	}

	sub, _, _, _, _, hasPrev, hasNext = PaginateSlice(items, 2, 10)
	if len(sub) != 5 || hasNext || !hasPrev {
		t.Fatalf("last page: sub=%v hasPrev=%v hasNext=%v", sub, hasPrev, hasNext)
	}

	// Out-of-range pages clamp to empty, not panic.
	sub, _, _, _, _, _, hasNext = PaginateSlice(items, 99, 10)
	if len(sub) != 0 || hasNext {
		t.Fatalf("overflow page: sub=%v hasNext=%v", sub, hasNext)
	}
}

func TestPageLabel(t *testing.T) {
	t.Parallel()

	if got := PageLabel(0, 10, 0); got != "Page 1/1" {
		t.Fatalf("empty label = %q", got)
	}
	if got := PageLabel(1, 10, 25); got != "Page 2/3 • 11–20 of 25" {
		t.Fatalf("label = %q", got)
	}
}

func TestBuilderEscapesByDefault(t *testing.T) {
	t.Parallel()

	msg := New().
		Title("📋", "Tasks <open>").
		Line("a & b").
		KV("count", "2").
		Build()

	if !strings.Contains(msg.Text, "<b>Tasks &lt;open&gt;</b>") {
		t.Fatalf("title not escaped: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "a &amp; b") {
		t.Fatalf("line not escaped: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "<b>count</b>: 2") {
		t.Fatalf("kv row missing: %q", msg.Text)
	}
	if msg.Opt == nil || msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview {
		t.Fatalf("opt = %+v", msg.Opt)
	}
}

func TestBuilderRawLinePassesThrough(t *testing.T) {
	t.Parallel()

	msg := New().RawLine(JoinH(" ", B("3."), Code("09:00"), Esc("standup")).String()).Build()
	want := "<b>3.</b> <code>09:00</code> standup"
	if msg.Text != want {
		t.Fatalf("text = %q, want %q", msg.Text, want)
	}
}

func TestBuilderInlineMarkup(t *testing.T) {
	t.Parallel()

	kb := ConfirmInline(Btn("Delete", Data("task", "del", "id1")), CancelBtn())
	msg := New().Line("sure?").Inline(kb).Build()
	if msg.Opt.ReplyMarkup == nil {
		t.Fatal("markup not attached")
	}
}
