package commands

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"/task add buy milk", []string{"/task", "add", "buy", "milk"}},
		{`/note add "buy milk tomorrow"`, []string{"/note", "add", "buy milk tomorrow"}},
		{`/note add 'single quoted'`, []string{"/note", "add", "single quoted"}},
		{`/note add escaped\ space`, []string{"/note", "add", "escaped space"}},
		{`/note add "quote \" inside"`, []string{"/note", "add", `quote " inside`}},
		{`/note add "unterminated`, []string{"/note", "add", "unterminated"}},
		{"  /tz   Asia/Jakarta  ", []string{"/tz", "Asia/Jakarta"}},
	}
	for _, tc := range cases {
		got := tokenize(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	pos, flags, bools := parseFlags([]string{"alpha", "--limit=5", "beta", "--all", "--tag", "home", "-n", "3", "-ab"})

	wantPos := []string{"alpha", "beta"}
	if !reflect.DeepEqual(pos, wantPos) {
		t.Fatalf("pos = %#v, want %#v", pos, wantPos)
	}
	if flags["limit"] != "5" || flags["tag"] != "home" || flags["n"] != "3" {
		t.Fatalf("flags = %#v", flags)
	}
	if !bools["all"] || !bools["a"] || !bools["b"] {
		t.Fatalf("bools = %#v", bools)
	}
}

func TestParseFlagsValueFlagAtEnd(t *testing.T) {
	t.Parallel()

	// A trailing --key with no value degrades to a bool flag.
	_, flags, bools := parseFlags([]string{"--tag"})
	if _, ok := flags["tag"]; ok {
		t.Fatalf("flags = %#v, want no tag value", flags)
	}
	if !bools["tag"] {
		t.Fatalf("bools = %#v, want tag=true", bools)
	}
}

func TestNewReqIDUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool, 2048)
	for i := 0; i < 2048; i++ {
		id := newReqID()
		if id == "" {
			t.Fatal("newReqID returned empty string")
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestTreeAddFind(t *testing.T) {
	t.Parallel()

	root := newRoot()
	list := Command{Route: "task"}
	add := Command{Route: "task add"}
	tz := Command{Route: "tz"}
	root.add(splitRoute(list.Route), list)
	root.add(splitRoute(add.Route), add)
	root.add(splitRoute(tz.Route), tz)

	n := root.find([]string{"task", "add"})
	if n == nil || n.cmd == nil || n.cmd.Route != "task add" {
		t.Fatalf("find(task add) = %+v", n)
	}

	n = root.find([]string{"task"})
	if n == nil || n.cmd == nil || n.cmd.Route != "task" {
		t.Fatalf("find(task) = %+v", n)
	}
	if _, ok := n.child("add"); !ok {
		t.Fatal("task node lost its subcommand")
	}

	if got := root.find([]string{"nope"}); got != nil {
		t.Fatalf("find(nope) = %+v, want nil", got)
	}

	names := root.childNames()
	want := []string{"task", "tz"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("childNames = %#v, want %#v", names, want)
	}
}

func TestTreeContainerNode(t *testing.T) {
	t.Parallel()

	root := newRoot()
	root.add(splitRoute("habit log"), Command{Route: "habit log"})

	// "habit" exists only as a container.
	n := root.find([]string{"habit"})
	if n == nil {
		t.Fatal("container node missing")
	}
	if n.cmd != nil {
		t.Fatalf("container node has cmd %+v", n.cmd)
	}
}
