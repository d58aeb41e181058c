package commands

import (
	"sort"
	"strings"
)

// node is one level of the route tree. A node may hold a command, have
// children, or both ("/task" lists, "/task add" adds).
type node struct {
	name string
	cmd  *Command
	sub  map[string]*node
}

func newRoot() *node {
	return &node{sub: map[string]*node{}}
}

func splitRoute(route string) []string {
	route = strings.TrimSpace(route)
	if route == "" {
		return nil
	}
	return strings.Fields(route)
}

func (n *node) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		if cur.sub == nil {
			cur.sub = map[string]*node{}
		}
		next, ok := cur.sub[tok]
		if !ok {
			next = &node{name: tok, sub: map[string]*node{}}
			cur.sub[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *node) find(path []string) *node {
	cur := n
	for _, tok := range path {
		next, ok := cur.sub[tok]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (n *node) child(name string) (*node, bool) {
	c, ok := n.sub[name]
	return c, ok
}

func (n *node) childNames() []string {
	out := make([]string, 0, len(n.sub))
	for k := range n.sub {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
