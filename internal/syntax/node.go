// Package syntax turns source text into the generic syntax trees that
// analysis strategies consume and produce.
package syntax

import (
	"errors"
	"fmt"

	"github.com/jward/workbench/internal/message"
)

// AmbiguityKind is the node kind strategies use to mark alternative parses
// of the same fragment. Each alternative is a child of the node.
const AmbiguityKind = "amb"

// Node is a named syntax tree node. Anonymous tokens are dropped; leaves keep
// their source text.
type Node struct {
	Kind     string
	Field    string
	Text     string
	Region   message.Region
	Children []*Node
}

// Walk visits n and its descendants depth-first in source order. Returning
// false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the tree rooted at n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}

// Term converts n into the map form handed to strategy scripts:
//
//	{"kind": ..., "field": ..., "text": ..., "start": [line, col],
//	 "end": [line, col], "children": [...]}
//
// Every key is always present; field and text may be empty. Integers are
// int64 so the term round-trips through the script runtime.
func (n *Node) Term() map[string]any {
	if n == nil {
		return nil
	}
	children := make([]any, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c.Term())
	}
	t := map[string]any{
		"kind":     n.Kind,
		"field":    n.Field,
		"text":     n.Text,
		"start":    []any{int64(n.Region.StartLine), int64(n.Region.StartCol)},
		"end":      []any{int64(n.Region.EndLine), int64(n.Region.EndCol)},
		"children": children,
	}
	return t
}

// ErrBadTerm is wrapped by FromTerm when a term does not have node shape.
var ErrBadTerm = errors.New("syntax: term is not a node")

// FromTerm decodes a node term produced by Term, possibly rewritten by a
// strategy. Missing positions default to zero; "kind" is required.
func FromTerm(v any) (*Node, error) {
	if n, ok := v.(*Node); ok {
		return n, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrBadTerm, v)
	}
	kind, ok := m["kind"].(string)
	if !ok || kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrBadTerm)
	}
	n := &Node{Kind: kind}
	if f, ok := m["field"].(string); ok {
		n.Field = f
	}
	if s, ok := m["text"].(string); ok {
		n.Text = s
	}
	var err error
	if n.Region.StartLine, n.Region.StartCol, err = pointOf(m["start"]); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrBadTerm, err)
	}
	if n.Region.EndLine, n.Region.EndCol, err = pointOf(m["end"]); err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrBadTerm, err)
	}
	switch cs := m["children"].(type) {
	case nil:
	case []any:
		for i, c := range cs {
			child, err := FromTerm(c)
			if err != nil {
				return nil, fmt.Errorf("child %d of %s: %w", i, kind, err)
			}
			n.Children = append(n.Children, child)
		}
	default:
		return nil, fmt.Errorf("%w: children of %s is %T", ErrBadTerm, kind, cs)
	}
	return n, nil
}

func pointOf(v any) (int, int, error) {
	if v == nil {
		return 0, 0, nil
	}
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, fmt.Errorf("expected [line, col], got %v", v)
	}
	line, ok := IntOf(pair[0])
	if !ok {
		return 0, 0, fmt.Errorf("line %v is not an integer", pair[0])
	}
	col, ok := IntOf(pair[1])
	if !ok {
		return 0, 0, fmt.Errorf("column %v is not an integer", pair[1])
	}
	return line, col, nil
}

// IntOf accepts the integer representations a script runtime may produce.
func IntOf(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	}
	return 0, false
}
