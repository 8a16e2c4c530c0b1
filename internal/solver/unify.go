package solver

import (
	"fmt"
	"strings"
)

// typeTerm is a type name as written by a source. Names starting with '?'
// are variables scoped to that source.
type typeTerm struct {
	source string
	name   string
}

func (t typeTerm) isVar() bool {
	return strings.HasPrefix(t.name, "?")
}

// key identifies a variable across sources; ground types are global.
func (t typeTerm) key() string {
	if t.isVar() {
		return t.source + "\x00" + t.name
	}
	return t.name
}

// unifier is a union-find over type terms. Each class has at most one
// ground type.
type unifier struct {
	parent map[string]string
	ground map[string]string
}

func newUnifier() *unifier {
	return &unifier{parent: make(map[string]string), ground: make(map[string]string)}
}

func (u *unifier) find(k string) string {
	p, ok := u.parent[k]
	if !ok {
		u.parent[k] = k
		return k
	}
	if p == k {
		return k
	}
	root := u.find(p)
	u.parent[k] = root
	return root
}

func (u *unifier) class(t typeTerm) string {
	root := u.find(t.key())
	if !t.isVar() {
		if _, ok := u.ground[root]; !ok {
			u.ground[root] = t.name
		}
	}
	return root
}

// unify merges the classes of a and b, failing when both carry different
// ground types.
func (u *unifier) unify(a, b typeTerm) error {
	ra, rb := u.class(a), u.class(b)
	if ra == rb {
		return nil
	}
	ga, okA := u.ground[ra]
	gb, okB := u.ground[rb]
	if okA && okB && ga != gb {
		return fmt.Errorf("type mismatch: expected %s, got %s", gb, ga)
	}
	u.parent[ra] = rb
	if okA && !okB {
		u.ground[rb] = ga
	}
	return nil
}
