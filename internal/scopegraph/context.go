package scopegraph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
)

// ErrContextClosed is returned when a closed temporary context is used.
var ErrContextClosed = errors.New("scopegraph: context is closed")

// ID identifies a context: one per project root and language.
type ID struct {
	Root     string `msgpack:"root"`
	Language string `msgpack:"lang"`
}

func (id ID) String() string {
	return id.Root + "#" + id.Language
}

// Context owns the units of one (root, language) pair. Reads may run
// concurrently; all mutation goes through Update, which holds the write
// lock for the whole session so at most one analysis pass runs at a time.
type Context struct {
	id         ID
	instanceID string
	temporary  bool
	closed     atomic.Bool

	mu    sync.RWMutex
	units map[string]*Unit
}

// New creates an empty persistent context.
func New(id ID) *Context {
	return newContext(id, false)
}

func newContext(id ID, temporary bool) *Context {
	return &Context{
		id:         id,
		instanceID: uuid.NewString(),
		temporary:  temporary,
		units:      make(map[string]*Unit),
	}
}

func (c *Context) ID() ID { return c.id }

// InstanceID distinguishes two contexts created for the same ID.
func (c *Context) InstanceID() string { return c.instanceID }

// Location is the project root the context was resolved to.
func (c *Context) Location() string { return c.id.Root }

func (c *Context) Temporary() bool { return c.temporary }

// Closed reports whether the context was released by its owner.
func (c *Context) Closed() bool { return c.closed.Load() }

// Lookup returns the unit for key without creating it.
func (c *Context) Lookup(key string) (*Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[key]
	return u, ok
}

// Keys returns the sorted unit keys.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.units)
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.units)
}

// Update runs fn with exclusive write access to the context.
func (c *Context) Update(fn func(w *Writer) error) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrContextClosed
	}
	return fn(&Writer{c: c})
}

// Close marks an unloaded context released. It waits for a running write
// session; later sessions fail with ErrContextClosed. Units stay readable.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed.Store(true)
	c.mu.Unlock()
}

// Writer mutates a context. It is only valid inside Update.
type Writer struct {
	c *Context
}

// Context returns the context being written.
func (w *Writer) Context() *Context { return w.c }

// Unit returns the unit for key, creating an empty one on first use.
func (w *Writer) Unit(key string) *Unit {
	u, ok := w.c.units[key]
	if !ok {
		u = newUnit(key)
		w.c.units[key] = u
	}
	return u
}

func (w *Writer) Lookup(key string) (*Unit, bool) {
	u, ok := w.c.units[key]
	return u, ok
}

// Remove deletes the unit for key. It reports whether a unit existed.
func (w *Writer) Remove(key string) bool {
	_, ok := w.c.units[key]
	delete(w.c.units, key)
	return ok
}

func (w *Writer) Keys() []string {
	return sortedKeys(w.c.units)
}

func sortedKeys(m map[string]*Unit) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TemporaryContext is an unregistered context with a single owner, which
// must Close it on every exit path.
type TemporaryContext struct {
	ctx *Context
}

// NewTemporary creates a temporary context for id.
func NewTemporary(id ID) *TemporaryContext {
	return &TemporaryContext{ctx: newContext(id, true)}
}

// Context returns the wrapped context, or ErrContextClosed after Close.
func (t *TemporaryContext) Context() (*Context, error) {
	if t.ctx.closed.Load() {
		return nil, ErrContextClosed
	}
	return t.ctx, nil
}

// Close releases the context. Closing twice is a no-op.
func (t *TemporaryContext) Close() error {
	if !t.ctx.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.ctx.mu.Lock()
	t.ctx.units = make(map[string]*Unit)
	t.ctx.mu.Unlock()
	return nil
}

// Snapshot is the persisted form of a context.
type Snapshot struct {
	ID         ID             `msgpack:"id"`
	InstanceID string         `msgpack:"instance"`
	SavedAt    time.Time      `msgpack:"saved_at"`
	Units      []UnitSnapshot `msgpack:"units"`
}

// UnitSnapshot is the persisted form of a unit. Parse units are not kept;
// the hash lets callers skip re-parsing unchanged text.
type UnitSnapshot struct {
	Source   string                  `msgpack:"source"`
	Hash     string                  `msgpack:"hash"`
	Analyzed bool                    `msgpack:"analyzed"`
	Success  bool                    `msgpack:"success"`
	Result   *constraint.UnitResult  `msgpack:"result,omitempty"`
	Solution *constraint.Solution    `msgpack:"solution,omitempty"`
	Final    *constraint.FinalResult `msgpack:"final,omitempty"`
	Messages []message.Message       `msgpack:"messages,omitempty"`
}

// Snapshot captures the current units in key order.
func (c *Context) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &Snapshot{ID: c.id, InstanceID: c.instanceID, SavedAt: time.Now()}
	for _, key := range sortedKeys(c.units) {
		u := c.units[key]
		u.mu.RLock()
		snap.Units = append(snap.Units, UnitSnapshot{
			Source:   u.source,
			Hash:     u.hash,
			Analyzed: u.analyzed,
			Success:  u.success,
			Result:   u.result,
			Solution: u.solution,
			Final:    u.final,
			Messages: append([]message.Message(nil), u.messages...),
		})
		u.mu.RUnlock()
	}
	return snap
}

// Restore replaces the context's units with those of snap.
func (c *Context) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if snap.ID != c.id {
		return fmt.Errorf("scopegraph: restore %s into %s", snap.ID, c.id)
	}
	return c.Update(func(w *Writer) error {
		w.c.units = make(map[string]*Unit, len(snap.Units))
		for _, us := range snap.Units {
			u := w.Unit(us.Source)
			u.hash = us.Hash
			u.analyzed = us.Analyzed
			u.success = us.Success
			u.result = us.Result
			u.solution = us.Solution
			u.final = us.Final
			u.messages = us.Messages
		}
		return nil
	})
}
