// Package local provides goroutine-owned slot storage.
//
// A Storage plays the role that thread-local storage plays in thread-based
// runtimes: it holds request-scoped state for whichever goroutine currently
// owns it. A Storage is owned by exactly one goroutine at a time and is not
// safe for concurrent use. It is passed along explicitly inside a
// context.Context rather than looked up from hidden global state.
package local

import (
	"context"
	"sort"
	"sync/atomic"
)

var storageSeq atomic.Uint64

// Slot identifies one entry in a Storage. Slots compare by identity, so two
// packages declaring a slot with the same name never collide.
type Slot struct {
	name string
}

// NewSlot declares a new slot. It is meant to be called once per package,
// typically in a package-level var.
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

func (s *Slot) String() string {
	return s.name
}

// Storage is a goroutine-owned table of slots.
type Storage struct {
	name  string
	id    uint64
	slots map[*Slot]any
}

// New creates an empty Storage. The name only shows up in logs.
func New(name string) *Storage {
	return &Storage{
		name:  name,
		id:    storageSeq.Add(1),
		slots: make(map[*Slot]any),
	}
}

// Name returns the name the storage was created with.
func (s *Storage) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// ID returns a process-unique identifier for the storage.
func (s *Storage) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Load returns the value held in slot key.
func (s *Storage) Load(key *Slot) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.slots[key]
	return v, ok
}

// Store puts v into slot key. Storing nil deletes the slot.
func (s *Storage) Store(key *Slot, v any) {
	if s == nil {
		return
	}
	if v == nil {
		delete(s.slots, key)
		return
	}
	s.slots[key] = v
}

// Delete removes slot key. Deleting a missing slot is a no-op.
func (s *Storage) Delete(key *Slot) {
	if s == nil {
		return
	}
	delete(s.slots, key)
}

// Reset removes every slot.
func (s *Storage) Reset() {
	if s == nil {
		return
	}
	clear(s.slots)
}

// Len returns the number of occupied slots.
func (s *Storage) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Empty reports whether no slot is occupied.
func (s *Storage) Empty() bool {
	return s.Len() == 0
}

// SlotNames returns a sorted description of the occupied slot keys, for
// debugging leaks between tasks.
func (s *Storage) SlotNames() []string {
	if s == nil {
		return nil
	}
	ret := make([]string, 0, len(s.slots))
	for k := range s.slots {
		ret = append(ret, k.String())
	}
	sort.Strings(ret)
	return ret
}

// ctxKey is an unexported key type to avoid collisions in context values.
type ctxKey struct{}

// WithStorage attaches s to the context. Downstream code reaches the storage
// of the goroutine it runs on through FromContext.
func WithStorage(ctx context.Context, s *Storage) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the Storage from the context.
func FromContext(ctx context.Context) (*Storage, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(ctxKey{}).(*Storage)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}
