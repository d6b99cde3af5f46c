// Package propagation carries goroutine-scoped state across goroutine
// boundaries.
//
// Each category of state is exposed through an Accessor. A Manager holds an
// ordered list of accessors and captures all of them into a Snapshot on the
// submitting goroutine, restores the snapshot on the goroutine that runs the
// work, and clears everything once the work is done. Capture, restore and
// clear run explicitly at every hand-off; nothing is inherited implicitly,
// because pooled goroutines live much longer than the request that handed
// them work.
package propagation

import (
	"github.com/go-go-golems/ctxrelay/pkg/local"
)

// Accessor reads, writes and clears one category of goroutine-scoped state.
//
// Get returns a nil value, not an error, when nothing is present. Set with a
// nil value is a no-op; only Clear removes a value. Clear is idempotent.
type Accessor interface {
	Key() string
	Get(s *local.Storage) (any, error)
	Set(s *local.Storage, v any) error
	Clear(s *local.Storage) error
}

// Snapshot maps accessor keys to captured values. A snapshot belongs to a
// single hand-off and is treated as read-only once captured.
type Snapshot map[string]any

// Keys returns the keys present in the snapshot.
func (s Snapshot) Keys() []string {
	ret := make([]string, 0, len(s))
	for k := range s {
		ret = append(ret, k)
	}
	return ret
}

// FuncAccessor adapts plain functions to the Accessor interface. Nil
// functions behave as "nothing stored".
type FuncAccessor struct {
	Name    string
	GetFn   func(s *local.Storage) (any, error)
	SetFn   func(s *local.Storage, v any) error
	ClearFn func(s *local.Storage) error
}

var _ Accessor = (*FuncAccessor)(nil)

func (f *FuncAccessor) Key() string {
	return f.Name
}

func (f *FuncAccessor) Get(s *local.Storage) (any, error) {
	if f.GetFn == nil {
		return nil, nil
	}
	return f.GetFn(s)
}

func (f *FuncAccessor) Set(s *local.Storage, v any) error {
	if f.SetFn == nil || v == nil {
		return nil
	}
	return f.SetFn(s, v)
}

func (f *FuncAccessor) Clear(s *local.Storage) error {
	if f.ClearFn == nil {
		return nil
	}
	return f.ClearFn(s)
}
