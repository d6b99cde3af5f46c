package propagation

import (
	"context"
	"fmt"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var accessorFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ctxrelay",
		Subsystem: "propagation",
		Name:      "accessor_failures_total",
		Help:      "Accessor operations that failed during capture, restore or clear",
	},
	[]string{"key", "op"},
)

// Manager captures, restores and clears every registered accessor.
//
// Each accessor is handled independently: an error or panic in one accessor
// is logged and skipped, and never prevents the others from being processed.
type Manager struct {
	accessors []Accessor
}

// NewManager registers accessors in the given order. Keys must be non-empty
// and unique.
func NewManager(accessors ...Accessor) (*Manager, error) {
	seen := make(map[string]struct{}, len(accessors))
	list := make([]Accessor, 0, len(accessors))
	for i, a := range accessors {
		if a == nil {
			return nil, errors.Wrapf(ErrInvalidKey, "accessor #%d is nil", i)
		}
		key := a.Key()
		if key == "" {
			return nil, errors.Wrapf(ErrInvalidKey, "accessor #%d (%T) has an empty key", i, a)
		}
		if _, ok := seen[key]; ok {
			return nil, errors.Wrapf(ErrDuplicateKey, "%q", key)
		}
		seen[key] = struct{}{}
		list = append(list, a)
	}
	return &Manager{accessors: list}, nil
}

// Keys returns the registered keys in registration order.
func (m *Manager) Keys() []string {
	ret := make([]string, 0, len(m.accessors))
	for _, a := range m.accessors {
		ret = append(ret, a.Key())
	}
	return ret
}

// Capture reads every accessor on s and records the non-nil values.
func (m *Manager) Capture(s *local.Storage) Snapshot {
	snapshot := make(Snapshot, len(m.accessors))
	for _, a := range m.accessors {
		var v any
		err := guard(a, OpGet, func() error {
			var err error
			v, err = a.Get(s)
			return err
		})
		if err != nil {
			m.report(s, err)
			continue
		}
		if v == nil {
			continue
		}
		snapshot[a.Key()] = v
	}

	log.Trace().
		Str("component", "propagation").
		Str("storage", s.Name()).
		Strs("keys", snapshot.Keys()).
		Msg("captured context")
	return snapshot
}

// Restore sets every accessor that has an entry in snapshot. A nil snapshot
// is a no-op.
func (m *Manager) Restore(s *local.Storage, snapshot Snapshot) {
	if snapshot == nil {
		return
	}
	for _, a := range m.accessors {
		v, ok := snapshot[a.Key()]
		if !ok || v == nil {
			continue
		}
		if err := guard(a, OpSet, func() error { return a.Set(s, v) }); err != nil {
			m.report(s, err)
		}
	}

	log.Trace().
		Str("component", "propagation").
		Str("storage", s.Name()).
		Strs("keys", snapshot.Keys()).
		Msg("restored context")
}

// Clear clears every accessor on s.
func (m *Manager) Clear(s *local.Storage) {
	for _, a := range m.accessors {
		if err := guard(a, OpClear, func() error { return a.Clear(s) }); err != nil {
			m.report(s, err)
		}
	}
}

// CaptureContext captures from the storage attached to ctx. Without a
// storage the snapshot is empty.
func (m *Manager) CaptureContext(ctx context.Context) Snapshot {
	s, ok := local.FromContext(ctx)
	if !ok {
		log.Debug().Str("component", "propagation").Msg("no goroutine storage in context, nothing to capture")
		return Snapshot{}
	}
	return m.Capture(s)
}

// RestoreContext restores into the storage attached to ctx.
func (m *Manager) RestoreContext(ctx context.Context, snapshot Snapshot) {
	s, ok := local.FromContext(ctx)
	if !ok {
		log.Debug().Str("component", "propagation").Msg("no goroutine storage in context, nothing to restore into")
		return
	}
	m.Restore(s, snapshot)
}

// ClearContext clears the storage attached to ctx.
func (m *Manager) ClearContext(ctx context.Context) {
	s, ok := local.FromContext(ctx)
	if !ok {
		return
	}
	m.Clear(s)
}

func (m *Manager) report(s *local.Storage, err error) {
	var ae *AccessorError
	if errors.As(err, &ae) {
		accessorFailures.WithLabelValues(ae.Key, string(ae.Op)).Inc()
	}
	log.Warn().
		Err(err).
		Str("component", "propagation").
		Str("storage", s.Name()).
		Msg("accessor failed, continuing with the remaining accessors")
}

// guard runs fn and turns a returned error or a panic into an AccessorError.
func guard(a Accessor, op Op, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AccessorError{Key: a.Key(), Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &AccessorError{Key: a.Key(), Op: op, Err: err}
	}
	return nil
}
