package propagation

import (
	"context"
	"sync"
	"testing"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slotAccessor stores a string in its own slot.
func slotAccessor(key string) *FuncAccessor {
	slot := local.NewSlot(key)
	return &FuncAccessor{
		Name: key,
		GetFn: func(s *local.Storage) (any, error) {
			v, _ := s.Load(slot)
			return v, nil
		},
		SetFn: func(s *local.Storage, v any) error {
			str, ok := v.(string)
			if !ok {
				return UnexpectedTypeError(key, "string", v)
			}
			s.Store(slot, str)
			return nil
		},
		ClearFn: func(s *local.Storage) error {
			s.Delete(slot)
			return nil
		},
	}
}

func failing(key string) *FuncAccessor {
	boom := errors.New("boom")
	return &FuncAccessor{
		Name:    key,
		GetFn:   func(*local.Storage) (any, error) { return nil, boom },
		SetFn:   func(*local.Storage, any) error { return boom },
		ClearFn: func(*local.Storage) error { return boom },
	}
}

func panicking(key string) *FuncAccessor {
	return &FuncAccessor{
		Name:    key,
		GetFn:   func(*local.Storage) (any, error) { panic("get") },
		SetFn:   func(*local.Storage, any) error { panic("set") },
		ClearFn: func(*local.Storage) error { panic("clear") },
	}
}

func TestNewManagerValidatesKeys(t *testing.T) {
	_, err := NewManager(slotAccessor("a"), slotAccessor(""))
	assert.True(t, errors.Is(err, ErrInvalidKey))

	_, err = NewManager(slotAccessor("a"), slotAccessor("a"))
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	_, err = NewManager(nil)
	assert.True(t, errors.Is(err, ErrInvalidKey))

	m, err := NewManager(slotAccessor("a"), slotAccessor("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
}

func TestCaptureSkipsEmptyValues(t *testing.T) {
	a, b := slotAccessor("a"), slotAccessor("b")
	m, err := NewManager(a, b)
	require.NoError(t, err)

	s := local.New("req")
	require.NoError(t, a.Set(s, "1"))

	snap := m.Capture(s)
	assert.Equal(t, Snapshot{"a": "1"}, snap)
}

func TestCaptureContinuesPastFailures(t *testing.T) {
	a, c := slotAccessor("a"), slotAccessor("c")
	m, err := NewManager(a, failing("bad"), panicking("worse"), c)
	require.NoError(t, err)

	s := local.New("req")
	require.NoError(t, a.Set(s, "1"))
	require.NoError(t, c.Set(s, "3"))

	snap := m.Capture(s)
	assert.Equal(t, Snapshot{"a": "1", "c": "3"}, snap)
}

func TestRestoreAndClearContinuePastFailures(t *testing.T) {
	a, c := slotAccessor("a"), slotAccessor("c")
	m, err := NewManager(failing("bad"), a, panicking("worse"), c)
	require.NoError(t, err)

	s := local.New("worker")
	m.Restore(s, Snapshot{"bad": "x", "a": "1", "worse": "y", "c": 3})

	v, _ := a.Get(s)
	assert.Equal(t, "1", v)
	v, _ = c.Get(s)
	assert.Nil(t, v, "a wrongly typed value is reported, not stored")

	m.Clear(s)
	v, _ = a.Get(s)
	assert.Nil(t, v)
}

func TestRestoreNilSnapshotIsNoop(t *testing.T) {
	a := slotAccessor("a")
	m, err := NewManager(a)
	require.NoError(t, err)

	s := local.New("worker")
	require.NoError(t, a.Set(s, "keep"))
	m.Restore(s, nil)
	v, _ := a.Get(s)
	assert.Equal(t, "keep", v)
}

func TestRoundTripAcrossGoroutines(t *testing.T) {
	a, b := slotAccessor("a"), slotAccessor("b")
	m, err := NewManager(a, b)
	require.NoError(t, err)

	src := local.New("req")
	require.NoError(t, a.Set(src, "alpha"))
	require.NoError(t, b.Set(src, "beta"))
	snap := m.Capture(src)

	var wg sync.WaitGroup
	got := map[string]any{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dst := local.New("worker")
		m.Restore(dst, snap)
		got["a"], _ = a.Get(dst)
		got["b"], _ = b.Get(dst)
	}()
	wg.Wait()

	assert.Equal(t, map[string]any{"a": "alpha", "b": "beta"}, got)
}

func TestContextVariantsWithoutStorage(t *testing.T) {
	m, err := NewManager(slotAccessor("a"))
	require.NoError(t, err)

	assert.Empty(t, m.CaptureContext(context.Background()))
	m.RestoreContext(context.Background(), Snapshot{"a": "1"})
	m.ClearContext(context.Background())
}

func TestAccessorErrorMatchesFailure(t *testing.T) {
	err := guard(failing("bad"), OpGet, func() error { return errors.New("x") })
	assert.True(t, errors.Is(err, ErrAccessorFailure))

	var ae *AccessorError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "bad", ae.Key)
	assert.Equal(t, OpGet, ae.Op)
}
