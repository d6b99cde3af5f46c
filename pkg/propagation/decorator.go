package propagation

import (
	"context"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/rs/zerolog/log"
)

// Task is a unit of work handed to another goroutine. The context it
// receives carries the local.Storage of the goroutine that runs it.
type Task func(ctx context.Context) error

// TaskDecorator wraps tasks at submission time so they run with the context
// of the goroutine that submitted them.
type TaskDecorator struct {
	manager *Manager
}

func NewTaskDecorator(manager *Manager) *TaskDecorator {
	return &TaskDecorator{manager: manager}
}

// Manager returns the manager used for capture, restore and clear.
func (d *TaskDecorator) Manager() *Manager {
	return d.manager
}

// Decorate captures the context of the submitting goroutine right away, on
// the caller's goroutine, and returns a task that restores it, runs task, and
// clears the running goroutine's storage even if task panics.
//
// If the decorated task is run with a context that has no storage, a
// transient one is created for that run.
func (d *TaskDecorator) Decorate(ctx context.Context, task Task) Task {
	snapshot := d.manager.CaptureContext(ctx)

	return func(runCtx context.Context) error {
		s, ok := local.FromContext(runCtx)
		if !ok {
			s = local.New("transient")
			runCtx = local.WithStorage(runCtx, s)
		}

		defer func() {
			d.manager.Clear(s)
			log.Trace().
				Str("component", "propagation").
				Str("storage", s.Name()).
				Msg("cleared context after task")
		}()

		d.manager.Restore(s, snapshot)
		return task(runCtx)
	}
}
