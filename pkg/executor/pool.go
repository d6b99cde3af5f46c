// Package executor is a bounded worker pool whose workers run every task with
// the context of the goroutine that submitted it.
//
// Each worker owns a local.Storage for its whole life. Submit captures the
// submitter's context through a propagation.TaskDecorator; the worker
// restores it into its own storage before running the task and clears it
// afterwards, so nothing leaks from one task to the next.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/go-go-golems/ctxrelay/pkg/propagation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull  = errors.New("executor queue is full")
	ErrPoolClosed = errors.New("executor is shut down")
)

type job struct {
	ctx    context.Context
	task   propagation.Task
	future *Future
}

// Pool runs decorated tasks on a bounded set of workers.
type Pool struct {
	cfg       Config
	decorator *propagation.TaskDecorator
	queue     chan *job

	mu      sync.Mutex
	closed  bool
	workers int
	seq     int

	group *errgroup.Group

	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	dropped   atomic.Int64
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int
	Queued    int
	Completed int64
	Failed    int64
	Rejected  int64
	Dropped   int64
}

// New starts a pool with cfg.CoreSize workers.
func New(cfg Config, decorator *propagation.TaskDecorator) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if decorator == nil {
		return nil, errors.New("executor needs a task decorator")
	}
	p := &Pool{
		cfg:       cfg,
		decorator: decorator,
		queue:     make(chan *job, cfg.QueueCapacity),
		group:     &errgroup.Group{},
	}

	p.mu.Lock()
	for i := 0; i < cfg.CoreSize; i++ {
		p.startWorkerLocked(nil, false)
	}
	p.mu.Unlock()

	log.Debug().
		Str("component", "executor").
		Str("pool", cfg.NamePrefix).
		Int("core", cfg.CoreSize).
		Int("max", cfg.MaxSize).
		Int("queue", cfg.QueueCapacity).
		Msg("worker pool started")
	return p, nil
}

// Submit decorates task with the context attached to ctx and queues it. When
// the queue is full a burst worker is started if MaxSize allows it, otherwise
// ErrQueueFull is returned.
//
// ctx is also the parent of the context the task runs with. A task whose ctx
// is already done when a worker picks it up is dropped and its future
// completes with the context error. Use context.WithoutCancel for work that
// must outlive the submitting request.
func (p *Pool) Submit(ctx context.Context, task propagation.Task) (*Future, error) {
	if task == nil {
		return nil, errors.New("nil task")
	}
	j := &job{
		ctx:    ctx,
		task:   p.decorator.Decorate(ctx, task),
		future: newFuture(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.reject()
		return nil, ErrPoolClosed
	}

	select {
	case p.queue <- j:
		queueDepth.WithLabelValues(p.cfg.NamePrefix).Set(float64(len(p.queue)))
		return j.future, nil
	default:
	}

	if p.workers < p.cfg.MaxSize {
		p.startWorkerLocked(j, true)
		return j.future, nil
	}

	p.reject()
	return nil, errors.Wrapf(ErrQueueFull, "%d workers busy, %d tasks queued", p.workers, len(p.queue))
}

// Execute submits task and waits for it.
func (p *Pool) Execute(ctx context.Context, task propagation.Task) error {
	f, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	return f.Wait(ctx)
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for them until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		log.Debug().Str("component", "executor").Str("pool", p.cfg.NamePrefix).Msg("worker pool stopped")
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for workers")
	}
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()
	return Stats{
		Workers:   workers,
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) Config() Config {
	return p.cfg
}

func (p *Pool) reject() {
	p.rejected.Add(1)
	tasks.WithLabelValues(p.cfg.NamePrefix, outcomeRejected).Inc()
}

func (p *Pool) startWorkerLocked(first *job, burst bool) {
	p.seq++
	p.workers++
	activeWorkers.WithLabelValues(p.cfg.NamePrefix).Set(float64(p.workers))
	name := p.cfg.NamePrefix + strconv.Itoa(p.seq)
	p.group.Go(func() error {
		defer func() {
			p.mu.Lock()
			p.workers--
			activeWorkers.WithLabelValues(p.cfg.NamePrefix).Set(float64(p.workers))
			p.mu.Unlock()
		}()
		p.work(name, first, burst)
		return nil
	})
}

func (p *Pool) work(name string, first *job, burst bool) {
	s := local.New(name)
	logger := log.With().Str("component", "executor").Str("worker", name).Logger()
	logger.Trace().Bool("burst", burst).Msg("worker started")

	if first != nil {
		p.run(s, first)
	}

	for {
		var idle <-chan time.Time
		var timer *time.Timer
		if burst {
			timer = time.NewTimer(p.cfg.KeepAlive)
			idle = timer.C
		}

		select {
		case j, ok := <-p.queue:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				logger.Trace().Msg("queue closed, worker exiting")
				return
			}
			queueDepth.WithLabelValues(p.cfg.NamePrefix).Set(float64(len(p.queue)))
			p.run(s, j)
		case <-idle:
			logger.Trace().Msg("burst worker idle, exiting")
			return
		}
	}
}

func (p *Pool) run(s *local.Storage, j *job) {
	if err := j.ctx.Err(); err != nil {
		p.dropped.Add(1)
		tasks.WithLabelValues(p.cfg.NamePrefix, outcomeDropped).Inc()
		log.Debug().
			Str("component", "executor").
			Str("worker", s.Name()).
			Err(err).
			Msg("dropping task whose context is done")
		j.future.complete(err)
		return
	}

	err := p.invoke(s, j)
	switch {
	case err == nil:
		p.completed.Add(1)
		tasks.WithLabelValues(p.cfg.NamePrefix, outcomeCompleted).Inc()
	case errors.Is(err, errTaskPanicked):
		p.failed.Add(1)
		tasks.WithLabelValues(p.cfg.NamePrefix, outcomePanicked).Inc()
	default:
		p.failed.Add(1)
		tasks.WithLabelValues(p.cfg.NamePrefix, outcomeFailed).Inc()
	}
	j.future.complete(err)

	if !s.Empty() {
		log.Warn().
			Str("component", "executor").
			Str("worker", s.Name()).
			Strs("slots", s.SlotNames()).
			Msg("state left behind by task outside of registered accessors, wiping")
		s.Reset()
	}
}

var errTaskPanicked = errors.New("task panicked")

func (p *Pool) invoke(s *local.Storage, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrap(errTaskPanicked, fmt.Sprintf("%v", r))
			log.Error().
				Str("component", "executor").
				Str("worker", s.Name()).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()
	return j.task(local.WithStorage(j.ctx, s))
}
