package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

const (
	TotalMaxWorkers = 10
	DefaultQueue    = 10
)

var (
	ErrSaturated = errors.New("worker pool is saturated")
	ErrStopped   = errors.New("worker pool is stopped")
)

type JobFunc[T any] func(ctx context.Context, payload T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue. Jobs are
// never retried; Fn owns its error reporting.
type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers int32
	wg            sync.WaitGroup
	mu            sync.RWMutex
	stopped       bool
	maxWorkers    int
	log           lg.Logger
}

func NewPool[T any](maxWorkers, queueSize int, log lg.Logger) *Pool[T] {
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	if queueSize < 0 {
		queueSize = DefaultQueue
	}
	if log == nil {
		log = lg.Discard
	}
	p := &Pool[T]{
		jobs:       make(chan Job[T], queueSize),
		maxWorkers: maxWorkers,
		log:        log,
	}
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker(i)
	}
	return p
}

// TrySubmit enqueues job without blocking. It returns ErrSaturated when all
// workers are busy and the queue is full, and ErrStopped after Stop.
func (p *Pool[T]) TrySubmit(job Job[T]) error {
	if job.Fn == nil {
		return fmt.Errorf("workerpool: job has no function")
	}
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		lg.FromContext(job.Ctx).Debug("Job submitted", lg.Int("queued", len(p.jobs)))
		return nil
	default:
		return ErrSaturated
	}
}

// Stop rejects new jobs and waits until queued and running jobs finish or
// ctx expires.
func (p *Pool[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool[T]) run(id int, job Job[T]) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)
	logger := lg.FromContext(job.Ctx).With(lg.Int("worker", id))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker recovered from panic", lg.Any("panic", r))
		}
		if job.CleanupFunc != nil {
			job.CleanupFunc()
		}
	}()
	logger.Debug("Worker started", lg.Int32("active", atomic.LoadInt32(&p.activeWorkers)))

	if err := job.Ctx.Err(); err != nil {
		logger.Info("Job canceled before start", lg.Err(err))
		return
	}
	if err := job.Fn(job.Ctx, job.Payload); err != nil {
		logger.Info("Worker finished with error", lg.Err(err))
		return
	}
	logger.Debug("Worker finished", lg.Int32("active", atomic.LoadInt32(&p.activeWorkers)))
}

func (p *Pool[T]) ActiveWorkers() int32 {
	return atomic.LoadInt32(&p.activeWorkers)
}

func (p *Pool[T]) MaxWorkers() int { return p.maxWorkers }
