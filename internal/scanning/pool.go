package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// ErrPoolClosed is returned by Do after Close.
var ErrPoolClosed = errors.New("ocr pool closed")

// DefaultWorkers is half the available CPUs, at least one. Recognition is
// CPU-bound and each engine holds its own model in memory.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

type task struct {
	ctx  context.Context
	fn   func(Engine) error
	done chan error
}

// Pool runs OCR work on a fixed set of workers. Each worker creates its own
// Engine on its first task and keeps it until Close, so engines are never
// shared between goroutines.
type Pool struct {
	factory EngineFactory
	tasks   chan task
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts size workers (DefaultWorkers when size < 1).
func NewPool(size int, factory EngineFactory) *Pool {
	if size < 1 {
		size = DefaultWorkers()
	}
	p := &Pool{
		factory: factory,
		tasks:   make(chan task),
	}
	p.wg.Add(size)
	for i := range size {
		go p.worker(i)
	}
	return p
}

// Do runs fn on the next free worker with that worker's engine and returns
// fn's error. A panic inside fn is returned as an error. Once a worker has
// taken the task Do waits for fn to return, so fn may safely write to
// variables the caller reads afterwards; fn should honor ctx.
func (p *Pool) Do(ctx context.Context, fn func(Engine) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	return <-t.done
}

// Close stops accepting work, waits for running tasks and closes every engine.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	var eng Engine
	defer func() {
		if eng == nil {
			return
		}
		if err := eng.Close(); err != nil {
			slog.Warn("closing ocr engine", "worker", id, "error", err)
		}
	}()

	for t := range p.tasks {
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			continue
		}
		if eng == nil {
			e, err := p.factory()
			if err != nil {
				t.done <- fmt.Errorf("%w: creating engine: %w", ErrOCR, err)
				continue
			}
			slog.Debug("ocr engine ready", "worker", id)
			eng = e
		}
		t.done <- run(eng, t.fn)
	}
}

func run(eng Engine, fn func(Engine) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ocr worker panic: %v", r)
		}
	}()
	return fn(eng)
}
