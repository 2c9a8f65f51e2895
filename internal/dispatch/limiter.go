// Package dispatch serializes outbound side effects behind a rate limit.
// Tasks run one at a time, in submission order, paced by a token bucket;
// callers get a Future they can wait on, or ignore for fire-and-forget.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/abelbrown/relay/internal/logging"
)

// ErrClosed is returned by futures for tasks submitted after Close.
var ErrClosed = errors.New("dispatch: limiter closed")

// Task is one unit of deferred work.
type Task func(ctx context.Context) error

// Future resolves when its task has run.
type Future struct {
	done chan struct{}
	err  error
}

// Wait blocks until the task has run and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done exposes the completion channel for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

// Limiter is a FIFO task queue drained by one worker at a bounded rate.
type Limiter struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	cond     *sync.Cond // wakes the worker when work arrives
	idle     *sync.Cond // broadcast when the queue empties and nothing runs
	queue    []*pending
	inFlight bool
	closed   bool

	wg sync.WaitGroup
}

type pending struct {
	task Task
	fut  *Future
}

// NewLimiter starts a limiter allowing callsPerSec task executions per
// second (values <= 0 mean unlimited). Close it when done.
func NewLimiter(callsPerSec float64) *Limiter {
	lim := rate.Inf
	if callsPerSec > 0 {
		lim = rate.Limit(callsPerSec)
	}
	l := &Limiter{
		limiter: rate.NewLimiter(lim, 1),
	}
	l.cond = sync.NewCond(&l.mu)
	l.idle = sync.NewCond(&l.mu)
	l.wg.Add(1)
	go l.worker()
	return l
}

// Execute enqueues task and returns immediately. The returned Future
// resolves once the task has run; tasks submitted after Close resolve
// with ErrClosed without running.
func (l *Limiter) Execute(task Task) *Future {
	fut := &Future{done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fut.err = ErrClosed
		close(fut.done)
		return fut
	}
	l.queue = append(l.queue, &pending{task: task, fut: fut})
	l.cond.Signal()
	l.mu.Unlock()
	return fut
}

// WaitForCompletion blocks until every task submitted so far has run and
// the queue is empty. Safe for any number of concurrent waiters.
func (l *Limiter) WaitForCompletion() {
	l.mu.Lock()
	for len(l.queue) > 0 || l.inFlight {
		l.idle.Wait()
	}
	l.mu.Unlock()
}

// Close drains the queue, runs everything already submitted, and stops
// the worker. Blocks until the worker exits.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.wg.Wait()
		return
	}
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Limiter) worker() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 && l.closed {
			l.idle.Broadcast()
			l.mu.Unlock()
			return
		}
		p := l.queue[0]
		l.queue = l.queue[1:]
		l.inFlight = true
		l.mu.Unlock()

		if err := l.limiter.Wait(context.Background()); err != nil {
			p.fut.err = err
		} else {
			p.fut.err = p.task(context.Background())
		}
		if p.fut.err != nil {
			logging.Warn("dispatch task failed", "error", p.fut.err)
		}
		close(p.fut.done)

		l.mu.Lock()
		l.inFlight = false
		if len(l.queue) == 0 {
			l.idle.Broadcast()
		}
		l.mu.Unlock()
	}
}
