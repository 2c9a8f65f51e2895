package correlate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abelbrown/relay/internal/event"
	"github.com/abelbrown/relay/internal/logging"
)

const (
	// DefaultInterval is the sampling tick: how long an event waits in the
	// buffer for a chance to correlate before it is processed alone.
	DefaultInterval = 500 * time.Millisecond

	// DefaultToolTimeout orphans a tool invocation whose result never came.
	DefaultToolTimeout = 30 * time.Second

	// DefaultCapacity bounds the event buffer; oldest entries are evicted
	// past it.
	DefaultCapacity = 1000
)

// Options tunes an Engine. Zero values fall back to the defaults above.
type Options struct {
	SampleInterval time.Duration
	ToolTimeout    time.Duration
	Capacity       int
}

// Engine is the correlator. Feed it with Enqueue, read batches from
// Groups, shut it down with Stop (or cancel the Start context). One
// goroutine owns all internal state.
type Engine struct {
	interval time.Duration
	timeout  time.Duration
	capacity int

	clock func() time.Time

	nextID  int64
	queue   []*Queued
	pending map[string]*Correlation
	active  *Correlation // newest unresolved correlation, nil when none

	in    chan event.Validated
	out   chan []Group
	stopc chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine builds an idle engine; call Start to run it.
func NewEngine(opts Options) *Engine {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultInterval
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &Engine{
		interval: opts.SampleInterval,
		timeout:  opts.ToolTimeout,
		capacity: opts.Capacity,
		clock:    time.Now,
		pending:  make(map[string]*Correlation),
		in:       make(chan event.Validated, 256),
		out:      make(chan []Group, 16),
		stopc:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Groups returns the delivery channel. It is closed after the final batch
// once the engine stops, so consumers can simply range over it.
func (e *Engine) Groups() <-chan []Group { return e.out }

// Enqueue hands one validated event to the engine. Events arriving after
// shutdown are dropped.
func (e *Engine) Enqueue(ev event.Validated) {
	select {
	case e.in <- ev:
	case <-e.done:
	}
}

// Start launches the engine loop. Cancelling ctx is equivalent to Stop.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.loop(ctx)
	})
}

// Stop shuts the engine down and blocks until the final batch (forced
// processing of everything buffered, plus all still-pending correlations
// flushed as orphans) has been delivered and the output channel closed.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopc) })
	<-e.done
}

func (e *Engine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopc:
			e.shutdown()
			return
		case ev := <-e.in:
			e.enqueue(ev)
		case <-ticker.C:
			e.emit(e.processQueue(false))
		}
	}
}

// shutdown drains the intake channel, forces one final processing pass,
// flushes pending correlations as orphans, and closes the output.
func (e *Engine) shutdown() {
	for {
		select {
		case ev := <-e.in:
			e.enqueue(ev)
			continue
		default:
		}
		break
	}
	groups := e.processQueue(true)
	groups = append(groups, e.flushPending()...)
	e.emit(groups)
	close(e.out)
	close(e.done)
}

func (e *Engine) emit(groups []Group) {
	if len(groups) == 0 {
		return
	}
	e.out <- groups
}

// enqueue appends one event to the buffer, evicting from the front when
// capacity is exceeded.
func (e *Engine) enqueue(ev event.Validated) {
	e.nextID++
	e.queue = append(e.queue, &Queued{
		ID:      e.nextID,
		Event:   ev,
		Arrived: e.clock(),
	})
	if over := len(e.queue) - e.capacity; over > 0 {
		logging.Warn("event buffer full, evicting oldest", "evicted", over, "capacity", e.capacity)
		kept := e.queue[:0]
		kept = append(kept, e.queue[over:]...)
		e.queue = kept
	}
}

// processQueue is one sampling pass. An event is ready when it is
// immediate, older than the sampling interval, or force is set. Ready
// events are handled in arrival order and removed from the buffer whether
// or not they produced a group; the pass ends with a timeout sweep.
func (e *Engine) processQueue(force bool) []Group {
	now := e.clock()
	var groups []Group
	for _, q := range e.queue {
		if q.consumed {
			continue
		}
		if !force && !immediate(q.Event) && now.Sub(q.Arrived) < e.interval {
			continue
		}
		groups = append(groups, e.processEvent(q)...)
		q.consumed = true
	}

	kept := e.queue[:0]
	for _, q := range e.queue {
		if !q.consumed {
			kept = append(kept, q)
		}
	}
	e.queue = kept

	return append(groups, e.sweepTimeouts(now)...)
}

// immediate marks events that bypass the sampling delay: session
// boundaries and error results should surface without latency.
func immediate(ev event.Validated) bool {
	if ev.Type == event.TypeSystem {
		return true
	}
	return ev.Type == event.TypeResult && ev.IsError
}

func (e *Engine) processEvent(q *Queued) []Group {
	if tu := q.Event.FirstToolUse(); tu != nil && q.Event.Type == event.TypeAssistant {
		return e.processInvocation(q, tu)
	}
	if tr := q.Event.FirstToolResult(); tr != nil && q.Event.Type == event.TypeUser {
		return e.processOutcome(q, tr)
	}
	return []Group{{Kind: GroupSingle, Events: []*Queued{q}}}
}

// processInvocation opens a correlation for a tool call. The producer runs
// one tool at a time, so a fresh invocation while another is still
// unresolved means that one was interrupted; its group goes out in the
// same batch, ahead of anything about the new tool.
func (e *Engine) processInvocation(q *Queued, tu *event.Content) []Group {
	if tu.ID == "" {
		// Nothing to correlate against without an id.
		return []Group{{Kind: GroupSingle, Events: []*Queued{q}}}
	}

	var groups []Group
	if e.active != nil && e.active.Result == nil && e.active.ToolID != tu.ID {
		e.active.Interrupted = true
		logging.Debug("tool interrupted", "tool", e.active.ToolName, "id", e.active.ToolID)
		groups = append(groups, abandonedGroup(e.active))
		delete(e.pending, e.active.ToolID)
		e.active = nil
	}

	if _, exists := e.pending[tu.ID]; !exists {
		c := &Correlation{
			ToolID:     tu.ID,
			ToolName:   tu.Name,
			Invocation: q,
			Started:    q.Arrived,
		}
		e.pending[tu.ID] = c
		e.active = c
	}
	// The invocation itself emits nothing; it waits for its result.
	return groups
}

// processOutcome closes the matching correlation, or falls back to a
// single group for orphaned results.
func (e *Engine) processOutcome(q *Queued, tr *event.Content) []Group {
	c, ok := e.pending[tr.ToolUseID]
	if tr.ToolUseID == "" || !ok {
		return []Group{{Kind: GroupSingle, Events: []*Queued{q}}}
	}
	c.Result = q
	c.ResultAt = q.Arrived
	delete(e.pending, c.ToolID)
	if e.active == c {
		e.active = nil
	}
	return []Group{{Kind: GroupToolPair, Events: []*Queued{c.Invocation, q}, Corr: c}}
}

// sweepTimeouts expires correlations older than the tool timeout, oldest
// first. Removal from pending guarantees each is reported exactly once.
func (e *Engine) sweepTimeouts(now time.Time) []Group {
	var expired []*Correlation
	for _, c := range e.pending {
		if now.Sub(c.Started) > e.timeout {
			expired = append(expired, c)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].Started.Before(expired[j].Started)
	})

	var groups []Group
	for _, c := range expired {
		logging.Warn("tool timed out waiting for result", "tool", c.ToolName, "id", c.ToolID)
		delete(e.pending, c.ToolID)
		if e.active == c {
			e.active = nil
		}
		groups = append(groups, abandonedGroup(c))
	}
	return groups
}

// flushPending reports every still-open correlation as abandoned. Used at
// shutdown so nothing buffered is lost.
func (e *Engine) flushPending() []Group {
	if len(e.pending) == 0 {
		return nil
	}
	open := make([]*Correlation, 0, len(e.pending))
	for _, c := range e.pending {
		open = append(open, c)
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].Started.Before(open[j].Started)
	})

	var groups []Group
	for _, c := range open {
		delete(e.pending, c.ToolID)
		groups = append(groups, abandonedGroup(c))
	}
	e.active = nil
	return groups
}

func abandonedGroup(c *Correlation) Group {
	return Group{Kind: GroupSingle, Events: []*Queued{c.Invocation}, Corr: c}
}
