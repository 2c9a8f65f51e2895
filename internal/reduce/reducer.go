// Package reduce collapses correlated groups into occurrences, the unit
// every sink consumes. Consecutive occurrences that fingerprint the same
// are merged into the previous one instead of emitted again.
package reduce

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/abelbrown/relay/internal/correlate"
	"github.com/abelbrown/relay/internal/event"
)

// Outcome classifies what an occurrence reports.
type Outcome string

const (
	OutcomeSingle          Outcome = "single"
	OutcomeToolComplete    Outcome = "tool_complete"
	OutcomeToolFailed      Outcome = "tool_failed"
	OutcomeToolInterrupted Outcome = "tool_interrupted"
)

// Occurrence is one reduced unit of activity.
type Occurrence struct {
	Outcome   Outcome
	EventType event.Type
	Subtype   string
	SessionID string

	// Tool outcomes only. ToolStatus is the correlation's terminal state
	// (completed, failed, interrupted, orphaned); empty for non-tool
	// occurrences.
	ToolName   string
	ToolStatus string
	Duration   time.Duration

	// Result events only.
	NumTurns int
	CostUSD  float64

	// Payload is the human-readable body: message text, tool output, or
	// the final result summary.
	Payload string
	IsError bool

	// Count is how many consecutive identical occurrences this one stands
	// for; starts at 1.
	Count int

	At time.Time
}

// Reducer turns groups into occurrences with immediate-repeat dedup.
// Not safe for concurrent use; drive it from the pipeline goroutine.
type Reducer struct {
	lastFP  string
	last    Occurrence // reducer-owned record, never handed out
	hasLast bool
	session string
}

func New() *Reducer {
	return &Reducer{}
}

// Reduce converts one group into an occurrence. fresh is true when the
// occurrence is new; false when the group repeated the previous occurrence,
// in which case the return is a snapshot of the retained record with its
// Count bumped. Occurrences are immutable once returned — sinks on other
// goroutines may hold them, so the reducer never writes to one again.
func (r *Reducer) Reduce(g correlate.Group) (occ *Occurrence, fresh bool) {
	o := r.build(g)
	if o == nil {
		return nil, false
	}

	// A new session invalidates the dedup window.
	if o.SessionID != "" && o.SessionID != r.session {
		r.session = o.SessionID
		r.Reset()
	}

	fp := fingerprint(o)
	if r.hasLast && fp == r.lastFP {
		r.last.Count++
		r.last.At = o.At
		snap := r.last
		return &snap, false
	}
	r.last = *o
	r.hasLast = true
	r.lastFP = fp
	return o, true
}

// ReduceGroups reduces one batch in group order. Repeats are folded into
// the retained record and omitted from the returned slice.
func (r *Reducer) ReduceGroups(groups []correlate.Group) []*Occurrence {
	var out []*Occurrence
	for _, g := range groups {
		if occ, fresh := r.Reduce(g); fresh {
			out = append(out, occ)
		}
	}
	return out
}

// Reset clears the dedup window; the next occurrence always emits fresh.
func (r *Reducer) Reset() {
	r.hasLast = false
	r.lastFP = ""
}

func (r *Reducer) build(g correlate.Group) *Occurrence {
	if len(g.Events) == 0 {
		return nil
	}
	first := g.Events[0]

	if g.Kind == correlate.GroupToolPair && g.Corr != nil && g.Corr.Result != nil {
		return r.buildToolOutcome(g)
	}
	if g.Corr != nil {
		// Abandoned invocation: interrupted or orphaned.
		status := "orphaned"
		if g.Corr.Interrupted {
			status = "interrupted"
		}
		return &Occurrence{
			Outcome:    OutcomeToolInterrupted,
			EventType:  first.Event.Type,
			SessionID:  first.Event.SessionID,
			ToolName:   g.Corr.ToolName,
			ToolStatus: status,
			Payload:    invocationSummary(g.Corr),
			Count:      1,
			At:         first.Arrived,
		}
	}
	return r.buildSingle(first)
}

func (r *Reducer) buildToolOutcome(g correlate.Group) *Occurrence {
	c := g.Corr
	outcome := OutcomeToolComplete
	status := "completed"
	isErr := false
	var payload string
	if tr := c.Result.Event.FirstToolResult(); tr != nil {
		payload = event.TextOf(tr.Content)
		if tr.IsError {
			outcome = OutcomeToolFailed
			status = "failed"
			isErr = true
		}
	}
	return &Occurrence{
		Outcome:    outcome,
		EventType:  c.Result.Event.Type,
		SessionID:  c.Result.Event.SessionID,
		ToolName:   c.ToolName,
		ToolStatus: status,
		Duration:   g.Duration(),
		Payload:    payload,
		IsError:    isErr,
		Count:      1,
		At:         c.ResultAt,
	}
}

func (r *Reducer) buildSingle(q *correlate.Queued) *Occurrence {
	ev := q.Event
	o := &Occurrence{
		Outcome:   OutcomeSingle,
		EventType: ev.Type,
		Subtype:   ev.Subtype,
		SessionID: ev.SessionID,
		IsError:   ev.IsError,
		Count:     1,
		At:        q.Arrived,
	}
	switch ev.Type {
	case event.TypeResult:
		o.Payload = ev.Result
		o.NumTurns = ev.NumTurns
		o.CostUSD = ev.TotalCostUSD
		o.Duration = time.Duration(ev.DurationMs) * time.Millisecond
	case event.TypeSystem:
		o.Payload = ev.Subtype
	default:
		if tr := ev.FirstToolResult(); tr != nil {
			// Orphaned result with no matching invocation.
			o.Payload = event.TextOf(tr.Content)
			o.ToolStatus = "orphaned"
			o.IsError = o.IsError || tr.IsError
		} else {
			o.Payload = ev.Text()
		}
	}
	return o
}

// invocationSummary renders a tool call that never finished: name plus a
// compact view of its input.
func invocationSummary(c *correlate.Correlation) string {
	if c.Invocation == nil {
		return c.ToolName
	}
	tu := c.Invocation.Event.FirstToolUse()
	if tu == nil || len(tu.Input) == 0 {
		return c.ToolName
	}
	parts := make([]string, 0, len(tu.Input))
	for k, v := range tu.Input {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	// Sorted so identical inputs always fingerprint the same.
	sort.Strings(parts)
	return c.ToolName + " " + strings.Join(parts, " ")
}

func fingerprint(o *Occurrence) string {
	return string(o.Outcome) + "|" + o.ToolName + "|" + o.Payload
}
