// Package correlate buffers validated stream events, pairs tool invocations
// with their results, detects interruption and orphaning, and hands the
// reconstructed groups downstream in batches.
//
// All buffer and map mutation happens on one goroutine (the engine loop),
// so the package needs no locks; tests drive the same logic synchronously
// through the unexported methods with an injected clock.
package correlate

import (
	"time"

	"github.com/abelbrown/relay/internal/event"
)

// GroupKind classifies the unit handed to the reducer.
type GroupKind string

const (
	// GroupSingle wraps one queued event with no correlation, or an
	// abandoned tool invocation (interrupted or orphaned).
	GroupSingle GroupKind = "single"

	// GroupToolPair carries a completed correlation and both its events.
	GroupToolPair GroupKind = "tool_pair"

	// GroupBatch is reserved for multi-event aggregation. Current policy
	// reduces it identically to GroupSingle.
	GroupBatch GroupKind = "batch"
)

// Queued wraps a validated event with arrival bookkeeping. Owned exclusively
// by the Engine; swept from the buffer once consumed.
type Queued struct {
	ID      int64
	Event   event.Validated
	Arrived time.Time

	consumed bool
}

// Correlation is an in-flight pairing keyed by tool-invocation id. It ends
// in exactly one of three terminal states: completed (Result attached),
// interrupted (a newer invocation superseded it), or orphaned (timeout or
// shutdown flush).
type Correlation struct {
	ToolID      string
	ToolName    string
	Invocation  *Queued
	Started     time.Time
	Result      *Queued
	ResultAt    time.Time
	Interrupted bool
}

// Group is the unit handed to the reducer.
type Group struct {
	Kind   GroupKind
	Events []*Queued

	// Corr is set for tool pairs and for singles wrapping an abandoned
	// invocation; nil otherwise.
	Corr *Correlation
}

// Duration returns outcome time minus invocation time for completed pairs,
// zero otherwise.
func (g Group) Duration() time.Duration {
	if g.Corr == nil || g.Corr.Result == nil {
		return 0
	}
	return g.Corr.ResultAt.Sub(g.Corr.Started)
}
