package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abelbrown/relay/internal/dispatch"
	"github.com/abelbrown/relay/internal/event"
	"github.com/abelbrown/relay/internal/logging"
	"github.com/abelbrown/relay/internal/reduce"
	"github.com/abelbrown/relay/internal/state"
)

const maxMessageLen = 2000

// Notifier filters occurrences for significance and posts them through
// the dispatch limiter. Drive Observe from one goroutine.
type Notifier struct {
	client  *Client
	limiter *dispatch.Limiter
	store   *state.Store // optional
	channel string

	mu       sync.Mutex
	session  string
	threadTS string

	pendingText []string
}

// New creates a notifier. store may be nil, in which case threads do not
// survive restarts.
func New(client *Client, limiter *dispatch.Limiter, store *state.Store, channel string) *Notifier {
	return &Notifier{
		client:  client,
		limiter: limiter,
		store:   store,
		channel: channel,
	}
}

// Observe consumes one fresh occurrence. Insignificant occurrences are
// dropped; assistant text accumulates until something else flushes it.
func (n *Notifier) Observe(occ *reduce.Occurrence) {
	switch {
	case occ.EventType == event.TypeSystem:
		if occ.Subtype == "init" {
			n.startSession(occ.SessionID)
		}
	case occ.EventType == event.TypeResult:
		n.flushText()
		n.post(formatResult(occ))
	case occ.Outcome == reduce.OutcomeToolComplete,
		occ.Outcome == reduce.OutcomeToolFailed,
		occ.Outcome == reduce.OutcomeToolInterrupted:
		n.flushText()
		n.post(formatTool(occ))
	case occ.Outcome == reduce.OutcomeSingle && occ.EventType == event.TypeAssistant:
		if occ.Payload != "" {
			n.pendingText = append(n.pendingText, occ.Payload)
		}
	case occ.Outcome == reduce.OutcomeSingle && occ.EventType == event.TypeUser && occ.ToolStatus != "":
		// A tool result whose invocation was never seen.
		n.flushText()
		n.post(formatOrphanResult(occ))
	}
}

// Drain flushes accumulated text and blocks until every queued post has
// been sent.
func (n *Notifier) Drain() {
	n.flushText()
	n.limiter.WaitForCompletion()
}

func (n *Notifier) startSession(sessionID string) {
	n.flushText()

	n.mu.Lock()
	n.session = sessionID
	n.threadTS = ""
	if n.store != nil && sessionID != "" {
		tok, err := n.store.ThreadToken(sessionID)
		if err != nil {
			logging.Warn("failed to load thread token", "session", sessionID, "error", err)
		} else {
			n.threadTS = tok
		}
	}
	n.mu.Unlock()

	n.post(fmt.Sprintf(":rocket: session `%s` started", shortSession(sessionID)))
}

func (n *Notifier) flushText() {
	if len(n.pendingText) == 0 {
		return
	}
	text := strings.Join(n.pendingText, "\n\n")
	n.pendingText = n.pendingText[:0]
	n.post(truncate(text, maxMessageLen))
}

// post enqueues one message. The first successful post of a session
// captures the thread token so everything after it threads.
func (n *Notifier) post(text string) {
	if text == "" {
		return
	}
	key := uuid.NewString()

	n.limiter.Execute(func(ctx context.Context) error {
		n.mu.Lock()
		session := n.session
		req := postRequest{
			Text:           text,
			Channel:        n.channel,
			ThreadTS:       n.threadTS,
			IdempotencyKey: key,
		}
		n.mu.Unlock()

		resp, err := n.client.Post(ctx, req)
		if err != nil {
			return err
		}

		if resp.TS != "" && req.ThreadTS == "" {
			n.mu.Lock()
			if n.threadTS == "" && n.session == session {
				n.threadTS = resp.TS
				if n.store != nil && session != "" {
					if err := n.store.SaveThreadToken(session, resp.TS); err != nil {
						logging.Warn("failed to save thread token", "session", session, "error", err)
					}
				}
			}
			n.mu.Unlock()
		}
		return nil
	})
}

func formatTool(occ *reduce.Occurrence) string {
	switch occ.Outcome {
	case reduce.OutcomeToolFailed:
		return withCount(occ, fmt.Sprintf(":x: `%s` failed (%s)\n```%s```",
			occ.ToolName, occ.Duration.Round(10*time.Millisecond), truncate(occ.Payload, 500)))
	case reduce.OutcomeToolInterrupted:
		return withCount(occ, fmt.Sprintf(":warning: `%s` never finished", occ.ToolName))
	default:
		return withCount(occ, fmt.Sprintf(":white_check_mark: `%s` done (%s)",
			occ.ToolName, occ.Duration.Round(10*time.Millisecond)))
	}
}

func formatOrphanResult(occ *reduce.Occurrence) string {
	icon := ":package:"
	if occ.IsError {
		icon = ":x:"
	}
	return withCount(occ, fmt.Sprintf("%s stray tool result\n```%s```", icon, truncate(occ.Payload, 500)))
}

func formatResult(occ *reduce.Occurrence) string {
	icon := ":checkered_flag:"
	if occ.IsError {
		icon = ":x:"
	}
	return fmt.Sprintf("%s finished: %s", icon, truncate(occ.Payload, maxMessageLen))
}

func withCount(occ *reduce.Occurrence, text string) string {
	if occ.Count > 1 {
		return fmt.Sprintf("%s (x%d)", text, occ.Count)
	}
	return text
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
