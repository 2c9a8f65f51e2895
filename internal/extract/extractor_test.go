package extract

import (
	"testing"

	"github.com/abelbrown/relay/internal/event"
)

func TestSingleLineEvent(t *testing.T) {
	x := New()
	out := x.Feed(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1", len(out))
	}
	if out[0].Type != event.TypeAssistant || out[0].Text() != "hi" {
		t.Fatalf("got %+v", out[0])
	}
}

func TestProseAroundJSON(t *testing.T) {
	x := New()
	if out := x.Feed("Loading model, please wait..."); len(out) != 0 {
		t.Fatalf("prose produced events: %+v", out)
	}
	out := x.Feed(`warning: slow disk {"type":"system","subtype":"init","session_id":"s1"} trailing noise`)
	if len(out) != 1 || out[0].Type != event.TypeSystem || out[0].SessionID != "s1" {
		t.Fatalf("got %+v", out)
	}
}

func TestObjectSplitAcrossFeeds(t *testing.T) {
	x := New()
	if out := x.Feed(`{"type":"result",`); len(out) != 0 {
		t.Fatalf("incomplete object produced events: %+v", out)
	}
	if out := x.Feed(`  "subtype":"success",`); len(out) != 0 {
		t.Fatalf("still incomplete: %+v", out)
	}
	out := x.Feed(`  "result":"done"}`)
	if len(out) != 1 || out[0].Type != event.TypeResult || out[0].Result != "done" {
		t.Fatalf("got %+v", out)
	}
}

func TestBracesInsideStrings(t *testing.T) {
	x := New()
	out := x.Feed(`{"type":"assistant","message":{"content":[{"type":"text","text":"code: {x: \"}\"} end"}]}}`)
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1", len(out))
	}
	if out[0].Text() != `code: {x: "}"} end` {
		t.Fatalf("text = %q", out[0].Text())
	}
}

func TestUnrecognizedObjectDiscarded(t *testing.T) {
	x := New()
	if out := x.Feed(`{"type":"telemetry","cpu":0.4}`); len(out) != 0 {
		t.Fatalf("unknown type produced events: %+v", out)
	}
	// The stream keeps working afterwards.
	out := x.Feed(`{"type":"system","subtype":"init"}`)
	if len(out) != 1 {
		t.Fatalf("got %d events, want 1", len(out))
	}
}

func TestMultipleObjectsPerLine(t *testing.T) {
	x := New()
	out := x.Feed(`{"type":"system","subtype":"init"}{"type":"result","result":"ok"}`)
	if len(out) != 2 {
		t.Fatalf("got %d events, want 2", len(out))
	}
	if out[0].Type != event.TypeSystem || out[1].Type != event.TypeResult {
		t.Fatalf("got %+v", out)
	}
}

func TestMalformedObjectSwallowed(t *testing.T) {
	x := New()
	// Balanced braces but invalid JSON between them.
	if out := x.Feed(`{"type": nope}`); len(out) != 0 {
		t.Fatalf("malformed object produced events: %+v", out)
	}
	out := x.Feed(`{"type":"result","result":"fine"}`)
	if len(out) != 1 || out[0].Result != "fine" {
		t.Fatalf("recovery failed: %+v", out)
	}
}

func TestStrayQuoteInProseDoesNotPoisonStream(t *testing.T) {
	x := New()
	if out := x.Feed(`I'll run the "build step now`); len(out) != 0 {
		t.Fatalf("prose produced events: %+v", out)
	}
	out := x.Feed(`{"type":"system","subtype":"init"}`)
	if len(out) != 1 || out[0].Type != event.TypeSystem {
		t.Fatalf("object after stray quote lost: %+v", out)
	}
}

func TestBufferBoundedAfterStrayQuote(t *testing.T) {
	x := New()
	x.Feed(`unbalanced " quote`)
	for i := 0; i < 1000; i++ {
		x.Feed("more prose")
	}
	if len(x.buf) != 0 {
		t.Fatalf("buffer grew to %d bytes after stray quote", len(x.buf))
	}
	if x.inString {
		t.Fatal("string mode latched at depth 0")
	}
}

func TestProseDoesNotAccumulate(t *testing.T) {
	x := New()
	for i := 0; i < 1000; i++ {
		x.Feed("noise with no json at all")
	}
	if len(x.buf) != 0 {
		t.Fatalf("prose buffer grew to %d bytes", len(x.buf))
	}
}

func TestReset(t *testing.T) {
	x := New()
	x.Feed(`{"type":"result",`)
	x.Reset()
	out := x.Feed(`{"type":"system","subtype":"init"}`)
	if len(out) != 1 || out[0].Type != event.TypeSystem {
		t.Fatalf("state leaked across Reset: %+v", out)
	}
}
