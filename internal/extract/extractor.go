// Package extract recovers complete JSON objects from a raw, noisy character
// stream. The input interleaves prose and JSON freely, and a single object
// may arrive split across many reads; the extractor carries enough state
// (brace depth, string mode, a persistent buffer) to reassemble objects
// regardless of how the producer's writes were chopped up.
package extract

import "github.com/abelbrown/relay/internal/event"

// Extractor turns a sequence of raw text lines into validated events.
// Not safe for concurrent use; feed it from one goroutine.
type Extractor struct {
	buf      []byte
	pos      int // next unscanned index into buf
	depth    int // brace nesting outside strings
	inString bool
	escaped  bool
	start    int // buffer offset of the current object's '{', -1 when none
}

// New creates an empty extractor.
func New() *Extractor {
	return &Extractor{start: -1}
}

// Feed appends one line of input and returns every complete, validated
// event it closed. Unparseable or unrecognized objects are consumed
// silently; prose never produces output.
func (x *Extractor) Feed(line string) []event.Validated {
	x.buf = append(x.buf, line...)
	x.buf = append(x.buf, '\n')

	var out []event.Validated
	i := x.pos
	for i < len(x.buf) {
		ch := x.buf[i]

		if x.inString {
			switch {
			case x.escaped:
				x.escaped = false
			case ch == '\\':
				x.escaped = true
			case ch == '"':
				x.inString = false
			}
			i++
			continue
		}

		switch ch {
		case '"':
			// Quotes only delimit strings inside an object. Prose at
			// depth 0 may contain lone quotes; latching string mode on
			// one would swallow the rest of the stream.
			if x.depth > 0 {
				x.inString = true
			}
		case '{':
			if x.depth == 0 {
				x.start = i
			}
			x.depth++
		case '}':
			if x.depth > 0 {
				x.depth--
				if x.depth == 0 && x.start >= 0 {
					candidate := x.buf[x.start : i+1]
					if ev, ok := event.Decode(candidate); ok {
						out = append(out, ev)
					}
					// Consume through the candidate whether or not it
					// parsed; the rest of the buffer shifts down and
					// scanning restarts at the front.
					rest := copy(x.buf, x.buf[i+1:])
					x.buf = x.buf[:rest]
					x.start = -1
					i = 0
					continue
				}
			}
		}
		i++
	}
	x.pos = len(x.buf)

	// With no object in flight the buffer is pure prose; drop it so a
	// chatty producer can't grow it without bound.
	if x.depth == 0 && x.start < 0 {
		x.buf = x.buf[:0]
		x.pos = 0
		x.inString = false
		x.escaped = false
	}
	return out
}

// Reset clears all state for reuse between independent streams.
func (x *Extractor) Reset() {
	x.buf = x.buf[:0]
	x.pos = 0
	x.depth = 0
	x.inString = false
	x.escaped = false
	x.start = -1
}
