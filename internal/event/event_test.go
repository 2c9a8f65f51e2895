package event

import "testing"

func TestDecodeAssistantToolUse(t *testing.T) {
	raw := `{"type":"assistant","session_id":"s1","message":{"role":"assistant","model":"m1","content":[{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}]}}`
	ev, ok := Decode([]byte(raw))
	if !ok {
		t.Fatal("decode failed")
	}
	tu := ev.FirstToolUse()
	if tu == nil || tu.ID != "tu_1" || tu.Name != "Bash" {
		t.Fatalf("got %+v", tu)
	}
	if tu.Input["command"] != "ls" {
		t.Fatalf("input = %+v", tu.Input)
	}
}

func TestDecodeUserToolResult(t *testing.T) {
	raw := `{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"ok","is_error":false}]}}`
	ev, ok := Decode([]byte(raw))
	if !ok {
		t.Fatal("decode failed")
	}
	tr := ev.FirstToolResult()
	if tr == nil || tr.ToolUseID != "tu_1" {
		t.Fatalf("got %+v", tr)
	}
	if TextOf(tr.Content) != "ok" {
		t.Fatalf("content = %q", TextOf(tr.Content))
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, ok := Decode([]byte(`{"type":"telemetry"}`)); ok {
		t.Fatal("unknown type accepted")
	}
	if _, ok := Decode([]byte(`[1,2,3]`)); ok {
		t.Fatal("non-object accepted")
	}
	if _, ok := Decode([]byte(`{"type":`)); ok {
		t.Fatal("truncated object accepted")
	}
}

func TestMessageContentAsBareString(t *testing.T) {
	raw := `{"type":"user","message":{"role":"user","content":"just text"}}`
	ev, ok := Decode([]byte(raw))
	if !ok {
		t.Fatal("decode failed")
	}
	if ev.Text() != "just text" {
		t.Fatalf("text = %q", ev.Text())
	}
}

func TestTextJoinsBlocks(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[{"type":"text","text":"one"},{"type":"tool_use","id":"x","name":"Bash"},{"type":"text","text":"two"}]}}`
	ev, _ := Decode([]byte(raw))
	if ev.Text() != "one\ntwo" {
		t.Fatalf("text = %q", ev.Text())
	}
}

func TestTextOfBlockList(t *testing.T) {
	content := []any{
		map[string]any{"type": "text", "text": "line1"},
		map[string]any{"type": "text", "text": "line2"},
	}
	if got := TextOf(content); got != "line1\nline2" {
		t.Fatalf("got %q", got)
	}
	if got := TextOf(nil); got != "" {
		t.Fatalf("nil content rendered %q", got)
	}
	if got := TextOf(map[string]any{"k": "v"}); got != `{"k":"v"}` {
		t.Fatalf("fallback rendered %q", got)
	}
}

func TestDecodeResultFields(t *testing.T) {
	raw := `{"type":"result","subtype":"success","is_error":false,"result":"done","duration_ms":1234,"num_turns":5,"total_cost_usd":0.07}`
	ev, ok := Decode([]byte(raw))
	if !ok {
		t.Fatal("decode failed")
	}
	if ev.Subtype != "success" || ev.Result != "done" || ev.DurationMs != 1234 || ev.NumTurns != 5 {
		t.Fatalf("got %+v", ev)
	}
}
