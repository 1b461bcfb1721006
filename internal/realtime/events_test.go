package realtime

import (
	"encoding/json"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, e *ServerEvent)
	}{
		{
			name: "audio delta",
			raw:  `{"type":"response.audio.delta","delta":"UklGRg=="}`,
			check: func(t *testing.T, e *ServerEvent) {
				if e.Type != EventAudioDelta || e.Delta != "UklGRg==" {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "speech started",
			raw:  `{"type":"input_audio_buffer.speech_started","audio_start_ms":1530}`,
			check: func(t *testing.T, e *ServerEvent) {
				if e.Type != EventSpeechStarted || e.AudioStartMs != 1530 {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "function call arguments done",
			raw:  `{"type":"response.function_call_arguments.done","name":"search","call_id":"call_abc","arguments":"{\"query\":\"test\"}"}`,
			check: func(t *testing.T, e *ServerEvent) {
				if e.Name != "search" || e.CallID != "call_abc" {
					t.Errorf("got %+v", e)
				}
				var args map[string]any
				if err := json.Unmarshal([]byte(e.Arguments), &args); err != nil {
					t.Fatalf("arguments not decodable: %v", err)
				}
				if args["query"] != "test" {
					t.Errorf("got args %v", args)
				}
			},
		},
		{
			name: "session created",
			raw:  `{"type":"session.created","session":{"id":"sess_1"}}`,
			check: func(t *testing.T, e *ServerEvent) {
				if e.Session == nil || e.Session.ID != "sess_1" {
					t.Errorf("got %+v", e)
				}
			},
		},
		{
			name: "error event",
			raw:  `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			check: func(t *testing.T, e *ServerEvent) {
				if e.Error == nil || e.Error.Message != "nope" {
					t.Errorf("got %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseEvent() error = %v", err)
			}
			tt.check(t, event)
		})
	}
}

func TestParseEvent_Invalid(t *testing.T) {
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Error("expected error for invalid frame")
	}
}

func TestTools_SchemaShape(t *testing.T) {
	tools := Tools()
	if len(tools) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(tools))
	}

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
		if tool.Type != "function" {
			t.Errorf("tool %s has type %q", tool.Name, tool.Type)
		}
		if tool.Parameters.Type != "object" {
			t.Errorf("tool %s parameters type %q", tool.Name, tool.Parameters.Type)
		}
	}
	for _, want := range []string{ToolSearch, ToolSendSMS, ToolTransferCall, ToolEndCall} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}
