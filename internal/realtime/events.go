package realtime

import "encoding/json"

// Server -> client event types the bridge dispatches on.
const (
	EventSessionCreated         = "session.created"
	EventError                  = "error"
	EventInputAudioCleared      = "input_audio_buffer.cleared"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventInputTranscriptDone    = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptFailed  = "conversation.item.input_audio_transcription.failed"
	EventResponseDone           = "response.done"
	EventResponseTranscriptDone = "response.audio_transcript.done"
	EventAudioDelta             = "response.audio.delta"
	EventFunctionArgumentsDone  = "response.function_call_arguments.done"
)

// ServerEvent is the decoded form of one inbound protocol message. Only the
// fields relevant to the event's Type are populated.
type ServerEvent struct {
	Type string `json:"type"`

	Session *SessionInfo `json:"session,omitempty"`
	Error   *ErrorInfo   `json:"error,omitempty"`

	// speech_started
	AudioStartMs int64 `json:"audio_start_ms,omitempty"`

	// transcription events
	Transcript string `json:"transcript,omitempty"`

	// response.audio.delta carries one base64 audio chunk
	Delta string `json:"delta,omitempty"`

	Response *ResponseInfo `json:"response,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

type SessionInfo struct {
	ID string `json:"id"`
}

type ErrorInfo struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponseInfo struct {
	ID            string          `json:"id"`
	StatusDetails json.RawMessage `json:"status_details,omitempty"`
}

// ParseEvent decodes one raw protocol frame.
func ParseEvent(data []byte) (*ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
