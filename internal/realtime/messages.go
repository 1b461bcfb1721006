package realtime

// Client -> server message types for the realtime voice protocol.

type SessionUpdate struct {
	Type    string        `json:"type"` // "session.update"
	Session SessionConfig `json:"session"`
}

// SessionConfig is the fixed set of options sent once at session start.
type SessionConfig struct {
	Voice                   string         `json:"voice"`
	Instructions            string         `json:"instructions"`
	InputAudioFormat        string         `json:"input_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
}

type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"` // "server_vad"
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
}

type Tool struct {
	Type        string         `json:"type"` // "function"
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type ToolParameters struct {
	Type       string                  `json:"type"` // "object"
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

type ToolProperty struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Items       *ToolProperty `json:"items,omitempty"`
}

type InputAudioBufferAppend struct {
	Type  string `json:"type"` // "input_audio_buffer.append"
	Audio string `json:"audio"`
}

func AppendAudio(audio string) InputAudioBufferAppend {
	return InputAudioBufferAppend{Type: "input_audio_buffer.append", Audio: audio}
}

type ConversationItemCreate struct {
	Type string `json:"type"` // "conversation.item.create"
	Item Item   `json:"item"`
}

type Item struct {
	Type   string `json:"type"` // "function_call_output"
	Output string `json:"output,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

// FunctionOutput builds a function_call_output item echoing the invocation
// id the model issued, so it can correlate the result to its call.
func FunctionOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: "conversation.item.create",
		Item: Item{
			Type:   "function_call_output",
			Output: output,
			CallID: callID,
		},
	}
}

type ResponseCreate struct {
	Type     string          `json:"type"` // "response.create"
	Response *ResponseParams `json:"response,omitempty"`
}

type ResponseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// NewResponseWithInstructions asks the model to speak following the given
// one-off instructions.
func NewResponseWithInstructions(instructions string) ResponseCreate {
	return ResponseCreate{
		Type: "response.create",
		Response: &ResponseParams{
			Modalities:   []string{"text", "audio"},
			Instructions: instructions,
		},
	}
}
