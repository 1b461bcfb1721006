package session

import "encoding/json"

// Media transport frame kinds.
const (
	kindAudioData = "AudioData"
	kindStopAudio = "StopAudio"
)

// inboundFrame is what the telephony media socket delivers. Only AudioData
// frames carry a payload.
type inboundFrame struct {
	Kind      string `json:"kind"`
	AudioData *struct {
		Data string `json:"data"`
	} `json:"audioData"`
}

// outboundFrame is what the telephony media socket accepts. AudioData stays
// a typed null on StopAudio frames; the provider rejects the field missing
// entirely.
type outboundFrame struct {
	Kind      string         `json:"Kind"`
	AudioData *outboundAudio `json:"AudioData"`
	StopAudio *struct{}      `json:"StopAudio,omitempty"`
}

type outboundAudio struct {
	Data string `json:"Data"`
}

func audioFrame(data string) ([]byte, error) {
	return json.Marshal(outboundFrame{
		Kind:      kindAudioData,
		AudioData: &outboundAudio{Data: data},
	})
}

func stopAudioFrame() ([]byte, error) {
	return json.Marshal(outboundFrame{
		Kind:      kindStopAudio,
		StopAudio: &struct{}{},
	})
}
