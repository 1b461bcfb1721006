// Package lifecycle consumes the telephony provider's callback events for a
// call and drives the per-call state machine: recording the connection
// handle when the call connects, hanging up on terminate, and transferring
// to a human agent.
package lifecycle

import (
	"encoding/json"
	"fmt"
)

// Provider event type strings as they appear on the wire.
const (
	TypeCallConnected         = "Microsoft.Communication.CallConnected"
	TypeMediaStreamingStarted = "Microsoft.Communication.MediaStreamingStarted"
	TypeMediaStreamingStopped = "Microsoft.Communication.MediaStreamingStopped"
	TypeMediaStreamingFailed  = "Microsoft.Communication.MediaStreamingFailed"
	TypeTerminateCall         = "Microsoft.Communication.TerminateCall"
	TypeTransferCallToAgent   = "Microsoft.Communication.TransferCallToAgent"
)

// Event is the closed set of decoded callback variants. Unrecognized types
// decode to Unknown rather than failing the batch.
type Event interface {
	eventType() string
}

type CallConnected struct {
	CallConnectionID string
	CorrelationID    string
}

type MediaStreamingStarted struct {
	ContentType   string
	Status        string
	StatusDetails string
}

type MediaStreamingStopped struct {
	ContentType   string
	Status        string
	StatusDetails string
}

type MediaStreamingFailed struct {
	Code    int
	SubCode int
	Message string
}

type TerminateCall struct {
	CallConnectionID string
}

type TransferCallToAgent struct {
	CallConnectionID string
	AgentNumber      string
	SourceNumber     string
}

type Unknown struct {
	Type string
}

func (CallConnected) eventType() string         { return TypeCallConnected }
func (MediaStreamingStarted) eventType() string { return TypeMediaStreamingStarted }
func (MediaStreamingStopped) eventType() string { return TypeMediaStreamingStopped }
func (MediaStreamingFailed) eventType() string  { return TypeMediaStreamingFailed }
func (TerminateCall) eventType() string         { return TypeTerminateCall }
func (TransferCallToAgent) eventType() string   { return TypeTransferCallToAgent }
func (u Unknown) eventType() string             { return u.Type }

type wireEvent struct {
	Type string `json:"type"`
	Data struct {
		CallConnectionID string `json:"callConnectionId"`
		CorrelationID    string `json:"correlationId"`
		AgentPhoneNumber string `json:"agentPhoneNumber"`
		ACSPhoneNumber   string `json:"acsPhoneNumber"`

		MediaStreamingUpdate *struct {
			ContentType          string `json:"contentType"`
			MediaStreamingStatus string `json:"mediaStreamingStatus"`
			StatusDetails        string `json:"mediaStreamingStatusDetails"`
		} `json:"mediaStreamingUpdate"`

		ResultInformation *struct {
			Code    int    `json:"code"`
			SubCode int    `json:"subCode"`
			Message string `json:"message"`
		} `json:"resultInformation"`
	} `json:"data"`
}

// DecodeBatch parses one callback delivery: an ordered JSON array of events.
func DecodeBatch(body []byte) ([]Event, error) {
	var raw []wireEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode callback batch: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, w := range raw {
		events = append(events, decodeOne(w))
	}
	return events, nil
}

func decodeOne(w wireEvent) Event {
	switch w.Type {
	case TypeCallConnected:
		return CallConnected{
			CallConnectionID: w.Data.CallConnectionID,
			CorrelationID:    w.Data.CorrelationID,
		}
	case TypeMediaStreamingStarted, TypeMediaStreamingStopped:
		var contentType, status, details string
		if u := w.Data.MediaStreamingUpdate; u != nil {
			contentType, status, details = u.ContentType, u.MediaStreamingStatus, u.StatusDetails
		}
		if w.Type == TypeMediaStreamingStarted {
			return MediaStreamingStarted{ContentType: contentType, Status: status, StatusDetails: details}
		}
		return MediaStreamingStopped{ContentType: contentType, Status: status, StatusDetails: details}
	case TypeMediaStreamingFailed:
		failed := MediaStreamingFailed{}
		if r := w.Data.ResultInformation; r != nil {
			failed.Code, failed.SubCode, failed.Message = r.Code, r.SubCode, r.Message
		}
		return failed
	case TypeTerminateCall:
		return TerminateCall{CallConnectionID: w.Data.CallConnectionID}
	case TypeTransferCallToAgent:
		return TransferCallToAgent{
			CallConnectionID: w.Data.CallConnectionID,
			AgentNumber:      w.Data.AgentPhoneNumber,
			SourceNumber:     w.Data.ACSPhoneNumber,
		}
	default:
		return Unknown{Type: w.Type}
	}
}
