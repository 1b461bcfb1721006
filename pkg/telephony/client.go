// Package telephony is the REST client for the provider's call automation
// API: answering an inbound call with media streaming attached, hanging up a
// live connection, and transferring it to another participant.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiVersion = "2024-04-15"

// CallAutomation is the subset of provider actions the orchestrator drives.
type CallAutomation interface {
	AnswerCall(ctx context.Context, req AnswerCallRequest) (*AnswerCallResponse, error)
	HangUp(ctx context.Context, callConnectionID string) error
	Transfer(ctx context.Context, req TransferRequest) error
}

type Client struct {
	endpoint   string
	accessKey  string
	httpClient *http.Client
}

// NewClient parses a connection string of the form
// "endpoint=https://<resource>;accesskey=<key>".
func NewClient(connectionString string, timeout time.Duration) (*Client, error) {
	var endpoint, accessKey string
	for _, part := range strings.Split(connectionString, ";") {
		switch {
		case strings.HasPrefix(strings.ToLower(part), "endpoint="):
			endpoint = strings.TrimRight(part[len("endpoint="):], "/")
		case strings.HasPrefix(strings.ToLower(part), "accesskey="):
			accessKey = part[len("accesskey="):]
		}
	}
	if endpoint == "" || accessKey == "" {
		return nil, fmt.Errorf("invalid connection string: endpoint and accesskey are required")
	}
	return &Client{
		endpoint:   endpoint,
		accessKey:  accessKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// MediaStreamingOptions configures the duplex audio leg opened by AnswerCall.
type MediaStreamingOptions struct {
	TransportURL        string `json:"transportUrl"`
	TransportType       string `json:"transportType"`
	ContentType         string `json:"contentType"`
	AudioChannelType    string `json:"audioChannelType"`
	AudioFormat         string `json:"audioFormat"`
	StartMediaStreaming bool   `json:"startMediaStreaming"`
	EnableBidirectional bool   `json:"enableBidirectional"`
}

// DefaultMediaStreaming is the fixed audio configuration for inbound calls:
// bidirectional websocket streaming, mixed channel, 24kHz mono PCM.
func DefaultMediaStreaming(transportURL string) MediaStreamingOptions {
	return MediaStreamingOptions{
		TransportURL:        transportURL,
		TransportType:       "websocket",
		ContentType:         "audio",
		AudioChannelType:    "mixed",
		AudioFormat:         "Pcm24KMono",
		StartMediaStreaming: true,
		EnableBidirectional: true,
	}
}

type AnswerCallRequest struct {
	IncomingCallContext string                `json:"incomingCallContext"`
	CallbackURL         string                `json:"callbackUri"`
	OperationContext    string                `json:"operationContext,omitempty"`
	MediaStreaming      MediaStreamingOptions `json:"mediaStreamingOptions"`
}

type AnswerCallResponse struct {
	CallConnectionID string `json:"callConnectionId"`
	CorrelationID    string `json:"correlationId"`
}

func (c *Client) AnswerCall(ctx context.Context, req AnswerCallRequest) (*AnswerCallResponse, error) {
	endpoint := fmt.Sprintf("%s/calling/callConnections:answer?api-version=%s", c.endpoint, apiVersion)

	body, err := c.post(ctx, endpoint, req)
	if err != nil {
		return nil, fmt.Errorf("answer call: %w", err)
	}

	var result AnswerCallResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("answer call: failed to parse response: %w", err)
	}
	return &result, nil
}

// HangUp terminates the call for every participant.
func (c *Client) HangUp(ctx context.Context, callConnectionID string) error {
	endpoint := fmt.Sprintf("%s/calling/callConnections/%s?api-version=%s&isForEveryone=true",
		c.endpoint, callConnectionID, apiVersion)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("hang up: failed to create request: %w", err)
	}
	if _, err := c.do(httpReq); err != nil {
		return fmt.Errorf("hang up: %w", err)
	}
	return nil
}

type TransferRequest struct {
	CallConnectionID     string
	TargetNumber         string
	SourceCallerIDNumber string
	OperationContext     string
	OperationCallbackURL string
}

type transferPayload struct {
	TargetParticipant    phoneIdentifier `json:"targetParticipant"`
	SourceCallerIDNumber phoneIdentifier `json:"sourceCallerIdNumber"`
	OperationContext     string          `json:"operationContext,omitempty"`
	OperationCallbackURL string          `json:"operationCallbackUri,omitempty"`
}

type phoneIdentifier struct {
	Value string `json:"value"`
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) error {
	endpoint := fmt.Sprintf("%s/calling/callConnections/%s:transferToParticipant?api-version=%s",
		c.endpoint, req.CallConnectionID, apiVersion)

	payload := transferPayload{
		TargetParticipant:    phoneIdentifier{Value: req.TargetNumber},
		SourceCallerIDNumber: phoneIdentifier{Value: req.SourceCallerIDNumber},
		OperationContext:     req.OperationContext,
		OperationCallbackURL: req.OperationCallbackURL,
	}

	if _, err := c.post(ctx, endpoint, payload); err != nil {
		return fmt.Errorf("transfer call: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq)
}

func (c *Client) do(httpReq *http.Request) ([]byte, error) {
	httpReq.Header.Set("x-ms-access-key", c.accessKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("provider API error: %s (status %d)", string(body), resp.StatusCode)
	}
	return body, nil
}
