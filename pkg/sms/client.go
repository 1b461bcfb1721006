// Package sms sends outbound text messages through the provider's SMS API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/pkg/logger"
)

// Sender delivers one or more messages to a single recipient.
type Sender interface {
	Send(ctx context.Context, to string, messages []string) error
}

// Disabled stands in when no SMS backend is configured.
type Disabled struct{}

func (Disabled) Send(ctx context.Context, to string, messages []string) error {
	return fmt.Errorf("sms sending is not configured")
}

type Client struct {
	endpoint   string
	accessKey  string
	fromNumber string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(connectionString, fromNumber string, timeout time.Duration, log *zap.Logger) (*Client, error) {
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
		return nil, fmt.Errorf("invalid sms connection string: endpoint and accesskey are required")
	}
	return &Client{
		endpoint:   endpoint,
		accessKey:  accessKey,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

type sendPayload struct {
	From          string        `json:"from"`
	Recipients    []recipient   `json:"smsRecipients"`
	Message       string        `json:"message"`
	SendOptions   sendOptions   `json:"smsSendOptions"`
}

type recipient struct {
	To string `json:"to"`
}

type sendOptions struct {
	EnableDeliveryReport bool `json:"enableDeliveryReport"`
}

type sendResult struct {
	Value []struct {
		MessageID    string `json:"messageId"`
		Successful   bool   `json:"successful"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"value"`
}

// Send posts each message separately, logging per-message outcomes. A
// recipient that does not look like an E.164 US number is logged, matching
// the caller-facing behavior of the dialer this service fronts.
func (c *Client) Send(ctx context.Context, to string, messages []string) error {
	if !strings.HasPrefix(to, "+1") {
		c.log.Error("invalid sms recipient, must start with +1",
			logger.MaskPhone("to", to))
	}

	endpoint := fmt.Sprintf("%s/sms?api-version=2021-03-07", c.endpoint)

	for _, message := range messages {
		payload := sendPayload{
			From:        c.fromNumber,
			Recipients:  []recipient{{To: to}},
			Message:     message,
			SendOptions: sendOptions{EnableDeliveryReport: true},
		}

		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal sms request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create sms request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-ms-access-key", c.accessKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("failed to send sms: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read sms response: %w", err)
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("sms API error: %s (status %d)", string(body), resp.StatusCode)
		}

		var result sendResult
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to parse sms response: %w", err)
		}
		for _, r := range result.Value {
			if r.Successful {
				c.log.Info("sms sent", zap.String("message_id", r.MessageID))
			} else {
				c.log.Error("failed to send sms", zap.String("error", r.ErrorMessage))
			}
		}
	}

	return nil
}
