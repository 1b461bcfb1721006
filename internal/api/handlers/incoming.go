package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/lifecycle"
	"github.com/troikatech/voice-orchestrator/pkg/errors"
	"github.com/troikatech/voice-orchestrator/pkg/logger"
	"github.com/troikatech/voice-orchestrator/pkg/metrics"
	"github.com/troikatech/voice-orchestrator/pkg/telephony"
)

const (
	eventTypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	eventTypeIncomingCall           = "Microsoft.Communication.IncomingCall"
)

// gridEvent is the EventGrid envelope for incoming-call notifications.
type gridEvent struct {
	EventType string `json:"eventType"`
	Data      struct {
		ValidationCode string `json:"validationCode"`

		From                gridIdentity `json:"from"`
		To                  gridIdentity `json:"to"`
		IncomingCallContext string       `json:"incomingCallContext"`
	} `json:"data"`
}

type gridIdentity struct {
	RawID       string `json:"rawId"`
	PhoneNumber struct {
		Value string `json:"value"`
	} `json:"phoneNumber"`
}

// number prefers the typed phone value, falling back to the rawId form the
// grid uses for non-PSTN identities.
func (g gridIdentity) number() string {
	if g.PhoneNumber.Value != "" {
		return g.PhoneNumber.Value
	}
	return strings.TrimPrefix(g.RawID, "4:")
}

// IncomingCall answers the provider's incoming-call notification. Validation
// handshakes are echoed back; call events mint a CallId, seed the call state
// and answer with bidirectional media streaming attached.
func (h *Handler) IncomingCall(c *gin.Context) {
	var events []gridEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		errors.BadRequest(c, "invalid event batch")
		return
	}

	for _, event := range events {
		switch event.EventType {
		case eventTypeSubscriptionValidation:
			c.JSON(http.StatusOK, gin.H{"validationResponse": event.Data.ValidationCode})
			return

		case eventTypeIncomingCall:
			if err := h.answerIncomingCall(c.Request.Context(), event); err != nil {
				errors.InternalError(c, err, h.logger)
				return
			}

		default:
			h.logger.Info("ignoring event grid event",
				zap.String("event_type", event.EventType))
		}
	}

	c.Status(http.StatusOK)
}

func (h *Handler) answerIncomingCall(ctx context.Context, event gridEvent) error {
	caller := event.Data.From.number()
	dialed := event.Data.To.number()
	callID := uuid.NewString()

	if err := h.store.Set(ctx, callID, map[string]any{
		"callerId":  caller,
		"acsNumber": dialed,
		"state":     lifecycle.StateRinging,
	}); err != nil {
		return fmt.Errorf("seed call state: %w", err)
	}

	callbackURL := fmt.Sprintf("%s/api/callbacks/%s?callerId=%s",
		h.cfg.CallbackHost, callID, url.QueryEscape(caller))
	transportURL := fmt.Sprintf("%s/ws?uuid=%s&acsPhoneNumber=%s",
		wsHost(h.cfg.CallbackHost), callID, url.QueryEscape(dialed))

	resp, err := h.provider.AnswerCall(ctx, telephony.AnswerCallRequest{
		IncomingCallContext: event.Data.IncomingCallContext,
		CallbackURL:         callbackURL,
		MediaStreaming:      telephony.DefaultMediaStreaming(transportURL),
	})
	metrics.RecordProviderCall("answer_call", err)
	if err != nil {
		return fmt.Errorf("answer call: %w", err)
	}

	h.records.CallStarted(ctx, callID, caller, dialed)
	h.logger.Info("incoming call answered",
		zap.String("call_id", callID),
		zap.String("call_connection_id", resp.CallConnectionID),
		logger.MaskPhoneIfPresent("caller", caller),
		logger.MaskPhone("dialed_number", dialed),
	)
	return nil
}

func wsHost(host string) string {
	return strings.NewReplacer("https://", "wss://", "http://", "ws://").Replace(host)
}
