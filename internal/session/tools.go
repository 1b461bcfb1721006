package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/lifecycle"
	"github.com/troikatech/voice-orchestrator/internal/realtime"
	"github.com/troikatech/voice-orchestrator/pkg/metrics"
	"github.com/troikatech/voice-orchestrator/pkg/search"
)

// Spoken function outputs for the search tool.
const (
	searchNotFoundOutput = "I could not find an answer to that."
	searchErrorOutput    = "An error occurred while searching."
)

func (s *Session) dispatchTool(ctx context.Context, event *realtime.ServerEvent) {
	s.log.Info("tool invoked",
		zap.String("call_id", s.callID),
		zap.String("tool", event.Name),
	)

	var err error
	switch event.Name {
	case realtime.ToolSearch:
		err = s.toolSearch(ctx, event.CallID, event.Arguments)
	case realtime.ToolSendSMS:
		err = s.toolSendSMS(ctx, event.Arguments)
	case realtime.ToolTransferCall:
		err = s.toolTransferCall(ctx)
	case realtime.ToolEndCall:
		err = s.toolEndCall(ctx)
	default:
		s.log.Error("model invoked unknown tool",
			zap.String("call_id", s.callID),
			zap.String("tool", event.Name),
		)
		return
	}

	metrics.RecordToolCall(event.Name, err)
	if err != nil {
		s.log.Error("tool dispatch failed",
			zap.String("call_id", s.callID),
			zap.String("tool", event.Name),
			zap.Error(err),
		)
	}
}

// toolSearch answers from the line's knowledge base. Search failures become
// a spoken "error occurred" output; only a real hit triggers a follow-up
// response so the model never narrates an empty result.
func (s *Session) toolSearch(ctx context.Context, invocationID, rawArgs string) error {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		s.log.Error("bad search arguments",
			zap.String("call_id", s.callID), zap.Error(err))
		return s.model.Send(ctx, realtime.FunctionOutput(invocationID, searchErrorOutput))
	}

	kb := s.routes.KnowledgeBaseFor(s.dialedNumber)
	if kb == nil {
		return s.model.Send(ctx, realtime.FunctionOutput(invocationID, searchNotFoundOutput))
	}

	content, err := s.searcher.Search(ctx, args.Query, search.Config{
		Index:                 kb.Index,
		SemanticConfiguration: kb.SemanticConfiguration,
	})
	if err != nil {
		s.log.Error("knowledge base search failed",
			zap.String("call_id", s.callID), zap.Error(err))
		return s.model.Send(ctx, realtime.FunctionOutput(invocationID, searchErrorOutput))
	}
	if content == "" {
		return s.model.Send(ctx, realtime.FunctionOutput(invocationID, searchNotFoundOutput))
	}

	if err := s.model.Send(ctx, realtime.FunctionOutput(invocationID, content)); err != nil {
		return err
	}
	return s.model.Send(ctx, realtime.NewResponseWithInstructions(
		"Answer the caller's question concisely using the search result."))
}

// toolSendSMS announces the text, then delivers it in the background against
// the caller number recorded at answer time. No function output is produced;
// the announcement response keeps the conversation moving.
func (s *Session) toolSendSMS(ctx context.Context, rawArgs string) error {
	var args struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Errorf("bad send_sms arguments: %w", err)
	}
	if len(args.Messages) == 0 {
		return nil
	}

	if err := s.model.Send(ctx, realtime.NewResponseWithInstructions(
		"Tell the caller you are sending them a text message right now.")); err != nil {
		return err
	}

	caller := s.metadataField(ctx, "callerId")
	if caller == "" {
		return fmt.Errorf("no caller number recorded for call %s", s.callID)
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.smsSender.Send(sendCtx, caller, args.Messages); err != nil {
			s.log.Error("failed to send sms",
				zap.String("call_id", s.callID), zap.Error(err))
		}
	}()
	return nil
}

// toolTransferCall announces the hand-off, waits for the announcement to
// play, then routes a transfer event through the same callback path an
// external transfer takes.
func (s *Session) toolTransferCall(ctx context.Context) error {
	agent := s.routes.AgentNumber(s.dialedNumber)
	if agent == "" {
		return fmt.Errorf("no agent configured for dialed number")
	}

	if err := s.model.Send(ctx, realtime.NewResponseWithInstructions(
		"Tell the caller you are transferring them to a human agent now.")); err != nil {
		return err
	}
	if err := s.settle(ctx); err != nil {
		return err
	}

	return s.postCallbackEvents(ctx, []callbackEvent{{
		Type: lifecycle.TypeTransferCallToAgent,
		Data: map[string]any{
			"agentPhoneNumber": agent,
			"acsPhoneNumber":   s.dialedNumber,
		},
	}})
}

// toolEndCall says goodbye, lets the farewell play, then terminates via the
// callback path and evicts the call's state. Without a recorded connection
// handle there is nothing to hang up; the event is a logged no-op.
func (s *Session) toolEndCall(ctx context.Context) error {
	connectionID := s.metadataField(ctx, "callConnectionId")
	if connectionID == "" {
		s.log.Error("end_call requested but no connection handle recorded",
			zap.String("call_id", s.callID))
		return nil
	}

	if err := s.model.Send(ctx, realtime.NewResponseWithInstructions(
		"Thank the caller and say goodbye.")); err != nil {
		return err
	}
	if err := s.settle(ctx); err != nil {
		return err
	}

	if err := s.postCallbackEvents(ctx, []callbackEvent{{
		Type: lifecycle.TypeTerminateCall,
		Data: map[string]any{"callConnectionId": connectionID},
	}}); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, s.callID); err != nil {
		s.log.Error("failed to evict call state",
			zap.String("call_id", s.callID), zap.Error(err))
	}
	s.Close()
	return nil
}

func (s *Session) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleDelay):
		return nil
	}
}

// metadataField reads one string field from the call's store entry. Misses
// and store failures both come back as "".
func (s *Session) metadataField(ctx context.Context, key string) string {
	value, err := s.store.Get(ctx, s.callID)
	if err != nil {
		s.log.Error("call state lookup failed",
			zap.String("call_id", s.callID), zap.Error(err))
		return ""
	}
	record, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	field, _ := record[key].(string)
	return field
}

// callbackEvent mirrors the provider's webhook wire shape so self-issued
// events decode like external ones.
type callbackEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func (s *Session) postCallbackEvents(ctx context.Context, events []callbackEvent) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal callback events: %w", err)
	}

	url := fmt.Sprintf("%s/%s", s.callbackURL, s.callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post callback events: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("callback endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
