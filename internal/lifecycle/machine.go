package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/logger"
	"github.com/troikatech/voice-orchestrator/pkg/metrics"
	"github.com/troikatech/voice-orchestrator/pkg/retry"
	"github.com/troikatech/voice-orchestrator/pkg/telephony"
)

// Call states written into the store alongside the metadata.
const (
	StateRinging   = "ringing"
	StateConnected = "connected"
)

// TransferSettleDelay lets in-flight audio drain before the transfer is
// issued.
const TransferSettleDelay = 5 * time.Second

// Machine applies one callback batch at a time to a call's stored state and
// issues the resulting provider actions.
type Machine struct {
	store       callstore.Store
	provider    telephony.CallAutomation
	records     callrecords.Recorder
	callbackURL string // base, suffixed with /<callID> per call

	settleDelay time.Duration
	log         *zap.Logger
}

func NewMachine(
	store callstore.Store,
	provider telephony.CallAutomation,
	records callrecords.Recorder,
	callbackURL string,
	log *zap.Logger,
) *Machine {
	return &Machine{
		store:       store,
		provider:    provider,
		records:     records,
		callbackURL: callbackURL,
		settleDelay: TransferSettleDelay,
		log:         log,
	}
}

// ProcessBatch handles events sequentially in delivery order. A failing
// handler is logged and never prevents the remaining events from running.
func (m *Machine) ProcessBatch(ctx context.Context, callID string, events []Event) {
	for _, event := range events {
		err := m.handle(ctx, callID, event)
		metrics.RecordWebhookEvent(event.eventType(), err)
		if err != nil {
			m.log.Error("callback event handler failed",
				zap.String("call_id", callID),
				zap.String("event_type", event.eventType()),
				zap.Error(err),
			)
		}
	}
}

func (m *Machine) handle(ctx context.Context, callID string, event Event) error {
	switch ev := event.(type) {
	case CallConnected:
		return m.handleCallConnected(ctx, callID, ev)
	case MediaStreamingStarted:
		m.log.Info("media streaming started",
			zap.String("call_id", callID),
			zap.String("content_type", ev.ContentType),
			zap.String("status", ev.Status),
			zap.String("status_details", ev.StatusDetails),
		)
		return nil
	case MediaStreamingStopped:
		m.log.Info("media streaming stopped",
			zap.String("call_id", callID),
			zap.String("status", ev.Status),
			zap.String("status_details", ev.StatusDetails),
		)
		return nil
	case MediaStreamingFailed:
		m.log.Error("media streaming failed",
			zap.String("call_id", callID),
			zap.Int("code", ev.Code),
			zap.Int("sub_code", ev.SubCode),
			zap.String("message", ev.Message),
		)
		return nil
	case TerminateCall:
		return m.handleTerminate(ctx, callID)
	case TransferCallToAgent:
		return m.handleTransfer(ctx, callID, ev)
	case Unknown:
		m.log.Info("unhandled callback event type",
			zap.String("call_id", callID),
			zap.String("event_type", ev.Type),
		)
		return nil
	default:
		return fmt.Errorf("unreachable event variant %T", event)
	}
}

// handleCallConnected records the connection handle and correlation id for
// the call. Both are set together; their presence is what later allows
// hang-up and transfer actions.
func (m *Machine) handleCallConnected(ctx context.Context, callID string, ev CallConnected) error {
	err := m.store.Set(ctx, callID, map[string]any{
		"callConnectionId": ev.CallConnectionID,
		"correlationId":    ev.CorrelationID,
		"state":            StateConnected,
	})
	if err != nil {
		return fmt.Errorf("store connected metadata: %w", err)
	}

	m.records.CallConnected(ctx, callID, ev.CallConnectionID)
	m.log.Info("call connected",
		zap.String("call_id", callID),
		zap.String("call_connection_id", ev.CallConnectionID),
		zap.String("correlation_id", ev.CorrelationID),
	)
	return nil
}

// handleTerminate hangs up the call. The store entry is deleted whether or
// not the hang-up succeeds; a terminate with no recorded connection handle
// is a logged no-op that leaves the store untouched.
func (m *Machine) handleTerminate(ctx context.Context, callID string) error {
	connectionID, err := m.connectionHandle(ctx, callID)
	if err != nil {
		return err
	}
	if connectionID == "" {
		m.log.Error("terminate requested but no connection handle recorded",
			zap.String("call_id", callID))
		return nil
	}

	hangUpErr := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return m.provider.HangUp(ctx, connectionID)
	})
	metrics.RecordProviderCall("hang_up", hangUpErr)
	if hangUpErr != nil {
		m.log.Error("provider hang-up failed",
			zap.String("call_id", callID),
			zap.String("call_connection_id", connectionID),
			zap.Error(hangUpErr),
		)
	} else {
		m.log.Info("call terminated",
			zap.String("call_id", callID),
			zap.String("call_connection_id", connectionID),
		)
	}

	// Unconditional cleanup: the entry must not outlive the terminate.
	if err := m.store.Delete(ctx, callID); err != nil {
		m.log.Error("failed to evict call state",
			zap.String("call_id", callID), zap.Error(err))
	}
	m.records.CallEnded(ctx, callID, "terminated")

	return hangUpErr
}

// handleTransfer waits for queued audio to flush, then hands the call to the
// configured agent. Aborts when no connection handle has been recorded yet.
func (m *Machine) handleTransfer(ctx context.Context, callID string, ev TransferCallToAgent) error {
	connectionID, err := m.connectionHandle(ctx, callID)
	if err != nil {
		return err
	}
	if connectionID == "" {
		m.log.Error("transfer requested but no connection handle recorded",
			zap.String("call_id", callID))
		return nil
	}
	if ev.AgentNumber == "" {
		m.log.Error("transfer requested without agent number",
			zap.String("call_id", callID))
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.settleDelay):
	}

	transferErr := m.provider.Transfer(ctx, telephony.TransferRequest{
		CallConnectionID:     connectionID,
		TargetNumber:         ev.AgentNumber,
		SourceCallerIDNumber: ev.SourceNumber,
		OperationContext:     "TransferCallToAgent",
		OperationCallbackURL: fmt.Sprintf("%s/%s", m.callbackURL, callID),
	})
	metrics.RecordProviderCall("transfer", transferErr)
	if transferErr != nil {
		m.log.Error("provider transfer failed",
			zap.String("call_id", callID),
			logger.MaskPhone("agent_number", ev.AgentNumber),
			zap.Error(transferErr),
		)
		return transferErr
	}

	m.records.CallEnded(ctx, callID, "transferred")
	m.log.Info("call transfer initiated",
		zap.String("call_id", callID),
		zap.String("call_connection_id", connectionID),
		logger.MaskPhone("agent_number", ev.AgentNumber),
	)
	return nil
}

// connectionHandle reads the call's recorded connection id. Store misses and
// store unavailability both come back as "", so preconditions degrade to a
// logged no-op instead of a crash.
func (m *Machine) connectionHandle(ctx context.Context, callID string) (string, error) {
	value, err := m.store.Get(ctx, callID)
	if err != nil {
		m.log.Error("call state lookup failed",
			zap.String("call_id", callID), zap.Error(err))
		return "", nil
	}
	record, ok := value.(map[string]any)
	if !ok {
		return "", nil
	}
	connectionID, _ := record["callConnectionId"].(string)
	return connectionID, nil
}
