package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/telephony"
)

type fakeProvider struct {
	hangUps     []string
	transfers   []telephony.TransferRequest
	hangUpErr   error
	transferErr error
}

func (f *fakeProvider) AnswerCall(ctx context.Context, req telephony.AnswerCallRequest) (*telephony.AnswerCallResponse, error) {
	return &telephony.AnswerCallResponse{CallConnectionID: "CC1"}, nil
}

func (f *fakeProvider) HangUp(ctx context.Context, callConnectionID string) error {
	f.hangUps = append(f.hangUps, callConnectionID)
	return f.hangUpErr
}

func (f *fakeProvider) Transfer(ctx context.Context, req telephony.TransferRequest) error {
	f.transfers = append(f.transfers, req)
	return f.transferErr
}

func newTestMachine(store callstore.Store, provider telephony.CallAutomation) *Machine {
	m := NewMachine(store, provider, (*callrecords.Store)(nil), "https://host/api/callbacks", zap.NewNop())
	m.settleDelay = time.Millisecond
	return m
}

func TestMachine_CallConnectedMergesMetadata(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{}
	machine := newTestMachine(store, provider)

	// Entry seeded at answer time, as the incoming-call handler does.
	store.Set(ctx, "call-1", map[string]any{
		"callerId":  "+15550001111",
		"acsNumber": "+1234567890",
		"state":     StateRinging,
	})

	machine.ProcessBatch(ctx, "call-1", []Event{
		CallConnected{CallConnectionID: "CC1", CorrelationID: "COR1"},
	})

	value, _ := store.Get(ctx, "call-1")
	record := value.(map[string]any)
	want := map[string]any{
		"callerId":         "+15550001111",
		"acsNumber":        "+1234567890",
		"callConnectionId": "CC1",
		"correlationId":    "COR1",
		"state":            StateConnected,
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("field %q = %v, want %v", k, record[k], v)
		}
	}
}

func TestMachine_TerminateDeletesEntryEvenWhenHangUpFails(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{hangUpErr: errors.New("provider down")}
	machine := newTestMachine(store, provider)

	machine.ProcessBatch(ctx, "call-1", []Event{
		CallConnected{CallConnectionID: "CC1", CorrelationID: "COR1"},
		TerminateCall{CallConnectionID: "CC1"},
	})

	if len(provider.hangUps) == 0 {
		t.Fatal("expected hang-up to be attempted")
	}
	value, _ := store.Get(ctx, "call-1")
	if value != nil {
		t.Errorf("expected entry deleted after terminate, got %v", value)
	}
}

func TestMachine_TerminateWithoutConnectIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{}
	machine := newTestMachine(store, provider)

	machine.ProcessBatch(ctx, "call-1", []Event{TerminateCall{}})

	if len(provider.hangUps) != 0 {
		t.Errorf("expected no provider action, got %v", provider.hangUps)
	}
	size, _ := store.Size(ctx)
	if size != 0 {
		t.Errorf("expected store untouched, size = %d", size)
	}
}

func TestMachine_TransferUsesRecordedHandleAndScopedCallback(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{}
	machine := newTestMachine(store, provider)

	machine.ProcessBatch(ctx, "call-1", []Event{
		CallConnected{CallConnectionID: "CC1", CorrelationID: "COR1"},
		TransferCallToAgent{AgentNumber: "+1234567890", SourceNumber: "+1098765432"},
	})

	if len(provider.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(provider.transfers))
	}
	req := provider.transfers[0]
	if req.CallConnectionID != "CC1" {
		t.Errorf("transfer used handle %q", req.CallConnectionID)
	}
	if req.TargetNumber != "+1234567890" || req.SourceCallerIDNumber != "+1098765432" {
		t.Errorf("unexpected transfer request %+v", req)
	}
	if req.OperationCallbackURL != "https://host/api/callbacks/call-1" {
		t.Errorf("callback URL not scoped to call: %q", req.OperationCallbackURL)
	}
}

func TestMachine_TransferWithoutConnectAborts(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{}
	machine := newTestMachine(store, provider)

	machine.ProcessBatch(ctx, "call-1", []Event{
		TransferCallToAgent{AgentNumber: "+1234567890"},
	})

	if len(provider.transfers) != 0 {
		t.Errorf("expected no transfer, got %v", provider.transfers)
	}
}

func TestMachine_BatchSurvivesFailingEvent(t *testing.T) {
	ctx := context.Background()
	store := callstore.NewMemory()
	provider := &fakeProvider{transferErr: errors.New("transfer failed")}
	machine := newTestMachine(store, provider)

	// The failing transfer must not prevent the later terminate.
	machine.ProcessBatch(ctx, "call-1", []Event{
		CallConnected{CallConnectionID: "CC1", CorrelationID: "COR1"},
		TransferCallToAgent{AgentNumber: "+1234567890"},
		Unknown{Type: "Microsoft.Communication.SomethingNew"},
		TerminateCall{CallConnectionID: "CC1"},
	})

	if len(provider.hangUps) == 0 {
		t.Error("terminate should still run after earlier failures")
	}
	value, _ := store.Get(ctx, "call-1")
	if value != nil {
		t.Errorf("expected entry deleted, got %v", value)
	}
}
