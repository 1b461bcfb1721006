package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/realtime"
	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/routing"
	"github.com/troikatech/voice-orchestrator/pkg/search"
)

type fakeModel struct {
	mu     sync.Mutex
	sent   []any
	events chan *realtime.ServerEvent
	closed bool
}

func newFakeModel() *fakeModel {
	return &fakeModel{events: make(chan *realtime.ServerEvent, 16)}
}

func (f *fakeModel) Send(ctx context.Context, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeModel) Recv(ctx context.Context) (*realtime.ServerEvent, error) {
	event, ok := <-f.events
	if !ok {
		return nil, io.EOF
	}
	return event, nil
}

func (f *fakeModel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeModel) sentMessages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) frameKinds(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	kinds := make([]string, 0, len(f.frames))
	for _, raw := range f.frames {
		var frame struct {
			Kind string `json:"Kind"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("undecodable transport frame %q: %v", raw, err)
		}
		kinds = append(kinds, frame.Kind)
	}
	return kinds
}

type searchFunc func(ctx context.Context, query string, cfg search.Config) (string, error)

func (f searchFunc) Search(ctx context.Context, query string, cfg search.Config) (string, error) {
	return f(ctx, query, cfg)
}

type smsCall struct {
	to       string
	messages []string
}

type fakeSMS struct {
	calls chan smsCall
}

func (f *fakeSMS) Send(ctx context.Context, to string, messages []string) error {
	f.calls <- smsCall{to: to, messages: messages}
	return nil
}

type testFixture struct {
	session   *Session
	model     *fakeModel
	transport *fakeTransport
	store     callstore.Store
	sms       *fakeSMS
}

func newTestSession(t *testing.T, searcher search.Searcher, callbackURL string) *testFixture {
	t.Helper()

	model := newFakeModel()
	transport := &fakeTransport{}
	store := callstore.NewMemory()
	smsSender := &fakeSMS{calls: make(chan smsCall, 1)}

	if searcher == nil {
		searcher = searchFunc(func(context.Context, string, search.Config) (string, error) {
			return "", nil
		})
	}

	s := New(Options{
		CallID:       "call-1",
		DialedNumber: "+1234567890",
		Voice:        "shimmer",
		CallbackURL:  callbackURL,
		Transport:    transport,
		Model:        model,
		Store:        store,
		Routes:       routing.NewTable(zap.NewNop()),
		Searcher:     searcher,
		SMS:          smsSender,
		Records:      (*callrecords.Store)(nil),
		Log:          zap.NewNop(),
	})
	s.settleDelay = time.Millisecond

	return &testFixture{session: s, model: model, transport: transport, store: store, sms: smsSender}
}

func TestSession_StartSendsConfigThenGreeting(t *testing.T) {
	fx := newTestSession(t, nil, "http://localhost/api/callbacks")
	close(fx.model.events)

	if err := fx.session.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sent := fx.model.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected 2 startup messages, got %d", len(sent))
	}

	update, ok := sent[0].(realtime.SessionUpdate)
	if !ok {
		t.Fatalf("first message is %T, want SessionUpdate", sent[0])
	}
	if update.Session.Voice != "shimmer" || update.Session.InputAudioFormat != "pcm16" {
		t.Errorf("unexpected session config %+v", update.Session)
	}
	if len(update.Session.Tools) != 4 {
		t.Errorf("expected 4 tools advertised, got %d", len(update.Session.Tools))
	}

	greeting, ok := sent[1].(realtime.ResponseCreate)
	if !ok {
		t.Fatalf("second message is %T, want ResponseCreate", sent[1])
	}
	if greeting.Response == nil || greeting.Response.Instructions == "" {
		t.Error("greeting carries no instructions")
	}
}

func TestSession_BargeInStopsAudioBeforeNextDelta(t *testing.T) {
	fx := newTestSession(t, nil, "http://localhost/api/callbacks")

	fx.model.events <- &realtime.ServerEvent{Type: realtime.EventAudioDelta, Delta: "YQ=="}
	fx.model.events <- &realtime.ServerEvent{Type: realtime.EventSpeechStarted, AudioStartMs: 1200}
	fx.model.events <- &realtime.ServerEvent{Type: realtime.EventAudioDelta, Delta: "Yg=="}
	close(fx.model.events)

	fx.session.receiveLoop(context.Background())

	kinds := fx.transport.frameKinds(t)
	want := []string{kindAudioData, kindStopAudio, kindAudioData}
	if len(kinds) != len(want) {
		t.Fatalf("got frames %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("frame %d = %q, want %q (all: %v)", i, kinds[i], want[i], kinds)
		}
	}

	// The stop frame keeps AudioData as an explicit null.
	var stop map[string]json.RawMessage
	if err := json.Unmarshal(fx.transport.frames[1], &stop); err != nil {
		t.Fatal(err)
	}
	if string(stop["AudioData"]) != "null" {
		t.Errorf("StopAudio frame AudioData = %s, want null", stop["AudioData"])
	}
	if string(stop["StopAudio"]) != "{}" {
		t.Errorf("StopAudio frame StopAudio = %s, want {}", stop["StopAudio"])
	}
}

func TestSession_HandleTransportMessage(t *testing.T) {
	fx := newTestSession(t, nil, "http://localhost/api/callbacks")
	ctx := context.Background()

	if err := fx.session.HandleTransportMessage(ctx,
		[]byte(`{"kind":"AudioData","audioData":{"data":"YQ=="}}`)); err != nil {
		t.Fatalf("HandleTransportMessage() error = %v", err)
	}
	if err := fx.session.HandleTransportMessage(ctx,
		[]byte(`{"kind":"DtmfData"}`)); err != nil {
		t.Fatalf("non-audio frame should be ignored, got %v", err)
	}

	sent := fx.model.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 relayed message, got %d", len(sent))
	}
	appendMsg, ok := sent[0].(realtime.InputAudioBufferAppend)
	if !ok || appendMsg.Audio != "YQ==" {
		t.Errorf("got %#v", sent[0])
	}
}

func TestSession_SearchNoResult(t *testing.T) {
	searcher := searchFunc(func(context.Context, string, search.Config) (string, error) {
		return "", nil
	})
	fx := newTestSession(t, searcher, "http://localhost/api/callbacks")

	fx.session.dispatchTool(context.Background(), &realtime.ServerEvent{
		Type:      realtime.EventFunctionArgumentsDone,
		Name:      realtime.ToolSearch,
		CallID:    "inv-1",
		Arguments: `{"query":"opening hours"}`,
	})

	sent := fx.model.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected only the function output, got %d messages", len(sent))
	}
	item, ok := sent[0].(realtime.ConversationItemCreate)
	if !ok {
		t.Fatalf("got %T, want ConversationItemCreate", sent[0])
	}
	if item.Item.CallID != "inv-1" || item.Item.Output != searchNotFoundOutput {
		t.Errorf("got output %+v", item.Item)
	}
}

func TestSession_SearchErrorNeverKillsSession(t *testing.T) {
	searcher := searchFunc(func(context.Context, string, search.Config) (string, error) {
		return "", errors.New("index unreachable")
	})
	fx := newTestSession(t, searcher, "http://localhost/api/callbacks")

	fx.model.events <- &realtime.ServerEvent{
		Type:      realtime.EventFunctionArgumentsDone,
		Name:      realtime.ToolSearch,
		CallID:    "inv-1",
		Arguments: `{"query":"opening hours"}`,
	}
	fx.model.events <- &realtime.ServerEvent{Type: realtime.EventAudioDelta, Delta: "YQ=="}
	close(fx.model.events)

	fx.session.receiveLoop(context.Background())

	sent := fx.model.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	item := sent[0].(realtime.ConversationItemCreate)
	if item.Item.Output != searchErrorOutput {
		t.Errorf("got output %q", item.Item.Output)
	}

	// The loop kept going: the delta after the failed tool still relayed.
	kinds := fx.transport.frameKinds(t)
	if len(kinds) != 1 || kinds[0] != kindAudioData {
		t.Errorf("audio after failed tool not relayed, frames %v", kinds)
	}
}

func TestSession_SearchHitTriggersSpokenAnswer(t *testing.T) {
	searcher := searchFunc(func(_ context.Context, query string, cfg search.Config) (string, error) {
		if cfg.Index != "dummy-index" {
			return "", errors.New("wrong index")
		}
		return "We open at 9am.", nil
	})
	fx := newTestSession(t, searcher, "http://localhost/api/callbacks")

	fx.session.dispatchTool(context.Background(), &realtime.ServerEvent{
		Type:      realtime.EventFunctionArgumentsDone,
		Name:      realtime.ToolSearch,
		CallID:    "inv-1",
		Arguments: `{"query":"opening hours"}`,
	})

	sent := fx.model.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected function output plus response.create, got %d", len(sent))
	}
	item := sent[0].(realtime.ConversationItemCreate)
	if item.Item.Output != "We open at 9am." {
		t.Errorf("got output %q", item.Item.Output)
	}
	if _, ok := sent[1].(realtime.ResponseCreate); !ok {
		t.Errorf("second message is %T, want ResponseCreate", sent[1])
	}
}

func TestSession_SendSMSIsFireAndForget(t *testing.T) {
	fx := newTestSession(t, nil, "http://localhost/api/callbacks")
	ctx := context.Background()

	fx.store.Set(ctx, "call-1", map[string]any{"callerId": "+15550001111"})

	fx.session.dispatchTool(ctx, &realtime.ServerEvent{
		Type:      realtime.EventFunctionArgumentsDone,
		Name:      realtime.ToolSendSMS,
		CallID:    "inv-1",
		Arguments: `{"messages":["Your order is confirmed."]}`,
	})

	// Only the spoken announcement goes to the model, never a function
	// output that would stall it.
	sent := fx.model.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if _, ok := sent[0].(realtime.ResponseCreate); !ok {
		t.Errorf("got %T, want ResponseCreate announcement", sent[0])
	}

	select {
	case call := <-fx.sms.calls:
		if call.to != "+15550001111" || len(call.messages) != 1 {
			t.Errorf("unexpected sms call %+v", call)
		}
	case <-time.After(time.Second):
		t.Fatal("sms was never sent")
	}
}

func TestSession_TransferPostsAgentBatch(t *testing.T) {
	received := make(chan []callbackEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var events []callbackEvent
		if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
			t.Errorf("bad callback body: %v", err)
		}
		if r.URL.Path != "/api/callbacks/call-1" {
			t.Errorf("callback path = %q", r.URL.Path)
		}
		received <- events
	}))
	defer server.Close()

	fx := newTestSession(t, nil, server.URL+"/api/callbacks")

	fx.session.dispatchTool(context.Background(), &realtime.ServerEvent{
		Type:   realtime.EventFunctionArgumentsDone,
		Name:   realtime.ToolTransferCall,
		CallID: "inv-1",
	})

	select {
	case events := <-received:
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if events[0].Type != "Microsoft.Communication.TransferCallToAgent" {
			t.Errorf("event type = %q", events[0].Type)
		}
		if events[0].Data["agentPhoneNumber"] != "+1234567890" {
			t.Errorf("agent number = %v", events[0].Data["agentPhoneNumber"])
		}
	case <-time.After(time.Second):
		t.Fatal("no callback batch posted")
	}
}

func TestSession_EndCallWithoutHandleIsNoOp(t *testing.T) {
	posted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
	}))
	defer server.Close()

	fx := newTestSession(t, nil, server.URL+"/api/callbacks")

	fx.session.dispatchTool(context.Background(), &realtime.ServerEvent{
		Type:   realtime.EventFunctionArgumentsDone,
		Name:   realtime.ToolEndCall,
		CallID: "inv-1",
	})

	if posted {
		t.Error("expected no callback post without a connection handle")
	}
	if len(fx.model.sentMessages()) != 0 {
		t.Error("expected no farewell without a connection handle")
	}
}

func TestSession_EndCallTerminatesAndCleansUp(t *testing.T) {
	received := make(chan []callbackEvent, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var events []callbackEvent
		json.NewDecoder(r.Body).Decode(&events)
		received <- events
	}))
	defer server.Close()

	fx := newTestSession(t, nil, server.URL+"/api/callbacks")
	ctx := context.Background()
	fx.store.Set(ctx, "call-1", map[string]any{"callConnectionId": "CC1"})

	fx.session.dispatchTool(ctx, &realtime.ServerEvent{
		Type:   realtime.EventFunctionArgumentsDone,
		Name:   realtime.ToolEndCall,
		CallID: "inv-1",
	})

	select {
	case events := <-received:
		if len(events) != 1 || events[0].Type != "Microsoft.Communication.TerminateCall" {
			t.Errorf("got events %+v", events)
		}
		if events[0].Data["callConnectionId"] != "CC1" {
			t.Errorf("connection id = %v", events[0].Data["callConnectionId"])
		}
	case <-time.After(time.Second):
		t.Fatal("no terminate batch posted")
	}

	if value, _ := fx.store.Get(ctx, "call-1"); value != nil {
		t.Errorf("expected store entry evicted, got %v", value)
	}
	if !fx.model.closed {
		t.Error("expected model leg closed")
	}
	if !fx.transport.closed {
		t.Error("expected transport leg closed")
	}
}
