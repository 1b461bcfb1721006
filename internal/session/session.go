// Package session bridges one live call between the telephony media socket
// and the streaming voice model: audio relays both ways, the model's speech
// is interrupted when the caller starts talking, and model tool invocations
// are dispatched against the call's collaborators.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/realtime"
	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/metrics"
	"github.com/troikatech/voice-orchestrator/pkg/routing"
	"github.com/troikatech/voice-orchestrator/pkg/search"
	"github.com/troikatech/voice-orchestrator/pkg/sms"
)

// toolSettleDelay lets a spoken announcement play out before the action it
// announced is taken.
const toolSettleDelay = 4 * time.Second

// ModelConn is the model-side leg. *realtime.Client satisfies it; tests
// substitute a fake.
type ModelConn interface {
	Send(ctx context.Context, message any) error
	Recv(ctx context.Context) (*realtime.ServerEvent, error)
	Close() error
}

// Transport is the telephony-side leg of the bridge.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options carries everything a Session needs; the media handler fills it in
// per upgraded connection.
type Options struct {
	CallID       string
	DialedNumber string
	Voice        string
	CallbackURL  string // base, suffixed with /<CallID> for self-issued events

	Transport Transport
	Model     ModelConn
	Store     callstore.Store
	Routes    *routing.Table
	Searcher  search.Searcher
	SMS       sms.Sender
	Records   callrecords.Recorder

	Log *zap.Logger
}

type Session struct {
	callID       string
	dialedNumber string
	voice        string
	callbackURL  string

	transport Transport
	model     ModelConn
	store     callstore.Store
	routes    *routing.Table
	searcher  search.Searcher
	smsSender sms.Sender
	records   callrecords.Recorder

	httpClient  *http.Client
	settleDelay time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	log       *zap.Logger
}

func New(opts Options) *Session {
	return &Session{
		callID:       opts.CallID,
		dialedNumber: opts.DialedNumber,
		voice:        opts.Voice,
		callbackURL:  opts.CallbackURL,
		transport:    opts.Transport,
		model:        opts.Model,
		store:        opts.Store,
		routes:       opts.Routes,
		searcher:     opts.Searcher,
		smsSender:    opts.SMS,
		records:      opts.Records,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		settleDelay:  toolSettleDelay,
		log:          opts.Log,
	}
}

// Start configures the model session, asks it to greet the caller and
// launches the model receive loop. Transport frames are fed in separately
// via HandleTransportMessage.
func (s *Session) Start(ctx context.Context) error {
	blurb := s.routes.Blurb(s.dialedNumber)

	update := realtime.SessionUpdate{
		Type: "session.update",
		Session: realtime.SessionConfig{
			Voice:            s.voice,
			Instructions:     systemInstructions(blurb),
			InputAudioFormat: "pcm16",
			InputAudioTranscription: &realtime.Transcription{
				Model: "whisper-1",
			},
			TurnDetection: &realtime.TurnDetection{
				Type:              "server_vad",
				Threshold:         0.6,
				SilenceDurationMs: 300,
				PrefixPaddingMs:   200,
			},
			Tools: realtime.Tools(),
		},
	}
	if err := s.model.Send(ctx, update); err != nil {
		return fmt.Errorf("send session config: %w", err)
	}

	greeting := fmt.Sprintf(
		"Greet the caller warmly as the %s assistant and ask how you can help.", blurb)
	if err := s.model.Send(ctx, realtime.NewResponseWithInstructions(greeting)); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	metrics.SessionStarted()
	s.log.Info("session started",
		zap.String("call_id", s.callID),
		zap.String("blurb", blurb),
	)

	go s.receiveLoop(ctx)
	return nil
}

func systemInstructions(blurb string) string {
	return fmt.Sprintf("You are a friendly phone assistant for %s. "+
		"Keep answers short and conversational, one or two sentences, suitable for speech. "+
		"Always use the search tool before answering a factual question. "+
		"If the caller asks for a human, use the transfer_call tool. "+
		"When the caller says they are done, confirm and use the end_call tool.", blurb)
}

// HandleTransportMessage relays one inbound media frame to the model. Frames
// other than AudioData are ignored.
func (s *Session) HandleTransportMessage(ctx context.Context, data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("failed to decode transport frame: %w", err)
	}
	if frame.Kind != kindAudioData || frame.AudioData == nil {
		return nil
	}
	return s.model.Send(ctx, realtime.AppendAudio(frame.AudioData.Data))
}

// receiveLoop drains model events until the leg closes or the context is
// cancelled. All outbound transport writes happen here, so barge-in StopAudio
// frames are ordered before any later audio delta.
func (s *Session) receiveLoop(ctx context.Context) {
	defer func() {
		metrics.SessionEnded()
		s.Close()
	}()

	for {
		event, err := s.model.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || isConnClosed(err) {
				s.log.Info("model leg closed",
					zap.String("call_id", s.callID), zap.Error(err))
				return
			}
			s.log.Error("model event decode failed",
				zap.String("call_id", s.callID), zap.Error(err))
			continue
		}
		s.handleModelEvent(ctx, event)
	}
}

func isConnClosed(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (s *Session) handleModelEvent(ctx context.Context, event *realtime.ServerEvent) {
	switch event.Type {
	case realtime.EventSessionCreated:
		sessionID := ""
		if event.Session != nil {
			sessionID = event.Session.ID
		}
		s.log.Info("model session created",
			zap.String("call_id", s.callID),
			zap.String("session_id", sessionID),
		)

	case realtime.EventAudioDelta:
		frame, err := audioFrame(event.Delta)
		if err != nil {
			s.log.Error("failed to encode audio frame", zap.Error(err))
			return
		}
		s.sendTransport(frame)

	case realtime.EventSpeechStarted:
		// Caller barge-in: cut the model's queued audio before relaying
		// anything further.
		frame, err := stopAudioFrame()
		if err != nil {
			s.log.Error("failed to encode stop frame", zap.Error(err))
			return
		}
		s.sendTransport(frame)
		s.log.Info("caller barge-in",
			zap.String("call_id", s.callID),
			zap.Int64("audio_start_ms", event.AudioStartMs),
		)

	case realtime.EventInputTranscriptDone:
		s.log.Info("caller transcript",
			zap.String("call_id", s.callID),
			zap.String("transcript", event.Transcript),
		)
		s.records.TranscriptLine(ctx, s.callID, "caller", event.Transcript)

	case realtime.EventInputTranscriptFailed:
		s.log.Error("caller transcription failed", zap.String("call_id", s.callID))

	case realtime.EventResponseTranscriptDone:
		s.log.Info("assistant transcript",
			zap.String("call_id", s.callID),
			zap.String("transcript", event.Transcript),
		)
		s.records.TranscriptLine(ctx, s.callID, "assistant", event.Transcript)

	case realtime.EventResponseDone:
		s.log.Debug("model response done", zap.String("call_id", s.callID))

	case realtime.EventFunctionArgumentsDone:
		s.dispatchTool(ctx, event)

	case realtime.EventError:
		if event.Error != nil {
			s.log.Error("model error event",
				zap.String("call_id", s.callID),
				zap.String("error_type", event.Error.Type),
				zap.String("code", event.Error.Code),
				zap.String("message", event.Error.Message),
			)
		}

	default:
		s.log.Debug("unhandled model event",
			zap.String("call_id", s.callID),
			zap.String("event_type", event.Type),
		)
	}
}

// sendTransport writes one frame to the media socket. Write failures are
// logged and swallowed; the session ends when the read side notices the
// connection is gone.
func (s *Session) sendTransport(frame []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.transport.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.log.Error("transport write failed",
			zap.String("call_id", s.callID), zap.Error(err))
	}
}

// Close tears down both legs. Safe to call from any goroutine, any number of
// times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.model.Close(); err != nil {
			s.log.Debug("model close", zap.Error(err))
		}
		if err := s.transport.Close(); err != nil {
			s.log.Debug("transport close", zap.Error(err))
		}
		s.log.Info("session closed", zap.String("call_id", s.callID))
	})
}
