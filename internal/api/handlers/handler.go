// Package handlers wires the HTTP and WebSocket surface: the provider's
// incoming-call webhook, per-call lifecycle callbacks, the media streaming
// socket and operational endpoints.
package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/lifecycle"
	"github.com/troikatech/voice-orchestrator/internal/session"
	"github.com/troikatech/voice-orchestrator/pkg/callrecords"
	"github.com/troikatech/voice-orchestrator/pkg/callstore"
	"github.com/troikatech/voice-orchestrator/pkg/env"
	"github.com/troikatech/voice-orchestrator/pkg/logger"
	"github.com/troikatech/voice-orchestrator/pkg/routing"
	"github.com/troikatech/voice-orchestrator/pkg/search"
	"github.com/troikatech/voice-orchestrator/pkg/sms"
	"github.com/troikatech/voice-orchestrator/pkg/telephony"
)

// ModelDialer opens the model-side leg for a new session. Injected so tests
// run without a live model service.
type ModelDialer func(ctx context.Context) (session.ModelConn, error)

type Handler struct {
	cfg       *env.Config
	store     callstore.Store
	provider  telephony.CallAutomation
	machine   *lifecycle.Machine
	routes    *routing.Table
	searcher  search.Searcher
	smsSender sms.Sender
	records   callrecords.Recorder
	dialModel ModelDialer
	logger    *zap.Logger
}

func NewHandler(
	cfg *env.Config,
	store callstore.Store,
	provider telephony.CallAutomation,
	machine *lifecycle.Machine,
	routes *routing.Table,
	searcher search.Searcher,
	smsSender sms.Sender,
	records callrecords.Recorder,
	dialModel ModelDialer,
) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		provider:  provider,
		machine:   machine,
		routes:    routes,
		searcher:  searcher,
		smsSender: smsSender,
		records:   records,
		dialModel: dialModel,
		logger:    logger.Log,
	}
}
