package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/session"
	"github.com/troikatech/voice-orchestrator/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The provider's media service connects from its own origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MediaStream upgrades the provider's media connection and runs the bridge
// session for that call until either leg closes.
func (h *Handler) MediaStream(c *gin.Context) {
	callID := c.Query("uuid")
	dialedNumber := c.Query("acsPhoneNumber")
	if callID == "" {
		errors.BadRequest(c, "uuid query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("media socket upgrade failed",
			zap.String("call_id", callID), zap.Error(err))
		return
	}

	ctx := c.Request.Context()

	model, err := h.dialModel(ctx)
	if err != nil {
		h.logger.Error("failed to connect model service",
			zap.String("call_id", callID), zap.Error(err))
		conn.Close()
		return
	}

	s := session.New(session.Options{
		CallID:       callID,
		DialedNumber: dialedNumber,
		Voice:        h.cfg.RealtimeVoice,
		CallbackURL:  h.cfg.CallbackHost + "/api/callbacks",
		Transport:    conn,
		Model:        model,
		Store:        h.store,
		Routes:       h.routes,
		Searcher:     h.searcher,
		SMS:          h.smsSender,
		Records:      h.records,
		Log:          h.logger,
	})
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		h.logger.Error("session start failed",
			zap.String("call_id", callID), zap.Error(err))
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.logger.Info("media socket closed",
				zap.String("call_id", callID), zap.Error(err))
			return
		}
		if err := s.HandleTransportMessage(ctx, data); err != nil {
			h.logger.Error("failed to relay media frame",
				zap.String("call_id", callID), zap.Error(err))
		}
	}
}
