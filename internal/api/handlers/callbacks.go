package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/internal/lifecycle"
	"github.com/troikatech/voice-orchestrator/pkg/errors"
)

// Callbacks receives the provider's per-call lifecycle webhook. The body is
// an ordered event batch; the lifecycle machine absorbs handler failures, so
// a decodable batch always acknowledges 200.
func (h *Handler) Callbacks(c *gin.Context) {
	contextID := c.Param("contextId")
	if contextID == "" {
		errors.BadRequest(c, "contextId parameter is required")
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errors.BadRequest(c, "unreadable request body")
		return
	}

	events, err := lifecycle.DecodeBatch(body)
	if err != nil {
		h.logger.Error("undecodable callback batch",
			zap.String("call_id", contextID), zap.Error(err))
		errors.BadRequest(c, "invalid callback batch")
		return
	}

	h.machine.ProcessBatch(c.Request.Context(), contextID, events)
	c.Status(http.StatusOK)
}
