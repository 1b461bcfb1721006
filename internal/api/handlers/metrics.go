package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/troikatech/voice-orchestrator/pkg/metrics"
)

func (h *Handler) GetMetrics(c *gin.Context) {
	snap := metrics.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"active_sessions": snap.ActiveSessions,
		"total_sessions":  snap.TotalSessions,
		"webhook_events":  snap.WebhookEvents,
		"webhook_errors":  snap.WebhookErrors,
		"tool_calls":      snap.ToolCalls,
		"tool_errors":     snap.ToolErrors,
		"provider_calls":  snap.ProviderCalls,
		"provider_errors": snap.ProviderErrors,
		"uptime_seconds":  int64(time.Since(snap.StartTime).Seconds()),
	})
}
