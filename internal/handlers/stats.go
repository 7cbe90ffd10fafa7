package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/services"
)

type StatsHandler struct {
	stats services.StatsService
}

func NewStatsHandler(stats services.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GET /api/stats
func (h *StatsHandler) Snapshot(c *gin.Context) {
	snap, err := h.stats.Snapshot(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"stats": snap})
}
