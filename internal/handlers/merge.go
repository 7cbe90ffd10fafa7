package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veloria-ai/fmcore/internal/services"
)

type MergeHandler struct {
	merges   services.MergeService
	fallback services.FallbackService
}

func NewMergeHandler(merges services.MergeService, fallback services.FallbackService) *MergeHandler {
	return &MergeHandler{merges: merges, fallback: fallback}
}

type triggerMergeRequest struct {
	LearnerID       string `json:"learner_id"`
	OperationType   string `json:"operation_type"`
	TargetFMVersion string `json:"target_fm_version"`
	Force           bool   `json:"force"`
}

// POST /api/merges
func (h *MergeHandler) Trigger(c *gin.Context) {
	var req triggerMergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	op, err := h.merges.TriggerMerge(c.Request.Context(), req.LearnerID, req.OperationType, req.TargetFMVersion, req.Force)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"operation": op})
}

// GET /api/merges/:id
func (h *MergeHandler) Get(c *gin.Context) {
	opID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_operation_id", err)
		return
	}
	op, err := h.merges.GetOperation(c.Request.Context(), opID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"operation": op})
}

// GET /api/merges?learner_id=L1&status=pending,running&limit=20
func (h *MergeHandler) List(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	ops, err := h.merges.ListOperations(c.Request.Context(), c.Query("learner_id"), statuses, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"operations": ops})
}

// POST /api/merges/:id/cancel
func (h *MergeHandler) Cancel(c *gin.Context) {
	opID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_operation_id", err)
		return
	}
	op, err := h.merges.CancelOperation(c.Request.Context(), opID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"operation": op})
}

type initiateFallbackRequest struct {
	LearnerID       string `json:"learner_id"`
	Reason          string `json:"reason"`
	TargetFMVersion string `json:"target_fm_version"`
}

// POST /api/fallbacks
func (h *MergeHandler) InitiateFallback(c *gin.Context) {
	var req initiateFallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	op, err := h.fallback.InitiateFallback(c.Request.Context(), req.LearnerID, req.Reason, req.TargetFMVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"operation": op})
}
