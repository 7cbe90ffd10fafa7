package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veloria-ai/fmcore/internal/services"
)

type ResetHandler struct {
	resets services.ResetService
}

func NewResetHandler(resets services.ResetService) *ResetHandler {
	return &ResetHandler{resets: resets}
}

type requestResetRequest struct {
	LearnerID     string `json:"learner_id"`
	Subject       string `json:"subject"`
	Reason        string `json:"reason"`
	RequestedBy   string `json:"requested_by"`
	RequesterRole string `json:"requester_role"`
}

// POST /api/resets
func (h *ResetHandler) Request(c *gin.Context) {
	var req requestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	r, err := h.resets.RequestReset(c.Request.Context(), req.LearnerID, req.Subject, req.Reason, req.RequestedBy, req.RequesterRole)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request": r})
}

// GET /api/resets/:id
func (h *ResetHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_id", err)
		return
	}
	r, err := h.resets.GetRequest(c.Request.Context(), id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"request": r})
}

// GET /api/resets?learner_id=L1&limit=20
func (h *ResetHandler) List(c *gin.Context) {
	learnerID := c.Query("learner_id")
	if learnerID == "" {
		RespondError(c, http.StatusBadRequest, "missing_learner_id", nil)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	rs, err := h.resets.ListRequests(c.Request.Context(), learnerID, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"requests": rs})
}

type approvalDecisionRequest struct {
	ApprovalRequestID string `json:"approval_request_id"`
	Decision          string `json:"decision"`
	DecidedBy         string `json:"decided_by"`
	Reason            string `json:"reason"`
}

// POST /api/resets/approval-decision
// Callback endpoint for the external approval system.
func (h *ResetHandler) ApprovalDecision(c *gin.Context) {
	var req approvalDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	r, err := h.resets.HandleApprovalDecision(c.Request.Context(), req.ApprovalRequestID, req.Decision, req.DecidedBy, req.Reason)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"request": r})
}
