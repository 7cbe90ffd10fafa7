package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/services"
)

type NamespaceHandler struct {
	namespaces services.NamespaceService
	health     services.HealthService
}

func NewNamespaceHandler(namespaces services.NamespaceService, health services.HealthService) *NamespaceHandler {
	return &NamespaceHandler{namespaces: namespaces, health: health}
}

type createNamespaceRequest struct {
	LearnerID       string         `json:"learner_id"`
	Subjects        []string       `json:"subjects"`
	BaseFMVersion   string         `json:"base_fm_version"`
	IsolationConfig map[string]any `json:"isolation_config"`
	MergeConfig     map[string]any `json:"merge_config"`
}

// POST /api/namespaces
func (h *NamespaceHandler) Create(c *gin.Context) {
	var req createNamespaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	ns, err := h.namespaces.Create(c.Request.Context(), req.LearnerID, req.Subjects, req.BaseFMVersion, req.IsolationConfig, req.MergeConfig)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"namespace": ns})
}

// GET /api/namespaces/:learner_id
func (h *NamespaceHandler) Get(c *gin.Context) {
	ns, err := h.namespaces.Get(c.Request.Context(), c.Param("learner_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"namespace": ns})
}

// GET /api/namespaces?status=active,merging
func (h *NamespaceHandler) List(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	namespaces, err := h.namespaces.List(c.Request.Context(), statuses)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"namespaces": namespaces})
}

// DELETE /api/namespaces/:learner_id
func (h *NamespaceHandler) Delete(c *gin.Context) {
	token := c.GetHeader("X-Guardian-Token")
	if err := h.namespaces.Delete(c.Request.Context(), c.Param("learner_id"), token); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

// GET /api/namespaces/:learner_id/health
func (h *NamespaceHandler) Health(c *gin.Context) {
	report, err := h.health.CheckHealth(c.Request.Context(), c.Param("learner_id"))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"health": report})
}
