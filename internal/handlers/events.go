package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/veloria-ai/fmcore/internal/services"
	"github.com/veloria-ai/fmcore/internal/types"
)

type EventsHandler struct {
	events     services.EventLogService
	namespaces services.NamespaceService
}

func NewEventsHandler(events services.EventLogService, namespaces services.NamespaceService) *EventsHandler {
	return &EventsHandler{events: events, namespaces: namespaces}
}

type logEventRequest struct {
	LearnerID string         `json:"learner_id"`
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
}

// POST /api/events
func (h *EventsHandler) Log(c *gin.Context) {
	var req logEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	ns, err := h.namespaces.Get(c.Request.Context(), req.LearnerID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	entry, err := h.events.LogEvent(c.Request.Context(), nil, ns.ID, ns.LearnerID, req.EventType, req.EventData, nil, types.CreatedByAPI)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": entry})
}

// GET /api/events?learner_id=L1&event_type=learning_update&subject=math&limit=100
func (h *EventsHandler) List(c *gin.Context) {
	learnerID := c.Query("learner_id")
	if learnerID == "" {
		RespondError(c, http.StatusBadRequest, "missing_learner_id", nil)
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := h.events.ListEvents(c.Request.Context(), learnerID, c.Query("event_type"), c.Query("subject"), limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"events": entries})
}
