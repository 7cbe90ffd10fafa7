package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventNamespaceCreated  = "namespace_created"
	EventNamespaceDeleted  = "namespace_deleted"
	EventMergeInitiated    = "merge_initiated"
	EventMergeCompleted    = "merge_completed"
	EventMergeFailed       = "merge_failed"
	EventFallbackInitiated = "fallback_initiated"
	EventFallbackCompleted = "fallback_completed"
	EventFallbackFailed    = "fallback_failed"
	EventLearningUpdate    = "learning_update"
	EventLessonCompleted   = "lesson_completed"
	EventQuizAttempt       = "quiz_attempt"
	EventAdapterReset      = "adapter_reset"
)

const (
	CreatedBySystem   = "system"
	CreatedByGuardian = "guardian"
	CreatedByAPI      = "api"
)

// EventLogEntry is the append-only audit and replay record. SequenceNumber
// is strictly increasing and gapless per namespace; entries are never
// mutated, only purged by retention cleanup.
type EventLogEntry struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	NamespaceID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_event_namespace_seq" json:"namespace_id"`
	LearnerID      string         `gorm:"size:128;not null;index" json:"learner_id"`
	EventType      string         `gorm:"size:64;not null;index" json:"event_type"`
	EventData      datatypes.JSON `gorm:"type:jsonb" json:"event_data,omitempty"`
	CheckpointHash *string        `gorm:"size:128" json:"checkpoint_hash,omitempty"`
	SequenceNumber int64          `gorm:"not null;uniqueIndex:idx_event_namespace_seq" json:"sequence_number"`
	CorrelationID  string         `gorm:"size:64" json:"correlation_id"`
	CreatedBy      string         `gorm:"size:32;not null" json:"created_by"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (EventLogEntry) TableName() string { return "event_log_entry" }

// ReplayableEventTypes are the event types the apply-learning-update
// operation recognizes during fallback recovery and adapter reset. All
// other types are skipped during replay.
var ReplayableEventTypes = []string{
	EventLearningUpdate,
	EventLessonCompleted,
	EventQuizAttempt,
}
