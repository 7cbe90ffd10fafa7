package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResetStatusPendingApproval = "pending_approval"
	ResetStatusApproved        = "approved"
	ResetStatusRejected        = "rejected"
	ResetStatusExecuting       = "executing"
	ResetStatusCompleted       = "completed"
	ResetStatusFailed          = "failed"
)

const (
	RoleGuardian = "guardian"
	RoleTeacher  = "teacher"
)

// AdapterResetRequest tracks a subject-scoped adapter wipe and re-derive.
// At most one non-terminal request may exist per (learner, subject) pair.
type AdapterResetRequest struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	NamespaceID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"namespace_id"`
	LearnerID         string     `gorm:"size:128;not null;index:idx_reset_learner_subject" json:"learner_id"`
	Subject           string     `gorm:"size:64;not null;index:idx_reset_learner_subject" json:"subject"`
	Status            string     `gorm:"size:32;not null" json:"status"`
	RequestedBy       string     `gorm:"size:128;not null" json:"requested_by"`
	RequesterRole     string     `gorm:"size:32;not null" json:"requester_role"`
	Reason            string     `json:"reason"`
	ApprovalRequestID *string    `gorm:"size:64;index" json:"approval_request_id,omitempty"`
	DecidedBy         string     `gorm:"size:128" json:"decided_by,omitempty"`
	DecisionReason    string     `json:"decision_reason,omitempty"`
	ProgressPercent   int        `gorm:"not null" json:"progress_percent"`
	CurrentStage      string     `gorm:"size:64" json:"current_stage"`
	EventsReplayed    int        `gorm:"not null" json:"events_replayed"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

func (AdapterResetRequest) TableName() string { return "adapter_reset_request" }

func IsTerminalResetStatus(status string) bool {
	switch status {
	case ResetStatusRejected, ResetStatusCompleted, ResetStatusFailed:
		return true
	}
	return false
}

// NonTerminalResetStatuses is the exclusivity set for the one-request-per
// (learner, subject) invariant.
var NonTerminalResetStatuses = []string{
	ResetStatusPendingApproval,
	ResetStatusApproved,
	ResetStatusExecuting,
}
