package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	MergeStatusPending   = "pending"
	MergeStatusRunning   = "running"
	MergeStatusCompleted = "completed"
	MergeStatusFailed    = "failed"
	MergeStatusCancelled = "cancelled"
)

const (
	OperationTypeNightly  = "nightly"
	OperationTypeManual   = "manual"
	OperationTypeFallback = "fallback"
)

// MergeOperation is one merge or fallback attempt against a namespace. Rows
// in a terminal state are purged by the cleanup sweep after a retention
// window.
type MergeOperation struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	NamespaceID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_merge_op_namespace_status" json:"namespace_id"`
	Status               string         `gorm:"size:32;not null;index:idx_merge_op_namespace_status" json:"status"`
	OperationType        string         `gorm:"size:32;not null" json:"operation_type"`
	SourceCheckpointHash string         `gorm:"size:128" json:"source_checkpoint_hash"`
	TargetCheckpointHash string         `gorm:"size:128" json:"target_checkpoint_hash"`
	FMVersion            string         `gorm:"column:fm_version;size:64;not null" json:"fm_version"`
	ProgressPercent      int            `gorm:"not null" json:"progress_percent"`
	Stage                string         `gorm:"size:64" json:"stage"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	Attempts             int            `gorm:"not null" json:"attempts"`
	MergeStats           datatypes.JSON `gorm:"type:jsonb" json:"merge_stats,omitempty"`
	ScheduledAt          time.Time      `gorm:"not null" json:"scheduled_at"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	CreatedAt            time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`
}

func (MergeOperation) TableName() string { return "merge_operation" }

func IsTerminalMergeStatus(status string) bool {
	switch status {
	case MergeStatusCompleted, MergeStatusFailed, MergeStatusCancelled:
		return true
	}
	return false
}
