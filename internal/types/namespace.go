package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	NamespaceStatusInitializing = "initializing"
	NamespaceStatusActive       = "active"
	NamespaceStatusMerging      = "merging"
	NamespaceStatusFallback     = "fallback"
	NamespaceStatusCorrupted    = "corrupted"
	NamespaceStatusDeleted      = "deleted"
)

// Namespace is the per-learner container of adapter state. There is exactly
// one row per learner; rows are soft-deleted by status, never removed.
type Namespace struct {
	ID                    uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID             string         `gorm:"size:128;not null;uniqueIndex" json:"learner_id"`
	NsUID                 string         `gorm:"column:ns_uid;size:64;not null;uniqueIndex" json:"ns_uid"`
	Status                string         `gorm:"size:32;not null;index:idx_namespace_status" json:"status"`
	Subjects              datatypes.JSON `gorm:"type:jsonb;not null" json:"subjects"`
	BaseFMVersion         string         `gorm:"column:base_fm_version;size:64;not null" json:"base_fm_version"`
	CurrentCheckpointHash string         `gorm:"size:128" json:"current_checkpoint_hash"`
	VersionCount          int            `gorm:"not null" json:"version_count"`
	EventSeq              int64          `gorm:"not null" json:"-"`
	LastMergeAt           *time.Time     `json:"last_merge_at,omitempty"`
	LastFallbackAt        *time.Time     `json:"last_fallback_at,omitempty"`
	IsolationConfig       datatypes.JSON `gorm:"type:jsonb" json:"isolation_config,omitempty"`
	MergeConfig           datatypes.JSON `gorm:"type:jsonb" json:"merge_config,omitempty"`
	CreatedAt             time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null" json:"updated_at"`
}

func (Namespace) TableName() string { return "namespace" }
