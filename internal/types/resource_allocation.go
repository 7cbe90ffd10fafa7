package types

import (
	"time"

	"github.com/google/uuid"
)

// ResourceAllocation is the isolation side-store row backing a namespace:
// the quotas reserved at creation and released on guardian deletion.
type ResourceAllocation struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	NamespaceID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"namespace_id"`
	MemoryLimitMB   int        `gorm:"not null" json:"memory_limit_mb"`
	CPULimitMillis  int        `gorm:"not null" json:"cpu_limit_millis"`
	StorageLimitMB  int        `gorm:"not null" json:"storage_limit_mb"`
	NetworkIsolated bool       `gorm:"not null" json:"network_isolated"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (ResourceAllocation) TableName() string { return "resource_allocation" }
