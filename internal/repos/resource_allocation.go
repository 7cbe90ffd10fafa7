package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

type ResourceAllocationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, alloc *types.ResourceAllocation) error
	GetByNamespaceID(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (*types.ResourceAllocation, error)
	MarkReleased(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) error
	Delete(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) error
}

type resourceAllocationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResourceAllocationRepo(db *gorm.DB, baseLog *logger.Logger) ResourceAllocationRepo {
	return &resourceAllocationRepo{
		db:  db,
		log: baseLog.With("repo", "ResourceAllocationRepo"),
	}
}

func (r *resourceAllocationRepo) Create(ctx context.Context, tx *gorm.DB, alloc *types.ResourceAllocation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if alloc == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(alloc).Error
}

func (r *resourceAllocationRepo) GetByNamespaceID(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (*types.ResourceAllocation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return nil, nil
	}
	var alloc types.ResourceAllocation
	err := transaction.WithContext(ctx).
		Where("namespace_id = ?", namespaceID).
		Limit(1).
		Find(&alloc).Error
	if err != nil {
		return nil, err
	}
	if alloc.ID == uuid.Nil {
		return nil, nil
	}
	return &alloc, nil
}

func (r *resourceAllocationRepo) MarkReleased(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.ResourceAllocation{}).
		Where("namespace_id = ? AND released_at IS NULL", namespaceID).
		Updates(map[string]interface{}{
			"released_at": now,
			"updated_at":  now,
		}).Error
}

func (r *resourceAllocationRepo) Delete(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("namespace_id = ?", namespaceID).
		Delete(&types.ResourceAllocation{}).Error
}
