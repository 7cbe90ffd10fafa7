package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

type MergeOperationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, op *types.MergeOperation) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MergeOperation, error)
	ListByNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, statuses []string, limit int) ([]*types.MergeOperation, error)
	HasActiveForNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error)
	PurgeTerminalBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type mergeOperationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMergeOperationRepo(db *gorm.DB, baseLog *logger.Logger) MergeOperationRepo {
	return &mergeOperationRepo{
		db:  db,
		log: baseLog.With("repo", "MergeOperationRepo"),
	}
}

func (r *mergeOperationRepo) Create(ctx context.Context, tx *gorm.DB, op *types.MergeOperation) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if op == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(op).Error
}

func (r *mergeOperationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.MergeOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var op types.MergeOperation
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == uuid.Nil {
		return nil, nil
	}
	return &op, nil
}

func (r *mergeOperationRepo) ListByNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, statuses []string, limit int) ([]*types.MergeOperation, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.MergeOperation
	q := transaction.WithContext(ctx).Order("created_at DESC")
	if namespaceID != uuid.Nil {
		q = q.Where("namespace_id = ?", namespaceID)
	}
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// HasActiveForNamespace reports whether a pending or running operation
// already exists, the guard behind merge exclusivity.
func (r *mergeOperationRepo) HasActiveForNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.MergeOperation{}).
		Where("namespace_id = ? AND status IN ?", namespaceID, []string{types.MergeStatusPending, types.MergeStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *mergeOperationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.MergeOperation{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *mergeOperationRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || to == "" {
		return false, nil
	}
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()
	q := transaction.WithContext(ctx).
		Model(&types.MergeOperation{}).
		Where("id = ?", id)
	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *mergeOperationRepo) PurgeTerminalBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("status IN ?", []string{types.MergeStatusCompleted, types.MergeStatusFailed, types.MergeStatusCancelled}).
		Where("updated_at < ?", cutoff).
		Delete(&types.MergeOperation{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *mergeOperationRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := transaction.WithContext(ctx).
		Model(&types.MergeOperation{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, rw := range rows {
		out[rw.Status] = rw.Count
	}
	return out, nil
}
