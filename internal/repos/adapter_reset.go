package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

type AdapterResetRepo interface {
	Create(ctx context.Context, tx *gorm.DB, req *types.AdapterResetRequest) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AdapterResetRequest, error)
	GetByApprovalID(ctx context.Context, tx *gorm.DB, approvalID string) (*types.AdapterResetRequest, error)
	HasNonTerminal(ctx context.Context, tx *gorm.DB, learnerID string, subject string) (bool, error)
	ListByLearner(ctx context.Context, tx *gorm.DB, learnerID string, limit int) ([]*types.AdapterResetRequest, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type adapterResetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAdapterResetRepo(db *gorm.DB, baseLog *logger.Logger) AdapterResetRepo {
	return &adapterResetRepo{
		db:  db,
		log: baseLog.With("repo", "AdapterResetRepo"),
	}
}

func (r *adapterResetRepo) Create(ctx context.Context, tx *gorm.DB, req *types.AdapterResetRequest) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if req == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(req).Error
}

func (r *adapterResetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.AdapterResetRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var req types.AdapterResetRequest
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}

func (r *adapterResetRepo) GetByApprovalID(ctx context.Context, tx *gorm.DB, approvalID string) (*types.AdapterResetRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if approvalID == "" {
		return nil, nil
	}
	var req types.AdapterResetRequest
	err := transaction.WithContext(ctx).
		Where("approval_request_id = ?", approvalID).
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}

func (r *adapterResetRepo) HasNonTerminal(ctx context.Context, tx *gorm.DB, learnerID string, subject string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if learnerID == "" || subject == "" {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.AdapterResetRequest{}).
		Where("learner_id = ? AND subject = ? AND status IN ?", learnerID, subject, types.NonTerminalResetStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *adapterResetRepo) ListByLearner(ctx context.Context, tx *gorm.DB, learnerID string, limit int) ([]*types.AdapterResetRequest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if learnerID == "" {
		return nil, nil
	}
	var out []*types.AdapterResetRequest
	q := transaction.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *adapterResetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.AdapterResetRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *adapterResetRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error) {
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
		Model(&types.AdapterResetRequest{}).
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

func (r *adapterResetRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
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
		Model(&types.AdapterResetRequest{}).
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
