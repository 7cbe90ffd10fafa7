package repos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

type NamespaceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, ns *types.Namespace) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Namespace, error)
	GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) (*types.Namespace, error)
	List(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.Namespace, error)
	ListForMergeSweep(ctx context.Context, tx *gorm.DB, mergedBefore time.Time) ([]*types.Namespace, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error)
	NextEventSequence(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error)
	HardDelete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type namespaceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNamespaceRepo(db *gorm.DB, baseLog *logger.Logger) NamespaceRepo {
	return &namespaceRepo{
		db:  db,
		log: baseLog.With("repo", "NamespaceRepo"),
	}
}

func (r *namespaceRepo) Create(ctx context.Context, tx *gorm.DB, ns *types.Namespace) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ns == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(ns).Error
}

func (r *namespaceRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Namespace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var ns types.Namespace
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&ns).Error
	if err != nil {
		return nil, err
	}
	if ns.ID == uuid.Nil {
		return nil, nil
	}
	return &ns, nil
}

func (r *namespaceRepo) GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) (*types.Namespace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if learnerID == "" {
		return nil, nil
	}
	var ns types.Namespace
	err := transaction.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Limit(1).
		Find(&ns).Error
	if err != nil {
		return nil, err
	}
	if ns.ID == uuid.Nil {
		return nil, nil
	}
	return &ns, nil
}

func (r *namespaceRepo) List(ctx context.Context, tx *gorm.DB, statuses []string) ([]*types.Namespace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Namespace
	q := transaction.WithContext(ctx).Order("created_at ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *namespaceRepo) ListForMergeSweep(ctx context.Context, tx *gorm.DB, mergedBefore time.Time) ([]*types.Namespace, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Namespace
	err := transaction.WithContext(ctx).
		Where("status = ?", types.NamespaceStatusActive).
		Where("last_merge_at IS NULL OR last_merge_at < ?", mergedBefore).
		Order("last_merge_at ASC NULLS FIRST").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *namespaceRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Namespace{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionStatus is the conditional update used as the mutual-exclusion
// primitive for lifecycle transitions: the write only lands when the row is
// still in one of the expected source states. Returns false when the guard
// rejected the transition.
func (r *namespaceRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, extra map[string]interface{}) (bool, error) {
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
		Model(&types.Namespace{}).
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

// NextEventSequence atomically increments and returns the per-namespace
// event counter. The increment is a single UPDATE so concurrent writers
// serialize on the row instead of racing a read-then-write.
func (r *namespaceRepo) NextEventSequence(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return 0, fmt.Errorf("missing namespace id")
	}
	var seq int64
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		res := txx.Model(&types.Namespace{}).
			Where("id = ?", id).
			Update("event_seq", gorm.Expr("event_seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("namespace not found")
		}
		return txx.Model(&types.Namespace{}).
			Where("id = ?", id).
			Pluck("event_seq", &seq).Error
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *namespaceRepo) HardDelete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Namespace{}).Error
}

func (r *namespaceRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
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
		Model(&types.Namespace{}).
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
