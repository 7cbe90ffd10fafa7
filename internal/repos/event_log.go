package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

type EventLogRepo interface {
	Append(ctx context.Context, tx *gorm.DB, entry *types.EventLogEntry) error
	ListByNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, eventType string, subject string, limit int) ([]*types.EventLogEntry, error)
	ListReplayable(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, subject string) ([]*types.EventLogEntry, error)
	CountReplayable(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (int64, error)
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type eventLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventLogRepo(db *gorm.DB, baseLog *logger.Logger) EventLogRepo {
	return &eventLogRepo{
		db:  db,
		log: baseLog.With("repo", "EventLogRepo"),
	}
}

func (r *eventLogRepo) Append(ctx context.Context, tx *gorm.DB, entry *types.EventLogEntry) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil
	}
	return transaction.WithContext(ctx).Create(entry).Error
}

func (r *eventLogRepo) ListByNamespace(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, eventType string, subject string, limit int) ([]*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return nil, nil
	}
	var out []*types.EventLogEntry
	q := transaction.WithContext(ctx).
		Where("namespace_id = ?", namespaceID).
		Order("sequence_number ASC")
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if subject != "" {
		q = q.Where(datatypes.JSONQuery("event_data").Equals(subject, "subject"))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListReplayable returns the learning events in replay order. Subject is
// optional; when set, only events tagged with that subject qualify.
func (r *eventLogRepo) ListReplayable(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, subject string) ([]*types.EventLogEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return nil, nil
	}
	var out []*types.EventLogEntry
	q := transaction.WithContext(ctx).
		Where("namespace_id = ?", namespaceID).
		Where("event_type IN ?", types.ReplayableEventTypes).
		Order("sequence_number ASC")
	if subject != "" {
		q = q.Where(datatypes.JSONQuery("event_data").Equals(subject, "subject"))
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *eventLogRepo) CountReplayable(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if namespaceID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.EventLogEntry{}).
		Where("namespace_id = ?", namespaceID).
		Where("event_type IN ?", types.ReplayableEventTypes).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *eventLogRepo) PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&types.EventLogEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *eventLogRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).Model(&types.EventLogEntry{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
