package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/types"
)

type EventLogService interface {
	LogEvent(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, learnerID string, eventType string, eventData map[string]any, checkpointHash *string, createdBy string) (*types.EventLogEntry, error)
	ListEvents(ctx context.Context, learnerID string, eventType string, subject string, limit int) ([]*types.EventLogEntry, error)
	ReplayableEvents(ctx context.Context, namespaceID uuid.UUID, subject string) ([]*types.EventLogEntry, error)
	CountReplayable(ctx context.Context, namespaceID uuid.UUID) (int64, error)
}

type eventLogService struct {
	db      *gorm.DB
	log     *logger.Logger
	events  repos.EventLogRepo
	nsRepo  repos.NamespaceRepo
}

func NewEventLogService(db *gorm.DB, baseLog *logger.Logger, events repos.EventLogRepo, nsRepo repos.NamespaceRepo) EventLogService {
	return &eventLogService{
		db:     db,
		log:    baseLog.With("service", "EventLogService"),
		events: events,
		nsRepo: nsRepo,
	}
}

// LogEvent assigns the next sequence number and appends in one
// transaction, so the counter increment and the insert land together.
func (s *eventLogService) LogEvent(ctx context.Context, tx *gorm.DB, namespaceID uuid.UUID, learnerID string, eventType string, eventData map[string]any, checkpointHash *string, createdBy string) (*types.EventLogEntry, error) {
	if namespaceID == uuid.Nil {
		return nil, apperr.Validation("missing_namespace_id", "namespace id required")
	}
	if eventType == "" {
		return nil, apperr.Validation("missing_event_type", "event type required")
	}
	if createdBy == "" {
		createdBy = types.CreatedBySystem
	}
	transaction := tx
	if transaction == nil {
		transaction = s.db
	}

	var dataJSON datatypes.JSON
	if eventData != nil {
		b, err := json.Marshal(eventData)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		dataJSON = datatypes.JSON(b)
	} else {
		dataJSON = datatypes.JSON([]byte(`{}`))
	}

	var entry *types.EventLogEntry
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		seq, err := s.nsRepo.NextEventSequence(ctx, txx, namespaceID)
		if err != nil {
			return fmt.Errorf("next event sequence: %w", err)
		}
		entry = &types.EventLogEntry{
			ID:             uuid.New(),
			NamespaceID:    namespaceID,
			LearnerID:      learnerID,
			EventType:      eventType,
			EventData:      dataJSON,
			CheckpointHash: checkpointHash,
			SequenceNumber: seq,
			CorrelationID:  uuid.New().String(),
			CreatedBy:      createdBy,
			CreatedAt:      time.Now(),
		}
		if err := s.events.Append(ctx, txx, entry); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *eventLogService) ListEvents(ctx context.Context, learnerID string, eventType string, subject string, limit int) ([]*types.EventLogEntry, error) {
	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	return s.events.ListByNamespace(ctx, nil, ns.ID, eventType, subject, limit)
}

func (s *eventLogService) ReplayableEvents(ctx context.Context, namespaceID uuid.UUID, subject string) ([]*types.EventLogEntry, error) {
	return s.events.ListReplayable(ctx, nil, namespaceID, subject)
}

func (s *eventLogService) CountReplayable(ctx context.Context, namespaceID uuid.UUID) (int64, error) {
	return s.events.CountReplayable(ctx, nil, namespaceID)
}
