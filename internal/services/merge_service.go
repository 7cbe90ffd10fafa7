package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/checkpoint"
	redisclient "github.com/veloria-ai/fmcore/internal/clients/redis"
	"github.com/veloria-ai/fmcore/internal/fmregistry"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/types"
)

const (
	StageLoadingBaseModel     = "loading_base_model"
	StageLoadingAdapters      = "loading_adapters"
	StagePerformingMerge      = "performing_merge"
	StageGeneratingCheckpoint = "generating_checkpoint"
	StageFinalizing           = "finalizing"
)

type MergeService interface {
	TriggerMerge(ctx context.Context, learnerID string, operationType string, targetFMVersion string, force bool) (*types.MergeOperation, error)
	ExecuteMerge(ctx context.Context, opID uuid.UUID) error
	GetOperation(ctx context.Context, opID uuid.UUID) (*types.MergeOperation, error)
	ListOperations(ctx context.Context, learnerID string, statuses []string, limit int) ([]*types.MergeOperation, error)
	CancelOperation(ctx context.Context, opID uuid.UUID) (*types.MergeOperation, error)
}

type mergeService struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      Config
	nsRepo   repos.NamespaceRepo
	ops      repos.MergeOperationRepo
	events   EventLogService
	ckpt     *checkpoint.Manager
	registry fmregistry.Registry
	queue    redisclient.WorkQueue
	audit    AuditSink
}

func NewMergeService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	nsRepo repos.NamespaceRepo,
	ops repos.MergeOperationRepo,
	events EventLogService,
	ckpt *checkpoint.Manager,
	registry fmregistry.Registry,
	queue redisclient.WorkQueue,
	audit AuditSink,
) MergeService {
	return &mergeService{
		db:       db,
		log:      baseLog.With("service", "MergeService"),
		cfg:      cfg,
		nsRepo:   nsRepo,
		ops:      ops,
		events:   events,
		ckpt:     ckpt,
		registry: registry,
		queue:    queue,
		audit:    audit,
	}
}

func (s *mergeService) TriggerMerge(ctx context.Context, learnerID string, operationType string, targetFMVersion string, force bool) (*types.MergeOperation, error) {
	switch operationType {
	case types.OperationTypeNightly, types.OperationTypeManual:
	default:
		return nil, apperr.Validation("invalid_operation_type", "unknown operation type %q", operationType)
	}

	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	if ns.Status != types.NamespaceStatusActive && !force {
		return nil, apperr.Conflict("namespace_not_active", "namespace for learner %s is %s", learnerID, ns.Status)
	}

	active, err := s.ops.HasActiveForNamespace(ctx, nil, ns.ID)
	if err != nil {
		return nil, fmt.Errorf("check active operations: %w", err)
	}
	if active && !force {
		return nil, apperr.Conflict("merge_in_progress", "a merge operation is already pending or running for learner %s", learnerID)
	}

	if targetFMVersion == "" {
		targetFMVersion, err = s.registry.LatestVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve target fm version: %w", err)
		}
	}

	now := time.Now()
	op := &types.MergeOperation{
		ID:                   uuid.New(),
		NamespaceID:          ns.ID,
		Status:               types.MergeStatusPending,
		OperationType:        operationType,
		SourceCheckpointHash: ns.CurrentCheckpointHash,
		FMVersion:            targetFMVersion,
		Stage:                "queued",
		ScheduledAt:          now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.ops.Create(ctx, nil, op); err != nil {
		return nil, fmt.Errorf("create merge operation: %w", err)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, learnerID, types.EventMergeInitiated, map[string]any{
		"operation_id":   op.ID.String(),
		"operation_type": operationType,
		"fm_version":     targetFMVersion,
		"force":          force,
	}, nil, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record merge_initiated event", "operation_id", op.ID, "error", err)
	}

	if err := s.queue.Push(ctx, s.cfg.MergeQueue, op.ID.String()); err != nil {
		// Best-effort: mark the operation failed if we couldn't dispatch.
		_ = s.ops.UpdateFields(ctx, nil, op.ID, map[string]interface{}{
			"status":        types.MergeStatusFailed,
			"stage":         "dispatch",
			"error_message": err.Error(),
		})
		return nil, fmt.Errorf("enqueue merge operation: %w", err)
	}

	s.audit.Record(ctx, "merge.trigger", "merge_operation", op.ID.String(), types.CreatedBySystem, map[string]any{
		"learner_id":     learnerID,
		"operation_type": operationType,
		"fm_version":     targetFMVersion,
	})
	s.log.Info("Merge triggered", "learner_id", learnerID, "operation_id", op.ID, "operation_type", operationType)
	return op, nil
}

// ExecuteMerge runs a claimed operation through its stages, retrying
// transient failures with exponential backoff. Whatever happens, the
// namespace never stays in merging state.
func (s *mergeService) ExecuteMerge(ctx context.Context, opID uuid.UUID) error {
	op, err := s.ops.GetByID(ctx, nil, opID)
	if err != nil {
		return fmt.Errorf("load merge operation: %w", err)
	}
	if op == nil {
		return apperr.NotFound("operation_not_found", "merge operation %s not found", opID)
	}
	if types.IsTerminalMergeStatus(op.Status) {
		// Retried delivery of a finished operation.
		return nil
	}

	ns, err := s.nsRepo.GetByID(ctx, nil, op.NamespaceID)
	if err != nil {
		return fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		s.failOperation(ctx, op, nil, "loading_namespace", fmt.Errorf("namespace %s not found", op.NamespaceID))
		return nil
	}

	now := time.Now()
	claimed, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusPending}, types.MergeStatusRunning, map[string]interface{}{
		"started_at": now,
	})
	if err != nil {
		return fmt.Errorf("claim merge operation: %w", err)
	}
	if !claimed && op.Status != types.MergeStatusRunning {
		return nil
	}

	entered, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusActive}, types.NamespaceStatusMerging, nil)
	if err != nil {
		return fmt.Errorf("enter merging state: %w", err)
	}
	if !entered && ns.Status != types.NamespaceStatusMerging {
		s.failOperation(ctx, op, nil, "entering_merge", fmt.Errorf("namespace %s is %s, cannot begin merge", ns.ID, ns.Status))
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxMergeAttempts; attempt++ {
		_ = s.ops.UpdateFields(ctx, nil, op.ID, map[string]interface{}{"attempts": attempt})
		lastErr = s.runMergeStages(ctx, op, ns)
		if lastErr == nil {
			return nil
		}
		kind := apperr.KindOf(lastErr)
		if kind == apperr.KindValidation || kind == apperr.KindFatal {
			break
		}
		if attempt < s.cfg.MaxMergeAttempts {
			backoff := s.cfg.MergeBackoffBase * time.Duration(1<<(attempt-1))
			s.log.Warn("Merge attempt failed, backing off",
				"operation_id", op.ID,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = s.cfg.MaxMergeAttempts
			case <-time.After(backoff):
			}
		}
	}

	s.failOperation(ctx, op, ns, "merge", lastErr)
	return nil
}

func (s *mergeService) runMergeStages(ctx context.Context, op *types.MergeOperation, ns *types.Namespace) error {
	subjects := SubjectsOf(ns)
	started := time.Now()

	s.updateStage(ctx, op.ID, StageLoadingBaseModel, 10)
	var baseBytes int64
	for _, subject := range subjects {
		data, err := s.registry.GetBaseModel(ctx, op.FMVersion, subject)
		if err != nil {
			return fmt.Errorf("load base model for %s: %w", subject, err)
		}
		baseBytes += int64(len(data))
		s.pause(ctx)
	}

	s.updateStage(ctx, op.ID, StageLoadingAdapters, 30)
	var adapterBytes int64
	if ns.CurrentCheckpointHash != "" {
		data, ok, err := s.ckpt.ReadData(ctx, ns.NsUID, ns.CurrentCheckpointHash)
		if err != nil {
			return fmt.Errorf("load current checkpoint: %w", err)
		}
		if ok {
			adapterBytes = int64(len(data))
		}
	}
	for _, subject := range subjects {
		data, ok, err := s.ckpt.Store().Get(ctx, checkpoint.AdapterKey(ns.NsUID, subject))
		if err != nil {
			return fmt.Errorf("load adapter for %s: %w", subject, err)
		}
		if ok {
			adapterBytes += int64(len(data))
		}
	}
	s.pause(ctx)

	s.updateStage(ctx, op.ID, StagePerformingMerge, 60)
	merged := []byte(fmt.Sprintf(`{"namespace":%q,"fm_version":%q,"base_bytes":%d,"adapter_bytes":%d}`,
		ns.NsUID, op.FMVersion, baseBytes, adapterBytes))
	s.pause(ctx)

	s.updateStage(ctx, op.ID, StageGeneratingCheckpoint, 80)
	newVersionCount := ns.VersionCount + 1
	hash, err := s.ckpt.Write(ctx, ns.ID, ns.NsUID, op.FMVersion, newVersionCount, merged)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	s.pause(ctx)

	s.updateStage(ctx, op.ID, StageFinalizing, 95)
	now := time.Now()
	if err := s.nsRepo.UpdateFields(ctx, nil, ns.ID, map[string]interface{}{
		"version_count":           gorm.Expr("version_count + 1"),
		"current_checkpoint_hash": hash,
		"base_fm_version":         op.FMVersion,
		"last_merge_at":           now,
	}); err != nil {
		// Finalization errors are not retried: a second pass could double
		// the version increment.
		return apperr.New(apperr.KindFatal, "finalize_failed", fmt.Errorf("finalize namespace: %w", err))
	}
	returned, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusMerging}, types.NamespaceStatusActive, nil)
	if err != nil {
		return apperr.New(apperr.KindFatal, "finalize_failed", fmt.Errorf("return namespace to active: %w", err))
	}
	if !returned {
		return apperr.Fatal("finalize_race", "namespace %s left merging state during finalization", ns.ID)
	}

	stats := map[string]any{
		"base_bytes":       baseBytes,
		"adapter_bytes":    adapterBytes,
		"merged_bytes":     len(merged),
		"duration_seconds": time.Since(started).Seconds(),
	}
	completed, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusRunning}, types.MergeStatusCompleted, map[string]interface{}{
		"target_checkpoint_hash": hash,
		"progress_percent":       100,
		"stage":                  StageFinalizing,
		"completed_at":           now,
		"merge_stats":            mustJSON(stats),
	})
	if err != nil {
		return apperr.New(apperr.KindFatal, "finalize_failed", fmt.Errorf("complete operation: %w", err))
	}
	if !completed {
		return apperr.Fatal("finalize_race", "operation %s left running state during finalization", op.ID)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, ns.LearnerID, types.EventMergeCompleted, map[string]any{
		"operation_id":  op.ID.String(),
		"fm_version":    op.FMVersion,
		"version_count": newVersionCount,
	}, &hash, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record merge_completed event", "operation_id", op.ID, "error", err)
	}

	s.log.Info("Merge completed", "operation_id", op.ID, "namespace_id", ns.ID, "checkpoint_hash", hash)
	return nil
}

// failOperation marks the operation failed and, when the namespace was
// moved into merging, returns it to active.
func (s *mergeService) failOperation(ctx context.Context, op *types.MergeOperation, ns *types.Namespace, stage string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now()
	if _, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusPending, types.MergeStatusRunning}, types.MergeStatusFailed, map[string]interface{}{
		"stage":         stage,
		"error_message": msg,
		"completed_at":  now,
	}); err != nil {
		s.log.Error("Failed to mark merge operation failed", "operation_id", op.ID, "error", err)
	}
	if ns != nil {
		if _, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusMerging}, types.NamespaceStatusActive, nil); err != nil {
			s.log.Error("Failed to return namespace to active after merge failure", "namespace_id", ns.ID, "error", err)
		}
		if _, err := s.events.LogEvent(ctx, nil, ns.ID, ns.LearnerID, types.EventMergeFailed, map[string]any{
			"operation_id": op.ID.String(),
			"error":        msg,
		}, nil, types.CreatedBySystem); err != nil {
			s.log.Warn("Failed to record merge_failed event", "operation_id", op.ID, "error", err)
		}
	}
	s.log.Error("Merge failed", "operation_id", op.ID, "stage", stage, "error", msg)
}

func (s *mergeService) updateStage(ctx context.Context, opID uuid.UUID, stage string, pct int) {
	if err := s.ops.UpdateFields(ctx, nil, opID, map[string]interface{}{
		"stage":            stage,
		"progress_percent": pct,
	}); err != nil {
		s.log.Warn("Failed to update merge stage", "operation_id", opID, "stage", stage, "error", err)
	}
}

// pause simulates stage work in environments without a real merge engine;
// zero in production config.
func (s *mergeService) pause(ctx context.Context) {
	if s.cfg.StageDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.cfg.StageDelay):
	}
}

func (s *mergeService) GetOperation(ctx context.Context, opID uuid.UUID) (*types.MergeOperation, error) {
	op, err := s.ops.GetByID(ctx, nil, opID)
	if err != nil {
		return nil, fmt.Errorf("load merge operation: %w", err)
	}
	if op == nil {
		return nil, apperr.NotFound("operation_not_found", "merge operation %s not found", opID)
	}
	return op, nil
}

func (s *mergeService) ListOperations(ctx context.Context, learnerID string, statuses []string, limit int) ([]*types.MergeOperation, error) {
	namespaceID := uuid.Nil
	if learnerID != "" {
		ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
		if err != nil {
			return nil, fmt.Errorf("load namespace: %w", err)
		}
		if ns == nil {
			return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
		}
		namespaceID = ns.ID
	}
	return s.ops.ListByNamespace(ctx, nil, namespaceID, statuses, limit)
}

func (s *mergeService) CancelOperation(ctx context.Context, opID uuid.UUID) (*types.MergeOperation, error) {
	ok, err := s.ops.TransitionStatus(ctx, nil, opID, []string{types.MergeStatusPending}, types.MergeStatusCancelled, map[string]interface{}{
		"completed_at": time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("cancel merge operation: %w", err)
	}
	if !ok {
		return nil, apperr.Conflict("not_cancellable", "merge operation %s is not pending", opID)
	}
	return s.GetOperation(ctx, opID)
}
