package services

import (
	"context"
	"fmt"
	"strings"
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
	FallbackReasonCorruption       = "corruption_detected"
	FallbackReasonVersionLag       = "version_lag"
	FallbackReasonIntegrityFailure = "integrity_failure"
)

const (
	StageCloningBaseModel = "cloning_base_model"
	StageReplayingEvents  = "replaying_events"
)

// criticalIssueMarkers are health-issue substrings that warrant fallback
// on their own.
var criticalIssueMarkers = []string{
	"checkpoint integrity",
	"corrupt",
}

type FallbackService interface {
	ShouldFallback(h *Health) (bool, string)
	InitiateFallback(ctx context.Context, learnerID string, reason string, targetFMVersion string) (*types.MergeOperation, error)
	ExecuteFallback(ctx context.Context, opID uuid.UUID) error
}

type fallbackService struct {
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

func NewFallbackService(
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
) FallbackService {
	return &fallbackService{
		db:       db,
		log:      baseLog.With("service", "FallbackService"),
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

// ShouldFallback applies the trigger decision shared by the health sweep
// and the manual API, returning the classified reason when warranted.
func (s *fallbackService) ShouldFallback(h *Health) (bool, string) {
	if h == nil {
		return false, ""
	}
	warranted := h.IntegrityScore < s.cfg.FallbackScoreThreshold || h.VersionLag > s.cfg.FallbackVersionLag
	if !warranted {
		for _, issue := range h.Issues {
			lower := strings.ToLower(issue)
			for _, marker := range criticalIssueMarkers {
				if strings.Contains(lower, marker) {
					warranted = true
					break
				}
			}
			if warranted {
				break
			}
		}
	}
	if !warranted {
		return false, ""
	}

	switch {
	case h.IntegrityScore < s.cfg.CorruptionScoreThreshold:
		return true, FallbackReasonCorruption
	case h.VersionLag > s.cfg.FallbackVersionLag:
		return true, FallbackReasonVersionLag
	default:
		for _, issue := range h.Issues {
			if strings.Contains(strings.ToLower(issue), "integrity") {
				return true, FallbackReasonIntegrityFailure
			}
		}
		return true, FallbackReasonCorruption
	}
}

func (s *fallbackService) InitiateFallback(ctx context.Context, learnerID string, reason string, targetFMVersion string) (*types.MergeOperation, error) {
	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	if reason == "" {
		reason = FallbackReasonCorruption
	}

	if targetFMVersion == "" {
		targetFMVersion, err = s.registry.LatestVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve target fm version: %w", err)
		}
	}

	replayable, err := s.events.CountReplayable(ctx, ns.ID)
	if err != nil {
		return nil, fmt.Errorf("count replayable events: %w", err)
	}

	now := time.Now()
	entered, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID,
		[]string{types.NamespaceStatusActive, types.NamespaceStatusMerging},
		types.NamespaceStatusFallback,
		map[string]interface{}{"last_fallback_at": now})
	if err != nil {
		return nil, fmt.Errorf("enter fallback state: %w", err)
	}
	if !entered {
		return nil, apperr.Conflict("fallback_not_possible", "namespace for learner %s is %s", learnerID, ns.Status)
	}

	op := &types.MergeOperation{
		ID:                   uuid.New(),
		NamespaceID:          ns.ID,
		Status:               types.MergeStatusPending,
		OperationType:        types.OperationTypeFallback,
		SourceCheckpointHash: ns.CurrentCheckpointHash,
		FMVersion:            targetFMVersion,
		Stage:                "queued",
		MergeStats:           mustJSON(map[string]any{"reason": reason, "replayable_events": replayable}),
		ScheduledAt:          now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.ops.Create(ctx, nil, op); err != nil {
		return nil, fmt.Errorf("create fallback operation: %w", err)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, learnerID, types.EventFallbackInitiated, map[string]any{
		"operation_id":      op.ID.String(),
		"reason":            reason,
		"fm_version":        targetFMVersion,
		"replayable_events": replayable,
	}, nil, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record fallback_initiated event", "operation_id", op.ID, "error", err)
	}

	if err := s.queue.Push(ctx, s.cfg.FallbackQueue, op.ID.String()); err != nil {
		_ = s.ops.UpdateFields(ctx, nil, op.ID, map[string]interface{}{
			"status":        types.MergeStatusFailed,
			"stage":         "dispatch",
			"error_message": err.Error(),
		})
		return nil, fmt.Errorf("enqueue fallback operation: %w", err)
	}

	s.audit.Record(ctx, "fallback.initiate", "merge_operation", op.ID.String(), types.CreatedBySystem, map[string]any{
		"learner_id": learnerID,
		"reason":     reason,
		"fm_version": targetFMVersion,
	})
	s.log.Warn("Fallback initiated", "learner_id", learnerID, "operation_id", op.ID, "reason", reason)
	return op, nil
}

// ExecuteFallback re-derives the namespace from the base model plus the
// replayed event log. This is the last line of defense: its own failure is
// terminal and leaves the namespace corrupted for manual remediation.
func (s *fallbackService) ExecuteFallback(ctx context.Context, opID uuid.UUID) error {
	op, err := s.ops.GetByID(ctx, nil, opID)
	if err != nil {
		return fmt.Errorf("load fallback operation: %w", err)
	}
	if op == nil {
		return apperr.NotFound("operation_not_found", "fallback operation %s not found", opID)
	}
	if types.IsTerminalMergeStatus(op.Status) {
		return nil
	}

	ns, err := s.nsRepo.GetByID(ctx, nil, op.NamespaceID)
	if err != nil {
		return fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		_, _ = s.ops.TransitionStatus(ctx, nil, op.ID, nil, types.MergeStatusFailed, map[string]interface{}{
			"error_message": fmt.Sprintf("namespace %s not found", op.NamespaceID),
			"completed_at":  time.Now(),
		})
		return nil
	}

	claimed, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusPending}, types.MergeStatusRunning, map[string]interface{}{
		"started_at": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("claim fallback operation: %w", err)
	}
	if !claimed && op.Status != types.MergeStatusRunning {
		return nil
	}

	if runErr := s.runFallback(ctx, op, ns); runErr != nil {
		s.escalate(ctx, op, ns, runErr)
	}
	return nil
}

func (s *fallbackService) runFallback(ctx context.Context, op *types.MergeOperation, ns *types.Namespace) error {
	subjects := SubjectsOf(ns)

	s.updateStage(ctx, op.ID, StageCloningBaseModel, 20)
	state := newAdapterState(subjects)
	for _, subject := range subjects {
		data, err := s.registry.GetBaseModel(ctx, op.FMVersion, subject)
		if err != nil {
			return fmt.Errorf("clone base model for %s: %w", subject, err)
		}
		if err := s.ckpt.Store().Put(ctx, checkpoint.AdapterKey(ns.NsUID, subject), data); err != nil {
			return fmt.Errorf("store cloned adapter for %s: %w", subject, err)
		}
	}

	s.updateStage(ctx, op.ID, StageReplayingEvents, 40)
	replayEvents, err := s.events.ReplayableEvents(ctx, ns.ID, "")
	if err != nil {
		return fmt.Errorf("load replayable events: %w", err)
	}
	replayed := 0
	for i, e := range replayEvents {
		if state.applyLearningUpdate(e) {
			replayed++
		}
		if len(replayEvents) > 0 && (i+1)%50 == 0 {
			pct := 40 + 55*(i+1)/len(replayEvents)
			s.updateStage(ctx, op.ID, StageReplayingEvents, pct)
		}
	}

	s.updateStage(ctx, op.ID, StageGeneratingCheckpoint, 95)
	hash, err := s.ckpt.Write(ctx, ns.ID, ns.NsUID, op.FMVersion, 1, state.serialize())
	if err != nil {
		return fmt.Errorf("write recovery checkpoint: %w", err)
	}

	now := time.Now()
	if err := s.nsRepo.UpdateFields(ctx, nil, ns.ID, map[string]interface{}{
		"version_count":           1,
		"base_fm_version":         op.FMVersion,
		"current_checkpoint_hash": hash,
		"last_merge_at":           now,
	}); err != nil {
		return fmt.Errorf("finalize namespace after fallback: %w", err)
	}
	restored, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusFallback}, types.NamespaceStatusActive, nil)
	if err != nil {
		return fmt.Errorf("return namespace to active: %w", err)
	}
	if !restored {
		return fmt.Errorf("namespace %s left fallback state during recovery", ns.ID)
	}

	if _, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusRunning}, types.MergeStatusCompleted, map[string]interface{}{
		"target_checkpoint_hash": hash,
		"progress_percent":       100,
		"stage":                  StageFinalizing,
		"completed_at":           now,
		"merge_stats":            mustJSON(map[string]any{"events_replayed": replayed}),
	}); err != nil {
		return fmt.Errorf("complete fallback operation: %w", err)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, ns.LearnerID, types.EventFallbackCompleted, map[string]any{
		"operation_id":    op.ID.String(),
		"fm_version":      op.FMVersion,
		"events_replayed": replayed,
	}, &hash, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record fallback_completed event", "operation_id", op.ID, "error", err)
	}

	s.log.Info("Fallback completed", "operation_id", op.ID, "namespace_id", ns.ID, "events_replayed", replayed)
	return nil
}

// escalate marks the namespace corrupted after a failed recovery.
func (s *fallbackService) escalate(ctx context.Context, op *types.MergeOperation, ns *types.Namespace, cause error) {
	msg := cause.Error()
	now := time.Now()
	if _, err := s.ops.TransitionStatus(ctx, nil, op.ID, []string{types.MergeStatusRunning}, types.MergeStatusFailed, map[string]interface{}{
		"error_message": msg,
		"completed_at":  now,
	}); err != nil {
		s.log.Error("Failed to mark fallback operation failed", "operation_id", op.ID, "error", err)
	}
	if err := s.nsRepo.UpdateFields(ctx, nil, ns.ID, map[string]interface{}{
		"status": types.NamespaceStatusCorrupted,
	}); err != nil {
		s.log.Error("Failed to mark namespace corrupted", "namespace_id", ns.ID, "error", err)
	}
	if _, err := s.events.LogEvent(ctx, nil, ns.ID, ns.LearnerID, types.EventFallbackFailed, map[string]any{
		"operation_id": op.ID.String(),
		"error":        msg,
	}, nil, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record fallback_failed event", "operation_id", op.ID, "error", err)
	}
	s.audit.Record(ctx, "fallback.failed", "namespace", ns.ID.String(), types.CreatedBySystem, map[string]any{
		"learner_id": ns.LearnerID,
		"error":      msg,
	})
	s.log.Error("Fallback failed, namespace corrupted", "operation_id", op.ID, "namespace_id", ns.ID, "error", msg)
}

func (s *fallbackService) updateStage(ctx context.Context, opID uuid.UUID, stage string, pct int) {
	if err := s.ops.UpdateFields(ctx, nil, opID, map[string]interface{}{
		"stage":            stage,
		"progress_percent": pct,
	}); err != nil {
		s.log.Warn("Failed to update fallback stage", "operation_id", opID, "stage", stage, "error", err)
	}
}
