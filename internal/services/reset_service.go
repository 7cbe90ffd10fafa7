package services

import (
	"context"
	"encoding/json"
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
	StageDeletingAdapter = "deleting_adapter"
	StageFetchingEvents  = "fetching_events"
)

type ResetService interface {
	RequestReset(ctx context.Context, learnerID string, subject string, reason string, requestedBy string, requesterRole string) (*types.AdapterResetRequest, error)
	HandleApprovalDecision(ctx context.Context, approvalID string, decision string, decidedBy string, reason string) (*types.AdapterResetRequest, error)
	ExecuteReset(ctx context.Context, requestID uuid.UUID) error
	GetRequest(ctx context.Context, requestID uuid.UUID) (*types.AdapterResetRequest, error)
	ListRequests(ctx context.Context, learnerID string, limit int) ([]*types.AdapterResetRequest, error)
}

type resetService struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      Config
	nsRepo   repos.NamespaceRepo
	resets   repos.AdapterResetRepo
	events   EventLogService
	ckpt     *checkpoint.Manager
	registry fmregistry.Registry
	queue    redisclient.WorkQueue
	approval ApprovalClient
	audit    AuditSink
}

func NewResetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	nsRepo repos.NamespaceRepo,
	resets repos.AdapterResetRepo,
	events EventLogService,
	ckpt *checkpoint.Manager,
	registry fmregistry.Registry,
	queue redisclient.WorkQueue,
	approval ApprovalClient,
	audit AuditSink,
) ResetService {
	return &resetService{
		db:       db,
		log:      baseLog.With("service", "ResetService"),
		cfg:      cfg,
		nsRepo:   nsRepo,
		resets:   resets,
		events:   events,
		ckpt:     ckpt,
		registry: registry,
		queue:    queue,
		approval: approval,
		audit:    audit,
	}
}

func (s *resetService) RequestReset(ctx context.Context, learnerID string, subject string, reason string, requestedBy string, requesterRole string) (*types.AdapterResetRequest, error) {
	if strings.TrimSpace(learnerID) == "" || strings.TrimSpace(subject) == "" {
		return nil, apperr.Validation("missing_fields", "learner id and subject required")
	}
	if strings.TrimSpace(requestedBy) == "" || strings.TrimSpace(requesterRole) == "" {
		return nil, apperr.Validation("missing_requester", "requester identity and role required")
	}

	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	if !hasSubject(ns, subject) {
		return nil, apperr.Validation("unknown_subject", "subject %q is not part of learner %s's namespace", subject, learnerID)
	}

	existing, err := s.resets.HasNonTerminal(ctx, nil, learnerID, subject)
	if err != nil {
		return nil, fmt.Errorf("check existing reset requests: %w", err)
	}
	if existing {
		return nil, apperr.Conflict("reset_in_progress", "a reset request is already open for learner %s subject %s", learnerID, subject)
	}

	autoApproved := s.isAutoApproved(ns, requestedBy, requesterRole)
	status := types.ResetStatusPendingApproval
	if autoApproved {
		status = types.ResetStatusApproved
	}

	now := time.Now()
	req := &types.AdapterResetRequest{
		ID:            uuid.New(),
		NamespaceID:   ns.ID,
		LearnerID:     learnerID,
		Subject:       subject,
		Status:        status,
		RequestedBy:   requestedBy,
		RequesterRole: requesterRole,
		Reason:        reason,
		CurrentStage:  "requested",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.resets.Create(ctx, nil, req); err != nil {
		return nil, fmt.Errorf("create reset request: %w", err)
	}

	if autoApproved {
		if err := s.queue.Push(ctx, s.cfg.ResetQueue, req.ID.String()); err != nil {
			_ = s.resets.UpdateFields(ctx, nil, req.ID, map[string]interface{}{
				"status":        types.ResetStatusFailed,
				"error_message": err.Error(),
			})
			return nil, fmt.Errorf("enqueue reset execution: %w", err)
		}
	} else {
		approvalID, err := s.approval.CreateApprovalRequest(ctx, map[string]any{
			"kind":           "adapter_reset",
			"request_id":     req.ID.String(),
			"learner_id":     learnerID,
			"subject":        subject,
			"requested_by":   requestedBy,
			"requester_role": requesterRole,
			"reason":         reason,
		})
		if err != nil {
			_ = s.resets.UpdateFields(ctx, nil, req.ID, map[string]interface{}{
				"status":        types.ResetStatusFailed,
				"error_message": err.Error(),
			})
			return nil, fmt.Errorf("create approval request: %w", err)
		}
		req.ApprovalRequestID = &approvalID
		if err := s.resets.UpdateFields(ctx, nil, req.ID, map[string]interface{}{
			"approval_request_id": approvalID,
		}); err != nil {
			return nil, fmt.Errorf("attach approval request: %w", err)
		}
	}

	s.audit.Record(ctx, "reset.request", "adapter_reset_request", req.ID.String(), requestedBy, map[string]any{
		"learner_id":    learnerID,
		"subject":       subject,
		"auto_approved": autoApproved,
	})
	s.log.Info("Adapter reset requested",
		"learner_id", learnerID,
		"subject", subject,
		"requester_role", requesterRole,
		"auto_approved", autoApproved,
	)
	return req, nil
}

// isAutoApproved implements the approval routing: guardians always,
// teachers only with an explicit per-learner grant, nobody else.
func (s *resetService) isAutoApproved(ns *types.Namespace, requestedBy string, requesterRole string) bool {
	switch requesterRole {
	case types.RoleGuardian:
		return true
	case types.RoleTeacher:
		return hasTeacherGrant(ns, requestedBy)
	default:
		return false
	}
}

func (s *resetService) HandleApprovalDecision(ctx context.Context, approvalID string, decision string, decidedBy string, reason string) (*types.AdapterResetRequest, error) {
	if approvalID == "" {
		return nil, apperr.Validation("missing_approval_id", "approval id required")
	}
	req, err := s.resets.GetByApprovalID(ctx, nil, approvalID)
	if err != nil {
		return nil, fmt.Errorf("load reset request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("approval_not_found", "no reset request for approval %s", approvalID)
	}

	switch decision {
	case ApprovalDecisionApproved:
		ok, err := s.resets.TransitionStatus(ctx, nil, req.ID, []string{types.ResetStatusPendingApproval}, types.ResetStatusApproved, map[string]interface{}{
			"decided_by":      decidedBy,
			"decision_reason": reason,
		})
		if err != nil {
			return nil, fmt.Errorf("approve reset request: %w", err)
		}
		if !ok {
			return nil, apperr.Conflict("not_pending", "reset request %s is not awaiting approval", req.ID)
		}
		if err := s.queue.Push(ctx, s.cfg.ResetQueue, req.ID.String()); err != nil {
			return nil, fmt.Errorf("enqueue reset execution: %w", err)
		}
	case ApprovalDecisionRejected:
		ok, err := s.resets.TransitionStatus(ctx, nil, req.ID, []string{types.ResetStatusPendingApproval}, types.ResetStatusRejected, map[string]interface{}{
			"decided_by":      decidedBy,
			"decision_reason": reason,
		})
		if err != nil {
			return nil, fmt.Errorf("reject reset request: %w", err)
		}
		if !ok {
			return nil, apperr.Conflict("not_pending", "reset request %s is not awaiting approval", req.ID)
		}
	default:
		return nil, apperr.Validation("invalid_decision", "decision must be approved or rejected, got %q", decision)
	}

	s.audit.Record(ctx, "reset.decision", "adapter_reset_request", req.ID.String(), decidedBy, map[string]any{
		"decision": decision,
		"reason":   reason,
	})
	s.log.Info("Reset approval decision applied", "request_id", req.ID, "decision", decision, "decided_by", decidedBy)
	return s.resets.GetByID(ctx, nil, req.ID)
}

// ExecuteReset wipes and re-derives one subject's adapter. A stage failure
// leaves already-replayed events applied; partial completion is observable
// through events_replayed.
func (s *resetService) ExecuteReset(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.resets.GetByID(ctx, nil, requestID)
	if err != nil {
		return fmt.Errorf("load reset request: %w", err)
	}
	if req == nil {
		return apperr.NotFound("request_not_found", "reset request %s not found", requestID)
	}
	if types.IsTerminalResetStatus(req.Status) {
		return nil
	}

	claimed, err := s.resets.TransitionStatus(ctx, nil, req.ID, []string{types.ResetStatusApproved}, types.ResetStatusExecuting, nil)
	if err != nil {
		return fmt.Errorf("claim reset request: %w", err)
	}
	if !claimed && req.Status != types.ResetStatusExecuting {
		return nil
	}

	ns, err := s.nsRepo.GetByID(ctx, nil, req.NamespaceID)
	if err != nil || ns == nil {
		s.failRequest(ctx, req, StageDeletingAdapter, fmt.Errorf("namespace %s not found", req.NamespaceID))
		return nil
	}

	if runErr := s.runReset(ctx, req, ns); runErr != nil {
		s.failRequest(ctx, req, req.CurrentStage, runErr)
	}
	return nil
}

func (s *resetService) runReset(ctx context.Context, req *types.AdapterResetRequest, ns *types.Namespace) error {
	s.updateStage(ctx, req, StageDeletingAdapter, 10)
	if err := s.ckpt.Store().Delete(ctx, checkpoint.AdapterKey(ns.NsUID, req.Subject)); err != nil {
		return fmt.Errorf("delete adapter data: %w", err)
	}

	s.updateStage(ctx, req, StageCloningBaseModel, 25)
	base, err := s.registry.GetBaseModel(ctx, ns.BaseFMVersion, req.Subject)
	if err != nil {
		return fmt.Errorf("clone base model: %w", err)
	}
	if err := s.ckpt.Store().Put(ctx, checkpoint.AdapterKey(ns.NsUID, req.Subject), base); err != nil {
		return fmt.Errorf("store cloned adapter: %w", err)
	}

	s.updateStage(ctx, req, StageFetchingEvents, 40)
	replayEvents, err := s.events.ReplayableEvents(ctx, ns.ID, req.Subject)
	if err != nil {
		return fmt.Errorf("fetch subject events: %w", err)
	}

	s.updateStage(ctx, req, StageReplayingEvents, 45)
	state := newAdapterState([]string{req.Subject})
	replayed := 0
	for i, e := range replayEvents {
		if state.applyLearningUpdate(e) {
			replayed++
			pct := 45
			if len(replayEvents) > 0 {
				pct = 45 + 45*(i+1)/len(replayEvents)
			}
			if err := s.resets.UpdateFields(ctx, nil, req.ID, map[string]interface{}{
				"events_replayed":  replayed,
				"progress_percent": pct,
			}); err != nil {
				return fmt.Errorf("record replay progress: %w", err)
			}
		}
	}
	if err := s.ckpt.Store().Put(ctx, checkpoint.AdapterKey(ns.NsUID, req.Subject), state.serialize()); err != nil {
		return fmt.Errorf("store rebuilt adapter: %w", err)
	}

	s.updateStage(ctx, req, StageFinalizing, 95)
	// When this reset was the remedy for a corrupted namespace, restore it.
	if _, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusCorrupted}, types.NamespaceStatusActive, nil); err != nil {
		return fmt.Errorf("restore namespace status: %w", err)
	}

	now := time.Now()
	ok, err := s.resets.TransitionStatus(ctx, nil, req.ID, []string{types.ResetStatusExecuting}, types.ResetStatusCompleted, map[string]interface{}{
		"progress_percent": 100,
		"current_stage":    StageFinalizing,
		"events_replayed":  replayed,
		"completed_at":     now,
	})
	if err != nil {
		return fmt.Errorf("complete reset request: %w", err)
	}
	if !ok {
		return fmt.Errorf("reset request %s left executing state during finalization", req.ID)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, ns.LearnerID, types.EventAdapterReset, map[string]any{
		"request_id":      req.ID.String(),
		"subject":         req.Subject,
		"events_replayed": replayed,
	}, nil, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record adapter_reset event", "request_id", req.ID, "error", err)
	}

	s.log.Info("Adapter reset completed", "request_id", req.ID, "subject", req.Subject, "events_replayed", replayed)
	return nil
}

func (s *resetService) failRequest(ctx context.Context, req *types.AdapterResetRequest, stage string, cause error) {
	msg := cause.Error()
	if _, err := s.resets.TransitionStatus(ctx, nil, req.ID, []string{types.ResetStatusApproved, types.ResetStatusExecuting}, types.ResetStatusFailed, map[string]interface{}{
		"current_stage": stage,
		"error_message": msg,
	}); err != nil {
		s.log.Error("Failed to mark reset request failed", "request_id", req.ID, "error", err)
	}
	s.log.Error("Adapter reset failed", "request_id", req.ID, "stage", stage, "error", msg)
}

func (s *resetService) updateStage(ctx context.Context, req *types.AdapterResetRequest, stage string, pct int) {
	req.CurrentStage = stage
	if err := s.resets.UpdateFields(ctx, nil, req.ID, map[string]interface{}{
		"current_stage":    stage,
		"progress_percent": pct,
	}); err != nil {
		s.log.Warn("Failed to update reset stage", "request_id", req.ID, "stage", stage, "error", err)
	}
}

func (s *resetService) GetRequest(ctx context.Context, requestID uuid.UUID) (*types.AdapterResetRequest, error) {
	req, err := s.resets.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, fmt.Errorf("load reset request: %w", err)
	}
	if req == nil {
		return nil, apperr.NotFound("request_not_found", "reset request %s not found", requestID)
	}
	return req, nil
}

func (s *resetService) ListRequests(ctx context.Context, learnerID string, limit int) ([]*types.AdapterResetRequest, error) {
	return s.resets.ListByLearner(ctx, nil, learnerID, limit)
}

func hasSubject(ns *types.Namespace, subject string) bool {
	for _, s := range SubjectsOf(ns) {
		if s == subject {
			return true
		}
	}
	return false
}

// hasTeacherGrant checks the namespace isolation config for an explicit
// reset grant naming the teacher.
func hasTeacherGrant(ns *types.Namespace, teacherID string) bool {
	if ns == nil || len(ns.IsolationConfig) == 0 {
		return false
	}
	var cfg map[string]any
	if err := json.Unmarshal(ns.IsolationConfig, &cfg); err != nil {
		return false
	}
	grants, ok := cfg["teacher_reset_grants"].([]any)
	if !ok {
		return false
	}
	for _, g := range grants {
		if id, ok := g.(string); ok && id == teacherID {
			return true
		}
	}
	return false
}
