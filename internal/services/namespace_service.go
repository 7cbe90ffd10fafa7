package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/fmregistry"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/types"
)

type NamespaceService interface {
	Create(ctx context.Context, learnerID string, subjects []string, baseFMVersion string, isolationConfig map[string]any, mergeConfig map[string]any) (*types.Namespace, error)
	Get(ctx context.Context, learnerID string) (*types.Namespace, error)
	List(ctx context.Context, statuses []string) ([]*types.Namespace, error)
	Delete(ctx context.Context, learnerID string, authToken string) error
}

type namespaceService struct {
	db        *gorm.DB
	log       *logger.Logger
	cfg       Config
	nsRepo    repos.NamespaceRepo
	resources repos.ResourceAllocationRepo
	events    EventLogService
	registry  fmregistry.Registry
	audit     AuditSink
}

func NewNamespaceService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	nsRepo repos.NamespaceRepo,
	resources repos.ResourceAllocationRepo,
	events EventLogService,
	registry fmregistry.Registry,
	audit AuditSink,
) NamespaceService {
	return &namespaceService{
		db:        db,
		log:       baseLog.With("service", "NamespaceService"),
		cfg:       cfg,
		nsRepo:    nsRepo,
		resources: resources,
		events:    events,
		registry:  registry,
		audit:     audit,
	}
}

// DeriveNsUID builds the opaque namespace identifier from the learner, the
// subject set, and creation time. Subject order does not affect the result.
func DeriveNsUID(learnerID string, subjects []string, createdAt time.Time) string {
	sorted := append([]string(nil), subjects...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", learnerID, strings.Join(sorted, ","), createdAt.UnixNano())))
	return "ns-" + hex.EncodeToString(h[:16])
}

func (s *namespaceService) Create(ctx context.Context, learnerID string, subjects []string, baseFMVersion string, isolationConfig map[string]any, mergeConfig map[string]any) (*types.Namespace, error) {
	if strings.TrimSpace(learnerID) == "" {
		return nil, apperr.Validation("missing_learner_id", "learner id required")
	}
	if len(subjects) == 0 {
		return nil, apperr.Validation("missing_subjects", "at least one subject required")
	}
	for _, sub := range subjects {
		if strings.TrimSpace(sub) == "" {
			return nil, apperr.Validation("invalid_subject", "empty subject code")
		}
	}

	existing, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("check existing namespace: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("namespace_exists", "namespace already exists for learner %s", learnerID)
	}

	if baseFMVersion == "" {
		baseFMVersion, err = s.registry.LatestVersion(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve base fm version: %w", err)
		}
	}

	now := time.Now()
	ns := &types.Namespace{
		ID:              uuid.New(),
		LearnerID:       learnerID,
		NsUID:           DeriveNsUID(learnerID, subjects, now),
		Status:          types.NamespaceStatusInitializing,
		Subjects:        mustJSON(subjects),
		BaseFMVersion:   baseFMVersion,
		VersionCount:    0,
		IsolationConfig: mustJSON(isolationConfig),
		MergeConfig:     mustJSON(mergeConfig),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.nsRepo.Create(ctx, nil, ns); err != nil {
		return nil, fmt.Errorf("create namespace: %w", err)
	}

	// Resource allocation happens after the row exists but before the
	// namespace becomes active; a failed allocation removes the row so the
	// learner can retry cleanly and no half-initialized namespace is ever
	// visible as active.
	alloc := &types.ResourceAllocation{
		ID:              uuid.New(),
		NamespaceID:     ns.ID,
		MemoryLimitMB:   intFromConfig(isolationConfig, "memory_limit_mb", s.cfg.DefaultMemoryLimitMB),
		CPULimitMillis:  intFromConfig(isolationConfig, "cpu_limit_millis", s.cfg.DefaultCPULimitMillis),
		StorageLimitMB:  intFromConfig(isolationConfig, "storage_limit_mb", s.cfg.DefaultStorageLimitMB),
		NetworkIsolated: boolFromConfig(isolationConfig, "network_isolated", true),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.resources.Create(ctx, nil, alloc); err != nil {
		s.log.Error("Resource allocation failed, rolling back namespace", "learner_id", learnerID, "error", err)
		if delErr := s.nsRepo.HardDelete(ctx, nil, ns.ID); delErr != nil {
			s.log.Error("Failed to roll back partially-initialized namespace", "namespace_id", ns.ID, "error", delErr)
		}
		return nil, fmt.Errorf("allocate resources: %w", err)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, learnerID, types.EventNamespaceCreated, map[string]any{
		"subjects":        subjects,
		"base_fm_version": baseFMVersion,
		"ns_uid":          ns.NsUID,
	}, nil, types.CreatedBySystem); err != nil {
		s.log.Warn("Failed to record namespace_created event", "namespace_id", ns.ID, "error", err)
	}

	ok, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusInitializing}, types.NamespaceStatusActive, nil)
	if err != nil || !ok {
		// Activation never succeeded, so the allocation and the row both go.
		if delErr := s.resources.Delete(ctx, nil, ns.ID); delErr != nil {
			s.log.Error("Failed to roll back resource allocation", "namespace_id", ns.ID, "error", delErr)
		}
		if delErr := s.nsRepo.HardDelete(ctx, nil, ns.ID); delErr != nil {
			s.log.Error("Failed to roll back partially-initialized namespace", "namespace_id", ns.ID, "error", delErr)
		}
		if err != nil {
			return nil, fmt.Errorf("activate namespace: %w", err)
		}
		return nil, apperr.Fatal("activation_race", "namespace %s left initializing state unexpectedly", ns.ID)
	}
	ns.Status = types.NamespaceStatusActive

	s.audit.Record(ctx, "namespace.create", "namespace", ns.ID.String(), types.CreatedBySystem, map[string]any{
		"learner_id": learnerID,
		"subjects":   subjects,
	})
	s.log.Info("Namespace created", "learner_id", learnerID, "namespace_id", ns.ID, "ns_uid", ns.NsUID)
	return ns, nil
}

func (s *namespaceService) Get(ctx context.Context, learnerID string) (*types.Namespace, error) {
	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	return ns, nil
}

func (s *namespaceService) List(ctx context.Context, statuses []string) ([]*types.Namespace, error) {
	return s.nsRepo.List(ctx, nil, statuses)
}

func (s *namespaceService) Delete(ctx context.Context, learnerID string, authToken string) error {
	if s.cfg.GuardianSecret == "" ||
		subtle.ConstantTimeCompare([]byte(authToken), []byte(s.cfg.GuardianSecret)) != 1 {
		return apperr.Unauthorized("guardian_token_mismatch", "namespace deletion requires the guardian token")
	}
	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}

	ok, err := s.nsRepo.TransitionStatus(ctx, nil, ns.ID, []string{types.NamespaceStatusActive}, types.NamespaceStatusDeleted, nil)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	if !ok {
		return apperr.Conflict("namespace_not_active", "namespace for learner %s is %s, only active namespaces can be deleted", learnerID, ns.Status)
	}

	if err := s.resources.MarkReleased(ctx, nil, ns.ID); err != nil {
		s.log.Warn("Failed to release namespace resources", "namespace_id", ns.ID, "error", err)
	}

	if _, err := s.events.LogEvent(ctx, nil, ns.ID, learnerID, types.EventNamespaceDeleted, map[string]any{
		"ns_uid": ns.NsUID,
	}, nil, types.CreatedByGuardian); err != nil {
		s.log.Warn("Failed to record namespace_deleted event", "namespace_id", ns.ID, "error", err)
	}

	s.audit.Record(ctx, "namespace.delete", "namespace", ns.ID.String(), types.CreatedByGuardian, map[string]any{
		"learner_id": learnerID,
	})
	s.log.Info("Namespace deleted", "learner_id", learnerID, "namespace_id", ns.ID)
	return nil
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON([]byte(`{}`))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func boolFromConfig(cfg map[string]any, key string, def bool) bool {
	if cfg == nil {
		return def
	}
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return def
}

// SubjectsOf decodes the namespace subject set.
func SubjectsOf(ns *types.Namespace) []string {
	if ns == nil || len(ns.Subjects) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(ns.Subjects, &out); err != nil {
		return nil
	}
	return out
}
