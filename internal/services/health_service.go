package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/checkpoint"
	"github.com/veloria-ai/fmcore/internal/fmregistry"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/types"
)

// Health is the evaluated condition of one namespace.
type Health struct {
	NamespaceID       uuid.UUID `json:"namespace_id"`
	LearnerID         string    `json:"learner_id"`
	Status            string    `json:"status"`
	VersionLag        int       `json:"version_lag"`
	LastMergeAgoHours float64   `json:"last_merge_ago_hours"`
	IntegrityScore    float64   `json:"integrity_score"`
	Issues            []string  `json:"issues"`
	IsHealthy         bool      `json:"is_healthy"`
}

type HealthService interface {
	CheckHealth(ctx context.Context, learnerID string) (*Health, error)
	EvaluateNamespace(ctx context.Context, ns *types.Namespace) (*Health, error)
}

type healthService struct {
	db       *gorm.DB
	log      *logger.Logger
	cfg      Config
	nsRepo   repos.NamespaceRepo
	ckpt     *checkpoint.Manager
	registry fmregistry.Registry
}

func NewHealthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	nsRepo repos.NamespaceRepo,
	ckpt *checkpoint.Manager,
	registry fmregistry.Registry,
) HealthService {
	return &healthService{
		db:       db,
		log:      baseLog.With("service", "HealthService"),
		cfg:      cfg,
		nsRepo:   nsRepo,
		ckpt:     ckpt,
		registry: registry,
	}
}

func (s *healthService) CheckHealth(ctx context.Context, learnerID string) (*Health, error) {
	ns, err := s.nsRepo.GetByLearnerID(ctx, nil, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load namespace: %w", err)
	}
	if ns == nil {
		return nil, apperr.NotFound("namespace_not_found", "no namespace for learner %s", learnerID)
	}
	return s.EvaluateNamespace(ctx, ns)
}

// EvaluateNamespace computes version lag, merge staleness, and checkpoint
// integrity. Integrity is binary: the marker either verifies or it does
// not.
func (s *healthService) EvaluateNamespace(ctx context.Context, ns *types.Namespace) (*Health, error) {
	h := &Health{
		NamespaceID: ns.ID,
		LearnerID:   ns.LearnerID,
		Status:      ns.Status,
		Issues:      []string{},
	}

	latest, err := s.registry.LatestVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve latest version: %w", err)
	}
	h.VersionLag = fmregistry.VersionLag(ns.BaseFMVersion, latest)
	if h.VersionLag > s.cfg.MaxVersionLag {
		h.Issues = append(h.Issues, fmt.Sprintf("version lag %d exceeds maximum %d", h.VersionLag, s.cfg.MaxVersionLag))
	}

	if ns.LastMergeAt != nil {
		h.LastMergeAgoHours = time.Since(*ns.LastMergeAt).Hours()
		if time.Since(*ns.LastMergeAt) > s.cfg.StaleMergeAfter {
			h.Issues = append(h.Issues, fmt.Sprintf("no merge within %.0f hours", s.cfg.StaleMergeAfter.Hours()))
		}
	} else if ns.VersionCount > 0 {
		// A merged namespace with no timestamp is equally stale.
		h.LastMergeAgoHours = time.Since(ns.CreatedAt).Hours()
		h.Issues = append(h.Issues, fmt.Sprintf("no merge within %.0f hours", s.cfg.StaleMergeAfter.Hours()))
	}

	h.IntegrityScore = 1.0
	if ns.CurrentCheckpointHash != "" {
		verified, err := s.ckpt.Verify(ctx, ns.NsUID, ns.CurrentCheckpointHash)
		if err != nil {
			s.log.Warn("Checkpoint integrity verification errored", "namespace_id", ns.ID, "error", err)
			verified = false
		}
		if !verified {
			h.IntegrityScore = 0.0
			h.Issues = append(h.Issues, "checkpoint integrity verification failed")
		}
	}

	h.IsHealthy = len(h.Issues) == 0 &&
		ns.Status == types.NamespaceStatusActive &&
		h.VersionLag <= s.cfg.MaxVersionLag
	return h, nil
}
