package services

import (
	"context"
	"fmt"

	redisclient "github.com/veloria-ai/fmcore/internal/clients/redis"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
)

// SystemStats is the operator-facing snapshot of orchestrator state.
type SystemStats struct {
	NamespacesByStatus map[string]int64 `json:"namespaces_by_status"`
	MergeOpsByStatus   map[string]int64 `json:"merge_ops_by_status"`
	ResetsByStatus     map[string]int64 `json:"resets_by_status"`
	TotalEvents        int64            `json:"total_events"`
	QueueDepths        map[string]int64 `json:"queue_depths"`
}

type StatsService interface {
	Snapshot(ctx context.Context) (*SystemStats, error)
}

type statsService struct {
	log      *logger.Logger
	cfg      Config
	nsRepo   repos.NamespaceRepo
	mergeOps repos.MergeOperationRepo
	resets   repos.AdapterResetRepo
	events   repos.EventLogRepo
	queue    redisclient.WorkQueue
}

func NewStatsService(
	baseLog *logger.Logger,
	cfg Config,
	nsRepo repos.NamespaceRepo,
	mergeOps repos.MergeOperationRepo,
	resets repos.AdapterResetRepo,
	events repos.EventLogRepo,
	queue redisclient.WorkQueue,
) StatsService {
	return &statsService{
		log:      baseLog.With("service", "StatsService"),
		cfg:      cfg,
		nsRepo:   nsRepo,
		mergeOps: mergeOps,
		resets:   resets,
		events:   events,
		queue:    queue,
	}
}

func (s *statsService) Snapshot(ctx context.Context) (*SystemStats, error) {
	nsCounts, err := s.nsRepo.CountByStatus(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count namespaces: %w", err)
	}
	opCounts, err := s.mergeOps.CountByStatus(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count merge operations: %w", err)
	}
	resetCounts, err := s.resets.CountByStatus(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count reset requests: %w", err)
	}
	eventCount, err := s.events.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	depths := make(map[string]int64, 3)
	for _, q := range []string{s.cfg.MergeQueue, s.cfg.FallbackQueue, s.cfg.ResetQueue} {
		n, err := s.queue.Length(ctx, q)
		if err != nil {
			// Queue depth is advisory; a broker hiccup should not fail the snapshot.
			s.log.Warn("Failed to read queue depth", "queue", q, "error", err)
			n = -1
		}
		depths[q] = n
	}

	return &SystemStats{
		NamespacesByStatus: nsCounts,
		MergeOpsByStatus:   opCounts,
		ResetsByStatus:     resetCounts,
		TotalEvents:        eventCount,
		QueueDepths:        depths,
	}, nil
}
