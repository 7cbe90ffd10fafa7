package workers

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/checkpoint"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/services"
	"github.com/veloria-ai/fmcore/internal/types"
)

// Sweeper runs the periodic maintenance loops: the nightly merge sweep,
// the health sweep that escalates degraded namespaces into fallback, and
// retention cleanup.
type Sweeper struct {
	log      *logger.Logger
	cfg      Config
	svcCfg   services.Config
	nsRepo   repos.NamespaceRepo
	mergeOps repos.MergeOperationRepo
	events   repos.EventLogRepo
	merges   services.MergeService
	health   services.HealthService
	fallback services.FallbackService
	ckpt     *checkpoint.Manager
}

func NewSweeper(
	baseLog *logger.Logger,
	cfg Config,
	svcCfg services.Config,
	nsRepo repos.NamespaceRepo,
	mergeOps repos.MergeOperationRepo,
	events repos.EventLogRepo,
	merges services.MergeService,
	health services.HealthService,
	fallback services.FallbackService,
	ckpt *checkpoint.Manager,
) *Sweeper {
	return &Sweeper{
		log:      baseLog.With("component", "Sweeper"),
		cfg:      cfg,
		svcCfg:   svcCfg,
		nsRepo:   nsRepo,
		mergeOps: mergeOps,
		events:   events,
		merges:   merges,
		health:   health,
		fallback: fallback,
		ckpt:     ckpt,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	go s.runInterval(ctx, "merge_sweep", s.cfg.MergeSweepInterval, s.MergeSweep)
	go s.runInterval(ctx, "health_sweep", s.cfg.HealthSweepInterval, s.HealthSweep)
	go s.runInterval(ctx, "cleanup", s.cfg.CleanupInterval, s.Cleanup)
}

func (s *Sweeper) runInterval(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweep loop stopped", "sweep", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				s.log.Warn("Sweep pass failed", "sweep", name, "error", err)
			}
		}
	}
}

// MergeSweep queues a nightly merge for every active namespace whose last
// merge predates the cutoff. Namespaces are processed in bounded batches
// so a large fleet does not stampede the queue or the registry.
func (s *Sweeper) MergeSweep(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.MergeSweepCutoff)
	candidates, err := s.nsRepo.ListForMergeSweep(ctx, nil, cutoff)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	s.log.Info("Merge sweep starting", "candidates", len(candidates))

	triggered := 0
	for start := 0; start < len(candidates); start += s.cfg.SweepBatchSize {
		end := start + s.cfg.SweepBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, ns := range candidates[start:end] {
			ns := ns
			g.Go(func() error {
				_, err := s.merges.TriggerMerge(gctx, ns.LearnerID, types.OperationTypeNightly, "", false)
				if err != nil {
					// Another merge already in flight is expected during overlap.
					if apperr.Is(err, apperr.KindConflict) {
						return nil
					}
					s.log.Warn("Nightly merge trigger failed", "learner_id", ns.LearnerID, "error", err)
					return nil
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		triggered += end - start

		if end < len(candidates) && s.cfg.SweepBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.SweepBatchDelay):
			}
		}
	}

	s.log.Info("Merge sweep finished", "processed", triggered)
	return nil
}

// HealthSweep evaluates every active or merging namespace and initiates
// fallback recovery where the health check warrants it.
func (s *Sweeper) HealthSweep(ctx context.Context) error {
	namespaces, err := s.nsRepo.List(ctx, nil, []string{types.NamespaceStatusActive, types.NamespaceStatusMerging})
	if err != nil {
		return err
	}

	escalated := 0
	for _, ns := range namespaces {
		h, err := s.health.EvaluateNamespace(ctx, ns)
		if err != nil {
			s.log.Warn("Health evaluation failed", "learner_id", ns.LearnerID, "error", err)
			continue
		}
		warranted, reason := s.fallback.ShouldFallback(h)
		if !warranted {
			continue
		}
		if _, err := s.fallback.InitiateFallback(ctx, ns.LearnerID, reason, ""); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				continue
			}
			s.log.Warn("Fallback initiation failed", "learner_id", ns.LearnerID, "reason", reason, "error", err)
			continue
		}
		escalated++
		s.log.Info("Fallback initiated by health sweep", "learner_id", ns.LearnerID, "reason", reason)
	}

	if escalated > 0 {
		s.log.Info("Health sweep finished", "checked", len(namespaces), "escalated", escalated)
	}
	return nil
}

// Cleanup enforces retention: terminal merge operations, aged event log
// entries past the replay horizon, and expired checkpoint markers.
func (s *Sweeper) Cleanup(ctx context.Context) error {
	now := time.Now()

	opsPurged, err := s.mergeOps.PurgeTerminalBefore(ctx, nil, now.Add(-s.svcCfg.MergeOpRetention))
	if err != nil {
		return err
	}
	eventsPurged, err := s.events.PurgeBefore(ctx, nil, now.Add(-s.svcCfg.EventRetention))
	if err != nil {
		return err
	}
	markersExpired, err := s.ckpt.ExpireStaleMarkers(ctx)
	if err != nil {
		return err
	}

	if opsPurged > 0 || eventsPurged > 0 || markersExpired > 0 {
		s.log.Info("Cleanup pass finished",
			"merge_ops_purged", opsPurged,
			"events_purged", eventsPurged,
			"markers_expired", markersExpired,
		)
	}
	return nil
}
