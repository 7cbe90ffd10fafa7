package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/checkpoint"
	redisclient "github.com/veloria-ai/fmcore/internal/clients/redis"
	"github.com/veloria-ai/fmcore/internal/fmregistry"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/services"
)

type Services struct {
	EventLog  services.EventLogService
	Namespace services.NamespaceService
	Health    services.HealthService
	Merge     services.MergeService
	Fallback  services.FallbackService
	Reset     services.ResetService
	Stats     services.StatsService

	Queue      redisclient.WorkQueue
	Checkpoint *checkpoint.Manager
	Registry   fmregistry.Registry
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, rp Repos) (Services, error) {
	log.Info("Wiring services...")

	queue, err := redisclient.NewWorkQueue(log)
	if err != nil {
		return Services{}, fmt.Errorf("init work queue: %w", err)
	}

	var store checkpoint.Store
	switch cfg.CheckpointStore {
	case "memory":
		store = checkpoint.NewMemoryStore()
	default:
		gcs, err := checkpoint.NewGCSStore(log)
		if err != nil {
			return Services{}, fmt.Errorf("init checkpoint store: %w", err)
		}
		store = gcs
	}
	ckpt := checkpoint.NewManager(store, cfg.MarkerTTL, log)
	registry := fmregistry.NewStoreRegistry(store, cfg.LatestFMVersion, log)

	audit := services.NewLogAuditSink(log)
	approval := services.NewLogApprovalClient(log)

	events := services.NewEventLogService(db, log, rp.EventLog, rp.Namespace)
	namespaces := services.NewNamespaceService(db, log, cfg.Services, rp.Namespace, rp.ResourceAllocation, events, registry, audit)
	health := services.NewHealthService(db, log, cfg.Services, rp.Namespace, ckpt, registry)
	merges := services.NewMergeService(db, log, cfg.Services, rp.Namespace, rp.MergeOperation, events, ckpt, registry, queue, audit)
	fallback := services.NewFallbackService(db, log, cfg.Services, rp.Namespace, rp.MergeOperation, events, ckpt, registry, queue, audit)
	resets := services.NewResetService(db, log, cfg.Services, rp.Namespace, rp.AdapterReset, events, ckpt, registry, queue, approval, audit)
	stats := services.NewStatsService(log, cfg.Services, rp.Namespace, rp.MergeOperation, rp.AdapterReset, rp.EventLog, queue)

	return Services{
		EventLog:   events,
		Namespace:  namespaces,
		Health:     health,
		Merge:      merges,
		Fallback:   fallback,
		Reset:      resets,
		Stats:      stats,
		Queue:      queue,
		Checkpoint: ckpt,
		Registry:   registry,
	}, nil
}
