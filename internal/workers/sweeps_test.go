package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/veloria-ai/fmcore/internal/checkpoint"
	dbpkg "github.com/veloria-ai/fmcore/internal/db"
	"github.com/veloria-ai/fmcore/internal/fmregistry"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/repos"
	"github.com/veloria-ai/fmcore/internal/services"
	"github.com/veloria-ai/fmcore/internal/types"
)

type sweepEnv struct {
	db         *gorm.DB
	queue      *memQueue
	store      *checkpoint.MemoryStore
	ckpt       *checkpoint.Manager
	nsRepo     repos.NamespaceRepo
	opsRepo    repos.MergeOperationRepo
	eventsRepo repos.EventLogRepo
	namespaces services.NamespaceService
	merges     services.MergeService
	sweeper    *Sweeper
}

func newSweepEnv(t *testing.T, markerTTL time.Duration) *sweepEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	svcCfg := services.DefaultConfig()
	svcCfg.StageDelay = 0
	cfg := DefaultConfig()
	cfg.SweepBatchSize = 1
	cfg.SweepBatchDelay = time.Millisecond

	env := &sweepEnv{
		db:         db,
		queue:      &memQueue{},
		store:      checkpoint.NewMemoryStore(),
		nsRepo:     repos.NewNamespaceRepo(db, log),
		opsRepo:    repos.NewMergeOperationRepo(db, log),
		eventsRepo: repos.NewEventLogRepo(db, log),
	}
	env.ckpt = checkpoint.NewManager(env.store, markerTTL, log)
	registry := fmregistry.NewStaticRegistry("fm-2.1")
	audit := services.NopAuditSink{}
	resources := repos.NewResourceAllocationRepo(db, log)

	events := services.NewEventLogService(db, log, env.eventsRepo, env.nsRepo)
	env.namespaces = services.NewNamespaceService(db, log, svcCfg, env.nsRepo, resources, events, registry, audit)
	env.merges = services.NewMergeService(db, log, svcCfg, env.nsRepo, env.opsRepo, events, env.ckpt, registry, env.queue, audit)
	health := services.NewHealthService(db, log, svcCfg, env.nsRepo, env.ckpt, registry)
	fallback := services.NewFallbackService(db, log, svcCfg, env.nsRepo, env.opsRepo, events, env.ckpt, registry, env.queue, audit)

	env.sweeper = NewSweeper(log, cfg, svcCfg, env.nsRepo, env.opsRepo, env.eventsRepo, env.merges, health, fallback, env.ckpt)
	return env
}

func TestMergeSweepTriggersStaleNamespaces(t *testing.T) {
	env := newSweepEnv(t, 24*time.Hour)
	ctx := context.Background()

	// Two namespaces that never merged, one merged moments ago, one corrupted.
	for _, learner := range []string{"L1", "L2"} {
		if _, err := env.namespaces.Create(ctx, learner, []string{"math"}, "", nil, nil); err != nil {
			t.Fatalf("create %s: %v", learner, err)
		}
	}
	fresh, err := env.namespaces.Create(ctx, "L3", []string{"math"}, "", nil, nil)
	if err != nil {
		t.Fatalf("create L3: %v", err)
	}
	if err := env.nsRepo.UpdateFields(ctx, nil, fresh.ID, map[string]interface{}{"last_merge_at": time.Now()}); err != nil {
		t.Fatalf("seed merge time: %v", err)
	}
	corrupted, err := env.namespaces.Create(ctx, "L4", []string{"math"}, "", nil, nil)
	if err != nil {
		t.Fatalf("create L4: %v", err)
	}
	if err := env.nsRepo.UpdateFields(ctx, nil, corrupted.ID, map[string]interface{}{"status": types.NamespaceStatusCorrupted}); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	if err := env.sweeper.MergeSweep(ctx); err != nil {
		t.Fatalf("merge sweep: %v", err)
	}
	if n, _ := env.queue.Length(ctx, ""); n != 2 {
		t.Fatalf("queue depth = %d, want 2", n)
	}
	counts, err := env.opsRepo.CountByStatus(ctx, nil)
	if err != nil {
		t.Fatalf("count ops: %v", err)
	}
	if counts[types.MergeStatusPending] != 2 {
		t.Fatalf("pending ops = %d, want 2", counts[types.MergeStatusPending])
	}

	// Overlapping pass finds the same candidates but every trigger
	// conflicts with the already-pending operation.
	if err := env.sweeper.MergeSweep(ctx); err != nil {
		t.Fatalf("second merge sweep: %v", err)
	}
	if n, _ := env.queue.Length(ctx, ""); n != 2 {
		t.Fatalf("queue depth after overlap = %d, want 2", n)
	}
}

func TestHealthSweepEscalatesLaggingNamespace(t *testing.T) {
	env := newSweepEnv(t, 24*time.Hour)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "lagging", []string{"math"}, "fm-1.0", nil, nil); err != nil {
		t.Fatalf("create lagging: %v", err)
	}
	if _, err := env.namespaces.Create(ctx, "healthy", []string{"math"}, "", nil, nil); err != nil {
		t.Fatalf("create healthy: %v", err)
	}

	if err := env.sweeper.HealthSweep(ctx); err != nil {
		t.Fatalf("health sweep: %v", err)
	}

	lagging, err := env.namespaces.Get(ctx, "lagging")
	if err != nil {
		t.Fatalf("get lagging: %v", err)
	}
	if lagging.Status != types.NamespaceStatusFallback {
		t.Fatalf("lagging status = %s, want fallback", lagging.Status)
	}
	ok, err := env.namespaces.Get(ctx, "healthy")
	if err != nil {
		t.Fatalf("get healthy: %v", err)
	}
	if ok.Status != types.NamespaceStatusActive {
		t.Fatalf("healthy status = %s, want active", ok.Status)
	}
	if n, _ := env.queue.Length(ctx, ""); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}

	// Once in fallback the namespace leaves the sweep's scope.
	if err := env.sweeper.HealthSweep(ctx); err != nil {
		t.Fatalf("second health sweep: %v", err)
	}
	if n, _ := env.queue.Length(ctx, ""); n != 1 {
		t.Fatalf("queue depth after second sweep = %d, want 1", n)
	}
}

func TestCleanupPurgesAgedRecords(t *testing.T) {
	// Negative marker TTL makes every integrity marker already expired.
	env := newSweepEnv(t, -time.Hour)
	ctx := context.Background()

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	op, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeManual, "", false)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := env.merges.CancelOperation(ctx, op.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := env.db.Exec("UPDATE merge_operation SET updated_at = ? WHERE id = ?", old, op.ID).Error; err != nil {
		t.Fatalf("age op: %v", err)
	}

	veryOld := time.Now().Add(-120 * 24 * time.Hour)
	if err := env.db.Exec("UPDATE event_log_entry SET created_at = ? WHERE namespace_id = ?", veryOld, ns.ID).Error; err != nil {
		t.Fatalf("age events: %v", err)
	}

	hash, err := env.ckpt.Write(ctx, ns.ID, ns.NsUID, "fm-2.1", 1, []byte(`{}`))
	if err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	if err := env.sweeper.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	counts, err := env.opsRepo.CountByStatus(ctx, nil)
	if err != nil {
		t.Fatalf("count ops: %v", err)
	}
	if counts[types.MergeStatusCancelled] != 0 {
		t.Fatalf("aged cancelled op survived cleanup")
	}
	total, err := env.eventsRepo.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if total != 0 {
		t.Fatalf("aged events survived cleanup, count = %d", total)
	}

	_, markerExists, err := env.store.Get(ctx, checkpoint.MarkerKey(ns.NsUID, hash))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if markerExists {
		t.Fatalf("expired marker still in the store after cleanup")
	}
	// The checkpoint data itself is retained; only the attestation expires.
	if _, dataExists, err := env.store.Get(ctx, checkpoint.DataKey(ns.NsUID, hash)); err != nil || !dataExists {
		t.Fatalf("checkpoint data missing after cleanup: %v", err)
	}
}
