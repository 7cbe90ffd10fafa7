package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
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
)

// fakeQueue is an in-memory stand-in for the Redis work queue.
type fakeQueue struct {
	mu     sync.Mutex
	queues map[string][]string
	pushes int
	fail   bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{queues: map[string][]string{}}
}

func (q *fakeQueue) Push(ctx context.Context, queue string, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return fmt.Errorf("queue unavailable")
	}
	q.queues[queue] = append(q.queues[queue], itemID)
	q.pushes++
	return nil
}

func (q *fakeQueue) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.queues[queue]
	if len(items) == 0 {
		return "", nil
	}
	head := items[0]
	q.queues[queue] = items[1:]
	return head, nil
}

func (q *fakeQueue) Length(ctx context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queues[queue])), nil
}

func (q *fakeQueue) Close() error { return nil }

// captureApprovalClient records outgoing approval requests.
type captureApprovalClient struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (c *captureApprovalClient) CreateApprovalRequest(ctx context.Context, payload map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return fmt.Sprintf("appr-%d", len(c.payloads)), nil
}

func (c *captureApprovalClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

type testEnv struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        Config
	nsRepo     repos.NamespaceRepo
	opsRepo    repos.MergeOperationRepo
	eventsRepo repos.EventLogRepo
	resetsRepo repos.AdapterResetRepo
	resources  repos.ResourceAllocationRepo
	store      *checkpoint.MemoryStore
	ckpt       *checkpoint.Manager
	registry   fmregistry.Registry
	queue      *fakeQueue
	approval   *captureApprovalClient

	events     EventLogService
	namespaces NamespaceService
	health     HealthService
	merges     MergeService
	fallback   FallbackService
	resets     ResetService
}

func newTestEnv(t *testing.T) *testEnv {
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

	cfg := DefaultConfig()
	cfg.GuardianSecret = "guardian-secret"
	cfg.MergeBackoffBase = time.Millisecond
	cfg.StageDelay = 0

	env := &testEnv{
		db:         db,
		log:        log,
		cfg:        cfg,
		nsRepo:     repos.NewNamespaceRepo(db, log),
		opsRepo:    repos.NewMergeOperationRepo(db, log),
		eventsRepo: repos.NewEventLogRepo(db, log),
		resetsRepo: repos.NewAdapterResetRepo(db, log),
		resources:  repos.NewResourceAllocationRepo(db, log),
		store:      checkpoint.NewMemoryStore(),
		queue:      newFakeQueue(),
		approval:   &captureApprovalClient{},
	}
	env.ckpt = checkpoint.NewManager(env.store, 24*time.Hour, log)
	env.registry = fmregistry.NewStaticRegistry("fm-2.1")

	audit := NopAuditSink{}
	env.events = NewEventLogService(db, log, env.eventsRepo, env.nsRepo)
	env.namespaces = NewNamespaceService(db, log, cfg, env.nsRepo, env.resources, env.events, env.registry, audit)
	env.health = NewHealthService(db, log, cfg, env.nsRepo, env.ckpt, env.registry)
	env.merges = NewMergeService(db, log, cfg, env.nsRepo, env.opsRepo, env.events, env.ckpt, env.registry, env.queue, audit)
	env.fallback = NewFallbackService(db, log, cfg, env.nsRepo, env.opsRepo, env.events, env.ckpt, env.registry, env.queue, audit)
	env.resets = NewResetService(db, log, cfg, env.nsRepo, env.resetsRepo, env.events, env.ckpt, env.registry, env.queue, env.approval, audit)
	return env
}

// failingRegistry always reports the model artifacts unreachable.
type failingRegistry struct{}

func (failingRegistry) LatestVersion(ctx context.Context) (string, error) { return "fm-2.1", nil }

func (failingRegistry) GetBaseModel(ctx context.Context, version string, subject string) ([]byte, error) {
	return nil, fmt.Errorf("model registry unreachable")
}
