package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/db"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/workers"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}
	handlerset := wireHandlers(log, serviceset)
	router := wireRouter(cfg, handlerset)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the queue consumers and maintenance sweeps. Safe to call
// once; a second call is a no-op.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	wcfg := a.Cfg.Workers
	svc := a.Services

	workers.NewConsumer(a.Log, svc.Queue, a.Cfg.Services.MergeQueue, svc.Merge.ExecuteMerge, wcfg).Start(ctx)
	workers.NewConsumer(a.Log, svc.Queue, a.Cfg.Services.FallbackQueue, svc.Fallback.ExecuteFallback, wcfg).Start(ctx)
	workers.NewConsumer(a.Log, svc.Queue, a.Cfg.Services.ResetQueue, svc.Reset.ExecuteReset, wcfg).Start(ctx)

	sweeper := workers.NewSweeper(
		a.Log,
		wcfg,
		a.Cfg.Services,
		a.Repos.Namespace,
		a.Repos.MergeOperation,
		a.Repos.EventLog,
		svc.Merge,
		svc.Health,
		svc.Fallback,
		svc.Checkpoint,
	)
	sweeper.Start(ctx)
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Queue != nil {
		if err := a.Services.Queue.Close(); err != nil {
			a.Log.Warn("Work queue close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
