package app

import (
	"strings"
	"time"

	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/services"
	"github.com/veloria-ai/fmcore/internal/utils"
	"github.com/veloria-ai/fmcore/internal/workers"
)

type Config struct {
	Port            string
	AllowOrigins    []string
	CheckpointStore string
	LatestFMVersion string
	MarkerTTL       time.Duration

	Services services.Config
	Workers  workers.Config
}

func LoadConfig(log *logger.Logger) Config {
	svc := services.DefaultConfig()
	svc.GuardianSecret = utils.GetEnv("GUARDIAN_SECRET", "", log)
	svc.MergeQueue = utils.GetEnv("MERGE_QUEUE", svc.MergeQueue, log)
	svc.FallbackQueue = utils.GetEnv("FALLBACK_QUEUE", svc.FallbackQueue, log)
	svc.ResetQueue = utils.GetEnv("RESET_QUEUE", svc.ResetQueue, log)
	svc.MaxMergeAttempts = utils.GetEnvAsInt("MAX_MERGE_ATTEMPTS", svc.MaxMergeAttempts, log)
	svc.MergeBackoffBase = utils.GetEnvAsDuration("MERGE_BACKOFF_BASE", svc.MergeBackoffBase, log)
	svc.StageDelay = utils.GetEnvAsDuration("MERGE_STAGE_DELAY", svc.StageDelay, log)
	svc.MaxVersionLag = utils.GetEnvAsInt("MAX_VERSION_LAG", svc.MaxVersionLag, log)
	svc.FallbackVersionLag = utils.GetEnvAsInt("FALLBACK_VERSION_LAG", svc.FallbackVersionLag, log)
	svc.FallbackScoreThreshold = utils.GetEnvAsFloat("FALLBACK_SCORE_THRESHOLD", svc.FallbackScoreThreshold, log)
	svc.CorruptionScoreThreshold = utils.GetEnvAsFloat("CORRUPTION_SCORE_THRESHOLD", svc.CorruptionScoreThreshold, log)
	svc.StaleMergeAfter = utils.GetEnvAsDuration("STALE_MERGE_AFTER", svc.StaleMergeAfter, log)
	svc.MergeOpRetention = utils.GetEnvAsDuration("MERGE_OP_RETENTION", svc.MergeOpRetention, log)
	svc.EventRetention = utils.GetEnvAsDuration("EVENT_RETENTION", svc.EventRetention, log)
	svc.DefaultMemoryLimitMB = utils.GetEnvAsInt("DEFAULT_MEMORY_LIMIT_MB", svc.DefaultMemoryLimitMB, log)
	svc.DefaultCPULimitMillis = utils.GetEnvAsInt("DEFAULT_CPU_LIMIT_MILLIS", svc.DefaultCPULimitMillis, log)
	svc.DefaultStorageLimitMB = utils.GetEnvAsInt("DEFAULT_STORAGE_LIMIT_MB", svc.DefaultStorageLimitMB, log)

	wrk := workers.DefaultConfig()
	wrk.Consumers = utils.GetEnvAsInt("QUEUE_CONSUMERS", wrk.Consumers, log)
	wrk.PopTimeout = utils.GetEnvAsDuration("QUEUE_POP_TIMEOUT", wrk.PopTimeout, log)
	wrk.MergeSweepInterval = utils.GetEnvAsDuration("MERGE_SWEEP_INTERVAL", wrk.MergeSweepInterval, log)
	wrk.MergeSweepCutoff = utils.GetEnvAsDuration("MERGE_SWEEP_CUTOFF", wrk.MergeSweepCutoff, log)
	wrk.HealthSweepInterval = utils.GetEnvAsDuration("HEALTH_SWEEP_INTERVAL", wrk.HealthSweepInterval, log)
	wrk.CleanupInterval = utils.GetEnvAsDuration("CLEANUP_INTERVAL", wrk.CleanupInterval, log)
	wrk.SweepBatchSize = utils.GetEnvAsInt("SWEEP_BATCH_SIZE", wrk.SweepBatchSize, log)
	wrk.SweepBatchDelay = utils.GetEnvAsDuration("SWEEP_BATCH_DELAY", wrk.SweepBatchDelay, log)

	var origins []string
	if raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "", log); raw != "" {
		origins = strings.Split(raw, ",")
	}

	return Config{
		Port:            utils.GetEnv("PORT", "8080", log),
		AllowOrigins:    origins,
		CheckpointStore: utils.GetEnv("CHECKPOINT_STORE", "gcs", log),
		LatestFMVersion: utils.GetEnv("LATEST_FM_VERSION", "fm-2.1", log),
		MarkerTTL:       utils.GetEnvAsDuration("CHECKPOINT_MARKER_TTL", 24*time.Hour, log),
		Services:        svc,
		Workers:         wrk,
	}
}
