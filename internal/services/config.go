package services

import "time"

// Config carries the orchestration knobs shared across coordinators. It is
// loaded from the environment by the app package and injected explicitly;
// there is no package-level state.
type Config struct {
	GuardianSecret string

	MergeQueue    string
	FallbackQueue string
	ResetQueue    string

	MaxMergeAttempts int
	MergeBackoffBase time.Duration
	StageDelay       time.Duration

	MaxVersionLag            int
	FallbackVersionLag       int
	FallbackScoreThreshold   float64
	CorruptionScoreThreshold float64
	StaleMergeAfter          time.Duration

	MergeOpRetention time.Duration
	EventRetention   time.Duration

	DefaultMemoryLimitMB  int
	DefaultCPULimitMillis int
	DefaultStorageLimitMB int
}

func DefaultConfig() Config {
	return Config{
		GuardianSecret:           "",
		MergeQueue:               "fmcore:merge_queue",
		FallbackQueue:            "fmcore:fallback_queue",
		ResetQueue:               "fmcore:reset_queue",
		MaxMergeAttempts:         3,
		MergeBackoffBase:         500 * time.Millisecond,
		StageDelay:               0,
		MaxVersionLag:            2,
		FallbackVersionLag:       3,
		FallbackScoreThreshold:   0.8,
		CorruptionScoreThreshold: 0.5,
		StaleMergeAfter:          48 * time.Hour,
		MergeOpRetention:         7 * 24 * time.Hour,
		EventRetention:           90 * 24 * time.Hour,
		DefaultMemoryLimitMB:     2048,
		DefaultCPULimitMillis:    1000,
		DefaultStorageLimitMB:    4096,
	}
}
