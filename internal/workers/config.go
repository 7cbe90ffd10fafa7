package workers

import "time"

// Config holds the scheduling knobs for the background loops. Values come
// from the environment via the app package.
type Config struct {
	Consumers int

	PopTimeout time.Duration

	MergeSweepInterval  time.Duration
	MergeSweepCutoff    time.Duration
	HealthSweepInterval time.Duration
	CleanupInterval     time.Duration

	SweepBatchSize  int
	SweepBatchDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Consumers:           2,
		PopTimeout:          5 * time.Second,
		MergeSweepInterval:  1 * time.Hour,
		MergeSweepCutoff:    20 * time.Hour,
		HealthSweepInterval: 15 * time.Minute,
		CleanupInterval:     6 * time.Hour,
		SweepBatchSize:      10,
		SweepBatchDelay:     200 * time.Millisecond,
	}
}
