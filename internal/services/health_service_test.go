package services

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestHealthyNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.1", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	h, err := env.health.CheckHealth(ctx, "L1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !h.IsHealthy {
		t.Fatalf("expected healthy, issues: %v", h.Issues)
	}
	if h.VersionLag != 0 || h.IntegrityScore != 1.0 {
		t.Fatalf("unexpected metrics: lag=%d score=%f", h.VersionLag, h.IntegrityScore)
	}
}

func TestHealthVersionLag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-1.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	h, err := env.health.CheckHealth(ctx, "L1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if h.IsHealthy {
		t.Fatalf("expected unhealthy for a major version behind")
	}
	if h.VersionLag <= env.cfg.MaxVersionLag {
		t.Fatalf("lag = %d, expected above maximum %d", h.VersionLag, env.cfg.MaxVersionLag)
	}
	if len(h.Issues) == 0 || !strings.Contains(h.Issues[0], "version lag") {
		t.Fatalf("expected a version lag issue, got %v", h.Issues)
	}
}

func TestHealthCheckpointIntegrityFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.1", nil, nil)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	// A recorded hash with no marker in the store cannot verify.
	if err := env.nsRepo.UpdateFields(ctx, nil, ns.ID, map[string]interface{}{
		"current_checkpoint_hash": "missing-checkpoint",
	}); err != nil {
		t.Fatalf("seed hash: %v", err)
	}

	h, err := env.health.CheckHealth(ctx, "L1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if h.IntegrityScore != 0.0 {
		t.Fatalf("integrity score = %f, want 0", h.IntegrityScore)
	}
	found := false
	for _, issue := range h.Issues {
		if strings.Contains(issue, "integrity") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an integrity issue, got %v", h.Issues)
	}

	// This health report must steer the fallback decision.
	warranted, reason := env.fallback.ShouldFallback(h)
	if !warranted || reason != FallbackReasonCorruption {
		t.Fatalf("warranted=%v reason=%s, want corruption fallback", warranted, reason)
	}
}

func TestHealthStaleMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.1", nil, nil)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := env.nsRepo.UpdateFields(ctx, nil, ns.ID, map[string]interface{}{
		"last_merge_at": old,
		"version_count": 3,
	}); err != nil {
		t.Fatalf("seed merge time: %v", err)
	}

	h, err := env.health.CheckHealth(ctx, "L1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if h.IsHealthy {
		t.Fatalf("expected unhealthy for stale merge")
	}
	if h.LastMergeAgoHours < 71 {
		t.Fatalf("last merge ago = %f hours, want about 72", h.LastMergeAgoHours)
	}
}
