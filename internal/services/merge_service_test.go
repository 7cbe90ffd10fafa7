package services

import (
	"context"
	"testing"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/types"
)

func TestTriggerAndExecuteMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math", "science"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	op, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeManual, "", false)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if op.Status != types.MergeStatusPending {
		t.Fatalf("status = %s, want pending", op.Status)
	}
	if n, _ := env.queue.Length(ctx, env.cfg.MergeQueue); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}

	if err := env.merges.ExecuteMerge(ctx, op.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	done, err := env.merges.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if done.Status != types.MergeStatusCompleted {
		t.Fatalf("status = %s (%s), want completed", done.Status, done.ErrorMessage)
	}
	if done.TargetCheckpointHash == "" || done.ProgressPercent != 100 {
		t.Fatalf("completed op missing checkpoint hash or progress: %+v", done)
	}

	ns, err := env.namespaces.Get(ctx, "L1")
	if err != nil {
		t.Fatalf("get namespace: %v", err)
	}
	if ns.Status != types.NamespaceStatusActive {
		t.Fatalf("namespace status = %s, want active", ns.Status)
	}
	if ns.VersionCount != 1 {
		t.Fatalf("version count = %d, want 1", ns.VersionCount)
	}
	if ns.BaseFMVersion != "fm-2.1" {
		t.Fatalf("base version = %s, want fm-2.1", ns.BaseFMVersion)
	}
	if ns.CurrentCheckpointHash != done.TargetCheckpointHash {
		t.Fatalf("namespace hash %s != operation hash %s", ns.CurrentCheckpointHash, done.TargetCheckpointHash)
	}

	verified, err := env.ckpt.Verify(ctx, ns.NsUID, ns.CurrentCheckpointHash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified {
		t.Fatalf("new checkpoint must verify")
	}

	// A second merge keeps the version count strictly increasing and
	// produces a distinct checkpoint.
	firstHash := ns.CurrentCheckpointHash
	op2, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeNightly, "", false)
	if err != nil {
		t.Fatalf("trigger second: %v", err)
	}
	if err := env.merges.ExecuteMerge(ctx, op2.ID); err != nil {
		t.Fatalf("execute second: %v", err)
	}
	ns, _ = env.namespaces.Get(ctx, "L1")
	if ns.VersionCount != 2 {
		t.Fatalf("version count = %d, want 2", ns.VersionCount)
	}
	if ns.CurrentCheckpointHash == firstHash {
		t.Fatalf("expected a new checkpoint hash after second merge")
	}
}

func TestTriggerMergeExclusivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeNightly, "", false); err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	_, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeNightly, "", false)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict while a merge is pending, got %v", err)
	}
	if apperr.CodeOf(err) != "merge_in_progress" {
		t.Fatalf("code = %s, want merge_in_progress", apperr.CodeOf(err))
	}
}

func TestExecuteMergeIdempotentOnTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	op, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeManual, "", false)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.merges.ExecuteMerge(ctx, op.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Redelivery of a finished operation must be a no-op.
	if err := env.merges.ExecuteMerge(ctx, op.ID); err != nil {
		t.Fatalf("redelivered execute: %v", err)
	}
	ns, _ := env.namespaces.Get(ctx, "L1")
	if ns.VersionCount != 1 {
		t.Fatalf("version count = %d after redelivery, want 1", ns.VersionCount)
	}
}

func TestMergeFailureReturnsNamespaceToActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	op, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeManual, "", false)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	broken := NewMergeService(env.db, env.log, env.cfg, env.nsRepo, env.opsRepo, env.events, env.ckpt, failingRegistry{}, env.queue, NopAuditSink{})
	if err := broken.ExecuteMerge(ctx, op.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	failed, err := env.merges.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("get operation: %v", err)
	}
	if failed.Status != types.MergeStatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.Attempts != env.cfg.MaxMergeAttempts {
		t.Fatalf("attempts = %d, want %d", failed.Attempts, env.cfg.MaxMergeAttempts)
	}
	if failed.ErrorMessage == "" {
		t.Fatalf("expected an error message on the failed operation")
	}

	ns, _ := env.namespaces.Get(ctx, "L1")
	if ns.Status != types.NamespaceStatusActive {
		t.Fatalf("namespace status = %s after failure, want active", ns.Status)
	}
	if ns.VersionCount != 0 {
		t.Fatalf("failed merge must not advance version count, got %d", ns.VersionCount)
	}
}

func TestCancelPendingOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	op, err := env.merges.TriggerMerge(ctx, "L1", types.OperationTypeManual, "", false)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	cancelled, err := env.merges.CancelOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != types.MergeStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling again must conflict: the operation is no longer pending.
	if _, err := env.merges.CancelOperation(ctx, op.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict cancelling a cancelled op, got %v", err)
	}

	// And queue redelivery of the cancelled op is a no-op.
	if err := env.merges.ExecuteMerge(ctx, op.ID); err != nil {
		t.Fatalf("execute cancelled: %v", err)
	}
}
