package services

import (
	"context"
	"testing"
	"time"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/types"
)

func TestDeriveNsUIDDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := DeriveNsUID("L1", []string{"math", "science"}, at)
	if b := DeriveNsUID("L1", []string{"science", "math"}, at); b != a {
		t.Fatalf("subject order changed ns_uid: %s vs %s", a, b)
	}
	if b := DeriveNsUID("L2", []string{"math", "science"}, at); b == a {
		t.Fatalf("different learners produced the same ns_uid")
	}
	if b := DeriveNsUID("L1", []string{"math", "science"}, at.Add(time.Nanosecond)); b == a {
		t.Fatalf("different creation times produced the same ns_uid")
	}
	if len(a) != len("ns-")+32 {
		t.Fatalf("ns_uid = %q, want ns- prefix plus 32 hex chars", a)
	}
}

func TestCreateNamespaceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math", "science"}, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ns.Status != types.NamespaceStatusActive {
		t.Fatalf("status = %s, want active", ns.Status)
	}
	if ns.NsUID == "" {
		t.Fatalf("expected a derived ns uid")
	}
	if ns.BaseFMVersion != "fm-2.1" {
		t.Fatalf("base version = %s, want registry latest fm-2.1", ns.BaseFMVersion)
	}
	if ns.VersionCount != 0 {
		t.Fatalf("version count = %d, want 0", ns.VersionCount)
	}

	alloc, err := env.resources.GetByNamespaceID(ctx, nil, ns.ID)
	if err != nil {
		t.Fatalf("load allocation: %v", err)
	}
	if alloc == nil {
		t.Fatalf("expected a resource allocation row")
	}
	if !alloc.NetworkIsolated {
		t.Fatalf("network isolation should default on")
	}

	events, err := env.events.ListEvents(ctx, "L1", types.EventNamespaceCreated, "", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].SequenceNumber != 1 {
		t.Fatalf("expected one namespace_created event with sequence 1, got %+v", events)
	}
}

func TestCreateNamespaceDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := env.namespaces.Create(ctx, "L1", []string{"science"}, "fm-2.0", nil, nil)
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for duplicate learner, got %v", err)
	}
}

func TestCreateNamespaceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "", []string{"math"}, "", nil, nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for missing learner, got %v", err)
	}
	if _, err := env.namespaces.Create(ctx, "L1", nil, "", nil, nil); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for missing subjects, got %v", err)
	}
}

func TestDeleteNamespaceRequiresGuardianToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.namespaces.Delete(ctx, "L1", "wrong-token"); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := env.namespaces.Delete(ctx, "L1", "guardian-secret"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ns, err := env.namespaces.Get(ctx, "L1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ns.Status != types.NamespaceStatusDeleted {
		t.Fatalf("status = %s, want deleted", ns.Status)
	}

	alloc, err := env.resources.GetByNamespaceID(ctx, nil, ns.ID)
	if err != nil {
		t.Fatalf("load allocation: %v", err)
	}
	if alloc == nil || alloc.ReleasedAt == nil {
		t.Fatalf("expected released resource allocation, got %+v", alloc)
	}

	// Only active namespaces can be deleted; repeating must conflict.
	if err := env.namespaces.Delete(ctx, "L1", "guardian-secret"); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict deleting non-active namespace, got %v", err)
	}
}
