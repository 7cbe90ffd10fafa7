package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/veloria-ai/fmcore/internal/apperr"
	"github.com/veloria-ai/fmcore/internal/types"
)

func TestLogEventAssignsGaplessSequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}

	// Creation already wrote namespace_created at sequence 1.
	for i := 0; i < 4; i++ {
		e, err := env.events.LogEvent(ctx, nil, ns.ID, "L1", types.EventLearningUpdate, map[string]any{"subject": "math"}, nil, "")
		if err != nil {
			t.Fatalf("log event: %v", err)
		}
		if e.SequenceNumber != int64(i+2) {
			t.Fatalf("sequence = %d, want %d", e.SequenceNumber, i+2)
		}
		if e.CreatedBy != types.CreatedBySystem {
			t.Fatalf("created_by defaulted to %s, want system", e.CreatedBy)
		}
		if e.CorrelationID == "" {
			t.Fatalf("expected a correlation id")
		}
	}

	all, err := env.events.ListEvents(ctx, "L1", "", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d events, want 5", len(all))
	}
	for i, e := range all {
		if e.SequenceNumber != int64(i+1) {
			t.Fatalf("position %d has sequence %d", i, e.SequenceNumber)
		}
	}
}

func TestLogEventValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.events.LogEvent(ctx, nil, uuid.Nil, "L1", types.EventLearningUpdate, nil, nil, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation for nil namespace, got %v", err)
	}

	ns, err := env.namespaces.Create(ctx, "L1", []string{"math"}, "fm-2.0", nil, nil)
	if err != nil {
		t.Fatalf("create namespace: %v", err)
	}
	if _, err := env.events.LogEvent(ctx, nil, ns.ID, "L1", "", nil, nil, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation for empty event type, got %v", err)
	}
}

func TestListEventsUnknownLearner(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.events.ListEvents(context.Background(), "ghost", "", "", 0); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
