package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/types"
)

func makeResetRequest(t *testing.T, db *gorm.DB, nsID uuid.UUID, learnerID, subject, status string) *types.AdapterResetRequest {
	t.Helper()
	now := time.Now()
	req := &types.AdapterResetRequest{
		ID:            uuid.New(),
		NamespaceID:   nsID,
		LearnerID:     learnerID,
		Subject:       subject,
		Status:        status,
		RequestedBy:   "guardian-1",
		RequesterRole: types.RoleGuardian,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("create reset fixture: %v", err)
	}
	return req
}

func TestAdapterResetHasNonTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewAdapterResetRepo(db, newTestLogger(t))
	ctx := context.Background()
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)

	makeResetRequest(t, db, ns.ID, "L1", "math", types.ResetStatusCompleted)
	makeResetRequest(t, db, ns.ID, "L1", "science", types.ResetStatusRejected)

	open, err := repo.HasNonTerminal(ctx, nil, "L1", "math")
	if err != nil {
		t.Fatalf("has non-terminal: %v", err)
	}
	if open {
		t.Fatalf("terminal requests should not block a new one")
	}

	makeResetRequest(t, db, ns.ID, "L1", "math", types.ResetStatusPendingApproval)
	open, err = repo.HasNonTerminal(ctx, nil, "L1", "math")
	if err != nil {
		t.Fatalf("has non-terminal: %v", err)
	}
	if !open {
		t.Fatalf("pending approval should block a new request")
	}

	// Subject scoping: the math request must not block a science reset.
	open, err = repo.HasNonTerminal(ctx, nil, "L1", "science")
	if err != nil {
		t.Fatalf("has non-terminal: %v", err)
	}
	if open {
		t.Fatalf("open math request should not block science")
	}
}

func TestAdapterResetGetByApprovalID(t *testing.T) {
	db := newTestDB(t)
	repo := NewAdapterResetRepo(db, newTestLogger(t))
	ctx := context.Background()
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)

	req := makeResetRequest(t, db, ns.ID, "L1", "math", types.ResetStatusPendingApproval)
	approvalID := "appr-" + uuid.New().String()
	if err := repo.UpdateFields(ctx, nil, req.ID, map[string]interface{}{"approval_request_id": approvalID}); err != nil {
		t.Fatalf("attach approval id: %v", err)
	}

	got, err := repo.GetByApprovalID(ctx, nil, approvalID)
	if err != nil {
		t.Fatalf("get by approval id: %v", err)
	}
	if got == nil || got.ID != req.ID {
		t.Fatalf("lookup by approval id returned %+v", got)
	}

	missing, err := repo.GetByApprovalID(ctx, nil, "appr-unknown")
	if err != nil {
		t.Fatalf("get by approval id: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown approval id")
	}
}
