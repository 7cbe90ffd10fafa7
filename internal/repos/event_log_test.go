package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/veloria-ai/fmcore/internal/types"
)

func appendEvent(t *testing.T, repo EventLogRepo, db *gorm.DB, ns *types.Namespace, seq int64, eventType, subject string) *types.EventLogEntry {
	t.Helper()
	data := `{}`
	if subject != "" {
		data = fmt.Sprintf(`{"subject":%q}`, subject)
	}
	entry := &types.EventLogEntry{
		ID:             uuid.New(),
		NamespaceID:    ns.ID,
		LearnerID:      ns.LearnerID,
		EventType:      eventType,
		EventData:      datatypes.JSON([]byte(data)),
		SequenceNumber: seq,
		CorrelationID:  uuid.New().String(),
		CreatedBy:      types.CreatedBySystem,
		CreatedAt:      time.Now(),
	}
	if err := repo.Append(context.Background(), nil, entry); err != nil {
		t.Fatalf("append event: %v", err)
	}
	return entry
}

func TestEventLogListOrderedBySequence(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventLogRepo(db, newTestLogger(t))
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)

	// Inserted out of order on purpose.
	appendEvent(t, repo, db, ns, 3, types.EventLearningUpdate, "math")
	appendEvent(t, repo, db, ns, 1, types.EventLearningUpdate, "math")
	appendEvent(t, repo, db, ns, 2, types.EventLessonCompleted, "science")

	out, err := repo.ListByNamespace(context.Background(), nil, ns.ID, "", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d events, want 3", len(out))
	}
	for i, e := range out {
		if e.SequenceNumber != int64(i+1) {
			t.Fatalf("position %d has sequence %d", i, e.SequenceNumber)
		}
	}
}

func TestEventLogDuplicateSequenceRejected(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventLogRepo(db, newTestLogger(t))
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)

	appendEvent(t, repo, db, ns, 1, types.EventLearningUpdate, "math")

	dup := &types.EventLogEntry{
		ID:             uuid.New(),
		NamespaceID:    ns.ID,
		LearnerID:      ns.LearnerID,
		EventType:      types.EventLearningUpdate,
		EventData:      datatypes.JSON([]byte(`{}`)),
		SequenceNumber: 1,
		CorrelationID:  uuid.New().String(),
		CreatedBy:      types.CreatedBySystem,
		CreatedAt:      time.Now(),
	}
	if err := repo.Append(context.Background(), nil, dup); err == nil {
		t.Fatalf("expected unique constraint violation for duplicate sequence")
	}
}

func TestEventLogReplayableFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventLogRepo(db, newTestLogger(t))
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)
	ctx := context.Background()

	appendEvent(t, repo, db, ns, 1, types.EventLearningUpdate, "math")
	appendEvent(t, repo, db, ns, 2, types.EventQuizAttempt, "science")
	appendEvent(t, repo, db, ns, 3, types.EventMergeCompleted, "")
	appendEvent(t, repo, db, ns, 4, types.EventLessonCompleted, "math")

	all, err := repo.ListReplayable(ctx, nil, ns.ID, "")
	if err != nil {
		t.Fatalf("list replayable: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d replayable events, want 3", len(all))
	}

	math, err := repo.ListReplayable(ctx, nil, ns.ID, "math")
	if err != nil {
		t.Fatalf("list replayable by subject: %v", err)
	}
	if len(math) != 2 {
		t.Fatalf("got %d math events, want 2", len(math))
	}

	count, err := repo.CountReplayable(ctx, nil, ns.ID)
	if err != nil {
		t.Fatalf("count replayable: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestEventLogPurgeBefore(t *testing.T) {
	db := newTestDB(t)
	repo := NewEventLogRepo(db, newTestLogger(t))
	ns := makeNamespace(t, db, "L1", types.NamespaceStatusActive)
	ctx := context.Background()

	old := appendEvent(t, repo, db, ns, 1, types.EventLearningUpdate, "math")
	appendEvent(t, repo, db, ns, 2, types.EventLearningUpdate, "math")
	if err := db.Model(&types.EventLogEntry{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-100*24*time.Hour)).Error; err != nil {
		t.Fatalf("age event: %v", err)
	}

	purged, err := repo.PurgeBefore(ctx, nil, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	remaining, err := repo.Count(ctx, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
}
