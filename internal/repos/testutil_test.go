package repos

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/veloria-ai/fmcore/internal/db"
	"github.com/veloria-ai/fmcore/internal/logger"
	"github.com/veloria-ai/fmcore/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := dbpkg.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

func makeNamespace(t *testing.T, db *gorm.DB, learnerID, status string) *types.Namespace {
	t.Helper()
	now := time.Now()
	ns := &types.Namespace{
		ID:            uuid.New(),
		LearnerID:     learnerID,
		NsUID:         "ns-" + uuid.New().String()[:16],
		Status:        status,
		Subjects:      datatypes.JSON([]byte(`["math","science"]`)),
		BaseFMVersion: "fm-2.0",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(ns).Error; err != nil {
		t.Fatalf("create namespace fixture: %v", err)
	}
	return ns
}
