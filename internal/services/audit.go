package services

import (
	"context"

	"github.com/veloria-ai/fmcore/internal/logger"
)

// AuditSink receives fire-and-forget audit records. Implementations must
// never propagate failures back to the originating operation.
type AuditSink interface {
	Record(ctx context.Context, action string, resourceType string, resourceID string, actor string, details map[string]any)
}

type logAuditSink struct {
	log *logger.Logger
}

func NewLogAuditSink(baseLog *logger.Logger) AuditSink {
	return &logAuditSink{log: baseLog.With("service", "AuditSink")}
}

func (s *logAuditSink) Record(ctx context.Context, action string, resourceType string, resourceID string, actor string, details map[string]any) {
	s.log.Info("audit",
		"action", action,
		"resource_type", resourceType,
		"resource_id", resourceID,
		"actor", actor,
		"details", details,
	)
}

// NopAuditSink discards records; used in tests.
type NopAuditSink struct{}

func (NopAuditSink) Record(ctx context.Context, action string, resourceType string, resourceID string, actor string, details map[string]any) {
}
