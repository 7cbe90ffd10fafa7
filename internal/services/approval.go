package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/veloria-ai/fmcore/internal/logger"
)

const (
	ApprovalDecisionApproved = "approved"
	ApprovalDecisionRejected = "rejected"
)

// ApprovalClient files a request with the external approval service. The
// decision arrives later through ResetService.HandleApprovalDecision.
type ApprovalClient interface {
	CreateApprovalRequest(ctx context.Context, payload map[string]any) (string, error)
}

// logApprovalClient stands in when no external approval service is wired:
// it allocates the approval id locally and logs the request so an operator
// can act on it.
type logApprovalClient struct {
	log *logger.Logger
}

func NewLogApprovalClient(baseLog *logger.Logger) ApprovalClient {
	return &logApprovalClient{log: baseLog.With("service", "ApprovalClient")}
}

func (c *logApprovalClient) CreateApprovalRequest(ctx context.Context, payload map[string]any) (string, error) {
	approvalID := uuid.New().String()
	c.log.Info("Approval request created", "approval_id", approvalID, "payload", payload)
	return approvalID, nil
}
