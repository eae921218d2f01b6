package storage

import (
	"errors"
	"time"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// ErrNotFound is wrapped by lookups that miss. Callers test with
// errors.Is.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for control-plane state. Backed
// by BoltDB; everything is JSON in buckets, writes are upserts.
type Store interface {
	// Deployments
	SaveDeployment(result *types.DeploymentResult) error
	GetDeployment(id string) (*types.DeploymentResult, error)
	ListDeployments(workspaceID string) ([]*types.DeploymentResult, error)
	LatestDeployment(workspaceID string) (*types.DeploymentResult, error)

	// Audit trail
	AppendAuditEvent(event *events.Event) error
	ListAuditEvents(since time.Time, limit int) ([]*events.Event, error)

	// Recovery history
	SaveRecoveryAttempt(attempt types.RecoveryAttemptResult) error
	ListRecoveryAttempts(component string, limit int) ([]types.RecoveryAttemptResult, error)

	// Budget
	SaveBudgetConfig(workspaceID string, cfg types.BudgetConfig) error
	GetBudgetConfig(workspaceID string) (*types.BudgetConfig, error)
	AddSpend(workspaceID, month string, amount float64) (float64, error)
	GetSpend(workspaceID, month string) (float64, error)

	Close() error
}
