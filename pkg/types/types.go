package types

import (
	"time"
)

// Environment identifies the target environment of a deployment spec
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
	EnvironmentTest        Environment = "test"
)

// Valid reports whether e is a known environment tag.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction, EnvironmentTest:
		return true
	}
	return false
}

// ComponentType enumerates the infrastructure component catalog
type ComponentType string

const (
	ComponentDatabase         ComponentType = "database"
	ComponentCache            ComponentType = "cache"
	ComponentObjectStore      ComponentType = "object-store"
	ComponentVectorStore      ComponentType = "vector-store"
	ComponentGateway          ComponentType = "gateway"
	ComponentInferenceRuntime ComponentType = "inference-runtime"
)

// Critical reports whether a component type halts the remaining
// deployment sequence when it fails.
func (t ComponentType) Critical() bool {
	return t == ComponentDatabase || t == ComponentCache
}

// DeploymentSpec is the declarative description of a workspace's
// infrastructure. Immutable once submitted to a deployment attempt.
type DeploymentSpec struct {
	WorkspaceID     string          `json:"workspace_id" yaml:"workspace_id"`
	Environment     Environment     `json:"environment" yaml:"environment"`
	DataResidency   bool            `json:"data_residency" yaml:"data_residency"`     // restrict to domestic components
	NetworkIsolated bool            `json:"network_isolated" yaml:"network_isolated"` // forbid external endpoints
	Components      []ComponentSpec `json:"components" yaml:"components"`
	Resources       ResourceSpec    `json:"resources" yaml:"resources"`
}

// Component returns the component with the given name, or nil.
func (s *DeploymentSpec) Component(name string) *ComponentSpec {
	for i := range s.Components {
		if s.Components[i].Name == name {
			return &s.Components[i]
		}
	}
	return nil
}

// ComponentSpec describes one infrastructure component within a spec
type ComponentSpec struct {
	Name      string            `json:"name" yaml:"name"` // unique within the spec
	Type      ComponentType     `json:"type" yaml:"type"`
	Enabled   bool              `json:"enabled" yaml:"enabled"`
	Config    map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// ResourceSpec carries the request/limit block for a deployment.
// Quantities use the conventional string forms ("500m", "2Gi").
type ResourceSpec struct {
	CPURequest    string `json:"cpu_request" yaml:"cpu_request"`
	CPULimit      string `json:"cpu_limit" yaml:"cpu_limit"`
	MemoryRequest string `json:"memory_request" yaml:"memory_request"`
	MemoryLimit   string `json:"memory_limit" yaml:"memory_limit"`
	StorageSize   string `json:"storage_size" yaml:"storage_size"`
}

// DeployOptions controls a single deployment attempt
type DeployOptions struct {
	IdempotencyKey    string        `json:"idempotency_key"`
	MaxAttempts       int           `json:"max_attempts"`        // retry budget per component
	RollbackOnFailure bool          `json:"rollback_on_failure"` // undo succeeded components on failure
	ReadinessTimeout  time.Duration `json:"readiness_timeout"`   // 0 = per-component-type default
}

// ComponentStatus is the outcome of a single component deploy
type ComponentStatus string

const (
	ComponentStatusSuccess ComponentStatus = "success"
	ComponentStatusFailed  ComponentStatus = "failed"
	ComponentStatusSkipped ComponentStatus = "skipped"
)

// ComponentResult records the outcome of deploying one component
type ComponentResult struct {
	Name      string          `json:"name"`
	Type      ComponentType   `json:"type"`
	Status    ComponentStatus `json:"status"`
	ServiceID string          `json:"service_id,omitempty"` // backend service identifier
	Endpoint  string          `json:"endpoint,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
}

// DeploymentError is a structured, surfaced deployment failure
type DeploymentError struct {
	Component   string `json:"component"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Hint        string `json:"hint,omitempty"` // human remediation guidance
	Recoverable bool   `json:"recoverable"`
}

// DeploymentResult is the immutable outcome of one deployment attempt.
// Duration is compared against the 15-minute SLA and flagged, never
// failed, on overrun.
type DeploymentResult struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	Success     bool              `json:"success"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Duration    time.Duration     `json:"duration"`
	SLAExceeded bool              `json:"sla_exceeded"`
	Components  []ComponentResult `json:"components"`
	Errors      []DeploymentError `json:"errors,omitempty"`
}

// DeploymentSLA is the soft deadline for a full deployment attempt
const DeploymentSLA = 15 * time.Minute

// RollbackOpType identifies an operation recorded for undo
type RollbackOpType string

const (
	RollbackCreateService RollbackOpType = "create-service"
	RollbackUpdateService RollbackOpType = "update-service"
	RollbackDeleteService RollbackOpType = "delete-service"
	RollbackSetEnv        RollbackOpType = "set-env"
	RollbackCreateRoute   RollbackOpType = "create-route"
)

// RollbackOperation is one undoable step recorded during a deploy
// attempt. Consumed in reverse chronological order on rollback,
// discarded afterwards.
type RollbackOperation struct {
	Type       RollbackOpType    `json:"type"`
	ServiceID  string            `json:"service_id"`
	Component  string            `json:"component"`
	PriorState map[string]string `json:"prior_state,omitempty"` // data needed to undo
	RecordedAt time.Time         `json:"recorded_at"`
}

// ServiceStatus is the canonical backend service status. Backend-native
// state strings map onto these five values; anything unmapped is Unknown.
type ServiceStatus string

const (
	StatusReady    ServiceStatus = "ready"
	StatusPending  ServiceStatus = "pending"
	StatusFailed   ServiceStatus = "failed"
	StatusDegraded ServiceStatus = "degraded"
	StatusUnknown  ServiceStatus = "unknown"
)

// CircuitState is the current position of a driver's circuit breaker
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// HealthState is the overall or per-component health classification
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthCheckResult is one raw probe outcome for a monitored service
type HealthCheckResult struct {
	Service      string        `json:"service"`
	Healthy      bool          `json:"healthy"`
	ResponseTime time.Duration `json:"response_time"`
	Message      string        `json:"message,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// ComponentHealth is the per-component slice of SystemStatus
type ComponentHealth struct {
	Name             string        `json:"name"`
	Status           HealthState   `json:"status"`
	ResponseTime     time.Duration `json:"response_time"`
	LastCheck        time.Time     `json:"last_check"`
	RecoveryAttempts int           `json:"recovery_attempts"`
}

// SystemStatus is the orchestrator's view of the system after a health
// poll. Mutated only by the orchestrator; all other callers receive
// copies.
type SystemStatus struct {
	Overall            HealthState       `json:"overall"`
	Components         []ComponentHealth `json:"components"`
	LastCheck          time.Time         `json:"last_check"`
	Uptime             time.Duration     `json:"uptime"`
	RecoveryInProgress bool              `json:"recovery_in_progress"`
}

// FailureType classifies a detected failure pattern
type FailureType string

const (
	FailureDatabaseConnection FailureType = "DATABASE_CONNECTION"
	FailureRedisConnection    FailureType = "REDIS_CONNECTION"
	FailureObjectStoreAccess  FailureType = "OBJECT_STORE_ACCESS"
	FailureVectorStoreDown    FailureType = "VECTOR_STORE_DOWN"
	FailureGatewayDown        FailureType = "GATEWAY_DOWN"
	FailureInferenceDown      FailureType = "INFERENCE_RUNTIME_DOWN"
	FailureHighResponseTime   FailureType = "HIGH_RESPONSE_TIME"
)

// RecoveryAction names a remediation step a strategy can take
type RecoveryAction string

const (
	ActionRestartService    RecoveryAction = "restart-service"
	ActionClearCache        RecoveryAction = "clear-cache"
	ActionReconnectDatabase RecoveryAction = "reconnect-database"
	ActionScaleUp           RecoveryAction = "scale-up"
	ActionScaleDown         RecoveryAction = "scale-down"
	ActionFailover          RecoveryAction = "failover"
	ActionRollback          RecoveryAction = "rollback"
)

// RecoveryAttemptResult records one executed recovery action
type RecoveryAttemptResult struct {
	FailureType FailureType    `json:"failure_type"`
	Component   string         `json:"component"`
	Action      RecoveryAction `json:"action"`
	Success     bool           `json:"success"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`
}

// BudgetConfig is the per-workspace cost tracking configuration
type BudgetConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	MonthlyLimit   float64 `json:"monthly_limit" yaml:"monthly_limit"`     // USD
	AlertThreshold float64 `json:"alert_threshold" yaml:"alert_threshold"` // fraction of limit, e.g. 0.8
}

// QuotaDecision is the outcome of an admission-control check
type QuotaDecision struct {
	Allowed      bool    `json:"allowed"`
	Remaining    float64 `json:"remaining"`
	BudgetLimit  float64 `json:"budget_limit"`
	CurrentSpend float64 `json:"current_spend"`
}
