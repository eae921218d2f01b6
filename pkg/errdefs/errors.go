package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry policy
type Kind string

const (
	// KindValidation marks a structurally invalid spec. Never retried;
	// the spec must be fixed and resubmitted.
	KindValidation Kind = "validation"

	// KindDeployment marks a component-level deploy failure. Retried per
	// driver policy, then surfaced with a remediation hint.
	KindDeployment Kind = "deployment"

	// KindRecovery marks an exhausted recovery run. The failure key
	// enters cooldown and the error is operator-visible.
	KindRecovery Kind = "recovery"

	// KindCircuitOpen marks a call refused by an open circuit breaker,
	// distinct from a genuine backend failure.
	KindCircuitOpen Kind = "circuit-open"

	// KindConfiguration marks an incompatible compliance mode or backend
	// setup problem raised during initialize. Fatal, never partially
	// applied.
	KindConfiguration Kind = "configuration"
)

// Error is a classified error carrying a machine-readable code and a
// human remediation hint. Public operations return these rather than
// bare errors so callers and the API layer never surface a raw stack.
type Error struct {
	Kind        Kind   `json:"kind"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Component   string `json:"component,omitempty"`
	Operation   string `json:"operation,omitempty"`
	Hint        string `json:"hint,omitempty"`
	Recoverable bool   `json:"recoverable"`

	// Permanent forces the retry loop to give up regardless of Kind.
	// Set for 4xx-class backend responses.
	Permanent bool `json:"-"`

	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Component != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (component=%s, operation=%s)%s",
			e.Kind, e.Message, e.Component, e.Operation, e.causeSuffix())
	case e.Component != "":
		return fmt.Sprintf("[%s] %s (component=%s)%s", e.Kind, e.Message, e.Component, e.causeSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.causeSuffix())
	}
}

func (e *Error) causeSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code so callers can compare against template
// errors with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Kind == t.Kind
}

// NewValidation creates a validation error.
func NewValidation(message string, err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: message, Err: err, Permanent: true}
}

// NewDeployment creates a component-level deployment error.
func NewDeployment(message string, err error) *Error {
	return &Error{Kind: KindDeployment, Code: CodeDeployFailed, Message: message, Err: err}
}

// NewRecovery creates a recovery error.
func NewRecovery(message string, err error) *Error {
	return &Error{Kind: KindRecovery, Code: CodeRecoveryFailed, Message: message, Err: err}
}

// NewCircuitOpen creates a circuit-open error.
func NewCircuitOpen(message string) *Error {
	return &Error{Kind: KindCircuitOpen, Code: CodeCircuitOpen, Message: message, Permanent: true}
}

// NewConfiguration creates a configuration error.
func NewConfiguration(message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeConfiguration, Message: message, Err: err, Permanent: true}
}

// WithCode overrides the default code for the error's kind.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithComponent attaches the component name the error occurred on.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation attaches the operation being performed.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithHint attaches a human remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithRecoverable marks whether automated recovery may act on this error.
func (e *Error) WithRecoverable(r bool) *Error {
	e.Recoverable = r
	return e
}

// AsPermanent marks the error non-retryable regardless of kind.
func (e *Error) AsPermanent() *Error {
	e.Permanent = true
	return e
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

// IsDeployment reports whether err is a deployment error.
func IsDeployment(err error) bool {
	return kindOf(err) == KindDeployment
}

// IsRecovery reports whether err is a recovery error.
func IsRecovery(err error) bool {
	return kindOf(err) == KindRecovery
}

// IsCircuitOpen reports whether err is a circuit-open refusal.
func IsCircuitOpen(err error) bool {
	return kindOf(err) == KindCircuitOpen
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return kindOf(err) == KindConfiguration
}

// IsRetryable reports whether the deploy retry loop may try again.
// Only non-permanent deployment errors qualify; validation,
// configuration, and circuit-open refusals always fail fast.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindDeployment && !e.Permanent
	}
	// Unclassified errors default to retryable so transient transport
	// faults are not promoted to permanent failures.
	return err != nil
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HintOf extracts the remediation hint, if any.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Hint
	}
	return ""
}

// CodeOf extracts the machine-readable code, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeUnknownDependency   = "UNKNOWN_DEPENDENCY"
	CodeMissingComponent    = "MISSING_COMPONENT"
	CodeMissingResources    = "MISSING_RESOURCES"
	CodeDeployFailed        = "DEPLOY_FAILED"
	CodeSLAExceeded         = "SLA_EXCEEDED"
	CodeReadinessTimeout    = "READINESS_TIMEOUT"
	CodeServiceFailed       = "SERVICE_FAILED"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
	CodeRecoveryFailed      = "RECOVERY_FAILED"
	CodeRecoveryInFlight    = "RECOVERY_IN_PROGRESS"
	CodeCooldownActive      = "COOLDOWN_ACTIVE"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeComplianceViolation = "COMPLIANCE_VIOLATION"
	CodeBackendUnreachable  = "BACKEND_UNREACHABLE"
	CodeNotRunning          = "NOT_RUNNING"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeNotFound            = "NOT_FOUND"
)

// Sentinel errors for control-flow states.
var (
	// ErrNotRunning is returned when an operation requires a running
	// orchestrator. Calling deploy or recovery on a stopped orchestrator
	// is a programming error, not a transient condition.
	ErrNotRunning = errors.New("orchestrator is not running")

	// ErrRecoveryInProgress is returned when a recovery for the same
	// failure key is already in flight.
	ErrRecoveryInProgress = errors.New("recovery already in progress")

	// ErrCooldownActive is returned when a failure key is inside its
	// post-exhaustion cooldown window.
	ErrCooldownActive = errors.New("recovery cooldown active")

	// ErrServiceNotFound is returned by backends for unknown services.
	ErrServiceNotFound = errors.New("service not found")
)
