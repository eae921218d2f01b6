package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rocoloco/Mobius1-sub000/pkg/backend"
	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// Driver is the uniform contract a deployment backend must satisfy.
// Implementations convert abstract component descriptors into backend
// services and own the per-service lifecycle. All methods honor the
// passed context for cancellation and timeouts.
type Driver interface {
	// Initialize probes backend reachability and capabilities, and
	// rejects compliance-incompatible configuration before any deploy
	// call. It must fail fast and atomically: no partial side effects.
	Initialize(ctx context.Context, spec *types.DeploymentSpec) error

	// Deploy deploys every enabled component in dependency order.
	// Idempotent per options.IdempotencyKey: components whose named
	// service already exists are no-op successes.
	Deploy(ctx context.Context, spec *types.DeploymentSpec, opts types.DeployOptions) (*types.DeploymentResult, error)

	// GetStatus maps the backend-native state of a component's service
	// to the canonical five-value status.
	GetStatus(ctx context.Context, component string) (types.ServiceStatus, error)

	// HealthCheck probes every service this driver deployed and returns
	// raw per-service results for the failure detector.
	HealthCheck(ctx context.Context) ([]types.HealthCheckResult, error)

	// Scale sets the replica count of a component's service.
	Scale(ctx context.Context, component string, replicas int) error

	// Restart restarts a component's service in place.
	Restart(ctx context.Context, component string) error

	// Logs returns the last tail lines of a component's service logs.
	Logs(ctx context.Context, component string, tail int) (string, error)

	// Cleanup removes every service this driver deployed. Best-effort:
	// it removes what it can and reports the first error.
	Cleanup(ctx context.Context) error
}

// Config carries everything a driver factory needs to construct a
// backend-specific driver instance.
type Config struct {
	Backend backend.Config

	// AllowedDomainSuffix extends the network-isolation allow-list
	// beyond localhost and private ranges (for example ".internal").
	AllowedDomainSuffix string
}

// Factory constructs a driver from configuration.
type Factory func(cfg Config) (Driver, error)

// Registry maps backend-type names to driver factories. The deployment
// manager resolves drivers by name at deploy time, so adding a backend
// is registering a factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a backend-type name. Registering the
// same name twice replaces the factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New constructs a driver for the named backend type.
func (r *Registry) New(name string, cfg Config) (Driver, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.NewConfiguration(
			fmt.Sprintf("unknown backend type %q (registered: %v)", name, r.Names()), nil).
			WithHint("register a driver factory for this backend type or fix the backend name in configuration")
	}
	return f(cfg)
}

// Names returns the registered backend-type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
