package mobiusd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rocoloco/Mobius1-sub000/pkg/backend"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// Labels stamped on every service so backend state can be traced back
// to the deployment that produced it.
const (
	labelWorkspace      = "mobius.workspace"
	labelComponent      = "mobius.component"
	labelComponentType  = "mobius.component-type"
	labelEnvironment    = "mobius.environment"
	labelIdempotencyKey = "mobius.idempotency-key"
)

// Config keys consumed by the driver itself. Everything else in a
// component's config map passes through as service environment.
const (
	cfgImage    = "image"
	cfgReplicas = "replicas"
	cfgDomain   = "domain"
	cfgExternal = "external"
)

// serviceTemplate is the per-component-type deployment recipe.
type serviceTemplate struct {
	image     string
	command   []string
	env       map[string]string
	ports     []backend.PortSpec
	mainPort  int
	healthCmd []string
	stateful  bool // gets a persistent volume
	readiness time.Duration
}

var serviceTemplates = map[types.ComponentType]serviceTemplate{
	types.ComponentDatabase: {
		image:     "postgres:16-alpine",
		env:       map[string]string{"POSTGRES_DB": "app", "POSTGRES_HOST_AUTH_METHOD": "trust"},
		ports:     []backend.PortSpec{{Container: 5432}},
		mainPort:  5432,
		healthCmd: []string{"pg_isready", "-U", "postgres"},
		stateful:  true,
		readiness: 2 * time.Minute,
	},
	types.ComponentCache: {
		image:     "redis:7-alpine",
		ports:     []backend.PortSpec{{Container: 6379}},
		mainPort:  6379,
		healthCmd: []string{"redis-cli", "ping"},
		readiness: 1 * time.Minute,
	},
	types.ComponentObjectStore: {
		image:     "minio/minio:latest",
		command:   []string{"server", "/data", "--console-address", ":9001"},
		ports:     []backend.PortSpec{{Container: 9000}, {Container: 9001}},
		mainPort:  9000,
		healthCmd: []string{"curl", "-f", "http://localhost:9000/minio/health/live"},
		stateful:  true,
		readiness: 2 * time.Minute,
	},
	types.ComponentVectorStore: {
		image:     "qdrant/qdrant:latest",
		ports:     []backend.PortSpec{{Container: 6333}, {Container: 6334}},
		mainPort:  6333,
		healthCmd: []string{"curl", "-f", "http://localhost:6333/readyz"},
		stateful:  true,
		readiness: 3 * time.Minute,
	},
	types.ComponentGateway: {
		image:     "traefik:v3.1",
		command:   []string{"--api.insecure=true", "--entrypoints.web.address=:80"},
		ports:     []backend.PortSpec{{Container: 80}, {Container: 8080}},
		mainPort:  80,
		healthCmd: []string{"traefik", "healthcheck", "--ping"},
		readiness: 1 * time.Minute,
	},
	types.ComponentInferenceRuntime: {
		image:     "ollama/ollama:latest",
		ports:     []backend.PortSpec{{Container: 11434}},
		mainPort:  11434,
		healthCmd: []string{"ollama", "list"},
		stateful:  true,
		// Model runtimes pull weights on first start.
		readiness: 10 * time.Minute,
	},
}

// genericTemplate backs component types added to the catalog before a
// recipe exists for them.
var genericTemplate = serviceTemplate{
	image:     "alpine:3.20",
	command:   []string{"sleep", "infinity"},
	readiness: 2 * time.Minute,
}

func templateFor(ct types.ComponentType) serviceTemplate {
	if tmpl, ok := serviceTemplates[ct]; ok {
		return tmpl
	}
	return genericTemplate
}

// serviceName builds the workspace-scoped backend service name.
func serviceName(workspaceID, component string) string {
	return fmt.Sprintf("%s-%s", workspaceID, component)
}

// readinessTimeout returns the polling deadline for a component type.
// An explicit DeployOptions timeout overrides the per-type default.
func readinessTimeout(ct types.ComponentType, opts types.DeployOptions) time.Duration {
	if opts.ReadinessTimeout > 0 {
		return opts.ReadinessTimeout
	}
	return templateFor(ct).readiness
}

// replicasFor reads the replica count from component config, default 1.
func replicasFor(comp *types.ComponentSpec) int {
	if v, ok := comp.Config[cfgReplicas]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// buildServiceSpec turns one component into the backend create payload.
// Template env is the baseline; component config overrides it, with
// driver-reserved keys stripped and the remaining keys normalized to
// environment-variable form.
func buildServiceSpec(spec *types.DeploymentSpec, comp *types.ComponentSpec, opts types.DeployOptions) backend.ServiceSpec {
	tmpl := templateFor(comp.Type)

	image := tmpl.image
	if override, ok := comp.Config[cfgImage]; ok && override != "" {
		image = override
	}

	env := make(map[string]string, len(tmpl.env)+len(comp.Config))
	for k, v := range tmpl.env {
		env[k] = v
	}
	for k, v := range comp.Config {
		switch k {
		case cfgImage, cfgReplicas, cfgDomain, cfgExternal:
			continue
		}
		env[envKey(k)] = v
	}

	labels := map[string]string{
		labelWorkspace:     spec.WorkspaceID,
		labelComponent:     comp.Name,
		labelComponentType: string(comp.Type),
		labelEnvironment:   string(spec.Environment),
	}
	if opts.IdempotencyKey != "" {
		labels[labelIdempotencyKey] = opts.IdempotencyKey
	}

	out := backend.ServiceSpec{
		Name:        serviceName(spec.WorkspaceID, comp.Name),
		Image:       image,
		Command:     tmpl.command,
		Env:         env,
		Ports:       tmpl.ports,
		MainPort:    tmpl.mainPort,
		HealthCmd:   tmpl.healthCmd,
		CPULimit:    spec.Resources.CPULimit,
		MemoryLimit: spec.Resources.MemoryLimit,
		Labels:      labels,
	}
	if tmpl.stateful {
		out.VolumeSize = spec.Resources.StorageSize
	}
	return out
}

// envKey normalizes a config key to environment-variable form.
func envKey(k string) string {
	k = strings.ToUpper(k)
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.ReplaceAll(k, ".", "_")
	return k
}
