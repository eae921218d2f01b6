package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/graph"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// Issue is one field-scoped validation finding.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the full outcome of validating a deployment spec. Errors
// block deployment; warnings do not.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Err converts an invalid result into a validation error carrying
// every finding, or nil for a valid one.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", issue.Field, issue.Message)
	}
	return errdefs.NewValidation(strings.Join(msgs, "; "), nil).
		WithCode(errdefs.CodeValidation).
		WithHint("fix the deployment spec and resubmit")
}

func (r *Result) errf(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(field, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

var quantityPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(m|k|M|G|T|Ki|Mi|Gi|Ti)?$`)

// Validate checks a deployment spec and collects every finding instead
// of stopping at the first. It never mutates the spec and never calls
// the network.
func Validate(spec *types.DeploymentSpec) Result {
	var r Result
	if spec == nil {
		r.errf("spec", "deployment spec is nil")
		return r
	}

	enabled := checkStructure(spec, &r)
	checkDependencies(spec, enabled, &r)
	checkCycles(enabled, &r)
	checkRequiredComponents(enabled, &r)
	checkResources(&spec.Resources, &r)
	checkCompliance(spec, &r)
	checkComponentConfig(spec, &r)

	r.Valid = len(r.Errors) == 0
	return r
}

// checkStructure validates top-level fields and component identity,
// returning the enabled components by name for the later checks.
func checkStructure(spec *types.DeploymentSpec, r *Result) map[string]*types.ComponentSpec {
	if spec.WorkspaceID == "" {
		r.errf("workspace_id", "workspace id is required")
	}
	if !spec.Environment.Valid() {
		r.errf("environment", "environment %q is not one of development, production, test", spec.Environment)
	}
	if len(spec.Components) == 0 {
		r.errf("components", "at least one component is required")
	}

	enabled := make(map[string]*types.ComponentSpec, len(spec.Components))
	seen := make(map[string]bool, len(spec.Components))
	for i := range spec.Components {
		comp := &spec.Components[i]
		field := fmt.Sprintf("components[%d]", i)
		if comp.Name == "" {
			r.errf(field+".name", "component name is required")
			continue
		}
		if seen[comp.Name] {
			r.errf(field+".name", "duplicate component name %q", comp.Name)
			continue
		}
		seen[comp.Name] = true
		if comp.Type == "" {
			r.errf(field+".type", "component %q has no type", comp.Name)
		}
		if comp.Enabled {
			enabled[comp.Name] = comp
		}
	}
	return enabled
}

func checkDependencies(spec *types.DeploymentSpec, enabled map[string]*types.ComponentSpec, r *Result) {
	for i := range spec.Components {
		comp := &spec.Components[i]
		if !comp.Enabled || comp.Name == "" {
			continue
		}
		for _, dep := range comp.DependsOn {
			if _, ok := enabled[dep]; ok {
				continue
			}
			field := fmt.Sprintf("components[%d].depends_on", i)
			if specHasComponent(spec, dep) {
				r.errf(field, "component %q depends on %q, which is disabled", comp.Name, dep)
			} else {
				r.errf(field, "component %q depends on %q, which is not in this spec", comp.Name, dep)
			}
		}
	}
}

// checkCycles runs DFS with a recursion stack over the resolvable
// dependency edges and reports the discovered cycle path.
func checkCycles(enabled map[string]*types.ComponentSpec, r *Result) {
	g := graph.New()
	for name, comp := range enabled {
		// Unresolvable deps were reported above; drop them so the
		// cycle search runs on the wired subset.
		var deps []string
		for _, dep := range comp.DependsOn {
			if _, ok := enabled[dep]; ok {
				deps = append(deps, dep)
			}
		}
		if err := g.Add(name, deps); err != nil {
			// Duplicates were reported by checkStructure.
			continue
		}
	}
	g.Resolve()
	if cycle := g.FindCycle(); cycle != nil {
		r.errf("components", "dependency cycle detected: %s", graph.FormatCycle(cycle))
	}
}

func checkRequiredComponents(enabled map[string]*types.ComponentSpec, r *Result) {
	present := make(map[types.ComponentType]bool, len(enabled))
	for _, comp := range enabled {
		present[comp.Type] = true
	}
	for _, required := range []types.ComponentType{types.ComponentDatabase, types.ComponentCache} {
		if !present[required] {
			r.errf("components", "required component type %q is missing", required)
		}
	}
	for _, recommended := range []types.ComponentType{types.ComponentObjectStore, types.ComponentVectorStore} {
		if !present[recommended] {
			r.warnf("components", "recommended component type %q is missing", recommended)
		}
	}
}

func checkResources(res *types.ResourceSpec, r *Result) {
	fields := []struct {
		field string
		value string
	}{
		{field: "resources.cpu_request", value: res.CPURequest},
		{field: "resources.cpu_limit", value: res.CPULimit},
		{field: "resources.memory_request", value: res.MemoryRequest},
		{field: "resources.memory_limit", value: res.MemoryLimit},
		{field: "resources.storage_size", value: res.StorageSize},
	}
	for _, f := range fields {
		if f.value == "" {
			r.errf(f.field, "value is required")
			continue
		}
		if !quantityPattern.MatchString(f.value) {
			r.errf(f.field, "%q is not a valid quantity", f.value)
		}
	}
}

// checkCompliance validates the declarative placement flags. The deep
// scan of config values and image registries happens in the driver;
// here only the spec-level declarations are in scope.
func checkCompliance(spec *types.DeploymentSpec, r *Result) {
	if spec.DataResidency {
		for i := range spec.Components {
			comp := &spec.Components[i]
			if comp.Enabled && comp.Config["external"] == "true" {
				r.errf(fmt.Sprintf("components[%d]", i),
					"component %q is marked external but data-residency mode is enabled", comp.Name)
			}
		}
		r.warnf("data_residency", "data-residency mode is enabled; confirm every component image and endpoint satisfies residency requirements")
	}
	if spec.NetworkIsolated {
		for i := range spec.Components {
			comp := &spec.Components[i]
			if comp.Enabled && comp.Config["external"] == "true" {
				r.errf(fmt.Sprintf("components[%d]", i),
					"component %q declares external access but network-isolation mode is enabled", comp.Name)
			}
		}
		r.warnf("network_isolated", "network-isolation mode is enabled; components cannot reach endpoints outside the workspace boundary")
	}
}

func specHasComponent(spec *types.DeploymentSpec, name string) bool {
	return spec.Component(name) != nil
}

// sortedConfigKeys keeps config findings in a stable order.
func sortedConfigKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func posInt(v string) string {
	if n, err := strconv.Atoi(v); err != nil || n <= 0 {
		return "must be a positive integer"
	}
	return ""
}

func intRange(lo, hi int) func(string) string {
	return func(v string) string {
		n, err := strconv.Atoi(v)
		if err != nil || n < lo || n > hi {
			return fmt.Sprintf("must be an integer between %d and %d", lo, hi)
		}
		return ""
	}
}

func boolStr(v string) string {
	if v != "true" && v != "false" {
		return `must be "true" or "false"`
	}
	return ""
}

func nonEmpty(v string) string {
	if strings.TrimSpace(v) == "" {
		return "must not be empty"
	}
	return ""
}

func enumOf(allowed ...string) func(string) string {
	return func(v string) string {
		for _, a := range allowed {
			if v == a {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))
	}
}

func matchRe(re *regexp.Regexp, desc string) func(string) string {
	return func(v string) string {
		if !re.MatchString(v) {
			return "must be " + desc
		}
		return ""
	}
}

var (
	versionPattern  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)
	redisMemPattern = regexp.MustCompile(`^[0-9]+(?i:kb|mb|gb)?$`)
	bucketsPattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(,[a-z0-9][a-z0-9-]*)*$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)
	imagePattern    = regexp.MustCompile(`^[^\s]+$`)
)

// configRule types one config key for one component type.
type configRule struct {
	required bool
	check    func(string) string
}

// commonRules apply to every component type.
var commonRules = map[string]configRule{
	"replicas": {check: posInt},
	"image":    {check: matchRe(imagePattern, "an image reference without whitespace")},
	"external": {check: boolStr},
	"domain":   {check: matchRe(hostnamePattern, "a valid hostname")},
}

// typedRules catch malformed per-type configuration at the validation
// boundary instead of at deploy time.
var typedRules = map[types.ComponentType]map[string]configRule{
	types.ComponentDatabase: {
		"version":         {check: matchRe(versionPattern, "a dotted version number")},
		"max_connections": {check: posInt},
	},
	types.ComponentCache: {
		"maxmemory":       {check: matchRe(redisMemPattern, "a size like 256mb")},
		"eviction_policy": {check: enumOf("noeviction", "allkeys-lru", "allkeys-lfu", "volatile-lru", "volatile-ttl")},
	},
	types.ComponentObjectStore: {
		"buckets": {check: matchRe(bucketsPattern, "a comma-separated list of lowercase bucket names")},
	},
	types.ComponentVectorStore: {
		"dimensions": {check: intRange(1, 65536)},
		"metric":     {check: enumOf("cosine", "dot", "euclidean")},
	},
	types.ComponentGateway: {},
	types.ComponentInferenceRuntime: {
		"model":          {required: true, check: nonEmpty},
		"context_length": {check: posInt},
	},
}

// checkComponentConfig applies the common and per-type config rules.
// Keys without a rule pass through untouched; they become service
// environment at deploy time.
func checkComponentConfig(spec *types.DeploymentSpec, r *Result) {
	for i := range spec.Components {
		comp := &spec.Components[i]
		if !comp.Enabled || comp.Name == "" {
			continue
		}
		rules := typedRules[comp.Type]

		for key, rule := range rules {
			if !rule.required {
				continue
			}
			if _, ok := comp.Config[key]; !ok {
				r.errf(fmt.Sprintf("components[%d].config.%s", i, key),
					"component %q requires config key %q", comp.Name, key)
			}
		}

		for _, key := range sortedConfigKeys(comp.Config) {
			value := comp.Config[key]
			rule, ok := rules[key]
			if !ok {
				rule, ok = commonRules[key]
			}
			if !ok || rule.check == nil {
				continue
			}
			if problem := rule.check(value); problem != "" {
				r.errf(fmt.Sprintf("components[%d].config.%s", i, key),
					"component %q config %q: %s", comp.Name, key, problem)
			}
		}
	}
}
