package detector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

const (
	// DefaultWindowSize bounds the per-service history of raw results.
	DefaultWindowSize = 10

	// DefaultConsecutiveRequired is how many trailing unhealthy results
	// turn raw observations into a classified failure.
	DefaultConsecutiveRequired = 3

	// DefaultResponseTimeLimit is the latency above which a single
	// result classifies as HIGH_RESPONSE_TIME.
	DefaultResponseTimeLimit = 2000 * time.Millisecond
)

// failureTable statically maps service names onto failure types.
// Unmapped names yield no connection-class failure.
var failureTable = map[string]types.FailureType{
	"database":          types.FailureDatabaseConnection,
	"postgres":          types.FailureDatabaseConnection,
	"cache":             types.FailureRedisConnection,
	"redis":             types.FailureRedisConnection,
	"object-store":      types.FailureObjectStoreAccess,
	"minio":             types.FailureObjectStoreAccess,
	"vector-store":      types.FailureVectorStoreDown,
	"qdrant":            types.FailureVectorStoreDown,
	"gateway":           types.FailureGatewayDown,
	"traefik":           types.FailureGatewayDown,
	"inference":         types.FailureInferenceDown,
	"inference-runtime": types.FailureInferenceDown,
	"ollama":            types.FailureInferenceDown,
}

// Failure is one classified finding from a detection pass.
type Failure struct {
	Type      types.FailureType `json:"type"`
	Component string            `json:"component"`
}

// Config tunes the detector. Zero values take the defaults.
type Config struct {
	WindowSize          int
	ConsecutiveRequired int
	ResponseTimeLimit   time.Duration
}

// Detector turns raw health results into classified failures. A
// service must be unhealthy for ConsecutiveRequired trailing results
// before it classifies; single blips never do. Latency overruns
// classify immediately and independently.
type Detector struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[string][]types.HealthCheckResult // per service, oldest first
}

// New builds a detector. Zero config fields fall back to defaults.
func New(cfg Config) *Detector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.ConsecutiveRequired <= 0 {
		cfg.ConsecutiveRequired = DefaultConsecutiveRequired
	}
	if cfg.ResponseTimeLimit <= 0 {
		cfg.ResponseTimeLimit = DefaultResponseTimeLimit
	}
	return &Detector{
		cfg:     cfg,
		logger:  log.WithComponent("detector"),
		windows: make(map[string][]types.HealthCheckResult),
	}
}

// Observe ingests one batch of raw results and returns the
// de-duplicated classifications for this pass, sorted for stable
// downstream handling.
func (d *Detector) Observe(results []types.HealthCheckResult) []Failure {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[Failure]bool)
	var failures []Failure
	add := func(f Failure) {
		if !seen[f] {
			seen[f] = true
			failures = append(failures, f)
		}
	}

	for _, result := range results {
		window := append(d.windows[result.Service], result)
		if len(window) > d.cfg.WindowSize {
			window = window[len(window)-d.cfg.WindowSize:]
		}
		d.windows[result.Service] = window

		if !result.Healthy && d.trailingUnhealthy(window) {
			if ft, ok := failureTable[result.Service]; ok {
				add(Failure{Type: ft, Component: result.Service})
			} else {
				d.logger.Debug().
					Str("service", result.Service).
					Msg(fmt.Sprintf("service %s persistently unhealthy but has no failure mapping", result.Service))
			}
		}

		if result.ResponseTime > d.cfg.ResponseTimeLimit {
			add(Failure{Type: types.FailureHighResponseTime, Component: result.Service})
		}
	}

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].Component != failures[j].Component {
			return failures[i].Component < failures[j].Component
		}
		return failures[i].Type < failures[j].Type
	})

	for _, f := range failures {
		d.logger.Info().
			Str("failure_type", string(f.Type)).
			Str("component", f.Component).
			Msg("failure detected")
	}
	return failures
}

// trailingUnhealthy reports whether the last ConsecutiveRequired
// results are all unhealthy. A shorter window cannot classify.
func (d *Detector) trailingUnhealthy(window []types.HealthCheckResult) bool {
	n := d.cfg.ConsecutiveRequired
	if len(window) < n {
		return false
	}
	for _, r := range window[len(window)-n:] {
		if r.Healthy {
			return false
		}
	}
	return true
}
