package budget

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rocoloco/Mobius1-sub000/pkg/events"
	"github.com/rocoloco/Mobius1-sub000/pkg/log"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// DefaultAlertThreshold is the spend fraction that triggers a
// budget-alert event when a workspace config leaves it unset.
const DefaultAlertThreshold = 0.8

// now is swapped in tests to cross month boundaries.
var now = time.Now

// Store is the slice of storage the tracker needs. Satisfied by
// storage.BoltStore.
type Store interface {
	GetBudgetConfig(workspaceID string) (*types.BudgetConfig, error)
	SaveBudgetConfig(workspaceID string, cfg types.BudgetConfig) error
	AddSpend(workspaceID, month string, amount float64) (float64, error)
	GetSpend(workspaceID, month string) (float64, error)
}

// Config controls the tracker as a whole.
type Config struct {
	// Enabled is the master switch. When false every quota check
	// allows with unlimited remaining budget and no spend is recorded.
	Enabled bool

	// Default applies to workspaces without a stored config.
	Default types.BudgetConfig
}

// Tracker is the cost admission gate. Quota checks fail open: an
// unreadable store or a disabled config allows the operation, because
// cost enforcement must never take down deployments the way health
// and validation checks are allowed to.
type Tracker struct {
	store  Store
	logger zerolog.Logger

	mu      sync.Mutex
	broker  *events.Broker
	enabled bool
	def     types.BudgetConfig
	alerted map[string]bool
}

// New creates a Tracker. A nil broker disables event publication.
func New(store Store, broker *events.Broker, cfg Config) *Tracker {
	return &Tracker{
		store:   store,
		logger:  log.WithComponent("budget"),
		broker:  broker,
		enabled: cfg.Enabled,
		def:     cfg.Default,
		alerted: make(map[string]bool),
	}
}

// Stop detaches the event broker and drops alert bookkeeping. Spend
// recording and quota checks keep working for direct callers.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broker = nil
	t.alerted = make(map[string]bool)
}

// CheckQuota reports whether the workspace may spend estimatedCost
// this month. Disabled tracking, at either the tracker or workspace
// level, allows with unlimited remaining.
func (t *Tracker) CheckQuota(workspaceID string, estimatedCost float64) types.QuotaDecision {
	t.mu.Lock()
	enabled := t.enabled
	t.mu.Unlock()

	if !enabled {
		return Unlimited()
	}

	cfg := t.workspaceConfig(workspaceID)
	if !cfg.Enabled || cfg.MonthlyLimit <= 0 {
		return Unlimited()
	}

	spend, err := t.store.GetSpend(workspaceID, monthKey(now()))
	if err != nil {
		t.logger.Warn().
			Str("workspace_id", workspaceID).
			Str("error", err.Error()).
			Msg("spend lookup failed, allowing")
		return Unlimited()
	}

	remaining := cfg.MonthlyLimit - spend
	decision := types.QuotaDecision{
		Allowed:      spend+estimatedCost <= cfg.MonthlyLimit,
		Remaining:    math.Max(remaining, 0),
		BudgetLimit:  cfg.MonthlyLimit,
		CurrentSpend: spend,
	}
	return decision
}

// RecordSpend adds amount to the workspace's monthly total and emits
// threshold events. Returns the new total. Recording is a no-op when
// tracking is disabled.
func (t *Tracker) RecordSpend(workspaceID string, amount float64, description string) (float64, error) {
	t.mu.Lock()
	enabled := t.enabled
	t.mu.Unlock()

	if !enabled {
		return 0, nil
	}
	cfg := t.workspaceConfig(workspaceID)
	if !cfg.Enabled {
		return 0, nil
	}

	month := monthKey(now())
	total, err := t.store.AddSpend(workspaceID, month, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to record spend for workspace %s: %w", workspaceID, err)
	}

	t.logger.Info().
		Str("workspace_id", workspaceID).
		Str("month", month).
		Float64("amount", amount).
		Float64("total", total).
		Str("description", description).
		Msg("spend recorded")

	t.checkThresholds(workspaceID, month, cfg, total)
	return total, nil
}

// SetBudget stores the workspace's config and re-arms its threshold
// events, since a new limit changes what counts as a crossing.
func (t *Tracker) SetBudget(workspaceID string, cfg types.BudgetConfig) error {
	if cfg.MonthlyLimit < 0 {
		return fmt.Errorf("monthly limit must not be negative, got %.2f", cfg.MonthlyLimit)
	}
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 1 {
		return fmt.Errorf("alert threshold must be a fraction between 0 and 1, got %.2f", cfg.AlertThreshold)
	}
	if err := t.store.SaveBudgetConfig(workspaceID, cfg); err != nil {
		return fmt.Errorf("failed to save budget config for workspace %s: %w", workspaceID, err)
	}

	t.mu.Lock()
	for key := range t.alerted {
		if keyWorkspace(key) == workspaceID {
			delete(t.alerted, key)
		}
	}
	t.mu.Unlock()
	return nil
}

// Budget returns the workspace's effective config, falling back to
// the tracker default.
func (t *Tracker) Budget(workspaceID string) types.BudgetConfig {
	return t.workspaceConfig(workspaceID)
}

// SetDefault replaces the fallback config. The config hot-reload path
// calls this when the budget block of the controller config changes.
func (t *Tracker) SetDefault(cfg types.BudgetConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.def = cfg
}

func (t *Tracker) workspaceConfig(workspaceID string) types.BudgetConfig {
	cfg, err := t.store.GetBudgetConfig(workspaceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn().
				Str("workspace_id", workspaceID).
				Str("error", err.Error()).
				Msg("budget config lookup failed, using default")
		}
		t.mu.Lock()
		def := t.def
		t.mu.Unlock()
		return def
	}
	return *cfg
}

// checkThresholds emits budget-alert at the configured fraction and
// budget-exceeded at the limit, each at most once per workspace-month.
func (t *Tracker) checkThresholds(workspaceID, month string, cfg types.BudgetConfig, total float64) {
	if cfg.MonthlyLimit <= 0 {
		return
	}
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}

	if total >= cfg.MonthlyLimit {
		t.publishOnce(workspaceID, month, "exceeded", &events.Event{
			Type: events.EventBudgetExceeded,
			Message: fmt.Sprintf("workspace %s exceeded its monthly budget: %.2f of %.2f spent",
				workspaceID, total, cfg.MonthlyLimit),
			Metadata: spendMetadata(workspaceID, month, total, cfg.MonthlyLimit),
		})
		return
	}
	if total >= cfg.MonthlyLimit*threshold {
		t.publishOnce(workspaceID, month, "alert", &events.Event{
			Type: events.EventBudgetAlert,
			Message: fmt.Sprintf("workspace %s reached %.0f%% of its monthly budget: %.2f of %.2f spent",
				workspaceID, threshold*100, total, cfg.MonthlyLimit),
			Metadata: spendMetadata(workspaceID, month, total, cfg.MonthlyLimit),
		})
	}
}

func (t *Tracker) publishOnce(workspaceID, month, kind string, event *events.Event) {
	key := workspaceID + "/" + month + "/" + kind
	t.mu.Lock()
	broker := t.broker
	seen := t.alerted[key]
	if !seen {
		t.alerted[key] = true
	}
	t.mu.Unlock()

	if seen || broker == nil {
		return
	}
	broker.Publish(event)
}

func spendMetadata(workspaceID, month string, total, limit float64) map[string]string {
	return map[string]string{
		"workspace_id": workspaceID,
		"month":        month,
		"spend":        strconv.FormatFloat(total, 'f', 2, 64),
		"limit":        strconv.FormatFloat(limit, 'f', 2, 64),
	}
}

// Unlimited is the decision handed out when cost tracking is disabled
// or unreadable: allowed, with effectively infinite remaining budget.
func Unlimited() types.QuotaDecision {
	return types.QuotaDecision{Allowed: true, Remaining: math.MaxFloat64}
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func keyWorkspace(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}
