/*
Package budget is the cost admission gate for the control plane.

The tracker answers CheckQuota before expensive operations are
admitted and accumulates spend per workspace per calendar month. It
deliberately fails open: a disabled tracker, a disabled workspace
config, or an unreadable store all allow the operation with unlimited
remaining budget. Cost enforcement is advisory in a way health and
validation checks are not, and must never be the reason a deployment
cannot run.

# Architecture

	            CheckQuota(workspace, estimatedCost)
	                          │
	                          ▼
	     ┌──────── tracker enabled? ── no ──► allow, unlimited
	     │ yes
	     ▼
	     workspace config (stored, else default)
	     │ enabled with a positive limit? ── no ──► allow, unlimited
	     ▼ yes
	     monthly spend from storage ── error ──► allow, unlimited
	     │
	     ▼
	     spend + estimate ≤ limit ?  →  {allowed, remaining,
	                                     limit, spend}

RecordSpend writes through storage.AddSpend (atomic within one
transaction) and compares the new total against two thresholds:

	total ≥ limit                → budget-exceeded event
	total ≥ limit × threshold    → budget-alert event (default 80%)

Each event fires at most once per workspace-month; SetBudget re-arms
them because a changed limit changes what counts as a crossing. Month
keys are UTC "2006-01", so spend resets naturally at the month
boundary.

EstimateCost prices a deployment spec from per-type monthly baselines
times replicas, enabled components only. It exists so the orchestrator
has a consistent number to gate and record; real billing integration
would replace the table, not the flow.

# Integration Points

	orchestrator: CheckQuota before deploys, RecordSpend after
	              successful ones, Stop on teardown
	api:          GET/PUT budget endpoints via Budget and SetBudget
	config:       SetDefault on hot reload of the budget block
	storage:      config, spend totals
	events:       budget-alert, budget-exceeded
*/
package budget
