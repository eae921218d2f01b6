/*
Package storage provides BoltDB-backed persistence for control-plane
records: deployment results, the audit trail, recovery attempts, and
budget state.

Everything the control plane persists is historical or administrative.
The live picture (SystemStatus, recovery cooldowns, circuit state)
stays in memory with its owning component; storage is what survives a
restart.

# Architecture

	┌──────────────── BOLTDB STORAGE ─────────────────┐
	│                                                  │
	│  BoltStore: <dataDir>/mobius.db                  │
	│                                                  │
	│  Buckets                           Key           │
	│  ┌─────────────────────────────────────────────┐ │
	│  │ deployments        deployment ID            │ │
	│  │ audit_events       nanos/event ID           │ │
	│  │ recovery_attempts  nanos/component/action   │ │
	│  │ budget_configs     workspace ID             │ │
	│  │ budget_spend       workspace/month          │ │
	│  └─────────────────────────────────────────────┘ │
	│                                                  │
	│  db.View for reads, db.Update for writes,        │
	│  values are JSON, every write is an upsert       │
	└──────────────────────────────────────────────────┘

Time-ordered buckets (audit_events, recovery_attempts) prefix keys
with a zero-padded nanosecond timestamp so a cursor walks them in
emission order without a secondary index.

AddSpend performs its read-modify-write inside a single Update
transaction, which is what makes concurrent spend recording safe.

Lookups that miss wrap ErrNotFound; callers branch with errors.Is
instead of matching message text.

# Integration Points

	deploy:   results saved after each attempt
	audit:    broker events appended by the audit sink
	recovery: attempts recorded by the orchestrator
	budget:   config and monthly spend totals
	api:      deployment and audit queries
*/
package storage
