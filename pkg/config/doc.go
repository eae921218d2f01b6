/*
Package config loads and watches the controller configuration.

The effective configuration is built in three layers and validated as
one tree, so every consumer downstream receives typed, checked values
and never re-parses strings:

	defaults  ──►  YAML file  ──►  MOBIUS_* environment  ──►  Validate
	(Default)      (optional,      (secrets and addresses
	               strict fields)   only)

Durations are written in Go syntax ("30s", "1h30m") and land as typed
values at decode time. Unknown YAML fields are load errors, not silent
no-ops. Validation collects every finding into a single configuration
error with YAML field paths, the same shape the spec validator uses
for deployment specs.

The tuning sections deliberately default to zero: the orchestrator,
detector, recovery manager, and backend client each apply their own
defaults, and the file only needs to name what differs.

# Hot Reload

Watcher watches the directory containing the config file and reloads
on write, create, and rename, which covers editors and atomic
save-by-rename. Reload results are dropped unless they load cleanly
and differ from the last delivered configuration; an invalid rewrite
keeps the previous configuration active. The daemon uses this to apply
budget-limit changes without a restart.

	file change ──► debounce ──► Load ──► valid? ──► changed? ──► callback
	                               │ no                │ no
	                               ▼                   ▼
	                         log, keep last         drop

# Integration Points

	cmd/mobius: Load at startup, Watcher for budget hot reload
	log:        Log section feeds log.Init
	backend:    Backend section feeds the mobiusd client
	deploy:     Deploy section selects the driver and isolation policy
	budget:     Budget section is the tracker's default workspace config

Config carries bearer tokens. Log individual fields, never the whole
struct.
*/
package config
