/*
Package audit persists the control-plane event stream.

The Recorder is a plain bus subscriber: everything published on the
broker, by any component, lands in the store's audit bucket in
emission order. Operators get a replayable trail of what the control
plane did and why, from deployment admission through failure
detection to recovery outcomes.

# Architecture

	 deploy ─┐
	 orchestrator ─┐                     ┌──────────┐    ┌─────────┐
	 recovery ─────┼──► events.Broker ──►│ Recorder │───►│  store  │
	 budget ───────┘      (publish)      │  append  │    │ (bbolt) │
	                                     └────┬─────┘    └─────────┘
	                                          │
	                            Query(since, limit) ──► API /events

Two properties matter:

  - Events are redacted at publish time by the broker, so the trail
    never holds credentials even when an error message did.
  - A failed append is logged and dropped, never propagated. The
    trail is an observer of the control plane, not a participant;
    a full disk must not block deploys or recovery.

Stop drains events still buffered on the subscription before
returning, so an orderly shutdown loses nothing that was already
published.

# Integration Points

	events:  the broker subscription feeding the trail
	storage: AppendAuditEvent / ListAuditEvents
	api:     Query backs the GET /events history endpoint
	cmd:     one Recorder per daemon, started with the broker
*/
package audit
