/*
Package events provides the in-memory event broker for Mobius pub/sub
messaging.

The broker broadcasts control-plane events to interested subscribers over
buffered channels, decoupling the orchestrator and deployment manager from
the consumers of their lifecycle notifications (audit sink, websocket
stream, metrics, chat/UI presentation layers).

# Architecture

A single broadcast loop fans events out to per-subscriber channels:

	Publisher -> Event Channel (buffer: 100)
	     |
	Broadcast Loop
	     |
	Subscriber Channels (buffer: 50 each)

Publishing is non-blocking: a subscriber whose buffer is full skips that
event rather than stalling the control loop. Delivery is exactly-once per
occurrence per subscriber under normal operation, best-effort under
backpressure.

# Event Catalog

Deployment lifecycle:
  - deployment-started: Spec admitted, deploy sequence beginning
  - deployment-completed: Attempt finished (metadata carries success flag)

Health and healing:
  - health-check-completed: One poll cycle finished
  - failure-detected: Detector classified a failure type
  - recovery-started: Recovery manager took a failure key
  - recovery-completed: Recovery finished (success or exhausted)
  - system-status-changed: Overall health value differs from the previous
    poll; suppressed when unchanged

Budget:
  - budget-alert: Spend crossed the alert threshold
  - budget-exceeded: Spend reached the monthly limit

# Redaction

Publish applies pkg/redact to the event message and all metadata values.
Events are the path to audit persistence and external presentation, so
this is enforced at the choke point rather than left to publishers.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			switch ev.Type {
			case events.EventFailureDetected:
				// react
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventDeploymentStarted,
		Message: "Deployment started",
		Metadata: map[string]string{"workspace_id": "ws-1"},
	})

# Integration Points

  - pkg/orchestrator publishes lifecycle, status, failure, and recovery
    events
  - pkg/deploy publishes deployment start/completion
  - pkg/budget publishes alert/exceeded events
  - pkg/audit subscribes and persists every event
  - pkg/api streams events to websocket clients
*/
package events
