/*
Package client is the Go client for the Mobius control-plane REST API.

It wraps every /api/v1 endpoint in a typed method, carries the bearer
token on each request, and rebuilds the server's error envelope into
the same classified errdefs errors in-process callers see. Remote code
branches on kinds and codes, not HTTP statuses.

# Architecture

	┌────────────── caller (cmd/mobius, automation) ──────────────┐
	│                                                             │
	│  cli, _ := client.New(client.Config{BaseURL: url, Token: t})│
	│  result, err := cli.CreateDeployment(ctx, spec, opts)       │
	│                                                             │
	└──────────────────────────┬──────────────────────────────────┘
	                           │
	┌──────────────────────────▼──────────────────── pkg/client ──┐
	│                                                             │
	│  bearer auth + JSON request/response        (client.go)     │
	│  error envelope → errdefs reconstruction    (client.go)     │
	│  websocket event subscription               (stream.go)     │
	│                                                             │
	└──────────────────────────┬──────────────────────────────────┘
	                           │ HTTP + websocket
	                           ▼
	                  pkg/api REST server

# Error Handling

Error responses carry the errdefs kind, code, component, operation,
and hint. The client reconstructs the error with the matching errdefs
constructor, so errdefs.IsValidation, errdefs.CodeOf, and friends work
identically on both sides of the wire. Responses without a kind, such
as middleware rejections and proxy error pages, classify by status:
404 matches the ErrNotFound template, 401 is a configuration error,
other 4xx are validation errors, and 5xx are deployment errors. Every
4xx comes back permanent so retry loops fail fast. Transport faults
carry CodeBackendUnreachable and stay retryable.

A failed CreateDeployment returns the partial result alongside the
error when the control plane produced one, preserving per-component
outcomes and rollback state across the wire.

# Event Streaming

StreamEvents upgrades to a websocket and delivers broker events on a
channel until either side closes. The subscription starts at the moment
of connection; Events serves history from the audit trail with since
and limit parameters. A clean shutdown on either side closes the
channel with a nil Err.

# Integration Points

	pkg/types:   deployment, status, recovery, and budget payloads
	pkg/events:  Event frames from history and the live stream
	pkg/errdefs: classified errors rebuilt from the envelope
	pkg/redact:  response text scrubbed before it reaches callers
	pkg/log:     per-request debug logging
*/
package client
