/*
Package backend implements the HTTP client for the mobiusd node daemon.

mobiusd is the deployment backend Mobius ships a reference driver for: a
single-node service runtime exposing a versioned REST API. The control
plane never runs containers itself; every lifecycle operation goes
through this client.

# Wire Contract

JSON request/response over /api/v1; every request carries a bearer
token; outcomes are discriminated purely on HTTP status plus body:

	GET    /api/v1/version               backend handshake
	GET    /api/v1/services              list services
	GET    /api/v1/services/{name}       fetch one service
	POST   /api/v1/services              create (stopped)
	PUT    /api/v1/services/{id}         replace spec
	DELETE /api/v1/services/{id}         remove
	POST   /api/v1/services/{id}/start   start
	POST   /api/v1/services/{id}/stop    stop
	POST   /api/v1/services/{id}/restart restart in place
	POST   /api/v1/services/{id}/scale   set replicas
	PUT    /api/v1/services/{id}/env     replace environment
	GET    /api/v1/services/{id}/logs    tail logs
	POST   /api/v1/routes                add gateway route
	DELETE /api/v1/routes/{id}           remove gateway route

# Error Mapping

Responses map onto the errdefs taxonomy at this boundary:

  - 2xx: success, body decoded when the caller wants one
  - 404: permanent deployment error wrapping errdefs.ErrServiceNotFound
  - other 4xx: permanent deployment error (never retried upstream)
  - 5xx: retryable deployment error
  - transport fault: retryable, code BACKEND_UNREACHABLE

Backend error bodies frequently echo service environment (connection
strings among it), so every error message is redacted here, before any
caller can log or surface it.

# Rate Limiting

When configured, an x/time token-bucket limiter paces outbound calls;
do blocks on the limiter before each request so readiness polling
cannot starve deploy traffic of API quota.

# Usage

	c, err := backend.New(backend.Config{
		BaseURL:           "http://127.0.0.1:7070",
		Token:             token,
		RequestsPerSecond: 20,
		Burst:             5,
	})
	svc, err := c.CreateService(ctx, &backend.ServiceSpec{
		Name:  "primary-db",
		Image: "postgres:16-alpine",
	})
	err = c.StartService(ctx, svc.ID)
*/
package backend
