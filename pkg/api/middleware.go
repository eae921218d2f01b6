package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rocoloco/Mobius1-sub000/pkg/metrics"
)

// maxTrackedClients bounds the per-client limiter map. A scan from
// many addresses must not grow it forever.
const maxTrackedClients = 10000

// requestLogger emits one line per handled request. Scrapes and happy
// paths stay at debug so the log carries failures, not traffic.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		status := c.Writer.Status()
		evt := s.logger.Debug()
		switch {
		case status >= http.StatusInternalServerError:
			evt = s.logger.Error()
		case status >= http.StatusBadRequest:
			evt = s.logger.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", timer.Duration()).
			Str("client", c.ClientIP()).
			Msg("request handled")
	}
}

// requestMetrics counts and times requests by route template, so
// /deployments/abc and /deployments/def share a label.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		s.metrics.APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		timer.ObserveDuration(s.metrics.APIRequestDuration.WithLabelValues(method, route))
	}
}

// bearerAuth rejects /api/v1 requests whose bearer token does not
// match the configured one. An empty configured token disables auth.
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AuthToken == "" {
			c.Next()
			return
		}
		token := extractBearerToken(c)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			abortStatus(c, http.StatusUnauthorized, "UNAUTHORIZED",
				"missing or invalid bearer token",
				"pass the controller's api token in the Authorization header")
			return
		}
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". The
// scheme is case-insensitive per RFC 7235; malformed headers yield an
// empty token.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// rateLimit answers 429 once a client exhausts its token bucket.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP()) {
			abortStatus(c, http.StatusTooManyRequests, "RATE_LIMITED",
				"request rate limit exceeded",
				"slow down or raise the api rate limit")
			return
		}
		c.Next()
	}
}

// clientLimiter hands out one token bucket per client address.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[client]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[client] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
