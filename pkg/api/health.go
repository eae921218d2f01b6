package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
)

// HealthResponse is the /healthz body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse is the /readyz body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthz is the liveness probe: the process is up and serving.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.cfg.Version,
	})
}

// readyz reports whether the control plane can take traffic: the
// orchestrator must be running and the store must answer a read.
func (s *Server) readyz(c *gin.Context) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.control.Running() {
		checks["orchestrator"] = "running"
	} else {
		checks["orchestrator"] = "stopped"
		ready = false
		message = "orchestrator is not running"
	}

	if s.store != nil {
		if _, err := s.store.ListAuditEvents(time.Time{}, 1); err != nil {
			checks["storage"] = "error: " + redact.Error(err)
			ready = false
			if message == "" {
				message = "storage is not accessible"
			}
		} else {
			checks["storage"] = "ok"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}
