package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rocoloco/Mobius1-sub000/pkg/errdefs"
	"github.com/rocoloco/Mobius1-sub000/pkg/redact"
	"github.com/rocoloco/Mobius1-sub000/pkg/storage"
	"github.com/rocoloco/Mobius1-sub000/pkg/types"
)

// defaultEventLimit caps GET /events responses when the client sends
// no limit.
const defaultEventLimit = 100

// apiError is the JSON error envelope. Control-plane errors arrive as
// errdefs values and map onto it field for field; the kind rides along
// so remote clients can rebuild the same classified error.
type apiError struct {
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`

	// Result carries the partial deployment outcome when a deploy
	// fails after doing work.
	Result *types.DeploymentResult `json:"result,omitempty"`
}

// deployRequest is the POST /deployments body.
type deployRequest struct {
	Spec    *types.DeploymentSpec `json:"spec" binding:"required"`
	Options types.DeployOptions   `json:"options"`
}

// recoveryRequest is the POST /recovery body. The failure type is
// checked against the known set here so junk never reaches the
// recovery manager's cooldown accounting.
type recoveryRequest struct {
	FailureType string `json:"failure_type" binding:"required,oneof=DATABASE_CONNECTION REDIS_CONNECTION OBJECT_STORE_ACCESS VECTOR_STORE_DOWN GATEWAY_DOWN INFERENCE_RUNTIME_DOWN HIGH_RESPONSE_TIME"`
	Component   string `json:"component" binding:"required"`
}

// budgetRequest is the PUT /budget body.
type budgetRequest struct {
	WorkspaceID    string  `json:"workspace_id" binding:"required"`
	Enabled        bool    `json:"enabled"`
	MonthlyLimit   float64 `json:"monthly_limit" binding:"gte=0"`
	AlertThreshold float64 `json:"alert_threshold" binding:"gte=0,lte=1"`
}

func (s *Server) createDeployment(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation, err.Error(),
			"submit a json body with a spec object")
		return
	}

	result, err := s.control.DeployInfrastructure(c.Request.Context(), req.Spec, req.Options)
	if s.metrics != nil {
		s.metrics.RecordComponents(result)
	}
	if err != nil {
		status, body := errorBody(err)
		body.Result = result
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) listDeployments(c *gin.Context) {
	if s.store == nil {
		abortUnavailable(c, "persistence is disabled")
		return
	}
	results, err := s.store.ListDeployments(c.Query("workspace"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": results, "count": len(results)})
}

func (s *Server) getDeployment(c *gin.Context) {
	if s.store == nil {
		abortUnavailable(c, "persistence is disabled")
		return
	}
	result, err := s.store.GetDeployment(c.Param("id"))
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.control.Status())
}

func (s *Server) triggerRecovery(c *gin.Context) {
	var req recoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation, err.Error(),
			"submit a known failure_type and a component name")
		return
	}

	err := s.control.AttemptRecovery(c.Request.Context(), types.FailureType(req.FailureType), req.Component)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"failure_type": req.FailureType,
		"component":    req.Component,
	})
}

func (s *Server) recoveryHistory(c *gin.Context) {
	if s.store == nil {
		abortUnavailable(c, "persistence is disabled")
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	attempts, err := s.store.ListRecoveryAttempts(c.Query("component"), limit)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts, "count": len(attempts)})
}

func (s *Server) getBudget(c *gin.Context) {
	workspace := c.Query("workspace")
	if workspace == "" {
		abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation,
			"workspace query parameter is required", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace_id": workspace,
		"config":       s.control.Budget(workspace),
		"quota":        s.control.CheckQuota(workspace, 0),
	})
}

func (s *Server) putBudget(c *gin.Context) {
	var req budgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation, err.Error(),
			"submit workspace_id, monthly_limit, and an alert_threshold between 0 and 1")
		return
	}

	cfg := types.BudgetConfig{
		Enabled:        req.Enabled,
		MonthlyLimit:   req.MonthlyLimit,
		AlertThreshold: req.AlertThreshold,
	}
	if err := s.control.SetBudget(req.WorkspaceID, cfg); err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workspace_id": req.WorkspaceID,
		"config":       s.control.Budget(req.WorkspaceID),
	})
}

func (s *Server) listEvents(c *gin.Context) {
	if s.audit == nil {
		abortUnavailable(c, "the audit trail is disabled")
		return
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation,
				"since must be an RFC 3339 timestamp", "")
			return
		}
		since = parsed
	}
	limit, ok := queryInt(c, "limit", defaultEventLimit)
	if !ok {
		return
	}

	list, err := s.audit.Query(since, limit)
	if err != nil {
		s.abortError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": list, "count": len(list)})
}

// queryInt parses an optional non-negative integer query parameter,
// answering 400 itself when the value is junk.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		abortStatus(c, http.StatusBadRequest, errdefs.CodeValidation,
			name+" must be a non-negative integer", "")
		return 0, false
	}
	return v, true
}

// abortError maps a control-plane error onto the envelope and aborts.
func (s *Server) abortError(c *gin.Context, err error) {
	status, body := errorBody(err)
	c.AbortWithStatusJSON(status, body)
}

func abortStatus(c *gin.Context, status int, code, message, hint string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: apiError{
		Code:    code,
		Message: message,
		Hint:    hint,
	}})
}

func abortUnavailable(c *gin.Context, message string) {
	abortStatus(c, http.StatusServiceUnavailable, "UNAVAILABLE", message,
		"enable the feature in the controller configuration")
}

// errorBody maps an error onto an HTTP status and the JSON envelope.
// Message text is redacted because responses leave the process.
func errorBody(err error) (int, errorResponse) {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound, errorResponse{Error: apiError{
			Code:    errdefs.CodeNotFound,
			Message: redact.Error(err),
		}}
	}

	var e *errdefs.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, errorResponse{Error: apiError{
			Code:    "INTERNAL",
			Message: redact.Error(err),
		}}
	}

	return statusFor(e), errorResponse{Error: apiError{
		Kind:      string(e.Kind),
		Code:      e.Code,
		Message:   redact.String(e.Message),
		Component: e.Component,
		Operation: e.Operation,
		Hint:      e.Hint,
	}}
}

// statusFor picks the HTTP status for a classified error. Specific
// codes win over kinds: client mistakes 4xx, control plane not ready
// 503, backend failures 502.
func statusFor(e *errdefs.Error) int {
	switch e.Code {
	case errdefs.CodeNotRunning:
		return http.StatusServiceUnavailable
	case errdefs.CodeQuotaExceeded:
		return http.StatusForbidden
	case errdefs.CodeRecoveryInFlight:
		return http.StatusConflict
	case errdefs.CodeCooldownActive:
		return http.StatusTooManyRequests
	case errdefs.CodeBackendUnreachable:
		return http.StatusBadGateway
	}

	switch e.Kind {
	case errdefs.KindValidation, errdefs.KindConfiguration:
		return http.StatusBadRequest
	case errdefs.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case errdefs.KindDeployment, errdefs.KindRecovery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
