package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"domainwarden/internal/database"
	"domainwarden/internal/engine"
	"domainwarden/internal/metrics"
	"domainwarden/internal/models"
	"domainwarden/internal/scheduler"

	"github.com/labstack/echo/v4"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
)

type OpsHandler struct {
	eng *engine.Engine
}

func RegisterRoutes(e *echo.Echo, eng *engine.Engine) {
	h := &OpsHandler{eng: eng}

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.GET("/health", h.Health)
	api.GET("/worker/status", h.WorkerStatus)

	api.GET("/domain_status", h.ListDomainStatus)
	api.POST("/domain_status/check", h.CheckDomains)
	api.POST("/domain_status/init_ns_status", h.InitNSStatus)
	api.GET("/domain_status/:id/logs", h.DomainLogs)
	api.POST("/ns_check/run_all", h.RunAllNSChecks)

	api.POST("/projects/:id/manual_check", h.ManualHealthCheck)
	api.POST("/health_check/run_all", h.RunAllHealthChecks)

	api.POST("/routing/rebuild", h.RebuildRouting)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]any{"code": code, "error": msg})
}

func parseID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func (h *OpsHandler) Health(c echo.Context) error {
	redisState := "ok"
	if err := h.eng.PingRedis(c.Request().Context()); err != nil {
		redisState = "unreachable: " + err.Error()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"code":      http.StatusOK,
		"status":    "healthy",
		"redis":     redisState,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *OpsHandler) WorkerStatus(c echo.Context) error {
	sched := h.eng.Scheduler()
	jobs := sched.Status()
	return c.JSON(http.StatusOK, map[string]any{
		"code":              http.StatusOK,
		"scheduler_running": sched.Running(),
		"active_jobs":       len(jobs),
		"jobs":              jobs,
	})
}

type domainStatusView struct {
	ID           uint       `json:"id"`
	Domain       string     `json:"domain"`
	Provider     string     `json:"provider"`
	NSStatus     string     `json:"ns_status"`
	Status       string     `json:"status"`
	LastNSCheck  *time.Time `json:"last_ns_check"`
	NSCheckCount int        `json:"ns_check_count"`
	NSServers    string     `json:"ns_servers"`
	CustomPath   *string    `json:"custom_path"`
	ProjectID    *uint      `json:"project_id"`
}

func (h *OpsHandler) ListDomainStatus(c echo.Context) error {
	filter := models.NSStatus(c.QueryParam("status"))
	if filter != models.NSStatusUnset && !filter.Valid() {
		return errorJSON(c, http.StatusBadRequest, "unknown ns_status "+string(filter))
	}

	domains, err := h.eng.DomainStatuses(c.Request().Context(), filter)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	views := make([]domainStatusView, 0, len(domains))
	for _, d := range domains {
		nsStatus := d.NSStatus
		if nsStatus == models.NSStatusUnset {
			nsStatus = models.NSStatusUnknown
		}
		views = append(views, domainStatusView{
			ID:           d.ID,
			Domain:       d.Domain,
			Provider:     d.Provider,
			NSStatus:     string(nsStatus),
			Status:       string(d.Status),
			LastNSCheck:  d.LastNSCheck,
			NSCheckCount: d.NSCheckCount,
			NSServers:    d.NSServers,
			CustomPath:   d.CustomPath,
			ProjectID:    d.ProjectID,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"code": http.StatusOK, "data": views})
}

type nsCheckResult struct {
	DomainID  uint   `json:"domain_id"`
	NewStatus string `json:"new_status"`
	Message   string `json:"message"`
}

// CheckDomains runs a manual NS check synchronously and returns the results.
func (h *OpsHandler) CheckDomains(c echo.Context) error {
	var req struct {
		DomainIDs []uint `json:"domain_ids"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if len(req.DomainIDs) == 0 {
		return errorJSON(c, http.StatusBadRequest, "domain_ids is required")
	}

	// the pass outlives a client that hangs up
	ctx := context.WithoutCancel(c.Request().Context())
	results, err := h.eng.NSChecker().Check(ctx, req.DomainIDs, models.CheckTypeManualNS)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	out := make([]nsCheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, nsCheckResult{DomainID: r.EntityID, NewStatus: r.NewStatus, Message: r.Message})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"code":    http.StatusOK,
		"message": "check finished",
		"results": out,
	})
}

func (h *OpsHandler) InitNSStatus(c echo.Context) error {
	n, err := h.eng.NSChecker().InitNSStatus(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"code":    http.StatusOK,
		"message": "initialized " + strconv.Itoa(n) + " domains",
		"count":   n,
	})
}

func (h *OpsHandler) DomainLogs(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	limit := defaultLogLimit
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
		}
		if limit > maxLogLimit {
			limit = maxLogLimit
		}
	}

	logs, err := h.eng.Store().RecentStatusLogs(c.Request().Context(), id, limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"code": http.StatusOK, "data": logs})
}

func (h *OpsHandler) RunAllNSChecks(c echo.Context) error {
	return h.accepted(c, "NS check", h.eng.TriggerNSCheck)
}

func (h *OpsHandler) RunAllHealthChecks(c echo.Context) error {
	return h.accepted(c, "health check", h.eng.TriggerHealthCheck)
}

func (h *OpsHandler) accepted(c echo.Context, what string, trigger func() (bool, error)) error {
	started, err := trigger()
	if errors.Is(err, scheduler.ErrNotRunning) {
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	msg := what + " started in background"
	if !started {
		msg = what + " already running"
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"code":    http.StatusAccepted,
		"message": msg,
		"started": started,
	})
}

func (h *OpsHandler) ManualHealthCheck(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}

	if err := h.eng.CheckProjectAsync(c.Request().Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "project not found")
		}
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"code":    http.StatusAccepted,
		"message": "health check of project " + strconv.FormatUint(uint64(id), 10) + " started in background",
	})
}

func (h *OpsHandler) RebuildRouting(c echo.Context) error {
	h.eng.RebuildAsync()
	return c.JSON(http.StatusAccepted, map[string]any{
		"code":    http.StatusAccepted,
		"message": "routing rebuild started in background",
	})
}
