// Package admin exposes the management API: runtime target
// configuration, the request log, derived statistics, and a
// connectivity probe. It also serves the operator console.
package admin

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/store"
)

// probeTimeout bounds the test-connection upstream call.
const probeTimeout = 10 * time.Second

// consoleCSP keeps the operator console self-contained: no external
// scripts, styles, or frames.
const consoleCSP = "default-src 'self'; style-src 'unsafe-inline'; script-src 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'"

// ErrorResponse is the JSON error body for admin endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API carries the handlers mounted under /admin.
type API struct {
	store       store.Store
	auth        Authenticator
	probeClient *http.Client
	defaultURL  string
	consolePath string
	logger      *zap.Logger
}

// New builds the admin API. defaultURL backfills stats when no target
// override is stored; consolePath locates the console HTML document.
func New(s store.Store, auth Authenticator, defaultURL, consolePath string, logger *zap.Logger) *API {
	return &API{
		store:       s,
		auth:        auth,
		probeClient: &http.Client{Timeout: probeTimeout},
		defaultURL:  defaultURL,
		consolePath: consolePath,
		logger:      logger,
	}
}

// Router returns a gin engine with every admin route registered. The
// console is served without authentication; it carries no secrets and
// its API calls authenticate individually.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/admin", a.serveConsole)
	router.GET("/admin/", a.serveConsole)

	authed := router.Group("/admin", a.requireAuth)
	{
		authed.GET("/config", a.getConfig)
		authed.POST("/config", a.setConfig)
		authed.GET("/logs", a.getLogs)
		authed.POST("/logs", a.appendLog)
		authed.DELETE("/logs", a.clearLogs)
		authed.GET("/stats", a.getStats)
		authed.POST("/test-connection", a.testConnection)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	})
	return router
}

func (a *API) requireAuth(c *gin.Context) {
	if err := a.auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.Next()
}

func (a *API) serveConsole(c *gin.Context) {
	if _, err := os.Stat(a.consolePath); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "admin console not available"})
		return
	}
	c.Header("Content-Security-Policy", consoleCSP)
	c.Header("X-Content-Type-Options", "nosniff")
	c.File(a.consolePath)
}

func (a *API) getConfig(c *gin.Context) {
	record, err := a.store.GetConfig(c.Request.Context())
	if err != nil {
		a.storeError(c, "failed to read config", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (a *API) setConfig(c *gin.Context) {
	var update store.ConfigUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}

	record, err := a.store.SetConfig(c.Request.Context(), update)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
			return
		}
		a.storeError(c, "failed to write config", err)
		return
	}
	a.logger.Info("target config updated")
	c.JSON(http.StatusOK, record)
}

func (a *API) getLogs(c *gin.Context) {
	// A missing, non-numeric, or non-positive limit falls back to the
	// default window rather than rejecting the request.
	limit := store.DefaultLogLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := a.store.GetLogs(c.Request.Context(), limit)
	if err != nil {
		a.storeError(c, "failed to read logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}

func (a *API) appendLog(c *gin.Context) {
	var entry store.LogEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}

	stored, err := a.store.AppendLog(c.Request.Context(), entry)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: verr.Error()})
			return
		}
		a.storeError(c, "failed to append log", err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (a *API) clearLogs(c *gin.Context) {
	if err := a.store.ClearLogs(c.Request.Context()); err != nil {
		a.storeError(c, "failed to clear logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logs cleared"})
}

func (a *API) getStats(c *gin.Context) {
	stats, err := a.store.GetStats(c.Request.Context())
	if err != nil {
		a.storeError(c, "failed to read stats", err)
		return
	}
	if stats.CurrentTarget == "" {
		stats.CurrentTarget = a.defaultURL
	}
	c.JSON(http.StatusOK, stats)
}

// testConnectionRequest optionally overrides the URL to probe; when
// absent the stored config and then the static default apply.
type testConnectionRequest struct {
	TargetAPIURL string `json:"targetApiUrl"`
}

type testConnectionResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// testConnection issues one unauthenticated GET to <target>/v1/models.
// Any HTTP response proves the target is reachable and speaks HTTP, so
// auth rejections and missing routes still count as success; only a
// transport failure reports an error. Stored configuration is never
// touched.
func (a *API) testConnection(c *gin.Context) {
	var req testConnectionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
			return
		}
	}

	url := req.TargetAPIURL
	if url == "" {
		record, err := a.store.GetConfig(c.Request.Context())
		if err != nil {
			a.storeError(c, "failed to read config", err)
			return
		}
		if stored, ok := record.URL(); ok {
			url = stored
		} else {
			url = a.defaultURL
		}
	}
	url = store.NormalizeBaseURL(url)

	probe, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, url+"/v1/models", nil)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Connection failed",
			"message": err.Error(),
		})
		return
	}

	resp, err := a.probeClient.Do(probe)
	if err != nil {
		a.logger.Warn("connection test failed", zap.String("target", url), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Connection failed",
			"message": err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	c.JSON(http.StatusOK, testConnectionResponse{
		Message: "Connection successful",
		Status:  resp.StatusCode,
	})
}

func (a *API) storeError(c *gin.Context, msg string, err error) {
	a.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
}

