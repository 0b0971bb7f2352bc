// Package control exposes the worker pool and gate health over a small
// HTTP API so the dashboard and external tooling can drive the pool
// without shelling out to the CLI.
package control

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"vivarium/pkg/audit"
	"vivarium/pkg/pool"
)

// DefaultGateWindow is how many recent gate events feed the health report.
const DefaultGateWindow = 50

// Pool is the supervisor surface the API drives.
type Pool interface {
	Status(ctx context.Context) (pool.State, error)
	Start(ctx context.Context, requested int) (pool.Result, error)
	Stop(ctx context.Context) (pool.Result, error)
}

// GateReader reports aggregate gate health.
type GateReader interface {
	GateMetrics(lastN int) (audit.Snapshot, error)
}

// SettingsStore persists the resident worker count across restarts.
// May be nil, in which case start requests must name a count or fall
// back to the supervisor default.
type SettingsStore interface {
	ResidentCount() (int, error)
	SetResidentCount(n int) error
}

// Server is the control panel HTTP server.
type Server struct {
	pool       Pool
	gate       GateReader
	settings   SettingsStore
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the server and its routes. Pass a nil settings store
// to disable resident count persistence.
func NewServer(p Pool, g GateReader, s SettingsStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	engine.Use(cors.New(corsConfig))

	srv := &Server{pool: p, gate: g, settings: s, engine: engine}

	api := engine.Group("/api")
	api.GET("/worker/status", srv.handleStatus)
	api.POST("/worker/start", srv.handleStart)
	api.POST("/worker/stop", srv.handleStop)
	api.GET("/gate/health", srv.handleGateHealth)

	return srv
}

// Handler returns the underlying HTTP handler (for tests).
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks serving the API on addr until Shutdown or failure.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// statusPayload is the wire shape shared by status, start, and stop
// responses. "pid" carries the first managed worker for tooling that
// only tracks one; "managed" reports whether every running worker was
// spawned by the supervisor.
type statusPayload struct {
	Success        bool        `json:"success"`
	Running        bool        `json:"running"`
	Managed        bool        `json:"managed"`
	PID            *int        `json:"pid"`
	PIDs           []int       `json:"pids"`
	UnmanagedPIDs  []int       `json:"unmanaged_pids"`
	RunningCount   int         `json:"running_count"`
	TargetCount    int         `json:"target_count"`
	StartedAt      *time.Time  `json:"started_at"`
	RunningSource  pool.Source `json:"running_source"`
	UnkillablePIDs []int       `json:"unkillable_pids,omitempty"`
	Error          string      `json:"error,omitempty"`
}

func payloadFromState(st pool.State, success bool, errMsg string) statusPayload {
	p := statusPayload{
		Success:       success,
		Running:       st.Running,
		Managed:       st.RunningSource == pool.SourceManaged,
		PIDs:          st.PIDs,
		UnmanagedPIDs: st.UnmanagedPIDs,
		RunningCount:  st.RunningCount,
		TargetCount:   st.TargetCount,
		StartedAt:     st.StartedAt,
		RunningSource: st.RunningSource,
		Error:         errMsg,
	}
	if p.PIDs == nil {
		p.PIDs = []int{}
	}
	if p.UnmanagedPIDs == nil {
		p.UnmanagedPIDs = []int{}
	}
	if len(p.PIDs) > 0 {
		pid := p.PIDs[0]
		p.PID = &pid
	}
	return p
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.pool.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, payloadFromState(st, false, err.Error()))
		return
	}
	c.JSON(http.StatusOK, payloadFromState(st, true, ""))
}

// startRequest is the optional start body. A zero resident count means
// "use the persisted or default target".
type startRequest struct {
	ResidentCount int `json:"resident_count"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}
	}
	if req.ResidentCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "resident_count must not be negative"})
		return
	}

	target := req.ResidentCount
	if target == 0 && s.settings != nil {
		persisted, err := s.settings.ResidentCount()
		if err == nil {
			target = persisted
		}
	}
	if target > 0 && s.settings != nil {
		// Best effort; the pool start decides success.
		_ = s.settings.SetResidentCount(target)
	}

	res, err := s.pool.Start(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, payloadFromState(res.State, false, err.Error()))
		return
	}
	c.JSON(http.StatusOK, payloadFromState(res.State, res.Success, res.Error))
}

func (s *Server) handleStop(c *gin.Context) {
	res, err := s.pool.Stop(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, payloadFromState(res.State, false, err.Error()))
		return
	}
	p := payloadFromState(res.State, res.Success, res.Error)
	p.UnkillablePIDs = res.UnkillablePIDs
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGateHealth(c *gin.Context) {
	snap, err := s.gate.GateMetrics(DefaultGateWindow)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"metrics": snap,
	})
}
