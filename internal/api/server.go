package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/L1nMay/vulnorch/internal/auth"
	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/logger"
	"github.com/L1nMay/vulnorch/internal/metrics"
	"github.com/L1nMay/vulnorch/internal/model"
	"github.com/L1nMay/vulnorch/internal/scan"
	"github.com/L1nMay/vulnorch/internal/storage"
)

const userKey = "user"

// streamRefresh is how often an open progress stream re-reads the record.
var streamRefresh = 5 * time.Second

type Server struct {
	cfg     *config.Config
	svc     *scan.Service
	authn   *auth.Authenticator
	metrics *metrics.Metrics
	history *storage.History
}

type StartRequest struct {
	AssetIDs []string `json:"assetIds"`
}

// NewServer wires the HTTP surface. metrics and history may be nil.
func NewServer(cfg *config.Config, svc *scan.Service, authn *auth.Authenticator, m *metrics.Metrics, history *storage.History) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		authn:   authn,
		metrics: m,
		history: history,
	}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), withLogging(), withCORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"ts":      time.Now().UTC(),
			"running": s.svc.Runner().Running(),
		})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	g := r.Group("/scan", s.requireUser(auth.PermAssetAccess))
	g.GET("/assets", s.handleAssets)
	g.POST("/start", s.handleStart)
	g.GET("/status/:scanId", s.handleStatus)
	g.GET("/results/:scanId", s.handleResults)
	g.POST("/cancel/:scanId", s.handleCancel)
	g.GET("/history", s.handleHistory)
	g.GET("/stats", s.handleStats)
	g.GET("/test-connection", s.handleTestConnection)
	g.GET("/stream/:scanId", s.handleStream)

	return r
}

// ListenAndServe blocks until ctx is done, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("API listening on http://%s", s.cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func currentUser(c *gin.Context) auth.User {
	u, _ := c.Get(userKey)
	user, _ := u.(auth.User)
	return user
}

func (s *Server) handleAssets(c *gin.Context) {
	assets, err := s.svc.ListScannableAssets(currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"assets":  assets,
		"canScan": len(assets) > 0,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}
	}

	user := currentUser(c)
	rec, err := s.svc.StartScan(c.Request.Context(), user, req.AssetIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	logger.WithScan(rec.ID).Infof("scan requested by %s", user.ID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"scanId":  rec.ID,
		"assets":  rec.Assets,
		"message": "Scan started",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	rec, err := s.svc.Status(currentUser(c), c.Param("scanId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "scan": rec})
}

func (s *Server) handleResults(c *gin.Context) {
	rep, err := s.svc.Results(currentUser(c), c.Param("scanId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": rep})
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.svc.Cancel(currentUser(c), c.Param("scanId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Scan cancelled"})
}

func (s *Server) handleHistory(c *gin.Context) {
	scans, err := s.svc.History(currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "scans": scans})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "scan history is disabled"})
		return
	}
	user := currentUser(c)
	owner := user.ID
	if user.IsAdmin() && c.Query("all") == "true" {
		owner = ""
	}
	st, err := s.history.GetStats(owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": st})
}

// handleTestConnection never fails the HTTP call; reachability is in the body.
func (s *Server) handleTestConnection(c *gin.Context) {
	res := s.svc.TestConnection(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"success": res.OK,
		"message": res.Message,
		"details": res,
	})
}

// handleStream pushes progress events (SSE) until the scan is terminal or the
// client goes away.
func (s *Server) handleStream(c *gin.Context) {
	user := currentUser(c)
	id := c.Param("scanId")

	updates, stop, err := s.svc.Watch(user, id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer stop()

	rec, err := s.svc.Status(user, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("progress", snapshot(rec))
	c.Writer.Flush()
	if rec.Status.Terminal() {
		return
	}

	// the hub drops updates for slow subscribers, so the record is re-read
	// periodically in case the terminal one was lost
	ticker := time.NewTicker(streamRefresh)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case p, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("progress", p)
			return !p.Status.Terminal()
		case <-ticker.C:
			rec, err := s.svc.Status(user, id)
			if err != nil {
				return false
			}
			if !rec.Status.Terminal() {
				return true
			}
			c.SSEvent("progress", snapshot(rec))
			return false
		}
	})
}

func snapshot(rec *model.ScanRecord) scan.Progress {
	return scan.Progress{ScanID: rec.ID, Status: rec.Status, Percent: rec.Progress, Message: rec.Message}
}
