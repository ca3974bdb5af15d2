// Package server is the HTTP control surface: start trigger, heat toggle,
// viewport changes, reset, detection ingest, status, and the MJPEG view of
// the composited output.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"anttrail/feed"
	"anttrail/overlay"
	"anttrail/trail"
)

// debugMsgFunc is provided by the main package
var debugMsgFunc func(component, message string)
var debugMsgVerboseFunc func(component, message string)

// SetDebugFunction sets the debug function for this package
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

// SetDebugVerboseFunction sets the verbose debug function for this package
func SetDebugVerboseFunction(fn func(component, message string)) {
	debugMsgVerboseFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

func debugMsgVerbose(component, message string) {
	if debugMsgVerboseFunc != nil {
		debugMsgVerboseFunc(component, message)
	}
}

// Controller is the part of the render loop the server drives.
type Controller interface {
	Start() error
	SetHeat(on bool) error
	Resize(vp trail.Viewport) error
	Reset() error
	PushDetections(b trail.Batch) error
	Status() overlay.Status
}

// Options configure a Server.
type Options struct {
	Listen     string
	Controller Controller
	// MJPEG serves /stream.mjpg and /snapshot.jpg when set.
	MJPEG *MJPEG
	// Stats, if set, is added to /api/status under "pipeline".
	Stats func() interface{}
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	opts   Options
	engine *gin.Engine
}

type heatRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type viewportRequest struct {
	Width      int     `json:"width" binding:"gte=0"`
	Height     int     `json:"height" binding:"gte=0"`
	PixelRatio float64 `json:"pixel_ratio" binding:"gte=0"`
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "anttrail is running",
		})
	})

	api := r.Group("/api")
	{
		api.GET("/status", s.status)
		api.POST("/start", s.start)
		api.POST("/heat", s.heat)
		api.POST("/viewport", s.viewport)
		api.POST("/reset", s.reset)
		api.POST("/detections", s.detections)
	}

	if opts.MJPEG != nil {
		r.GET("/stream.mjpg", opts.MJPEG.serveStream)
		r.GET("/snapshot.jpg", opts.MJPEG.serveSnapshot)
	}

	s.engine = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debugMsg("HTTP", fmt.Sprintf("Listening on %s", s.opts.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// open MJPEG streams never finish on their own
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	debugMsg("HTTP", "HTTP server stopped")
	return nil
}

func (s *Server) status(c *gin.Context) {
	data := gin.H{"loop": s.opts.Controller.Status()}
	if s.opts.MJPEG != nil {
		data["mjpeg"] = s.opts.MJPEG.Stats()
	}
	if s.opts.Stats != nil {
		data["pipeline"] = s.opts.Stats()
	}
	success(c, data)
}

func (s *Server) start(c *gin.Context) {
	if err := s.opts.Controller.Start(); err != nil {
		unavailable(c, err.Error())
		return
	}
	success(c, gin.H{"started": true})
}

func (s *Server) heat(c *gin.Context) {
	var req heatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid heat request: "+err.Error())
		return
	}
	if err := s.opts.Controller.SetHeat(*req.Enabled); err != nil {
		unavailable(c, err.Error())
		return
	}
	success(c, gin.H{"heat": *req.Enabled})
}

func (s *Server) viewport(c *gin.Context) {
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid viewport: "+err.Error())
		return
	}
	vp := trail.Viewport{Width: req.Width, Height: req.Height, PixelRatio: req.PixelRatio}
	if err := s.opts.Controller.Resize(vp); err != nil {
		unavailable(c, err.Error())
		return
	}
	success(c, vp)
}

func (s *Server) reset(c *gin.Context) {
	if err := s.opts.Controller.Reset(); err != nil {
		unavailable(c, err.Error())
		return
	}
	success(c, gin.H{"reset": true})
}

// detections accepts the same JSON batches as the websocket feed.
func (s *Server) detections(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, "Could not read body")
		return
	}
	b, err := feed.Decode(body)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.opts.Controller.PushDetections(b); err != nil {
		unavailable(c, err.Error())
		return
	}
	success(c, gin.H{"queued": len(b.Objects)})
}
