package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"momcal/internal/category"
	"momcal/internal/config"
	"momcal/internal/feed"
	"momcal/internal/ics"
	appLog "momcal/internal/log"
	"momcal/internal/model"
	"momcal/internal/videos"
)

// EventSource is the read/refresh side of the feed controller.
type EventSource interface {
	Snapshot() feed.View
	Refresh(ctx context.Context) error
}

// VideoLister supplies the video gallery.
type VideoLister interface {
	List(ctx context.Context) []videos.Video
}

// Server exposes the calendar view, the re-published ICS feed and the
// gallery data to the marketing site.
type Server struct {
	cfg         *config.Config
	events      EventSource
	categorizer *category.Categorizer
	videos      VideoLister
	engine      *gin.Engine
}

// embeddedStatic holds the fallback landing page. The production site is
// deployed separately and only consumes the API.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a Server. vids may be nil.
func NewServer(cfg *config.Config, events EventSource, categorizer *category.Categorizer, vids VideoLister) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:         cfg,
		events:      events,
		categorizer: categorizer,
		videos:      vids,
		engine:      gin.New(),
	}
	s.engine.Use(requestLogger(), gin.Recovery(), cors())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		api.GET("/events", s.handleEvents)
		api.POST("/refresh", s.handleRefresh)
		api.GET("/categories", s.handleCategories)
		api.GET("/videos", s.handleVideos)
	}

	s.engine.GET("/events.ics", s.handleICS)
	s.engine.GET("/share.png", s.handleShareImage)

	s.engine.NoRoute(s.staticHandler())
}

// requestLogger writes one line per request through the application logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).Round(time.Microsecond).String(),
			"client", c.ClientIP(),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			kv = append(kv, "errors", msg)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			appLog.Warn("http request", kv...)
			return
		}
		appLog.Debug("http request", kv...)
	}
}

// cors lets the statically hosted site call the API from another origin.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Accept-Language")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// eventDTO adds the localized category label to a CalendarEvent.
type eventDTO struct {
	model.CalendarEvent
	CategoryLabel string `json:"categoryLabel,omitempty"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events      []eventDTO `json:"events"`
	Loading     bool       `json:"loading"`
	Error       *string    `json:"error"`
	LastUpdated *time.Time `json:"lastUpdated"`
	Lang        string     `json:"lang"`
}

type categoryDTO struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Default bool   `json:"default,omitempty"`
}

func (s *Server) lang(c *gin.Context) string {
	return category.MatchLanguage(c.Query("lang"), c.GetHeader("Accept-Language"))
}

func (s *Server) viewResponse(v feed.View, lang string) eventsResponse {
	resp := eventsResponse{
		Events:      make([]eventDTO, 0, len(v.Events)),
		Loading:     v.Loading,
		LastUpdated: v.LastUpdated,
		Lang:        lang,
	}
	if v.Error != feed.ErrorNone {
		e := string(v.Error)
		resp.Error = &e
	}
	for _, ev := range v.Events {
		resp.Events = append(resp.Events, eventDTO{
			CalendarEvent: ev,
			CategoryLabel: s.categorizer.Label(ev.CategoryKey, lang),
		})
	}
	return resp
}

// handleEvents returns upcoming and ongoing events.
//
// GET /api/events?lang=de
//   - lang: "en" or "de"; falls back to Accept-Language, then English.
func (s *Server) handleEvents(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.JSON(http.StatusOK, s.viewResponse(s.events.Snapshot(), s.lang(c)))
}

// handleRefresh forces a refresh and returns the resulting view. Fetch
// failures are reported through the view's error field, not the status code.
func (s *Server) handleRefresh(c *gin.Context) {
	// A client hanging up must not turn into a failed refresh.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.events.Refresh(ctx); err != nil && !errors.Is(err, feed.ErrRefreshFailed) && !errors.Is(err, feed.ErrSuperseded) {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "refresh unavailable"})
		return
	}
	c.JSON(http.StatusOK, s.viewResponse(s.events.Snapshot(), s.lang(c)))
}

func (s *Server) handleCategories(c *gin.Context) {
	lang := s.lang(c)
	cats := s.categorizer.Categories()
	out := make([]categoryDTO, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryDTO{
			Key:     cat.Key,
			Label:   cat.Label.Get(lang),
			Default: cat.Key == s.categorizer.Default(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": out, "lang": lang})
}

func (s *Server) handleVideos(c *gin.Context) {
	if s.videos == nil {
		c.JSON(http.StatusOK, gin.H{"videos": []videos.Video{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": s.videos.List(c.Request.Context())})
}

// handleICS re-publishes the upcoming events as a subscribable calendar.
func (s *Server) handleICS(c *gin.Context) {
	v := s.events.Snapshot()
	body := ics.Export(s.cfg.Calendar.Name, v.Events)
	c.Header("Content-Disposition", `inline; filename="events.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// handleShareImage serves the last captured share image from disk.
func (s *Server) handleShareImage(c *gin.Context) {
	path := s.cfg.Snapshot.Output
	if path == "" {
		c.Status(http.StatusNotFound)
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.File(path)
}

// staticHandler serves the embedded landing page for every path that no
// route matched. Unknown /api/* paths get a JSON 404 instead of HTML.
func (s *Server) staticHandler() gin.HandlerFunc {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "static UI not available")
		}
	}
	fileServer := http.FileServer(http.FS(sub))

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}
