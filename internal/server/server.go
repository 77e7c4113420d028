// Package server exposes the translation service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pdf-translate-api/internal/archive"
	"pdf-translate-api/internal/dispatch"
	"pdf-translate-api/internal/logger"
	"pdf-translate-api/internal/store"
	"pdf-translate-api/internal/types"
)

const (
	Version     = "1.0.0"
	ServiceName = "PDFMathTranslate API"

	RequestIDHeader = "X-Request-ID"
	JobIDHeader     = "X-Job-ID"

	requestIDKey      = "requestID"
	backgroundTimeout = 2 * time.Minute
)

// Dispatcher runs translations on behalf of the HTTP handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.TranslationRequest) (*types.TranslationResult, error)
	Stats() dispatch.Stats
	EngineName() string
	ModelAvailable() bool
}

type Options struct {
	// MaxUploadBytes caps the request body. Zero disables the cap.
	MaxUploadBytes int64
	// CORSOrigins lists allowed origins; empty or "*" allows all.
	CORSOrigins []string
}

type Server struct {
	dispatcher Dispatcher
	recorder   store.Recorder
	archiver   archive.Archiver
	opts       Options
	log        logger.Logger

	router     *gin.Engine
	background sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
}

// New wires the routes. recorder and archiver may be nil.
func New(d Dispatcher, recorder store.Recorder, archiver archive.Archiver, opts Options, log logger.Logger) *Server {
	if recorder == nil {
		recorder = store.Nop{}
	}
	if archiver == nil {
		archiver = archive.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		dispatcher: d,
		recorder:   recorder,
		archiver:   archiver,
		opts:       opts,
		log:        log,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	r.HandleMethodNotAllowed = true
	r.Use(s.requestID(), s.accessLog(), gin.CustomRecovery(s.recovery), cors.New(corsConfig(s.opts.CORSOrigins)))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/services", s.handleServices)
	r.GET("/languages", s.handleLanguages)
	r.GET("/jobs", s.handleJobs)

	r.POST("/translate/mono", s.handleTranslate(types.ShapeMono))
	r.POST("/translate/dual", s.handleTranslate(types.ShapeDual))
	r.POST("/translate", s.handleTranslate(types.ShapeCombined))

	r.NoRoute(statusEnvelope(http.StatusNotFound))
	r.NoMethod(statusEnvelope(http.StatusMethodNotAllowed))
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AddAllowHeaders(RequestIDHeader)
	cfg.AddExposeHeaders("Content-Disposition", RequestIDHeader, JobIDHeader)
	return cfg
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.log.Info("http server listening", logger.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight handlers and then
// for pending audit and archive work, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("background work still pending at shutdown")
	}
	return err
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.requestLogger(c).Info("request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Int("bytes", c.Writer.Size()),
			logger.Duration("took", time.Since(start)))
	}
}

func (s *Server) requestLogger(c *gin.Context) logger.Logger {
	return s.log.With(logger.String("requestId", c.GetString(requestIDKey)))
}

// runBackground runs fn detached from the request with its own deadline.
func (s *Server) runBackground(fn func(ctx context.Context)) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}
