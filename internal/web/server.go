// Package web serves the upload, training and prediction pages.
package web

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/YuminosukeSato/strokeguard/graphs"
	"github.com/YuminosukeSato/strokeguard/internal/config"
	"github.com/YuminosukeSato/strokeguard/internal/history"
	"github.com/YuminosukeSato/strokeguard/internal/session"
	"github.com/YuminosukeSato/strokeguard/pkg/errors"
	"github.com/YuminosukeSato/strokeguard/pkg/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// sessionIdle is how long an unused session is kept.
const sessionIdle = 2 * time.Hour

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	cfg      *config.Config
	sessions *session.Store
	history  *history.Store
	charts   *graphs.Generator
	logger   log.Logger

	// chartsMu はチャートディレクトリの掃除と生成を直列化する
	chartsMu sync.Mutex
	// modelMu はディスク上の単一モデルファイルへのアクセスを直列化する
	modelMu sync.RWMutex
}

// New creates the upload and chart directories and returns a Server.
// hist may be nil to disable run history.
func New(cfg *config.Config, hist *history.Store) (*Server, error) {
	for _, dir := range []string{cfg.UploadDir, cfg.StaticDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory %s", dir)
		}
	}
	logger := log.GetLoggerWithName("web")
	charts := graphs.NewGenerator(cfg.StaticDir)
	return &Server{
		cfg:      cfg,
		sessions: session.NewStore(sessionIdle),
		history:  hist,
		charts:   charts,
		logger:   logger,
	}, nil
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	r.MaxMultipartMemory = int64(s.cfg.MaxUploadMB) << 20

	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))
	r.Static("/static", s.cfg.StaticDir)
	r.GET("/healthz", s.health)

	app := r.Group("/", s.sessionMiddleware())
	{
		app.GET("/", s.index)
		app.POST("/upload", s.upload)
		app.POST("/train", s.train)
		app.POST("/predict", s.predict)
		app.GET("/runs", s.runs)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	}
	return c
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.pruneSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "http.addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sessions.Prune(now); n > 0 {
				s.logger.Debug("Pruned idle sessions", "sessions.removed", n)
			}
		}
	}
}
