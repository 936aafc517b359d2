package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/config"
	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/system"
)

// APIController is one mountable API surface. Controllers register their
// routes under BasePath and may contribute per-group middleware.
type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// Server is the HTTP front of the router.
type Server struct {
	gin    *gin.Engine
	config config.Config
}

// NewServer builds the gin engine with logging, recovery and the operational
// endpoints. Debug mode additionally allows cross-origin requests from local
// frontends.
func NewServer(log *zap.Logger, cfg config.Config, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	if len(cfg.Server.TrustedProxies) > 0 {
		_ = engine.SetTrustedProxies(cfg.Server.TrustedProxies)
	}

	if debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "127.0.0.1:8080"},
				AllowMethods: []string{"GET", "PUT", "PATCH", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Authorization", "Content-Type"},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
	}

	engine.GET("healthz", s.getHealth)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// RegisterAll mounts all controllers under the /api group.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Engine exposes the underlying gin engine for tests.
func (s *Server) Engine() *gin.Engine {
	return s.gin
}

// Listen serves until the process exits, with TLS when configured.
func (s *Server) Listen() {
	if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
		_ = s.gin.RunTLS(s.config.Server.ListenAddress, s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
		return
	}
	_ = s.gin.Run(s.config.Server.ListenAddress)
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": system.Version})
}
