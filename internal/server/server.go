package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	civservice "github.com/smallbiznis/pantheon/internal/civilization/service"
	"github.com/smallbiznis/pantheon/internal/config"
	"github.com/smallbiznis/pantheon/internal/observability"
	obsmiddleware "github.com/smallbiznis/pantheon/internal/observability/logger"
	obstracing "github.com/smallbiznis/pantheon/internal/observability/tracing"
	religionservice "github.com/smallbiznis/pantheon/internal/religion/service"
	"github.com/smallbiznis/pantheon/internal/world"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

// NewEngine builds the ops engine. Game traffic never goes through here.
func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("ops server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	religions     *religionservice.Registry
	civilizations *civservice.Registry
	checkpointer  *world.Checkpointer
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	Religions     *religionservice.Registry
	Civilizations *civservice.Registry
	Checkpointer  *world.Checkpointer `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		religions:     p.Religions,
		civilizations: p.Civilizations,
		checkpointer:  p.Checkpointer,
	}
}

func (s *Server) RegisterRoutes() {
	r := s.engine

	r.GET("/health", s.Health)
	r.NoRoute(func(c *gin.Context) { AbortWithError(c, ErrNotFound) })

	v1 := r.Group("/v1")
	{
		v1.GET("/religions", s.ListReligions)
		v1.GET("/religions/:slug", s.GetReligion)
		v1.GET("/religions/:slug/invites", s.ListReligionInvites)

		v1.GET("/civilizations", s.ListCivilizations)
		v1.GET("/civilizations/:slug", s.GetCivilization)

		v1.GET("/players/:id/religion", s.GetPlayerReligion)
		v1.GET("/players/:id/invites", s.ListPlayerInvites)
	}
}

// Health reports liveness plus whether unsaved governance state is waiting for a checkpoint.
func (s *Server) Health(c *gin.Context) {
	if s.checkpointer != nil && s.checkpointer.LeaseLost() {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	resp := gin.H{"status": "ok"}
	if s.checkpointer != nil {
		resp["dirty"] = s.checkpointer.Dirty()
		if next := s.checkpointer.NextRun(); !next.IsZero() {
			resp["next_checkpoint"] = next.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, resp)
}
