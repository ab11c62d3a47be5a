package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/internal/engine"
	"github.com/tidewater-io/cascade/pkg/api/handlers"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
)

// RouterConfig assembles the HTTP surface over a running engine. JWT and
// Metrics are optional; leaving them nil disables auth and /metrics.
type RouterConfig struct {
	Engine    *engine.Engine
	Bag       *dag.Bag
	Logger    *logrus.Logger
	JWT       *middleware.JWTConfig
	RateLimit *middleware.RateLimiter
	Metrics   prometheus.Gatherer
	Health    map[string]handlers.HealthCheck
}

// NewRouter builds the gin router for the engine API
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Logger != nil {
		router.Use(middleware.Logger(cfg.Logger))
	}
	router.Use(middleware.ErrorHandler())
	if cfg.RateLimit != nil {
		router.Use(cfg.RateLimit.RateLimit())
	}

	healthHandler := handlers.NewHealthHandler(cfg.Health)
	router.GET("/health", healthHandler.Health)

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{})))
	}

	workflowHandler := handlers.NewWorkflowHandler(cfg.Bag)
	instanceHandler := handlers.NewInstanceHandler(cfg.Engine)
	intakeHandler := handlers.NewIntakeHandler(cfg.Engine)
	eventHandler := handlers.NewEventHandler(cfg.Engine)

	v1 := router.Group("/api/v1")
	if cfg.JWT != nil {
		v1.Use(middleware.JWTAuth(cfg.JWT))
	}
	{
		v1.GET("/workflows", workflowHandler.ListWorkflows)
		v1.GET("/workflows/:id", workflowHandler.GetWorkflow)
		v1.POST("/workflows/:id/instances", instanceHandler.CreateInstance)

		v1.GET("/instances", instanceHandler.ListInstances)
		v1.GET("/instances/:id", instanceHandler.GetInstance)
		v1.POST("/instances/:id/cancel", instanceHandler.CancelInstance)
		v1.POST("/instances/:id/tasks/:task_id/input", intakeHandler.DeliverInput)
		v1.POST("/instances/:id/tasks/:task_id/decision", intakeHandler.DeliverDecision)

		v1.POST("/events", eventHandler.InjectEvent)
		v1.GET("/hooks", eventHandler.ListHooks)
	}

	return router
}
