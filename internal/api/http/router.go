package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/tracing"
)

// RouterConfig selects the optional middleware.
type RouterConfig struct {
	CORS      middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig
	Tracer    *tracing.Tracer
}

// NewRouter builds the introspection router.
func NewRouter(k Kernel, metrics *monitoring.Metrics, log *zap.Logger, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	if cfg.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(cfg.Tracer))
	}
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cfg.CORS))
	if cfg.RateLimit != nil {
		router.Use(middleware.RateLimit(*cfg.RateLimit))
	}

	h := NewHandlers(k)
	router.GET("/healthz", h.Health)
	router.GET("/metrics", metricsHandler(metrics.Registry()))

	v1 := router.Group("/v1")
	{
		v1.GET("/stats", h.Stats)
		v1.GET("/tasks", h.ListTasks)
		v1.GET("/tasks/:label", h.GetTask)
		v1.GET("/services", h.ListServices)
		v1.GET("/stream", ws.NewHandler(k, log.Named("ws")).HandleConnection)
	}

	return router
}

func metricsHandler(reg *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}
