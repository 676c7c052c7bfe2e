package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jwalitptl/rx-api/internal/handler/health"
	"github.com/jwalitptl/rx-api/internal/handler/prometheus"
	"github.com/jwalitptl/rx-api/internal/middleware"
	"github.com/jwalitptl/rx-api/pkg/logger"
)

// Handler is a feature package that mounts its own routes.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup, *middleware.AuthMiddleware)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	health    *health.Handler
	metrics   *prometheus.Handler
	public    []Handler
	protected []Handler
}

type RouterConfig struct {
	Mode           string
	ServiceName    string
	Tracing        bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	RateLimit      *middleware.RateLimiterConfig
	CORSConfig     middleware.CORSConfig
}

// Handlers groups everything the API mounts. Public handlers decide for
// themselves which routes need a token; protected ones sit behind
// Authenticate.
type Handlers struct {
	Health    *health.Handler
	Metrics   *prometheus.Handler
	Public    []Handler
	Protected []Handler
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, log *logger.Logger, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	middleware.RegisterValidation()

	engine := gin.New()
	r := &Router{
		engine:    engine,
		auth:      auth,
		health:    handlers.Health,
		metrics:   handlers.Metrics,
		public:    handlers.Public,
		protected: handlers.Protected,
	}

	engine.Use(
		middleware.Recovery(log),
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.ErrorHandler(),
	)
	if config.Tracing {
		engine.Use(otelgin.Middleware(config.ServiceName))
	}
	if r.metrics != nil {
		engine.Use(r.metrics.Middleware())
	}
	engine.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)
	if config.RateLimit != nil {
		engine.Use(middleware.NewRateLimiter(*config.RateLimit).RateLimit())
	}
	engine.Use(
		middleware.SizeLimit(config.MaxBodyBytes),
		middleware.Timeout(config.RequestTimeout),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	for _, h := range r.public {
		h.RegisterRoutes(api, r.auth)
	}

	protected := api.Group("", r.auth.Authenticate())
	for _, h := range r.protected {
		h.RegisterRoutes(protected, r.auth)
	}
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	if r.health != nil {
		r.health.RegisterRoutes(rg)
	}
	if r.metrics != nil {
		r.metrics.RegisterRoutes(rg.Group("/health"))
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
