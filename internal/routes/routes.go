// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"actuator-hub/internal/config"
	"actuator-hub/internal/handler"
	"actuator-hub/internal/middleware"
	"actuator-hub/internal/service"
	"actuator-hub/internal/utils"
)

// Dependencies are the services the routes expose
type Dependencies struct {
	Manager   *service.DeviceManager
	Discovery *service.DiscoveryService
	Journal   handler.HealthChecker
	Events    handler.EventLister
	WebSocket handler.WebSocketDeps
}

// Router holds all dependencies for routing
type Router struct {
	config    *config.Config
	logger    *zap.Logger
	deps      Dependencies
	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(config *config.Config, logger *zap.Logger, deps Dependencies) *Router {
	if deps.WebSocket.Config == nil {
		deps.WebSocket.Config = config
	}
	if deps.WebSocket.Router == nil {
		deps.WebSocket.Router = deps.Manager
	}
	return &Router{
		config:    config,
		logger:    logger,
		deps:      deps,
		wsHandler: handler.NewWebSocketHandler(deps.WebSocket, logger),
	}
}

// Sessions returns the registry of connected protocol clients
func (r *Router) Sessions() *handler.ConnectionManager {
	return r.wsHandler.Connections()
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.deps.Manager, r.deps.Journal, r.Sessions(), r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deps.Manager, r.logger)

	healthHandler.RegisterRoutes(&router.RouterGroup)

	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	apiV1.GET("/sessions", r.wsHandler.GetSessions)
	if r.deps.Discovery != nil {
		handler.NewDiscoveryHandler(r.deps.Discovery, r.logger).RegisterRoutes(apiV1)
	}
	if r.deps.Events != nil {
		handler.NewEventHandler(r.deps.Events, r.logger).RegisterRoutes(apiV1)
	}

	// Client protocol
	router.GET("/ws", r.wsHandler.HandleConnection)

	r.logger.Info("All routes configured successfully")
}
