package routes

import (
	"net/http"
	"time"

	"school-copilot/internal/config"
	"school-copilot/internal/database"
	"school-copilot/internal/queue"
	"school-copilot/internal/telemetry"
	"school-copilot/middleware"
	"school-copilot/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps are the services the HTTP layer dispatches to
type Deps struct {
	Config      *config.Config
	Store       database.Store
	Isolation   *services.ClassIsolationService
	Queries     *services.QueryService
	QueryLogger *services.QueryLogger
	Permissions *services.PermissionService
	Indexing    queue.Dispatcher
	Maintenance *services.MaintenanceService
	Auth        *middleware.AuthMiddleware
	Tokens      TokenRevoker
	Metrics     *telemetry.Metrics
}

// NewRouter builds the gin engine with every route registered
func NewRouter(d *Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if d.Config.OTELEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(d.Metrics))
	router.Use(middleware.RequestLogger())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = d.Config.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
	})

	api := router.Group("/api")
	api.Use(d.Auth.RequireAuth())

	SetupAuthRoutes(api, d)
	SetupClassRoutes(api, d)
	SetupDocumentRoutes(api, d)
	SetupQueryRoutes(api, d)
	SetupAdminRoutes(api, d)

	return router
}
