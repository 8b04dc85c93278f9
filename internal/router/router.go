package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/educaition/station/internal/config"
	"github.com/educaition/station/internal/handler"
	"github.com/educaition/station/internal/middleware"
	"github.com/educaition/station/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures the station's local API. The session routes are
// consumed by the kiosk UI on the same machine; the monitor stream and
// health endpoint also serve proctor dashboards elsewhere on the lab
// network.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// Restrict origins when configured, otherwise allow all so dev works
	// without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Every response carries a request id in its metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/ws/v1/monitor", handlers.Monitor.Stream)

	api := router.Group("/api/v1")
	{
		api.GET("/tests", handlers.Session.ListTests)

		sess := api.Group("/session/:test/:room")
		{
			sess.GET("", handlers.Session.State)
			sess.POST("/start", handlers.Session.Start)
			sess.POST("/register", handlers.Session.Register)
			sess.POST("/answers", handlers.Session.Answer)
			sess.POST("/submit", handlers.Session.Submit)

			// Throttled: the override PIN must not be guessable by a
			// participant hammering the endpoint.
			overrideLimiter := middleware.NewAttemptLimiter(5, time.Minute)
			sess.POST("/override", overrideLimiter.Middleware(), handlers.Session.Override)
		}
	}

	return router
}
