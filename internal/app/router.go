package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"golang.org/x/exp/slog"

	"kiosk/internal/handler"
	"kiosk/internal/middleware"
	internalRedis "kiosk/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	AuthHandler      *handler.AuthHandler
	ReaderHandler    *handler.ReaderHandler
	DonationHandler  *handler.DonationHandler
	CatalogHandler   *handler.CatalogHandler
	EventHandler     *handler.EventHandler
	IdempotencyStore internalRedis.IdempotencyStoreInterface // nil disables replay
	AllowedOrigins   []string
	NewRelicApp      *newrelic.Application
	Logger           *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Redirect form of the OAuth deep link.
	router.GET("/oauth/callback", deps.AuthHandler.Callback)

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Authorization routes.
		auth := v1.Group("/auth")
		{
			auth.GET("", deps.AuthHandler.GetSession)
			auth.POST("/begin", deps.AuthHandler.Begin)
			auth.POST("/poll", deps.AuthHandler.Poll)
			auth.POST("/deeplink", deps.AuthHandler.DeepLink)
			auth.POST("/logout", deps.AuthHandler.Logout)
		}

		// Reader routes.
		readers := v1.Group("/readers")
		{
			readers.GET("", deps.ReaderHandler.GetAll)
			readers.POST("/monitoring", deps.ReaderHandler.StartMonitoring)
			readers.DELETE("/monitoring", deps.ReaderHandler.StopMonitoring)
			readers.POST("/connect", deps.ReaderHandler.Connect)
			readers.POST("/pairing", deps.ReaderHandler.StartPairing)
			readers.DELETE("/pairing", deps.ReaderHandler.StopPairing)
			readers.DELETE("/:serial", deps.ReaderHandler.Forget)
		}

		// Donation routes.
		donations := v1.Group("/donations")
		{
			donations.POST("", middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger), deps.DonationHandler.Create)
			donations.GET("", deps.DonationHandler.GetAll)
			donations.GET("/current", deps.DonationHandler.GetCurrent)
			donations.POST("/current/cancel", deps.DonationHandler.Cancel)
			donations.POST("/reset", deps.DonationHandler.Reset)
			donations.GET("/:id", deps.DonationHandler.Get)
			donations.POST("/:id/receipt", middleware.IdempotencyMiddleware(deps.IdempotencyStore, deps.Logger), deps.DonationHandler.SendReceipt)
		}

		v1.GET("/catalog", deps.CatalogHandler.GetAll)
		v1.GET("/events", deps.EventHandler.Stream)
	}

	return router
}
