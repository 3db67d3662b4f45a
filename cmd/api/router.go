package api

import (
	"net/http"

	authDelivery "crmsync-backend/internal/auth/delivery"
	authUsecase "crmsync-backend/internal/auth/usecase"
	mailboxDelivery "crmsync-backend/internal/mailbox/delivery"
	summaryDelivery "crmsync-backend/internal/summary/delivery"

	"github.com/gin-gonic/gin"
)

// EventStreamer serves the caller's server-sent event stream.
type EventStreamer interface {
	ServeHTTP(c *gin.Context, userID string)
}

// Handlers bundles everything the router mounts.
type Handlers struct {
	Tokens   authUsecase.TokenUsecase
	Events   EventStreamer
	Accounts *mailboxDelivery.AccountHandler
	Summary  *summaryDelivery.SummaryHandler
	Devices  *authDelivery.DeviceHandler
}

func SetupRoutes(r *gin.Engine, h Handlers) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		protected := api.Group("")
		protected.Use(authDelivery.AuthMiddleware(h.Tokens))

		protected.GET("/events", func(c *gin.Context) {
			h.Events.ServeHTTP(c, c.GetString("userID"))
		})

		accounts := protected.Group("/accounts")
		{
			accounts.POST("/:id/sync", h.Accounts.Sync)
			accounts.POST("/:id/send", h.Accounts.Send)
			accounts.POST("/:id/test", h.Accounts.Test)
			accounts.PUT("/:id/servers", h.Accounts.Servers)
		}
		protected.GET("/queue/stats", h.Accounts.QueueStats)

		summaries := protected.Group("/summaries")
		{
			summaries.POST("/submit", h.Summary.Submit)
			summaries.POST("/check", h.Summary.Check)
			summaries.GET("/:threadId", h.Summary.Get)
		}

		fcm := protected.Group("/fcm")
		{
			fcm.POST("/register", h.Devices.Register)
			fcm.DELETE("/:token", h.Devices.Unregister)
		}
	}
}
